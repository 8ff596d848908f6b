package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/hvx/mmrelay/diag"
	"github.com/hvx/mmrelay/hvc"
	"github.com/hvx/mmrelay/region"
	"github.com/hvx/mmrelay/relay"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

func main() {

	var (
		devPath  = flag.String("dev", "/dev/hvisor", "path to the relay device node")
		cfgPath  = flag.String("config", "windows.yaml", "load the MMIO window table from file")
		diagAddr = flag.String("diag", "", "serve state dumps on tcp:host:port or vsock:port")
	)

	flag.Parse()

	if term.IsTerminal(int(os.Stderr.Fd())) {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	} else {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}

	mux, err := loadWindows(*cfgPath)
	if err != nil {
		panic(err)
	}

	dev, err := hvc.OpenDevice(*devPath, region.MapSize)
	if err != nil {
		panic(err)
	}

	defer dev.Close()

	s, err := relay.New(relay.Config{
		Mem:  dev.Mem(),
		Gate: dev,
	})

	if err != nil {
		panic(err)
	}

	if err := s.Init(); err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	relay.NotifyOnSignal(ctx, s, hvc.Signal)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return relay.Serve(ctx, s, mux)
	})

	if *diagAddr != "" {
		l, err := diag.Listen(*diagAddr)
		if err != nil {
			panic(err)
		}

		g.Go(func() error {
			return diag.Serve(l, s)
		})

		g.Go(func() error {
			<-ctx.Done()
			return l.Close()
		})

		slog.Info("diag listener up", "addr", l.Addr().String())
	}

	slog.Info("relay up", "dev", *devPath, "config", *cfgPath)

	if err := g.Wait(); err != nil {
		panic(err)
	}
}
