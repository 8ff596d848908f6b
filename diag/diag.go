// Package diag serves a read-only dump of relay state to operators. The
// relay process usually runs inside the root cell, so the dump is reachable
// both over plain TCP and over a vsock port for inspection from the host.
package diag

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/mdlayher/vsock"

	"github.com/hvx/mmrelay/relay"
)

var ErrListenAddr = errors.New("diag: bad listen address")

// Listen opens a listener for the given address. Addresses take the form
// "tcp:host:port" or "vsock:port".
func Listen(addr string) (net.Listener, error) {
	scheme, rest, ok := strings.Cut(addr, ":")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrListenAddr, addr)
	}

	switch scheme {
	case "tcp":
		return net.Listen("tcp", rest)

	case "vsock":
		port, err := strconv.ParseUint(rest, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrListenAddr, addr, err)
		}

		return vsock.Listen(uint32(port), nil)

	default:
		return nil, fmt.Errorf("%w: %q", ErrListenAddr, addr)
	}
}

// Serve writes one state dump to each accepted connection and closes it.
// It returns when the listener is closed.
func Serve(l net.Listener, s *relay.Session) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			return err
		}

		go func() {
			defer conn.Close()

			if err := Dump(conn, s); err != nil {
				slog.Error("diag dump failed", "remote", conn.RemoteAddr(), "err", err)
			}
		}()
	}
}

// Dump writes a line-oriented state dump to w.
func Dump(w io.Writer, s *relay.Session) error {
	st, err := s.State()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "initialized: %v\n", st.Initialized)
	fmt.Fprintf(w, "pending: %d\n", len(st.Pending))

	for i, req := range st.Pending {
		fmt.Fprintf(w, "req[%d]: cell=%d cpu=%d addr=%#x size=%d value=%#x write=%d cfg=%d\n",
			i, req.OriginCell, req.OriginCPU, req.Address, req.Size,
			req.Value, req.IsWrite, req.IsConfig)
	}

	fmt.Fprintf(w, "result: cpu=%d value=%#x cfg=%d\n",
		st.Result.OriginCPU, st.Result.Value, st.Result.IsConfig)

	return nil
}
