package relay

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"

	"github.com/hvx/mmrelay/region"
)

// Serve drains the session until ctx is canceled. Each wakeup drains the
// whole pending batch: the handler computes a value for every request and
// Serve finishes them in batch order. A handler error fails the request's
// emulation but not the relay; the request is finished with a zero value so
// the faulting context is never left suspended.
func Serve(ctx context.Context, s *Session, h Handler) error {
	for {
		batch, err := s.Wait(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}

			return err
		}

		for _, req := range batch {
			value, err := h.Handle(req)
			if err != nil {
				slog.Error("mmio emulation failed",
					"cell", req.OriginCell, "cpu", req.OriginCPU,
					"addr", req.Address, "err", err)

				value = 0
			}

			res := region.Result{
				OriginCPU: req.OriginCPU,
				Value:     value,
				IsConfig:  req.IsConfig,
			}

			if err := s.Finish(res); err != nil {
				return err
			}
		}
	}
}

// NotifyOnSignal forwards deliveries of the given process signal to the
// session's wakeup until ctx is canceled. The kernel glue raises one fixed
// signal when requests are appended; deliveries arriving faster than the
// consumer drains coalesce, which Wait's batch semantics already absorb.
func NotifyOnSignal(ctx context.Context, s *Session, sig os.Signal) {
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, sig)

	go func() {
		defer signal.Stop(sigC)

		for {
			select {
			case <-sigC:
				s.Notify()

			case <-ctx.Done():
				return
			}
		}
	}()
}
