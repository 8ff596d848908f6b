// Package relay bridges the elevated side's request queue with a userspace
// consumer. A Session owns one shared region for its whole lifetime: it
// registers the region with the elevated side, wakes the consumer when
// requests arrive, and routes each result back through the completion call.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/hvx/mmrelay/hvc"
	"github.com/hvx/mmrelay/region"
)

// Config describes a new Session.
type Config struct {

	// Mem is the mapped shared region window. It must hold at least
	// region.Size bytes.
	Mem []byte

	// Gate issues the session's privileged calls.
	Gate hvc.Gate
}

type Session struct {
	mem  []byte
	reg  *region.Region
	gate hvc.Gate

	// wakeC is the coalescing wakeup: repeated notifications collapse into
	// one unconsumed token, so Wait must always drain the whole batch.
	wakeC chan struct{}

	mu   sync.Mutex
	init bool
}

var (
	ErrConfig      = errors.New("relay: invalid config")
	ErrInit        = errors.New("relay: already initialized")
	ErrNotInit     = errors.New("relay: not initialized")
	ErrRegister    = errors.New("relay: region registration failed")
	ErrComplete    = errors.New("relay: completion call failed")
	ErrCorrelation = errors.New("relay: no pending request for origin CPU")
)

// New creates a Session over a mapped region. The session is not visible to
// the elevated side until Init is called.
func New(cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	reg, err := region.Map(cfg.Mem)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	s := &Session{
		mem:   cfg.Mem,
		reg:   reg,
		gate:  cfg.Gate,
		wakeC: make(chan struct{}, 1),
	}

	return s, nil
}

// Init registers the shared region's address with the elevated side. It must
// be called exactly once, before Wait or Finish. A second call is rejected:
// the elevated side holds a single registration per session.
func (s *Session) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.init {
		return ErrInit
	}

	addr := uint64(uintptr(unsafe.Pointer(&s.mem[0])))
	if _, err := s.gate.Call(hvc.OpRegisterRegion, addr); err != nil {
		return fmt.Errorf("%w: %w", ErrRegister, err)
	}

	s.init = true

	return nil
}

// Wait blocks until at least one request is pending, then returns a copy of
// the whole pending batch. The batch is a snapshot: requests stay pending
// until each is retired by Finish. If a request is already pending, Wait
// returns without blocking. The wakeup is edge-triggered, so a single token
// may stand for several appended requests.
func (s *Session) Wait(ctx context.Context) ([]region.Request, error) {
	s.mu.Lock()
	if !s.init {
		s.mu.Unlock()
		return nil, ErrNotInit
	}
	s.mu.Unlock()

	for {
		batch, err := s.snapshot()
		if err != nil {
			return nil, err
		}

		if len(batch) > 0 {
			return batch, nil
		}

		select {
		case <-s.wakeC:

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Finish publishes a result for the pending request whose origin CPU matches
// res, issues the completion call, and retires the request. It is rejected
// when no pending request matches: a result must answer exactly one request.
// The session lock is held across publish and completion, so at most one
// result is in flight at a time.
func (s *Session) Finish(res region.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.init {
		return ErrNotInit
	}

	batch, err := s.reg.Snapshot()
	if err != nil {
		return err
	}

	found := false
	for _, req := range batch {
		if req.OriginCPU == res.OriginCPU {
			found = true
			break
		}
	}

	if !found {
		return fmt.Errorf("%w: cpu %d", ErrCorrelation, res.OriginCPU)
	}

	s.reg.PublishResult(res)

	if _, err := s.gate.Call(hvc.OpFinishRequest, 0); err != nil {
		return fmt.Errorf("%w: %w", ErrComplete, err)
	}

	if _, err := s.reg.Retire(res.OriginCPU); err != nil {
		return err
	}

	return nil
}

// Notify wakes a consumer blocked in Wait. It never blocks: notifications
// arriving while one is already unconsumed coalesce.
func (s *Session) Notify() {
	select {
	case s.wakeC <- struct{}{}:
	default:
	}
}

// Pending returns the number of requests currently awaiting a result.
func (s *Session) Pending() (int, error) {
	batch, err := s.snapshot()
	if err != nil {
		return 0, err
	}

	return len(batch), nil
}

// State is a point-in-time view of a session, for inspection tooling.
type State struct {
	Initialized bool
	Pending     []region.Request
	Result      region.Result
}

// State snapshots the session.
func (s *Session) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, err := s.reg.Snapshot()
	if err != nil {
		return State{}, err
	}

	return State{
		Initialized: s.init,
		Pending:     batch,
		Result:      s.reg.ReadResult(),
	}, nil
}

func (s *Session) snapshot() ([]region.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.reg.Snapshot()
}

func (cfg Config) validate() error {
	if len(cfg.Mem) < region.Size {
		return fmt.Errorf("mapping is too small: %d < %d", len(cfg.Mem), region.Size)
	}

	if cfg.Gate == nil {
		return errors.New("gate is not set")
	}

	return nil
}
