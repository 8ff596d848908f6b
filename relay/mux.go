package relay

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hvx/mmrelay/region"
)

// A Handler emulates the device behind one MMIO window. Handle is called
// once per trapped access. For a read, the returned value is routed back to
// the faulting context; for a write, the value is ignored by the elevated
// side and only the side effect matters.
type Handler interface {
	Handle(req region.Request) (value uint64, err error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(req region.Request) (uint64, error)

func (f HandlerFunc) Handle(req region.Request) (uint64, error) {
	return f(req)
}

// Window binds a handler to an address range in one cell's address space.
type Window struct {
	Cell    uint32
	Addr    uint64
	Size    uint64
	Handler Handler
}

// Mux routes requests to windows by origin cell and address range,
// first match wins.
type Mux struct {
	windows []Window
}

var (
	ErrWindow  = errors.New("relay: invalid window")
	ErrOverlap = errors.New("relay: windows overlap")
	ErrNoMatch = errors.New("relay: no window matches request")
)

// NewMux builds a mux from the given window table. Windows in the same cell
// must not overlap.
func NewMux(windows []Window) (*Mux, error) {
	for i, w := range windows {
		if w.Size == 0 || w.Handler == nil {
			return nil, fmt.Errorf("%w: window %d", ErrWindow, i)
		}

		for _, prev := range windows[:i] {
			if w.Cell != prev.Cell {
				continue
			}

			if w.Addr < prev.Addr+prev.Size && prev.Addr < w.Addr+w.Size {
				return nil, fmt.Errorf("%w: %#x+%#x and %#x+%#x in cell %d",
					ErrOverlap, prev.Addr, prev.Size, w.Addr, w.Size, w.Cell)
			}
		}
	}

	return &Mux{windows: windows}, nil
}

// Handle routes req to the window covering its address. The request passed
// down has its address rebased to the start of the window.
func (m *Mux) Handle(req region.Request) (uint64, error) {
	for _, w := range m.windows {
		if req.OriginCell != w.Cell {
			continue
		}

		if req.Address >= w.Addr && req.Address < w.Addr+w.Size {
			req.Address -= w.Addr
			return w.Handler.Handle(req)
		}
	}

	return 0, fmt.Errorf("%w: cell %d addr %#x", ErrNoMatch, req.OriginCell, req.Address)
}

// MemWindow is a RAM-backed scratch window: reads load and writes store
// little-endian values of 1, 2, 4 or 8 bytes at the access offset.
type MemWindow struct {
	b []byte
}

var le = binary.LittleEndian

// NewMemWindow returns a zero-filled scratch window of the given size.
func NewMemWindow(size int) *MemWindow {
	return &MemWindow{b: make([]byte, size)}
}

func (w *MemWindow) Handle(req region.Request) (uint64, error) {
	if req.Address+req.Size > uint64(len(w.b)) {
		return 0, fmt.Errorf("relay: access %#x+%d is out of bounds", req.Address, req.Size)
	}

	p := w.b[req.Address:]

	switch req.Size {
	case 1:
		if req.IsWrite != 0 {
			p[0] = byte(req.Value)
			return 0, nil
		}

		return uint64(p[0]), nil

	case 2:
		if req.IsWrite != 0 {
			le.PutUint16(p, uint16(req.Value))
			return 0, nil
		}

		return uint64(le.Uint16(p)), nil

	case 4:
		if req.IsWrite != 0 {
			le.PutUint32(p, uint32(req.Value))
			return 0, nil
		}

		return uint64(le.Uint32(p)), nil

	case 8:
		if req.IsWrite != 0 {
			le.PutUint64(p, req.Value)
			return 0, nil
		}

		return le.Uint64(p), nil

	default:
		return 0, fmt.Errorf("relay: bad access size %d", req.Size)
	}
}

// Discard ignores writes and reads as zero.
var Discard = HandlerFunc(func(region.Request) (uint64, error) {
	return 0, nil
})
