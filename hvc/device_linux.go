//go:build linux

package hvc

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl request codes understood by the in-kernel relay glue, which turns
// them into the matching privileged trap. Encoded with _IO(1, nr).
const (
	iocRegisterRegion = 0x100 // _IO(1, 0)
	iocFinishRequest  = 0x102 // _IO(1, 2)
)

// Signal is the fixed signal number the kernel glue raises at the relay
// process when new requests are appended to the shared region.
const Signal = unix.SIGUSR1 // signal 10

var (
	ErrOpenDevice = errors.New("hvc: open device failed")
	ErrMapRegion  = errors.New("hvc: map region failed")
	ErrBadOp      = errors.New("hvc: unknown op")
)

// Device is a Gate backed by the relay character device. Ops are forwarded
// as ioctls; the kernel side issues the actual trap instruction.
type Device struct {
	f   *os.File
	mem []byte
}

// OpenDevice opens the relay device node and maps the shared region window.
func OpenDevice(path string, mapSize int) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenDevice, err)
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, mapSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)

	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %w", ErrMapRegion, err)
	}

	return &Device{f: f, mem: mem}, nil
}

// Mem returns the mapped shared region window.
func (d *Device) Mem() []byte {
	return d.mem
}

// Addr returns the address of the mapped window, suitable as the argument
// to OpRegisterRegion.
func (d *Device) Addr() uint64 {
	return uint64(uintptr(unsafe.Pointer(&d.mem[0])))
}

func (d *Device) Call(op Op, arg uint64) (uint64, error) {
	var req uintptr

	switch op {
	case OpRegisterRegion:
		req = iocRegisterRegion

	case OpFinishRequest:
		req = iocFinishRequest

	default:
		return 0, fmt.Errorf("%w: %d", ErrBadOp, uint64(op))
	}

	r, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return 0, errno
	}

	return uint64(r), nil
}

func (d *Device) Close() error {
	if d.mem != nil {
		unix.Munmap(d.mem)
		d.mem = nil
	}

	return d.f.Close()
}
