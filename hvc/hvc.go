// Package hvc is the privileged-call boundary of the relay. The elevated
// side exposes exactly two operations: register the shared region once,
// and acknowledge that one result is ready. Everything else in the module
// treats a Gate as an opaque call-with-one-argument function.
package hvc

import "fmt"

// Op numbers a privileged operation. The numbering is part of the ABI.
type Op uint64

const (
	// OpRegisterRegion passes the shared region's address to the elevated
	// side, which stores it and begins forwarding trapped accesses into it.
	OpRegisterRegion Op = 9

	// OpFinishRequest tells the elevated side that the result slot is valid
	// and the context suspended on the result's origin CPU should resume.
	OpFinishRequest Op = 10
)

// Gate issues privileged calls. Call takes at most one 64-bit argument and
// returns the elevated side's 64-bit status code.
type Gate interface {
	Call(op Op, arg uint64) (uint64, error)
}

func (op Op) String() string {
	switch op {
	case OpRegisterRegion:
		return "register-region"

	case OpFinishRequest:
		return "finish-request"

	default:
		return fmt.Sprintf("Op(%d)", uint64(op))
	}
}
