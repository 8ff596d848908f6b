package hvc_test

import (
	"testing"

	"github.com/hvx/mmrelay/hvc"
)

func TestOpString(t *testing.T) {
	for op, want := range map[hvc.Op]string{
		hvc.OpRegisterRegion: "register-region",
		hvc.OpFinishRequest:  "finish-request",
		hvc.Op(42):           "Op(42)",
	} {
		if got := op.String(); got != want {
			t.Errorf("%d: %q != %q", uint64(op), got, want)
		}
	}
}

func TestOpNumbers(t *testing.T) {
	// the numbering is ABI: the elevated side dispatches on it
	if hvc.OpRegisterRegion != 9 {
		t.Errorf("register-region is %d, not 9", hvc.OpRegisterRegion)
	}

	if hvc.OpFinishRequest != 10 {
		t.Errorf("finish-request is %d, not 10", hvc.OpFinishRequest)
	}
}
