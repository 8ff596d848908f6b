// region-dump maps the shared region of a running relay device and prints
// its raw state: the occupancy count, each request slot, and the result slot.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/hvx/mmrelay/hvc"
	"github.com/hvx/mmrelay/region"
)

func main() {
	devPath := flag.String("dev", "/dev/hvisor", "path to the relay device node")
	flag.Parse()

	dev, err := hvc.OpenDevice(*devPath, region.MapSize)
	if err != nil {
		panic(err)
	}

	defer dev.Close()

	r, err := region.Map(dev.Mem())
	if err != nil {
		panic(err)
	}

	batch, err := r.Snapshot()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("pending: %d/%d\n", len(batch), region.Capacity)

	for i, req := range batch {
		fmt.Printf("req[%d]: cell=%d cpu=%d addr=%#x size=%d value=%#x write=%d cfg=%d\n",
			i, req.OriginCell, req.OriginCPU, req.Address, req.Size,
			req.Value, req.IsWrite, req.IsConfig)
	}

	res := r.ReadResult()
	fmt.Printf("result: cpu=%d value=%#x cfg=%d\n", res.OriginCPU, res.Value, res.IsConfig)
}
