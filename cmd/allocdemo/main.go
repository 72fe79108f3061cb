package main

import (
	"flag"
	"log"
	"os"

	"github.com/afiff2/memory-pool/memalloc"
)

type cmdArgs struct {
	fs      *flag.FlagSet
	Ops     uint
	MinSize uint
	MaxSize uint
}

func newCmdArgs() *cmdArgs {
	ca := &cmdArgs{
		fs: flag.NewFlagSet("allocdemo", flag.ContinueOnError),
	}
	ca.fs.UintVar(&ca.Ops, "n", 10000, "number of allocate/deallocate pairs to run")
	ca.fs.UintVar(&ca.MinSize, "min", 16, "smallest request size in bytes")
	ca.fs.UintVar(&ca.MaxSize, "max", 4096, "largest request size in bytes")
	return ca
}

func (ca *cmdArgs) parse(arguments []string) error {
	return ca.fs.Parse(arguments)
}

func main() {
	logger := log.New(os.Stderr, "allocdemo: ", log.LstdFlags)

	ca := newCmdArgs()
	if err := ca.parse(os.Args[1:]); err != nil {
		logger.Fatal(err)
	}
	if ca.MinSize == 0 || ca.MaxSize < ca.MinSize {
		logger.Fatalf("invalid size range [%d, %d]", ca.MinSize, ca.MaxSize)
	}

	a := memalloc.New()
	defer a.Close()

	span := ca.MaxSize - ca.MinSize + 1
	for i := uint(0); i < ca.Ops; i++ {
		size := int(ca.MinSize + i%span)
		ptr := a.Allocate(size)
		if ptr == 0 {
			logger.Fatalf("Allocate(%d) failed at op %d", size, i)
		}
		a.Deallocate(ptr, size)
	}

	stats := a.Stats()
	logger.Printf("%d ops done; resident: mapped=%d free=%d runs=%d",
		ca.Ops, stats.MappedBytes, stats.FreeBytes, stats.RunCount)
}
