// ohdump prints the contents of an object header stored in a binary
// container file.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/robert-malhotra/go-ohdr/internal/alloc"
	"github.com/robert-malhotra/go-ohdr/internal/cache"
	"github.com/robert-malhotra/go-ohdr/ohdr"
)

var (
	addrFlag     string
	validateFlag bool
	statsFlag    bool
	verboseFlag  bool
)

func main() {
	root := &cobra.Command{
		Use:           "ohdump <file>",
		Short:         "dump an object header from a container file",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0])
		},
	}
	root.Flags().StringVar(&addrFlag, "addr", "0", "header address (decimal or 0x-prefixed hex)")
	root.Flags().BoolVar(&validateFlag, "validate", false, "check chunk layout consistency")
	root.Flags().BoolVar(&statsFlag, "stats", false, "print message statistics")
	root.Flags().BoolVar(&verboseFlag, "verbose", false, "log decode details")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ohdump:", err)
		os.Exit(1)
	}
}

func run(path string) error {
	addr, err := strconv.ParseUint(addrFlag, 0, 64)
	if err != nil {
		return fmt.Errorf("bad --addr %q: %w", addrFlag, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}

	log := zap.NewNop()
	if verboseFlag {
		if log, err = zap.NewDevelopment(); err != nil {
			return err
		}
		defer log.Sync()
	}

	store := cache.NewReaderStore(f, fi.Size())
	c := cache.NewMemory(store, log)
	h, err := ohdr.Decode(c, alloc.New(uint64(fi.Size())), addr, ohdr.Config{Logger: log})
	if err != nil {
		return err
	}

	h.Dump(os.Stdout)
	if statsFlag {
		s := h.Stats()
		fmt.Printf("stats: %d links, %d attributes, %d merged nulls, %d normalized\n",
			s.LinkMessages, s.AttrMessages, s.MergedNulls, s.DecodeDirtied)
	}
	if validateFlag {
		if err := h.Validate(); err != nil {
			return err
		}
		fmt.Println("layout ok")
	}
	return nil
}
