package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/helix-lab/helix/bookfeed/pkg/orderbook"
	"github.com/helix-lab/helix/bookfeed/pkg/replay"
)

func main() {
	inPath := flag.String("in", "data/replay/diffs.csv", "input CSV of recorded diffs")
	outPath := flag.String("out", "go_bookcheck.csv", "output CSV of sampled best levels")
	every := flag.Int("every", 100, "bookcheck stride")
	flag.Parse()

	if err := run(*inPath, *outPath, *every); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(inPath, outPath string, every int) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	writer := csv.NewWriter(out)
	if err := writer.Write(replay.CheckHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	checker := replay.NewChecker(every)
	checker.Sample = func(row int, top orderbook.TopOfBook) error {
		return writer.Write(replay.CheckRecord(row, top))
	}

	reader := replay.NewReader(in)
	for {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := checker.Apply(row); err != nil {
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	fmt.Printf("checked %d rows across %d tokens\n", checker.Rows(), checker.Store().Len())
	return nil
}
