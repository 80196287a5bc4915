// Command waldump prints the records of a write-ahead-log file.
//
// Usage:
//
//	waldump [-number N] <file.log>
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/khr0407/rocksdb/internal/batch"
	"github.com/khr0407/rocksdb/internal/wal"
)

type stderrReporter struct{}

func (stderrReporter) Corruption(bytes int, err error) {
	fmt.Fprintf(os.Stderr, "corruption: %d bytes dropped: %v\n", bytes, err)
}

func main() {
	number := flag.Uint64("number", 0, "expected log number for recyclable records (default: parsed from the file name)")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: waldump [-number N] <file.log>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	logNumber := *number
	if logNumber == 0 {
		base := path
		if i := strings.LastIndexByte(base, '/'); i >= 0 {
			base = base[i+1:]
		}
		if n, err := strconv.ParseUint(strings.TrimSuffix(base, ".log"), 10, 64); err == nil {
			logNumber = n
		}
	}

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()

	reader := wal.NewReader(f, stderrReporter{}, logNumber)
	for {
		record, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) || errors.Is(err, wal.ErrOldRecord) {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "read: %v\n", err)
			continue
		}
		wb, err := batch.NewFromData(record)
		if err != nil {
			fmt.Printf("record: %d bytes (not a write batch: %v)\n", len(record), err)
			continue
		}
		fmt.Printf("batch: seq %d count %d size %d\n", wb.Sequence(), wb.Count(), wb.Size())
		_ = wb.Iterate(&dumpHandler{})
	}
}

type dumpHandler struct{}

func (*dumpHandler) PutCF(cf uint32, key, value []byte) error {
	fmt.Printf("  put cf=%d %q = %q\n", cf, key, value)
	return nil
}

func (*dumpHandler) DeleteCF(cf uint32, key []byte) error {
	fmt.Printf("  delete cf=%d %q\n", cf, key)
	return nil
}

func (*dumpHandler) SingleDeleteCF(cf uint32, key []byte) error {
	fmt.Printf("  single-delete cf=%d %q\n", cf, key)
	return nil
}

func (*dumpHandler) MergeCF(cf uint32, key, value []byte) error {
	fmt.Printf("  merge cf=%d %q = %q\n", cf, key, value)
	return nil
}

func (*dumpHandler) DeleteRangeCF(cf uint32, start, end []byte) error {
	fmt.Printf("  delete-range cf=%d [%q, %q)\n", cf, start, end)
	return nil
}

func (*dumpHandler) LogData(blob []byte) {
	fmt.Printf("  log-data %d bytes\n", len(blob))
}
