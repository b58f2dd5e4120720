// Idmapbench is a benchmarking tool for measuring encodeidmap's put,
// prepare, and get throughput: generate synthetic identifiers, run the
// full lifecycle, and print a summary table.
//
// Usage:
//
//	go run ./cmd/idmapbench -ids 10000000 -groups 4 -workers 8 -encoder hash
//
// Flags:
//
//	-ids       Number of identifiers to put (default: 1,000,000)
//	-groups    Number of distinct groups to spread ids across (default: 1)
//	-workers   Number of parallel workers prepare uses (default: cores-1)
//	-encoder   Identifier encoding: ascii, hash, or long (default: hash)
//	-mmap      Back the data/group caches with memory-mapped temp files
package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	encodeidmap "github.com/ruizhang0519/encodeidmap"
)

func main() {
	idsFlag := flag.Int("ids", 1_000_000, "number of identifiers to put")
	groupsFlag := flag.Int("groups", 1, "number of distinct groups")
	workersFlag := flag.Int("workers", runtime.NumCPU()-1, "number of parallel workers for prepare")
	encoderFlag := flag.String("encoder", "hash", "identifier encoding: ascii, hash, or long")
	mmapFlag := flag.Bool("mmap", false, "back the data/group caches with memory-mapped temp files")
	flag.Parse()

	numIDs := *idsFlag
	numGroups := *groupsFlag
	if numGroups < 1 {
		numGroups = 1
	}
	workers := *workersFlag
	if workers < 1 {
		workers = 1
	}

	var encoder encodeidmap.Encoder
	switch *encoderFlag {
	case "ascii":
		encoder = encodeidmap.ASCIIEncoder{}
	case "hash":
		encoder = encodeidmap.HashEncoder{}
	case "long":
		encoder = encodeidmap.LongEncoder{}
	default:
		fmt.Printf("unknown encoder: %s (use ascii, hash, or long)\n", *encoderFlag)
		os.Exit(1)
	}

	fmt.Println("Generating identifiers...")
	ids := make([]any, numIDs)
	for i := range ids {
		b := make([]byte, 16)
		_, _ = rand.Read(b) // crypto/rand.Read error is a fatal system issue; ignore for benchmark
		if *encoderFlag == "long" {
			// LongEncoder only accepts integer ids.
			ids[i] = binary.LittleEndian.Uint64(b)
		} else {
			ids[i] = b
		}
	}

	opts := []encodeidmap.Option{
		encodeidmap.WithWorkers(workers),
		encodeidmap.WithGroupCapacity(numGroups),
	}
	if *mmapFlag {
		f, err := encodeidmap.NewMmapArrayFactory("")
		if err != nil {
			fmt.Printf("mmap array factory: %v\n", err)
			os.Exit(1)
		}
		opts = append(opts, encodeidmap.WithArrayFactory(f))
	}

	mapper := encodeidmap.NewMapper(encoder, opts...)
	defer func() { _ = mapper.Close() }()

	fmt.Println("Putting identifiers...")
	putStart := time.Now()
	for i, id := range ids {
		group := encodeidmap.Group{ID: uint16(i % numGroups), Name: fmt.Sprintf("group-%d", i%numGroups)}
		if err := mapper.Put(id, uint64(i), group); err != nil {
			fmt.Printf("put failed at id %d: %v\n", i, err)
			os.Exit(1)
		}
	}
	putDuration := time.Since(putStart)

	fmt.Println("Preparing...")
	lookup := func(internalID uint64) any { return ids[internalID] }
	dupes := &encodeidmap.DuplicateCounter{}
	progress := encodeidmap.NewStagePrinter(os.Stdout)

	prepareStart := time.Now()
	if err := mapper.Prepare(context.Background(), lookup, dupes, progress); err != nil {
		fmt.Printf("prepare failed: %v\n", err)
		os.Exit(1)
	}
	prepareDuration := time.Since(prepareStart)

	fmt.Println("Benchmarking gets...")
	getStart := time.Now()
	hits := 0
	for i, id := range ids {
		group := encodeidmap.Group{ID: uint16(i % numGroups)}
		if _, ok := mapper.Get(id, group); ok {
			hits++
		}
	}
	getDuration := time.Since(getStart)

	var stats memStatsCollector
	mapper.AcceptMemoryStats(&stats)

	fmt.Printf("\n")
	fmt.Printf("identifiers:        %d\n", numIDs)
	fmt.Printf("groups:             %d\n", numGroups)
	fmt.Printf("workers:            %d\n", workers)
	fmt.Printf("encoder:            %s\n", *encoderFlag)
	fmt.Printf("duplicates found:   %d\n", dupes.Count)
	fmt.Printf("put duration:       %s (%.2f M/sec)\n", putDuration, float64(numIDs)/putDuration.Seconds()/1_000_000)
	fmt.Printf("prepare duration:   %s (%.2f M/sec)\n", prepareDuration, float64(numIDs)/prepareDuration.Seconds()/1_000_000)
	fmt.Printf("get duration:       %s (%d/%d hits, %.2f M/sec)\n", getDuration, hits, numIDs, float64(numIDs)/getDuration.Seconds()/1_000_000)
	fmt.Printf("estimated bytes:    %d (%.2f bytes/node)\n", mapper.CalculateMemoryUsage(uint64(numIDs)), float64(mapper.CalculateMemoryUsage(uint64(numIDs)))/float64(numIDs))
	fmt.Printf("live bytes:         %d\n", stats.liveTotal)
}

type memStatsCollector struct {
	liveTotal uint64
}

func (c *memStatsCollector) VisitMemoryStats(name string, liveBytes, reservedBytes uint64) {
	fmt.Printf("  %-22s live=%d reserved=%d\n", name, liveBytes, reservedBytes)
	c.liveTotal += liveBytes
}
