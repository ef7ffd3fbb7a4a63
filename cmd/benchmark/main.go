// Command benchmark drives calicodb through the common/benchmark
// harness, the same workload generator and latency histogram shared by
// every example engine this repository's teacher benchmarked.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/andy-byers/calicodb"
	"github.com/andy-byers/calicodb/common"
	"github.com/andy-byers/calicodb/common/benchmark"
)

func main() {
	quick := flag.Bool("quick", false, "Run quick benchmarks (shorter duration)")
	workload := flag.String("workload", "all", "Workload to run (all, write-heavy-uniform, read-heavy-zipfian, balanced-uniform, write-only-sequential)")
	duration := flag.Duration("duration", 60*time.Second, "Duration for each benchmark")
	concurrency := flag.Int("concurrency", 8, "Number of concurrent workers")
	pageSize := flag.Int("page-size", 0, "Database page size (default 16384)")
	comparePageSizes := flag.Bool("compare-page-sizes", false, "Compare a 4096 vs 16384 byte page size instead of running a single benchmark")
	flag.Parse()

	fmt.Println("calicodb Benchmark Suite")
	fmt.Println("========================")
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Concurrency: %d\n\n", *concurrency)

	var configs []benchmark.Config
	if *quick {
		configs = benchmark.QuickWorkloads()
	} else {
		configs = benchmark.StandardWorkloads()
	}

	if flag.Lookup("duration").Value.String() != flag.Lookup("duration").DefValue {
		for i := range configs {
			configs[i].Duration = *duration
		}
	}
	if flag.Lookup("concurrency").Value.String() != flag.Lookup("concurrency").DefValue {
		for i := range configs {
			configs[i].Concurrency = *concurrency
		}
	}

	if *workload != "all" {
		filtered := make([]benchmark.Config, 0)
		for _, config := range configs {
			if config.Name == *workload {
				filtered = append(filtered, config)
			}
		}
		if len(filtered) == 0 {
			fmt.Printf("Unknown workload: %s\n", *workload)
			os.Exit(1)
		}
		configs = filtered
	}

	if *comparePageSizes {
		runPageSizeComparison(configs)
		return
	}

	dir, err := os.MkdirTemp("", "calicodb-benchmark-*")
	if err != nil {
		fmt.Printf("Failed to create temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	opts := calicodb.Options{}
	if *pageSize != 0 {
		opts.PageSize = *pageSize
	}
	db, st := calicodb.Open(dir, opts)
	if !st.IsOk() {
		fmt.Printf("Failed to open database: %v\n", st)
		os.Exit(1)
	}
	engine := calicodb.NewEngine(db)
	defer engine.Close()

	results := make([]*benchmark.Result, 0)
	for _, config := range configs {
		fmt.Printf("\n=== Running: %s ===\n", config.Name)

		bench := benchmark.NewBenchmark(engine, config)
		result, err := bench.Run()
		if err != nil {
			fmt.Printf("Benchmark failed: %v\n", err)
			continue
		}
		results = append(results, result)
		printResult(result)
	}
	printSummaryTable(results)
}

// runPageSizeComparison opens two databases differing only in page
// size and runs the same workloads against both through
// benchmark.ComparisonSuite, reusing its side-by-side table printer
// instead of comparing across unrelated storage engines.
func runPageSizeComparison(configs []benchmark.Config) {
	open := func(pageSize int) *calicodb.Engine {
		dir, err := os.MkdirTemp("", fmt.Sprintf("calicodb-benchmark-%d-*", pageSize))
		if err != nil {
			fmt.Printf("Failed to create temp dir: %v\n", err)
			os.Exit(1)
		}
		db, st := calicodb.Open(dir, calicodb.Options{PageSize: pageSize})
		if !st.IsOk() {
			fmt.Printf("Failed to open database: %v\n", st)
			os.Exit(1)
		}
		return calicodb.NewEngine(db)
	}

	small := open(4096)
	defer small.Close()
	large := open(16384)
	defer large.Close()

	suite := benchmark.NewComparisonSuite()
	suite.SetWorkloads(configs)
	results := suite.RunComparison(map[string]common.StorageEngine{
		"page-4096":  small,
		"page-16384": large,
	})

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("PAGE SIZE COMPARISON")
	fmt.Println(strings.Repeat("=", 80))
	suite.PrintComparisonTable(results)
}

func printResult(r *benchmark.Result) {
	fmt.Printf("\n--- Results ---\n")
	fmt.Printf("Throughput: %.0f ops/sec\n", r.OpsPerSec)
	fmt.Printf("Total Ops: %d (writes: %d, reads: %d)\n", r.TotalOps, r.WriteOps, r.ReadOps)

	if r.WriteOps > 0 {
		fmt.Printf("\nWrite Latency:\n")
		fmt.Printf("  P50:  %8s\n", r.WriteLatency.P50)
		fmt.Printf("  P95:  %8s\n", r.WriteLatency.P95)
		fmt.Printf("  P99:  %8s\n", r.WriteLatency.P99)
		fmt.Printf("  P999: %8s\n", r.WriteLatency.P999)
	}
	if r.ReadOps > 0 {
		fmt.Printf("\nRead Latency:\n")
		fmt.Printf("  P50:  %8s\n", r.ReadLatency.P50)
		fmt.Printf("  P95:  %8s\n", r.ReadLatency.P95)
		fmt.Printf("  P99:  %8s\n", r.ReadLatency.P99)
		fmt.Printf("  P999: %8s\n", r.ReadLatency.P999)
	}
	fmt.Printf("\nDisk Usage: %.1f MB\n", r.TotalDiskMB)
}

func printSummaryTable(results []*benchmark.Result) {
	if len(results) == 0 {
		return
	}
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BENCHMARK SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("\n%-25s %12s %12s %12s\n", "Workload", "Throughput", "Write P99", "Read P99")
	fmt.Println(strings.Repeat("-", 80))
	for _, r := range results {
		writeP99 := "N/A"
		if r.WriteOps > 0 {
			writeP99 = r.WriteLatency.P99.String()
		}
		readP99 := "N/A"
		if r.ReadOps > 0 {
			readP99 = r.ReadLatency.P99.String()
		}
		fmt.Printf("%-25s %10.0f/s %12s %12s\n", r.Config.Name, r.OpsPerSec, writeP99, readP99)
	}
}
