package call

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dWire/cmd/util"
	"github.com/ValentinKolb/dWire/rpc/client"
	"github.com/ValentinKolb/dWire/rpc/common"
	"github.com/ValentinKolb/dWire/rpc/serializer"
	"github.com/ValentinKolb/dWire/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// PerfCmd runs throughput benchmarks against the built-in services of a development server
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dWire servers",
		Long:    "Runs parallel benchmarks against the built-in services of a development server (see dwire serve) and prints the latency statistics of the wire.",
		Args:    cobra.NoArgs,
		PreRunE: processPerfConfig,
		RunE:    runPerf,
	}
	perfNumThreads       = 10
	perfLargeValueSizeKB = 100
	perfSleep            = time.Millisecond
	perfSkip             = make([]string, 0)
)

func init() {
	key := "skip"
	PerfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. echo,sleep)"))
	key = "threads"
	PerfCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines per CPU sending requests"))
	key = "large-value-size"
	PerfCmd.Flags().Int(key, 100, util.WrapString("How large the payload for the echo-large test should be (in KB)"))
	key = "sleep"
	PerfCmd.Flags().Duration(key, time.Millisecond, util.WrapString("Server side delay of the sleep test"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "metrics"
	PerfCmd.Flags().Bool(key, false, util.WrapString("Print the slot pool metrics in Prometheus format after the run"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfNumThreads = viper.GetInt("threads")
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfSleep = viper.GetDuration("sleep")
	perfSkip = strings.Split(viper.GetString("skip"), ",")
	return nil
}

// perfTest is one benchmark: a service and the payload sent to it
type perfTest struct {
	name      string
	serviceID uint32
	payload   []byte
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dWire servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	tests := []perfTest{
		{name: "ping", serviceID: server.ServicePing},
		{name: "echo", serviceID: server.ServiceEcho, payload: []byte("test")},
		{name: "echo-large", serviceID: server.ServiceEcho, payload: make([]byte, perfLargeValueSizeKB*1024)},
		{name: "sleep", serviceID: server.ServiceSleep, payload: []byte(perfSleep.String())},
	}

	results := make(map[string]testing.BenchmarkResult)
	for _, test := range tests {
		result := runTest(test)
		results[test.name] = result
		printResult(test.name, result)
	}

	fmt.Println()
	fmt.Printf("wire: %s\n", session.Stats())

	if viper.GetBool("metrics") {
		fmt.Println()
		session.Pool().WriteMetrics(os.Stdout)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// runTest benchmarks one service with parallel senders sharing the wire
func runTest(test perfTest) testing.BenchmarkResult {
	c := client.NewServiceClient(session, test.serviceID, serializer.NewRawCodec(), serializer.NewRawCodec()).
		WithTimeout(config.Timeout())

	return testing.Benchmark(func(b *testing.B) {
		if shouldSkip(test.name) {
			return
		}

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if _, err := c.Call(test.payload); err != nil {
					log.Printf("(%s) - request failed: %v\n", test.name, err)
				}
			}
		})
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoint", "Transport", "TimeoutSec", "SlotCapacity", "SlotPolicy",
		"Threads", "LargeValueSizeKB", "Sleep",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		skipped := "true"

		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			config.Transport.Endpoint,
			viper.GetString("transport"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.Channel.Capacity()),
			string(config.Channel.Policy),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			perfSleep.String(),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
