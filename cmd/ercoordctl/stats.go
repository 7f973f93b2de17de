package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/montanaflynn/stats"
	"github.com/spf13/cobra"
)

// readDurations reads one floating-point seconds value per line;
// blank lines are skipped.
func readDurations(path string) (stats.Float64Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("stats: open %s: %w", path, err)
	}
	defer f.Close()

	var out stats.Float64Data
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("stats: parse %q: %w", line, err)
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stats: scan %s: %w", path, err)
	}
	return out, nil
}

func newStatsCmd(gf *globalFlags) *cobra.Command {
	var logPath string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize a log of dispatch durations",
		Long: "stats reads a file of one dispatch duration (seconds) per " +
			"line and reports mean, median, standard deviation, and the " +
			"p50/p95/p99 latencies, for judging whether a set's rebuild " +
			"cadence keeps up with its failure rate.",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readDurations(logPath)
			if err != nil {
				return err
			}
			if len(data) == 0 {
				return fmt.Errorf("stats: %s has no samples", logPath)
			}

			mean, err := data.Mean()
			if err != nil {
				return fmt.Errorf("stats: mean: %w", err)
			}
			median, err := data.Median()
			if err != nil {
				return fmt.Errorf("stats: median: %w", err)
			}
			stddev, err := data.StandardDeviation()
			if err != nil {
				return fmt.Errorf("stats: stddev: %w", err)
			}
			p50, _ := data.Percentile(50)
			p95, _ := data.Percentile(95)
			p99, _ := data.Percentile(99)

			fmt.Printf("samples: %d\n", len(data))
			fmt.Printf("mean:    %.4fs\n", mean)
			fmt.Printf("median:  %.4fs\n", median)
			fmt.Printf("stddev:  %.4fs\n", stddev)
			fmt.Printf("p50:     %.4fs\n", p50)
			fmt.Printf("p95:     %.4fs\n", p95)
			fmt.Printf("p99:     %.4fs\n", p99)
			return nil
		},
	}
	cmd.Flags().StringVarP(&logPath, "log", "l", "", "path to a dispatch-duration log")
	_ = cmd.MarkFlagRequired("log")
	return cmd
}
