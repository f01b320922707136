package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
)

// LoadResult accumulates the outcome of a load-test run.
type LoadResult struct {
	RunID     string
	Requests  int
	Succeeded int
	Failed    int
	Elapsed   time.Duration
	Latencies []time.Duration

	// Errors counts failures by message.
	Errors map[string]int
}

// LatencySummary holds order statistics over successful requests.
type LatencySummary struct {
	Min, Avg, P50, P95, Max time.Duration
}

// SuccessRate returns Succeeded/Requests as a percentage.
func (r *LoadResult) SuccessRate() float64 {
	if r.Requests == 0 {
		return 0
	}
	return float64(r.Succeeded) * 100 / float64(r.Requests)
}

// Throughput returns completed requests per second.
func (r *LoadResult) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Succeeded+r.Failed) / r.Elapsed.Seconds()
}

// Summary computes latency statistics. The latency slice is sorted in
// place.
func (r *LoadResult) Summary() LatencySummary {
	n := len(r.Latencies)
	if n == 0 {
		return LatencySummary{}
	}

	sort.Slice(r.Latencies, func(i, j int) bool { return r.Latencies[i] < r.Latencies[j] })

	var total time.Duration
	for _, l := range r.Latencies {
		total += l
	}

	return LatencySummary{
		Min: r.Latencies[0],
		Avg: total / time.Duration(n),
		P50: percentile(r.Latencies, 50),
		P95: percentile(r.Latencies, 95),
		Max: r.Latencies[n-1],
	}
}

// percentile uses the nearest-rank method over sorted values.
func percentile(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// Load writes the run summary, latency and error tables.
func Load(w io.Writer, r *LoadResult) error {
	_, _ = bold.Fprintf(w, "LOAD TEST RESULTS (run %s)\n", r.RunID)

	rate := r.SuccessRate()
	rateColor := green
	if rate < 95 {
		rateColor = yellow
	}
	if rate < 50 {
		rateColor = red
	}

	summary := tablewriter.NewWriter(w)
	summary.Header("Requests", "Succeeded", "Failed", "Success", "Elapsed", "Req/sec")
	if err := summary.Append(
		FormatNumber(int64(r.Requests)),
		FormatNumber(int64(r.Succeeded)),
		FormatNumber(int64(r.Failed)),
		rateColor.Sprintf("%.1f%%", rate),
		r.Elapsed.Round(time.Millisecond).String(),
		fmt.Sprintf("%.1f", r.Throughput()),
	); err != nil {
		return fmt.Errorf("report: append row: %w", err)
	}
	if err := summary.Render(); err != nil {
		return fmt.Errorf("report: render: %w", err)
	}

	if len(r.Latencies) > 0 {
		s := r.Summary()
		latency := tablewriter.NewWriter(w)
		latency.Header("Min", "Avg", "P50", "P95", "Max")
		if err := latency.Append(
			FormatLatency(s.Min),
			FormatLatency(s.Avg),
			FormatLatency(s.P50),
			FormatLatency(s.P95),
			FormatLatency(s.Max),
		); err != nil {
			return fmt.Errorf("report: append row: %w", err)
		}
		if err := latency.Render(); err != nil {
			return fmt.Errorf("report: render: %w", err)
		}
	}

	if len(r.Errors) > 0 {
		msgs := make([]string, 0, len(r.Errors))
		for m := range r.Errors {
			msgs = append(msgs, m)
		}
		sort.Strings(msgs)

		errs := tablewriter.NewWriter(w)
		errs.Header("Error", "Count")
		for _, m := range msgs {
			if err := errs.Append(m, FormatNumber(int64(r.Errors[m]))); err != nil {
				return fmt.Errorf("report: append row: %w", err)
			}
		}
		if err := errs.Render(); err != nil {
			return fmt.Errorf("report: render: %w", err)
		}
	}
	return nil
}
