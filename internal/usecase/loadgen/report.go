package loadgen

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"kvcache/internal/errs"
)

// Summary is the result of one Run, also the schema of the TOML report.
type Summary struct {
	Workload        string                `toml:"workload"`
	Threads         int                   `toml:"threads"`
	DurationSeconds float64               `toml:"duration_seconds"`
	TotalRequests   uint64                `toml:"total_requests"`
	Successful      uint64                `toml:"successful"`
	Throughput      float64               `toml:"throughput_rps"`
	AvgLatencyMs    float64               `toml:"avg_latency_ms"`
	Ops             map[string]OpSnapshot `toml:"ops"`
}

type report struct {
	GeneratedAt string  `toml:"generated_at"`
	Target      string  `toml:"target"`
	Summary     Summary `toml:"summary"`
}

// WriteReport saves s as TOML at path, creating parent directories.
func WriteReport(path string, target string, s Summary) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("report path is required")
	}

	raw, err := toml.Marshal(report{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Target:      target,
		Summary:     s,
	})
	if err != nil {
		return errs.Wrap(err, "encode report")
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errs.Wrapf(err, "create report directory %q", dir)
		}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errs.Wrapf(err, "write report %q", path)
	}
	return nil
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (Summary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, errs.Wrapf(err, "read report %q", path)
	}

	var r report
	if err := toml.Unmarshal(raw, &r); err != nil {
		return Summary{}, errs.Wrap(err, "decode report")
	}
	return r.Summary, nil
}

// WriteSummary prints s in the plain results block.
func WriteSummary(w io.Writer, s Summary) error {
	var b strings.Builder
	b.WriteString("\n========== RESULTS ==========\n")
	fmt.Fprintf(&b, "Workload: %s\n", s.Workload)
	fmt.Fprintf(&b, "Threads: %d\n", s.Threads)
	fmt.Fprintf(&b, "Duration: %.2f s\n", s.DurationSeconds)
	fmt.Fprintf(&b, "Total Requests: %d\n", s.TotalRequests)
	fmt.Fprintf(&b, "Successful: %d\n", s.Successful)
	fmt.Fprintf(&b, "Throughput: %.2f req/s\n", s.Throughput)
	fmt.Fprintf(&b, "Avg Latency: %.3f ms\n", s.AvgLatencyMs)

	ops := make([]string, 0, len(s.Ops))
	for op := range s.Ops {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		o := s.Ops[op]
		fmt.Fprintf(&b, "  %-7s %d/%d ok, %.3f ms avg\n", op, o.Successful, o.Total, o.AvgLatencyMs)
	}
	b.WriteString("=============================\n")

	_, err := io.WriteString(w, b.String())
	return err
}
