package benchconsole

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kvcache/internal/bootstrap/logging"
	"kvcache/internal/errs"
	"kvcache/internal/usecase/loadgen"
)

const (
	maxHistory  = 40
	progressLen = 30
)

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Runner is the part of loadgen.Runner the console drives.
type Runner interface {
	Run(ctx context.Context) (loadgen.Summary, error)
	Snapshot() loadgen.Snapshot
}

type BenchOptions struct {
	Workload        string
	Target          string
	Threads         int
	Duration        time.Duration
	RefreshInterval time.Duration
}

type benchModel struct {
	ctx             context.Context
	cancel          context.CancelFunc
	runner          Runner
	workload        string
	target          string
	threads         int
	duration        time.Duration
	refreshInterval time.Duration

	snapshot  loadgen.Snapshot
	history   []float64
	lastTotal uint64
	lastAt    time.Duration

	done     bool
	quitting bool
	summary  loadgen.Summary
	err      error
	status   string
}

type tickMsg struct{}

type runDoneMsg struct {
	summary loadgen.Summary
	err     error
}

func NewBenchModel(ctx context.Context, runner Runner, options BenchOptions) tea.Model {
	interval := options.RefreshInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	runCtx, cancel := context.WithCancel(ctx)

	return &benchModel{
		ctx:             runCtx,
		cancel:          cancel,
		runner:          runner,
		workload:        firstNonEmpty(strings.TrimSpace(options.Workload), "-"),
		target:          firstNonEmpty(strings.TrimSpace(options.Target), "-"),
		threads:         options.Threads,
		duration:        options.Duration,
		refreshInterval: interval,
		status:          "running",
	}
}

// Result extracts the outcome from the model returned by tea.Program.Run.
// ok is false when the run never finished.
func Result(model tea.Model) (summary loadgen.Summary, ok bool, err error) {
	m, isBench := model.(*benchModel)
	if !isBench || !m.done {
		return loadgen.Summary{}, false, nil
	}
	return m.summary, true, m.err
}

func (m *benchModel) Init() tea.Cmd {
	return tea.Batch(m.runCmd(), m.tickCmd())
}

func (m *benchModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.sample()
		return m, m.tickCmd()
	case runDoneMsg:
		m.done = true
		m.summary = msg.summary
		m.err = msg.err
		m.sample()
		if msg.err != nil {
			m.status = "run failed: " + msg.err.Error()
		} else {
			m.status = fmt.Sprintf("finished: %d requests, %.2f req/s (q to exit)", msg.summary.TotalRequests, msg.summary.Throughput)
		}
		if m.quitting {
			return m, tea.Quit
		}
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.done {
				return m, tea.Quit
			}
			m.quitting = true
			m.status = "stopping"
			m.cancel()
			return m, nil
		}
	}
	return m, nil
}

// sample reads the runner and appends the throughput since the previous sample.
func (m *benchModel) sample() {
	snap := m.runner.Snapshot()
	m.snapshot = snap

	window := snap.Elapsed - m.lastAt
	if window > 0 && snap.Total >= m.lastTotal {
		rps := float64(snap.Total-m.lastTotal) / window.Seconds()
		m.history = append(m.history, rps)
		if len(m.history) > maxHistory {
			m.history = m.history[len(m.history)-maxHistory:]
		}
	}
	m.lastTotal = snap.Total
	m.lastAt = snap.Elapsed
}

func (m *benchModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true)
	sectionStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	var builder strings.Builder
	builder.WriteString(titleStyle.Render("kvcache bench"))
	builder.WriteString("\n")
	builder.WriteString(dimStyle.Render(fmt.Sprintf(
		"workload=%s threads=%d target=%s duration=%s",
		m.workload,
		m.threads,
		m.target,
		m.duration,
	)))
	builder.WriteString("\n\n")

	builder.WriteString(sectionStyle.Render("Progress"))
	builder.WriteString("\n")
	builder.WriteString(progressBar(m.snapshot.Elapsed, m.duration))
	builder.WriteString(fmt.Sprintf(" %s / %s", m.snapshot.Elapsed.Truncate(100*time.Millisecond), m.duration))
	builder.WriteString("\n\n")

	snap := m.snapshot
	failed := snap.Total - snap.Successful
	builder.WriteString(sectionStyle.Render("Requests"))
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("Total: %d  ", snap.Total))
	builder.WriteString(okStyle.Render(fmt.Sprintf("ok=%d", snap.Successful)))
	builder.WriteString("  ")
	if failed > 0 {
		builder.WriteString(failStyle.Render(fmt.Sprintf("failed=%d", failed)))
	} else {
		builder.WriteString(dimStyle.Render("failed=0"))
	}
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("Throughput: %.2f req/s  Avg latency: %.3f ms\n", snap.Throughput, snap.AvgLatencyMs))

	ops := make([]string, 0, len(snap.Ops))
	for op := range snap.Ops {
		ops = append(ops, string(op))
	}
	sort.Strings(ops)
	for _, op := range ops {
		o := snap.Ops[loadgen.Op(op)]
		builder.WriteString(fmt.Sprintf("- %-7s %d/%d ok, %.3f ms\n", op, o.Successful, o.Total, o.AvgLatencyMs))
	}
	builder.WriteString("\n")

	builder.WriteString(sectionStyle.Render("Rate"))
	builder.WriteString("\n")
	if len(m.history) == 0 {
		builder.WriteString(dimStyle.Render("- no samples"))
	} else {
		builder.WriteString(sparkline(m.history))
		builder.WriteString(dimStyle.Render(fmt.Sprintf(" last=%.1f req/s", m.history[len(m.history)-1])))
	}
	builder.WriteString("\n\n")

	builder.WriteString(sectionStyle.Render("Status"))
	builder.WriteString("\n")
	builder.WriteString("- " + firstNonEmpty(m.status, "ready"))
	builder.WriteString("\n\n")
	builder.WriteString(dimStyle.Render("q: stop / exit"))
	builder.WriteString("\n")

	return builder.String()
}

func (m *benchModel) runCmd() tea.Cmd {
	return func() tea.Msg {
		summary, err := m.runner.Run(m.ctx)
		if err != nil {
			logging.Error(
				logging.WithAttrs(m.ctx, slog.String("component", "usecase.benchconsole")),
				"bench run failed",
				slog.Any("err", errs.Loggable(err)),
			)
		}
		return runDoneMsg{summary: summary, err: err}
	}
}

func (m *benchModel) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func progressBar(elapsed time.Duration, total time.Duration) string {
	filled := 0
	if total > 0 {
		filled = int(float64(progressLen) * elapsed.Seconds() / total.Seconds())
	}
	if filled > progressLen {
		filled = progressLen
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", progressLen-filled) + "]"
}

func sparkline(values []float64) string {
	peak := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
	}

	out := make([]rune, len(values))
	for i, v := range values {
		idx := 0
		if peak > 0 {
			idx = int(v / peak * float64(len(sparkBlocks)-1))
		}
		out[i] = sparkBlocks[idx]
	}
	return string(out)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
