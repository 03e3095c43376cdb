// Command replay runs the same recorded session several times and checks
// that every run ends in the same state.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"ProxyTrader/internal/di"
	"ProxyTrader/internal/usecase"
	"ProxyTrader/pkg/config"
)

// summary is the comparable outcome of one run.
type summary struct {
	Direction  string
	Symbol     string
	Quantity   int64
	Realized   string
	Trades     int
	Signals    int
	LastSignal time.Time
	Delivered  int
	Synthetic  int
}

type runResult struct {
	summary
	Elapsed time.Duration
	Err     error
}

func summarize(st usecase.Status, delivered, synthetic int) summary {
	return summary{
		Direction:  st.Position.Direction.String(),
		Symbol:     st.Position.Symbol,
		Quantity:   st.Position.Quantity,
		Realized:   st.RealizedPnL.StringFixed(2),
		Trades:     st.Trades,
		Signals:    st.Signals,
		LastSignal: st.LastSignal.Timestamp,
		Delivered:  delivered,
		Synthetic:  synthetic,
	}
}

// consistent reports whether every successful run matches the first one.
// Any failed run makes the set inconsistent.
func consistent(runs []runResult) bool {
	if len(runs) == 0 {
		return false
	}
	for _, r := range runs {
		if r.Err != nil || r.summary != runs[0].summary {
			return false
		}
	}
	return true
}

func runOnce(ctx context.Context, cfg *config.Config) runResult {
	start := time.Now()
	sess, cleanup, err := di.InitializeReplaySession(ctx, cfg)
	if err != nil {
		return runResult{Err: err}
	}
	defer cleanup()

	if err := sess.Runner.Run(ctx); err != nil {
		return runResult{Err: err, Elapsed: time.Since(start)}
	}
	stats := sess.Runner.Stats()
	return runResult{
		summary: summarize(sess.Engine.Status(), stats.Delivered, stats.Synthetic),
		Elapsed: time.Since(start),
	}
}

func render(w io.Writer, runs []runResult, ok bool) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("REPLAY DETERMINISM")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Run", "Position", "Qty", "Realized P/L", "Trades", "Signals", "Ticks", "Synthetic", "Elapsed", "Match"})
	for i, r := range runs {
		if r.Err != nil {
			t.AppendRow(table.Row{i + 1, "error: " + r.Err.Error(), "", "", "", "", "", "", r.Elapsed.Round(time.Millisecond), "no"})
			continue
		}
		pos := r.Direction
		if r.Symbol != "" {
			pos += " " + r.Symbol
		}
		match := "yes"
		if r.summary != runs[0].summary {
			match = "no"
		}
		t.AppendRow(table.Row{i + 1, pos, r.Quantity, r.Realized, r.Trades, r.Signals, r.Delivered, r.Synthetic, r.Elapsed.Round(time.Millisecond), match})
	}
	verdict := "DETERMINISTIC"
	if !ok {
		verdict = "MISMATCH"
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "", "", verdict})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 10, Align: text.AlignCenter, AlignFooter: text.AlignCenter},
	})
	t.Render()
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	runs := flag.Int("runs", 3, "number of identical replays")
	date := flag.String("date", "", "session date YYYY-MM-DD (overrides config)")
	dir := flag.String("dir", "", "CSV directory (overrides config)")
	flag.Parse()

	if *runs < 1 {
		log.Fatalf("-runs must be at least 1")
	}
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *date != "" {
		cfg.Pipeline.Replay.Date = *date
	}
	if *dir != "" {
		cfg.Pipeline.Replay.Dir = *dir
	}

	// Every run starts clean and touches nothing outside the process.
	cfg.Mode = "replay"
	cfg.Pipeline.Replay.Speed = 0
	cfg.State.Backend = "memory"
	cfg.Journal.Enabled = false
	cfg.Kafka.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Server.Enabled = false
	if cfg.Pipeline.Replay.Source == "csv" {
		cfg.ClickHouse.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	results := make([]runResult, 0, *runs)
	for i := 0; i < *runs; i++ {
		results = append(results, runOnce(ctx, cfg))
	}

	ok := consistent(results)
	render(os.Stdout, results, ok)
	if !ok {
		fmt.Fprintln(os.Stderr, "replay runs diverged")
		os.Exit(1)
	}
}
