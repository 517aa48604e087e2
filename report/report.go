// Package report renders run results as plain text tables
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/jonas747/shardbench"
	"github.com/jonas747/shardbench/benchmark"
	"github.com/jonas747/shardbench/orchestrator"
)

var (
	okText   = text.Colors{text.FgGreen}
	failText = text.Colors{text.FgRed}
	warnText = text.Colors{text.FgYellow}
)

func newTable() table.Writer {
	tb := table.NewWriter()
	tb.SetStyle(table.StyleLight)
	return tb
}

func state(ok bool) string {
	if ok {
		return okText.Sprint("ok")
	}
	return failText.Sprint("failed")
}

// Duration rounds d to something readable in a table
func Duration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond).String()
	}
	return d.String()
}

// Stores renders the per store outcomes of check, prepare or clear
func Stores(outcomes []orchestrator.StoreOutcome) string {
	tb := newTable()
	tb.AppendHeader(table.Row{"store", "locator", "state", "rows", "took", "error"})

	for i := range outcomes {
		so := &outcomes[i]
		tb.AppendRow(table.Row{so.Name(), so.Locator, state(so.OK()), humanize.Comma(so.Rows), Duration(so.Duration), so.Error})
	}

	return tb.Render()
}

// Generate renders a generation result
func Generate(res *orchestrator.GenerateResult) string {
	tb := newTable()
	tb.AppendHeader(table.Row{"target", "users", "chunks", "skipped", "took", "rows/s", "error"})
	tb.AppendRow(table.Row{
		"main " + res.Main.Target,
		humanize.Comma(int64(res.Main.Inserted)),
		res.Main.Chunks,
		humanize.Comma(int64(res.Main.Skipped)),
		Duration(res.Main.Duration),
		Rate(res.Main.Inserted, res.Main.Duration),
		res.Error,
	})

	out := tb.Render()
	if res.Direct != nil {
		out += "\n" + Migration(res.Direct)
	}
	return out
}

// Migration renders the per shard outcome of a migration
func Migration(res *orchestrator.MigrationResult) string {
	tb := newTable()
	tb.AppendHeader(table.Row{"shard", "locator", "state", "moved", "skipped", "expected", "took", "rows/s", "error"})

	for i := range res.Shards {
		so := &res.Shards[i]
		tb.AppendRow(table.Row{
			so.Index,
			so.Locator,
			state(!so.Failed()),
			humanize.Comma(int64(so.Moved)),
			humanize.Comma(int64(so.Skipped)),
			humanize.Comma(int64(so.Expected)),
			Duration(so.Duration),
			Rate(so.Moved, so.Duration),
			so.Error,
		})
	}

	tb.AppendFooter(table.Row{"", "total", "", humanize.Comma(int64(res.Moved())), humanize.Comma(int64(res.Skipped())), humanize.Comma(int64(res.Read)), Duration(res.Duration), Rate(res.Moved(), res.Duration), ""})
	return tb.Render()
}

// Benchmark renders one line per template plus a line counting the wins of each layout
func Benchmark(results []benchmark.Result) string {
	tb := newTable()
	tb.AppendHeader(table.Row{"query", "kind", "runs", "main ms", "shards ms", "speedup", "winner", "errors"})

	for _, r := range results {
		tb.AppendRow(table.Row{
			r.Template,
			r.Kind,
			r.Iterations,
			fmt.Sprintf("%.3f", r.MainAvgMs),
			fmt.Sprintf("%.3f", r.ShardAvgMs),
			fmt.Sprintf("%.2fx", r.Speedup()),
			winner(r.Winner),
			errorCounts(r.MainErrors, r.ShardErrors),
		})
	}

	wins := benchmark.Winners(results)
	summary := fmt.Sprintf("main won %d, shards won %d, %d ties", wins[benchmark.LayoutMain], wins[benchmark.LayoutShards], wins[benchmark.LayoutTie])
	return tb.Render() + "\n" + summary
}

func winner(w benchmark.Layout) string {
	switch w {
	case benchmark.LayoutShards:
		return okText.Sprint(string(w))
	case benchmark.LayoutMain:
		return warnText.Sprint(string(w))
	}
	return string(w)
}

func errorCounts(main, shards int) string {
	if main == 0 && shards == 0 {
		return ""
	}
	return failText.Sprintf("%d main / %d shards", main, shards)
}

// Rate is rows per second, "-" if it can't be computed
func Rate(rows int, d time.Duration) string {
	if rows <= 0 || d <= 0 {
		return "-"
	}
	return humanize.Comma(int64(float64(rows) / d.Seconds()))
}

// Run renders every section of a run report that was reached
func Run(r *orchestrator.RunReport) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "run %s: %s in %s\n", r.RunID, status(r.Status), Duration(r.Duration))
	if r.Error != "" {
		fmt.Fprintf(&sb, "stopped: %s\n", r.Error)
	}

	section := func(title, body string) {
		sb.WriteString("\n" + text.Bold.Sprint(title) + "\n" + body + "\n")
	}

	if r.Checks != nil {
		section("Connections", Stores(r.Checks))
	}
	if r.Prepare != nil {
		section("Schema", Stores(r.Prepare))
	}
	if r.Clear != nil {
		section("Clear", Stores(r.Clear))
	}
	if r.Generate != nil {
		section("Generate", Generate(r.Generate))
	}
	if r.Migration != nil {
		section("Migration", Migration(r.Migration))
	}
	if len(r.Benchmark) > 0 {
		section("Benchmark", Benchmark(r.Benchmark))
	}

	return sb.String()
}

func status(s orchestrator.RunStatus) string {
	switch s {
	case orchestrator.StatusOK:
		return okText.Sprint(string(s))
	case orchestrator.StatusDegraded:
		return warnText.Sprint(string(s))
	}
	return failText.Sprint(string(s))
}

// Journal replays a run journal and renders the runs, failures and benchmark results it recorded
func Journal(r io.Reader) (string, error) {
	runs := newTable()
	runs.AppendHeader(table.Row{"run", "main", "shards", "users", "started", "status", "took"})

	failures := newTable()
	failures.AppendHeader(table.Row{"phase", "store", "locator", "error"})

	var results []benchmark.Result
	var chunks, rows int
	var pending *shardbench.RunStartedData
	nFailures := 0

	flushRun := func(finished *shardbench.RunFinishedData) {
		if pending == nil {
			return
		}

		st, took := "incomplete", ""
		if finished != nil {
			st = status(orchestrator.RunStatus(finished.Status))
			took = Duration(time.Duration(finished.DurationMs) * time.Millisecond)
		}

		runs.AppendRow(table.Row{
			pending.RunID,
			pending.Main,
			len(pending.Shards),
			humanize.Comma(int64(pending.Users)),
			time.Unix(0, pending.StartedAt).Format(time.RFC3339),
			st,
			took,
		})
		pending = nil
	}

	err := shardbench.ReadJournal(r, func(m *shardbench.Message) error {
		switch data := m.DecodedBody.(type) {
		case *shardbench.RunStartedData:
			flushRun(nil)
			pending = data
			results = results[:0]
		case *shardbench.RunFinishedData:
			flushRun(data)
		case *shardbench.ChunkCommittedData:
			chunks++
			rows += data.Rows
		case *shardbench.StoreFailedData:
			nFailures++
			name := "main"
			if data.Shard >= 0 {
				name = fmt.Sprintf("shard %d", data.Shard)
			}
			failures.AppendRow(table.Row{data.Phase, name, data.Locator, data.Error})
		case *shardbench.BenchmarkResultData:
			results = append(results, benchmark.Result{
				Template:    data.Template,
				Kind:        data.Kind,
				Iterations:  data.Iterations,
				MainAvgMs:   data.MainAvgMs,
				ShardAvgMs:  data.ShardAvgMs,
				Winner:      benchmark.Layout(data.Winner),
				MainErrors:  data.MainErrors,
				ShardErrors: data.ShardErrors,
			})
		}
		return nil
	})
	flushRun(nil)

	var sb strings.Builder
	sb.WriteString(text.Bold.Sprint("Runs") + "\n" + runs.Render() + "\n")
	fmt.Fprintf(&sb, "\n%s chunks committed, %s rows\n", humanize.Comma(int64(chunks)), humanize.Comma(int64(rows)))

	if nFailures > 0 {
		sb.WriteString("\n" + text.Bold.Sprint("Store failures") + "\n" + failures.Render() + "\n")
	}

	if len(results) > 0 {
		sb.WriteString("\n" + text.Bold.Sprint("Last benchmark") + "\n" + Benchmark(results) + "\n")
	}

	return sb.String(), err
}
