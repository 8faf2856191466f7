package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/kestrel-ir/kestrel/internal/archive"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to the run archive database")
	last := flag.Int("last", 20, "show N most recent runs")
	run := flag.String("run", "", "show full trace for one run")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/runs.db [--last N] [--run id] [--json]")
		os.Exit(2)
	}

	store, err := archive.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if *run != "" {
		err = runTraceMode(store, *run, *jsonOut)
	} else {
		err = runListMode(store, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	RunID     string  `json:"run_id"`
	Query     string  `json:"query"`
	DocCount  int     `json:"doc_count"`
	Tokens    float64 `json:"tokens_consumed"`
	CreatedAt string  `json:"created_at"`
}

func runListMode(store *archive.Store, last int, jsonOut bool) error {
	runs, err := store.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	rows := make([]listRow, len(runs))
	for i, r := range runs {
		rows[i] = listRow{
			RunID:     r.RunID,
			Query:     r.Query,
			DocCount:  r.DocCount,
			Tokens:    r.Consumed["tokens"],
			CreatedAt: r.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-10s  %-32s  %4s  %8s  %s\n", "Run", "Query", "Docs", "Tokens", "Time")
	fmt.Printf("%-10s+-%-32s+-%4s+-%8s+-%s\n",
		"----------", "--------------------------------", "----", "--------", "--------------------")
	for _, r := range rows {
		fmt.Printf("%-10s  %-32s  %4d  %8.0f  %s\n",
			shortID(r.RunID), clip(r.Query, 32), r.DocCount, r.Tokens, r.CreatedAt)
	}
	return nil
}

// #endregion list-mode

// #region trace-mode

func runTraceMode(store *archive.Store, runID string, jsonOut bool) error {
	rec, err := store.GetRun(runID)
	if err != nil {
		return err
	}
	events, err := store.GetTrace(runID)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(map[string]any{"run": rec, "events": events})
	}

	fmt.Printf("run %s\n  query: %s\n  documents: %d\n  created: %s\n\n",
		rec.RunID, rec.Query, rec.DocCount, rec.CreatedAt.Format("2006-01-02T15:04:05Z"))
	fmt.Printf("%-4s  %-12s  %-24s  %s\n", "Seq", "Component", "Action", "Details")
	for _, ev := range events {
		details := ""
		if len(ev.Details) > 0 {
			b, _ := json.Marshal(ev.Details)
			details = clip(string(b), 80)
		}
		fmt.Printf("%-4d  %-12s  %-24s  %s\n", ev.Seq, ev.Component, ev.Action, details)
	}
	return nil
}

// #endregion trace-mode

// #region helpers

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

// #endregion helpers
