package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/kestrel-ir/kestrel/internal/archive"
	"github.com/kestrel-ir/kestrel/internal/assemble"
	"github.com/kestrel-ir/kestrel/internal/budget"
	"github.com/kestrel-ir/kestrel/internal/controller"
	"github.com/kestrel-ir/kestrel/internal/estimator"
	"github.com/kestrel-ir/kestrel/internal/feedback"
	"github.com/kestrel-ir/kestrel/internal/numeric"
	"github.com/kestrel-ir/kestrel/internal/pool"
	"github.com/kestrel-ir/kestrel/internal/retrieval"
	"github.com/kestrel-ir/kestrel/internal/sched"
)

// #region main
func main() {
	query := flag.String("query", "", "query to run")
	corpusPath := flag.String("corpus", "", "path to a JSON corpus file (array of {id, content, metadata})")
	dbPath := flag.String("db", "", "archive runs to this SQLite database")
	rewrites := flag.String("rewrites", "", "comma-separated query rewrites")
	estName := flag.String("estimator", "regression", "estimator: baseline | overlap | regression")
	schedName := flag.String("scheduler", "priority", "scheduler: priority | staged")
	tokens := flag.Float64("tokens", 4000, "token budget")
	rerankDocs := flag.Float64("rerank-docs", 50, "rerank document budget")
	latencyMS := flag.Float64("latency-ms", 2000, "wall clock budget in milliseconds")
	flag.Parse()

	if *query == "" {
		fmt.Fprintln(os.Stderr, "usage: controller --query text [--corpus docs.json] [--db runs.db] [--rewrites a,b] [--estimator name] [--scheduler name]")
		os.Exit(2)
	}

	corpus, err := loadCorpus(*corpusPath)
	if err != nil {
		log.Fatalf("load corpus: %v", err)
	}

	b := budget.Default()
	b.Limits[budget.ResourceTokens] = *tokens
	b.Limits[budget.ResourceRerankDocs] = *rerankDocs
	b.Limits[budget.ResourceLatencyMS] = *latencyMS

	ctrl, err := controller.New(
		retrieval.NewMemoryRetriever(corpus, retrieval.DefaultConfig()),
		&retrieval.StaticReformulator{Rewrites: splitRewrites(*rewrites)},
		retrieval.NewKeywordReranker(),
		assemble.NewGreedy(),
		buildScheduler(*schedName),
		buildEstimator(*estName),
		controller.Options{Feedback: feedback.NewBudgetFloor(), Budget: &b},
	)
	if err != nil {
		log.Fatalf("build controller: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out, err := ctrl.Run(ctx, *query)
	if err != nil {
		log.Fatalf("run: %v", err)
	}

	printOutput(out)

	if *dbPath != "" {
		store, err := archive.Open(*dbPath)
		if err != nil {
			log.Fatalf("open archive: %v", err)
		}
		defer store.Close()
		if err := store.SaveRun(out, b); err != nil {
			log.Fatalf("archive run: %v", err)
		}
		fmt.Printf("archived run %s to %s\n", out.Trace.RunID, *dbPath)
	}
}

// #endregion main

// #region wiring

func buildEstimator(name string) estimator.Estimator {
	switch name {
	case "baseline":
		return estimator.NewBaseline()
	case "overlap":
		return estimator.NewOverlap()
	case "regression":
		return estimator.NewRegression(3, numeric.NewProjectedGradient())
	default:
		log.Fatalf("unknown estimator %q", name)
		return nil
	}
}

func buildScheduler(name string) sched.Scheduler {
	switch name {
	case "priority":
		return sched.NewPriorityScheduler()
	case "staged":
		return sched.NewStagedScheduler()
	default:
		log.Fatalf("unknown scheduler %q", name)
		return nil
	}
}

func splitRewrites(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// #endregion wiring

// #region corpus

func loadCorpus(path string) ([]pool.Document, error) {
	if path == "" {
		return demoCorpus(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var docs []pool.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return docs, nil
}

func demoCorpus() []pool.Document {
	return []pool.Document{
		{ID: "doc-1", Content: "Connection pooling reduces database latency under sustained load.", Metadata: map[string]string{"section": "performance"}},
		{ID: "doc-2", Content: "Database latency spikes usually trace back to missing indexes.", Metadata: map[string]string{"section": "performance"}},
		{ID: "doc-3", Content: "Index maintenance costs grow with write volume.", Metadata: map[string]string{"section": "operations"}},
		{ID: "doc-4", Content: "Read replicas absorb query load but add replication lag.", Metadata: map[string]string{"section": "architecture"}},
		{ID: "doc-5", Content: "Query planners mispredict cardinality on skewed data.", Metadata: map[string]string{"section": "internals"}},
		{ID: "doc-6", Content: "Caching hot rows in memory sidesteps the storage layer entirely.", Metadata: map[string]string{"section": "performance"}},
	}
}

// #endregion corpus

// #region output

func printOutput(out *controller.Output) {
	fmt.Printf("run %s: %d documents for %q\n\n", out.Trace.RunID, len(out.Documents), out.Query)
	for i, doc := range out.Documents {
		fmt.Printf("%2d. [%.3f] %s (%d tokens)\n    %s\n", i+1, doc.Score, doc.ID, doc.TokenCount, doc.Content)
	}
	fmt.Println("\nconsumed:")
	consumed, _ := json.MarshalIndent(out.Consumed, "  ", "  ")
	fmt.Printf("  %s\n", consumed)
	fmt.Printf("\ntrace: %d events (%s ... %s)\n", len(out.Trace.Events), firstAction(out), lastAction(out))
}

func firstAction(out *controller.Output) string {
	if len(out.Trace.Events) == 0 {
		return "-"
	}
	return out.Trace.Events[0].Action
}

func lastAction(out *controller.Output) string {
	if len(out.Trace.Events) == 0 {
		return "-"
	}
	return out.Trace.Events[len(out.Trace.Events)-1].Action
}

// #endregion output
