package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/kestrel-ir/kestrel/internal/archive"
	"github.com/kestrel-ir/kestrel/internal/replay"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to the run archive database")
	runID := flag.String("run", "", "archived run to export")
	corpusPath := flag.String("corpus", "", "JSON corpus file to embed (array of {id, content, metadata})")
	outPath := flag.String("out", "", "output fixture JSON path")
	flag.Parse()

	if *dbPath == "" || *runID == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/runs.db --run id --out path/to/fixture.json [--corpus docs.json]")
		os.Exit(2)
	}

	if err := run(*dbPath, *runID, *corpusPath, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region export

func run(dbPath, runID, corpusPath, outPath string) error {
	store, err := archive.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	rec, err := store.GetRun(runID)
	if err != nil {
		return err
	}
	actions, err := store.Actions(runID)
	if err != nil {
		return err
	}

	fixture := replay.Fixture{
		Description: fmt.Sprintf("exported from run %s", rec.RunID),
		Query:       rec.Query,
		Budget:      rec.Budget,
		Expected:    replay.FixtureExpected{Actions: actions},
	}

	if corpusPath != "" {
		corpus, err := loadCorpus(corpusPath)
		if err != nil {
			return err
		}
		fixture.Corpus = corpus
	} else {
		fmt.Fprintln(os.Stderr, "note: no --corpus given; fill in the corpus before replaying")
	}

	if err := writeFixture(fixture, outPath); err != nil {
		return err
	}
	fmt.Printf("wrote fixture for run %s to %s (%d expected actions)\n", rec.RunID, outPath, len(actions))
	return nil
}

func loadCorpus(path string) ([]replay.FixtureDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}
	var docs []replay.FixtureDocument
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse corpus %s: %w", path, err)
	}
	return docs, nil
}

func writeFixture(f replay.Fixture, path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// #endregion export
