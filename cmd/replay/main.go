package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kestrel-ir/kestrel/internal/replay"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to a fixture JSON file")
	dirPath := flag.String("dir", "", "run every *.json fixture in a directory")
	flag.Parse()

	if (*fixturePath == "" && *dirPath == "") || (*fixturePath != "" && *dirPath != "") {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json")
		fmt.Fprintln(os.Stderr, "       replay --dir path/to/fixtures/")
		os.Exit(2)
	}

	paths := []string{*fixturePath}
	if *dirPath != "" {
		var err error
		paths, err = collectFixtures(*dirPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(2)
		}
	}

	failed := 0
	for _, path := range paths {
		if !runFixture(path) {
			failed++
		}
	}

	fmt.Printf("\n%d/%d fixtures passed\n", len(paths)-failed, len(paths))
	if failed > 0 {
		os.Exit(1)
	}
}

// #endregion main

// #region run

func runFixture(path string) bool {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", path, err)
		return false
	}

	res, err := replay.Run(context.Background(), f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", path, err)
		return false
	}

	if res.Passed() {
		fmt.Printf("PASS %s: %d documents, %d trace events\n",
			path, len(res.Output.Documents), len(res.Output.Trace.Events))
		return true
	}

	fmt.Fprintf(os.Stderr, "FAIL %s\n", path)
	if !res.Deterministic {
		fmt.Fprintln(os.Stderr, "  second run diverged from the first")
	}
	for _, m := range res.Mismatches {
		fmt.Fprintf(os.Stderr, "  %s\n", m)
	}
	return false
}

func collectFixtures(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no fixtures in %s", dir)
	}
	sort.Strings(matches)
	return matches, nil
}

// #endregion run
