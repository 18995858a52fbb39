// replayconv converts zstd replay logs written by fleetd.
//
// Usage:
//
//	go run ./cmd/replayconv <command> [-dir path] [-out path]
//
// Commands: index, summary
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/simfleet/server/internal/replay"
)

const batchSize = 256

// ---------------------------------------------------------------------------
// index: replay files -> SQLite
// ---------------------------------------------------------------------------

func replayFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no replay files in %s", dir)
	}
	sort.Strings(files)
	return files, nil
}

func convertIndex(dir, out string) error {
	files, err := replayFiles(dir)
	if err != nil {
		return err
	}
	if out == "" {
		out = filepath.Join(dir, "replay.db")
	}
	sink, err := replay.OpenSQLite(out, zap.NewNop())
	if err != nil {
		return fmt.Errorf("open %s: %w", out, err)
	}

	ctx := context.Background()
	total := 0
	batch := make([]replay.Frame, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sink.WriteFrames(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}
	for _, path := range files {
		err := replay.ReadFile(path, func(fr replay.Frame) error {
			batch = append(batch, fr)
			if len(batch) == batchSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			sink.Close()
			return err
		}
		fmt.Printf("  %s\n", filepath.Base(path))
	}
	if err := flush(); err != nil {
		sink.Close()
		return err
	}
	if err := sink.Close(); err != nil {
		return err
	}
	fmt.Printf("  index: %d frames -> %s\n", total, out)
	return nil
}

// ---------------------------------------------------------------------------
// summary: replay files -> YAML overview
// ---------------------------------------------------------------------------

type fileSummaryYAML struct {
	File      string         `yaml:"file"`
	Frames    int            `yaml:"frames"`
	FirstTime float64        `yaml:"first_time"`
	LastTime  float64        `yaml:"last_time"`
	Samples   int            `yaml:"samples"`
	Assets    map[string]int `yaml:"assets"`
}

type summaryYAML struct {
	Files []fileSummaryYAML `yaml:"files"`
}

func summarize(path string) (fileSummaryYAML, error) {
	s := fileSummaryYAML{File: filepath.Base(path), Assets: map[string]int{}}
	err := replay.ReadFile(path, func(fr replay.Frame) error {
		if s.Frames == 0 {
			s.FirstTime = fr.Time
		}
		s.Frames++
		s.LastTime = fr.Time
		s.Samples += len(fr.Samples)
		for _, smp := range fr.Samples {
			s.Assets[smp.Asset]++
		}
		return nil
	})
	return s, err
}

func convertSummary(dir, out string) error {
	files, err := replayFiles(dir)
	if err != nil {
		return err
	}
	var doc summaryYAML
	for _, path := range files {
		s, err := summarize(path)
		if err != nil {
			return err
		}
		doc.Files = append(doc.Files, s)
	}
	if out == "" {
		out = filepath.Join(dir, "summary.yaml")
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	header := "# Replay summary - generated by replayconv\n"
	if err := os.WriteFile(out, append([]byte(header), data...), 0o644); err != nil {
		return err
	}
	fmt.Printf("  summary: %d files -> %s\n", len(doc.Files), out)
	return nil
}

// ---------------------------------------------------------------------------
// main
// ---------------------------------------------------------------------------

func printUsage() {
	fmt.Println("Usage: replayconv <command> [-dir path] [-out path]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  index     Load *.jsonl.zst replay files into a SQLite index")
	fmt.Println("  summary   Write a YAML overview of the replay files")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		printUsage()
		return
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	dir := fs.String("dir", "replays", "replay file directory")
	out := fs.String("out", "", "output file (default inside -dir)")
	_ = fs.Parse(os.Args[2:])

	converters := map[string]func(string, string) error{
		"index":   convertIndex,
		"summary": convertSummary,
	}
	fn, ok := converters[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err := fn(*dir, *out); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Done!")
}
