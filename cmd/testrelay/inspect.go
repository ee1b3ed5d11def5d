package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/testrelay/internal/config"
	"github.com/mattjoyce/testrelay/internal/doctor"
	"github.com/mattjoyce/testrelay/internal/runlog"
	"github.com/mattjoyce/testrelay/internal/server"
	"github.com/mattjoyce/testrelay/internal/storage"
)

func runList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output suites as JSON")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	desc := server.Describe(newRegistry())
	if *jsonOut {
		return printJSON(os.Stdout, desc)
	}

	for _, s := range desc.Suites {
		if s.Custom {
			fmt.Printf("%s (custom runner)\n", s.Name)
		} else {
			fmt.Println(s.Name)
		}
		for _, m := range s.Methods {
			fmt.Printf("  %s#%s\n", s.Name, m)
		}
	}
	return 0
}

func runDoctor(args []string) int {
	var configPath, endpoints, logLevel, logFormat string

	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.StringVar(&endpoints, "endpoints", "", "Comma-separated worker URLs (overrides dispatch.endpoints)")
	jsonOut := fs.Bool("json", false, "Output report as JSON")
	addLogFlags(fs, &logLevel, &logFormat)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	cfg, err := loadConfig(configPath, logLevel, logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if endpoints != "" {
		cfg.Dispatch.Endpoints = endpoints
	}
	setupLogging(cfg)

	result := doctor.New(cfg, newRegistry(), nil).Check(context.Background())
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render report: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}
	if !result.Valid {
		return 1
	}
	return 0
}

func runHistory(args []string) int {
	var configPath, dbPath, runID string
	var limit int

	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.StringVar(&dbPath, "db", "", "Run history database (overrides state.path)")
	fs.StringVar(&runID, "run", "", "Show the results of one run")
	fs.IntVar(&limit, "limit", 20, "Number of runs to list")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	path, err := historyPath(configPath, dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open run history: %v\n", err)
		return 1
	}
	defer db.Close()
	store := runlog.New(db)

	if runID != "" {
		run, err := store.GetRun(ctx, runID)
		if err == nil {
			var results []runlog.Result
			results, err = store.Results(ctx, runID)
			if err == nil {
				if *jsonOut {
					return printJSON(os.Stdout, map[string]any{"run": run, "results": results})
				}
				printRunDetail(os.Stdout, run, results)
				return 0
			}
		}
		if errors.Is(err, runlog.ErrRunNotFound) {
			fmt.Fprintf(os.Stderr, "No run %s in %s\n", runID, path)
		} else {
			fmt.Fprintf(os.Stderr, "Failed to load run: %v\n", err)
		}
		return 1
	}

	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(os.Stdout, runs)
	}
	printRuns(os.Stdout, runs)
	return 0
}

func historyPath(configPath, dbPath string) (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.State.Path == "" {
		return "", fmt.Errorf("run history is disabled (state.path is empty); pass -db")
	}
	return cfg.State.Path, nil
}

func printRuns(w io.Writer, runs []runlog.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tRESULT\tPASSED\tFAILED\tTIMED OUT\tTOTAL\tWHERE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), runResult(r), r.Passed, r.Failed, r.TimedOut, r.Total, runWhere(r))
	}
	_ = tw.Flush()
}

func printRunDetail(w io.Writer, run *runlog.Run, results []runlog.Result) {
	fmt.Fprintf(w, "Run %s (%s)\n", run.ID, runResult(*run))
	fmt.Fprintf(w, "  started:   %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.FinishedAt != nil {
		fmt.Fprintf(w, "  finished:  %s (%s)\n", run.FinishedAt.Local().Format(time.DateTime), run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(w, "  runner:    %s\n", run.Runner)
	fmt.Fprintf(w, "  where:     %s\n", runWhere(*run))
	fmt.Fprintf(w, "  endpoints: %s\n\n", run.Endpoints)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TEST\tSTATUS\tDURATION\tENDPOINT\tMESSAGE")
	for _, r := range results {
		endpoint := r.Endpoint
		if endpoint == "" {
			endpoint = "local"
		}
		msg := ""
		if r.Message != nil {
			msg = firstLine(*r.Message)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Test.String(), r.Status, r.Duration, endpoint, msg)
	}
	_ = tw.Flush()
}

func runResult(r runlog.Run) string {
	switch {
	case r.FinishedAt == nil:
		return "unfinished"
	case r.Passed == r.Total:
		return "ok"
	default:
		return "FAIL"
	}
}

func runWhere(r runlog.Run) string {
	if r.Local {
		return "local"
	}
	return "remote"
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func printJSON(w io.Writer, v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Fprintln(w, string(data))
	return 0
}
