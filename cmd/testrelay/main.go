package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/testrelay/internal/config"
	"github.com/mattjoyce/testrelay/internal/demo"
	"github.com/mattjoyce/testrelay/internal/log"
	"github.com/mattjoyce/testrelay/internal/suite"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// newRegistry builds the suites this binary can run and serve.
var newRegistry = demo.Registry

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "serve":
		return runServe(args)
	case "run":
		return runRun(args)
	case "list":
		return runList(args)
	case "doctor":
		return runDoctor(args)
	case "history":
		return runHistory(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `testrelay - distributed remote test execution

Usage:
  testrelay <command> [flags]

Commands:
  serve     Run an execution worker
  run       Dispatch tests to the configured workers
  list      Show the locally registered suites
  doctor    Check configuration and worker health
  history   Show recorded runs
  version   Show version information
  help      Show this help message

Configuration is read from -config, $TESTRELAY_CONFIG, ./testrelay.yaml or
~/.config/testrelay/config.yaml. $TESTRELAY_ENDPOINTS overrides
dispatch.endpoints.

Use 'testrelay <command> -h' for command flags.
`)
}

// loadConfig loads the config file and applies the logging flags shared by
// every command. Callers re-validate after applying their own overrides.
func loadConfig(path, logLevel, logFormat string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Service.LogLevel = strings.ToLower(logLevel)
	}
	if logFormat != "" {
		cfg.Service.LogFormat = strings.ToLower(logFormat)
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
}

func addLogFlags(fs *flag.FlagSet, level, format *string) {
	fs.StringVar(level, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(format, "log-format", "", "Log format: json or text")
}

func parseFlags(fs *flag.FlagSet, args []string) (int, bool) {
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0, false
		}
		return 1, false
	}
	return 0, true
}

// resolveTests expands the positional arguments against the registry.
// No arguments means every registered test. A test named more than once
// runs once, at its first position.
func resolveTests(reg *suite.Registry, args []string) ([]suite.TestID, error) {
	var names []string
	for _, a := range args {
		for _, part := range strings.Split(a, ",") {
			if part = strings.TrimSpace(part); part != "" {
				names = append(names, part)
			}
		}
	}
	resolved, err := reg.Identifiers(names...)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(resolved))
	ids := resolved[:0]
	for _, id := range resolved {
		if key := id.String(); !seen[key] {
			seen[key] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no tests registered")
	}
	return ids, nil
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: testrelay version [-json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("testrelay %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}
