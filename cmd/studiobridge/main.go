package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "serve", "--serve":
		if hasHelpFlag(args) {
			printServeHelp()
			return 0
		}
		return runServe(args)
	case "install":
		if hasHelpFlag(args) {
			printInstallHelp()
			return 0
		}
		return runInstall(args)
	case "config":
		return runConfigNoun(args)
	case "status":
		if hasHelpFlag(args) {
			printStatusHelp()
			return 0
		}
		return runStatus(args)
	case "history":
		if hasHelpFlag(args) {
			printHistoryHelp()
			return 0
		}
		return runHistory(args)
	case "monitor":
		if hasHelpFlag(args) {
			printMonitorHelp()
			return 0
		}
		return runMonitor(args)
	case "doctor": // Alias for config check
		return runConfigCheck(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := pflag.NewFlagSet("version", pflag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: studiobridge version [--json]")
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

	fmt.Printf("studiobridge %s\n", info.Version)
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

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
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

func printUsage() {
	fmt.Print(`studiobridge - bridge between Roblox Studio and synchronous callers

Usage:
  studiobridge <command> [flags]

Server:
  serve             Run the bridge server in the foreground (alias: --serve)
  status            Show health of a running server
  monitor           Real-time TUI of tool calls and prompts
  history           List recent prompts and runs

Setup:
  install           Copy the Studio plugin into the Roblox plugins directory
  config check      Validate configuration against this machine
  config show       Print the effective configuration

General:
  version           Show version information
  help              Show this help message

Use 'studiobridge <command> --help' for command flags.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printServeHelp() {
	fmt.Println("Usage: studiobridge serve [--config PATH] [--listen ADDR] [--no-history]")
	fmt.Println("Run the bridge server in the foreground.")
}

func printInstallHelp() {
	fmt.Println("Usage: studiobridge install [--config PATH] [--artifact FILE] [--dest DIR] [--force]")
	fmt.Println("Copy the Studio plugin into the Roblox plugins directory.")
}

func printStatusHelp() {
	fmt.Println("Usage: studiobridge status [--config PATH] [--url URL] [--json]")
	fmt.Println("Show health of a running server.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Server reachable and healthy")
	fmt.Println("  1  Server unreachable or unhealthy")
}

func printHistoryHelp() {
	fmt.Println("Usage: studiobridge history [--config PATH] [--url URL] [--limit N] [--json]")
	fmt.Println("List recent prompts and runs recorded by a running server.")
}

func printMonitorHelp() {
	fmt.Println("Usage: studiobridge monitor [--config PATH] [--url URL]")
	fmt.Println("Launch the real-time TUI dashboard.")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: studiobridge config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: studiobridge config check [--config PATH] [--json]")
	fmt.Println("Validate configuration against this machine.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: studiobridge config show [--config PATH] [--json]")
	fmt.Println("Print the effective configuration after defaults and env interpolation.")
}
