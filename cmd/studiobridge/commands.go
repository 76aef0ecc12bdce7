package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/mattjoyce/studiobridge/internal/api"
	"github.com/mattjoyce/studiobridge/internal/config"
	"github.com/mattjoyce/studiobridge/internal/doctor"
	"github.com/mattjoyce/studiobridge/internal/history"
	"github.com/mattjoyce/studiobridge/internal/plugin"
	"github.com/mattjoyce/studiobridge/internal/tui"
)

// parseFlags parses args, returning (exit code, done). done is true when the
// caller should return the exit code immediately.
func parseFlags(fs *pflag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0, true
		}
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1, true
	}
	return 0, false
}

// --- install ---

func runInstall(args []string) int {
	fs := pflag.NewFlagSet("install", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "Path to configuration file")
	artifact := fs.String("artifact", "", "Plugin file to install (default: plugin.artifact)")
	dest := fs.String("dest", "", "Studio plugins directory (default: plugin.install_dir or platform default)")
	force := fs.Bool("force", false, "Copy even if the installed plugin is identical")
	if code, done := parseFlags(fs, args); done {
		return code
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	if *artifact == "" {
		*artifact = cfg.Plugin.Artifact
	}
	if *dest == "" {
		*dest = cfg.Plugin.InstallDir
	}

	res, err := plugin.Install(plugin.Options{Artifact: *artifact, Dest: *dest, Force: *force})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to install Roblox Studio plugin: %v\n", err)
		return 1
	}

	if res.Skipped {
		fmt.Printf("Roblox Studio plugin at %s is already up to date (blake3:%s)\n", res.Path, res.Checksum[:12])
	} else {
		fmt.Printf("Installed Roblox Studio plugin to %s\n", res.Path)
	}
	fmt.Println()
	fmt.Print(plugin.NextSteps(cfg.Server.Listen, cfg.Generator.APIKeyEnv))
	return 0
}

// --- config ---

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := pflag.NewFlagSet("check", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if code, done := parseFlags(fs, args); done {
		return code
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		if *jsonOut {
			out, _ := doctor.FormatJSON(&doctor.Result{
				Valid:  false,
				Errors: []doctor.Issue{{Category: "config", Message: err.Error()}},
			})
			fmt.Println(out)
		} else {
			fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		}
		return 1
	}

	result := doctor.New(cfg).Validate()
	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
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

func runConfigShow(args []string) int {
	fs := pflag.NewFlagSet("show", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if code, done := parseFlags(fs, args); done {
		return code
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	data, err := config.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

// --- client commands ---

// serverURL returns the base URL of the configured server. A wildcard listen
// host is dialed on loopback.
func serverURL(cfg *config.Config, override string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	host, port, err := net.SplitHostPort(cfg.Server.Listen)
	if err != nil {
		return "http://" + cfg.Server.Listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func clientConfig(fs *pflag.FlagSet, args []string) (string, bool, int, bool) {
	configPath := fs.StringP("config", "c", "", "Path to configuration file")
	url := fs.String("url", "", "Server URL (default: derived from server.listen)")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if code, done := parseFlags(fs, args); done {
		return "", false, code, true
	}
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return "", false, 1, true
	}
	return serverURL(cfg, *url), *jsonOut, 0, false
}

func getJSON(url string, v any) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func runStatus(args []string) int {
	fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
	baseURL, jsonOut, code, done := clientConfig(fs, args)
	if done {
		return code
	}

	var health api.HealthzResponse
	if err := getJSON(baseURL+"/healthz", &health); err != nil {
		fmt.Fprintf(os.Stderr, "Server at %s unreachable: %v\n", baseURL, err)
		return 1
	}

	if jsonOut {
		data, _ := json.MarshalIndent(health, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("server:   %s\n", baseURL)
		fmt.Printf("status:   %s\n", health.Status)
		fmt.Printf("version:  %s\n", health.Version)
		fmt.Printf("uptime:   %s\n", (time.Duration(health.UptimeSeconds) * time.Second).String())
		fmt.Printf("queue:    %d\n", health.QueueDepth)
		fmt.Printf("pending:  %d\n", health.PendingCalls)
		fmt.Printf("history:  %t\n", health.HistoryOn)
	}

	if health.Status != "ok" {
		return 1
	}
	return 0
}

func runHistory(args []string) int {
	fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
	limit := fs.IntP("limit", "n", history.DefaultLimit, "Number of entries to show")
	baseURL, jsonOut, code, done := clientConfig(fs, args)
	if done {
		return code
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be positive")
		return 1
	}

	var entries []history.Entry
	if err := getJSON(baseURL+"/history?limit="+strconv.Itoa(*limit), &entries); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read history from %s: %v\n", baseURL, err)
		return 1
	}

	if jsonOut {
		data, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	if len(entries) == 0 {
		fmt.Println("No history.")
		return 0
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tSOURCE\tSTATUS\tPROMPT")
	for _, e := range entries {
		status := "ok"
		if e.Error != "" {
			status = "error"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Source, status, truncate(e.Prompt, 60))
	}
	_ = tw.Flush()
	return 0
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func runMonitor(args []string) int {
	fs := pflag.NewFlagSet("monitor", pflag.ContinueOnError)
	baseURL, _, code, done := clientConfig(fs, args)
	if done {
		return code
	}

	m := tui.NewMonitor(baseURL)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
