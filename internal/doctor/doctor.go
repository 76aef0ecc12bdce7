// Package doctor checks a loaded studiobridge configuration against the
// machine it will run on.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/studiobridge/internal/config"
	"github.com/mattjoyce/studiobridge/internal/plugin"
	"github.com/mattjoyce/studiobridge/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against the local environment.
type Doctor struct {
	cfg     *config.Config
	getenv  func(string) string
	stat    func(string) (os.FileInfo, error)
	fscheck func(string) error
}

// New creates a Doctor for a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{
		cfg:     cfg,
		getenv:  os.Getenv,
		stat:    os.Stat,
		fscheck: storage.CheckLocalFilesystem,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServer(r)
	d.validateGenerator(r)
	d.validateState(r)
	d.validatePlugin(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateServer checks the listen address and poll bound.
func (d *Doctor) validateServer(r *Result) {
	host, port, err := net.SplitHostPort(d.cfg.Server.Listen)
	if err != nil {
		d.addError(r, "server", "server.listen",
			fmt.Sprintf("invalid listen address %q: %v", d.cfg.Server.Listen, err))
	} else {
		if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
			d.addError(r, "server", "server.listen", fmt.Sprintf("invalid port %q", port))
		}
		if !isLoopback(host) {
			d.addWarning(r, "server", "server.listen",
				fmt.Sprintf("listening on %q exposes /prompt and /run without authentication; prefer 127.0.0.1", host))
		}
	}

	if d.cfg.Server.PollTimeout > time.Minute {
		d.addWarning(r, "server", "server.poll_timeout",
			fmt.Sprintf("poll_timeout %s is unusually long (> 1m); the plugin may give up first", d.cfg.Server.PollTimeout))
	}
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// validateGenerator checks that the credential for /prompt is available.
func (d *Doctor) validateGenerator(r *Result) {
	g := d.cfg.Generator
	if g.APIKeyEnv != "" && d.getenv(g.APIKeyEnv) == "" {
		d.addWarning(r, "env_vars", "generator.api_key_env",
			fmt.Sprintf("environment variable %s not set; /prompt will fail until it is", g.APIKeyEnv))
	}
	if g.CodeFence == "" {
		d.addWarning(r, "generator", "generator.code_fence",
			"code_fence is empty; any fenced block will be sent to Studio")
	}
	if g.Endpoint != "" {
		u, err := url.Parse(g.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			d.addError(r, "generator", "generator.endpoint",
				fmt.Sprintf("endpoint %q is not an http(s) URL", g.Endpoint))
		}
	}
}

// validateState checks the history database location.
func (d *Doctor) validateState(r *Result) {
	if !d.cfg.State.HistoryEnabled() {
		return
	}
	if d.cfg.State.Path == "" {
		d.addError(r, "state", "state.path", "state.path is required when history is enabled")
		return
	}
	if err := d.fscheck(d.cfg.State.Path); err != nil {
		d.addError(r, "state", "state.path", err.Error())
	}
}

// validatePlugin checks the artifact used by the install command.
func (d *Doctor) validatePlugin(r *Result) {
	info, err := d.stat(d.cfg.Plugin.Artifact)
	switch {
	case errors.Is(err, os.ErrNotExist):
		d.addWarning(r, "plugin", "plugin.artifact",
			fmt.Sprintf("plugin artifact %s not found; install will fail", d.cfg.Plugin.Artifact))
	case err != nil:
		d.addWarning(r, "plugin", "plugin.artifact", err.Error())
	case info.IsDir():
		d.addError(r, "plugin", "plugin.artifact",
			fmt.Sprintf("plugin artifact %s is a directory", d.cfg.Plugin.Artifact))
	}

	if d.cfg.Plugin.InstallDir == "" {
		if _, err := plugin.DefaultPluginsDir(); err != nil {
			d.addWarning(r, "plugin", "plugin.install_dir",
				"no default Studio plugins directory on this platform; set plugin.install_dir or pass --dest")
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
