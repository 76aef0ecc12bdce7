// Package plugin installs the Roblox Studio companion plugin that polls
// studiobridge for work.
package plugin

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/zeebo/blake3"
)

// ArtifactName is the file name Studio loads the plugin from.
const ArtifactName = "MCPStudioPlugin.rbxm"

// ErrNoPluginsDir is returned when the Studio plugins directory cannot be
// derived for this platform and no destination was given.
var ErrNoPluginsDir = errors.New("cannot locate the Roblox Studio plugins directory on this platform; pass --dest")

// Options controls a single install.
type Options struct {
	// Artifact is the built plugin file to copy.
	Artifact string
	// Dest overrides the Studio plugins directory.
	Dest string
	// Force copies even when the installed file already matches.
	Force bool
}

// Result describes what Install did.
type Result struct {
	Path     string
	Checksum string
	Skipped  bool
}

// Install copies the plugin artifact into the Studio plugins directory.
// The copy is skipped when the installed file already has the same BLAKE3
// hash, unless Force is set.
func Install(opts Options) (*Result, error) {
	if opts.Artifact == "" {
		return nil, fmt.Errorf("plugin artifact path is empty")
	}
	info, err := os.Stat(opts.Artifact)
	if err != nil {
		return nil, fmt.Errorf("plugin artifact: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("plugin artifact is a directory: %s", opts.Artifact)
	}

	dir := opts.Dest
	if dir == "" {
		dir, err = DefaultPluginsDir()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plugins directory: %w", err)
	}

	want, err := ComputeBlake3Hash(opts.Artifact)
	if err != nil {
		return nil, err
	}

	target := filepath.Join(dir, ArtifactName)
	if !opts.Force {
		if have, err := ComputeBlake3Hash(target); err == nil && have == want {
			return &Result{Path: target, Checksum: want, Skipped: true}, nil
		}
	}

	if err := copyFile(opts.Artifact, target); err != nil {
		return nil, fmt.Errorf("could not write Roblox plugin file at %s: %w", target, err)
	}
	return &Result{Path: target, Checksum: want}, nil
}

// DefaultPluginsDir returns the Studio plugins directory for the running OS.
func DefaultPluginsDir() (string, error) {
	return pluginsDirFor(runtime.GOOS, os.Getenv, os.UserHomeDir)
}

func pluginsDirFor(goos string, getenv func(string) string, home func() (string, error)) (string, error) {
	switch goos {
	case "windows":
		base := getenv("LOCALAPPDATA")
		if base == "" {
			return "", fmt.Errorf("%w: LOCALAPPDATA is not set", ErrNoPluginsDir)
		}
		return filepath.Join(base, "Roblox", "Plugins"), nil
	case "darwin":
		h, err := home()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoPluginsDir, err)
		}
		return filepath.Join(h, "Documents", "Roblox", "Plugins"), nil
	default:
		return "", ErrNoPluginsDir
	}
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", filepath.Base(filePath), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyFile writes src to dst through a temp file in the same directory so
// Studio never loads a half-written plugin.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".studiobridge-*.rbxm")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}
