package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), ArtifactName)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestInstallCopiesArtifact(t *testing.T) {
	src := writeArtifact(t, "rbxm-v1")
	dest := filepath.Join(t.TempDir(), "Roblox", "Plugins")

	res, err := Install(Options{Artifact: src, Dest: dest})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, filepath.Join(dest, ArtifactName), res.Path)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "rbxm-v1", string(got))

	want, err := ComputeBlake3Hash(src)
	require.NoError(t, err)
	assert.Equal(t, want, res.Checksum)
	assert.Len(t, res.Checksum, 64)
}

func TestInstallSkipsMatchingFile(t *testing.T) {
	src := writeArtifact(t, "rbxm-v1")
	dest := t.TempDir()

	_, err := Install(Options{Artifact: src, Dest: dest})
	require.NoError(t, err)

	res, err := Install(Options{Artifact: src, Dest: dest})
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	res, err = Install(Options{Artifact: src, Dest: dest, Force: true})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
}

func TestInstallReplacesChangedFile(t *testing.T) {
	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, ArtifactName), []byte("old"), 0o644))

	src := writeArtifact(t, "new")
	res, err := Install(Options{Artifact: src, Dest: dest})
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestInstallMissingArtifact(t *testing.T) {
	_, err := Install(Options{Artifact: filepath.Join(t.TempDir(), "missing.rbxm"), Dest: t.TempDir()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = Install(Options{Dest: t.TempDir()})
	require.Error(t, err)
}

func TestPluginsDirFor(t *testing.T) {
	env := func(vals map[string]string) func(string) string {
		return func(k string) string { return vals[k] }
	}
	home := func() (string, error) { return "/Users/dev", nil }

	got, err := pluginsDirFor("windows", env(map[string]string{"LOCALAPPDATA": `C:\Users\dev\AppData\Local`}), home)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(`C:\Users\dev\AppData\Local`, "Roblox", "Plugins"), got)

	_, err = pluginsDirFor("windows", env(nil), home)
	assert.ErrorIs(t, err, ErrNoPluginsDir)

	got, err = pluginsDirFor("darwin", env(nil), home)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/Users/dev", "Documents", "Roblox", "Plugins"), got)

	_, err = pluginsDirFor("linux", env(nil), home)
	assert.ErrorIs(t, err, ErrNoPluginsDir)
}

func TestNextSteps(t *testing.T) {
	msg := NextSteps("127.0.0.1:44755", "GEMINI_API_KEY")
	assert.Contains(t, msg, "'GEMINI_API_KEY'")
	assert.Contains(t, msg, "http://127.0.0.1:44755/prompt")
	assert.Contains(t, msg, "enable 'MCPStudioPlugin'")
	assert.True(t, strings.HasSuffix(msg, "plugins directory.\n"))
}
