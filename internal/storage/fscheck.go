package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// errDetectUnsupported means the platform cannot report a filesystem type.
// The check passes in that case.
var errDetectUnsupported = errors.New("filesystem detection is unsupported on this platform")

// sharedFilesystems are types on which SQLite's file locking is unreliable.
var sharedFilesystems = []string{"9p", "afpfs", "afs", "cifs", "nfs", "smb2", "smbfs", "webdav"}

// ErrNetworkFilesystem is returned when the history database would live on
// a shared mount.
var ErrNetworkFilesystem = errors.New("history database is on a network filesystem")

type fsDetector func(path string) (string, error)

// CheckLocalFilesystem fails when path would put the history database on a
// network share.
func CheckLocalFilesystem(path string) error {
	return checkFilesystem(path, detectFilesystemType)
}

func checkFilesystem(path string, detect fsDetector) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	existing, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}

	fsType, err := detect(existing)
	switch {
	case errors.Is(err, errDetectUnsupported):
		return nil
	case err != nil:
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	case isNetworkFilesystem(fsType):
		return fmt.Errorf("%w: %q is on %s; point state.path at a local disk or set state.history: false",
			ErrNetworkFilesystem, path, fsType)
	}
	return nil
}

// existingAncestor walks up from path to the first entry that exists, so the
// check works before the database directory is created.
func existingAncestor(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(dir)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		dir = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	fsType = strings.ToLower(strings.TrimSpace(fsType))
	for _, shared := range sharedFilesystems {
		if fsType == shared {
			return true
		}
	}
	return false
}
