package refconf

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MaxSnapshotSize is the maximum allowed snapshot size (100MB).
const MaxSnapshotSize = 100 * 1024 * 1024

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = "1.0"

// Snapshot errors.
var (
	// ErrSnapshotTooLarge is returned when a snapshot exceeds MaxSnapshotSize.
	ErrSnapshotTooLarge = errors.New("refconf: snapshot exceeds 100MB size limit")

	// ErrUnsupportedVersion is returned when reading a snapshot with unknown version.
	ErrUnsupportedVersion = errors.New("refconf: unsupported snapshot version")
)

// ConfigSnapshot is a point-in-time capture of a resolved configuration.
type ConfigSnapshot struct {
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`

	// Config is the resolved tree as JSON with mapping order preserved.
	Config json.RawMessage `json:"config"`
}

// CreateSnapshot captures v. Redaction options from DumpEffective apply.
func CreateSnapshot(v Value, opts ...DumpOption) (*ConfigSnapshot, error) {
	var buf bytes.Buffer
	if err := DumpEffective(&buf, v, append(opts, AsJSON(), WithIndent(""))...); err != nil {
		return nil, err
	}
	return &ConfigSnapshot{
		Version:   SnapshotVersion,
		Timestamp: time.Now().UTC(),
		Config:    json.RawMessage(bytes.TrimSpace(buf.Bytes())),
	}, nil
}

// ReadSnapshot loads a snapshot written by WriteSnapshot and decodes its
// configuration with mapping order preserved.
func ReadSnapshot(path string) (*ConfigSnapshot, Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Value{}, err
	}
	var snap ConfigSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, Value{}, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	if snap.Version != SnapshotVersion {
		return nil, Value{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, snap.Version)
	}
	v, err := DecodeJSON(snap.Config)
	if err != nil {
		return nil, Value{}, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return &snap, v, nil
}

// ExpandPath expands template variables using current time.
func ExpandPath(template string) string {
	return ExpandPathWithTime(template, time.Now())
}

// ExpandPathWithTime replaces all {{timestamp}} occurrences with t formatted
// as 20060102-150405 (UTC).
func ExpandPathWithTime(template string, t time.Time) string {
	timestamp := t.UTC().Format("20060102-150405")
	return strings.ReplaceAll(template, "{{timestamp}}", timestamp)
}

// WriteSnapshot persists a snapshot to disk with atomic write semantics.
// {{timestamp}} in pathTemplate expands to snapshot.Timestamp so the file
// name matches the content. Returns the written path.
func WriteSnapshot(snapshot *ConfigSnapshot, pathTemplate string) (string, error) {
	if snapshot == nil {
		return "", errors.New("refconf: snapshot is nil")
	}

	targetPath := ExpandPathWithTime(pathTemplate, snapshot.Timestamp)

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", err
	}

	if len(data) > MaxSnapshotSize {
		return "", ErrSnapshotTooLarge
	}

	dir := filepath.Dir(targetPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return "", err
		}
	}

	tempPath, err := generateTempFileName(targetPath)
	if err != nil {
		return "", err
	}

	var tempFileCreated bool
	defer func() {
		if tempFileCreated {
			_ = os.Remove(tempPath)
		}
	}()

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return "", err
	}
	tempFileCreated = true

	if err := os.Rename(tempPath, targetPath); err != nil {
		return "", err
	}
	tempFileCreated = false

	return targetPath, nil
}

// generateTempFileName returns targetPath + ".tmp." + 16 random hex chars.
// The temp file sits next to the target so the rename stays on one filesystem.
func generateTempFileName(targetPath string) (string, error) {
	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	return targetPath + ".tmp." + hex.EncodeToString(randomBytes), nil
}
