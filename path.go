package refconf

import (
	"path/filepath"

	"github.com/spf13/afero"
)

// PathContext is the absolute directory relative references are resolved against.
type PathContext struct {
	dir string
}

// NewPathContext absolutizes and cleans dir. If dir names an existing file its
// parent directory is used; a missing path is taken to be a directory.
func NewPathContext(fs afero.Fs, dir string) PathContext {
	if dir == "" {
		dir = "."
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return PathContext{dir: directoryOf(fs, filepath.Clean(dir))}
}

// Dir returns the absolute directory.
func (p PathContext) Dir() string {
	return p.dir
}

// Rebase resolves ref against ctx. Absolute references ignore ctx. The
// returned context is the directory containing resolved, or resolved itself
// when it is a directory or does not exist.
// Reference paths use forward slashes on every platform.
func Rebase(fs afero.Fs, ctx PathContext, ref string) (resolved string, next PathContext) {
	ref = filepath.FromSlash(ref)
	if filepath.IsAbs(ref) {
		resolved = filepath.Clean(ref)
	} else {
		base := ctx.dir
		if base == "" {
			base = NewPathContext(fs, ".").dir
		}
		resolved = filepath.Join(base, ref)
	}
	return resolved, PathContext{dir: directoryOf(fs, resolved)}
}

func directoryOf(fs afero.Fs, path string) string {
	info, err := fs.Stat(path)
	if err != nil || info.IsDir() {
		return path
	}
	return filepath.Dir(path)
}
