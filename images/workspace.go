package images

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Workspace is a private temporary directory holding images handed to an
// external detector.
type Workspace struct {
	// Dir is the absolute path of the directory.
	Dir string
}

// NewWorkspace creates a fresh temporary directory.
//
// Arguments:
//   - prefix: Prefix of the directory name, e.g. "yolo-run-".
//
// Returns:
//   - *Workspace: The workspace. The caller owns it and must call Remove.
//   - error: Non-nil if the directory cannot be created.
func NewWorkspace(prefix string) (*Workspace, error) {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create temp dir")
	}
	return &Workspace{Dir: dir}, nil
}

// Write stores data in the workspace under name and returns its path.
func (w *Workspace) Write(name string, data []byte) (string, error) {
	path := filepath.Join(w.Dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", path)
	}
	return path, nil
}

// WriteImage stores the image bytes as input<ext> and records the path on img.
func (w *Workspace) WriteImage(img *Image) (string, error) {
	path, err := w.Write("input"+img.Format.Ext(), img.Data)
	if err != nil {
		return "", err
	}
	img.Path = path
	return path, nil
}

// Remove deletes the workspace and everything in it.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.Dir)
}
