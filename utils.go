package lbltools

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adrg/xdg"
	"go.uber.org/zap"
)

const appDirName = "label-studio" // The application directory name for user data and cache.

// DataDir returns the per-user data directory of the labeling tool, creating it if necessary.
func DataDir() (string, error) {
	return ensureDir(filepath.Join(xdg.DataHome, appDirName))
}

// CacheDir returns the per-user cache directory of the labeling tool, creating it if necessary.
func CacheDir() (string, error) {
	return ensureDir(filepath.Join(xdg.CacheHome, appDirName))
}

func ensureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("cannot create directory %q: %w", dir, err)
	}
	return dir, nil
}

// WithTempDir creates a temporary directory, calls fn with its path and removes the directory
// and its contents again, even if fn fails.
func WithTempDir(fn func(dir string) error) (err error) {
	dir, err := os.MkdirTemp("", "lbltools-")
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil && err == nil {
			err = rmErr
		}
	}()

	return fn(dir)
}

// AllFilesFromDir returns the paths of all regular files (or symlinks) found directly in directory
// dirPath, sorted by name.
func AllFilesFromDir(dirPath string) ([]string, error) {
	return filesByExtInDir(dirPath, "")
}

// filesByExtInDir returns all regular files with file extension ext found directly in directory
// dirPath, sorted by name. All files are returned if ext is empty.
func filesByExtInDir(dirPath, ext string) ([]string, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read directory %q: %w", dirPath, err)
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		// Must be a regular file or a symlink and have the requested extension/suffix.
		if (!e.Type().IsRegular() && e.Type()&os.ModeSymlink == 0) || !strings.HasSuffix(name, ext) {
			continue
		}
		files = append(files, filepath.Join(dirPath, name))
	}
	sort.Strings(files)

	logger.Debug("Listed directory", zap.String("dir", dirPath), zap.Int("files", len(files)))
	return files, nil
}

// splitPath splits the given file path into the dir name, the base name without extension and the
// extension (without the dot).
func splitPath(path string) (dir, baseNoExt, ext string, err error) {
	dir, file := filepath.Split(path)
	ext = filepath.Ext(file)
	if ext == "" {
		return "", "", "", fmt.Errorf("missing file extension in %q", path)
	}

	dir = strings.TrimSuffix(dir, string(os.PathSeparator))
	baseNoExt = file[0 : len(file)-len(ext)]
	ext = ext[1:]

	return dir, baseNoExt, ext, nil
}

// fileExists reports whether path exists. Errors other than non-existence count as existing, so
// that callers surface them when accessing the path.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !os.IsNotExist(err)
}

// copyFile copies the file at src into the directory dstDir, keeping its base name.
func copyFile(src, dstDir string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer closeWithErrCheck(in, &err)

	out, err := os.Create(filepath.Join(dstDir, filepath.Base(src)))
	if err != nil {
		return err
	}
	defer closeWithErrCheck(out, &err)

	_, err = io.Copy(out, in)
	return err
}

// closeWithErrCheck calls c.Close(). If it returns an error, and (*e == nil), e is set to that
// error.
func closeWithErrCheck(c io.Closer, e *error) {
	err := c.Close()
	if err != nil && *e == nil {
		*e = err
	}
}
