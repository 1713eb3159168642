package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Local stores media on the local filesystem under a base directory.
type Local struct {
	baseDir string
}

func NewLocal(baseDir string) *Local {
	return &Local{baseDir: baseDir}
}

// Save writes the stream to a file under the base directory, picking a
// non-clobbering name when the target already exists. Names that resolve
// outside the base directory are rejected.
func (l *Local) Save(ctx context.Context, name string, r io.Reader, size int64, mime string) (string, error) {
	destPath := filepath.Join(filepath.Clean(l.baseDir), filepath.Clean(name))
	if !l.contains(destPath) {
		return "", fmt.Errorf("name escapes media directory: %s", name)
	}
	destPath = l.uniquePath(destPath)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", fmt.Errorf("create media directory: %w", err)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(destPath)
		return "", fmt.Errorf("write media file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close media file: %w", err)
	}
	return destPath, nil
}

// Open returns the stored file for reading.
func (l *Local) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if !l.contains(filepath.Clean(ref)) {
		return nil, fmt.Errorf("reference outside media directory: %s", ref)
	}
	return os.Open(ref)
}

// contains reports whether the cleaned path lies strictly under the base
// directory. The separator matters: /a/bad is not under /a/b.
func (l *Local) contains(path string) bool {
	return strings.HasPrefix(path, filepath.Clean(l.baseDir)+string(filepath.Separator))
}

func (l *Local) uniquePath(destPath string) string {
	if _, err := os.Stat(destPath); os.IsNotExist(err) {
		return destPath
	}
	ext := filepath.Ext(destPath)
	base := strings.TrimSuffix(destPath, ext)
	for idx := 1; idx <= 1000; idx++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, idx, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
	return fmt.Sprintf("%s-%d%s", base, time.Now().UnixNano(), ext)
}

var _ Store = (*Local)(nil)
