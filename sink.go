package xar

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// fileSink writes extracted members below a root directory. Files are
// written to a temp file in the same directory and renamed into place, so
// a partially written payload is never visible at its final path.
type fileSink struct {
	root          *os.Root
	overwrite     bool
	preserveMode  bool
	preserveTimes bool
}

func newFileSink(root *os.Root, cfg *extractConfig) *fileSink {
	return &fileSink{
		root:          root,
		overwrite:     cfg.overwrite,
		preserveMode:  cfg.preserveMode,
		preserveTimes: cfg.preserveTimes,
	}
}

func (s *fileSink) mkdirParent(name string) error {
	dir := filepath.Dir(name)
	if dir == "." {
		return nil
	}
	if err := s.root.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

// clear prepares name for a new non-directory entry.
func (s *fileSink) clear(name string) error {
	info, err := s.root.Lstat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !s.overwrite {
		return fmt.Errorf("%s: %w", name, fs.ErrExist)
	}
	if info.IsDir() {
		return fmt.Errorf("%s: is a directory", name)
	}
	return s.root.Remove(name)
}

// writeFile writes data to name atomically.
func (s *fileSink) writeFile(name string, m *Member, data []byte) error {
	if err := s.mkdirParent(name); err != nil {
		return err
	}
	if !s.overwrite {
		if _, err := s.root.Lstat(name); err == nil {
			return fmt.Errorf("%s: %w", name, fs.ErrExist)
		}
	}

	tmp, tmpName, err := createTempFile(s.root, filepath.Dir(name), ".xar-")
	if err != nil {
		return err
	}
	success := false
	defer func() {
		if !success {
			tmp.Close()
			_ = s.root.Remove(tmpName) //nolint:errcheck // best-effort cleanup
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := s.applyMetadata(tmpName, m); err != nil {
		return err
	}
	if err := s.clear(name); err != nil {
		return err
	}
	if err := s.root.Rename(tmpName, name); err != nil {
		return fmt.Errorf("rename to %s: %w", name, err)
	}
	success = true
	return nil
}

// mkdir creates the directory name. An existing directory is reused.
func (s *fileSink) mkdir(name string) error {
	info, err := s.root.Lstat(name)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		if err := s.clear(name); err != nil {
			return err
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}
	if err := s.root.MkdirAll(name, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", name, err)
	}
	return nil
}

// symlink creates name pointing at target.
func (s *fileSink) symlink(name, target string) error {
	if err := s.mkdirParent(name); err != nil {
		return err
	}
	if err := s.clear(name); err != nil {
		return err
	}
	if err := s.root.Symlink(target, name); err != nil {
		return fmt.Errorf("symlink %s: %w", name, err)
	}
	return nil
}

// applyMetadata applies mode and time metadata to name.
func (s *fileSink) applyMetadata(name string, m *Member) error {
	if s.preserveMode {
		if err := s.root.Chmod(name, m.Mode); err != nil {
			return fmt.Errorf("chmod %s: %w", name, err)
		}
	}
	if s.preserveTimes && !m.ModTime.IsZero() {
		if err := s.root.Chtimes(name, m.ModTime, m.ModTime); err != nil {
			return fmt.Errorf("chtimes %s: %w", name, err)
		}
	}
	return nil
}

func createTempFile(root *os.Root, dir, prefix string) (*os.File, string, error) {
	const attempts = 10
	for range attempts {
		name, err := randomSuffix()
		if err != nil {
			return nil, "", err
		}
		relPath := filepath.Join(dir, prefix+name)
		f, err := root.OpenFile(relPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, relPath, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", errors.New("create temp file: exhausted retries")
}

func randomSuffix() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
