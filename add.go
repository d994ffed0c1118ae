package xar

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mackyle/xar/internal/platform"
	"github.com/mackyle/xar/internal/toc"
)

// Add records the filesystem object at fsPath. Member paths are relative
// to the parent of fsPath, so adding "/src/d" yields "d", "d/f1" and so on.
//
// A directory added without recursive records only the directory itself.
// With recursive, the tree below it is walked depth first in lexical order
// and every directory, regular file and symlink becomes a member. Symlinks
// are recorded with their target and never followed. Other file types are
// skipped.
//
// A missing fsPath returns ErrEngine (also matching fs.ErrNotExist). A
// path that is already recorded returns ErrArchive. On any error no member
// from this call is recorded.
func (w *Writer) Add(fsPath string, recursive bool) error {
	if err := w.checkOpen(); err != nil {
		return err
	}

	abs, err := filepath.Abs(fsPath)
	if err != nil {
		return fmt.Errorf("%w: add %s: %w", ErrEngine, fsPath, err)
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return fmt.Errorf("%w: add %s: %w", ErrEngine, fsPath, err)
	}
	parent, base := filepath.Dir(abs), filepath.Base(abs)
	if parent == abs {
		return fmt.Errorf("%w: add %s: cannot add a filesystem root", ErrInvalidPath, fsPath)
	}

	root, err := os.OpenRoot(parent)
	if err != nil {
		return fmt.Errorf("%w: add %s: %w", ErrEngine, fsPath, err)
	}
	defer root.Close()

	a := &adder{w: w, root: root, seen: make(map[string]struct{})}
	w.reportProgress(StageEnumerating, base, 0, 0, 0, 0)

	if !info.IsDir() || !recursive {
		err = a.add(filepath.ToSlash(base), info)
	} else {
		err = fs.WalkDir(root.FS(), filepath.ToSlash(base), func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			return a.add(path, info)
		})
	}
	if err != nil {
		return classifyAddError(fsPath, err)
	}

	for _, m := range a.staged {
		w.members.add(m)
	}
	w.log().Debug("added", "path", fsPath, "members", len(a.staged))
	return nil
}

// errDuplicate marks a member path that is already recorded.
var errDuplicate = errors.New("duplicate member")

func classifyAddError(fsPath string, err error) error {
	switch {
	case errors.Is(err, errDuplicate):
		return fmt.Errorf("%w: add %s: %w", ErrArchive, fsPath, err)
	case errors.Is(err, ErrEngine), errors.Is(err, ErrArchive):
		return err
	case errors.Is(err, platform.ErrTooLarge):
		return fmt.Errorf("%w: add %s: %w: %w", ErrEngine, fsPath, ErrSizeOverflow, err)
	default:
		return fmt.Errorf("%w: add %s: %w", ErrEngine, fsPath, err)
	}
}

// adder stages the members of one Add call.
type adder struct {
	w      *Writer
	root   *os.Root
	staged []Member
	seen   map[string]struct{}
	bytes  uint64
}

func (a *adder) add(path string, info fs.FileInfo) error {
	if !toc.ValidPath(path) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if _, dup := a.seen[path]; dup || a.w.members.has(path) {
		return fmt.Errorf("%w: %q", errDuplicate, path)
	}

	mode := info.Mode()
	uid, gid := platform.FileOwner(info)
	m := Member{
		Path:    path,
		Mode:    mode & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky),
		ModTime: info.ModTime(),
		UID:     uid,
		GID:     gid,
	}

	name := filepath.FromSlash(path)
	var payload []byte
	switch {
	case mode.IsDir():
		m.Type = TypeDirectory
	case mode.IsRegular():
		m.Type = TypeFile
		data, err := platform.ReadFileNoFollow(a.root, name, a.w.cfg.maxFileSize)
		if err != nil {
			return err
		}
		payload = data
	case mode&fs.ModeSymlink != 0:
		target, err := a.root.Readlink(name)
		if err != nil {
			return err
		}
		m.Type = TypeSymlink
		m.LinkTarget = target
		payload = []byte(target)
	default:
		a.w.log().Debug("skipped special file", "path", path, "mode", mode.String())
		return nil
	}

	if m.HasData() {
		if err := a.w.storePayload(&m, payload); err != nil {
			return fmt.Errorf("store %s: %w", path, err)
		}
		a.bytes += m.Size
	}
	a.seen[path] = struct{}{}
	a.staged = append(a.staged, m)
	a.w.reportProgress(StageCompressing, path, a.bytes, 0, len(a.w.members.list)+len(a.staged), 0)
	return nil
}
