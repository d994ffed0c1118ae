package xar

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Mode is the access mode an archive is opened in.
type Mode uint8

const (
	ModeRead Mode = iota
	ModeWrite
)

// String returns "r" or "w".
func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "r"
	case ModeWrite:
		return "w"
	default:
		return "unknown"
	}
}

// ParseMode parses "r" or "w".
func ParseMode(s string) (Mode, error) {
	switch strings.TrimSpace(s) {
	case "r":
		return ModeRead, nil
	case "w":
		return ModeWrite, nil
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrEngine, s)
}

// Archive is the mode-independent archive surface. Operations that do not
// apply to the archive's mode return ErrArchive.
type Archive interface {
	Mode() Mode

	// Add records the file, directory or symlink at fsPath, and with
	// recursive set everything below a directory.
	Add(fsPath string, recursive bool) error

	// Close finalizes a writer or releases a reader. Calling it again is a no-op.
	Close() error

	Members() ([]Member, error)
	Names() ([]string, error)
	Member(path string) (Member, error)

	Extract(path, dest string, opts ...ExtractOption) error
	ExtractMember(m Member, dest string, opts ...ExtractOption) error

	AddSubdoc(s Subdoc) error
	RemoveSubdoc(name string) error
	GetSubdoc(name string) (Subdoc, error)
	Subdocs() ([]Subdoc, error)
	SubdocNames() ([]string, error)
}

// Interface compliance.
var (
	_ Archive = (*Writer)(nil)
	_ Archive = (*Reader)(nil)
)

// Open opens path in the given mode. ModeWrite behaves like Create and
// ModeRead like OpenReader.
func Open(path string, mode Mode, opts ...Option) (Archive, error) {
	switch mode {
	case ModeRead:
		return OpenReader(path, opts...)
	case ModeWrite:
		return Create(path, opts...)
	}
	return nil, fmt.Errorf("%w: unknown mode %d", ErrEngine, mode)
}

// archive holds the state shared by Reader and Writer: the ordered member
// and subdocument tables and the ambient configuration.
type archive struct {
	path    string
	cfg     config
	members memberSet
	subdocs subdocSet
	closed  bool
}

func newArchive(path string, cfg config) archive {
	return archive{
		path:    path,
		cfg:     cfg,
		members: newMemberSet(),
		subdocs: newSubdocSet(),
	}
}

// log returns the logger, falling back to a discard logger if nil.
func (a *archive) log() *slog.Logger {
	if a.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.cfg.logger
}

// reportProgress sends a progress event if a callback is configured.
func (a *archive) reportProgress(stage ProgressStage, path string, bytesDone, bytesTotal uint64, filesDone, filesTotal int) {
	if a.cfg.progress == nil {
		return
	}
	a.cfg.progress(ProgressEvent{
		Stage:      stage,
		Path:       path,
		BytesDone:  bytesDone,
		BytesTotal: bytesTotal,
		FilesDone:  filesDone,
		FilesTotal: filesTotal,
	})
}

func (a *archive) checkOpen() error {
	if a.closed {
		return ErrClosed
	}
	return nil
}

// Path returns the container's filesystem path.
func (a *archive) Path() string {
	return a.path
}

// Members returns every member in TOC order.
func (a *archive) Members() ([]Member, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	return slices.Clone(a.members.list), nil
}

// Names returns every member path in TOC order.
func (a *archive) Names() ([]string, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	names := make([]string, len(a.members.list))
	for i := range a.members.list {
		names[i] = a.members.list[i].Path
	}
	return names, nil
}

// Member returns the member recorded at path. The path is normalized with
// NormalizePath first. A missing member is ErrNotFound.
func (a *archive) Member(path string) (Member, error) {
	if err := a.checkOpen(); err != nil {
		return Member{}, err
	}
	m, err := a.members.lookup(path)
	if err != nil {
		return Member{}, err
	}
	return *m, nil
}

// GetSubdoc returns a copy of the named subdocument.
func (a *archive) GetSubdoc(name string) (Subdoc, error) {
	if err := a.checkOpen(); err != nil {
		return Subdoc{}, err
	}
	s, ok := a.subdocs.get(name)
	if !ok {
		return Subdoc{}, fmt.Errorf("%w: subdoc %q", ErrNotFound, name)
	}
	return s.Clone(), nil
}

// Subdocs returns copies of every subdocument in insertion order.
func (a *archive) Subdocs() ([]Subdoc, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]Subdoc, len(a.subdocs.list))
	for i, s := range a.subdocs.list {
		out[i] = s.Clone()
	}
	return out, nil
}

// SubdocNames returns subdocument names in insertion order.
func (a *archive) SubdocNames() ([]string, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	names := make([]string, len(a.subdocs.list))
	for i, s := range a.subdocs.list {
		names[i] = s.Name
	}
	return names, nil
}

// memberSet is an insertion-ordered member table indexed by path.
type memberSet struct {
	list  []Member
	index map[string]int
}

func newMemberSet() memberSet {
	return memberSet{index: make(map[string]int)}
}

func (s *memberSet) has(path string) bool {
	_, ok := s.index[path]
	return ok
}

func (s *memberSet) add(m Member) {
	s.index[m.Path] = len(s.list)
	s.list = append(s.list, m)
}

func (s *memberSet) lookup(path string) (*Member, error) {
	p := NormalizePath(path)
	i, ok := s.index[p]
	if !ok {
		return nil, fmt.Errorf("%w: member %q", ErrNotFound, path)
	}
	return &s.list[i], nil
}

// subdocSet is an insertion-ordered subdocument table indexed by name.
type subdocSet struct {
	list  []Subdoc
	index map[string]int
}

func newSubdocSet() subdocSet {
	return subdocSet{index: make(map[string]int)}
}

func (s *subdocSet) get(name string) (Subdoc, bool) {
	i, ok := s.index[name]
	if !ok {
		return Subdoc{}, false
	}
	return s.list[i], true
}

// put appends s, or replaces an existing subdocument of the same name in place.
func (s *subdocSet) put(sd Subdoc) {
	if i, ok := s.index[sd.Name]; ok {
		s.list[i] = sd
		return
	}
	s.index[sd.Name] = len(s.list)
	s.list = append(s.list, sd)
}

func (s *subdocSet) remove(name string) bool {
	i, ok := s.index[name]
	if !ok {
		return false
	}
	s.list = slices.Delete(s.list, i, i+1)
	delete(s.index, name)
	for j := i; j < len(s.list); j++ {
		s.index[s.list[j].Name] = j
	}
	return true
}
