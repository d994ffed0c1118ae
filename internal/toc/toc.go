// Package toc encodes and decodes the archive table of contents and the
// fixed container header that precedes it.
//
// The TOC is an XML document listing every member with its metadata, heap
// span, encoding and digests, followed by the archive's subdocuments. On
// disk it is stored zlib-compressed directly after the header.
package toc

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/mackyle/xar/internal/checksum"
	"github.com/mackyle/xar/internal/codec"
	"github.com/mackyle/xar/internal/xartype"
)

// ErrFormat is returned for malformed headers and TOC documents.
var ErrFormat = errors.New("toc: malformed")

// TOC is the decoded table of contents.
type TOC struct {
	CreationTime time.Time

	// Checksum is the archive-wide algorithm. The digest of the compressed
	// TOC block is stored in the heap at ChecksumOffset.
	Checksum       checksum.Algorithm
	ChecksumOffset uint64
	ChecksumSize   uint64

	// Signatures are stored in the heap after the TOC digest and sign it.
	Signatures []Signature

	Members []xartype.Member
	Subdocs []xartype.Subdoc
}

// Signature records where a signature over the TOC digest is stored and the
// DER certificates that identify the signer, leaf first.
type Signature struct {
	Style        string
	Offset       uint64
	Size         uint64
	Certificates [][]byte
}

// xmldsigNS is the namespace of the KeyInfo element.
const xmldsigNS = "http://www.w3.org/2000/09/xmldsig#"

type xmlDoc struct {
	XMLName xml.Name    `xml:"xar"`
	TOC     *xmlTOC     `xml:"toc"`
	Subdocs []xmlSubdoc `xml:"subdoc"`
}

type xmlTOC struct {
	CreationTime string          `xml:"creation-time,omitempty"`
	Checksum     *xmlTOCChecksum `xml:"checksum"`
	Signatures   []xmlSignature  `xml:"signature"`
	Files        []xmlFile       `xml:"file"`
}

type xmlTOCChecksum struct {
	Style  string `xml:"style,attr"`
	Offset uint64 `xml:"offset"`
	Size   uint64 `xml:"size"`
}

type xmlSignature struct {
	Style   string      `xml:"style,attr"`
	Offset  uint64      `xml:"offset"`
	Size    uint64      `xml:"size"`
	KeyInfo *xmlKeyInfo `xml:"KeyInfo"`
}

type xmlKeyInfo struct {
	XMLName      xml.Name `xml:"http://www.w3.org/2000/09/xmldsig# KeyInfo"`
	Certificates []string `xml:"X509Data>X509Certificate"`
}

type xmlFile struct {
	ID    string    `xml:"id,attr,omitempty"`
	Name  string    `xml:"name"`
	Type  string    `xml:"type"`
	Mode  string    `xml:"mode,omitempty"`
	UID   uint32    `xml:"uid"`
	GID   uint32    `xml:"gid"`
	MTime string    `xml:"mtime,omitempty"`
	Link  string    `xml:"link,omitempty"`
	Data  *xmlData  `xml:"data"`
	Files []xmlFile `xml:"file"`
}

type xmlData struct {
	Offset    uint64      `xml:"offset"`
	Length    uint64      `xml:"length"`
	Size      uint64      `xml:"size"`
	Encoding  xmlStyle    `xml:"encoding"`
	Extracted xmlChecksum `xml:"extracted-checksum"`
	Archived  xmlChecksum `xml:"archived-checksum"`
}

type xmlStyle struct {
	Style string `xml:"style,attr"`
}

type xmlChecksum struct {
	Style string `xml:"style,attr"`
	Value string `xml:",chardata"`
}

type xmlSubdoc struct {
	Name    string `xml:"subdoc_name,attr"`
	Content string `xml:",chardata"`
	Inner   string `xml:",innerxml"`
}

// Marshal encodes the TOC as an XML document.
func (t *TOC) Marshal() ([]byte, error) {
	doc := xmlDoc{
		TOC: &xmlTOC{
			CreationTime: formatTime(t.CreationTime),
			Checksum: &xmlTOCChecksum{
				Style:  t.Checksum.String(),
				Offset: t.ChecksumOffset,
				Size:   t.ChecksumSize,
			},
			Files: make([]xmlFile, 0, len(t.Members)),
		},
		Subdocs: make([]xmlSubdoc, 0, len(t.Subdocs)),
	}

	for _, sig := range t.Signatures {
		xs := xmlSignature{Style: sig.Style, Offset: sig.Offset, Size: sig.Size}
		if len(sig.Certificates) > 0 {
			xs.KeyInfo = &xmlKeyInfo{XMLName: xml.Name{Space: xmldsigNS, Local: "KeyInfo"}}
			for _, der := range sig.Certificates {
				xs.KeyInfo.Certificates = append(xs.KeyInfo.Certificates, base64.StdEncoding.EncodeToString(der))
			}
		}
		doc.TOC.Signatures = append(doc.TOC.Signatures, xs)
	}
	for i := range t.Members {
		doc.TOC.Files = append(doc.TOC.Files, encodeMember(i+1, &t.Members[i]))
	}
	for _, s := range t.Subdocs {
		doc.Subdocs = append(doc.Subdocs, xmlSubdoc{Name: s.Name, Content: string(s.Content)})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode toc: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode toc: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func encodeMember(id int, m *xartype.Member) xmlFile {
	f := xmlFile{
		ID:    strconv.Itoa(id),
		Name:  m.Path,
		Type:  m.Type.String(),
		Mode:  FormatMode(m.Mode),
		UID:   m.UID,
		GID:   m.GID,
		MTime: formatTime(m.ModTime),
		Link:  m.LinkTarget,
	}
	if m.HasData() {
		f.Data = &xmlData{
			Offset:    m.Offset,
			Length:    m.Length,
			Size:      m.Size,
			Encoding:  xmlStyle{Style: m.Encoding.MediaType()},
			Extracted: xmlChecksum{Style: m.Checksum.Algorithm.String(), Value: m.Checksum.Hex()},
			Archived:  xmlChecksum{Style: m.ArchivedChecksum.Algorithm.String(), Value: m.ArchivedChecksum.Hex()},
		}
	}
	return f
}

// Parse decodes and validates a TOC document.
func Parse(data []byte) (*TOC, error) {
	var doc xmlDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	if doc.TOC == nil {
		return nil, fmt.Errorf("%w: missing toc element", ErrFormat)
	}

	t := &TOC{}
	if doc.TOC.CreationTime != "" {
		ct, err := parseTime(doc.TOC.CreationTime)
		if err != nil {
			return nil, fmt.Errorf("%w: creation-time: %w", ErrFormat, err)
		}
		t.CreationTime = ct
	}
	if c := doc.TOC.Checksum; c != nil {
		alg, err := checksum.ParseAlgorithm(c.Style)
		if err != nil {
			return nil, fmt.Errorf("%w: toc checksum: %w", ErrFormat, err)
		}
		t.Checksum = alg
		t.ChecksumOffset = c.Offset
		t.ChecksumSize = c.Size
	}

	for i, xs := range doc.TOC.Signatures {
		sig, err := decodeSignature(xs)
		if err != nil {
			return nil, fmt.Errorf("%w: signature %d: %w", ErrFormat, i, err)
		}
		t.Signatures = append(t.Signatures, sig)
	}

	p := parser{seen: make(map[string]struct{})}
	if err := p.files("", doc.TOC.Files); err != nil {
		return nil, err
	}
	t.Members = p.members

	names := make(map[string]struct{}, len(doc.Subdocs))
	for _, s := range doc.Subdocs {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: subdoc without name", ErrFormat)
		}
		if _, dup := names[s.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate subdoc %q", ErrFormat, s.Name)
		}
		names[s.Name] = struct{}{}

		content, err := subdocContent(s)
		if err != nil {
			return nil, fmt.Errorf("%w: subdoc %q: %w", ErrFormat, s.Name, err)
		}
		t.Subdocs = append(t.Subdocs, xartype.Subdoc{Name: s.Name, Content: content})
	}
	return t, nil
}

func decodeSignature(xs xmlSignature) (Signature, error) {
	if xs.Style == "" {
		return Signature{}, errors.New("missing style")
	}
	if xs.Size == 0 {
		return Signature{}, errors.New("empty signature")
	}
	sig := Signature{Style: xs.Style, Offset: xs.Offset, Size: xs.Size}
	if xs.KeyInfo == nil {
		return sig, nil
	}
	for _, enc := range xs.KeyInfo.Certificates {
		// Base64 text may be wrapped across lines.
		der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(enc), ""))
		if err != nil {
			return Signature{}, fmt.Errorf("certificate: %w", err)
		}
		sig.Certificates = append(sig.Certificates, der)
	}
	return sig, nil
}

type parser struct {
	members []xartype.Member
	seen    map[string]struct{}
}

// files flattens <file> elements depth first. Nested elements carry only
// their base name and inherit the parent's path.
func (p *parser) files(parent string, files []xmlFile) error {
	for i := range files {
		f := &files[i]
		name := f.Name
		if parent != "" {
			name = parent + "/" + name
		}
		m, err := decodeMember(name, f)
		if err != nil {
			return err
		}
		if _, dup := p.seen[m.Path]; dup {
			return fmt.Errorf("%w: duplicate path %q", ErrFormat, m.Path)
		}
		p.seen[m.Path] = struct{}{}
		p.members = append(p.members, m)

		if len(f.Files) > 0 {
			if m.Type != xartype.TypeDirectory {
				return fmt.Errorf("%w: %s %q has children", ErrFormat, m.Type, m.Path)
			}
			if err := p.files(m.Path, f.Files); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeMember(name string, f *xmlFile) (xartype.Member, error) {
	if !ValidPath(name) {
		return xartype.Member{}, fmt.Errorf("%w: invalid path %q", ErrFormat, name)
	}
	typ, ok := xartype.ParseType(f.Type)
	if !ok {
		return xartype.Member{}, fmt.Errorf("%w: %q: unknown type %q", ErrFormat, name, f.Type)
	}

	m := xartype.Member{
		Path:       name,
		Type:       typ,
		UID:        f.UID,
		GID:        f.GID,
		LinkTarget: f.Link,
	}
	if f.Mode != "" {
		mode, err := ParseMode(f.Mode)
		if err != nil {
			return xartype.Member{}, fmt.Errorf("%w: %q: %w", ErrFormat, name, err)
		}
		m.Mode = mode
	}
	if f.MTime != "" {
		mt, err := parseTime(f.MTime)
		if err != nil {
			return xartype.Member{}, fmt.Errorf("%w: %q: mtime: %w", ErrFormat, name, err)
		}
		m.ModTime = mt
	}

	switch {
	case typ == xartype.TypeDirectory && f.Data != nil:
		return xartype.Member{}, fmt.Errorf("%w: directory %q has data", ErrFormat, name)
	case typ != xartype.TypeDirectory && f.Data == nil:
		return xartype.Member{}, fmt.Errorf("%w: %s %q has no data", ErrFormat, typ, name)
	case typ == xartype.TypeSymlink && f.Link == "":
		return xartype.Member{}, fmt.Errorf("%w: symlink %q has no target", ErrFormat, name)
	}
	if f.Data == nil {
		return m, nil
	}

	enc, err := codec.ParseEncoding(f.Data.Encoding.Style)
	if err != nil {
		return xartype.Member{}, fmt.Errorf("%w: %q: %w", ErrFormat, name, err)
	}
	extracted, err := checksum.Parse(f.Data.Extracted.Style, f.Data.Extracted.Value)
	if err != nil {
		return xartype.Member{}, fmt.Errorf("%w: %q: extracted-checksum: %w", ErrFormat, name, err)
	}
	archived := extracted
	if f.Data.Archived.Style != "" {
		archived, err = checksum.Parse(f.Data.Archived.Style, f.Data.Archived.Value)
		if err != nil {
			return xartype.Member{}, fmt.Errorf("%w: %q: archived-checksum: %w", ErrFormat, name, err)
		}
	} else if enc != codec.EncodingNone {
		archived = checksum.Checksum{}
	}

	m.Offset = f.Data.Offset
	m.Length = f.Data.Length
	m.Size = f.Data.Size
	m.Encoding = enc
	m.Checksum = extracted
	m.ArchivedChecksum = archived
	if enc == codec.EncodingNone && m.Length != m.Size {
		return xartype.Member{}, fmt.Errorf("%w: %q: stored length %d != size %d", ErrFormat, name, m.Length, m.Size)
	}
	return m, nil
}

// subdocContent recovers the bytes of a subdocument. Content written as
// escaped character data is returned unescaped. Content embedded as child
// elements is returned as the raw inner XML, trimmed of surrounding space.
func subdocContent(s xmlSubdoc) ([]byte, error) {
	dec := xml.NewDecoder(strings.NewReader(s.Inner))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return []byte(s.Content), nil
		}
		if err != nil {
			return nil, err
		}
		if _, ok := tok.(xml.StartElement); ok {
			return []byte(strings.TrimSpace(s.Inner)), nil
		}
	}
}

// CheckDocument reports whether doc is a well-formed XML document with
// exactly one root element.
func CheckDocument(doc []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	depth, roots := 0, 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch tok := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
				if roots > 1 {
					return errors.New("more than one root element")
				}
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(tok)) > 0 {
				return errors.New("character data outside root element")
			}
		}
	}
	if roots == 0 {
		return errors.New("no root element")
	}
	return nil
}

// ValidPath reports whether p is a usable member path: slash-separated,
// relative, non-empty, and free of "." and ".." elements.
func ValidPath(p string) bool {
	return p != "." && fs.ValidPath(p)
}

const unixModeMask = 0o7777

// FormatMode renders permission and special bits as four octal digits.
func FormatMode(m fs.FileMode) string {
	bits := uint32(m.Perm())
	if m&fs.ModeSetuid != 0 {
		bits |= 0o4000
	}
	if m&fs.ModeSetgid != 0 {
		bits |= 0o2000
	}
	if m&fs.ModeSticky != 0 {
		bits |= 0o1000
	}
	return fmt.Sprintf("%04o", bits)
}

// ParseMode parses an octal mode string.
func ParseMode(s string) (fs.FileMode, error) {
	bits, err := strconv.ParseUint(strings.TrimSpace(s), 8, 32)
	if err != nil {
		return 0, fmt.Errorf("mode %q: %w", s, err)
	}
	if bits&^unixModeMask != 0 {
		return 0, fmt.Errorf("mode %q out of range", s)
	}
	m := fs.FileMode(bits & 0o777)
	if bits&0o4000 != 0 {
		m |= fs.ModeSetuid
	}
	if bits&0o2000 != 0 {
		m |= fs.ModeSetgid
	}
	if bits&0o1000 != 0 {
		m |= fs.ModeSticky
	}
	return m, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// timeLayouts are tried in order. xar writers commonly omit the zone.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
