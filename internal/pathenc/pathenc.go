// Package pathenc maps logical page titles to repository paths and back.
//
// Titles are percent-encoded so that any Unicode title becomes a safe
// repository path. Names that would collide with reserved platform device
// files, or with hidden and escaped names, get a disambiguating underscore
// prefix. Titles whose guessed MIME type is the wiki text type may carry a
// configured extension on disk; the extension is stripped again on decode.
package pathenc

import (
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
)

// ErrPath is returned when a repository path cannot be decoded, either
// because it lies outside the configured pages prefix or because it is
// malformed.
var ErrPath = errors.New("pathenc: malformed path")

// WikiMime is the MIME type assigned to titles without a recognized file
// extension. Only pages of this type get the configured page extension.
const WikiMime = "text/x-wiki"

// Codec converts between page titles and repository paths.
// Encode and Decode are inverses for every valid title.
type Codec interface {
	Encode(title string) (string, error)
	Decode(repoPath string) (string, error)
}

// DirQuery reports whether a repository path names a directory in the
// current head tree. The subdirectory codec consults it to decide when a
// title must be addressed through its index file.
type DirQuery interface {
	IsDir(repoPath string) bool
}

// windowsDeviceFiles are names reserved by the platform that must never be
// used as plain filenames.
var windowsDeviceFiles = map[string]bool{
	"CON": true, "AUX": true, "PRN": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true,
	"LPT1": true, "LPT2": true, "LPT3": true,
}

// TitleMime guesses the MIME type of a title from its extension, defaulting
// to the wiki text type when there is none or it is unknown.
func TitleMime(title string) string {
	ext := path.Ext(title)
	if ext == "" {
		return WikiMime
	}
	if t := mime.TypeByExtension(ext); t != "" {
		// TypeByExtension may append a charset parameter.
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = strings.TrimSpace(t[:i])
		}
		return t
	}
	return WikiMime
}

// quote percent-encodes s, keeping unreserved characters and every byte in
// safe literal.
func quote(s, safe string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '-' || c == '_' || c == '.':
			b.WriteByte(c)
		case strings.IndexByte(safe, c) >= 0:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// needsUnderscore reports whether an encoded leading segment must be
// disambiguated with an underscore prefix.
func needsUnderscore(segment string) bool {
	if segment == "" {
		return false
	}
	if segment[0] == '_' || segment[0] == '.' {
		return true
	}
	stem, _, _ := strings.Cut(segment, ".")
	return windowsDeviceFiles[strings.ToUpper(stem)]
}

// stripPrefix removes the pages prefix from a repository path, failing when
// the path lies outside it.
func stripPrefix(repoPath, prefix string) (string, error) {
	if prefix == "" {
		return strings.Trim(repoPath, "/"), nil
	}
	if repoPath != prefix && !strings.HasPrefix(repoPath, prefix+"/") {
		return "", fmt.Errorf("%w: %q is outside of the pages prefix %q", ErrPath, repoPath, prefix)
	}
	return strings.Trim(repoPath[len(prefix):], "/"), nil
}

// Flat encodes every title as a single path segment: slashes are
// percent-encoded along with everything else.
type Flat struct {
	prefix    string
	extension string
}

// NewFlat creates a flat codec with the given pages prefix and optional
// page extension.
func NewFlat(prefix, extension string) *Flat {
	return &Flat{prefix: strings.Trim(prefix, "/"), extension: extension}
}

// Encode returns the repository path for a title.
func (f *Flat) Encode(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("%w: empty title", ErrPath)
	}
	name := quote(title, "")
	if needsUnderscore(name) {
		name = "_" + name
	}
	if f.extension != "" && TitleMime(title) == WikiMime {
		name += f.extension
	}
	return path.Join(f.prefix, name), nil
}

// Decode returns the title for a repository path.
func (f *Flat) Decode(repoPath string) (string, error) {
	name, err := stripPrefix(repoPath, f.prefix)
	if err != nil {
		return "", err
	}
	if f.extension != "" {
		name = strings.TrimSuffix(name, f.extension)
	}
	if strings.HasPrefix(name, "_") && len(name) > 1 {
		name = name[1:]
	}
	title, err := url.PathUnescape(name)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrPath, repoPath, err)
	}
	if title == "" {
		return "", fmt.Errorf("%w: %q decodes to an empty title", ErrPath, repoPath)
	}
	return title, nil
}

// Subdir keeps slashes and spaces literal so that sub-pages become real
// subdirectories. A title whose path currently names a directory is
// addressed through the directory's index file.
type Subdir struct {
	prefix    string
	extension string
	index     string
	dirs      DirQuery
}

// NewSubdir creates a subdirectory codec. The index name must be a single
// path segment; dirs answers directory queries against the current head.
func NewSubdir(prefix, extension, indexName string, dirs DirQuery) *Subdir {
	return &Subdir{
		prefix:    strings.Trim(prefix, "/"),
		extension: extension,
		index:     indexName,
		dirs:      dirs,
	}
}

// IndexName returns the filename that represents a directory-as-page.
func (s *Subdir) IndexName() string {
	return s.index
}

// Encode returns the repository path for a title. If the encoded path names
// a directory in the current head tree, the index file inside it is
// addressed instead.
func (s *Subdir) Encode(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("%w: empty title", ErrPath)
	}
	escaped := escapeSegments(quote(title, "/ "))
	if first, _, _ := strings.Cut(escaped, "/"); needsUnderscore(first) {
		escaped = "_" + escaped
	}
	p := path.Join(s.prefix, escaped)
	if s.dirs != nil && s.dirs.IsDir(p) {
		p = p + "/" + s.index
	}
	if s.extension != "" && TitleMime(title) == WikiMime {
		p += s.extension
	}
	return p, nil
}

// Decode returns the title for a repository path. An index-named leaf maps
// back to its parent directory's title.
func (s *Subdir) Decode(repoPath string) (string, error) {
	name, err := stripPrefix(repoPath, s.prefix)
	if err != nil {
		return "", err
	}
	if s.extension != "" {
		name = strings.TrimSuffix(name, s.extension)
	}
	if path.Base(name) == s.index {
		name = path.Dir(name)
		if name == "." {
			return "", fmt.Errorf("%w: %q is a bare index file", ErrPath, repoPath)
		}
	}
	if strings.HasPrefix(name, "_") && len(name) > 1 {
		name = name[1:]
	}
	title, err := url.PathUnescape(name)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrPath, repoPath, err)
	}
	if title == "" {
		return "", fmt.Errorf("%w: %q decodes to an empty title", ErrPath, repoPath)
	}
	return title, nil
}

// escapeSegments re-encodes the slash and dot characters that quote left
// literal but that would produce hidden files or empty path segments:
// a dot at the start of a segment and a slash at the start of the path or
// directly after another slash.
func escapeSegments(escaped string) string {
	var b strings.Builder
	b.Grow(len(escaped) + 8)
	atSegmentStart := true
	for i := 0; i < len(escaped); i++ {
		c := escaped[i]
		switch {
		case c == '.' && atSegmentStart:
			b.WriteString("%2E")
			atSegmentStart = false
		case c == '/' && atSegmentStart:
			b.WriteString("%2F")
		case c == '/':
			b.WriteByte(c)
			atSegmentStart = true
		default:
			b.WriteByte(c)
			atSegmentStart = false
		}
	}
	return b.String()
}

var (
	_ Codec = (*Flat)(nil)
	_ Codec = (*Subdir)(nil)
)
