package htmlhost

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"strings"
	"sync"
)

// ErrNotFound is returned by sites for URLs they don't serve.
var ErrNotFound = errors.New("page not found")

// Site serves the documents a Host navigates to.
type Site interface {
	Fetch(u *url.URL) (string, error)
}

// MapSite serves documents by URL, ignoring fragments. It's safe for
// concurrent use.
type MapSite struct {
	mu    sync.RWMutex
	pages map[string]string
}

// NewMapSite returns a site serving pages, keyed by URL.
func NewMapSite(pages map[string]string) *MapSite {
	s := &MapSite{pages: make(map[string]string, len(pages))}
	for k, v := range pages {
		s.pages[k] = v
	}
	return s
}

// Set serves doc at rawURL from now on.
func (s *MapSite) Set(rawURL, doc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[rawURL] = doc
}

func (s *MapSite) Fetch(u *url.URL) (string, error) {
	c := *u
	c.Fragment = ""

	s.mu.RLock()
	defer s.mu.RUnlock()

	if doc, ok := s.pages[c.String()]; ok {
		return doc, nil
	}
	return "", fmt.Errorf("%s: %w", c.String(), ErrNotFound)
}

// FSSite serves the files of fsys for every host. The path of a URL is the
// path of a file, directories serve their index.html.
type FSSite struct {
	fsys fs.FS
}

// NewFSSite returns a site serving the files of fsys.
func NewFSSite(fsys fs.FS) *FSSite {
	return &FSSite{fsys: fsys}
}

func (s *FSSite) Fetch(u *url.URL) (string, error) {
	name := strings.TrimPrefix(path.Clean("/"+u.Path), "/")
	if name == "" {
		name = "."
	}
	if fi, err := fs.Stat(s.fsys, name); err == nil && fi.IsDir() {
		name = path.Join(name, "index.html")
	}
	b, err := fs.ReadFile(s.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", u, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	return string(b), nil
}

const notFoundDocument = `<!DOCTYPE html><html><head><title>404 Not Found</title></head>` +
	`<body><h1>Not Found</h1></body></html>`
