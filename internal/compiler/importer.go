package compiler

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Fetcher resolves an import URL to document content. The parse service
// uses HTTPFetcher; FileFetcher reads from the local filesystem; tests use
// MapFetcher.
type Fetcher interface {
	Fetch(rawURL string) (string, error)
}

// HTTPFetcher resolves http(s):// import URLs over the network.
type HTTPFetcher struct {
	Client  *http.Client
	Timeout time.Duration
}

// NewHTTPFetcher builds an HTTPFetcher with a bounded client timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}, Timeout: timeout}
}

func (f *HTTPFetcher) Fetch(rawURL string) (string, error) {
	resp, err := f.Client.Get(rawURL)
	if err != nil {
		return "", fmt.Errorf("http get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http get %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body from %s: %w", rawURL, err)
	}
	return string(body), nil
}

// FileFetcher resolves file:// or bare filesystem-path import URLs,
// relative to Root when the path itself is relative.
type FileFetcher struct {
	Root string
}

// NewFileFetcher builds a FileFetcher rooted at dir.
func NewFileFetcher(dir string) *FileFetcher {
	return &FileFetcher{Root: dir}
}

func (f *FileFetcher) Fetch(rawURL string) (string, error) {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Scheme == "file" {
		path = u.Path
	}
	if !isAbsPath(path) && f.Root != "" {
		path = f.Root + "/" + path
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file %s: %w", path, err)
	}
	return string(content), nil
}

func isAbsPath(path string) bool {
	return len(path) > 0 && path[0] == '/'
}

// MapFetcher resolves imports from an in-memory map, for tests and for
// documents assembled programmatically.
type MapFetcher map[string]string

func (f MapFetcher) Fetch(rawURL string) (string, error) {
	content, ok := f[rawURL]
	if !ok {
		return "", fmt.Errorf("no content registered for %s", rawURL)
	}
	return content, nil
}
