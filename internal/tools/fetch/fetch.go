// Package fetch is the web page tool: it downloads a URL and returns the
// page's readable text.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/nugget/hive-nexus/internal/httpkit"
	"github.com/nugget/hive-nexus/internal/tools"
)

// Name is the registered tool name.
const Name = "fetch"

const (
	defaultTimeout        = 30 * time.Second
	maxBodyBytes    int64 = 5 * 1024 * 1024
	DefaultMaxChars       = 50000
)

// Args is the fetch argument object.
type Args struct {
	URL      string `json:"url" jsonschema:"description=Absolute http or https URL of the page"`
	MaxChars int    `json:"max_chars,omitempty" jsonschema:"minimum=1,description=Maximum characters of text to return (default 50000)"`
}

// Result is the tool output.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	StatusCode  int    `json:"status_code"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// Fetcher downloads pages and extracts their text.
type Fetcher struct {
	client *http.Client
}

// New returns a Fetcher with a bounded HTTP client.
func New() *Fetcher {
	return &Fetcher{client: httpkit.NewClient(httpkit.WithTimeout(defaultTimeout))}
}

func (f *Fetcher) Name() string { return Name }

func (f *Fetcher) Description() string {
	return "Download a web page and return its readable text with navigation and scripts removed. " +
		"Use it to read a page a seeker result points to."
}

func (f *Fetcher) Parameters() map[string]any { return tools.SchemaFor[Args]() }

// Invoke fetches args.url.
func (f *Fetcher) Invoke(ctx context.Context, raw map[string]any) (any, error) {
	args, err := tools.Decode[Args](raw)
	if err != nil {
		return nil, err
	}
	return f.Fetch(ctx, args.URL, args.MaxChars)
}

// Fetch downloads rawURL and returns at most maxChars runes of text. A
// URL without a scheme is treated as https. Non-2xx responses are
// errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Result, error) {
	target, err := normalize(rawURL)
	if err != nil {
		return nil, err
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 64*1024)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: status %d: %s", target, resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" || strings.HasPrefix(ct, "application/octet-stream") {
		ct = mimetype.Detect(body).String()
	}
	res := &Result{URL: target, ContentType: ct, StatusCode: resp.StatusCode}
	switch {
	case isHTML(ct):
		p := readHTML(string(body))
		res.Title, res.Content = p.title, p.text
	case isText(ct) && utf8.Valid(body):
		res.Content = string(body)
	default:
		res.Content = fmt.Sprintf("binary content (%s), %d bytes", ct, len(body))
		return res, nil
	}

	res.Content, res.Truncated = truncate(res.Content, maxChars)
	return res, nil
}

func normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid url %q: missing host", raw)
	}
	return u.String(), nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func isText(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.HasPrefix(ct, "text/") || strings.Contains(ct, "json") || strings.Contains(ct, "xml")
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) (string, bool) {
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}
