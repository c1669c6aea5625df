// Package fetcher retrieves rendered page text through headless Chrome.
// Campus sites lean heavily on client-side rendering (interactive maps,
// athletics calendars), so a plain HTTP GET is not enough: the page's
// scripts must run before the text exists.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// FetchError reports a failed fetch for one URL. The fetcher never retries;
// the ingestion pipeline owns retry policy.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// Chrome fetches pages with a transient headless Chrome instance per call.
type Chrome struct {
	timeout   time.Duration
	userAgent string
	logger    *slog.Logger
}

type Config struct {
	Timeout   time.Duration // per-fetch budget, including render time
	UserAgent string
	Logger    *slog.Logger
}

func New(cfg Config) *Chrome {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Chrome{timeout: cfg.Timeout, userAgent: cfg.UserAgent, logger: cfg.Logger}
}

// Fetch navigates to rawURL, waits for the DOM to settle, and returns the
// page's visible text with markup stripped. The browser spawned for the call
// is released on every exit path, including failure and cancellation.
func (c *Chrome) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := validateURL(rawURL); err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Headless,
		chromedp.UserAgent(c.userAgent),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, c.timeout)
	defer timeoutCancel()

	var body string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(`document.body.innerHTML`, &body),
	)
	if err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}

	text := StripMarkup(body)
	c.logger.Debug("page fetched", "url", rawURL, "chars", len(text))
	return text, nil
}

// validateURL requires a well-formed absolute http(s) URL.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("url must be absolute: %q", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	return nil
}

var (
	scriptPattern = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</\w+>`)
	tagPattern    = regexp.MustCompile(`<[^>]*>`)
	spacePattern  = regexp.MustCompile(`[ \t]+`)
	blankPattern  = regexp.MustCompile(`\n{3,}`)
)

// StripMarkup removes tags and script/style bodies from rendered HTML and
// collapses the leftover whitespace into readable plain text.
func StripMarkup(html string) string {
	text := scriptPattern.ReplaceAllString(html, " ")
	text = tagPattern.ReplaceAllString(text, " ")
	text = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	).Replace(text)
	text = spacePattern.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = blankPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
