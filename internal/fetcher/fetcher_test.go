package fetcher

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateURL(t *testing.T) {
	valid := []string{
		"https://www.example.edu/admissions/apply/index.php",
		"http://example.edu",
		"https://map.example.edu/?id=11#!ct/71761",
	}
	for _, u := range valid {
		if err := validateURL(u); err != nil {
			t.Errorf("expected %q to be valid: %v", u, err)
		}
	}

	invalid := []string{
		"",
		"not a url",
		"/relative/path",
		"ftp://example.edu/file",
		"example.edu/no-scheme",
	}
	for _, u := range invalid {
		if err := validateURL(u); err == nil {
			t.Errorf("expected %q to be rejected", u)
		}
	}
}

func TestFetch_InvalidURL_ReturnsFetchError(t *testing.T) {
	c := New(Config{Timeout: time.Second})
	_, err := c.Fetch(context.Background(), "not a url")
	if err == nil {
		t.Fatal("expected error for malformed url")
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T", err)
	}
	if fe.URL != "not a url" {
		t.Errorf("FetchError.URL = %q", fe.URL)
	}
}

func TestStripMarkup_RemovesTags(t *testing.T) {
	html := `<div class="hero"><h1>Visit Campus</h1><p>Tours run <b>daily</b>.</p></div>`
	text := StripMarkup(html)
	if strings.Contains(text, "<") || strings.Contains(text, ">") {
		t.Errorf("markup left in output: %q", text)
	}
	for _, want := range []string{"Visit Campus", "Tours run", "daily"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got %q", want, text)
		}
	}
}

func TestStripMarkup_DropsScriptAndStyleBodies(t *testing.T) {
	html := `<p>hours</p><script>window.track("visit")</script><style>.nav{color:red}</style><p>open daily</p>`
	text := StripMarkup(html)
	if strings.Contains(text, "track") || strings.Contains(text, "color:red") {
		t.Errorf("script/style content leaked: %q", text)
	}
	if !strings.Contains(text, "hours") || !strings.Contains(text, "open daily") {
		t.Errorf("visible text lost: %q", text)
	}
}

func TestStripMarkup_DecodesEntitiesAndCollapsesWhitespace(t *testing.T) {
	html := "<p>Arts &amp; Sciences</p>\n\n\n\n<p>Fine&nbsp;Arts</p>"
	text := StripMarkup(html)
	if !strings.Contains(text, "Arts & Sciences") {
		t.Errorf("entity not decoded: %q", text)
	}
	if strings.Contains(text, "\n\n\n") {
		t.Errorf("blank runs not collapsed: %q", text)
	}
}

func TestStripMarkup_EmptyInput(t *testing.T) {
	if got := StripMarkup(""); got != "" {
		t.Errorf("expected empty output, got %q", got)
	}
}
