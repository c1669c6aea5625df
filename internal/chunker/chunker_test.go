package chunker

import (
	"strings"
	"testing"
)

func mustNew(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := New(Config{Size: size, Overlap: overlap})
	if err != nil {
		t.Fatalf("New(%d, %d): %v", size, overlap, err)
	}
	return c
}

func TestNew_InvalidConfig(t *testing.T) {
	cases := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative overlap", 10, -1},
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 10, 20},
	}
	for _, tc := range cases {
		if _, err := New(Config{Size: tc.size, Overlap: tc.overlap}); err == nil {
			t.Errorf("%s: expected error for size=%d overlap=%d", tc.name, tc.size, tc.overlap)
		}
	}
}

func TestSplit_EmptyAndWhitespace(t *testing.T) {
	c := mustNew(t, 512, 100)
	if got := c.Split("", "https://example.edu"); len(got) != 0 {
		t.Errorf("expected no chunks for empty input, got %d", len(got))
	}
	if got := c.Split("   \n\t  ", "https://example.edu"); len(got) != 0 {
		t.Errorf("expected no chunks for whitespace input, got %d", len(got))
	}
}

func TestSplit_ShortInput_SingleChunk(t *testing.T) {
	c := mustNew(t, 512, 100)
	chunks := c.Split("a short page", "https://example.edu")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "a short page" {
		t.Errorf("chunk text mismatch: %q", chunks[0].Text)
	}
	if chunks[0].Index != 0 {
		t.Errorf("expected index 0, got %d", chunks[0].Index)
	}
	if chunks[0].SourceURL != "https://example.edu" {
		t.Errorf("source url not propagated: %q", chunks[0].SourceURL)
	}
}

func TestSplit_MaxLengthRespected(t *testing.T) {
	c := mustNew(t, 50, 10)
	text := strings.Repeat("lorem ipsum dolor sit amet. ", 40)
	for i, ch := range c.Split(text, "u") {
		if n := len([]rune(ch.Text)); n > 50 {
			t.Errorf("chunk %d exceeds size: %d runes", i, n)
		}
	}
}

// Consecutive chunks must share exactly Overlap characters, and stitching
// each chunk's text past its overlap must reconstruct the input.
func TestSplit_OverlapAndReconstruction(t *testing.T) {
	texts := []string{
		strings.Repeat("abcdefghij", 100),                          // no boundaries at all
		strings.Repeat("the quick brown fox jumps over the dog ", 60), // word boundaries
		strings.Repeat("First sentence here. Second one follows! A third? ", 40),
		strings.Repeat("paragraph one\n\nparagraph two with more text\n\n", 30),
	}
	configs := []Config{
		{Size: 512, Overlap: 100},
		{Size: 64, Overlap: 0},
		{Size: 100, Overlap: 33},
	}

	for _, text := range texts {
		for _, cfg := range configs {
			c, err := New(cfg)
			if err != nil {
				t.Fatalf("New(%+v): %v", cfg, err)
			}
			chunks := c.Split(text, "u")
			if len(chunks) == 0 {
				t.Fatalf("no chunks for %d-rune text with %+v", len([]rune(text)), cfg)
			}

			var rebuilt strings.Builder
			rebuilt.WriteString(chunks[0].Text)
			for i := 1; i < len(chunks); i++ {
				prev := []rune(chunks[i-1].Text)
				cur := []rune(chunks[i].Text)

				tail := string(prev[len(prev)-cfg.Overlap:])
				if len(cur) >= cfg.Overlap {
					head := string(cur[:cfg.Overlap])
					if tail != head {
						t.Fatalf("cfg %+v: chunks %d/%d overlap mismatch: %q vs %q",
							cfg, i-1, i, tail, head)
					}
				}
				rebuilt.WriteString(string(cur[cfg.Overlap:]))
			}
			if rebuilt.String() != text {
				t.Errorf("cfg %+v: reconstruction does not match input", cfg)
			}
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	c := mustNew(t, 80, 20)
	text := strings.Repeat("Campus tours run daily. Meet at the admissions office.\n", 50)

	first := c.Split(text, "u")
	second := c.Split(text, "u")
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestSplit_PrefersSentenceBoundary(t *testing.T) {
	c := mustNew(t, 60, 10)
	text := "The library opens at eight in the morning. It closes at midnight during exams and stays busy."
	chunks := c.Split(text, "u")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0].Text, ".") {
		t.Errorf("expected first chunk to end at sentence boundary, got %q", chunks[0].Text)
	}
}

func TestSplit_SequentialIndexes(t *testing.T) {
	c := mustNew(t, 40, 5)
	chunks := c.Split(strings.Repeat("words and more words in a row ", 20), "u")
	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("chunk %d has index %d", i, ch.Index)
		}
	}
}
