// Package chunker splits page text into overlapping fixed-size windows for
// embedding and indexing.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"campusbot/internal/domain"
)

// ErrInvalidConfig reports unusable chunking parameters. This is fatal:
// callers must fix the configuration before running.
var ErrInvalidConfig = errors.New("chunker: invalid config")

// Config controls chunking behavior. Sizes are in characters (runes).
type Config struct {
	Size    int // maximum chunk length
	Overlap int // characters shared by consecutive chunks
}

// Chunker produces deterministic overlapping chunks. It holds no state
// between calls: the same input always yields the same output.
type Chunker struct {
	size    int
	overlap int
}

// New validates the config. Overlap must be smaller than the chunk size or
// the window never advances.
func New(cfg Config) (*Chunker, error) {
	if cfg.Size <= 0 || cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d (need size > overlap >= 0)",
			ErrInvalidConfig, cfg.Size, cfg.Overlap)
	}
	return &Chunker{size: cfg.Size, overlap: cfg.Overlap}, nil
}

// Split cuts text into chunks of at most Size characters where consecutive
// chunks share exactly Overlap characters. A window ends early at a natural
// boundary (line break, sentence end, word break) when one exists in its
// second half; otherwise it is a hard character cut. Chunks are exact
// substrings, so concatenating each chunk's text past its overlap
// reconstructs the input.
//
// Empty or whitespace-only input yields no chunks.
func (c *Chunker) Split(text, sourceURL string) []domain.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	var chunks []domain.Chunk

	pos := 0
	for pos < len(runes) {
		end := pos + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = pos + c.cut(runes[pos:end])
		}

		chunks = append(chunks, domain.Chunk{
			Text:      string(runes[pos:end]),
			SourceURL: sourceURL,
			Index:     len(chunks),
		})

		if end == len(runes) {
			break
		}
		pos = end - c.overlap
	}

	return chunks
}

// cut returns the length of the window to emit, preferring in order: a line
// break, a sentence end, a word break. Only boundaries past the window's
// midpoint (and past the overlap, so the window still advances) are used.
func (c *Chunker) cut(window []rune) int {
	floor := len(window) / 2
	if floor <= c.overlap {
		floor = c.overlap + 1
	}
	if floor >= len(window) {
		return len(window)
	}

	for i := len(window) - 1; i >= floor; i-- {
		if window[i] == '\n' {
			return i + 1
		}
	}
	for i := len(window) - 2; i >= floor; i-- {
		if isSentenceEnd(window[i]) && unicode.IsSpace(window[i+1]) {
			return i + 1
		}
	}
	for i := len(window) - 1; i >= floor; i-- {
		if unicode.IsSpace(window[i]) {
			return i + 1
		}
	}
	return len(window)
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
