package retrieval

import (
	"encoding/json"
	"fmt"

	"campusbot/internal/domain"
)

// DefaultPersona is used when no persona is configured.
const DefaultPersona = "You are an AI assistant who answers questions about the college " +
	"using the context provided below. If the context does not cover the " +
	"question, answer from your own knowledge without mentioning the context. " +
	"Format responses using markdown where applicable and do not return images."

// Assembler turns retrieval results into the single system message prepended
// to the conversation.
type Assembler struct {
	persona string
}

func NewAssembler(persona string) *Assembler {
	if persona == "" {
		persona = DefaultPersona
	}
	return &Assembler{persona: persona}
}

// Assemble builds the conversation sent to the generator: one synthesized
// system message followed by the caller's history, unmodified. The context
// block is the retrieved chunk texts in ranked order, JSON-encoded; callers
// in degraded mode pass nil results and get an empty block. Duplicate text
// across overlapping chunks is kept as-is.
func (a *Assembler) Assemble(results []domain.SearchResult, query string, history []domain.Message) []domain.Message {
	texts := make([]string, len(results))
	for i, res := range results {
		texts[i] = res.Entry.Text
	}

	contextBlock := ""
	if len(texts) > 0 {
		// Marshaling []string cannot fail.
		b, _ := json.Marshal(texts)
		contextBlock = string(b)
	}

	system := domain.Message{
		Role: domain.RoleSystem,
		Content: fmt.Sprintf("%s\n-------------\nSTART CONTEXT\n%s\nEND CONTEXT\n-------------\nQUESTION: %s",
			a.persona, contextBlock, query),
	}

	out := make([]domain.Message, 0, len(history)+1)
	out = append(out, system)
	out = append(out, history...)
	return out
}
