package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"basegraph.app/companion/common/llm"
	"basegraph.app/companion/internal/workspace"
)

const (
	keywordAttempts = 3
	maxKeywords     = 8
)

type keywordsResponse struct {
	Keywords []keywordItem `json:"keywords" jsonschema_description:"Search terms for the query, most relevant first"`
}

type keywordItem struct {
	Value  string  `json:"value" jsonschema_description:"A literal string likely to appear in the relevant code"`
	Weight float64 `json:"weight" jsonschema_description:"Relevance weight 0.0-1.0"`
}

var keywordsSchema = llm.GenerateSchema[keywordsResponse]()

// KeywordsExtractor asks the small model for codebase search terms.
type KeywordsExtractor struct {
	llm llm.Client
}

func NewKeywordsExtractor(client llm.Client) *KeywordsExtractor {
	return &KeywordsExtractor{llm: client}
}

// Extract returns weighted search terms for query. Blank and duplicate terms
// are dropped and weights are clamped to [0, 1].
func (e *KeywordsExtractor) Extract(ctx context.Context, query string) ([]workspace.Keyword, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	var response keywordsResponse
	start := time.Now()

	// Extraction only sharpens search, so give up after a few attempts and let
	// the caller fall back to splitting the query.
	err := llm.Retry(ctx, keywordAttempts, func() error {
		_, err := e.llm.Chat(ctx, llm.Request{
			SystemPrompt: keywordsSystemPrompt,
			UserPrompt:   query,
			SchemaName:   "keywords_response",
			Schema:       keywordsSchema,
			Temperature:  llm.Temp(0.1),
		}, &response)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("keywords extraction: %w", err)
	}

	seen := make(map[string]struct{}, len(response.Keywords))
	keywords := make([]workspace.Keyword, 0, len(response.Keywords))
	for _, k := range response.Keywords {
		value := strings.TrimSpace(k.Value)
		key := strings.ToLower(value)
		if value == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keywords = append(keywords, workspace.Keyword{Value: value, Weight: min(max(k.Weight, 0), 1)})
		if len(keywords) == maxKeywords {
			break
		}
	}

	slog.DebugContext(ctx, "keywords extracted",
		"keyword_count", len(keywords),
		"latency_ms", time.Since(start).Milliseconds())
	return keywords, nil
}

const keywordsSystemPrompt = `You turn a question about a codebase into literal search terms for grep.

Think: "What strings would appear in the files that answer this?"

Prefer identifiers (function, type, file and config names) over prose. Include likely
naming variants (camelCase, snake_case) when the query names a concept. Give each term
a weight between 0.0 and 1.0 for how strongly a match indicates relevance.

## Examples

Query: "where is the login form validated"
- login (0.9)
- validate (0.8)
- LoginForm (0.7)
- password (0.5)

Query: "how are environment variables loaded"
- getenv (0.9)
- dotenv (0.8)
- process.env (0.7)
- config (0.5)

Return at most 8 terms.`

var _ workspace.KeywordExtractor = (*KeywordsExtractor)(nil)
