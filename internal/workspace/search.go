package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"basegraph.app/companion/internal/shell"
)

const (
	searchTimeout      = 10 * time.Second
	maxMatchesPerFile  = 50
	maxSnippetLines    = 8
	maxSearchKeywords  = 15
	minFallbackKeyword = 3
)

// Keyword is a search term with a relevance weight in [0, 1].
type Keyword struct {
	Value  string  `json:"value"`
	Weight float64 `json:"weight"`
}

// KeywordExtractor turns a natural language query into search terms.
type KeywordExtractor interface {
	Extract(ctx context.Context, query string) ([]Keyword, error)
}

// SearchResult is one file ranked by keyword hits.
type SearchResult struct {
	Path    string   `json:"filePath"`
	Score   float64  `json:"score"`
	Snippet []string `json:"snippet"` // "line:text" entries
}

// Searcher ranks project files by ripgrep hits of query keywords.
type Searcher struct {
	root      string
	ignore    *Ignore
	runner    shell.CommandRunner
	extractor KeywordExtractor
}

func NewSearcher(ws *Workspace, runner shell.CommandRunner, extractor KeywordExtractor) *Searcher {
	if runner == nil {
		runner = shell.ExecCommandRunner{}
	}
	return &Searcher{root: ws.Root(), ignore: ws.Ignore(), runner: runner, extractor: extractor}
}

// Search returns up to limit files, best first.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	keywords := s.keywords(ctx, query)
	if len(keywords) == 0 {
		return nil, nil
	}

	args := []string{"-n", "--no-heading", "--color=never", "-i", "-F", "-m", strconv.Itoa(maxMatchesPerFile)}
	for _, k := range keywords {
		args = append(args, "-e", k.Value)
	}
	args = append(args, s.root)

	timeoutCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	out, err := s.runner.Run(timeoutCtx, shell.Command{Name: "rg", Args: args, Dir: s.root})
	if err != nil {
		// ripgrep exits 1 when nothing matched
		if shell.ExitCode(err) == 1 {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("ripgrep: %w", err)
		}
	}

	results := s.rank(string(out), keywords)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Searcher) keywords(ctx context.Context, query string) []Keyword {
	if s.extractor != nil {
		keywords, err := s.extractor.Extract(ctx, query)
		if err == nil && len(keywords) > 0 {
			if len(keywords) > maxSearchKeywords {
				keywords = keywords[:maxSearchKeywords]
			}
			return keywords
		}
		if err != nil {
			slog.WarnContext(ctx, "keyword extraction failed, splitting query", "error", err)
		}
	}
	return SplitKeywords(query)
}

var wordSplit = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {}, "from": {}, "into": {},
	"code": {}, "file": {}, "files": {}, "where": {}, "which": {}, "how": {}, "what": {}, "are": {},
	"add": {}, "fix": {}, "update": {}, "implement": {}, "change": {}, "find": {}, "search": {},
}

// SplitKeywords derives keywords from the query words, dropping stop words and short tokens.
func SplitKeywords(query string) []Keyword {
	seen := make(map[string]struct{})
	var out []Keyword
	for _, w := range wordSplit.Split(strings.ToLower(query), -1) {
		if len(w) < minFallbackKeyword {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, Keyword{Value: w, Weight: 1})
		if len(out) == maxSearchKeywords {
			break
		}
	}
	return out
}

func (s *Searcher) rank(output string, keywords []Keyword) []SearchResult {
	byPath := make(map[string]*SearchResult)
	hits := make(map[string]map[string]struct{})

	for _, line := range strings.Split(output, "\n") {
		path, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		lineNo, text, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		if rel, err := filepath.Rel(s.root, path); err == nil && s.ignore.Match(rel, false) {
			continue
		}

		r, exists := byPath[path]
		if !exists {
			r = &SearchResult{Path: path}
			byPath[path] = r
			hits[path] = make(map[string]struct{})
		}

		lower := strings.ToLower(text)
		for _, k := range keywords {
			if strings.Contains(lower, strings.ToLower(k.Value)) {
				r.Score += k.Weight
				hits[path][k.Value] = struct{}{}
			}
		}
		if len(r.Snippet) < maxSnippetLines {
			r.Snippet = append(r.Snippet, lineNo+":"+strings.TrimSpace(text))
		}
	}

	results := make([]SearchResult, 0, len(byPath))
	for path, r := range byPath {
		// Files matching several distinct keywords beat files repeating one.
		r.Score *= float64(len(hits[path]))
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Path < results[j].Path
	})
	return results
}
