package tokens

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding matches the tokenizer used by current OpenAI chat models.
// Other providers tokenize differently; counts are budgets, not bills.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens of text or structured values. It is safe for concurrent use.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// New returns a Counter for the named encoding. BPE ranks are fetched on first
// use and cached under TIKTOKEN_CACHE_DIR. If the encoding cannot be loaded
// (offline, no cache) the counter falls back to a four-characters-per-token estimate.
func New(encoding string) *Counter {
	if encoding == "" {
		encoding = DefaultEncoding
	}

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		slog.Warn("tiktoken encoding unavailable, using estimate", "encoding", encoding, "error", err)
		return &Counter{}
	}
	return &Counter{enc: enc}
}

// Count returns the token count of v. Strings are counted directly; any other
// value is serialized to JSON first, and stringified if that fails.
func (c *Counter) Count(v any) int {
	return c.CountText(stringify(v))
}

// CountText returns the token count of s.
func (c *Counter) CountText(s string) int {
	if s == "" {
		return 0
	}
	if c == nil || c.enc == nil {
		return (len(s) + 3) / 4
	}
	return len(c.enc.Encode(s, nil, nil))
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
