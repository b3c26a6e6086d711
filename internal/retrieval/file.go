package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/tru8/internal/model"
)

// FileChannel serves canned results from a JSON fixture mapping queries to candidates:
//
//	{"<query>": [{"url": "...", "snippet": "..."}], "*": [...]}
//
// Queries match case-insensitively after trimming; "*" answers every other query.
type FileChannel struct {
	name    string
	results map[string][]model.EvidenceCandidate
}

// LoadFileChannel reads a fixture file
func LoadFileChannel(name, path string) (*FileChannel, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFileChannel(name, data)
}

// ParseFileChannel builds a channel from fixture bytes
func ParseFileChannel(name string, data []byte) (*FileChannel, error) {
	var raw map[string][]model.EvidenceCandidate
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}

	results := make(map[string][]model.EvidenceCandidate, len(raw))
	for query, cands := range raw {
		results[queryKey(query)] = cands
	}
	return &FileChannel{name: name, results: results}, nil
}

// Name returns the channel name
func (c *FileChannel) Name() string {
	return c.name
}

// Search returns a copy of the fixture entry for query
func (c *FileChannel) Search(ctx context.Context, query string) ([]model.EvidenceCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cands, ok := c.results[queryKey(query)]
	if !ok {
		cands = c.results["*"]
	}

	out := make([]model.EvidenceCandidate, len(cands))
	copy(out, cands)
	for i := range out {
		out[i].Normalize()
	}
	return out, nil
}

func queryKey(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}
