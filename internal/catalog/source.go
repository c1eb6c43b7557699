package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Source loads the full establishment list for a pass.
type Source interface {
	Load(ctx context.Context) ([]Establishment, error)
}

// FileSource reads the offers feed from a JSON file. The file is read again
// on every Load so feed updates are picked up without a restart.
type FileSource struct {
	Path string
}

// Load decodes the JSON array stored at s.Path.
func (s FileSource) Load(ctx context.Context) ([]Establishment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", s.Path, err)
	}
	return Decode(raw)
}

// Decode parses a JSON array of establishments.
func Decode(raw []byte) ([]Establishment, error) {
	var list []Establishment
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return list, nil
}
