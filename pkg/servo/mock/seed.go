package mock

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SeedEntry describes an item preloaded into a sandbox. String values are
// stored as text unless ContentType says otherwise; any other value is stored
// as JSON.
type SeedEntry struct {
	Key         string `yaml:"key" json:"key"`
	Client      string `yaml:"client,omitempty" json:"client,omitempty"`
	ContentType string `yaml:"content_type,omitempty" json:"content_type,omitempty"`
	Value       any    `yaml:"value" json:"value"`
}

// LoadSeed reads seed entries from a YAML or JSON file.
func LoadSeed(path string) ([]SeedEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mock: read seed: %w", err)
	}
	var entries []SeedEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("mock: parse seed %s: %w", path, err)
	}
	return entries, nil
}

func (e SeedEntry) item(now time.Time, fallback string) (*Item, error) {
	if e.Key == "" {
		return nil, fmt.Errorf("mock: seed entry without key")
	}
	client := e.Client
	if client == "" {
		client = fallback
	}
	it := &Item{Client: client, Key: e.Key, ContentType: e.ContentType, UpdatedAt: now}

	if s, ok := e.Value.(string); ok {
		it.Data = []byte(s)
		if it.ContentType == "" {
			it.ContentType = contentTypeText
		}
		return it, nil
	}
	data, err := json.Marshal(e.Value)
	if err != nil {
		return nil, fmt.Errorf("mock: seed %q: encode value: %w", e.Key, err)
	}
	it.Data = data
	if it.ContentType == "" {
		it.ContentType = contentTypeJSON
	}
	return it, nil
}
