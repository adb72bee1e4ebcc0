package source

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ManifestName is the file describing a host listener helper.
const ManifestName = "anotherglass-source.json"

// Manifest describes how to run a host listener helper. All commands but the
// last are setup steps run to completion; the last one is the long-lived
// listener process.
type Manifest struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Commands    [][]string `json:"commands"`
	Cwd         string     `json:"cwd"`
	EnvFile     string     `json:"envFile"`
}

func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("manifest %s: id required", dir)
	}
	if m.Cwd == "" {
		m.Cwd = "."
	}
	return &m, nil
}
