package uvn

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a UVN document from path.
func Load(path string) (*UVN, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("uvn: error reading document: %w", err)
	}
	var u UVN
	if err := yaml.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("uvn: error decoding document: %w", err)
	}
	if u.Cells == nil {
		u.Cells = map[int]*Cell{}
	}
	if u.Particles == nil {
		u.Particles = map[int]*Particle{}
	}
	if u.ExcludedCells == nil {
		u.ExcludedCells = map[int]*Cell{}
	}
	if u.ExcludedParticles == nil {
		u.ExcludedParticles = map[int]*Particle{}
	}
	return &u, nil
}

// Save writes the UVN document to path atomically (write to a temp file in
// the same directory, then rename). It takes no file lock.
func (u *UVN) Save(path string) error {
	data, err := yaml.Marshal(u)
	if err != nil {
		return fmt.Errorf("uvn: error encoding document: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".uvn-*.tmp")
	if err != nil {
		return fmt.Errorf("uvn: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("uvn: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("uvn: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("uvn: rename: %w", err)
	}
	return nil
}
