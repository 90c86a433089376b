package priors

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

var fileNames = map[string]string{
	Discard:  "discard_prior.json",
	Admin:    "admin_err_and_bias_prior.json",
	Coverage: "neg_binom_prior.json",
	Design:   "survey_design_effect_prior.json",
}

// Store persists priors as JSON files in a directory, one file per
// prior.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir.  The directory is created on
// the first Save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the cache file of the named prior, or an empty string if
// the name is unknown.
func (s *Store) Path(name string) string {
	fn, ok := fileNames[name]
	if !ok {
		return ""
	}
	return filepath.Join(s.dir, fn)
}

// Load reads a cached prior.  The error wraps os.ErrNotExist if the prior
// has not been cached.
func (s *Store) Load(name string) (*Prior, error) {

	path := s.Path(name)
	if path == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPrior, name)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load prior: %w", err)
	}

	p := new(Prior)
	if err := json.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("decode prior %s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = name
	}

	return p, nil
}

// Save writes a prior.  The file is replaced atomically, so concurrent
// readers see either the old or the new content.
func (s *Store) Save(p *Prior) error {

	path := s.Path(p.Name)
	if path == "" {
		return fmt.Errorf("%w: %q", ErrUnknownPrior, p.Name)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode prior %s: %w", p.Name, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".prior-*")
	if err != nil {
		return fmt.Errorf("save prior: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save prior: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save prior: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}
