package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nrf1proto/capsule/pkg/errs"
)

// Profile is a YAML-loaded deployment profile: the named pipeline
// manifest to run and the literal-or-env bindings its effects resolve
// against (pkg/effect.Bindings). Kept separate from Config (environment
// variables) since a profile is typically checked into a repo alongside
// its manifests, while Config carries secrets and per-deployment knobs.
type Profile struct {
	Name        string            `yaml:"name"`
	ManifestRef string            `yaml:"manifest"`
	Bindings    map[string]string `yaml:"bindings"`
}

// LoadProfile parses a Profile from YAML bytes.
func LoadProfile(b []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, errs.New(errs.ConfigInvalid, "config: invalid profile yaml: %v", err)
	}
	if p.Name == "" {
		return nil, errs.New(errs.ConfigInvalid, "config: profile requires a name")
	}
	if p.ManifestRef == "" {
		return nil, errs.New(errs.ConfigInvalid, "config: profile %q requires a manifest reference", p.Name)
	}
	return &p, nil
}

// LoadProfileFile reads and parses a Profile from path.
func LoadProfileFile(path string) (*Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.ConfigInvalid, "config: read profile %s: %v", path, err)
	}
	return LoadProfile(b)
}
