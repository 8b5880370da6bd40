package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Profile bundles run settings under a name. Empty fields leave the
// configured value in place.
type Profile struct {
	Name         string `yaml:"name"`
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
	Instruction  string `yaml:"instruction"`
	Image        string `yaml:"image"`
}

// LoadProfile reads a profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}

	return &p, nil
}

// Profile loads the named profile from ProfilesDir.
func (c *Config) Profile(name string) (*Profile, error) {
	return LoadProfile(filepath.Join(c.ProfilesDir, name+".yaml"))
}
