package assembler

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/config.yaml
var defaultConfig embed.FS

// Config holds loader branding and user-facing message text from
// config.yaml. The compiled-in defaults always parse; an optional
// external file overrides them wholesale.
type Config struct {
	Branding struct {
		Name    string `yaml:"name"`
		Website string `yaml:"website"`
	} `yaml:"branding"`

	Loader struct {
		KeyVariable string `yaml:"key_variable"`
	} `yaml:"loader"`

	Messages struct {
		MissingKey     string `yaml:"missing_key"`
		InvalidKey     string `yaml:"invalid_key"`
		FetchFailed    string `yaml:"fetch_failed"`
		CorruptPayload string `yaml:"corrupt_payload"`
	} `yaml:"messages"`
}

// LoadConfig returns the compiled-in defaults, replaced by the YAML file
// at path when path is non-empty.
func LoadConfig(path string) (*Config, error) {
	data, err := defaultConfig.ReadFile("defaults/config.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded loader config: %w", err)
	}
	if path != "" {
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("failed to read loader config %s: %w", path, err)
		}
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse loader config: %w", err)
	}
	return &config, nil
}
