package form

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed returns the built-in compressor intake questionnaire.
func Seed() []Question {
	return []Question{
		{ID: "pressure", Prompt: "What working pressure do you need (bar)?"},
		{ID: "flow", Prompt: "What flow rate do you need (m3/min)?"},
		{ID: "power", Prompt: "What motor power do you need (kW)?"},
		{ID: "purpose", Prompt: "What will the compressor be used for?"},
	}
}

type catalogFile struct {
	Questions []Question `yaml:"questions"`
}

// LoadFile reads a question catalog from a YAML file. The file replaces the
// seed catalog wholesale; ordering in the file is the conversation order.
func LoadFile(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog file: %w", err)
	}

	var parsed catalogFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog file %s: %w", path, err)
	}

	catalog, err := NewCatalog(parsed.Questions)
	if err != nil {
		return Catalog{}, fmt.Errorf("invalid catalog file %s: %w", path, err)
	}
	return catalog, nil
}
