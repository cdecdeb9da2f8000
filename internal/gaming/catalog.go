package gaming

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dukerupert/doorstep/internal/apperr"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// DefaultCatalog returns the built-in achievement definitions.
func DefaultCatalog() ([]Definition, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads definitions from a YAML file, or the built-in set when
// path is empty.
func LoadCatalog(path string) ([]Definition, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read achievements file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML list of definitions and validates each one.
// IDs must be unique.
func ParseCatalog(data []byte) ([]Definition, error) {
	var defs []Definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse achievements: %w", err)
	}
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if err := Validate(def); err != nil {
			return nil, err
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("%w: duplicate achievement id %q", apperr.ErrInvalidArgument, def.ID)
		}
		seen[def.ID] = true
	}
	return defs, nil
}
