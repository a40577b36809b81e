package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type groupsDocument struct {
	Groups      []Group  `yaml:"groups"`
	SimpleTypes []string `yaml:"simpleTypes"`
}

// Definitions holds the configured group definitions and the simple-type
// allow-list.
type Definitions struct {
	Groups      []Group
	SimpleTypes []string
}

// LoadDefinitions reads group definitions from a YAML file.
func LoadDefinitions(path string) (Definitions, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Definitions{}, errors.New("catalog: definitions path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("catalog: read definitions: %w", err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes and validates YAML group definitions. Duplicate
// resolve map keys are rejected by the decoder.
func ParseDefinitions(data []byte) (Definitions, error) {
	var doc groupsDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Definitions{}, fmt.Errorf("catalog: decode definitions: %w", err)
	}
	if err := validateGroups(doc.Groups); err != nil {
		return Definitions{}, err
	}
	return Definitions{Groups: doc.Groups, SimpleTypes: doc.SimpleTypes}, nil
}

func validateGroups(groups []Group) error {
	seen := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		if strings.TrimSpace(g.ID) == "" {
			return errors.New("catalog: group id is required")
		}
		if _, dup := seen[g.ID]; dup {
			return fmt.Errorf("catalog: duplicate group %q", g.ID)
		}
		seen[g.ID] = struct{}{}
		if len(g.Steps) == 0 {
			return fmt.Errorf("catalog: group %q has no steps", g.ID)
		}
		stepKeys := make(map[string]struct{}, len(g.Steps))
		for _, step := range g.Steps {
			if strings.TrimSpace(step.Key) == "" {
				return fmt.Errorf("catalog: group %q has a step without key", g.ID)
			}
			if _, dup := stepKeys[step.Key]; dup {
				return fmt.Errorf("catalog: group %q repeats step %q", g.ID, step.Key)
			}
			stepKeys[step.Key] = struct{}{}
			for _, opt := range step.Options {
				if strings.Contains(opt.Value, KeySeparator) {
					return fmt.Errorf("catalog: group %q step %q value %q contains %q", g.ID, step.Key, opt.Value, KeySeparator)
				}
			}
		}
		for key := range g.ResolveMap {
			if got := len(strings.Split(key, KeySeparator)); got != len(g.Steps) {
				return fmt.Errorf("catalog: group %q key %q has %d parts, want %d", g.ID, key, got, len(g.Steps))
			}
		}
	}
	return nil
}
