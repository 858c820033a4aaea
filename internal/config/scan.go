package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	appdefaults "github.com/saker-ai/openclaw-gateway/config"
	"github.com/saker-ai/openclaw-gateway/internal/control"
)

// Character describes one selectable avatar model.
type Character struct {
	ID               string            `yaml:"id" json:"id"`
	Name             string            `yaml:"name" json:"name"`
	ModelURL         string            `yaml:"model_url" json:"modelUrl"`
	Type             string            `yaml:"type" json:"type"`
	Scale            float64           `yaml:"scale" json:"scale"`
	Position         [3]float64        `yaml:"position" json:"position"`
	DefaultAnimation string            `yaml:"default_animation,omitempty" json:"defaultAnimation,omitempty"`
	Animations       map[string]string `yaml:"animations,omitempty" json:"animations,omitempty"`
}

type characterFilePayload struct {
	Characters []Character `yaml:"characters"`
}

// LoadCharacters reads the catalog at path, or the built-in catalog when
// path is empty.
func LoadCharacters(path string) ([]Character, error) {
	data := appdefaults.Characters
	if strings.TrimSpace(path) != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		data = fileData
	}
	return ParseCharacters(data)
}

// ParseCharacters decodes a YAML catalog and checks ids are unique and
// within the length setActiveCharacterId accepts.
func ParseCharacters(data []byte) ([]Character, error) {
	var payload characterFilePayload
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse characters: %w", err)
	}
	if len(payload.Characters) == 0 {
		return nil, errors.New("character catalog is empty")
	}
	seen := make(map[string]struct{}, len(payload.Characters))
	for _, character := range payload.Characters {
		if err := control.NewActiveCharacter(character.ID, "").Validate(); err != nil {
			return nil, fmt.Errorf("invalid character id %q: %w", character.ID, err)
		}
		if _, ok := seen[character.ID]; ok {
			return nil, fmt.Errorf("duplicate character id %q", character.ID)
		}
		seen[character.ID] = struct{}{}
	}
	return payload.Characters, nil
}
