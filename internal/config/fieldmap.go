package config

import (
	"fmt"
	"os"

	"github.com/fjod/cpqcart/internal/domain"
	"gopkg.in/yaml.v3"
)

// LoadFieldMap reads backend field names from a YAML file. Names the file
// leaves out keep their defaults; an empty path means all defaults.
func LoadFieldMap(filename string) (domain.FieldMap, error) {
	if filename == "" {
		return domain.DefaultFieldMap(), nil
	}
	file, err := os.Open(filename)
	if err != nil {
		return domain.FieldMap{}, fmt.Errorf("open field map: %w", err)
	}
	defer file.Close()

	var m domain.FieldMap
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return domain.FieldMap{}, fmt.Errorf("decode field map: %w", err)
	}
	return m.WithDefaults(), nil
}
