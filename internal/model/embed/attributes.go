package embed

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadAttributes reads a mapping of script attributes from disk. Files ending
// in .toml are decoded as TOML, anything else as YAML. Scalar values are
// stringified; lists are kept as JSON arrays so default-messages can carry
// several entries.
func LoadAttributes(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read attributes %s", path)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTOMLAttributes(data)
	}
	return ParseAttributes(data)
}

// ParseAttributes decodes YAML attribute bytes.
func ParseAttributes(data []byte) (map[string]string, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode attributes")
	}
	return flattenAttributes(raw)
}

// ParseTOMLAttributes decodes TOML attribute bytes.
func ParseTOMLAttributes(data []byte) (map[string]string, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode toml attributes")
	}
	return flattenAttributes(raw)
}

func flattenAttributes(raw map[string]any) (map[string]string, error) {
	attrs := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			attrs[key] = v
		case []any:
			items := make([]string, 0, len(v))
			for _, item := range v {
				items = append(items, fmt.Sprint(item))
			}
			encoded, err := json.Marshal(items)
			if err != nil {
				return nil, errors.Wrapf(err, "encode attribute %s", key)
			}
			attrs[key] = string(encoded)
		default:
			attrs[key] = fmt.Sprint(v)
		}
	}
	return attrs, nil
}

// ParseAttributePairs turns "key=value" flag values into an attribute map.
func ParseAttributePairs(pairs []string) (map[string]string, error) {
	attrs := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid attribute %q, expected key=value", pair)
		}
		attrs[key] = value
	}
	return attrs, nil
}

// Merge layers attribute maps; later maps win.
func Merge(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// Dump renders settings as YAML.
func (s Settings) Dump() ([]byte, error) {
	return yaml.Marshal(s)
}
