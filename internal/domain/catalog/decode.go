package catalog

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

// Format is a manifest file encoding
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatOf returns the format implied by a file name
func FormatOf(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".toml":
		return FormatTOML, true
	case ".json":
		return FormatJSON, true
	default:
		return "", false
	}
}

// rawManifest is the on-disk shape. Capability values stay untyped until
// ParseCapabilityValue sorts booleans from scope lists.
type rawManifest struct {
	Name         string                            `json:"name" yaml:"name" toml:"name"`
	Title        string                            `json:"title" yaml:"title" toml:"title"`
	Version      string                            `json:"version" yaml:"version" toml:"version"`
	Entrypoint   string                            `json:"entrypoint" yaml:"entrypoint" toml:"entrypoint"`
	WindowType   string                            `json:"window_type" yaml:"window_type" toml:"window_type"`
	Capabilities map[string]map[string]interface{} `json:"capabilities" yaml:"capabilities" toml:"capabilities"`
}

// Decode parses one manifest and checks its name, entrypoint and window
// type. Capability declarations are checked when the app is launched.
func Decode(format Format, data []byte) (types.AppManifest, error) {
	var raw rawManifest
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &raw)
	case FormatTOML:
		err = toml.Unmarshal(data, &raw)
	case FormatJSON:
		err = sonic.Unmarshal(data, &raw)
	default:
		return types.AppManifest{}, fmt.Errorf("%w: unsupported format %q", errs.ErrInvalidManifest, format)
	}
	if err != nil {
		return types.AppManifest{}, fmt.Errorf("%w: decode %s: %v", errs.ErrInvalidManifest, format, err)
	}

	m := types.AppManifest{
		Name:         raw.Name,
		Title:        raw.Title,
		Version:      raw.Version,
		Entrypoint:   raw.Entrypoint,
		WindowType:   types.WindowType(raw.WindowType),
		Capabilities: make(map[string]map[string]types.CapabilityValue, len(raw.Capabilities)),
	}

	categories := make([]string, 0, len(raw.Capabilities))
	for c := range raw.Capabilities {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	for _, c := range categories {
		actions := make(map[string]types.CapabilityValue, len(raw.Capabilities[c]))
		for a, v := range raw.Capabilities[c] {
			value, err := types.ParseCapabilityValue(v)
			if err != nil {
				return types.AppManifest{}, fmt.Errorf("%w: app %s: %s.%s: %v", errs.ErrInvalidManifest, raw.Name, c, a, err)
			}
			actions[a] = value
		}
		m.Capabilities[c] = actions
	}

	if err := m.Validate(); err != nil {
		return types.AppManifest{}, fmt.Errorf("%w: %v", errs.ErrInvalidManifest, err)
	}
	return m, nil
}
