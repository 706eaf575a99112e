package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.viam.com/articulated/logging"
)

// Format is the encoding of a config file.
type Format string

const (
	// FormatJSON is plain JSON.
	FormatJSON Format = "json"
	// FormatYAML is YAML, decoded through the JSON field names.
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", errors.Errorf("cannot tell the config format of %q, expected .json, .yaml or .yml", path)
	}
}

// Read reads and validates a config from the given file.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	format, err := FormatFromPath(filePath)
	if err != nil {
		return nil, err
	}
	//nolint:gosec
	buf, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, format, bytes.NewReader(buf), logger)
}

// FromReader reads and validates a config from the given reader and records the file it came
// from, if any.
func FromReader(originalPath string, format Format, r io.Reader, logger logging.Logger) (*Config, error) {
	cfg := Config{ConfigFilePath: originalPath}
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&cfg); err != nil {
			return nil, errors.Wrap(err, "failed to decode config from json")
		}
	case FormatYAML:
		var raw map[string]interface{}
		if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
			return nil, errors.Wrap(err, "failed to decode config from yaml")
		}
		unused, err := decodeAttributesUnused(raw, &cfg)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode config from yaml")
		}
		if len(unused) > 0 {
			logger.Warnw("config has unused keys", "path", originalPath, "keys", unused)
		}
	default:
		return nil, errors.Errorf("unknown config format %q", format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", originalPath)
	}
	return &cfg, nil
}

// decodeAttributes decodes a generic attribute map onto out using its JSON field names.
func decodeAttributes(attributes map[string]interface{}, out interface{}) error {
	unused, err := decodeAttributesUnused(attributes, out)
	if err != nil {
		return err
	}
	if len(unused) > 0 {
		return errors.Errorf("unknown attributes %v", unused)
	}
	return nil
}

func decodeAttributesUnused(attributes map[string]interface{}, out interface{}) ([]string, error) {
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:  "json",
		Result:   out,
		Metadata: &md,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, err
	}
	return md.Unused, nil
}
