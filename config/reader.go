package config

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"github.com/nar3128/swervepose/logging"
)

// Read reads a config from the given file, substituting ${VAR} environment references first.
func Read(ctx context.Context, filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(ctx, filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies where, if applicable, the file
// the reader originated from. Fields missing from the input keep their Default values.
func FromReader(ctx context.Context, originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	var attributes map[string]interface{}
	if err := json.NewDecoder(r).Decode(&attributes); err != nil {
		return nil, errors.Wrap(err, "cannot parse config as json")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := Default()
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Squash:     true,
		Result:     &cfg,
		Metadata:   &md,
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "cannot decode config")
	}
	if len(md.Unused) != 0 {
		sort.Strings(md.Unused)
		logger.Warnw("ignoring unknown config fields", "path", originalPath, "fields", md.Unused)
	}

	cfg.fillLists()
	cfg.ConfigFilePath = originalPath
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return &cfg, nil
}
