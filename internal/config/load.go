package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. DPIA_SERVER_ADDR.
const EnvPrefix = "DPIA"

// DefaultPath is the config file used when none is given.
var DefaultPath = filepath.Join(".dpia", "config.yaml")

// Load reads the config file at path, applies defaults and DPIA_*
// environment overrides, validates the raw settings against the schema and
// decodes them. A missing file is an error only when required is set.
// Relative namespace paths are resolved against the config file directory.
func Load(v *viper.Viper, path string, required bool) (Config, error) {
	for key, value := range Defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultPath
	}
	v.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "yml" {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		if required || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if err := ValidateSettings(v.AllSettings()); err != nil {
		return Config{}, err
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	base := filepath.Dir(path)
	for name, p := range cfg.Namespaces {
		if p != "" && !filepath.IsAbs(p) {
			cfg.Namespaces[name] = filepath.Join(base, p)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// fileExists reports whether path names an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// MissingNamespaceFiles lists the namespaces whose schema file does not exist.
func (c Config) MissingNamespaceFiles() []string {
	var missing []string
	for _, name := range c.NamespaceNames() {
		if !fileExists(c.Namespaces[name]) {
			missing = append(missing, name)
		}
	}
	return missing
}
