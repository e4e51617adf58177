// Package config provides configuration loading and management for the DPIA
// form engine.
package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/MinBZK/par-dpia-form/internal/calc"
)

// Config is the root configuration.
type Config struct {
	Namespaces      map[string]string `json:"namespaces"                 mapstructure:"namespaces"`
	ActiveNamespace string            `json:"active_namespace,omitempty" mapstructure:"active_namespace"`
	Storage         Storage           `json:"storage"                    mapstructure:"storage"`
	Server          Server            `json:"server"                     mapstructure:"server"`
	RiskMatrix      calc.RiskMatrix   `json:"risk_matrix"                mapstructure:"risk_matrix"`
	Export          Export            `json:"export"                     mapstructure:"export"`
}

// Storage configures the SQLite state store.
type Storage struct {
	Path     string `json:"path"     mapstructure:"path"`
	Autosave bool   `json:"autosave" mapstructure:"autosave"`
}

// Server configures the HTTP API.
type Server struct {
	Addr            string        `json:"addr"             mapstructure:"addr"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// Export configures where export files are written.
type Export struct {
	Dir string `json:"dir" mapstructure:"dir"`
}

// Defaults are applied before the config file and environment.
var Defaults = map[string]any{
	"storage.path":            ".dpia/state.db",
	"storage.autosave":        true,
	"server.addr":             "127.0.0.1:8080",
	"server.shutdown_timeout": 5 * time.Second,
	"export.dir":              ".",
}

// Validate checks cross-field constraints the schema cannot express.
func (c Config) Validate() error {
	if len(c.Namespaces) == 0 {
		return fmt.Errorf("namespaces: at least one namespace is required")
	}
	for name, path := range c.Namespaces {
		if path == "" {
			return fmt.Errorf("namespaces.%s: schema path is empty", name)
		}
	}
	if c.ActiveNamespace != "" {
		if _, ok := c.Namespaces[c.ActiveNamespace]; !ok {
			return fmt.Errorf("active_namespace %q is not one of %v", c.ActiveNamespace, c.NamespaceNames())
		}
	}
	if c.Storage.Autosave && c.Storage.Path == "" {
		return fmt.Errorf("storage.path must be set when storage.autosave is enabled")
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must be >= 0")
	}
	rm := c.RiskMatrix
	set := 0
	for _, v := range []string{rm.LevelTask, rm.ChanceTask, rm.ImpactTask} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return fmt.Errorf("risk_matrix: level_task, chance_task and impact_task must be set together")
	}
	return nil
}

// NamespaceNames returns the configured namespace names, sorted.
func (c Config) NamespaceNames() []string {
	names := make([]string, 0, len(c.Namespaces))
	for name := range c.Namespaces {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
