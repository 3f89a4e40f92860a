// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// FullConfig is the complete service configuration, loaded from a YAML
// file with environment-variable overrides on top.
type FullConfig struct {
	API     APIConfig     `yaml:"api"`
	Metrics MetricsConfig `yaml:"metrics"`
	Store   StoreConfig   `yaml:"store"`
}

type APIConfig struct {
	Port       int `yaml:"port"`       // Port the REST API listens on
	HealthPort int `yaml:"healthPort"` // Port for liveness/readiness checks
}

type MetricsConfig struct {
	Port int `yaml:"port"` // Port to expose metrics on
}

type StoreConfig struct {
	Backend string `yaml:"backend"` // "memory" or "sqlite"
	DBPath  string `yaml:"dbPath"`  // SQLite database file, ignored for memory
}

// DefaultConfig returns the configuration used when no file and no
// overrides are present.
func DefaultConfig() FullConfig {
	return FullConfig{
		API:     APIConfig{Port: 8080, HealthPort: 8086},
		Metrics: MetricsConfig{Port: 8090},
		Store:   StoreConfig{Backend: BackendSQLite, DBPath: "/data/shopfloor.db"},
	}
}

// Load reads the config file at path (if it exists) on top of the
// defaults, then applies environment-variable overrides. A missing file
// is not an error; a malformed one is.
func Load(path string) (FullConfig, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults + env only
		case err != nil:
			return cfg, fmt.Errorf("failed to read config file %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config file %q: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *FullConfig) {
	overrideInt("API_PORT", &cfg.API.Port)
	overrideInt("HEALTH_PORT", &cfg.API.HealthPort)
	overrideInt("METRICS_PORT", &cfg.Metrics.Port)
	overrideString("STORE_BACKEND", &cfg.Store.Backend)
	overrideString("STORE_DB_PATH", &cfg.Store.DBPath)
}

func overrideInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func overrideString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func validate(cfg FullConfig) error {
	if cfg.Store.Backend != BackendMemory && cfg.Store.Backend != BackendSQLite {
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if cfg.Store.Backend == BackendSQLite && cfg.Store.DBPath == "" {
		return fmt.Errorf("store backend %q requires dbPath", BackendSQLite)
	}

	return nil
}

// LoadAuthAccounts reads API basic-auth accounts from the environment:
// numbered TEAM_NAME_n / TEAM_PASSWORD_n pairs plus the admin
// SHOPFLOOR_USER / SHOPFLOOR_PASSWORD pair. Returns user -> password.
func LoadAuthAccounts() map[string]string {
	accounts := map[string]string{}

	for i := 1; i <= 100; i++ {
		user := os.Getenv("TEAM_NAME_" + strconv.Itoa(i))
		password := os.Getenv("TEAM_PASSWORD_" + strconv.Itoa(i))
		if user != "" && password != "" {
			accounts[user] = password
		}
	}

	adminUser := os.Getenv("SHOPFLOOR_USER")
	adminPassword := os.Getenv("SHOPFLOOR_PASSWORD")
	if adminUser != "" && adminPassword != "" {
		accounts[adminUser] = adminPassword
	}

	return accounts
}
