/*
Copyright (c) Seekmesh Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Config holds everything the node needs at start-up. Flags override
// whatever a YAML config file supplies, layering file defaults under
// command-line overrides.
type Config struct {
	IP            string        `yaml:"ip"`
	Port          int           `yaml:"port"`
	Username      string        `yaml:"username"`
	Registrar     string        `yaml:"registrar"`
	CorpusFile    string        `yaml:"corpus_file"`
	AutoRegister  bool          `yaml:"auto_register"`
	LogLevel      string        `yaml:"log_level"`
	StatsDir      string        `yaml:"stats_dir"`
	TransferPort  int           `yaml:"transfer_port"`
	MetricsPort   int           `yaml:"metrics_port"`
	Workers       int           `yaml:"workers"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() *Config {
	return &Config{
		IP:            "0.0.0.0",
		Port:          6000,
		Username:      "anonymous",
		CorpusFile:    "",
		AutoRegister:  true,
		LogLevel:      "warning",
		StatsDir:      "",
		TransferPort:  7000,
		MetricsPort:   0,
		Workers:       8,
		PruneInterval: 10 * time.Second,
	}
}

// ReadConfig loads a YAML config file over DefaultConfig's values.
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}
