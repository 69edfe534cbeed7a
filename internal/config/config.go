// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config decodes pmr's optional on-disk override file, using
// sigs.k8s.io/yaml to parse it into a plain struct.
package config

import (
	"os"

	"sigs.k8s.io/yaml"

	"github.com/arlenwen/pmr/internal/logpipe"
)

// Config holds every user-overridable default. Zero values mean
// "use the built-in default".
type Config struct {
	// DataRoot overrides the default ${HOME}/.pmr root.
	DataRoot string `json:"data_root,omitempty"`
	// ListenAddr is the default bind address for `pmr serve`.
	ListenAddr string `json:"listen_addr,omitempty"`
	// LogMaxSizeBytes overrides logpipe.DefaultMaxSize.
	LogMaxSizeBytes int64 `json:"log_max_size_bytes,omitempty"`
	// LogKeepCount overrides logpipe.DefaultKeepCount.
	LogKeepCount int `json:"log_keep_count,omitempty"`
	// StopGraceSeconds overrides supervisor.StopGrace.
	StopGraceSeconds int `json:"stop_grace_seconds,omitempty"`
}

const DefaultListenAddr = "127.0.0.1:8700"

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:      DefaultListenAddr,
		LogMaxSizeBytes: logpipe.DefaultMaxSize,
		LogKeepCount:    logpipe.DefaultKeepCount,
	}
}

// Load reads path (if it exists) and overlays it onto Default(). A
// missing file is not an error: every field simply keeps its default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Config{}, err
	}
	if override.DataRoot != "" {
		cfg.DataRoot = override.DataRoot
	}
	if override.ListenAddr != "" {
		cfg.ListenAddr = override.ListenAddr
	}
	if override.LogMaxSizeBytes != 0 {
		cfg.LogMaxSizeBytes = override.LogMaxSizeBytes
	}
	if override.LogKeepCount != 0 {
		cfg.LogKeepCount = override.LogKeepCount
	}
	if override.StopGraceSeconds != 0 {
		cfg.StopGraceSeconds = override.StopGraceSeconds
	}
	return cfg, nil
}
