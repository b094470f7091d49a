// Copyright 2025 go-highway Authors
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

// Package config loads the startup configuration for cmd/attnbench: worker
// pool size, log level, a default dispatch level override for testing, and
// the attn.Config fields used when no per-call override is given. This is
// never consulted by attn/kvcache/engine at call time; it is not a wire
// protocol or checkpoint format for engine or cache state.
package config

import (
	"bytes"
	"os"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/ajroetker/sdpa-engine/attn"
	"github.com/ajroetker/sdpa-engine/attnerr"
	"github.com/ajroetker/sdpa-engine/kvcache"
)

// EngineConfig wraps attn.Config with the runtime knobs needed to stand up
// an engine.Engine from a file, independent of any per-call overrides a
// caller supplies later.
type EngineConfig struct {
	Attn attn.Config `yaml:"attn"`

	// NumWorkers sizes the worker pool. Zero means "let workerpool.New pick
	// a default based on runtime.GOMAXPROCS" when the pool is created; Load
	// leaves a zero or negative value at 0 rather than resolving it.
	NumWorkers int `yaml:"num_workers"`

	// LogLevel is a logrus level name ("debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level"`

	// DispatchLevelOverride, if non-empty, names a hwy.DispatchLevel. Load
	// parses and stores it, but nothing in this module reads it, so it does
	// not change the dispatch level detected from CPU features.
	DispatchLevelOverride string `yaml:"dispatch_level_override"`
}

// defaultEngineConfig mirrors the zero-value Config documented in attn:
// no output permute, no implicit causal masking, FP32 cache storage.
func defaultEngineConfig() EngineConfig {
	return EngineConfig{
		Attn: attn.Config{
			KVCachePrecision: kvcache.FP32,
		},
		NumWorkers: 0,
		LogLevel:   "info",
	}
}

// Load reads path as YAML into an EngineConfig, rejecting unknown fields
// (a typo'd key is a startup error, not a silently-ignored one) and filling
// in defaults for anything the file leaves zero-valued.
func Load(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, attnerr.Wrap(attnerr.PreconditionFailure, "config.Load", err)
	}

	cfg := defaultEngineConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, attnerr.Wrap(attnerr.PreconditionFailure, "config.Load", err)
	}

	cfg.NumWorkers = lo.Ternary(cfg.NumWorkers > 0, cfg.NumWorkers, 0)
	cfg.LogLevel = lo.Ternary(cfg.LogLevel != "", cfg.LogLevel, "info")
	return &cfg, nil
}
