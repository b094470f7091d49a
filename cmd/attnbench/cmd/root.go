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

package cmd

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ajroetker/sdpa-engine/attn"
	sdpaconfig "github.com/ajroetker/sdpa-engine/config"
	"github.com/ajroetker/sdpa-engine/engine"
	"github.com/ajroetker/sdpa-engine/hwy/contrib/workerpool"
	"github.com/ajroetker/sdpa-engine/kvcache"
)

var (
	configPath     string
	b, hq, hkv     int
	qLen, kvLen, s int
	iterations     int
)

var rootCmd = &cobra.Command{
	Use:   "attnbench",
	Short: "Benchmark and smoke-test the CPU SDPA engine",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a prefill + incremental benchmark for a fixed shape",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := sdpaconfig.EngineConfig{}
		if configPath != "" {
			loaded, err := sdpaconfig.Load(configPath)
			if err != nil {
				logrus.Fatalf("failed to load config %s: %v", configPath, err)
			}
			cfg = *loaded
		}

		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			level = logrus.InfoLevel
		}
		logrus.SetLevel(level)

		pool := workerpool.New(cfg.NumWorkers)
		defer pool.Close()

		eng := engine.New(pool, logrus.StandardLogger())

		q := randomFloats(b * hq * qLen * s)
		k := randomFloats(b * hkv * kvLen * s)
		v := randomFloats(b * hkv * kvLen * s)

		start := time.Now()
		for range iterations {
			if _, err := eng.Run(cfg.Attn, nil, q, k, v, attn.Mask{Kind: attn.MaskAutoCausal}, b, hq, hkv, qLen, kvLen, s, 1.0/float32(s)); err != nil {
				logrus.Fatalf("prefill run failed: %v", err)
			}
		}
		prefillElapsed := time.Since(start)

		cache, err := kvcache.New(b, hkv, s, cfg.Attn.KVCachePrecision)
		if err != nil {
			logrus.Fatalf("kvcache.New: %v", err)
		}
		if err := cache.Append(k, v, kvLen); err != nil {
			logrus.Fatalf("cache.Append: %v", err)
		}

		step := randomFloats(b * hq * s)
		kvStep := randomFloats(b * hkv * s)
		start = time.Now()
		for range iterations {
			if err := cache.Append(kvStep, kvStep, 1); err != nil {
				logrus.Fatalf("cache.Append (incremental): %v", err)
			}
			if _, err := eng.Run(cfg.Attn, cache, step, nil, nil, attn.Mask{}, b, hq, hkv, 1, cache.Length(), s, 1.0/float32(s)); err != nil {
				logrus.Fatalf("incremental run failed: %v", err)
			}
		}
		incrementalElapsed := time.Since(start)

		fmt.Printf("prefill:     %d iterations in %s (%s/iter)\n", iterations, prefillElapsed, prefillElapsed/time.Duration(iterations))
		fmt.Printf("incremental: %d iterations in %s (%s/iter)\n", iterations, incrementalElapsed, incrementalElapsed/time.Duration(iterations))
	},
}

func randomFloats(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = rand.Float32()*2 - 1
	}
	return out
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML workload description")
	runCmd.Flags().IntVar(&b, "batch", 1, "batch size")
	runCmd.Flags().IntVar(&hq, "hq", 8, "number of query heads")
	runCmd.Flags().IntVar(&hkv, "hkv", 2, "number of key/value heads")
	runCmd.Flags().IntVar(&qLen, "qlen", 128, "prefill query length")
	runCmd.Flags().IntVar(&kvLen, "kvlen", 128, "prefill key/value length")
	runCmd.Flags().IntVar(&s, "headdim", 64, "per-head dimension")
	runCmd.Flags().IntVar(&iterations, "iters", 10, "number of benchmark iterations")

	rootCmd.AddCommand(runCmd)
}
