// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package doctransform

import (
	"fmt"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config holds configuration for Transformer.
type Config struct {
	// Logger holds an optional Logger to use for logging transform progress
	// and failures.
	//
	// If Logger is nil, logging will be disabled.
	Logger *zap.Logger

	// Tracer holds an optional apm.Tracer to use for tracing transforms.
	// Each call to Transform is traced as a transaction.
	//
	// If Tracer is nil, transforms will not be traced with Elastic APM.
	Tracer *apm.Tracer

	// TracerProvider holds an optional OTel TracerProvider. It is only used
	// when Tracer is nil.
	TracerProvider trace.TracerProvider

	// MeterProvider holds the OTel MeterProvider to be used to create and
	// record transformer metrics.
	//
	// If unset, the global OTel MeterProvider will be used, if that is unset,
	// no metrics will be recorded.
	MeterProvider metric.MeterProvider

	// MetricAttributes holds any extra attributes to set in the recorded
	// metrics.
	MetricAttributes attribute.Set

	// TempDir holds the directory in which the intermediate file is created.
	//
	// If TempDir is empty, os.TempDir() is used.
	TempDir string

	// Store holds the configuration used by NewFromURL to create the
	// Elasticsearch store. It is ignored by New.
	Store StoreConfig
}

// StoreConfig holds configuration for ElasticsearchStore.
type StoreConfig struct {
	// Logger holds an optional Logger.
	//
	// If Logger is nil, logging will be disabled.
	Logger *zap.Logger

	// ScrollSize holds the number of documents requested per scroll page.
	//
	// If ScrollSize is less than or equal to zero, the default of 1000 will
	// be used.
	ScrollSize int

	// ScrollKeepAlive holds how long Elasticsearch keeps the scroll context
	// alive between page requests.
	//
	// If ScrollKeepAlive is zero, the default of 5 minutes will be used.
	ScrollKeepAlive time.Duration

	// CompressionLevel holds the gzip compression level for bulk requests,
	// from 0 (gzip.NoCompression) to 9 (gzip.BestCompression). The special
	// value -1 (gzip.DefaultCompression) selects the default compression level.
	CompressionLevel int

	// FlushBytes holds the bulk request flush threshold in bytes. If
	// compression is enabled, the number of documents that can be buffered
	// will be greater.
	//
	// If FlushBytes is zero, the default of 1MB will be used.
	FlushBytes int
}

// DefaultConfig returns cfg with unset fields replaced by their defaults.
func DefaultConfig(cfg Config) Config {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Store.Logger == nil {
		cfg.Store.Logger = cfg.Logger
	}
	cfg.Store = DefaultStoreConfig(cfg.Store)
	return cfg
}

// DefaultStoreConfig returns cfg with unset fields replaced by their defaults.
func DefaultStoreConfig(cfg StoreConfig) StoreConfig {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ScrollSize <= 0 {
		cfg.ScrollSize = 1000
	}
	if cfg.ScrollKeepAlive <= 0 {
		cfg.ScrollKeepAlive = 5 * time.Minute
	}
	if cfg.FlushBytes <= 0 {
		cfg.FlushBytes = 1 * 1024 * 1024
	}
	return cfg
}

const minCompressedFlushBytes = 16 * 1024 // 16kb

func (cfg StoreConfig) validate() error {
	if err := validateCompressionLevel(cfg.CompressionLevel); err != nil {
		return err
	}
	if cfg.CompressionLevel != gzip.NoCompression && cfg.FlushBytes < minCompressedFlushBytes {
		return fmt.Errorf(
			"flush bytes config value (%d) is too small and will be ignored with compression enabled. Use at least %d",
			cfg.FlushBytes, minCompressedFlushBytes,
		)
	}
	return nil
}
