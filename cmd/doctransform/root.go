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

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.elastic.co/apm/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/elastic/go-doctransform"
)

type options struct {
	url              string
	username         string
	password         string
	scrollSize       int
	scrollKeepAlive  time.Duration
	flushBytes       int
	compressionLevel int
	tempDir          string
	logLevel         string
	apm              bool
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "doctransform [flags] SOURCE DESTINATION",
		Short: "Copy an Elasticsearch index, adding a calculated field to every document",
		Long: `doctransform reads every document of the SOURCE index, adds a
"calculated" field holding the total character length of the document's
field names and values, and bulk indexes the result into DESTINATION.

DESTINATION must not exist; it is created with dynamic mapping.`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args[0], args[1])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.url, "url", envOr("ELASTICSEARCH_URL", "http://localhost:9200"), "Elasticsearch URL (env ELASTICSEARCH_URL)")
	flags.StringVar(&opts.username, "username", os.Getenv("ELASTICSEARCH_USERNAME"), "Elasticsearch username (env ELASTICSEARCH_USERNAME)")
	flags.StringVar(&opts.password, "password", os.Getenv("ELASTICSEARCH_PASSWORD"), "Elasticsearch password (env ELASTICSEARCH_PASSWORD)")
	flags.IntVar(&opts.scrollSize, "scroll-size", 1000, "Number of documents fetched per scroll page")
	flags.DurationVar(&opts.scrollKeepAlive, "scroll-keep-alive", 5*time.Minute, "How long the scroll context is kept alive between pages")
	flags.IntVar(&opts.flushBytes, "flush-bytes", 1024*1024, "Bulk request size threshold in bytes")
	flags.IntVar(&opts.compressionLevel, "compression-level", 0, "Gzip compression level for bulk requests, -1 to 9")
	flags.StringVar(&opts.tempDir, "temp-dir", "", "Directory for the intermediate file (default os temp dir)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	flags.BoolVar(&opts.apm, "apm", false, "Trace the transform with Elastic APM, configured with ELASTIC_APM_* environment variables")
	return cmd
}

func run(cmd *cobra.Command, opts options, source, destination string) error {
	logger, err := newLogger(opts.logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	client, err := doctransform.NewElasticsearchClient(elasticsearch.Config{
		Addresses: []string{opts.url},
		Username:  opts.username,
		Password:  opts.password,
	})
	if err != nil {
		return err
	}

	cfg := doctransform.Config{
		Logger:  logger,
		TempDir: opts.tempDir,
		Store: doctransform.StoreConfig{
			ScrollSize:       opts.scrollSize,
			ScrollKeepAlive:  opts.scrollKeepAlive,
			FlushBytes:       opts.flushBytes,
			CompressionLevel: opts.compressionLevel,
		},
	}
	if opts.apm {
		tracer := apm.DefaultTracer()
		defer tracer.Flush(nil)
		cfg.Tracer = tracer
	}
	cfg = doctransform.DefaultConfig(cfg)

	store, err := doctransform.NewElasticsearchStore(client, cfg.Store)
	if err != nil {
		return err
	}
	transformer, err := doctransform.New(store, cfg)
	if err != nil {
		return err
	}
	if err := transformer.Transform(cmd.Context(), source, destination); err != nil {
		return err
	}

	stats := transformer.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "Transformed %d document(s) from %s into %s\n",
		stats.Indexed, source, destination,
	)
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
