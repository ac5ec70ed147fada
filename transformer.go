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
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	phaseExport = "export"
	phaseCreate = "create"
	phaseImport = "import"
)

// Transformer copies every document of a source index into a new destination
// index, adding the CalculatedField to each one.
//
// A transform runs in three phases: the source index is scanned and the
// enriched documents are written to an intermediate file, the destination
// index is created, and the file is bulk indexed into it. The intermediate
// file is removed when Transform returns.
//
// Transformer holds no per-transform state, so Transform may be called
// repeatedly and concurrently. Concurrent transforms into the same
// destination race on index creation.
type Transformer struct {
	transforms   atomic.Int64
	scanned      atomic.Int64
	indexed      atomic.Int64
	failed       atomic.Int64
	bulkRequests atomic.Int64
	bytesFlushed atomic.Int64
	spoolBytes   atomic.Int64

	config  Config
	store   Store
	metrics metrics

	// tracer is an OTel tracer, and should not be confused with `t.config.Tracer`
	// which is an Elastic APM Tracer.
	tracer trace.Tracer
}

// Stats holds cumulative statistics for all transforms run by a Transformer.
type Stats struct {
	// Transforms holds the number of transforms started.
	Transforms int64

	// Scanned holds the number of documents read from source indices.
	Scanned int64

	// Indexed holds the number of documents indexed into destination indices.
	Indexed int64

	// Failed holds the number of documents rejected by bulk requests.
	Failed int64

	// BulkRequests holds the number of bulk requests issued.
	BulkRequests int64

	// BytesFlushed holds the number of bulk request body bytes sent.
	BytesFlushed int64

	// SpoolBytes holds the number of bytes written to intermediate files.
	SpoolBytes int64
}

// New returns a new Transformer that reads from and writes to store.
func New(store Store, cfg Config) (*Transformer, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	cfg = DefaultConfig(cfg)
	ms, err := newMetrics(cfg)
	if err != nil {
		return nil, err
	}
	t := &Transformer{
		config:  cfg,
		store:   store,
		metrics: ms,
	}
	if cfg.TracerProvider != nil {
		t.tracer = cfg.TracerProvider.Tracer("github.com/elastic/go-doctransform.transformer")
	}
	return t, nil
}

// NewFromURL returns a new Transformer for the Elasticsearch cluster at url,
// configured with cfg.Store.
func NewFromURL(url string, cfg Config) (*Transformer, error) {
	if url == "" {
		return nil, errors.New("missing elasticsearch url")
	}
	client, err := NewElasticsearchClient(elasticsearch.Config{
		Addresses: []string{url},
	})
	if err != nil {
		return nil, err
	}
	cfg = DefaultConfig(cfg)
	store, err := NewElasticsearchStore(client, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("error creating elasticsearch store: %w", err)
	}
	return New(store, cfg)
}

// Stats returns the transformer's statistics.
func (t *Transformer) Stats() Stats {
	return Stats{
		Transforms:   t.transforms.Load(),
		Scanned:      t.scanned.Load(),
		Indexed:      t.indexed.Load(),
		Failed:       t.failed.Load(),
		BulkRequests: t.bulkRequests.Load(),
		BytesFlushed: t.bytesFlushed.Load(),
		SpoolBytes:   t.spoolBytes.Load(),
	}
}

// Transform copies all documents of the source index into a newly created
// destination index, adding the CalculatedField to each document.
//
// Transform fails if source does not exist or destination already exists.
// Any error aborts the transform: the destination index may then be missing
// or partially populated. The intermediate file is removed on every path.
func (t *Transformer) Transform(ctx context.Context, source, destination string) (err error) {
	switch {
	case source == "":
		return errMissingSource
	case destination == "":
		return errMissingDestination
	case source == destination:
		return errSameIndex
	}

	attrs := metric.WithAttributeSet(t.config.MetricAttributes)
	t.transforms.Add(1)
	t.metrics.transforms.Add(context.Background(), 1, attrs)

	logger := t.config.Logger.With(
		zap.String("source", source),
		zap.String("destination", destination),
	)
	var span trace.Span
	var tx *apm.Transaction
	switch {
	case t.tracingEnabled():
		tx = t.config.Tracer.StartTransaction("doctransform.transform", "batch")
		tx.Context.SetLabel("source", source)
		tx.Context.SetLabel("destination", destination)
		defer tx.End()
		ctx = apm.ContextWithTransaction(ctx, tx)

		// Add trace IDs to logger, to associate any errors below with
		// the trace.
		logger = logger.With(apmzap.TraceContext(ctx)...)
	case t.otelTracingEnabled():
		ctx, span = t.tracer.Start(ctx, "doctransform.transform", trace.WithAttributes(
			attribute.String("source", source),
			attribute.String("destination", destination),
		))
		defer span.End()
		logger = logger.With(
			zap.String("traceId", span.SpanContext().TraceID().String()),
			zap.String("spanId", span.SpanContext().SpanID().String()),
		)
	}

	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
			logger.Error("transform failed", zap.Error(err))
			if tx != nil {
				apm.CaptureError(ctx, err).Send()
			}
			if span != nil && span.IsRecording() {
				span.RecordError(err)
				span.SetStatus(codes.Error, "transform failed")
			}
		} else {
			logger.Info("transform completed", zap.Duration("took", time.Since(start)))
			if span != nil && span.IsRecording() {
				span.SetStatus(codes.Ok, "")
			}
		}
		if tx != nil {
			tx.Outcome = outcome
		}
		t.metrics.transformDuration.Record(context.Background(), time.Since(start).Seconds(),
			attrs, metric.WithAttributes(attribute.String("outcome", outcome)),
		)
	}()

	sp, err := createSpool(t.config.TempDir)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := sp.Remove(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to remove intermediate file: %w", rerr))
		}
	}()
	logger.Debug("created intermediate file", zap.String("path", sp.Name()))

	if err := t.runPhase(phaseExport, func() error {
		return t.export(ctx, logger, sp, source)
	}); err != nil {
		return err
	}
	if err := t.runPhase(phaseCreate, func() error {
		if err := t.store.CreateIndex(ctx, destination); err != nil {
			return fmt.Errorf("failed to create index '%s': %w", destination, err)
		}
		return nil
	}); err != nil {
		return err
	}
	return t.runPhase(phaseImport, func() error {
		return t.load(ctx, logger, sp, destination)
	})
}

// export scans the source index, writing each enriched document to sp.
func (t *Transformer) export(ctx context.Context, logger *zap.Logger, sp *spool, source string) error {
	cursor, err := t.store.Scan(ctx, source, MatchAllQuery)
	if err != nil {
		return fmt.Errorf("failed to scan index '%s': %w", source, err)
	}
	defer func() {
		// The scroll context is cleared even when ctx is done.
		if err := cursor.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to close scan cursor", zap.Error(err))
		}
	}()

	var n int64
	spoolBytes := sp.bytes
	defer func() {
		attrs := metric.WithAttributeSet(t.config.MetricAttributes)
		t.scanned.Add(n)
		t.metrics.docsScanned.Add(context.Background(), n, attrs)
		t.spoolBytes.Add(sp.bytes - spoolBytes)
		t.metrics.spoolBytes.Add(context.Background(), sp.bytes-spoolBytes, attrs)
	}()
	for {
		doc, err := cursor.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to scan index '%s': %w", source, err)
		}
		if err := sp.Write(Enrich(doc)); err != nil {
			return err
		}
		n++
	}
	logger.Info("exported documents", zap.Int64("documents", n), zap.Int64("bytes", sp.bytes))
	return nil
}

// load bulk indexes the contents of sp into the destination index.
func (t *Transformer) load(ctx context.Context, logger *zap.Logger, sp *spool, destination string) error {
	docs, err := sp.Reader()
	if err != nil {
		return err
	}
	defer docs.Close(ctx)

	stat, err := t.store.BulkIndex(ctx, destination, docs)

	attrs := metric.WithAttributeSet(t.config.MetricAttributes)
	t.indexed.Add(stat.Indexed)
	t.failed.Add(stat.Failed)
	t.bulkRequests.Add(stat.BulkRequests)
	t.bytesFlushed.Add(stat.BytesFlushed)
	if stat.Indexed > 0 {
		t.metrics.docsIndexed.Add(context.Background(), stat.Indexed, attrs,
			metric.WithAttributes(attribute.String("status", "Success")),
		)
	}
	if stat.Failed > 0 {
		t.metrics.docsIndexed.Add(context.Background(), stat.Failed, attrs,
			metric.WithAttributes(attribute.String("status", "Failed")),
		)
	}
	if stat.BulkRequests > 0 {
		t.metrics.bulkRequests.Add(context.Background(), stat.BulkRequests, attrs)
		t.metrics.bytesFlushed.Add(context.Background(), stat.BytesFlushed, attrs)
	}
	if err != nil {
		return fmt.Errorf("failed to bulk index into '%s': %w", destination, err)
	}
	logger.Info("imported documents",
		zap.Int64("documents", stat.Indexed),
		zap.Int64("bulk_requests", stat.BulkRequests),
	)
	return nil
}

func (t *Transformer) runPhase(phase string, f func() error) error {
	var err error
	took := timeFunc(func() {
		err = f()
	})
	t.metrics.phaseDuration.Record(context.Background(), took.Seconds(),
		metric.WithAttributeSet(t.config.MetricAttributes),
		metric.WithAttributes(attribute.String("phase", phase)),
	)
	return err
}

// tracingEnabled checks whether we should be doing tracing
// using the Elastic APM tracer.
func (t *Transformer) tracingEnabled() bool {
	return t.config.Tracer != nil && t.config.Tracer.Recording()
}

// otelTracingEnabled checks whether we should be doing tracing
// using otel tracer.
func (t *Transformer) otelTracingEnabled() bool {
	return t.tracer != nil
}

func timeFunc(f func()) time.Duration {
	t0 := time.Now()
	if f != nil {
		f()
	}
	return time.Since(t0)
}
