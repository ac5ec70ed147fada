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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	transformDuration metric.Float64Histogram
	phaseDuration     metric.Float64Histogram
	transforms        metric.Int64Counter
	docsScanned       metric.Int64Counter
	docsIndexed       metric.Int64Counter
	bulkRequests      metric.Int64Counter
	bytesFlushed      metric.Int64Counter
	spoolBytes        metric.Int64Counter
}

type histogramMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Float64Histogram
}

type counterMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Int64Counter
}

func newMetrics(cfg Config) (metrics, error) {
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	meter := cfg.MeterProvider.Meter("github.com/elastic/go-doctransform")
	ms := metrics{}
	histograms := []histogramMetric{
		{
			name:        "doctransform.transform.duration",
			description: "The amount of time a transform took, in seconds.",
			unit:        "s",
			p:           &ms.transformDuration,
		},
		{
			name:        "doctransform.phase.duration",
			description: "The amount of time a transform phase took, in seconds.",
			unit:        "s",
			p:           &ms.phaseDuration,
		},
	}
	for _, m := range histograms {
		if err := newFloat64Histogram(meter, m); err != nil {
			return ms, err
		}
	}

	counters := []counterMetric{
		{
			name:        "doctransform.transforms.count",
			description: "The number of transforms started.",
			p:           &ms.transforms,
		},
		{
			name:        "doctransform.documents.scanned",
			description: "The number of documents read from source indices.",
			p:           &ms.docsScanned,
		},
		{
			name:        "doctransform.documents.indexed",
			description: "The number of documents flushed to destination indices. Dimensions report success or failure.",
			p:           &ms.docsIndexed,
		},
		{
			name:        "doctransform.bulk_requests.count",
			description: "The number of bulk requests completed.",
			p:           &ms.bulkRequests,
		},
		{
			name:        "doctransform.flushed.bytes",
			description: "The total number of bytes written to bulk request bodies.",
			unit:        "by",
			p:           &ms.bytesFlushed,
		},
		{
			name:        "doctransform.spool.bytes",
			description: "The total number of bytes written to intermediate files.",
			unit:        "by",
			p:           &ms.spoolBytes,
		},
	}
	for _, m := range counters {
		if err := newInt64Counter(meter, m); err != nil {
			return ms, err
		}
	}
	return ms, nil
}

func newInt64Counter(meter metric.Meter, c counterMetric) error {
	unit := c.unit
	if unit == "" {
		unit = "1"
	}
	m, err := meter.Int64Counter(
		c.name,
		metric.WithUnit(unit),
		metric.WithDescription(c.description),
	)
	if err != nil {
		return fmt.Errorf(
			"failed creating %s metric: %w", c.name, err,
		)
	}
	*c.p = m
	return nil
}

func newFloat64Histogram(meter metric.Meter, h histogramMetric) error {
	m, err := meter.Float64Histogram(
		h.name,
		metric.WithUnit(h.unit),
		metric.WithDescription(h.description),
	)
	if err != nil {
		return fmt.Errorf(
			"failed creating %s metric: %w", h.name, err,
		)
	}
	*h.p = m
	return nil
}
