// Copyright (C) 2025-2026 SolsticeHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package archive

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	stepCounter       metric.Int64Counter
	stepDuration      metric.Float64Histogram
	candidatesCounter metric.Int64Counter
	candidateBytes    metric.Int64Counter
	archivedDocs      metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/solsticehq/sunrunner/internal/archive")

	var err error
	stepCounter, err = meter.Int64Counter(
		"sunrunner.archival.steps",
		metric.WithDescription("Number of archival step invocations by step and outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create steps counter: %w", err))
	}

	stepDuration, err = meter.Float64Histogram(
		"sunrunner.archival.step.duration",
		metric.WithDescription("Duration of archival step invocations"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create step duration histogram: %w", err))
	}

	candidatesCounter, err = meter.Int64Counter(
		"sunrunner.scan.candidates",
		metric.WithDescription("Number of indexes identified for archival"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create candidates counter: %w", err))
	}

	candidateBytes, err = meter.Int64Counter(
		"sunrunner.scan.candidate.bytes",
		metric.WithDescription("Store bytes of indexes identified for archival"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create candidate bytes counter: %w", err))
	}

	archivedDocs, err = meter.Int64Counter(
		"sunrunner.archival.docs",
		metric.WithDescription("Documents verified in completed archive indexes"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create archived docs counter: %w", err))
	}
}

func recordStep(ctx context.Context, step Step, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("step", string(step)),
		attribute.String("outcome", outcome),
	)
	stepCounter.Add(ctx, 1, attrs)
	stepDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}
