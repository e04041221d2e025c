package otel

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// spanExcluder drops spans whose name is in the excluded set and samples the
// rest by ratio.
type spanExcluder struct {
	excluded map[string]struct{}
	ratio    sdktrace.Sampler
}

func newSpanExcluder(excluded map[string]struct{}, probability float64) spanExcluder {
	return spanExcluder{
		excluded: excluded,
		ratio:    sdktrace.ParentBased(sdktrace.TraceIDRatioBased(probability)),
	}
}

// ShouldSample implements the sampler interface.
func (s spanExcluder) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if _, ok := s.excluded[p.Name]; ok {
		return sdktrace.SamplingResult{Decision: sdktrace.Drop}
	}
	return s.ratio.ShouldSample(p)
}

// Description implements the sampler interface.
func (s spanExcluder) Description() string {
	return "span excluder sampler"
}
