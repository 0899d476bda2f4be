package httpapi

import (
	"strconv"
	"time"

	"github.com/modelhost/modelhost/pkg/runner"
)

// toGenerateOptions translates the wire-level Options bag into the
// runner's typed options, defaulting every unset field the way
// original_source/src/runner/mod.rs's RunnerOptions::from_map does
// (spec.md §4.8's default pipeline parameters).
func toGenerateOptions(o Options) runner.GenerateOptions {
	opts := runner.DefaultGenerateOptions()

	if o.Temperature != nil {
		opts.Sampler.Temperature = *o.Temperature
	}
	if o.TopK != nil {
		opts.Sampler.TopK = *o.TopK
	}
	if o.TopP != nil {
		opts.Sampler.TopP = *o.TopP
	}
	if o.RepeatPenalty != nil {
		opts.Sampler.RepetitionPenalty = *o.RepeatPenalty
	}
	if o.Seed != nil {
		opts.Sampler.Seed = *o.Seed
	}
	if o.NumPredict != nil {
		opts.NumPredict = *o.NumPredict
	}
	opts.Stop = o.Stop
	return opts
}

// parseKeepAlive parses the keep_alive field (spec.md §4.10): a bare
// integer is seconds, anything else is a Go duration string. nil
// falls back to the configured default.
func parseKeepAlive(s *string, fallback time.Duration) time.Duration {
	if s == nil {
		return fallback
	}
	if secs, err := strconv.Atoi(*s); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(*s); err == nil {
		return d
	}
	return fallback
}

func streamRequested(stream *bool) bool {
	return stream == nil || *stream
}
