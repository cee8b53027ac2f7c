package observability

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// Enabled reports whether observability has been toggled on.
func Enabled() bool {
	_, cfg := currentLogger()
	return cfg.Enabled
}

// StartSpan records a lightweight span lifecycle around an operation.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return ctx, func(error) {}
	}

	start := time.Now()
	logger.LogAttrs(ctx, slog.LevelDebug, "[OBSERVABILITY] span start",
		slog.String("component", component),
		slog.String("operation", operation),
	)

	return ctx, func(err error) {
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelError
		}

		attrs := []slog.Attr{
			slog.String("component", component),
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}

		logger.LogAttrs(ctx, level, "[OBSERVABILITY] span end", attrs...)
	}
}

// RecordMetric emits a best-effort metric datapoint via the configured logger.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return
	}

	attrs := []slog.Attr{
		slog.String("metric", name),
		slog.Float64("value", value),
	}
	attrs = append(attrs, sortedLabels(labels)...)

	logger.LogAttrs(ctx, slog.LevelDebug, "[OBSERVABILITY] metric", attrs...)
}

// TrackTrace reports a transport-level event. Warn and error traces are
// always written; lower levels need observability enabled, and debug traces
// additionally need verbose mode.
func TrackTrace(ctx context.Context, level slog.Level, message string, labels map[string]string) {
	logger, cfg := currentLogger()
	if logger == nil {
		return
	}
	if level < slog.LevelWarn {
		if !cfg.Enabled || (level < slog.LevelInfo && !cfg.Verbose) {
			return
		}
	}
	logger.LogAttrs(ctx, level, "[OBSERVABILITY] "+message, sortedLabels(labels)...)
}

func sortedLabels(labels map[string]string) []slog.Attr {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, labels[k]))
	}
	return attrs
}
