// Package logging writes gateway events to a zap logger.
package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	eventbus "github.com/hanpama/braid/internal/eventbus"
	events "github.com/hanpama/braid/internal/events"
	reqid "github.com/hanpama/braid/internal/reqid"
)

// New returns a JSON production logger, or a console logger at debug level
// when debug is set.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	return zap.NewProduction()
}

// Subscribe logs events of the global bus to logger until unsubscribe is
// called. Requests and operations log at info, batches and backend calls at
// debug. Failures log at error.
func Subscribe(logger *zap.Logger) (unsubscribe func()) {
	var offs []func()
	on := func(off func()) { offs = append(offs, off) }

	on(eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		with(ctx, logger).Info("http request",
			zap.String("method", e.Request.Method),
			zap.String("path", e.Request.URL.Path),
			zap.Int("status", e.Status),
			zap.Duration("duration", e.Duration),
		)
	}))
	on(eventbus.Subscribe(func(ctx context.Context, e events.GraphQLStart) {
		with(ctx, logger).Debug("graphql operation started",
			zap.String("operation", e.OperationName),
			zap.String("type", e.OperationType),
		)
	}))
	on(eventbus.Subscribe(func(ctx context.Context, e events.GraphQLFinish) {
		l := with(ctx, logger)
		fields := []zap.Field{
			zap.String("operation", e.OperationName),
			zap.String("type", e.OperationType),
			zap.Int("errors", len(e.Errors)),
			zap.Duration("duration", e.Duration),
		}
		if len(e.Errors) > 0 {
			l.Warn("graphql operation finished with errors", append(fields, zap.Errors("error_list", e.Errors))...)
			return
		}
		l.Info("graphql operation finished", fields...)
	}))
	on(eventbus.Subscribe(func(ctx context.Context, e events.BatchStart) {
		with(ctx, logger).Debug("batch started",
			zap.String("namespace", e.Namespace),
			zap.String("operation", e.OperationName),
			zap.Int("size", e.Size),
		)
	}))
	on(eventbus.Subscribe(func(ctx context.Context, e events.BatchFinish) {
		l := with(ctx, logger)
		fields := []zap.Field{
			zap.String("namespace", e.Namespace),
			zap.String("operation", e.OperationName),
			zap.Int("size", e.Size),
			zap.Int("fields", e.Fields),
			zap.Int("short_circuited", e.ShortCircuited),
			zap.Bool("remote", e.Remote),
			zap.Duration("duration", e.Duration),
		}
		if e.Err != nil {
			l.Error("batch failed", append(fields, zap.Error(e.Err))...)
			return
		}
		l.Debug("batch finished", fields...)
	}))
	on(eventbus.Subscribe(func(ctx context.Context, e events.BackendQueryFinish) {
		l := with(ctx, logger)
		fields := []zap.Field{
			zap.String("namespace", e.Namespace),
			zap.String("operation", e.OperationName),
			zap.Int("errors", e.ErrorCount),
			zap.Duration("duration", e.Duration),
		}
		if e.Err != nil {
			l.Error("backend query failed", append(fields, zap.Error(e.Err))...)
			return
		}
		l.Debug("backend query", fields...)
	}))
	on(eventbus.Subscribe(func(ctx context.Context, e events.GRPCClientFinish) {
		l := with(ctx, logger)
		fields := []zap.Field{
			zap.String("namespace", e.Namespace),
			zap.String("service", e.Service),
			zap.String("method", e.Method),
			zap.String("target", e.Target),
			zap.Stringer("code", e.Code),
			zap.Duration("duration", e.Duration),
		}
		if e.Err != nil {
			l.Warn("grpc call failed", append(fields, zap.Error(e.Err))...)
			return
		}
		l.Debug("grpc call", fields...)
	}))

	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func with(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if id, ok := reqid.FromContext(ctx); ok {
		return logger.With(zap.String("request_id", id))
	}
	return logger
}
