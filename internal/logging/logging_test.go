package logging

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/codes"

	eventbus "github.com/hanpama/braid/internal/eventbus"
	events "github.com/hanpama/braid/internal/events"
	reqid "github.com/hanpama/braid/internal/reqid"
)

func observe(t *testing.T, level zapcore.Level) *observer.ObservedLogs {
	t.Helper()
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	core, logs := observer.New(level)
	off := Subscribe(zap.New(core))
	t.Cleanup(off)
	return logs
}

func TestSubscribeLogsRequests(t *testing.T) {
	logs := observe(t, zapcore.InfoLevel)
	ctx, id := reqid.NewContext(context.Background())

	r := httptest.NewRequest("POST", "/graphql", nil)
	eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: 200, Duration: time.Millisecond})
	eventbus.Publish(ctx, events.BatchFinish{Namespace: "bar", OperationName: "Bulk_Bar", Size: 2, Remote: true})
	eventbus.Publish(ctx, events.BackendQueryFinish{Namespace: "bar", OperationName: "Bulk_Bar", Err: errors.New("connection refused")})

	entries := logs.AllUntimed()
	require.Len(t, entries, 2, "debug entries are filtered")

	req := entries[0]
	require.Equal(t, "http request", req.Message)
	ctxMap := req.ContextMap()
	require.Equal(t, id, ctxMap["request_id"])
	require.Equal(t, "/graphql", ctxMap["path"])
	require.EqualValues(t, 200, ctxMap["status"])

	failed := entries[1]
	require.Equal(t, zapcore.ErrorLevel, failed.Level)
	require.Equal(t, "backend query failed", failed.Message)
	require.Equal(t, "connection refused", failed.ContextMap()["error"])
}

func TestSubscribeDebug(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)
	ctx := context.Background()

	eventbus.Publish(ctx, events.BatchStart{Namespace: "bar", OperationName: "Bulk_Bar", Size: 3})
	eventbus.Publish(ctx, events.GRPCClientFinish{Namespace: "bar", Service: "braid.v1.GraphQLService", Method: "Execute", Code: codes.OK})
	eventbus.Publish(ctx, events.GraphQLFinish{OperationName: "Q", OperationType: "query", Errors: []error{errors.New("boom")}})

	require.Equal(t, 1, logs.FilterMessage("batch started").Len())
	grpc := logs.FilterMessage("grpc call").All()
	require.Len(t, grpc, 1)
	require.Equal(t, "OK", grpc[0].ContextMap()["code"])
	require.Equal(t, "bar", grpc[0].ContextMap()["namespace"])
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	_, ok := logs.All()[0].ContextMap()["request_id"]
	require.False(t, ok)
}

func TestUnsubscribe(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })
	core, logs := observer.New(zapcore.DebugLevel)
	off := Subscribe(zap.New(core))
	off()

	eventbus.Publish(context.Background(), events.BatchStart{Namespace: "bar"})
	require.Zero(t, logs.Len())
}

func TestNew(t *testing.T) {
	l, err := New(true)
	require.NoError(t, err)
	require.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New(false)
	require.NoError(t, err)
	require.False(t, l.Core().Enabled(zapcore.DebugLevel))
}
