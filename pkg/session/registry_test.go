package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-session-go/pkg/logging"
	"github.com/ajitpratap0/mcp-session-go/pkg/utils"
)

func TestRegistryDuplicateRequestHandler(t *testing.T) {
	r := NewRegistry()
	handler := func(ctx context.Context, req *RequestContext) (interface{}, error) {
		return nil, nil
	}

	require.NoError(t, r.RegisterRequestHandler("tools/list", handler))
	assert.Error(t, r.RegisterRequestHandler("tools/list", handler))
	assert.Error(t, r.RegisterRequestHandler("tools/list", nil))
}

func TestRegistryNotificationFanOutSnapshot(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterNotificationHandler("events/changed", func(ctx context.Context, params json.RawMessage) {}))
	require.NoError(t, r.RegisterNotificationHandler("events/changed", func(ctx context.Context, params json.RawMessage) {}))

	handlers := r.notificationHandlers("events/changed")
	assert.Len(t, handlers, 2)
	assert.Nil(t, r.notificationHandlers("events/other"))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MCP_SESSION_DEFAULT_TIMEOUT", "5s")
	t.Setenv("MCP_SESSION_LOG_LEVEL", "debug")

	opts, err := ConfigFromEnv()
	require.NoError(t, err)

	var config Config
	for _, opt := range opts {
		opt(&config)
	}
	assert.Equal(t, 5*time.Second, config.DefaultTimeout)
	require.NotNil(t, config.Logger)
	assert.Equal(t, logging.DebugLevel, config.Logger.GetLevel())
}

func TestConfigFromEnvRejectsBadLevel(t *testing.T) {
	t.Setenv("MCP_SESSION_LOG_LEVEL", "verbose")

	_, err := ConfigFromEnv()
	assert.Error(t, err)
}

func TestSessionLifecycleLeaksNoGoroutines(t *testing.T) {
	detector := utils.NewGoroutineLeakDetector(t).SetAllowedGrowth(2)
	detector.Start()

	registry := NewRegistry()
	require.NoError(t, registry.RegisterRequestHandler("echo", func(ctx context.Context, req *RequestContext) (interface{}, error) {
		return map[string]bool{"ok": true}, nil
	}))

	init, resp := startPair(t, registry, nil, nil)
	mustInitialize(t, init)

	for i := 0; i < 5; i++ {
		_, err := init.SendRequest(context.Background(), "echo", nil)
		require.NoError(t, err)
	}

	require.NoError(t, init.Close())
	require.NoError(t, resp.Close())

	detector.Check()
}
