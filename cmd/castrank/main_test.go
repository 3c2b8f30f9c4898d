package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/castrank/internal/application"
	"github.com/ahrav/castrank/internal/domain"
	"github.com/ahrav/castrank/internal/testutils"
)

const memoryConfig = `
log:
  level: error
store:
  backend: memory
ranking:
  events: [goat-strategy]
metrics:
  listen_addr: ""
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "castrank.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no command", args: nil},
		{name: "unknown command", args: []string{"-config", writeConfig(t, memoryConfig), "launch"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), tt.args, &bytes.Buffer{})
			assert.ErrorIs(t, err, errUsage)
		})
	}
}

func TestRun_Commands(t *testing.T) {
	path := writeConfig(t, memoryConfig)

	t.Run("recompute all", func(t *testing.T) {
		require.NoError(t, run(context.Background(), []string{"-config", path, "recompute"}, &bytes.Buffer{}))
	})

	t.Run("recompute unknown event", func(t *testing.T) {
		err := run(context.Background(), []string{"-config", path, "recompute", "-event", "best-villain"}, &bytes.Buffer{})
		assert.ErrorIs(t, err, application.ErrUnknownEvent)
	})

	t.Run("mark-read requires id", func(t *testing.T) {
		err := run(context.Background(), []string{"-config", path, "mark-read"}, &bytes.Buffer{})
		assert.ErrorContains(t, err, "-id is required")
	})

	t.Run("mark-read unknown id", func(t *testing.T) {
		err := run(context.Background(), []string{"-config", path, "mark-read", "-id", "n-1"}, &bytes.Buffer{})
		assert.ErrorIs(t, err, application.ErrNotificationNotFound)
	})

	t.Run("serve until cancelled", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		require.NoError(t, run(ctx, []string{"-config", path, "serve", "-recompute"}, &bytes.Buffer{}))
	})

	t.Run("invalid config", func(t *testing.T) {
		bad := writeConfig(t, "store:\n  backend: sqlite\n")
		assert.Error(t, run(context.Background(), []string{"-config", bad, "recompute"}, &bytes.Buffer{}))
	})
}

func TestBuild_MemoryBackend(t *testing.T) {
	cfg, err := application.LoadConfig(writeConfig(t, memoryConfig))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	app, err := Build(ctx, cfg, application.NewLogger(&bytes.Buffer{}, cfg.Log))
	require.NoError(t, err)
	defer func() { assert.NoError(t, app.Close()) }()

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	require.Eventually(t, func() bool {
		return app.bus.Subscribers(cfg.Collections.Submissions) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, app.Store.Set(ctx, cfg.Collections.Submissions,
		testutils.Submission("user-a", map[string]any{"goat-strategy": testutils.Ranking("x", "y")})))

	assert.Eventually(t, func() bool {
		doc, found, err := app.Store.Get(ctx, cfg.Collections.Aggregates, "goat-strategy")
		if err != nil || !found {
			return false
		}
		result, err := domain.DecodeAggregateResult(doc)
		return err == nil && result.TotalVotes == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestOpenBackend_Unsupported(t *testing.T) {
	cfg := application.DefaultConfig()
	cfg.Store.Backend = "sqlite"
	_, err := Build(context.Background(), cfg, application.NewLogger(&bytes.Buffer{}, cfg.Log))
	assert.ErrorContains(t, err, "unsupported store backend")
}
