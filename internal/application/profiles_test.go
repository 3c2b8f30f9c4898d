package application

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/castrank/infrastructure/store/memory"
	"github.com/ahrav/castrank/internal/domain"
	"github.com/ahrav/castrank/internal/ports"
	"github.com/ahrav/castrank/internal/testutils"
)

func TestProfileResolver_DisplayName(t *testing.T) {
	ctx := context.Background()
	store := testutils.NewFaultyStore(memory.NewStore())
	require.NoError(t, store.Set(ctx, profilesCollection, testutils.Profile("u1", "Parvati")))
	require.NoError(t, store.Set(ctx, profilesCollection, domain.NewDocument("u2", map[string]any{"bio": "no name"})))
	require.NoError(t, store.Set(ctx, profilesCollection, testutils.Profile("u3", "  Zo\u0065\u0308  ")))
	require.NoError(t, store.Set(ctx, profilesCollection, testutils.Profile("u4", "   ")))

	resolver := NewProfileResolver(store, profilesCollection, fallbackName, nil)

	tests := []struct {
		userID string
		want   string
	}{
		{userID: "u1", want: "Parvati"},
		{userID: "u2", want: fallbackName},
		{userID: "u3", want: "Zo\u00eb"},
		{userID: "u4", want: fallbackName},
		{userID: "missing", want: fallbackName},
	}
	for _, tt := range tests {
		t.Run(tt.userID, func(t *testing.T) {
			assert.Equal(t, tt.want, resolver.DisplayName(ctx, tt.userID))
		})
	}

	store.FailAlways("get", profilesCollection, ports.ErrServiceUnavailable)
	assert.Equal(t, fallbackName, resolver.DisplayName(ctx, "u1"), "Lookup errors fall back instead of failing.")
}

func TestProfileResolver_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := testutils.NewFaultyStore(memory.NewStore())
	require.NoError(t, store.Set(ctx, profilesCollection, testutils.Profile("u1", "Parvati")))
	resolver := NewProfileResolver(store, profilesCollection, fallbackName, nil)

	var wg sync.WaitGroup
	names := make([]string, 20)
	for i := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			names[i] = resolver.DisplayName(ctx, "u1")
		}()
	}
	wg.Wait()

	for _, name := range names {
		assert.Equal(t, "Parvati", name)
	}
	assert.LessOrEqual(t, store.Calls("get", profilesCollection), len(names))
}
