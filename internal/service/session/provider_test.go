package session_test

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/embedchat/internal/config"
	"github.com/zhouzirui/embedchat/internal/model/embed"
	"github.com/zhouzirui/embedchat/internal/service/session"
)

func TestScopeKey(t *testing.T) {
	s := embed.Resolve(map[string]string{"embed-id": "abc"}, nil)
	assert.Equal(t, "allm_abc_session_id", session.ScopeKey(s))
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := session.NewProvider(session.NewMemoryStore())

	first, err := p.GetOrCreate(ctx, "allm_a_session_id")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := p.GetOrCreate(ctx, "allm_a_session_id")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := p.GetOrCreate(ctx, "allm_b_session_id")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestGetOrCreateReusesStoredID(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	require.NoError(t, store.Set(ctx, "allm_a_session_id", "existing"))

	id, err := session.NewProvider(store).GetOrCreate(ctx, "allm_a_session_id")
	require.NoError(t, err)
	assert.Equal(t, "existing", id)
}

func TestGetOrCreateConcurrentCallsAgree(t *testing.T) {
	ctx := context.Background()
	var n int
	var mu sync.Mutex
	p := session.NewProvider(session.NewMemoryStore(), session.WithIDGenerator(func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "id-" + strconv.Itoa(n)
	}))

	ids := make([]string, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := p.GetOrCreate(ctx, "scope")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, "id-1", id)
	}
}

func TestRegenerateReplacesID(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	p := session.NewProvider(store)

	before, err := p.GetOrCreate(ctx, "scope")
	require.NoError(t, err)

	after, err := p.Regenerate(ctx, "scope")
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	stored, ok, err := store.Get(ctx, "scope")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, after, stored)

	again, err := p.GetOrCreate(ctx, "scope")
	require.NoError(t, err)
	assert.Equal(t, after, again)
}

func TestEmptyScopeRejected(t *testing.T) {
	p := session.NewProvider(session.NewMemoryStore())
	_, err := p.GetOrCreate(context.Background(), "")
	assert.ErrorIs(t, err, session.ErrScopeRequired)
}

func TestFileStoreSurvivesReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "sessions.json")

	store, err := session.NewFileStore(path)
	require.NoError(t, err)
	id, err := session.NewProvider(store).GetOrCreate(ctx, "scope")
	require.NoError(t, err)

	reopened, err := session.NewFileStore(path)
	require.NoError(t, err)
	again, err := session.NewProvider(reopened).GetOrCreate(ctx, "scope")
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestSQLiteStoreSurvivesReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	store, err := session.Open(ctx, config.SessionStoreConfig{Backend: config.StoreSQLite, Path: path})
	require.NoError(t, err)
	id, err := session.NewProvider(store).GetOrCreate(ctx, "scope")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := session.NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, "scope")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, got)

	_, ok, err = reopened.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := session.Open(context.Background(), config.SessionStoreConfig{Backend: "tape"})
	assert.Error(t, err)
}
