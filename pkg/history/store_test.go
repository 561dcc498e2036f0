package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callguard/pkg/analysis"
	"callguard/pkg/errors"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func entry(id string, score float64) analysis.HistoryEntry {
	a := analysis.Report{SpectralScore: score, BiometricScore: score, ContextualScore: score, IntelligenceScore: score}.Analysis()
	return analysis.NewHistoryEntry(id, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), analysis.SourceLive, analysis.LiveSourceName, a)
}

// exerciseStore checks the Store contract against any backend
func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()
	require.NoError(t, store.Clear(ctx))

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	require.NoError(t, store.Append(ctx, entry("first", 10)))
	require.NoError(t, store.Append(ctx, entry("second", 20)))
	require.NoError(t, store.Append(ctx, entry("third", 30)))

	list, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"third", "second", "first"}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.InDelta(t, 30.0, list[0].AggregateScore, 1e-9)
	assert.Equal(t, "Live Session", list[0].SourceName)

	require.NoError(t, store.Clear(ctx))
	list, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "data", "history.json"), "", testLogger())
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestFileStoreLayoutAndForeignKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"theme":"dark"}`), 0o644))

	store, err := NewFileStore(path, DefaultKey, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), entry("a", 50)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var records map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &records))
	assert.JSONEq(t, `"dark"`, string(records["theme"]))

	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal(records["scamShieldHistory"], &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0]["id"])
	assert.Equal(t, "live", entries[0]["source"])
	assert.Contains(t, entries[0], "aggregateScore")

	require.NoError(t, store.Clear(context.Background()))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme":"dark"}`, string(data))
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	store, err := NewFileStore(path, "", testLogger())
	require.NoError(t, err)

	_, err = store.List(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrPersistence))

	err = store.Append(context.Background(), entry("x", 1))
	assert.True(t, errors.IsErrorType(err, errors.ErrPersistence))

	// clearing recovers the file
	require.NoError(t, store.Clear(context.Background()))
	list, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFileStoreConcurrentAppends(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "history.json"), "", testLogger())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Append(context.Background(), entry(fmt.Sprintf("e%d", i), float64(i))))
		}(i)
	}
	wg.Wait()

	list, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 20)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		t.Skip("REDIS_ADDRESS not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	key := fmt.Sprintf("callguard:test:%d", time.Now().UnixNano())
	defer client.Del(context.Background(), key)

	store := NewRedisStoreWithClient(client, key, testLogger())
	require.NoError(t, store.Health())
	exerciseStore(t, store)
}

func TestNewRedisStoreUnreachable(t *testing.T) {
	_, err := NewRedisStore(RedisConfig{Address: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond}, "", testLogger())
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrPersistence))
}
