package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Storage {
	t.Helper()
	sqlStore, err := OpenSQLStore(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "engage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })
	return map[string]Storage{
		"memory": NewMemoryStore(),
		"sqlite": sqlStore,
	}
}

func TestStorage_Contract(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := s.Get(ctx, KeyCustomerID)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, KeyCustomerID, "A"))
			v, ok, err := s.Get(ctx, KeyCustomerID)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "A", v)

			require.NoError(t, s.Set(ctx, KeyCustomerID, "B"))
			assert.Equal(t, "B", GetString(ctx, s, KeyCustomerID))

			require.NoError(t, s.Delete(ctx, KeyCustomerID))
			_, ok, err = s.Get(ctx, KeyCustomerID)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Delete(ctx, KeyUserEmail), "deleting an absent key is not an error")
		})
	}
}

func TestStorage_TypedHelpers(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			assert.False(t, GetBool(ctx, s, KeyOptIn))
			require.NoError(t, SetBool(ctx, s, KeyOptIn, true))
			assert.True(t, GetBool(ctx, s, KeyOptIn))

			_, ok := GetInt(ctx, s, KeyFirstVisitTimestamp)
			assert.False(t, ok)
			require.NoError(t, SetInt(ctx, s, KeyFirstVisitTimestamp, 1700000000))
			n, ok := GetInt(ctx, s, KeyFirstVisitTimestamp)
			assert.True(t, ok)
			assert.Equal(t, int64(1700000000), n)

			require.NoError(t, s.Set(ctx, KeyOptIn, "not-a-bool"))
			assert.False(t, GetBool(ctx, s, KeyOptIn))
		})
	}
}

func TestSQLStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	url := "sqlite://" + filepath.Join(t.TempDir(), "engage.db")

	first, err := OpenSQLStore(ctx, url)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, KeyVisitorID, "0123456789abcdef"))
	require.NoError(t, first.Set(ctx, KeyDeviceToken, "tok"))
	require.NoError(t, first.Close())

	second, err := OpenSQLStore(ctx, url)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, "0123456789abcdef", GetString(ctx, second, KeyVisitorID))

	entries, err := second.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Key: string(KeyDeviceToken), Value: "tok"},
		{Key: string(KeyVisitorID), Value: "0123456789abcdef"},
	}, entries)
}

func TestNewSQLStore_Nil(t *testing.T) {
	_, err := NewSQLStore(nil)
	assert.Error(t, err)
}
