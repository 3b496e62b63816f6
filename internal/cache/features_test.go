package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	redismock "github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailml/propensity/internal/domain"
)

var testCutoff = time.Date(2011, 4, 10, 0, 0, 0, 0, time.UTC)

func testTable() *domain.FeatureTable {
	return &domain.FeatureTable{
		Names:       []string{"recency_days", "frequency"},
		CustomerIDs: []string{"A", "B"},
		Rows:        [][]float64{{4, 12}, {90, 1}},
	}
}

func TestGetMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewFeatureCache(client, time.Hour)

	mock.ExpectGet(key(testCutoff, "abcd1234")).RedisNil()

	table, hit, err := c.Get(context.Background(), testCutoff, "abcd1234")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, table)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutThenGet(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewFeatureCache(client, 30*time.Minute)

	table := testTable()
	data, err := json.Marshal(table)
	require.NoError(t, err)
	k := key(testCutoff, "abcd1234")

	mock.ExpectSet(k, data, 30*time.Minute).SetVal("OK")
	require.NoError(t, c.Put(context.Background(), testCutoff, "abcd1234", table))

	mock.ExpectGet(k).SetVal(string(data))
	got, hit, err := c.Get(context.Background(), testCutoff, "abcd1234")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, table, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDropsUndecodableEntry(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewFeatureCache(client, time.Hour)

	k := key(testCutoff, "abcd1234")
	mock.ExpectGet(k).SetVal("{not json")
	mock.ExpectDel(k).SetVal(1)

	table, hit, err := c.Get(context.Background(), testCutoff, "abcd1234")
	require.NoError(t, err, "a corrupt entry is a miss, not a failure")
	assert.False(t, hit)
	assert.Nil(t, table)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyIsolatesVocabularies(t *testing.T) {
	// Different vocabulary hashes never collide for the same cutoff.
	assert.NotEqual(t, key(testCutoff, "aaaa"), key(testCutoff, "bbbb"))
	assert.NotEqual(t, key(testCutoff, "aaaa"), key(testCutoff.Add(time.Second), "aaaa"))
}
