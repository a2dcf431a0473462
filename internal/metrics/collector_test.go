package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAggregates(t *testing.T) {
	c := NewCollector()
	c.Record(OpFetch, 100*time.Millisecond)
	c.Record(OpFetch, 300*time.Millisecond)
	c.RecordFailure(OpFetch, 200*time.Millisecond)

	snap := c.Snapshot()
	require.NotNil(t, snap.Fetch)
	assert.Equal(t, int64(3), snap.Fetch.Count)
	assert.Equal(t, int64(1), snap.Fetch.Failures)
	assert.Equal(t, int64(600), snap.Fetch.TotalTimeMs)
	assert.Equal(t, int64(100), snap.Fetch.MinTimeMs)
	assert.Equal(t, int64(300), snap.Fetch.MaxTimeMs)
	assert.InDelta(t, 200.0, snap.Fetch.AvgTimeMs, 0.01)
}

func TestSnapshotOmitsUnusedOperations(t *testing.T) {
	c := NewCollector()
	c.Record(OpSummarize, time.Millisecond)

	snap := c.Snapshot()
	assert.NotNil(t, snap.Summarize)
	assert.Nil(t, snap.Fetch)
	assert.Nil(t, snap.Embedding)
	assert.Nil(t, snap.QueueClaim)
	assert.Nil(t, snap.StoreWrite)
}

func TestUptimeGrows(t *testing.T) {
	c := NewCollector()
	time.Sleep(10 * time.Millisecond)
	snap := c.Snapshot()
	assert.Greater(t, snap.UptimeSeconds, 0.0)
}

func TestConcurrentRecording(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.Record(OpEmbedding, time.Millisecond)
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	require.NotNil(t, snap.Embedding)
	assert.Equal(t, int64(1000), snap.Embedding.Count)
}
