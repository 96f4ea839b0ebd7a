package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calbar/internal/model"
)

func snap(freshness model.Freshness) *model.Snapshot {
	return model.BuildSnapshot(nil, time.Now(), freshness)
}

func TestPollReturnsLatestExactlyOnce(t *testing.T) {
	t.Parallel()

	b := New()

	_, ok := b.Poll()
	assert.False(t, ok, "nothing published yet")

	s := snap(model.FreshnessLive)
	b.Publish(s)

	got, ok := b.Poll()
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = b.Poll()
	assert.False(t, ok, "already seen")
}

func TestPublishLastWriteWins(t *testing.T) {
	t.Parallel()

	b := New()
	b.Publish(snap(model.FreshnessLive))
	latest := snap(model.FreshnessFromCache)
	b.Publish(latest)

	got, ok := b.Poll()
	require.True(t, ok)
	assert.Same(t, latest, got)

	_, ok = b.Poll()
	assert.False(t, ok)
}

func TestLatestIgnoresSeenState(t *testing.T) {
	t.Parallel()

	b := New()
	assert.Nil(t, b.Latest())

	s := snap(model.FreshnessLive)
	b.Publish(s)
	_, _ = b.Poll()

	assert.Same(t, s, b.Latest())
}

func TestNilPublishIsIgnored(t *testing.T) {
	t.Parallel()

	b := New()
	b.Publish(nil)
	_, ok := b.Poll()
	assert.False(t, ok)
}

func TestConcurrentPublishersSingleConsumer(t *testing.T) {
	t.Parallel()

	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(snap(model.FreshnessLive))
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if s, ok := b.Poll(); ok {
				// A polled snapshot is always fully constructed.
				require.NotNil(t, s.Days)
			}
		}
	}()

	wg.Wait()
	<-done

	assert.NotNil(t, b.Latest())
}
