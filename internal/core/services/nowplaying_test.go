package services

import (
	"testing"

	"tandem/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestNowPlayingAggregator(t *testing.T) {
	roster := testRoster(t)
	n := NewNowPlayingAggregator(roster, NewRegistry(NopMetrics{}))

	assert.True(t, n.Start("song-1", "V"))
	assert.True(t, n.Start("song-1", "M"))
	assert.False(t, n.Start("song-1", "M"))
	assert.True(t, n.Start("song-2", "M"))

	assert.Equal(t, domain.NowPlaying{
		"song-1": {"M", "V"},
		"song-2": {"M"},
	}, n.Snapshot())

	assert.False(t, n.Stop("song-3", "M"))
	assert.False(t, n.Stop("song-2", "V"))
	assert.True(t, n.Stop("song-2", "M"))
	_, present := n.Snapshot()["song-2"]
	assert.False(t, present, "empty sets are removed")

	assert.True(t, n.OnDisconnect("M"))
	assert.False(t, n.OnDisconnect("M"))
	assert.Equal(t, domain.NowPlaying{"song-1": {"V"}}, n.Snapshot())
}

func TestNowPlayingAggregator_SnapshotIsCopy(t *testing.T) {
	n := NewNowPlayingAggregator(testRoster(t), NewRegistry(NopMetrics{}))
	n.Start("song-1", "M")

	snap := n.Snapshot()
	snap["song-1"][0] = "X"
	delete(snap, "song-1")

	assert.Equal(t, domain.NowPlaying{"song-1": {"M"}}, n.Snapshot())
}
