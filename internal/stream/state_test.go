package stream

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthClassification(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s := NewConnState()
	assert.Equal(t, StatusConnecting, s.Snapshot().Status)

	s.markConnected(t0)
	assert.Equal(t, StatusLive, s.Snapshot().Status)

	// Message at t0, then silence.
	s.markMessage(t0)

	assert.Equal(t, StatusLive, s.Reclassify(t0.Add(1*time.Second)))
	assert.Equal(t, StatusLive, s.Reclassify(t0.Add(3900*time.Millisecond)))
	assert.Equal(t, StatusDegraded, s.Reclassify(t0.Add(5*time.Second)))
	assert.Equal(t, StatusDegraded, s.Reclassify(t0.Add(10*time.Second)))
	assert.Equal(t, StatusStale, s.Reclassify(t0.Add(11*time.Second)))

	// Stale is a latency verdict, not a disconnect: only socket closure
	// reports Disconnected.
	assert.True(t, s.Snapshot().Connected)

	s.markDisconnected(errors.New("read: connection reset"), t0.Add(12*time.Second))
	snap := s.Snapshot()
	assert.Equal(t, StatusDisconnected, snap.Status)
	assert.False(t, snap.Connected)
	assert.Equal(t, 1, snap.ReconnectCount)
	assert.Contains(t, snap.LastError, "connection reset")

	// Reclassify does not resurrect a closed socket.
	assert.Equal(t, StatusDisconnected, s.Reclassify(t0.Add(13*time.Second)))
}

func TestFreshMessageRestoresLive(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s := NewConnState()
	s.markConnected(t0)
	s.markMessage(t0)

	assert.Equal(t, StatusStale, s.Reclassify(t0.Add(20*time.Second)))

	s.markMessage(t0.Add(21 * time.Second))
	assert.Equal(t, StatusLive, s.Reclassify(t0.Add(22*time.Second)))
}

func TestReconnectCountSurvivesReconnects(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s := NewConnState()
	for i := 0; i < 3; i++ {
		s.markConnected(t0)
		s.markDisconnected(nil, t0.Add(time.Second))
	}
	assert.Equal(t, 3, s.Snapshot().ReconnectCount)

	// A failed dial while already down does not inflate the counter.
	s.markDisconnected(errors.New("dial refused"), t0.Add(2*time.Second))
	assert.Equal(t, 3, s.Snapshot().ReconnectCount)
}

func TestPriceBook(t *testing.T) {
	b := NewPriceBook(time.Hour)

	_, ok := b.Mid("BTC")
	assert.False(t, ok)

	b.Update("BTC", 64000.5)
	mid, ok := b.Mid("BTC")
	assert.True(t, ok)
	assert.Equal(t, 64000.5, mid)

	// Non-positive updates are ignored.
	b.Update("BTC", -1)
	mid, _ = b.Mid("BTC")
	assert.Equal(t, 64000.5, mid)
}
