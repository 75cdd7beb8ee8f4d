package stream

import (
	"sync"
	"time"

	"quantpilot/internal/metrics"
)

type Status string

const (
	StatusConnecting   Status = "CONNECTING"
	StatusLive         Status = "LIVE"
	StatusDegraded     Status = "DEGRADED"
	StatusStale        Status = "STALE"
	StatusDisconnected Status = "DISCONNECTED"
)

const (
	degradedAfter = 4 * time.Second
	staleAfter    = 10 * time.Second
)

// ConnState is the process-wide connection health record. The ingestion
// loop is its only writer; everyone else reads snapshots. Status is derived
// from (connected, now-lastMessageAt) by Reclassify and is only assigned
// directly on socket open/close transitions.
type ConnState struct {
	mu              sync.RWMutex
	connected       bool
	status          Status
	lastConnectedAt time.Time
	lastMessageAt   time.Time
	reconnectCount  int
	lastError       string
}

type ConnSnapshot struct {
	Connected       bool      `json:"connected"`
	Status          Status    `json:"status"`
	LastConnectedAt time.Time `json:"last_connected_at"`
	LastMessageAt   time.Time `json:"last_message_at"`
	ReconnectCount  int       `json:"reconnect_count"`
	LastError       string    `json:"last_error,omitempty"`
}

func NewConnState() *ConnState {
	return &ConnState{status: StatusConnecting}
}

func (s *ConnState) markConnecting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusConnecting
	s.publishGauge()
}

func (s *ConnState) markConnected(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.status = StatusLive
	s.lastConnectedAt = now
	s.lastMessageAt = now
	s.lastError = ""
	s.publishGauge()
}

func (s *ConnState) markDisconnected(err error, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		s.reconnectCount++
	}
	s.connected = false
	s.status = StatusDisconnected
	if err != nil {
		s.lastError = err.Error()
	}
	s.publishGauge()
}

func (s *ConnState) markMessage(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastMessageAt = now
}

// Reclassify recomputes status from message-arrival latency. Called at least
// once per second by the health loop; it only applies while the socket is
// open, so a closed socket always reads DISCONNECTED.
func (s *ConnState) Reclassify(now time.Time) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		s.publishGauge()
		return s.status
	}

	gap := now.Sub(s.lastMessageAt)
	switch {
	case gap < degradedAfter:
		s.status = StatusLive
	case gap <= staleAfter:
		s.status = StatusDegraded
	default:
		s.status = StatusStale
	}
	s.publishGauge()
	return s.status
}

func (s *ConnState) Snapshot() ConnSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ConnSnapshot{
		Connected:       s.connected,
		Status:          s.status,
		LastConnectedAt: s.lastConnectedAt,
		LastMessageAt:   s.lastMessageAt,
		ReconnectCount:  s.reconnectCount,
		LastError:       s.lastError,
	}
}

// publishGauge expects s.mu held.
func (s *ConnState) publishGauge() {
	var v float64
	switch s.status {
	case StatusConnecting:
		v = 1
	case StatusStale:
		v = 2
	case StatusDegraded:
		v = 3
	case StatusLive:
		v = 4
	}
	metrics.ConnectionStatus.Set(v)
}
