package signing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantpilot/internal/logger"
)

// Well-known throwaway development key; never used against a real venue.
const testAgentKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

const testOwner = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeVerifier struct {
	agents []common.Address
	err    error
}

func (v *fakeVerifier) AuthorizedAgents(_ context.Context, _ common.Address) ([]common.Address, error) {
	return v.agents, v.err
}

func TestSessionWithoutKeyNotUsable(t *testing.T) {
	s, err := New("", testOwner, logger.Discard())
	require.NoError(t, err)
	assert.False(t, s.Usable())

	_, err = s.SignAction([]byte(`{}`), 1)
	assert.Error(t, err)
}

func TestSessionDerivesAgentAddress(t *testing.T) {
	s, err := New("0x"+testAgentKey, testOwner, logger.Discard())
	require.NoError(t, err)
	assert.True(t, s.Usable())
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), s.AgentAddress())
	assert.Equal(t, common.HexToAddress(testOwner), s.OwnerAddress())
}

func TestBadKeyRejected(t *testing.T) {
	_, err := New("notahexkey", testOwner, logger.Discard())
	assert.Error(t, err)
}

func TestNonceStrictlyIncreasing(t *testing.T) {
	clock := newFakeClock()
	s, err := New(testAgentKey, testOwner, logger.Discard(), WithClock(clock.Now))
	require.NoError(t, err)

	// Frozen clock: nonces must still advance.
	n1 := s.NextNonce()
	n2 := s.NextNonce()
	n3 := s.NextNonce()
	assert.Greater(t, n2, n1)
	assert.Greater(t, n3, n2)

	// Clock jumping forward wins over the increment path.
	clock.Advance(time.Minute)
	n4 := s.NextNonce()
	assert.Equal(t, clock.Now().UnixMilli(), n4)
	assert.Greater(t, n4, n3)
}

func TestSignActionProducesRecoverableTriple(t *testing.T) {
	s, err := New(testAgentKey, testOwner, logger.Discard())
	require.NoError(t, err)

	sig, err := s.SignAction([]byte(`{"type":"order"}`), 42)
	require.NoError(t, err)

	assert.Len(t, sig.R, 66) // 0x + 32 bytes
	assert.Len(t, sig.S, 66)
	assert.Contains(t, []byte{27, 28}, sig.V)

	// Same action, same nonce: deterministic signature.
	again, err := s.SignAction([]byte(`{"type":"order"}`), 42)
	require.NoError(t, err)
	assert.Equal(t, sig, again)

	// Different nonce: different digest, different signature.
	other, err := s.SignAction([]byte(`{"type":"order"}`), 43)
	require.NoError(t, err)
	assert.NotEqual(t, sig.R, other.R)
}

func TestVerifyUpdatesOnDefinitiveAnswer(t *testing.T) {
	s, err := New(testAgentKey, testOwner, logger.Discard())
	require.NoError(t, err)

	err = s.Verify(context.Background(), &fakeVerifier{agents: []common.Address{s.AgentAddress()}})
	require.NoError(t, err)
	assert.True(t, s.Verified())

	err = s.Verify(context.Background(), &fakeVerifier{agents: nil})
	require.NoError(t, err)
	assert.False(t, s.Verified())
}

func TestVerifyTransportFailureKeepsPreviousStatus(t *testing.T) {
	s, err := New(testAgentKey, testOwner, logger.Discard())
	require.NoError(t, err)

	require.NoError(t, s.Verify(context.Background(), &fakeVerifier{agents: []common.Address{s.AgentAddress()}}))
	require.True(t, s.Verified())

	// A flaky venue must not revoke a previously verified session.
	err = s.Verify(context.Background(), &fakeVerifier{err: errors.New("timeout")})
	assert.Error(t, err)
	assert.True(t, s.Verified())
}
