package signing

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"quantpilot/internal/logger"
)

// Signature is the wire triple attached to a signed action envelope.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V byte   `json:"v"`
}

// AgentVerifier answers which agent addresses the venue considers authorized
// to sign for an owner. Implemented by the venue client.
type AgentVerifier interface {
	AuthorizedAgents(ctx context.Context, owner common.Address) ([]common.Address, error)
}

// Session holds the delegated signing key authorized to place orders on
// behalf of the owner. The key lives only in memory and is never logged.
// Verified is advisory: a slow or failing verification check must not brick
// trading, so only a definitive venue answer can flip it.
type Session struct {
	key   *ecdsa.PrivateKey
	agent common.Address
	owner common.Address
	log   *logger.Logger

	mu        sync.Mutex
	verified  bool
	lastNonce int64

	now func() time.Time
}

type Option func(*Session)

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New builds a session from a hex-encoded agent private key. An empty key is
// allowed and yields a session that is not usable for signing.
func New(agentKeyHex, ownerHex string, log *logger.Logger, opts ...Option) (*Session, error) {
	s := &Session{
		owner: common.HexToAddress(ownerHex),
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	agentKeyHex = strings.TrimPrefix(strings.TrimSpace(agentKeyHex), "0x")
	if agentKeyHex == "" {
		return s, nil
	}

	key, err := crypto.HexToECDSA(agentKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse agent key: %w", err)
	}
	s.key = key
	s.agent = crypto.PubkeyToAddress(key.PublicKey)
	return s, nil
}

// Usable reports whether a signing key is present. This is the only hard
// requirement for signing; Verified is not consulted.
func (s *Session) Usable() bool {
	return s.key != nil
}

func (s *Session) AgentAddress() common.Address {
	return s.agent
}

func (s *Session) OwnerAddress() common.Address {
	return s.owner
}

func (s *Session) Verified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verified
}

// Verify asks the venue whether the agent is currently authorized for the
// owner. Transport failures leave the previous answer in place; only a
// definitive response updates it.
func (s *Session) Verify(ctx context.Context, v AgentVerifier) error {
	if !s.Usable() {
		return fmt.Errorf("no signing key loaded")
	}

	agents, err := v.AuthorizedAgents(ctx, s.owner)
	if err != nil {
		s.log.WithComponent("signing").WithError(err).Warn("agent verification unavailable, keeping previous status")
		return err
	}

	authorized := false
	for _, a := range agents {
		if a == s.agent {
			authorized = true
			break
		}
	}

	s.mu.Lock()
	s.verified = authorized
	s.mu.Unlock()

	s.log.WithComponent("signing").WithFields(map[string]interface{}{
		"agent":      s.agent.Hex(),
		"authorized": authorized,
	}).Info("agent verification refreshed")
	return nil
}

// NextNonce returns a strictly increasing nonce: the current wall clock in
// milliseconds, bumped past the previous nonce if the clock has not moved.
func (s *Session) NextNonce() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	nonce := s.now().UnixMilli()
	if nonce <= s.lastNonce {
		nonce = s.lastNonce + 1
	}
	s.lastNonce = nonce
	return nonce
}

// SignAction signs keccak256(action || nonce) with the delegated key.
func (s *Session) SignAction(action []byte, nonce int64) (Signature, error) {
	if !s.Usable() {
		return Signature{}, fmt.Errorf("no signing key loaded")
	}

	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], uint64(nonce))
	digest := crypto.Keccak256(action, nonceBytes[:])

	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return Signature{}, fmt.Errorf("sign action: %w", err)
	}

	return Signature{
		R: hexutil.Encode(sig[:32]),
		S: hexutil.Encode(sig[32:64]),
		V: sig[64] + 27,
	}, nil
}
