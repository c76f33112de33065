// Package pairing implements the one-shot pairing handshake: a short
// random code per origin, held only in memory, that a confirm consumes to
// mint a bearer token.
package pairing

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/alecthomas/errors"
)

const (
	// CodeTTL bounds how long a pairing code stays confirmable.
	CodeTTL = 10 * time.Minute

	codeBytes = 4 // 8 hex characters
)

var ErrInvalidCode = errors.New("invalid or expired pairing code")

type pending struct {
	code      string
	expiresAt time.Time
}

type Code struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Manager struct {
	mu    sync.Mutex
	codes map[string]pending
	now   func() time.Time
}

func NewManager() *Manager {
	return &Manager{codes: map[string]pending{}, now: time.Now}
}

// Start issues a fresh code for origin, replacing any outstanding one.
func (m *Manager) Start(origin string) (Code, error) {
	raw := make([]byte, codeBytes)
	if _, err := rand.Read(raw); err != nil {
		return Code{}, errors.Wrap(err, "generate pairing code")
	}
	code := hex.EncodeToString(raw)

	m.mu.Lock()
	defer m.mu.Unlock()
	expiresAt := m.now().Add(CodeTTL)
	m.codes[origin] = pending{code: code, expiresAt: expiresAt}
	return Code{Code: code, ExpiresAt: expiresAt}, nil
}

// Confirm consumes the outstanding code for origin. A successful confirm
// deletes the code, so a replay with the same code fails.
func (m *Manager) Confirm(origin, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.codes[origin]
	if !ok || m.now().After(entry.expiresAt) || entry.code != code {
		return errors.WithStack(ErrInvalidCode)
	}
	delete(m.codes, origin)
	return nil
}
