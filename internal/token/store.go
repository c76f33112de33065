// Package token persists per-origin bearer tokens as salted scrypt hashes.
// Plaintext tokens exist only in the issue response; verification
// re-derives the hash and compares in constant time.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/alecthomas/errors"
	"golang.org/x/crypto/scrypt"
)

const fileName = "tokens.json"

// scrypt parameters for hashing tokens at rest.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	hashLen      = 32
	saltLen      = 16
	tokenRandLen = 32
)

// Record is a stored token. At most one live record exists per origin;
// issuing replaces any previous one.
type Record struct {
	Origin    string    `json:"origin"`
	TokenHash []byte    `json:"tokenHash"`
	Salt      []byte    `json:"salt"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (r Record) Expired(now time.Time) bool { return !r.ExpiresAt.After(now) }

type file struct {
	Entries []Record `json:"entries"`
}

type Store struct {
	mu      sync.Mutex
	path    string
	entries []Record
	now     func() time.Time
}

// Open loads tokens.json from dir, tolerating a missing file.
func Open(dir string) (*Store, error) {
	store := &Store{path: filepath.Join(dir, fileName), now: time.Now}
	data, err := os.ReadFile(store.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, errors.Wrap(err, "read token store")
	default:
		var f file
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, errors.Wrap(err, "parse token store")
		}
		store.entries = f.Entries
	}
	return store, nil
}

// Issue mints a new token for origin, replacing any previous record. The
// record is persisted before the plaintext is returned; the plaintext is
// never stored.
func (s *Store) Issue(origin string, ttlDays int) (plaintext string, expiresAt time.Time, err error) {
	raw := make([]byte, tokenRandLen)
	if _, err := rand.Read(raw); err != nil {
		return "", time.Time{}, errors.Wrap(err, "generate token")
	}
	plaintext = base64.RawURLEncoding.EncodeToString(raw)

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", time.Time{}, errors.Wrap(err, "generate salt")
	}
	hash, err := deriveHash(plaintext, salt)
	if err != nil {
		return "", time.Time{}, errors.WithStack(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	expiresAt = now.Add(time.Duration(ttlDays) * 24 * time.Hour)
	s.pruneLocked(now)
	s.entries = slices.DeleteFunc(s.entries, func(r Record) bool { return r.Origin == origin })
	s.entries = append(s.entries, Record{
		Origin:    origin,
		TokenHash: hash,
		Salt:      salt,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	})
	if err := s.persistLocked(); err != nil {
		return "", time.Time{}, errors.WithStack(err)
	}
	return plaintext, expiresAt, nil
}

// Verify reports whether presented is the live token for origin. Unknown
// origins, expired records and hash mismatches are indistinguishable.
func (s *Store) Verify(origin, presented string) bool {
	s.mu.Lock()
	record, ok := s.activeLocked(origin)
	s.mu.Unlock()
	if !ok {
		return false
	}
	hash, err := deriveHash(presented, record.Salt)
	if err != nil {
		return false
	}
	if len(hash) != len(record.TokenHash) {
		return false
	}
	return subtle.ConstantTimeCompare(hash, record.TokenHash) == 1
}

// Active returns the live record for origin, if any.
func (s *Store) Active(origin string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(origin)
}

// Revoke deletes the record for origin and persists the result.
func (s *Store) Revoke(origin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = slices.DeleteFunc(s.entries, func(r Record) bool { return r.Origin == origin })
	return errors.WithStack(s.persistLocked())
}

func (s *Store) activeLocked(origin string) (Record, bool) {
	s.pruneLocked(s.now())
	for _, record := range s.entries {
		if record.Origin == origin {
			return record, true
		}
	}
	return Record{}, false
}

func (s *Store) pruneLocked(now time.Time) {
	s.entries = slices.DeleteFunc(s.entries, func(r Record) bool { return r.Expired(now) })
}

func (s *Store) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrap(err, "create token store dir")
	}
	data, err := json.MarshalIndent(file{Entries: s.entries}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode token store")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return errors.Wrap(err, "write token store")
	}
	return errors.Wrap(os.Rename(tmp, s.path), "replace token store")
}

func deriveHash(plaintext string, salt []byte) ([]byte, error) {
	hash, err := scrypt.Key([]byte(plaintext), salt, scryptN, scryptR, scryptP, hashLen)
	return hash, errors.Wrap(err, "derive token hash")
}
