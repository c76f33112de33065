package token //nolint:testpackage // verification needs the clock override

import (
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
)

const origin = "http://localhost:5173"

func TestIssueThenVerify(t *testing.T) {
	store, err := Open(t.TempDir())
	assert.NoError(t, err)

	plaintext, expiresAt, err := store.Issue(origin, 30)
	assert.NoError(t, err)
	assert.NotEqual(t, "", plaintext)
	assert.True(t, expiresAt.After(time.Now()))

	assert.True(t, store.Verify(origin, plaintext))
	assert.False(t, store.Verify(origin, plaintext+"x"))
	assert.False(t, store.Verify(origin, ""))
	assert.False(t, store.Verify("http://evil.example", plaintext))
}

func TestIssueReplacesPreviousToken(t *testing.T) {
	store, err := Open(t.TempDir())
	assert.NoError(t, err)

	first, _, err := store.Issue(origin, 30)
	assert.NoError(t, err)
	second, _, err := store.Issue(origin, 30)
	assert.NoError(t, err)

	assert.False(t, store.Verify(origin, first))
	assert.True(t, store.Verify(origin, second))
}

func TestRevoke(t *testing.T) {
	store, err := Open(t.TempDir())
	assert.NoError(t, err)

	plaintext, _, err := store.Issue(origin, 30)
	assert.NoError(t, err)
	assert.NoError(t, store.Revoke(origin))
	assert.False(t, store.Verify(origin, plaintext))
	_, ok := store.Active(origin)
	assert.False(t, ok)
}

func TestExpiredRecordsArePruned(t *testing.T) {
	store, err := Open(t.TempDir())
	assert.NoError(t, err)

	plaintext, expiresAt, err := store.Issue(origin, 1)
	assert.NoError(t, err)
	assert.True(t, store.Verify(origin, plaintext))

	store.now = func() time.Time { return expiresAt.Add(time.Second) }
	assert.False(t, store.Verify(origin, plaintext))
	_, ok := store.Active(origin)
	assert.False(t, ok)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	assert.NoError(t, err)
	plaintext, _, err := store.Issue(origin, 30)
	assert.NoError(t, err)

	reopened, err := Open(dir)
	assert.NoError(t, err)
	assert.True(t, reopened.Verify(origin, plaintext))

	record, ok := reopened.Active(origin)
	assert.True(t, ok)
	// Plaintext must never be at rest.
	assert.NotEqual(t, plaintext, string(record.TokenHash))
	assert.Equal(t, 32, len(record.TokenHash))
	assert.Equal(t, 16, len(record.Salt))
}
