package approval_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/alecthomas/errors"

	"github.com/block/gitbridge/internal/approval"
	"github.com/block/gitbridge/internal/config"
	"github.com/block/gitbridge/internal/logging"
)

const origin = "http://localhost:5173"

type fakePrompter struct {
	answer bool
	err    error
	asked  int
}

func (p *fakePrompter) Confirm(context.Context, string) (bool, error) {
	p.asked++
	return p.answer, p.err
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	_, ctx := logging.Configure(context.Background(), logging.Config{})
	return ctx
}

func newStore(t *testing.T, workspaceRoot string, approvals ...config.Approval) *config.Store {
	t.Helper()
	store, err := config.Open(t.TempDir())
	assert.NoError(t, err)
	assert.NoError(t, store.Update(func(conf *config.Config) error {
		conf.WorkspaceRoot = workspaceRoot
		conf.Approvals = approvals
		return nil
	}))
	return store
}

func TestHasMatchesWildcardExactAndRelative(t *testing.T) {
	root := t.TempDir()
	repo := filepath.Join(root, "repo")
	store := newStore(t, root,
		config.Approval{Origin: origin, Capabilities: []string{"deps/install"}, ApprovedAt: time.Now()},
		config.Approval{Origin: origin, RepoPath: repo, Capabilities: []string{"open-vscode"}, ApprovedAt: time.Now()},
		config.Approval{Origin: origin, RepoPath: "repo", Capabilities: []string{"open-terminal"}, ApprovedAt: time.Now()},
	)
	policy := approval.NewPolicy(store, nil)

	// Wildcard covers any path for its origin and capability.
	assert.True(t, policy.Has(origin, repo, approval.CapDepsInstall))
	assert.True(t, policy.Has(origin, filepath.Join(root, "other"), approval.CapDepsInstall))
	// Exact absolute match.
	assert.True(t, policy.Has(origin, repo, approval.CapOpenVSCode))
	assert.False(t, policy.Has(origin, filepath.Join(root, "other"), approval.CapOpenVSCode))
	// Relative entry resolves against the workspace root.
	assert.True(t, policy.Has(origin, repo, approval.CapOpenTerminal))

	// Different origin never matches.
	assert.False(t, policy.Has("http://other.example", repo, approval.CapDepsInstall))
}

func TestEnsureGrantsOnConsent(t *testing.T) {
	store := newStore(t, t.TempDir())
	prompter := &fakePrompter{answer: true}
	policy := approval.NewPolicy(store, prompter)
	ctx := testContext(t)

	repo := filepath.Join(store.Get().WorkspaceRoot, "repo")
	assert.NoError(t, policy.Ensure(ctx, origin, repo, approval.CapOpenTerminal))
	assert.Equal(t, 1, prompter.asked)

	// The grant persisted as a wildcard entry, so no further prompt.
	assert.NoError(t, policy.Ensure(ctx, origin, repo, approval.CapOpenTerminal))
	assert.Equal(t, 1, prompter.asked)
	assert.True(t, policy.Has(origin, filepath.Join(store.Get().WorkspaceRoot, "other"), approval.CapOpenTerminal))
}

func TestEnsureFailsWhenDeclinedOrUnavailable(t *testing.T) {
	store := newStore(t, t.TempDir())
	ctx := testContext(t)
	repo := filepath.Join(store.Get().WorkspaceRoot, "repo")

	declined := approval.NewPolicy(store, &fakePrompter{answer: false})
	assert.True(t, errors.Is(declined.Ensure(ctx, origin, repo, approval.CapDepsInstall), approval.ErrNotGranted))

	broken := approval.NewPolicy(store, &fakePrompter{err: errors.New("no tty")})
	assert.True(t, errors.Is(broken.Ensure(ctx, origin, repo, approval.CapDepsInstall), approval.ErrNotGranted))

	unavailable := approval.NewPolicy(store, nil)
	assert.True(t, errors.Is(unavailable.Ensure(ctx, origin, repo, approval.CapDepsInstall), approval.ErrNotGranted))

	assert.Equal(t, 0, len(store.Get().Approvals))
}
