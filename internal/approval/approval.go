// Package approval decides whether an origin may use a privileged
// capability, and drives the interactive grant flow when it may not yet.
package approval

import (
	"context"
	"path/filepath"
	"time"

	"github.com/alecthomas/errors"

	"github.com/block/gitbridge/internal/config"
	"github.com/block/gitbridge/internal/logging"
)

type Capability string

const (
	CapOpenTerminal Capability = "open-terminal"
	CapOpenVSCode   Capability = "open-vscode"
	CapDepsInstall  Capability = "deps/install"
)

// ErrNotGranted is returned when no approval exists and the prompt was
// declined or unavailable.
var ErrNotGranted = errors.New("capability not granted")

// Prompter asks the local user to confirm a grant. Implementations must
// return false rather than an error when no terminal is available.
type Prompter interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

type Policy struct {
	store    *config.Store
	prompter Prompter
	now      func() time.Time
}

func NewPolicy(store *config.Store, prompter Prompter) *Policy {
	return &Policy{store: store, prompter: prompter, now: time.Now}
}

// Has reports whether a persisted approval entry covers (origin, repoPath,
// capability). An entry matches on wildcard, exact path, or a relative
// path that resolves against the workspace root to the argument.
func (p *Policy) Has(origin, absRepoPath string, capability Capability) bool {
	conf := p.store.Get()
	for _, entry := range conf.Approvals {
		if entry.Origin != origin || !entry.HasCapability(string(capability)) {
			continue
		}
		switch {
		case entry.Wildcard():
			return true
		case entry.RepoPath == absRepoPath:
			return true
		case !filepath.IsAbs(entry.RepoPath) && conf.WorkspaceRoot != "" &&
			filepath.Join(conf.WorkspaceRoot, entry.RepoPath) == absRepoPath:
			return true
		}
	}
	return false
}

// Ensure passes when the capability is already approved, otherwise prompts
// the local user and persists a wildcard grant on consent. A declined or
// unavailable prompt fails with ErrNotGranted.
func (p *Policy) Ensure(ctx context.Context, origin, absRepoPath string, capability Capability) error {
	if p.Has(origin, absRepoPath, capability) {
		return nil
	}
	if p.prompter == nil {
		return errors.WithStack(ErrNotGranted)
	}
	prompt := "Allow " + origin + " to use " + string(capability) + " for all workspace repositories? [y/N] "
	granted, err := p.prompter.Confirm(ctx, prompt)
	if err != nil {
		logging.FromContext(ctx).WarnContext(ctx, "Approval prompt failed", "error", err)
		return errors.WithStack(ErrNotGranted)
	}
	if !granted {
		return errors.WithStack(ErrNotGranted)
	}
	if err := p.store.Grant(origin, string(capability), p.now()); err != nil {
		return errors.Wrap(err, "persist approval")
	}
	logging.FromContext(ctx).InfoContext(ctx, "Capability granted",
		"origin", origin, "capability", string(capability))
	return nil
}
