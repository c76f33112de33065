// Package gitcli validates repository URLs and builds the git invocations
// the daemon is allowed to run: clone, fetch and a read-only status.
package gitcli

import (
	"regexp"
	"strconv"

	"github.com/alecthomas/errors"
)

// ErrInvalidRepoURL rejects anything that is not a plain remote URL.
var ErrInvalidRepoURL = errors.New("repository URL is not allowed")

// ErrInvalidRemote rejects fetch remotes that are not plain remote names.
var ErrInvalidRemote = errors.New("remote name is not allowed")

// Remote URL shapes the daemon accepts. Local forms (file://, absolute or
// relative paths) are deliberately excluded: a clone source must never be
// a path on this machine.
var repoURLPattern = regexp.MustCompile(
	`^(?:` +
		`git@[A-Za-z0-9._-]+:[A-Za-z0-9._~/-]+` +
		`|https://[A-Za-z0-9._-]+(?::\d+)?/[A-Za-z0-9._~/%-]+` +
		`|ssh://[A-Za-z0-9._@-]+(?::\d+)?/[A-Za-z0-9._~/%-]+` +
		`)$`)

func ValidateRepoURL(repoURL string) error {
	if !repoURLPattern.MatchString(repoURL) {
		return errors.WithStack(ErrInvalidRepoURL)
	}
	return nil
}

// A fetch remote must be a configured remote name. A leading dash would be
// parsed by git as an option, and a URL or path would let fetch pull from
// sources the clone URL validation forbids.
var remoteNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateRemoteName accepts plain remote names like "origin" or
// "upstream". Empty means the default remote.
func ValidateRemoteName(remote string) error {
	if remote == "" {
		return nil
	}
	if !remoteNamePattern.MatchString(remote) {
		return errors.WithStack(ErrInvalidRemote)
	}
	return nil
}

// Env returns the environment for child git processes. Interactive
// credential and terminal prompts would hang a headless daemon until the
// job timeout, so they are disabled where git honours it.
func Env() []string {
	return []string{"GIT_TERMINAL_PROMPT=0"}
}

type CloneOptions struct {
	Branch string
	Depth  int
}

// CloneArgs builds `git clone --progress [--branch X] [--depth N] <url>
// <dest>`. Progress is forced because stderr is a pipe, not a terminal.
func CloneArgs(repoURL, dest string, opts CloneOptions) []string {
	args := []string{"clone", "--progress"}
	if opts.Branch != "" {
		args = append(args, "--branch", opts.Branch)
	}
	if opts.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(opts.Depth))
	}
	return append(args, repoURL, dest)
}

// FetchArgs builds `git -C <repo> fetch --progress <remote> [--prune]`.
// The remote must have passed ValidateRemoteName.
func FetchArgs(repoPath, remote string, prune bool) []string {
	if remote == "" {
		remote = "origin"
	}
	args := []string{"-C", repoPath, "fetch", "--progress", remote}
	if prune {
		args = append(args, "--prune")
	}
	return args
}

// StatusArgs builds the porcelain v2 status read.
func StatusArgs(repoPath string) []string {
	return []string{"-C", repoPath, "status", "--porcelain=2", "-b"}
}
