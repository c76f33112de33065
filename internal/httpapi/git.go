package httpapi

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/alecthomas/errors"

	"github.com/block/gitbridge/internal/execrun"
	"github.com/block/gitbridge/internal/gitcli"
	"github.com/block/gitbridge/internal/jobs"
	"github.com/block/gitbridge/internal/sandbox"
)

// workspaceRoot returns the configured root or the workspace_required
// error every path route shares.
func (s *Server) workspaceRoot() (string, error) {
	root := s.conf.Get().WorkspaceRoot
	if root == "" {
		return "", errors.WithStack(errWorkspaceRequired())
	}
	return root, nil
}

// resolveRepoPath confines candidate to the workspace and asserts it is an
// existing git repository.
func resolveRepoPath(root, candidate string) (string, error) {
	resolved, err := sandbox.ResolveInsideWorkspace(root, candidate, false)
	if errors.Is(err, sandbox.ErrMissingPath) {
		return "", errors.WithStack(Errorf(http.StatusNotFound, "repo_not_found", "no repository at %q", candidate))
	}
	if err != nil {
		return "", errors.WithStack(err)
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return "", errors.WithStack(Errorf(http.StatusNotFound, "repo_not_found", "no repository at %q", candidate))
	}
	if _, err := os.Lstat(filepath.Join(resolved, ".git")); err != nil {
		return "", errors.WithStack(Errorf(http.StatusNotFound, "repo_not_found", "no repository at %q", candidate))
	}
	return resolved, nil
}

// gitProgressSink forwards child output unchanged and additionally turns
// git's stderr transfer-progress lines into progress events.
type gitProgressSink struct {
	*jobs.Handle
}

func (s gitProgressSink) Stderr(line string) {
	s.Handle.Stderr(line)
	if phase, pct, ok := gitcli.ParseProgress(line); ok {
		s.Handle.Progress("git", &pct, phase)
	}
}

type cloneOptions struct {
	Branch string `json:"branch,omitempty"`
	Depth  int    `json:"depth,omitempty"`
}

type cloneRequest struct {
	RepoURL      string        `json:"repoUrl"`
	DestRelative string        `json:"destRelative"`
	Options      *cloneOptions `json:"options,omitempty"`
}

type jobAccepted struct {
	JobID string `json:"jobId"`
}

func (s *Server) gitClone(w http.ResponseWriter, r *http.Request) error {
	var req cloneRequest
	if err := decode(r, &req); err != nil {
		return errors.WithStack(err)
	}
	root, err := s.workspaceRoot()
	if err != nil {
		return errors.WithStack(err)
	}
	if err := gitcli.ValidateRepoURL(req.RepoURL); err != nil {
		return errors.WithStack(err)
	}
	if err := sandbox.EnsureRelative(req.DestRelative); err != nil {
		return errors.WithStack(err)
	}

	dest, err := sandbox.ResolveInsideWorkspace(root, req.DestRelative, true)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := os.Lstat(dest); err == nil {
		return errors.WithStack(Errorf(http.StatusConflict, "internal_error", "destination %q already exists", req.DestRelative))
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrap(err, "create destination parent")
	}

	opts := gitcli.CloneOptions{}
	if req.Options != nil {
		if req.Options.Depth < 0 {
			return errors.WithStack(Errorf(http.StatusBadRequest, "internal_error", "depth must be >= 1"))
		}
		opts.Branch = req.Options.Branch
		opts.Depth = req.Options.Depth
	}

	args := gitcli.CloneArgs(req.RepoURL, dest, opts)
	job := s.jobs.Enqueue("git.clone", func(ctx context.Context, handle *jobs.Handle) error {
		return execrun.Run(ctx, gitProgressSink{handle}, "git", args, execrun.Options{Dir: root, Env: gitcli.Env()})
	})
	return writeJSON(w, http.StatusAccepted, jobAccepted{JobID: job.ID()})
}

type fetchRequest struct {
	RepoPath string `json:"repoPath"`
	Remote   string `json:"remote,omitempty"`
	Prune    bool   `json:"prune,omitempty"`
}

func (s *Server) gitFetch(w http.ResponseWriter, r *http.Request) error {
	var req fetchRequest
	if err := decode(r, &req); err != nil {
		return errors.WithStack(err)
	}
	if err := gitcli.ValidateRemoteName(req.Remote); err != nil {
		return errors.WithStack(err)
	}
	root, err := s.workspaceRoot()
	if err != nil {
		return errors.WithStack(err)
	}
	repo, err := resolveRepoPath(root, req.RepoPath)
	if err != nil {
		return errors.WithStack(err)
	}

	args := gitcli.FetchArgs(repo, req.Remote, req.Prune)
	job := s.jobs.Enqueue("git.fetch", func(ctx context.Context, handle *jobs.Handle) error {
		return execrun.Run(ctx, gitProgressSink{handle}, "git", args, execrun.Options{Dir: repo, Env: gitcli.Env()})
	})
	return writeJSON(w, http.StatusAccepted, jobAccepted{JobID: job.ID()})
}

func (s *Server) gitStatus(w http.ResponseWriter, r *http.Request) error {
	root, err := s.workspaceRoot()
	if err != nil {
		return errors.WithStack(err)
	}
	repo, err := resolveRepoPath(root, r.URL.Query().Get("repoPath"))
	if err != nil {
		return errors.WithStack(err)
	}
	status, err := gitcli.ReadStatus(r.Context(), repo)
	if err != nil {
		return errors.Wrap(err, "read status")
	}
	return writeJSON(w, http.StatusOK, status)
}
