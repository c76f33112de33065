package httpapi

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/alecthomas/errors"

	"github.com/block/gitbridge/internal/approval"
	"github.com/block/gitbridge/internal/execrun"
	"github.com/block/gitbridge/internal/jobs"
	"github.com/block/gitbridge/internal/osopen"
	"github.com/block/gitbridge/internal/pkgmgr"
	"github.com/block/gitbridge/internal/sandbox"
)

type openRequest struct {
	Target osopen.Target `json:"target"`
	Path   string        `json:"path"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// osOpen launches a local opener on a workspace path. Opening a folder is
// harmless; terminal and editor targets can execute code, so they sit
// behind the approval policy.
func (s *Server) osOpen(w http.ResponseWriter, r *http.Request) error {
	var req openRequest
	if err := decode(r, &req); err != nil {
		return errors.WithStack(err)
	}
	root, err := s.workspaceRoot()
	if err != nil {
		return errors.WithStack(err)
	}
	resolved, err := sandbox.ResolveInsideWorkspace(root, req.Path, false)
	if err != nil {
		return errors.WithStack(err)
	}

	var capability approval.Capability
	switch req.Target {
	case osopen.TargetFolder:
	case osopen.TargetTerminal:
		capability = approval.CapOpenTerminal
	case osopen.TargetVSCode:
		capability = approval.CapOpenVSCode
	default:
		return errors.WithStack(Errorf(http.StatusBadRequest, "internal_error", "unknown open target %q", req.Target))
	}
	if capability != "" {
		if err := s.policy.Ensure(r.Context(), Origin(r.Context()), resolved, capability); err != nil {
			return errors.WithStack(err)
		}
	}

	if err := osopen.Open(r.Context(), req.Target, resolved); err != nil {
		return errors.Wrap(err, "open")
	}
	return writeJSON(w, http.StatusOK, okResponse{OK: true})
}

type installRequest struct {
	RepoPath string         `json:"repoPath"`
	Manager  pkgmgr.Manager `json:"manager,omitempty"`
	Mode     pkgmgr.Mode    `json:"mode,omitempty"`
	Safer    *bool          `json:"safer,omitempty"`
}

func (s *Server) depsInstall(w http.ResponseWriter, r *http.Request) error {
	var req installRequest
	if err := decode(r, &req); err != nil {
		return errors.WithStack(err)
	}
	root, err := s.workspaceRoot()
	if err != nil {
		return errors.WithStack(err)
	}
	dir, err := sandbox.ResolveInsideWorkspace(root, req.RepoPath, false)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "package.json")); err != nil {
		return errors.WithStack(Errorf(http.StatusUnprocessableEntity, "internal_error", "no package.json in %q", req.RepoPath))
	}
	if err := s.policy.Ensure(r.Context(), Origin(r.Context()), dir, approval.CapDepsInstall); err != nil {
		return errors.WithStack(err)
	}

	safer := s.conf.Get().Deps.DefaultSafer
	if req.Safer != nil {
		safer = *req.Safer
	}
	cmd, err := pkgmgr.Build(dir, req.Manager, req.Mode, safer)
	if err != nil {
		return errors.WithStack(Errorf(http.StatusBadRequest, "internal_error", "%s", err))
	}

	job := s.jobs.Enqueue("deps.install", func(ctx context.Context, handle *jobs.Handle) error {
		return execrun.Run(ctx, handle, cmd.Name, cmd.Args, execrun.Options{Dir: dir})
	})
	return writeJSON(w, http.StatusAccepted, jobAccepted{JobID: job.ID()})
}
