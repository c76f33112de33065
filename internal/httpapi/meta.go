package httpapi

import (
	"net/http"
	"os/exec"
	"time"

	"github.com/alecthomas/errors"

	"github.com/block/gitbridge/internal/jobs"
)

type pairingStatus struct {
	Paired    bool       `json:"paired"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type workspaceStatus struct {
	Configured bool   `json:"configured"`
	Root       string `json:"root,omitempty"`
}

type metaResponse struct {
	Version   string          `json:"version"`
	Pairing   pairingStatus   `json:"pairing"`
	Workspace workspaceStatus `json:"workspace"`
	Tools     map[string]bool `json:"tools"`
}

// lookPath is swapped in tests to control which tools appear installed.
var lookPath = exec.LookPath

func toolInstalled(name string) bool {
	_, err := lookPath(name)
	return err == nil
}

func (s *Server) meta(w http.ResponseWriter, r *http.Request) error {
	origin := Origin(r.Context())
	conf := s.conf.Get()

	paired := pairingStatus{}
	if record, ok := s.tokens.Active(origin); ok {
		expires := record.ExpiresAt
		paired = pairingStatus{Paired: true, ExpiresAt: &expires}
	}

	return writeJSON(w, http.StatusOK, metaResponse{
		Version: s.version,
		Pairing: paired,
		Workspace: workspaceStatus{
			Configured: conf.WorkspaceRoot != "",
			Root:       conf.WorkspaceRoot,
		},
		Tools: map[string]bool{
			"git":    toolInstalled("git"),
			"npm":    toolInstalled("npm"),
			"pnpm":   toolInstalled("pnpm"),
			"yarn":   toolInstalled("yarn"),
			"vscode": toolInstalled("code"),
		},
	})
}

type pairRequest struct {
	Step string `json:"step"`
	Code string `json:"code,omitempty"`
}

type pairStartResponse struct {
	Code         string    `json:"code"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Instructions string    `json:"instructions"`
}

type pairConfirmResponse struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (s *Server) pair(w http.ResponseWriter, r *http.Request) error {
	var req pairRequest
	if err := decode(r, &req); err != nil {
		return errors.WithStack(err)
	}
	origin := Origin(r.Context())

	switch req.Step {
	case "start":
		code, err := s.pairing.Start(origin)
		if err != nil {
			return errors.WithStack(err)
		}
		return writeJSON(w, http.StatusOK, pairStartResponse{
			Code:         code.Code,
			ExpiresAt:    code.ExpiresAt,
			Instructions: "Confirm this code in the daemon's approval prompt, then send it back with step=confirm.",
		})

	case "confirm":
		if req.Code == "" {
			return errors.WithStack(Errorf(http.StatusUnprocessableEntity, "internal_error", "pairing code is required"))
		}
		if err := s.pairing.Confirm(origin, req.Code); err != nil {
			return errors.WithStack(Errorf(http.StatusUnprocessableEntity, "internal_error", "invalid or expired pairing code"))
		}
		plaintext, expiresAt, err := s.tokens.Issue(origin, s.conf.Get().Pairing.TokenTTLDays)
		if err != nil {
			return errors.WithStack(err)
		}
		return writeJSON(w, http.StatusOK, pairConfirmResponse{
			AccessToken: plaintext,
			TokenType:   "Bearer",
			ExpiresAt:   expiresAt,
		})

	default:
		return errors.WithStack(Errorf(http.StatusBadRequest, "internal_error", "unknown pairing step %q", req.Step))
	}
}

type diagnosticsResponse struct {
	Version       string          `json:"version"`
	StartedAt     time.Time       `json:"startedAt"`
	UptimeSeconds float64         `json:"uptimeSeconds"`
	Workspace     workspaceStatus `json:"workspace"`
	Origins       []string        `json:"originAllowlist"`
	RecentJobs    []jobs.Snapshot `json:"recentJobs"`
}

// diagnostics reports daemon health for the paired UI. Recent jobs come
// from the persistent history when available, so restarts do not blank the
// view.
func (s *Server) diagnostics(w http.ResponseWriter, r *http.Request) error {
	conf := s.conf.Get()
	recent := s.jobs.History()
	if s.history != nil {
		if persisted, err := s.history.Recent(20); err == nil {
			recent = persisted
		}
	}
	if len(recent) > 20 {
		recent = recent[:20]
	}
	return writeJSON(w, http.StatusOK, diagnosticsResponse{
		Version:       s.version,
		StartedAt:     s.startedAt,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Workspace: workspaceStatus{
			Configured: conf.WorkspaceRoot != "",
			Root:       conf.WorkspaceRoot,
		},
		Origins:    conf.OriginAllowlist,
		RecentJobs: recent,
	})
}
