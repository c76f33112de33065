// Package config owns the daemon's persisted configuration: loading it at
// startup, validating it, and writing it back when approvals or the
// workspace root change.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/alecthomas/errors"

	"github.com/block/gitbridge/internal/logging"
)

// EnvConfigDir overrides the OS-specific configuration directory.
const EnvConfigDir = "GIT_DAEMON_CONFIG_DIR"

const fileName = "config.json"

type TLS struct {
	Port     int    `json:"port"`
	CertFile string `json:"certFile"`
	KeyFile  string `json:"keyFile"`
}

type Pairing struct {
	TokenTTLDays int `json:"tokenTtlDays"`
}

type Jobs struct {
	MaxConcurrent  int `json:"maxConcurrent"`
	TimeoutSeconds int `json:"timeoutSeconds"`
}

type Deps struct {
	DefaultSafer bool `json:"defaultSafer"`
}

// Approval grants an origin a set of capabilities, either for a single
// repository path or, when RepoPath is empty, for every path under the
// workspace root.
type Approval struct {
	Origin       string    `json:"origin"`
	RepoPath     string    `json:"repoPath,omitempty"`
	Capabilities []string  `json:"capabilities"`
	ApprovedAt   time.Time `json:"approvedAt"`
}

func (a Approval) Wildcard() bool { return a.RepoPath == "" || a.RepoPath == "*" }

func (a Approval) HasCapability(capability string) bool {
	return slices.Contains(a.Capabilities, capability)
}

type Config struct {
	ServerHost      string         `json:"serverHost"`
	ServerPort      int            `json:"serverPort"`
	TLS             *TLS           `json:"tls,omitempty"`
	OriginAllowlist []string       `json:"originAllowlist"`
	WorkspaceRoot   string         `json:"workspaceRoot,omitempty"`
	Pairing         Pairing        `json:"pairing"`
	Jobs            Jobs           `json:"jobs"`
	Deps            Deps           `json:"deps"`
	Approvals       []Approval     `json:"approvals,omitempty"`
	Logging         logging.Config `json:"log"`
}

func Default() Config {
	return Config{
		ServerHost:      "127.0.0.1",
		ServerPort:      8417,
		OriginAllowlist: []string{"http://localhost:5173"},
		Pairing:         Pairing{TokenTTLDays: 30},
		Jobs:            Jobs{MaxConcurrent: 1, TimeoutSeconds: 3600},
		Deps:            Deps{DefaultSafer: true},
	}
}

// Validate reports startup misconfiguration. Failures here are the only
// conditions under which the daemon exits non-zero.
func (c Config) Validate() error {
	if c.ServerHost != "127.0.0.1" && c.ServerHost != "localhost" {
		return errors.Errorf("serverHost must be a loopback literal, got %q", c.ServerHost)
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return errors.Errorf("serverPort %d out of range", c.ServerPort)
	}
	if len(c.OriginAllowlist) == 0 {
		return errors.New("originAllowlist must not be empty")
	}
	if c.Jobs.MaxConcurrent < 1 {
		return errors.Errorf("jobs.maxConcurrent must be >= 1, got %d", c.Jobs.MaxConcurrent)
	}
	if c.Jobs.TimeoutSeconds <= 0 {
		return errors.Errorf("jobs.timeoutSeconds must be > 0, got %d", c.Jobs.TimeoutSeconds)
	}
	if c.Pairing.TokenTTLDays <= 0 {
		return errors.Errorf("pairing.tokenTtlDays must be > 0, got %d", c.Pairing.TokenTTLDays)
	}
	if c.TLS != nil && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.New("tls requires both certFile and keyFile")
	}
	if c.WorkspaceRoot != "" && !filepath.IsAbs(c.WorkspaceRoot) {
		return errors.Errorf("workspaceRoot must be absolute, got %q", c.WorkspaceRoot)
	}
	return nil
}

func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.TimeoutSeconds) * time.Second
}

func (c Config) OriginAllowed(origin string) bool {
	return origin != "" && slices.Contains(c.OriginAllowlist, origin)
}

// Dir resolves the configuration directory, honouring GIT_DAEMON_CONFIG_DIR.
func Dir() (string, error) {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve user config dir")
	}
	return filepath.Join(base, "gitbridge"), nil
}

// Store holds the single in-memory config value. All mutation goes through
// Update, which persists before returning, so concurrent grant and token
// writes serialise here.
type Store struct {
	mu   sync.Mutex
	dir  string
	conf Config
}

// Open loads config.json from dir, initialising defaults when the file does
// not exist yet.
func Open(dir string) (*Store, error) {
	conf := Default()
	data, err := os.ReadFile(filepath.Join(dir, fileName))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, errors.Wrap(err, "read config")
	default:
		if err := json.Unmarshal(data, &conf); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}
	return &Store{dir: dir, conf: conf}, nil
}

func (s *Store) Dir() string { return s.dir }

// Get returns a copy of the current config.
func (s *Store) Get() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	conf := s.conf
	conf.OriginAllowlist = slices.Clone(conf.OriginAllowlist)
	conf.Approvals = slices.Clone(conf.Approvals)
	return conf
}

// Update applies fn to the config and persists the result. The previous
// value is kept on any error.
func (s *Store) Update(fn func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.conf
	next.OriginAllowlist = slices.Clone(next.OriginAllowlist)
	next.Approvals = slices.Clone(next.Approvals)
	if err := fn(&next); err != nil {
		return errors.WithStack(err)
	}
	if err := save(s.dir, next); err != nil {
		return errors.WithStack(err)
	}
	s.conf = next
	return nil
}

// Grant records a wildcard approval of capability for origin, creating or
// extending the origin's wildcard entry. Granting an already-held
// capability is a no-op, so concurrent grants are idempotent.
func (s *Store) Grant(origin, capability string, now time.Time) error {
	return errors.WithStack(s.Update(func(conf *Config) error {
		for i, entry := range conf.Approvals {
			if entry.Origin != origin || !entry.Wildcard() {
				continue
			}
			if !entry.HasCapability(capability) {
				entry.Capabilities = append(slices.Clone(entry.Capabilities), capability)
				entry.ApprovedAt = now
				conf.Approvals[i] = entry
			}
			return nil
		}
		conf.Approvals = append(conf.Approvals, Approval{
			Origin:       origin,
			Capabilities: []string{capability},
			ApprovedAt:   now,
		})
		return nil
	}))
}

func save(dir string, conf Config) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "create config dir")
	}
	data, err := json.MarshalIndent(conf, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	tmp := filepath.Join(dir, fileName+".tmp")
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return errors.Wrap(err, "write config")
	}
	return errors.Wrap(os.Rename(tmp, filepath.Join(dir, fileName)), "replace config")
}
