// Package pkgmgr selects a JavaScript package manager for a repository and
// builds the exact install invocation the daemon runs.
package pkgmgr

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/alecthomas/errors"
)

type Manager string

const (
	Auto Manager = "auto"
	NPM  Manager = "npm"
	PNPM Manager = "pnpm"
	Yarn Manager = "yarn"
)

type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeCI      Mode = "ci"
	ModeInstall Mode = "install"
)

// Command is a fully resolved install invocation.
type Command struct {
	Name string
	Args []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// lookPath is swapped in tests to control which tools appear installed.
var lookPath = exec.LookPath

func toolInstalled(name string) bool {
	_, err := lookPath(name)
	return err == nil
}

// Detect picks a manager for dir: the package.json packageManager field
// wins when that tool is installed, then lockfiles in pnpm, yarn, npm
// order, then npm as the fallback.
func Detect(dir string) Manager {
	if manager, ok := fromPackageManagerField(dir); ok && toolInstalled(string(manager)) {
		return manager
	}
	switch {
	case fileExists(filepath.Join(dir, "pnpm-lock.yaml")):
		return PNPM
	case fileExists(filepath.Join(dir, "yarn.lock")):
		return Yarn
	case fileExists(filepath.Join(dir, "package-lock.json")):
		return NPM
	}
	return NPM
}

// Build resolves the install command for dir per manager and mode. The
// safer flag appends --ignore-scripts across all managers.
func Build(dir string, manager Manager, mode Mode, safer bool) (Command, error) {
	if manager == "" || manager == Auto {
		manager = Detect(dir)
	}
	if mode == "" {
		mode = ModeAuto
	}

	switch manager {
	case NPM:
		hasLock := fileExists(filepath.Join(dir, "package-lock.json"))
		sub := "install"
		if hasLock && mode != ModeInstall {
			sub = "ci"
		}
		cmd := Command{Name: "npm", Args: []string{sub}}
		if safer {
			cmd.Args = append(cmd.Args, "--ignore-scripts")
		}
		return cmd, nil

	case PNPM:
		cmd := Command{Name: "pnpm", Args: []string{"install"}}
		hasLock := fileExists(filepath.Join(dir, "pnpm-lock.yaml"))
		if mode == ModeCI || (mode == ModeAuto && hasLock) {
			cmd.Args = append(cmd.Args, "--frozen-lockfile")
		}
		if safer {
			cmd.Args = append(cmd.Args, "--ignore-scripts")
		}
		return cmd, nil

	case Yarn:
		cmd := Command{Name: "yarn", Args: []string{"install"}}
		hasLock := fileExists(filepath.Join(dir, "yarn.lock"))
		berry := fileExists(filepath.Join(dir, ".yarnrc.yml"))
		if mode == ModeCI || (mode == ModeAuto && hasLock) || berry {
			cmd.Args = append(cmd.Args, "--immutable")
		}
		if safer {
			cmd.Args = append(cmd.Args, "--ignore-scripts")
		}
		return cmd, nil

	default:
		return Command{}, errors.Errorf("unsupported package manager %q", manager)
	}
}

// fromPackageManagerField reads the Corepack-style "packageManager" field,
// e.g. "pnpm@9.1.0".
func fromPackageManagerField(dir string) (Manager, bool) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return "", false
	}
	var pkg struct {
		PackageManager string `json:"packageManager"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil || pkg.PackageManager == "" {
		return "", false
	}
	name, _, _ := strings.Cut(pkg.PackageManager, "@")
	switch Manager(name) {
	case NPM, PNPM, Yarn:
		return Manager(name), true
	}
	return "", false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
