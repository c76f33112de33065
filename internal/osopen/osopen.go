// Package osopen launches the platform file browser, terminal or editor on
// a workspace path. These are fire-and-forget collaborators: the daemon
// only validates the target and starts the opener.
package osopen

import (
	"context"
	"os/exec"
	"runtime"

	"github.com/alecthomas/errors"

	"github.com/block/gitbridge/internal/logging"
)

type Target string

const (
	TargetFolder   Target = "folder"
	TargetTerminal Target = "terminal"
	TargetVSCode   Target = "vscode"
)

var ErrUnknownTarget = errors.New("unknown open target")

// Open starts the opener for target on path. The opener is detached from
// the daemon's lifetime; failures to start are reported, failures after
// start are not observable.
func Open(ctx context.Context, target Target, path string) error {
	name, args, err := command(runtime.GOOS, target, path)
	if err != nil {
		return errors.WithStack(err)
	}
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "start %s", name)
	}
	logging.FromContext(ctx).InfoContext(ctx, "Opened path",
		"target", string(target), "path", path, "opener", name)
	go func() { _ = cmd.Wait() }()
	return nil
}

func command(goos string, target Target, path string) (string, []string, error) {
	switch target {
	case TargetFolder:
		switch goos {
		case "darwin":
			return "open", []string{path}, nil
		case "windows":
			return "explorer", []string{path}, nil
		default:
			return "xdg-open", []string{path}, nil
		}
	case TargetTerminal:
		switch goos {
		case "darwin":
			return "open", []string{"-a", "Terminal", path}, nil
		case "windows":
			return "cmd", []string{"/c", "start", "cmd", "/K", "cd", "/d", path}, nil
		default:
			return "x-terminal-emulator", []string{"--working-directory=" + path}, nil
		}
	case TargetVSCode:
		return "code", []string{path}, nil
	default:
		return "", nil, errors.Wrapf(ErrUnknownTarget, "%q", target)
	}
}
