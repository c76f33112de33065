package osopen //nolint:testpackage // command construction is unexported

import (
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/alecthomas/errors"
)

func TestCommandPerPlatform(t *testing.T) {
	tests := []struct {
		goos     string
		target   Target
		wantName string
		wantArgs []string
	}{
		{"linux", TargetFolder, "xdg-open", []string{"/w/repo"}},
		{"darwin", TargetFolder, "open", []string{"/w/repo"}},
		{"windows", TargetFolder, "explorer", []string{"/w/repo"}},
		{"linux", TargetTerminal, "x-terminal-emulator", []string{"--working-directory=/w/repo"}},
		{"darwin", TargetTerminal, "open", []string{"-a", "Terminal", "/w/repo"}},
		{"linux", TargetVSCode, "code", []string{"/w/repo"}},
		{"darwin", TargetVSCode, "code", []string{"/w/repo"}},
	}
	for _, tt := range tests {
		name, args, err := command(tt.goos, tt.target, "/w/repo")
		assert.NoError(t, err)
		assert.Equal(t, tt.wantName, name)
		assert.Equal(t, tt.wantArgs, args)
	}
}

func TestCommandUnknownTarget(t *testing.T) {
	_, _, err := command("linux", Target("browser"), "/w/repo")
	assert.True(t, errors.Is(err, ErrUnknownTarget))
}
