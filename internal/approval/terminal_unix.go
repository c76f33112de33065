//go:build !windows

package approval

const terminalDevice = "/dev/tty"
