//go:build windows

package approval

const terminalDevice = "CONIN$"
