package gitcli

import (
	"regexp"
	"strconv"
)

// Git reports transfer progress on stderr as "<phase>: <pct>% (<a>/<b>)",
// possibly prefixed with "remote: " when the server side counts objects.
var progressPattern = regexp.MustCompile(`([A-Za-z][A-Za-z -]*[A-Za-z]):\s+(\d{1,3})%`)

// ParseProgress extracts the phase and percentage from a progress line.
// Non-progress output returns ok=false.
func ParseProgress(line string) (phase string, percent float64, ok bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return "", 0, false
	}
	pct, err := strconv.Atoi(m[2])
	if err != nil || pct > 100 {
		return "", 0, false
	}
	return m[1], float64(pct), true
}
