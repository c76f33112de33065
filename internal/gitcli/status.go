package gitcli

import (
	"bufio"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/alecthomas/errors"
)

// Status summarises `git status --porcelain=2 -b` for a repository.
type Status struct {
	Branch         string `json:"branch"`
	Ahead          int    `json:"ahead"`
	Behind         int    `json:"behind"`
	StagedCount    int    `json:"stagedCount"`
	UnstagedCount  int    `json:"unstagedCount"`
	UntrackedCount int    `json:"untrackedCount"`
	ConflictsCount int    `json:"conflictsCount"`
	Clean          bool   `json:"clean"`
}

// ReadStatus runs the status command synchronously. This is the only git
// invocation awaited inside a request handler.
func ReadStatus(ctx context.Context, repoPath string) (Status, error) {
	cmd := exec.CommandContext(ctx, "git", StatusArgs(repoPath)...)
	cmd.Env = append(cmd.Environ(), Env()...)
	output, err := cmd.Output()
	if err != nil {
		return Status{}, errors.Wrapf(err, "git status in %s", repoPath)
	}
	return ParseStatus(string(output)), nil
}

// ParseStatus scans porcelain v2 output.
//
// Header lines carry the branch name and ahead/behind counts. Entry lines
// start with "1" (ordinary change), "2" (rename or copy), "u" (unmerged)
// or "?" (untracked); for "1" and "2" the second field is the two-letter
// XY pair where a non-dot X is a staged change and a non-dot Y an
// unstaged one.
func ParseStatus(output string) Status {
	var status Status
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "# branch.head "):
			status.Branch = strings.TrimPrefix(line, "# branch.head ")
		case strings.HasPrefix(line, "# branch.ab "):
			for _, field := range strings.Fields(strings.TrimPrefix(line, "# branch.ab ")) {
				if n, err := strconv.Atoi(strings.TrimPrefix(field, "+")); err == nil && strings.HasPrefix(field, "+") {
					status.Ahead = n
				} else if n, err := strconv.Atoi(strings.TrimPrefix(field, "-")); err == nil && strings.HasPrefix(field, "-") {
					status.Behind = n
				}
			}
		case strings.HasPrefix(line, "?"):
			status.UntrackedCount++
		case strings.HasPrefix(line, "u "):
			status.ConflictsCount++
		case strings.HasPrefix(line, "1 "), strings.HasPrefix(line, "2 "):
			fields := strings.Fields(line)
			if len(fields) < 2 || len(fields[1]) < 2 {
				continue
			}
			if fields[1][0] != '.' {
				status.StagedCount++
			}
			if fields[1][1] != '.' {
				status.UnstagedCount++
			}
		}
	}
	status.Clean = status.StagedCount == 0 && status.UnstagedCount == 0 &&
		status.UntrackedCount == 0 && status.ConflictsCount == 0
	return status
}
