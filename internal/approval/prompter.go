package approval

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/errors"
)

// TTYPrompter asks for confirmation on the controlling terminal. If stdin
// is not a terminal it opens the terminal device directly, so the daemon
// can still prompt when its stdio is redirected.
type TTYPrompter struct{}

func (TTYPrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	in, out, cleanup, err := openTerminal()
	if err != nil {
		return false, errors.Wrap(err, "no controlling terminal")
	}
	defer cleanup()

	if _, err := io.WriteString(out, prompt); err != nil {
		return false, errors.Wrap(err, "write prompt")
	}

	type answer struct {
		granted bool
		err     error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil {
			ch <- answer{err: errors.Wrap(err, "read answer")}
			return
		}
		reply := strings.ToLower(strings.TrimSpace(line))
		ch <- answer{granted: reply == "y" || reply == "yes"}
	}()

	select {
	case a := <-ch:
		return a.granted, a.err
	case <-ctx.Done():
		return false, errors.WithStack(ctx.Err())
	}
}

func openTerminal() (in io.Reader, out io.Writer, cleanup func(), err error) {
	if stat, err := os.Stdin.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
		return os.Stdin, os.Stderr, func() {}, nil
	}
	tty, err := os.OpenFile(terminalDevice, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, nil, errors.WithStack(err)
	}
	return tty, tty, func() { _ = tty.Close() }, nil
}
