// Package execrun spawns whitelisted child processes and streams their
// output line by line into a job's event ring. Cancellation signals the
// whole process tree: package managers fork children that must die with
// the parent.
package execrun

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"

	"github.com/alecthomas/errors"
)

// Sink receives the child's output and the cancel handle. *jobs.Handle
// satisfies it.
type Sink interface {
	Stdout(line string)
	Stderr(line string)
	SetCancel(fn func())
}

type Options struct {
	// Dir is the child's working directory.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
}

// Run executes name with args, forwarding complete \r?\n-terminated lines
// to the sink and flushing any trailing partial line on stream end. The
// registered cancel handle terminates the process group. A non-zero exit
// is an error.
func Run(ctx context.Context, sink Sink, name string, args []string, opts Options) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), opts.Env...)
	}
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, "stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "start %s", name)
	}

	sink.SetCancel(func() { terminateTree(cmd) })
	stop := context.AfterFunc(ctx, func() { terminateTree(cmd) })
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		forwardLines(stdout, sink.Stdout)
	}()
	go func() {
		defer wg.Done()
		forwardLines(stderr, sink.Stderr)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return errors.Wrapf(err, "%s", name)
	}
	return nil
}

// forwardLines splits on \r?\n. bufio.ScanLines strips the optional
// trailing \r and delivers a final unterminated line, which covers the
// partial-line flush.
func forwardLines(r io.Reader, emit func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		emit(scanner.Text())
	}
}
