package redjob

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/pkg/errors"
)

// childFlag, when present as os.Args[1], tells main to run as a job child
// instead of a worker. Go has no fork() that keeps a single
// goroutine-scheduled runtime sane afterward, so per-job isolation is
// bought by spawning a second copy of the same binary and talking to it
// over a pipe instead of sharing an address space.
const childFlag = "-redjob-child"

// childRequest is the job handed to a child process on stdin.
type childRequest struct {
	ClassName string `json:"class_name"`
	Args      Args   `json:"args"`
	Queue     string `json:"queue"`
	JobID     string `json:"job_id"`
	Prefix    string `json:"prefix"`
}

// childResult is the reply a child writes to stdout before exiting, empty on
// success and carrying the failure otherwise. A nonzero exit with no well-formed childResult on stdout is reported to
// the parent as a DirtyExitError.
type childResult struct {
	FailedClass string `json:"failed_class,omitempty"`
	FailedMsg   string `json:"failed_message,omitempty"`
	Stack       []Frame `json:"stack,omitempty"`
}

// IsChildInvocation reports whether the current process was re-exec'd to
// perform a single job, so main() can branch before building a Worker.
func IsChildInvocation() bool {
	return len(os.Args) > 1 && os.Args[1] == childFlag
}

// RunChild reads a childRequest from stdin, performs it through ctx's
// Factory, and writes a childResult to stdout. It is meant to be the entire
// body of main() when IsChildInvocation() is true, and never returns
// normally: it calls os.Exit with 0 on success, 1 on a job failure
// (including an unregistered class), or 2 on a malformed request.
func RunChild(ctx *Context) {
	req, err := decodeChildRequest(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "redjob: child: malformed request:", err)
		os.Exit(2)
	}

	env := NewEnvelope(req.ClassName, req.Args, req.JobID, req.Prefix)
	jobCtx := newJobContext(ctx, env)

	if failErr := performInChild(ctx, jobCtx, req.Queue); failErr != nil {
		res := childResult{FailedClass: req.ClassName, FailedMsg: failErr.Error()}
		if he, ok := failErr.(*HandlerError); ok {
			res.Stack = he.Stack
		}
		_ = json.NewEncoder(os.Stdout).Encode(&res)
		os.Exit(1)
	}

	_ = json.NewEncoder(os.Stdout).Encode(&childResult{})
	os.Exit(0)
}

func performInChild(ctx *Context, jobCtx *JobContext, queue string) (failErr error) {
	handler, err := ctx.Factory.Create(jobCtx.Job.Class, jobCtx.Args, queue, jobCtx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			failErr = &HandlerError{
				ClassName: jobCtx.Job.Class,
				Err:       errors.Errorf("panic: %v", r),
				Stack:     captureStack(1),
			}
		}
	}()

	if su, ok := handler.(Setuper); ok {
		if err := su.SetUp(); err != nil {
			return &HandlerError{ClassName: jobCtx.Job.Class, Err: err}
		}
	}

	performErr := handler.Perform()

	if td, ok := handler.(Teardowner); ok {
		if err := td.TearDown(); err != nil && performErr == nil {
			performErr = err
		}
	}

	if performErr != nil {
		return &HandlerError{ClassName: jobCtx.Job.Class, Err: performErr, Stack: captureStack(1)}
	}
	return nil
}

// childRunner spawns a single re-exec'd child to perform one job, isolating
// the worker process from a handler crash or runaway goroutine. It is
// this package's only entry point into os/exec.
type childRunner struct {
	exePath string

	mu  sync.Mutex
	cmd *exec.Cmd
}

func newChildRunner() (*childRunner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, "redjob: resolve own executable path")
	}
	return &childRunner{exePath: exe}, nil
}

// perform starts a child to run env on queue and blocks until it exits,
// translating its exit status and stdout into a single error value (nil on
// success). If onStart is non-nil, it is called with the child's pid once
// the process has started, before perform waits on it, so the caller can
// record job:<id>:pid for orphan detection.
func (r *childRunner) perform(env *Envelope, queue string, onStart func(pid int)) error {
	req := childRequest{
		ClassName: env.Class,
		Args:      env.argsValue(),
		Queue:     queue,
		JobID:     env.ID,
		Prefix:    env.Prefix,
	}
	payload, err := json.Marshal(&req)
	if err != nil {
		return errors.Wrap(err, "redjob: marshal child request")
	}

	cmd := exec.Command(r.exePath, childFlag)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "redjob: start child process")
	}

	r.mu.Lock()
	r.cmd = cmd
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cmd = nil
		r.mu.Unlock()
	}()

	if onStart != nil {
		onStart(cmd.Process.Pid)
	}
	runErr := cmd.Wait()

	var res childResult
	if decodeErr := json.Unmarshal(stdout.Bytes(), &res); decodeErr != nil {
		return &DirtyExitError{ExitCode: exitCodeOf(cmd, runErr)}
	}

	if res.FailedClass == "" && res.FailedMsg == "" {
		if runErr != nil {
			return &DirtyExitError{ExitCode: exitCodeOf(cmd, runErr)}
		}
		return nil
	}

	return &HandlerError{
		ClassName: res.FailedClass,
		Err:       errors.New(res.FailedMsg),
		Stack:     res.Stack,
	}
}

// kill force-terminates the currently running child, if any, and reports
// whether one was killed. Used to implement an immediate dirty-exit abort
// of an in-flight job on SIGUSR1.
func (r *childRunner) kill() bool {
	r.mu.Lock()
	cmd := r.cmd
	r.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return false
	}
	return cmd.Process.Kill() == nil
}

func exitCodeOf(cmd *exec.Cmd, runErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if runErr != nil {
		return -1
	}
	return 0
}

func decodeChildRequest(r io.Reader) (*childRequest, error) {
	var req childRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}
