package supervisor

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/logger"
)

// LaunchSpec is everything needed to start the daemon binary.
type LaunchSpec struct {
	Binary string
	Args   []string
	Env    []string // Appended to the supervisor's own environment
}

// Process is a daemon this supervisor spawned.
type Process interface {
	Pid() int
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err is the exit error, valid after Done is closed.
	Err() error
	Kill() error
}

// Launcher starts daemon processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// ExecLauncher spawns the daemon with os/exec and forwards its output to a logger.
type ExecLauncher struct {
	Log logger.Logger
}

func NewExecLauncher(log logger.Logger) *ExecLauncher {
	return &ExecLauncher{Log: log.With("component", "daemon")}
}

// Launch starts the process. The process outlives ctx; ctx only bounds the start.
func (l *ExecLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	l.Log.Info("Launching daemon", "binary", spec.Binary, "args", spec.Args)
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	var drained sync.WaitGroup
	drained.Add(2)
	go l.drain(&drained, stdout, "stdout")
	go l.drain(&drained, stderr, "stderr")
	go func() {
		// Wait closes the pipes, so all output must be read first.
		drained.Wait()
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (l *ExecLauncher) drain(wg *sync.WaitGroup, r io.Reader, stream string) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		l.Log.Info(sc.Text(), "stream", stream)
	}
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }
func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Kill immediately terminates the daemon with SIGKILL.
func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return p.cmd.Process.Kill()
}

// exited reports whether p has terminated.
func exited(p Process) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}

// Personal.AI order the ending
