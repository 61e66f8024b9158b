package agent

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const stderrTailLines = 200

// Process owns one agent child: the OS process handle, its three stdio
// pipes, and the goroutines watching exit status and stderr. Exactly one
// supervisor (the registry entry) holds each Process.
type Process struct {
	name      string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	stderr    io.ReadCloser
	startedAt time.Time
	logger    *zap.Logger

	done    chan struct{} // closed by the wait goroutine on exit
	waitErr error

	tailMu     sync.Mutex
	stderrTail []string
}

// spawn starts the configured command with piped stdio and the agent
// environment: the parent's variables plus an unbuffered-output hint and a
// module path derived from baseDir, so Python children flush every line and
// can import their own packages.
func spawn(name, command string, args []string, extraEnv map[string]string, baseDir string, logger *zap.Logger) (*Process, error) {
	if _, err := exec.LookPath(command); err != nil {
		return nil, fmt.Errorf("command not found: %s: %w", command, err)
	}

	resolvedArgs := make([]string, len(args))
	copy(resolvedArgs, args)
	if len(resolvedArgs) > 0 && looksLikeScript(resolvedArgs[0]) {
		resolved, err := resolveScript(baseDir, resolvedArgs[0])
		if err != nil {
			return nil, err
		}
		resolvedArgs[0] = resolved
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		absBase = baseDir
	}

	env := os.Environ()
	env = append(env, "PYTHONUNBUFFERED=1", "PYTHONPATH="+absBase)
	for k, v := range extraEnv {
		env = append(env, k+"="+v)
	}

	cmd := exec.Command(command, resolvedArgs...)
	cmd.Dir = absBase
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	p := &Process{
		name:      name,
		cmd:       cmd,
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		startedAt: time.Now(),
		logger:    logger,
		done:      make(chan struct{}),
	}

	go p.watch()
	go p.readStderr()

	logger.Info("Started agent process",
		zap.String("agent", name),
		zap.String("command", command),
		zap.Strings("args", resolvedArgs),
		zap.Int("pid", cmd.Process.Pid))

	return p, nil
}

func looksLikeScript(arg string) bool {
	if strings.HasPrefix(arg, "-") {
		return false
	}
	return strings.ContainsRune(arg, os.PathSeparator) ||
		strings.HasSuffix(arg, ".py") || strings.HasSuffix(arg, ".sh") || strings.HasSuffix(arg, ".js")
}

func resolveScript(baseDir, script string) (string, error) {
	resolved := script
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(baseDir, resolved)
	}
	if _, err := os.Stat(resolved); err != nil {
		return "", fmt.Errorf("agent script not found: %s: %w", resolved, err)
	}
	return resolved, nil
}

// watch reaps the child and records its exit.
func (p *Process) watch() {
	p.waitErr = p.cmd.Wait()
	close(p.done)
	p.logger.Info("Agent process exited",
		zap.String("agent", p.name),
		zap.Error(p.waitErr))
}

// readStderr keeps a bounded tail of the child's stderr for diagnostics.
func (p *Process) readStderr() {
	buf := make([]byte, 4096)
	var pending string
	for {
		n, err := p.stderr.Read(buf)
		if n > 0 {
			pending += string(buf[:n])
			for {
				idx := strings.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}
				line := strings.TrimRight(pending[:idx], "\r")
				pending = pending[idx+1:]
				if line == "" {
					continue
				}
				p.appendStderr(line)
				p.logger.Debug("agent stderr", zap.String("agent", p.name), zap.String("line", line))
			}
		}
		if err != nil {
			if pending != "" {
				p.appendStderr(pending)
			}
			return
		}
	}
}

func (p *Process) appendStderr(line string) {
	p.tailMu.Lock()
	p.stderrTail = append(p.stderrTail, line)
	if len(p.stderrTail) > stderrTailLines {
		p.stderrTail = p.stderrTail[len(p.stderrTail)-stderrTailLines:]
	}
	p.tailMu.Unlock()
}

// StderrTail returns the retained tail of the child's stderr.
func (p *Process) StderrTail() []string {
	p.tailMu.Lock()
	defer p.tailMu.Unlock()
	out := make([]string, len(p.stderrTail))
	copy(out, p.stderrTail)
	return out
}

// Stdin is the single-writer request stream owned by the correlator.
func (p *Process) Stdin() io.Writer { return p.stdin }

// Stdout is the single-reader response stream owned by the correlator.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Alive reports whether the child is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// PID returns the child's process id.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// StartedAt returns the spawn time.
func (p *Process) StartedAt() time.Time { return p.startedAt }

// Uptime returns how long the child has been running.
func (p *Process) Uptime() time.Duration { return time.Since(p.startedAt) }

// Stop terminates the child: close stdin, SIGTERM, bounded wait, then
// SIGKILL. OS errors along the way are logged, never propagated; after Stop
// returns the process is gone.
func (p *Process) Stop(grace time.Duration) {
	_ = p.stdin.Close()

	if !p.Alive() {
		return
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.logger.Warn("Failed to send SIGTERM", zap.String("agent", p.name), zap.Error(err))
	}

	select {
	case <-p.done:
		return
	case <-time.After(grace):
	}

	p.logger.Warn("Agent did not exit after SIGTERM, killing",
		zap.String("agent", p.name),
		zap.Duration("grace", grace))
	if err := p.cmd.Process.Kill(); err != nil {
		p.logger.Error("Failed to kill agent process", zap.String("agent", p.name), zap.Error(err))
	}
	<-p.done
}

// drainOutput slurps whatever the dead child left on stdout and pairs it
// with the stderr tail, for startup failure diagnostics. Only safe before a
// client owns the stdout stream.
func (p *Process) drainOutput() (string, []string) {
	out, _ := io.ReadAll(io.LimitReader(p.stdout, 64*1024))
	return strings.TrimSpace(string(out)), p.StderrTail()
}
