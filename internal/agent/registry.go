package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"meetingd/internal/config"
	"meetingd/internal/jsonrpc"
	"meetingd/internal/logs"
)

const (
	handshakeTimeout = 10 * time.Second
	smokeTimeout     = 10 * time.Second
)

// ErrAgentNotRunning is returned by CallTool when the named agent has no
// live client, either because it was never started or because it died and
// was reaped.
var ErrAgentNotRunning = errors.New("agent is not running")

// MetricsRecorder receives registry-level measurements. Nil-safe by
// omission: the registry only calls it when one is attached.
type MetricsRecorder interface {
	RecordToolCall(agent, tool, status string, duration time.Duration)
	SetAgentsRunning(n int)
}

// Status describes one agent's runtime state.
type Status struct {
	Running       bool       `json:"running"`
	Status        string     `json:"status"`
	PID           int        `json:"pid,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	UptimeSeconds float64    `json:"uptime_seconds,omitempty"`
}

type entry struct {
	proc   *Process
	client *Client
}

// Registry owns the named supervisor/correlator pairs and is the single
// call surface the HTTP layer uses. The entry map is mutated only under the
// registry mutex; tool calls hold it just long enough to look up the client.
type Registry struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics MetricsRecorder

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry for the configured agents.
func NewRegistry(cfg *config.Config, logger *zap.Logger) *Registry {
	return &Registry{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// SetMetrics attaches a metrics recorder. Call before starting agents.
func (r *Registry) SetMetrics(m MetricsRecorder) { r.metrics = m }

// AgentNames returns the configured agent names in declaration order.
func (r *Registry) AgentNames() []string {
	names := make([]string, 0, len(r.cfg.Agents))
	for _, a := range r.cfg.Agents {
		names = append(names, a.Name)
	}
	return names
}

// StartAgent spawns and connects the named agent. Starting an agent that is
// already running is a successful no-op. The registry lock is held for the
// whole start, including the settle interval; starts are rare and callers
// must not observe a half-started entry.
func (r *Registry) StartAgent(name string) error {
	spec := r.cfg.Agent(name)
	if spec == nil {
		return fmt.Errorf("unknown agent: %s", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[name]; ok {
		if e.proc.Alive() {
			r.logger.Warn("Agent already running", zap.String("agent", name))
			return nil
		}
		// Dead leftover; reap and start fresh.
		r.removeLocked(name, e)
	}

	proc, err := spawn(name, spec.Command, spec.Args, spec.Env, r.cfg.BaseDir, r.logger)
	if err != nil {
		r.logger.Error("Failed to start agent", zap.String("agent", name), zap.Error(err))
		return fmt.Errorf("start agent %s: %w", name, err)
	}

	// Fixed settle interval: the protocol has no readiness signal, so give
	// the child time to finish its own startup before talking to it.
	time.Sleep(r.cfg.SettleInterval())

	if !proc.Alive() {
		out, tail := proc.drainOutput()
		r.logger.Error("Agent exited during startup",
			zap.String("agent", name),
			zap.String("stdout", out),
			zap.Strings("stderr", tail))
		return fmt.Errorf("start agent %s: process exited during startup", name)
	}

	agentLogger, err := logs.CreateAgentLogger(r.cfg.Logging, name)
	if err != nil {
		r.logger.Warn("Falling back to main logger for agent traffic",
			zap.String("agent", name), zap.Error(err))
		agentLogger = r.logger.With(zap.String("agent", name))
	}

	client := NewClient(name, proc.Stdin(), proc.Stdout(), agentLogger)
	client.Handshake(handshakeTimeout)

	if spec.SmokeTool != "" {
		if _, err := client.CallTool(spec.SmokeTool, spec.SmokeArgs, smokeTimeout); err != nil {
			r.logger.Warn("Agent smoke test failed",
				zap.String("agent", name),
				zap.String("tool", spec.SmokeTool),
				zap.Error(err))
		} else {
			r.logger.Info("Agent smoke test passed",
				zap.String("agent", name),
				zap.String("tool", spec.SmokeTool))
		}
	}

	r.entries[name] = &entry{proc: proc, client: client}
	r.logger.Info("Agent running", zap.String("agent", name), zap.Int("pid", proc.PID()))
	r.recordRunningLocked()
	return nil
}

// StartAll starts every configured agent, reporting per-agent outcomes.
func (r *Registry) StartAll() map[string]error {
	results := make(map[string]error, len(r.cfg.Agents))
	for _, a := range r.cfg.Agents {
		results[a.Name] = r.StartAgent(a.Name)
	}
	return results
}

// StopAgent stops the named agent. Stopping an untracked agent is a
// successful no-op.
func (r *Registry) StopAgent(name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
		r.recordRunningLocked()
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("Stop requested for untracked agent", zap.String("agent", name))
		return nil
	}

	r.logger.Info("Stopping agent", zap.String("agent", name))
	e.client.Close()
	e.proc.Stop(r.cfg.ShutdownGracePeriod())
	r.logger.Info("Stopped agent", zap.String("agent", name))
	return nil
}

// StopAll stops every tracked agent, continuing through failures.
func (r *Registry) StopAll() {
	r.mu.Lock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.Unlock()

	for _, name := range names {
		_ = r.StopAgent(name)
	}
	r.logger.Info("All agents stopped")
}

// Status reports the named agent's state, reaping a dead entry when it
// discovers one.
func (r *Registry) Status(name string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return Status{Running: false, Status: "stopped"}
	}
	if !e.proc.Alive() {
		r.removeLocked(name, e)
		return Status{Running: false, Status: "stopped"}
	}

	startedAt := e.proc.StartedAt()
	return Status{
		Running:       true,
		Status:        "running",
		PID:           e.proc.PID(),
		StartedAt:     &startedAt,
		UptimeSeconds: e.proc.Uptime().Seconds(),
	}
}

// StatusAll reports every configured agent's state.
func (r *Registry) StatusAll() map[string]Status {
	statuses := make(map[string]Status, len(r.cfg.Agents))
	for _, a := range r.cfg.Agents {
		statuses[a.Name] = r.Status(a.Name)
	}
	return statuses
}

// CallTool invokes a tool on the named agent. Arguments of any shape are
// normalized to an object; the timeout tier is chosen by tool name. Remote
// errors come back as *jsonrpc.Error values.
func (r *Registry) CallTool(server, tool string, args any) (json.RawMessage, error) {
	r.mu.Lock()
	e, ok := r.entries[server]
	if ok && !e.proc.Alive() {
		r.removeLocked(server, e)
		ok = false
	}
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotRunning, server)
	}

	arguments := jsonrpc.NormalizeArguments(args)
	timeout := r.cfg.TimeoutForTool(tool)

	start := time.Now()
	result, err := e.client.CallTool(tool, arguments, timeout)
	if r.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
			if errors.Is(err, ErrTimeout) {
				status = "timeout"
			}
		}
		r.metrics.RecordToolCall(server, tool, status, time.Since(start))
	}
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", tool, server, err)
	}
	return result, nil
}

// removeLocked reaps a dead entry. Caller holds r.mu.
func (r *Registry) removeLocked(name string, e *entry) {
	e.client.Close()
	delete(r.entries, name)
	r.logger.Info("Reaped dead agent entry", zap.String("agent", name))
	r.recordRunningLocked()
}

func (r *Registry) recordRunningLocked() {
	if r.metrics != nil {
		r.metrics.SetAgentsRunning(len(r.entries))
	}
}
