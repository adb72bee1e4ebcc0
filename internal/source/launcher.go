package source

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/DimaMzk/AnotherGlass/internal/config"
)

// Environment handed to helpers so they can dial back as a source.
const (
	EnvWSURL = "ANOTHERGLASS_WS_URL"
	EnvToken = "ANOTHERGLASS_TOKEN"
)

const setupTimeout = 5 * time.Minute

type InstanceStatus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Path      string    `json:"path"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// Launcher runs the configured host listener helpers as child processes.
type Launcher struct {
	wsURL string
	token string

	mu    sync.Mutex
	procs map[string]*proc
}

type proc struct {
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	startedAt time.Time
}

func NewLauncher(wsURL, token string) *Launcher {
	return &Launcher{
		wsURL: wsURL,
		token: token,
		procs: make(map[string]*proc),
	}
}

// StartAll starts every enabled instance and returns how many are running.
func (l *Launcher) StartAll(ctx context.Context, instances []config.SourceInstanceConfig) int {
	n := 0
	for _, inst := range instances {
		if l.Start(ctx, inst) {
			n++
		}
	}
	return n
}

// Start runs the setup commands of inst and then its listener. A running
// process with the same id is replaced.
func (l *Launcher) Start(ctx context.Context, inst config.SourceInstanceConfig) bool {
	if !inst.Enabled {
		return false
	}
	m, err := LoadManifest(inst.Path)
	if err != nil {
		slog.Warn("source manifest load failed", "id", inst.ID, "dir", inst.Path, "error", err)
		return false
	}
	if m.ID != inst.ID {
		slog.Warn("source not started: config id must equal manifest id", "config_id", inst.ID, "manifest_id", m.ID)
		return false
	}
	if len(m.Commands) == 0 || len(m.Commands[len(m.Commands)-1]) == 0 {
		slog.Warn("source has no listener command", "id", inst.ID)
		return false
	}

	workDir := filepath.Join(inst.Path, m.Cwd)
	env := l.environ(m, workDir, inst.Env)
	setup, run := m.Commands[:len(m.Commands)-1], m.Commands[len(m.Commands)-1]

	for i, argv := range setup {
		if len(argv) == 0 {
			continue
		}
		if err := runSetup(ctx, workDir, env, argv); err != nil {
			slog.Warn("source setup failed", "id", inst.ID, "step", i+1, "argv", argv, "error", err)
			return false
		}
		slog.Info("source setup done", "id", inst.ID, "step", i+1)
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := command(procCtx, workDir, env, run)

	l.Stop(inst.ID)
	if err := cmd.Start(); err != nil {
		slog.Warn("source start failed", "id", inst.ID, "error", err)
		cancel()
		return false
	}

	l.mu.Lock()
	l.procs[inst.ID] = &proc{cmd: cmd, cancel: cancel, startedAt: time.Now()}
	l.mu.Unlock()
	slog.Info("source started", "id", inst.ID, "pid", cmd.Process.Pid)

	go func() {
		err := cmd.Wait()
		l.mu.Lock()
		if p, ok := l.procs[inst.ID]; ok && p.cmd == cmd {
			delete(l.procs, inst.ID)
		}
		l.mu.Unlock()
		slog.Info("source exited", "id", inst.ID, "error", err)
	}()
	return true
}

// Stop kills the process for id, if any.
func (l *Launcher) Stop(id string) {
	l.mu.Lock()
	p, ok := l.procs[id]
	delete(l.procs, id)
	l.mu.Unlock()
	if ok {
		p.cancel()
	}
}

func (l *Launcher) StopAll() {
	l.mu.Lock()
	ids := make([]string, 0, len(l.procs))
	for id := range l.procs {
		ids = append(ids, id)
	}
	l.mu.Unlock()
	for _, id := range ids {
		l.Stop(id)
	}
}

// List reports every configured instance with its process state.
func (l *Launcher) List(instances []config.SourceInstanceConfig) []InstanceStatus {
	l.mu.Lock()
	procs := make(map[string]*proc, len(l.procs))
	for k, v := range l.procs {
		procs[k] = v
	}
	l.mu.Unlock()

	out := make([]InstanceStatus, 0, len(instances))
	for _, inst := range instances {
		s := InstanceStatus{ID: inst.ID, Name: inst.ID, Enabled: inst.Enabled, Path: inst.Path}
		if p, ok := procs[inst.ID]; ok && p.cmd.Process != nil {
			s.Running = true
			s.PID = p.cmd.Process.Pid
			s.StartedAt = p.startedAt
		}
		if m, err := LoadManifest(inst.Path); err == nil && m.Name != "" {
			s.Name = m.Name
		}
		out = append(out, s)
	}
	return out
}

func (l *Launcher) environ(m *Manifest, workDir string, extra map[string]string) []string {
	env := os.Environ()
	env = setEnv(env, EnvWSURL, l.wsURL)
	env = setEnv(env, EnvToken, l.token)
	for k, v := range extra {
		env = setEnv(env, k, v)
	}
	if m.EnvFile != "" {
		if data, err := os.ReadFile(filepath.Join(workDir, m.EnvFile)); err == nil {
			env = parseEnvFile(data, env)
		}
	}
	return env
}

func runSetup(ctx context.Context, workDir string, env, argv []string) error {
	ctx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()
	return command(ctx, workDir, env, argv).Run()
}

func command(ctx context.Context, workDir string, env, argv []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}

func parseEnvFile(data []byte, base []string) []string {
	env := append([]string(nil), base...)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		env = setEnv(env, key, strings.TrimSpace(val))
	}
	return env
}
