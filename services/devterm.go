package services

import (
	"log"
	"os"
	"os/exec"
	"sync"
	"time"
)

// DevCallbacks is the event surface for the shared developer shell.
// OnOutput runs under the terminal lock; neither callback may block or
// call back into the terminal.
type DevCallbacks struct {
	OnOutput func(chunk []byte)
	OnExit   func(code int, signal *int)
}

// DevTerminal is the process-wide shared shell: one PTY, any number of
// subscribed clients. The PTY spawns lazily on the first init and is
// respawned on the next init after it dies.
type DevTerminal struct {
	spawn SpawnFunc

	mu           sync.Mutex
	pty          Terminal
	cbs          DevCallbacks
	history      [][]byte
	historyBytes int
	lastActivity time.Time
}

func NewDevTerminal() *DevTerminal {
	return NewDevTerminalWithSpawner(Spawn)
}

func NewDevTerminalWithSpawner(spawn SpawnFunc) *DevTerminal {
	return &DevTerminal{spawn: spawn}
}

// ResolveShell picks the login shell: $SHELL, then /bin/zsh, /bin/bash,
// /bin/sh, first one that exists.
func ResolveShell() string {
	candidates := []string{os.Getenv("SHELL"), "/bin/zsh", "/bin/bash", "/bin/sh"}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if p, err := exec.LookPath(c); err == nil {
			return p
		}
	}
	return "/bin/sh"
}

// ResolveHomeDir picks the shell's working directory: $HOME, then the
// process directory, then /.
func ResolveHomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		if st, err := os.Stat(home); err == nil && st.IsDir() {
			return home
		}
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "/"
}

// Start attaches cbs and spawns the shell if it is not running. Returns
// isNew=true for the init that actually spawned. Concurrent inits
// converge on the same PTY.
func (d *DevTerminal) Start(cols, rows int, cbs DevCallbacks) (isNew bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cbs = cbs
	if d.pty != nil {
		return false, nil
	}

	shell := ResolveShell()
	cwd := ResolveHomeDir()
	pty, err := d.spawn([]string{shell}, cwd, cols, rows, d.handleOutput, d.handleExit)
	if err != nil {
		return false, err
	}
	d.pty = pty
	d.lastActivity = time.Now()
	log.Printf("DevTerm: started %s in %s", shell, cwd)
	return true, nil
}

// OnOutput runs under the lock so Replay can order a history snapshot
// against the live stream.
func (d *DevTerminal) handleOutput(chunk []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, chunk)
	d.historyBytes += len(chunk)
	for d.historyBytes > MaxHistoryBytes && len(d.history) > 0 {
		d.historyBytes -= len(d.history[0])
		d.history = d.history[1:]
	}
	d.lastActivity = time.Now()
	if d.cbs.OnOutput != nil {
		d.cbs.OnOutput(chunk)
	}
}

func (d *DevTerminal) handleExit(st ExitStatus) {
	d.mu.Lock()
	d.pty = nil
	d.history = nil
	d.historyBytes = 0
	onExit := d.cbs.OnExit
	d.mu.Unlock()

	log.Printf("DevTerm: shell exited code=%d", st.Code)
	if onExit != nil {
		onExit(st.Code, st.Signal)
	}
}

func (d *DevTerminal) Write(data []byte) {
	d.mu.Lock()
	pty := d.pty
	if pty != nil {
		d.lastActivity = time.Now()
	}
	d.mu.Unlock()
	if pty != nil {
		pty.Write(data)
	}
}

func (d *DevTerminal) Resize(cols, rows int) {
	d.mu.Lock()
	pty := d.pty
	d.mu.Unlock()
	if pty != nil {
		pty.Resize(cols, rows)
	}
}

// Kill terminates the shared shell. The next init respawns it.
func (d *DevTerminal) Kill() {
	d.mu.Lock()
	pty := d.pty
	d.mu.Unlock()
	if pty != nil {
		pty.Kill()
	}
}

// Detach drops the callbacks when the last client leaves.
func (d *DevTerminal) Detach() {
	d.mu.Lock()
	d.cbs = DevCallbacks{}
	d.mu.Unlock()
}

// Replay hands fn a history snapshot while output delivery is paused:
// frames enqueued inside fn are ordered before any later chunk. fn must
// not block or call back into the terminal.
func (d *DevTerminal) Replay(fn func(history [][]byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	history := make([][]byte, len(d.history))
	copy(history, d.history)
	fn(history)
}

// History returns a snapshot of the output ring.
func (d *DevTerminal) History() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.history))
	copy(out, d.history)
	return out
}

// Alive reports whether the shell PTY is running.
func (d *DevTerminal) Alive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pty != nil
}
