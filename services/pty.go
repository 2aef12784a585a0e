package services

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	gopty "github.com/aymanbagabas/go-pty"
)

const (
	ptyReadBufferSize = 4096

	// killGrace is how long a SIGTERM'd child gets before SIGKILL.
	killGrace = 3 * time.Second

	minDim = 1
	maxDim = 1000
)

// ExitStatus describes how a PTY child ended. Signal is nil when the
// process exited on its own.
type ExitStatus struct {
	Code   int
	Signal *int
}

// Terminal is the registry- and hub-facing surface of a spawned PTY.
type Terminal interface {
	// Write enqueues input bytes. Writes after exit are dropped.
	Write(p []byte)
	// Resize sets the window size, clamped to [1,1000].
	Resize(cols, rows int)
	// Kill requests termination: SIGTERM, then SIGKILL after a grace.
	Kill()
}

// SpawnFunc spawns argv on a fresh PTY in cwd. onData receives output
// chunks in production order; onExit fires exactly once, after the last
// chunk has been delivered.
type SpawnFunc func(argv []string, cwd string, cols, rows int, onData func([]byte), onExit func(ExitStatus)) (Terminal, error)

var workdirFlag = regexp.MustCompile(`(?:^|\s)--workdir(?:=|\s+)(\S+)`)

// BuildInvocation turns a configured AI command string into the bash
// invocation and effective working directory for a session. A
// "--workdir <dir>" inside the command overrides cwd and is stripped;
// a command left empty by the strip falls back to "claude".
func BuildInvocation(command, cwd string) (argv []string, effCwd string) {
	effCwd = cwd
	if m := workdirFlag.FindStringSubmatch(command); m != nil {
		effCwd = m[1]
		command = workdirFlag.ReplaceAllString(command, " ")
		command = strings.Join(strings.Fields(command), " ")
	}
	command = strings.TrimSpace(command)
	if command == "" {
		command = "claude"
	}
	shellCmd := "cd " + shellQuote(effCwd) + " && " + command
	return []string{"bash", "-c", shellCmd}, effCwd
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// childEnv is the server environment with terminal identity forced.
func childEnv() []string {
	env := make([]string, 0, len(os.Environ())+2)
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "TERM=") || strings.HasPrefix(e, "COLORTERM=") {
			continue
		}
		env = append(env, e)
	}
	return append(env, "TERM=xterm-color", "COLORTERM=truecolor")
}

// Spawn runs argv on a new PTY. It is the production SpawnFunc.
func Spawn(argv []string, cwd string, cols, rows int, onData func([]byte), onExit func(ExitStatus)) (Terminal, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("spawn: empty argv")
	}

	p, err := gopty.New()
	if err != nil {
		return nil, fmt.Errorf("open pty: %w", err)
	}

	cmd := p.Command(argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = childEnv()

	if err := cmd.Start(); err != nil {
		p.Close()
		return nil, fmt.Errorf("spawn %s: %w", argv[0], err)
	}

	t := &ptyTerminal{
		pty:        p,
		cmd:        cmd,
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	t.Resize(cols, rows)

	go t.readLoop(onData)
	go t.waitLoop(onExit)
	return t, nil
}

type ptyTerminal struct {
	pty gopty.Pty
	cmd *gopty.Cmd

	done       chan struct{} // closed once the child has exited
	readerDone chan struct{}
	exitOnce   sync.Once
	killOnce   sync.Once
}

func (t *ptyTerminal) readLoop(onData func([]byte)) {
	defer close(t.readerDone)
	buf := make([]byte, ptyReadBufferSize)
	for {
		n, err := t.pty.Read(buf)
		if n > 0 && onData != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onData(chunk)
		}
		if err != nil {
			return
		}
	}
}

// waitLoop reaps the child, closes the PTY so the reader drains its tail
// and stops, then reports the exit. onExit therefore always follows the
// final onData chunk.
func (t *ptyTerminal) waitLoop(onExit func(ExitStatus)) {
	err := t.cmd.Wait()
	close(t.done)
	t.pty.Close()

	select {
	case <-t.readerDone:
	case <-time.After(2 * time.Second):
		log.Printf("PTY: reader did not drain after exit")
	}

	t.exitOnce.Do(func() {
		if onExit != nil {
			onExit(exitStatus(t.cmd, err))
		}
	})
}

func exitStatus(cmd *gopty.Cmd, waitErr error) ExitStatus {
	st := ExitStatus{Code: 0}
	ps := cmd.ProcessState
	if ps == nil {
		if waitErr != nil {
			st.Code = 1
		}
		return st
	}
	st.Code = ps.ExitCode()
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := int(ws.Signal())
		st.Signal = &sig
		st.Code = -1
	}
	return st
}

func (t *ptyTerminal) Write(p []byte) {
	select {
	case <-t.done:
		return // child gone, drop
	default:
	}
	if _, err := t.pty.Write(p); err != nil {
		log.Printf("PTY: write failed: %v", err)
	}
}

func (t *ptyTerminal) Resize(cols, rows int) {
	if err := t.pty.Resize(clampDim(cols), clampDim(rows)); err != nil {
		log.Printf("PTY: resize failed: %v", err)
	}
}

func clampDim(v int) int {
	if v < minDim {
		return minDim
	}
	if v > maxDim {
		return maxDim
	}
	return v
}

func (t *ptyTerminal) Kill() {
	t.killOnce.Do(func() {
		if t.cmd.Process == nil {
			return
		}
		t.cmd.Process.Signal(syscall.SIGTERM)
		time.AfterFunc(killGrace, func() {
			select {
			case <-t.done:
			default:
				t.cmd.Process.Kill()
			}
		})
	})
}
