package handlers

import (
	"strings"
	"sync"

	"clicast/services"
)

// stubTerminal stands in for a PTY in handler tests. Output and exit are
// driven by the test through the captured callbacks.
type stubTerminal struct {
	mu      sync.Mutex
	writes  [][]byte
	resizes [][2]int
	killed  bool

	onData func([]byte)
	onExit func(services.ExitStatus)

	exitOnce sync.Once
}

func (s *stubTerminal) Write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, append([]byte(nil), p...))
}

func (s *stubTerminal) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resizes = append(s.resizes, [2]int{cols, rows})
}

func (s *stubTerminal) Kill() {
	s.mu.Lock()
	s.killed = true
	s.mu.Unlock()
	s.emitExit(services.ExitStatus{Code: -1})
}

func (s *stubTerminal) emitData(p []byte) { s.onData(p) }

func (s *stubTerminal) emitExit(st services.ExitStatus) {
	s.exitOnce.Do(func() { s.onExit(st) })
}

func (s *stubTerminal) wroteAll() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sb strings.Builder
	for _, w := range s.writes {
		sb.Write(w)
	}
	return sb.String()
}

type stubSpawner struct {
	mu    sync.Mutex
	last  *stubTerminal
	count int
}

func (s *stubSpawner) spawn(argv []string, cwd string, cols, rows int, onData func([]byte), onExit func(services.ExitStatus)) (services.Terminal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	term := &stubTerminal{onData: onData, onExit: onExit}
	s.last = term
	s.count++
	return term, nil
}

func (s *stubSpawner) lastTerm() *stubTerminal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *stubSpawner) spawnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
