package services

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"clicast/models"
)

const (
	// MaxHistoryBytes bounds the per-session output ring replayed to
	// late-joining clients.
	MaxHistoryBytes = 100 * 1024

	defaultReapInterval = 30 * time.Second
	defaultIdleTimeout  = 30 * time.Minute

	// defaultRecordGrace is how long an exited/terminated record stays
	// listable before the reaper drops it.
	defaultRecordGrace = 24 * time.Hour
)

var ErrSessionNotFound = errors.New("session not found")

// SessionCallbacks is the event surface a hub registers with Start.
// All callbacks may be invoked from PTY goroutines; OnOutput runs under
// the session lock. None of them may block or call back into the
// registry.
type SessionCallbacks struct {
	OnOutput func(chunk []byte)
	OnStatus func(status models.SessionStatus)
	OnExit   func(code int, signal *int)
	OnError  func(msg string)
}

type managedSession struct {
	mu  sync.Mutex
	rec models.Session
	pty Terminal
	cbs SessionCallbacks

	// startMu serializes Start so concurrent inits converge on one PTY.
	startMu sync.Mutex

	history      [][]byte
	historyBytes int
}

// Registry owns the id → session map, the lifecycle state machine and
// the idle reaper.
type Registry struct {
	spawn SpawnFunc

	mu       sync.RWMutex
	sessions map[string]*managedSession

	reapInterval time.Duration
	idleTimeout  time.Duration
	recordGrace  time.Duration

	reaperMu   sync.Mutex
	reaperStop chan struct{}
}

func NewRegistry() *Registry {
	return NewRegistryWithSpawner(Spawn)
}

// NewRegistryWithSpawner allows tests to substitute the PTY spawner.
func NewRegistryWithSpawner(spawn SpawnFunc) *Registry {
	return &Registry{
		spawn:        spawn,
		sessions:     make(map[string]*managedSession),
		reapInterval: defaultReapInterval,
		idleTimeout:  defaultIdleTimeout,
		recordGrace:  defaultRecordGrace,
	}
}

// SetReaperIntervals overrides the reaper timings (used by tests).
func (r *Registry) SetReaperIntervals(interval, idle, grace time.Duration) {
	r.reapInterval = interval
	r.idleTimeout = idle
	r.recordGrace = grace
}

// Create registers a new session record in status "created". The PTY is
// not spawned until the first client sends init.
func (r *Registry) Create(workingDir, aiCommand string) models.SessionInfo {
	now := time.Now()
	ms := &managedSession{
		rec: models.Session{
			ID:           uuid.NewString(),
			WorkingDir:   workingDir,
			AICommand:    aiCommand,
			Status:       models.StatusCreated,
			CreatedAt:    now,
			LastActivity: now,
		},
	}

	r.mu.Lock()
	r.sessions[ms.rec.ID] = ms
	r.mu.Unlock()

	r.startReaper()
	log.Printf("Registry: created session %s dir=%s", ms.rec.ID, workingDir)
	return ms.rec.Info()
}

func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

func (r *Registry) get(id string) (*managedSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ms, ok := r.sessions[id]
	return ms, ok
}

// Get returns the projection of one session.
func (r *Registry) Get(id string) (models.SessionInfo, bool) {
	ms, ok := r.get(id)
	if !ok {
		return models.SessionInfo{}, false
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.rec.Info(), true
}

// List returns a snapshot projection of all sessions.
func (r *Registry) List() []models.SessionInfo {
	r.mu.RLock()
	all := make([]*managedSession, 0, len(r.sessions))
	for _, ms := range r.sessions {
		all = append(all, ms)
	}
	r.mu.RUnlock()

	out := make([]models.SessionInfo, 0, len(all))
	for _, ms := range all {
		ms.mu.Lock()
		out = append(out, ms.rec.Info())
		ms.mu.Unlock()
	}
	return out
}

// Start spawns the session's PTY on first call and registers cbs. Later
// calls (reconnects) re-register cbs without respawning and without
// re-announcing the unchanged status. On spawn failure the session
// transitions to exited and OnError fires before OnStatus.
func (r *Registry) Start(id string, cols, rows int, cbs SessionCallbacks) error {
	ms, ok := r.get(id)
	if !ok {
		return ErrSessionNotFound
	}

	ms.startMu.Lock()
	defer ms.startMu.Unlock()

	ms.mu.Lock()
	ms.cbs = cbs
	if ms.pty != nil || ms.rec.Status.Terminal() {
		ms.mu.Unlock()
		return nil
	}
	command := ms.rec.AICommand
	cwd := ms.rec.WorkingDir
	ms.mu.Unlock()

	argv, effCwd := BuildInvocation(command, cwd)
	pty, err := r.spawn(argv, effCwd, cols, rows,
		func(chunk []byte) { r.handleOutput(ms, chunk) },
		func(st ExitStatus) { r.handleExit(ms, st) },
	)
	if err != nil {
		log.Printf("Registry: spawn failed for %s: %v", id, err)
		ms.mu.Lock()
		ms.rec.Status = models.StatusExited
		onErr, onStatus := ms.cbs.OnError, ms.cbs.OnStatus
		ms.mu.Unlock()
		if onErr != nil {
			onErr("Failed to start session: " + err.Error())
		}
		if onStatus != nil {
			onStatus(models.StatusExited)
		}
		return err
	}

	ms.mu.Lock()
	if ms.rec.Status.Terminal() {
		// terminated while the spawn was in flight
		ms.mu.Unlock()
		pty.Kill()
		return nil
	}
	ms.pty = pty
	ms.rec.Status = models.StatusRunning
	ms.rec.LastActivity = time.Now()
	onStatus := ms.cbs.OnStatus
	ms.mu.Unlock()

	if onStatus != nil {
		onStatus(models.StatusRunning)
	}
	log.Printf("Registry: started session %s (%s)", id, argv[len(argv)-1])
	return nil
}

// handleOutput appends a PTY chunk to the history ring, evicting the
// oldest chunks past MaxHistoryBytes, then fans it out. OnOutput runs
// under the session lock so Replay can order a history snapshot against
// the live stream.
func (r *Registry) handleOutput(ms *managedSession, chunk []byte) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.history = append(ms.history, chunk)
	ms.historyBytes += len(chunk)
	for ms.historyBytes > MaxHistoryBytes && len(ms.history) > 0 {
		ms.historyBytes -= len(ms.history[0])
		ms.history = ms.history[1:]
	}
	ms.rec.LastActivity = time.Now()
	if ms.cbs.OnOutput != nil {
		ms.cbs.OnOutput(chunk)
	}
}

func (r *Registry) handleExit(ms *managedSession, st ExitStatus) {
	ms.mu.Lock()
	ms.pty = nil
	if !ms.rec.Status.Terminal() {
		ms.rec.Status = models.StatusExited
	}
	status := ms.rec.Status
	onExit, onStatus := ms.cbs.OnExit, ms.cbs.OnStatus
	ms.mu.Unlock()

	log.Printf("Registry: session %s exited code=%d", ms.rec.ID, st.Code)
	if status == models.StatusExited && onStatus != nil {
		onStatus(status)
	}
	if onExit != nil {
		onExit(st.Code, st.Signal)
	}
}

// Write forwards input bytes to the session's PTY.
func (r *Registry) Write(id string, data []byte) {
	ms, ok := r.get(id)
	if !ok {
		log.Printf("Registry: write to unknown session %s", id)
		return
	}
	ms.mu.Lock()
	pty := ms.pty
	if pty != nil {
		ms.rec.LastActivity = time.Now()
	}
	ms.mu.Unlock()
	if pty == nil {
		log.Printf("Registry: write to session %s with no PTY", id)
		return
	}
	pty.Write(data)
}

// Resize forwards a window-size change to the session's PTY.
func (r *Registry) Resize(id string, cols, rows int) {
	ms, ok := r.get(id)
	if !ok {
		return
	}
	ms.mu.Lock()
	pty := ms.pty
	if pty != nil {
		ms.rec.LastActivity = time.Now()
	}
	ms.mu.Unlock()
	if pty != nil {
		pty.Resize(cols, rows)
	}
}

// Terminate kills the PTY (if any) and moves the session to the given
// terminal status. Idempotent: terminal sessions are left untouched.
func (r *Registry) Terminate(id string, status models.SessionStatus) bool {
	ms, ok := r.get(id)
	if !ok {
		return false
	}

	ms.mu.Lock()
	if ms.rec.Status.Terminal() {
		ms.mu.Unlock()
		return true
	}
	pty := ms.pty
	ms.pty = nil
	ms.rec.Status = status
	onStatus := ms.cbs.OnStatus
	ms.mu.Unlock()

	if pty != nil {
		pty.Kill()
	}
	if onStatus != nil {
		onStatus(status)
	}
	log.Printf("Registry: session %s → %s", id, status)
	return true
}

// Delete terminates the session and removes its record.
func (r *Registry) Delete(id string) bool {
	if !r.Exists(id) {
		return false
	}
	r.Terminate(id, models.StatusTerminated)

	r.mu.Lock()
	delete(r.sessions, id)
	empty := len(r.sessions) == 0
	r.mu.Unlock()

	if empty {
		r.stopReaper()
	}
	return true
}

// History returns a snapshot of the session's output ring.
func (r *Registry) History(id string) [][]byte {
	ms, ok := r.get(id)
	if !ok {
		return nil
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([][]byte, len(ms.history))
	copy(out, ms.history)
	return out
}

// Replay hands fn the session's status and a history snapshot while
// output delivery is paused: frames a client enqueues inside fn are
// ordered before any chunk produced afterwards. fn must not block or
// call back into the registry.
func (r *Registry) Replay(id string, fn func(status models.SessionStatus, history [][]byte)) {
	ms, ok := r.get(id)
	if !ok {
		return
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	history := make([][]byte, len(ms.history))
	copy(history, ms.history)
	fn(ms.rec.Status, history)
}

// Detach drops the registered callbacks, typically when the last
// WebSocket client leaves. The PTY keeps running for reconnects.
func (r *Registry) Detach(id string) {
	ms, ok := r.get(id)
	if !ok {
		return
	}
	ms.mu.Lock()
	ms.cbs = SessionCallbacks{}
	ms.mu.Unlock()
}

// Shutdown terminates every session. Used on server exit.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Terminate(id, models.StatusTerminated)
	}
	r.stopReaper()
}

// startReaper launches the single reaper ticker if it is not running.
func (r *Registry) startReaper() {
	r.reaperMu.Lock()
	defer r.reaperMu.Unlock()
	if r.reaperStop != nil {
		return
	}
	stop := make(chan struct{})
	r.reaperStop = stop

	go func() {
		ticker := time.NewTicker(r.reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.reap()
			}
		}
	}()
}

func (r *Registry) stopReaper() {
	r.reaperMu.Lock()
	defer r.reaperMu.Unlock()
	if r.reaperStop != nil {
		close(r.reaperStop)
		r.reaperStop = nil
	}
}

// reap terminates running sessions idle past the timeout and drops
// terminal records older than the grace.
func (r *Registry) reap() {
	now := time.Now()

	r.mu.RLock()
	type candidate struct {
		id       string
		idle     bool
		obsolete bool
	}
	var candidates []candidate
	for id, ms := range r.sessions {
		ms.mu.Lock()
		idle := ms.rec.Status == models.StatusRunning &&
			now.Sub(ms.rec.LastActivity) >= r.idleTimeout
		obsolete := ms.rec.Status.Terminal() &&
			now.Sub(ms.rec.LastActivity) >= r.recordGrace
		ms.mu.Unlock()
		if idle || obsolete {
			candidates = append(candidates, candidate{id, idle, obsolete})
		}
	}
	r.mu.RUnlock()

	for _, c := range candidates {
		if c.idle {
			log.Printf("Registry: reaping idle session %s", c.id)
			r.Terminate(c.id, models.StatusTerminated)
		}
		if c.obsolete {
			r.Delete(c.id)
		}
	}
}
