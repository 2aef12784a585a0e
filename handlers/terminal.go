package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"clicast/config"
	"clicast/models"
	"clicast/services"
)

// exitCloseGrace is how long clients keep their socket after the exit
// frame, so the browser can render the final output.
const exitCloseGrace = 1500 * time.Millisecond

// TerminalHandler is the WebSocket hub for named AI sessions: it
// validates upgrades, tracks the per-session client sets and fans PTY
// output out to every attached client.
type TerminalHandler struct {
	cfg      *config.Config
	registry *services.Registry
	tokens   *services.TokenStore
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]map[*wsClient]struct{}
}

func NewTerminalHandler(cfg *config.Config, registry *services.Registry, tokens *services.TokenStore) *TerminalHandler {
	return &TerminalHandler{
		cfg:      cfg,
		registry: registry,
		tokens:   tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkWSOrigin(cfg.AllowedOrigins),
		},
		sessions: make(map[string]map[*wsClient]struct{}),
	}
}

// HandleWebSocket serves /ws?sessionId=…&token=…. Token and session id
// are checked before the upgrade; either failing is a plain HTTP
// rejection, not an upgrade-then-close.
func (h *TerminalHandler) HandleWebSocket(c *gin.Context) {
	if !h.tokens.Verify(c.Query("token")) {
		respondError(c, http.StatusUnauthorized, "Invalid token")
		return
	}
	sessionID := c.Query("sessionId")
	if sessionID == "" || !h.registry.Exists(sessionID) {
		respondError(c, http.StatusBadRequest, "Unknown session")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Hub: upgrade failed: %v", err)
		return
	}

	client := newWSClient(conn)
	h.addClient(sessionID, client)
	log.Printf("Hub: client attached to session %s", sessionID)

	h.readLoop(sessionID, client)

	h.dropClient(sessionID, client)
	client.shutdown(websocket.CloseNormalClosure, "")
	log.Printf("Hub: client detached from session %s", sessionID)
}

func (h *TerminalHandler) readLoop(sessionID string, client *wsClient) {
	for {
		msgType, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			client.enqueue(errorFrame("binary frames are not supported"))
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			client.enqueue(errorFrame("malformed message"))
			continue
		}

		switch msg.Type {
		case TypeInit:
			h.handleInit(sessionID, client, msg)
		case TypeInput:
			if !client.initialized.Load() {
				client.enqueue(errorFrame("Terminal not initialized. Send init first."))
				continue
			}
			h.registry.Write(sessionID, []byte(msg.Data))
		case TypeResize:
			if client.initialized.Load() {
				h.registry.Resize(sessionID, msg.Cols, msg.Rows)
			}
		case TypePing:
			client.enqueue(typeFrame(TypePong))
		default:
			client.enqueue(errorFrame("unknown message type: " + msg.Type))
		}
	}
}

// handleInit starts (or reattaches to) the session PTY, replays the
// history ring to this client only and marks it live. Repeated inits
// just re-ack.
func (h *TerminalHandler) handleInit(sessionID string, client *wsClient, msg ClientMessage) {
	if client.initialized.Load() {
		client.enqueue(readyFrame(sessionID))
		return
	}

	err := h.registry.Start(sessionID, msg.Cols, msg.Rows, h.sessionCallbacks(sessionID))
	if err != nil {
		if err == services.ErrSessionNotFound {
			client.enqueue(errorFrame("Unknown session"))
			return
		}
		client.enqueue(errorFrame("Failed to start session: " + err.Error()))
		client.enqueue(statusFrame(string(models.StatusExited), sessionID))
		return
	}

	// Replay is atomic with output fan-out: chunks appended before this
	// point land in the history snapshot, later ones arrive as live
	// frames once the client is marked live.
	h.registry.Replay(sessionID, func(status models.SessionStatus, history [][]byte) {
		client.enqueue(readyFrame(sessionID))
		client.enqueue(historyFrame(history))
		client.enqueue(statusFrame(string(status), sessionID))
		client.initialized.Store(true)
	})
}

// sessionCallbacks binds registry events for one session to the hub's
// broadcast path. None of these block: frames go through the per-client
// queues and slow clients get evicted.
func (h *TerminalHandler) sessionCallbacks(sessionID string) services.SessionCallbacks {
	return services.SessionCallbacks{
		OnOutput: func(chunk []byte) {
			h.broadcast(sessionID, outputFrame(chunk))
		},
		OnStatus: func(status models.SessionStatus) {
			h.broadcast(sessionID, statusFrame(string(status), sessionID))
		},
		OnError: func(msg string) {
			h.broadcast(sessionID, errorFrame(msg))
		},
		OnExit: func(code int, signal *int) {
			h.broadcast(sessionID, exitFrame(code, signal))
			time.AfterFunc(exitCloseGrace, func() {
				h.closeSession(sessionID, websocket.CloseNormalClosure, "session ended")
			})
		},
	}
}

func (h *TerminalHandler) addClient(sessionID string, client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[sessionID]
	if !ok {
		set = make(map[*wsClient]struct{})
		h.sessions[sessionID] = set
	}
	set[client] = struct{}{}
}

// dropClient removes one client; when the session's set empties the hub
// detaches from the registry but leaves the PTY running for reconnects.
func (h *TerminalHandler) dropClient(sessionID string, client *wsClient) {
	h.mu.Lock()
	set, ok := h.sessions[sessionID]
	if ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.sessions, sessionID)
		}
	}
	empty := ok && len(set) == 0
	h.mu.Unlock()

	if empty {
		h.registry.Detach(sessionID)
	}
}

// broadcast fans a frame out to every live client of a session. Clients
// that have not completed init are skipped; a client whose queue is full
// is shut down, never waited on, and its reader goroutine removes it
// from the set.
func (h *TerminalHandler) broadcast(sessionID string, frame []byte) {
	h.mu.Lock()
	set := h.sessions[sessionID]
	clients := make([]*wsClient, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if !c.initialized.Load() {
			continue
		}
		if !c.enqueue(frame) {
			log.Printf("Hub: evicting slow client on session %s", sessionID)
			c.shutdown(websocket.ClosePolicyViolation, "send queue overflow")
		}
	}
}

// closeSession closes every client of a session with the given code.
func (h *TerminalHandler) closeSession(sessionID string, code int, reason string) {
	h.mu.Lock()
	set := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()

	for c := range set {
		c.shutdown(code, reason)
	}
	h.registry.Detach(sessionID)
}

// Shutdown closes every connected client; used on server exit.
func (h *TerminalHandler) Shutdown() {
	h.mu.Lock()
	all := make([]*wsClient, 0)
	for _, set := range h.sessions {
		for c := range set {
			all = append(all, c)
		}
	}
	h.sessions = make(map[string]map[*wsClient]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.shutdown(websocket.CloseGoingAway, "server shutting down")
	}
}
