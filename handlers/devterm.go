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
	"clicast/services"
)

// DevTerminalHandler serves /ws/dev: the single shared developer shell,
// broadcast to every subscriber. Protocol matches the session hub except
// there is no session id and "kill" is accepted.
type DevTerminalHandler struct {
	cfg      *config.Config
	dev      *services.DevTerminal
	tokens   *services.TokenStore
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func NewDevTerminalHandler(cfg *config.Config, dev *services.DevTerminal, tokens *services.TokenStore) *DevTerminalHandler {
	return &DevTerminalHandler{
		cfg:    cfg,
		dev:    dev,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkWSOrigin(cfg.AllowedOrigins),
		},
		clients: make(map[*wsClient]struct{}),
	}
}

func (h *DevTerminalHandler) HandleWebSocket(c *gin.Context) {
	if !h.tokens.Verify(c.Query("token")) {
		respondError(c, http.StatusUnauthorized, "Invalid token")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("DevTerm: upgrade failed: %v", err)
		return
	}

	client := newWSClient(conn)
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.readLoop(client)

	h.dropClient(client)
	client.shutdown(websocket.CloseNormalClosure, "")
}

func (h *DevTerminalHandler) readLoop(client *wsClient) {
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
			h.handleInit(client, msg)
		case TypeInput:
			if !client.initialized.Load() {
				client.enqueue(errorFrame("Terminal not initialized. Send init first."))
				continue
			}
			h.dev.Write([]byte(msg.Data))
		case TypeResize:
			if client.initialized.Load() {
				h.dev.Resize(msg.Cols, msg.Rows)
			}
		case TypePing:
			client.enqueue(typeFrame(TypePong))
		case TypeKill:
			h.dev.Kill()
			client.enqueue(typeFrame(TypeKilled))
		default:
			client.enqueue(errorFrame("unknown message type: " + msg.Type))
		}
	}
}

// handleInit attaches this client to the shared shell, spawning it if
// nobody has yet. All concurrent inits converge on the same PTY.
func (h *DevTerminalHandler) handleInit(client *wsClient, msg ClientMessage) {
	if client.initialized.Load() {
		client.enqueue(devReadyFrame(false))
		return
	}

	isNew, err := h.dev.Start(msg.Cols, msg.Rows, services.DevCallbacks{
		OnOutput: func(chunk []byte) {
			h.broadcast(outputFrame(chunk))
		},
		OnExit: func(code int, signal *int) {
			h.broadcast(exitFrame(code, signal))
			time.AfterFunc(exitCloseGrace, func() {
				h.closeAll(websocket.CloseNormalClosure, "shell exited")
			})
		},
	})
	if err != nil {
		client.enqueue(errorFrame("Failed to start terminal: " + err.Error()))
		return
	}

	// Replay is atomic with output fan-out: chunks before this point land
	// in the history snapshot, later ones arrive as live frames.
	h.dev.Replay(func(history [][]byte) {
		client.enqueue(devReadyFrame(isNew))
		client.enqueue(historyFrame(history))
		client.initialized.Store(true)
	})
}

func (h *DevTerminalHandler) dropClient(client *wsClient) {
	h.mu.Lock()
	delete(h.clients, client)
	empty := len(h.clients) == 0
	h.mu.Unlock()

	if empty {
		h.dev.Detach()
	}
}

func (h *DevTerminalHandler) broadcast(frame []byte) {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if !c.initialized.Load() {
			continue
		}
		if !c.enqueue(frame) {
			c.shutdown(websocket.ClosePolicyViolation, "send queue overflow")
		}
	}
}

func (h *DevTerminalHandler) closeAll(code int, reason string) {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown(code, reason)
	}
	h.dev.Detach()
}

// Shutdown closes all dev-terminal clients; used on server exit.
func (h *DevTerminalHandler) Shutdown() {
	h.closeAll(websocket.CloseGoingAway, "server shutting down")
}
