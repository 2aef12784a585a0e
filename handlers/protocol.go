package handlers

import "encoding/json"

// Message types for the terminal WebSocket protocol. All frames are
// UTF-8 JSON text frames; binary frames are rejected.
const (
	// client → server
	TypeInit   = "init"
	TypeInput  = "input"
	TypeResize = "resize"
	TypePing   = "ping"
	TypeKill   = "kill" // dev terminal only

	// server → client
	TypeReady   = "ready"
	TypeOutput  = "output"
	TypeHistory = "history"
	TypeStatus  = "status"
	TypeExit    = "exit"
	TypeError   = "error"
	TypePong    = "pong"
	TypeKilled  = "killed" // dev terminal only
)

// ClientMessage is the single envelope for everything a client sends.
// Unknown types are rejected with an error frame.
type ClientMessage struct {
	Type string `json:"type"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
	Data string `json:"data,omitempty"`
}

type readyMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	IsNew     *bool  `json:"isNew,omitempty"`
}

type outputMsg struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type historyMsg struct {
	Type string   `json:"type"`
	Data []string `json:"data"`
}

type statusMsg struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	SessionID string `json:"sessionId,omitempty"`
}

type exitMsg struct {
	Type   string `json:"type"`
	Code   int    `json:"code"`
	Signal *int   `json:"signal,omitempty"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type typeOnlyMsg struct {
	Type string `json:"type"`
}

func marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"type":"error","message":"internal encoding error"}`)
	}
	return data
}

func readyFrame(sessionID string) []byte {
	return marshal(readyMsg{Type: TypeReady, SessionID: sessionID})
}

func devReadyFrame(isNew bool) []byte {
	return marshal(readyMsg{Type: TypeReady, IsNew: &isNew})
}

func outputFrame(chunk []byte) []byte {
	return marshal(outputMsg{Type: TypeOutput, Data: string(chunk)})
}

func historyFrame(chunks [][]byte) []byte {
	data := make([]string, len(chunks))
	for i, c := range chunks {
		data[i] = string(c)
	}
	return marshal(historyMsg{Type: TypeHistory, Data: data})
}

func statusFrame(status, sessionID string) []byte {
	return marshal(statusMsg{Type: TypeStatus, Status: status, SessionID: sessionID})
}

func exitFrame(code int, signal *int) []byte {
	return marshal(exitMsg{Type: TypeExit, Code: code, Signal: signal})
}

func errorFrame(message string) []byte {
	return marshal(errorMsg{Type: TypeError, Message: message})
}

func typeFrame(t string) []byte {
	return marshal(typeOnlyMsg{Type: t})
}
