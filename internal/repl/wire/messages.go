// Package wire defines the WebSocket protocol of the query console.
package wire

import (
	"encoding/json"

	"github.com/quellabs/objectquel/internal/repl/autocomplete"
)

// ── Client → Server messages ────────────────────────────────────────────────

// ClientMessage is the envelope for all client-to-server WebSocket messages.
type ClientMessage struct {
	Type string          `json:"type"` // "execute", "cancel", "autocomplete", "ping"
	ID   string          `json:"id"`   // Client-assigned request ID
	Data json.RawMessage `json:"data,omitempty"`
}

// ExecuteData is the payload for "execute" messages. Query is either a
// Quel statement or a ":command" line. Params are merged over the
// session's :set bindings.
type ExecuteData struct {
	Query  string         `json:"query"`
	Params map[string]any `json:"params,omitempty"`
}

// AutocompleteData is the payload for "autocomplete" messages.
type AutocompleteData struct {
	Query  string `json:"query"`
	Cursor int    `json:"cursor"`
}

// ── Server → Client messages ────────────────────────────────────────────────

// ServerMessage is the envelope for all server-to-client WebSocket messages.
type ServerMessage struct {
	Type      string `json:"type"`                 // "session", "meta", "columns", "rows", "done", "error", "completions", "pong"
	RequestID string `json:"request_id,omitempty"` // Echoes client ID
	Data      any    `json:"data,omitempty"`
}

// ColumnsData is sent before the rows of a query result.
type ColumnsData struct {
	Columns []string `json:"columns"`
	Total   int      `json:"total"`
}

// RowsData carries a batch of result rows.
type RowsData struct {
	Rows []json.RawMessage `json:"rows"`
}

// DoneData signals completion of a query.
type DoneData struct {
	Total   int    `json:"total"`
	Elapsed string `json:"elapsed"`
}

// ErrorData carries an error. Line and Col are set for lexer and parser
// errors; Kind carries the execution fault code and Original the driver or
// source error behind it.
type ErrorData struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Kind       string `json:"kind,omitempty"`
	Original   string `json:"original,omitempty"`
	Line       int    `json:"line,omitempty"`
	Col        int    `json:"col,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// CompletionsData carries autocomplete suggestions.
type CompletionsData struct {
	Items []autocomplete.CompletionItem `json:"items"`
}

// SessionData carries session information.
type SessionData struct {
	SessionID string `json:"session_id"`
}
