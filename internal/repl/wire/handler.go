package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/quellabs/objectquel/internal/quel"
	"github.com/quellabs/objectquel/internal/quel/fault"
	"github.com/quellabs/objectquel/internal/quel/ql"
	"github.com/quellabs/objectquel/internal/repl/autocomplete"
	"github.com/quellabs/objectquel/internal/repl/meta"
	"github.com/quellabs/objectquel/internal/repl/session"
)

const (
	// rowBatchSize controls how many rows are sent per "rows" message.
	rowBatchSize = 50
)

// Querier runs Quel statements.
type Querier interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]any) (*quel.Result, error)
}

// Handler manages WebSocket connections for the console.
type Handler struct {
	sessions     *session.Manager
	engine       Querier
	autocomplete *autocomplete.Engine
	meta         *meta.Handler
	logger       *slog.Logger
}

// NewHandler creates a WebSocket handler with all dependencies.
func NewHandler(
	sessions *session.Manager,
	engine Querier,
	ac *autocomplete.Engine,
	metaHandler *meta.Handler,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		sessions:     sessions,
		engine:       engine,
		autocomplete: ac,
		meta:         metaHandler,
		logger:       logger,
	}
}

// ServeHTTP upgrades to WebSocket and runs the message loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("console: websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()

	sess := h.sessions.Create()
	defer h.sessions.Remove(sess.ID)
	ctx := r.Context()
	log := h.logger.With("session", sess.ID)
	log.Info("console: session opened", "remote", r.RemoteAddr)

	h.send(ctx, conn, ServerMessage{
		Type: "session",
		Data: SessionData{SessionID: sess.ID},
	})

	for {
		var msg ClientMessage
		err := wsjson.Read(ctx, conn, &msg)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				log.Info("console: session closed", "status", status)
			} else {
				log.Debug("console: read failed", "error", err)
			}
			return
		}
		sess.Touch()

		switch msg.Type {
		case "execute":
			h.handleExecute(ctx, conn, sess, msg)
		case "autocomplete":
			h.handleAutocomplete(ctx, conn, msg)
		case "ping":
			h.send(ctx, conn, ServerMessage{Type: "pong", RequestID: msg.ID})
		case "cancel":
			// statements run synchronously; there is nothing to cancel
		default:
			h.sendError(ctx, conn, msg.ID, ErrorData{Code: "unknown_type", Message: fmt.Sprintf("unknown message type: %s", msg.Type)})
		}
	}
}

func (h *Handler) handleExecute(ctx context.Context, conn *websocket.Conn, sess *session.Session, msg ClientMessage) {
	start := time.Now()

	var data ExecuteData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, ErrorData{Code: "invalid_data", Message: "invalid execute data"})
		return
	}
	if data.Query == "" {
		h.sendError(ctx, conn, msg.ID, ErrorData{Code: "empty_query", Message: "empty query"})
		return
	}

	sess.AddHistory(data.Query)

	if meta.IsCommand(data.Query) {
		result, err := h.meta.Execute(sess, data.Query)
		if err != nil {
			h.sendError(ctx, conn, msg.ID, ErrorFor(err, "meta_error"))
			return
		}
		h.send(ctx, conn, ServerMessage{Type: "meta", RequestID: msg.ID, Data: result})
		return
	}

	result, err := h.engine.ExecuteQuery(ctx, data.Query, sess.Bindings(data.Params))
	if err != nil {
		h.sendError(ctx, conn, msg.ID, ErrorFor(err, "exec_error"))
		return
	}

	h.send(ctx, conn, ServerMessage{
		Type:      "columns",
		RequestID: msg.ID,
		Data:      ColumnsData{Columns: result.Columns(), Total: result.RecordCount()},
	})

	rows, err := EncodeRows(result)
	if err != nil {
		h.sendError(ctx, conn, msg.ID, ErrorData{Code: "encode_error", Message: err.Error()})
		return
	}
	for i := 0; i < len(rows); i += rowBatchSize {
		end := min(i+rowBatchSize, len(rows))
		h.send(ctx, conn, ServerMessage{
			Type:      "rows",
			RequestID: msg.ID,
			Data:      RowsData{Rows: rows[i:end]},
		})
	}

	h.send(ctx, conn, ServerMessage{
		Type:      "done",
		RequestID: msg.ID,
		Data: DoneData{
			Total:   result.RecordCount(),
			Elapsed: time.Since(start).String(),
		},
	})
}

func (h *Handler) handleAutocomplete(ctx context.Context, conn *websocket.Conn, msg ClientMessage) {
	var data AutocompleteData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, ErrorData{Code: "invalid_data", Message: "invalid autocomplete data"})
		return
	}

	items := h.autocomplete.Complete(data.Query, data.Cursor)
	h.send(ctx, conn, ServerMessage{
		Type:      "completions",
		RequestID: msg.ID,
		Data:      CompletionsData{Items: items},
	})
}

// EncodeRows renders every row of a result as a JSON object.
func EncodeRows(result *quel.Result) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, result.RecordCount())
	for _, row := range result.Rows() {
		data, err := json.Marshal(row)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// ErrorFor maps engine errors to their wire codes; anything else gets
// fallback.
func ErrorFor(err error, fallback string) ErrorData {
	var (
		lexErr   *ql.LexerError
		parseErr *ql.ParseError
		quelErr  *fault.QuelError
	)
	switch {
	case errors.As(err, &lexErr):
		return ErrorData{Code: "lexer_error", Message: lexErr.Message, Line: lexErr.Line, Col: lexErr.Col}
	case errors.As(err, &parseErr):
		return ErrorData{Code: "parse_error", Message: parseErr.Message, Line: parseErr.Line, Col: parseErr.Col, Suggestion: parseErr.Suggestion}
	case errors.As(err, &quelErr):
		ed := ErrorData{Code: "quel_error", Message: quelErr.Message(), Kind: string(quelErr.Code())}
		if orig := quelErr.Original(); orig != nil {
			ed.Original = orig.Error()
		}
		return ed
	}
	return ErrorData{Code: fallback, Message: err.Error()}
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, msg ServerMessage) {
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		h.logger.Debug("console: write failed", "type", msg.Type, "error", err)
	}
}

func (h *Handler) sendError(ctx context.Context, conn *websocket.Conn, requestID string, data ErrorData) {
	h.send(ctx, conn, ServerMessage{
		Type:      "error",
		RequestID: requestID,
		Data:      data,
	})
}
