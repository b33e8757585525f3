// Package repl provides the WebSocket query console for Quel.
package repl

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quellabs/objectquel/internal/quel"
	"github.com/quellabs/objectquel/internal/quel/schema"
	"github.com/quellabs/objectquel/internal/repl/autocomplete"
	"github.com/quellabs/objectquel/internal/repl/meta"
	"github.com/quellabs/objectquel/internal/repl/session"
	"github.com/quellabs/objectquel/internal/repl/wire"
)

// RegisterRoutes registers console HTTP and WebSocket routes on the given
// router.
func RegisterRoutes(r chi.Router, engine *quel.Engine, sessions *session.Manager, logger *slog.Logger) {
	registry := engine.Registry()
	ac := autocomplete.New(registry)
	metaHandler := meta.New(registry, engine)

	wsHandler := wire.NewHandler(sessions, engine, ac, metaHandler, logger)

	r.Route("/api/console", func(r chi.Router) {
		r.Get("/ws", wsHandler.ServeHTTP)

		// Schema endpoint (REST, for inspector/tooling)
		r.Get("/schema", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, describe(registry))
		})

		// One-shot query, for clients that do not speak WebSocket.
		r.Post("/query", func(w http.ResponseWriter, r *http.Request) {
			var req wire.ExecuteData
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, wire.ErrorData{Code: "invalid_data", Message: "invalid query request"})
				return
			}
			result, err := engine.ExecuteQuery(r.Context(), req.Query, req.Params)
			if err != nil {
				writeJSON(w, http.StatusUnprocessableEntity, wire.ErrorFor(err, "exec_error"))
				return
			}
			rows, err := wire.EncodeRows(result)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, wire.ErrorData{Code: "encode_error", Message: err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, queryResponse{Columns: result.Columns(), Rows: rows, Total: result.RecordCount()})
		})
	})
}

type queryResponse struct {
	Columns []string          `json:"columns"`
	Rows    []json.RawMessage `json:"rows"`
	Total   int               `json:"total"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("console: encoding response", "error", err)
	}
}

// ── schema view ─────────────────────────────────────────────────────────────

type fieldView struct {
	Name       string `json:"name"`
	Column     string `json:"column"`
	Type       string `json:"type"`
	Identifier bool   `json:"identifier,omitempty"`
	Optional   bool   `json:"optional,omitempty"`
}

type relationView struct {
	Name        string `json:"name"`
	Target      string `json:"target"`
	Cardinality string `json:"cardinality"`
	Bridge      string `json:"bridge,omitempty"`
}

type entityView struct {
	Name      string         `json:"name"`
	Table     string         `json:"table"`
	Fields    []fieldView    `json:"fields"`
	Relations []relationView `json:"relations,omitempty"`
}

func describe(registry *schema.Registry) []entityView {
	out := make([]entityView, 0, len(registry.EntityNames()))
	for _, name := range registry.EntityNames() {
		es := registry.Entity(name)
		ev := entityView{Name: es.Name, Table: es.Table}
		for _, f := range es.FieldOrder {
			fm := es.Fields[f]
			ev.Fields = append(ev.Fields, fieldView{
				Name:       fm.Name,
				Column:     fm.Column,
				Type:       fm.Type.String(),
				Identifier: fm.Identifier,
				Optional:   fm.Optional,
			})
		}
		for _, r := range es.RelationOrder {
			rm := es.Relations[r]
			ev.Relations = append(ev.Relations, relationView{
				Name:        rm.Name,
				Target:      rm.Target,
				Cardinality: string(rm.Cardinality),
				Bridge:      rm.Bridge,
			})
		}
		out = append(out, ev)
	}
	return out
}
