package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/quellabs/objectquel/internal/quel"
	"github.com/quellabs/objectquel/internal/quel/schema/schematest"
	"github.com/quellabs/objectquel/internal/quel/source"
	"github.com/quellabs/objectquel/internal/repl/session"
	"github.com/quellabs/objectquel/internal/repl/wire"
)

func newServer(t *testing.T) (*httptest.Server, *session.Manager) {
	t.Helper()
	ctx := context.Background()
	sink, err := source.OpenSQL(ctx, "sqlite", "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })
	require.NoError(t, schematest.Populate(ctx, sink.DB()))

	engine, err := quel.New(schematest.Shop(), sink)
	require.NoError(t, err)

	sessions := session.NewManager(time.Hour, time.Hour)
	r := chi.NewRouter()
	RegisterRoutes(r, engine, sessions, slog.New(slog.DiscardHandler))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, sessions
}

func TestSchemaEndpoint(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/api/console/schema")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entities []entityView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entities))
	require.Len(t, entities, 4)
	assert.Equal(t, "Category", entities[0].Name)
	assert.Equal(t, "Product", entities[1].Name)
	assert.Equal(t, fieldView{Name: "productId", Column: "product_id", Type: "int", Identifier: true}, entities[1].Fields[0])
	assert.Contains(t, entities[1].Relations, relationView{Name: "tags", Target: "Tag", Cardinality: "M2M", Bridge: "ProductTag"})
}

func postQuery(t *testing.T, srv *httptest.Server, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/console/query", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestQueryEndpoint(t *testing.T) {
	srv, _ := newServer(t)

	resp, body := postQuery(t, srv, `{"query": "range of p is Product retrieve (p.name) where p.price > :min sort by p.name", "params": {"min": 10}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out queryResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, []string{"p.name"}, out.Columns)
	assert.Equal(t, 2, out.Total)
	assert.JSONEq(t, `{"p.name": "Gadget"}`, string(out.Rows[0]))

	resp, body = postQuery(t, srv, `{"query": "range of p is Product retrieve (p) where"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var e wire.ErrorData
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "parse_error", e.Code)

	resp, _ = postQuery(t, srv, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// console drives one WebSocket session.
type console struct {
	t    *testing.T
	ctx  context.Context
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server) *console {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/console/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return &console{t: t, ctx: ctx, conn: conn}
}

type reply struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

func (c *console) read() reply {
	c.t.Helper()
	var r reply
	require.NoError(c.t, wsjson.Read(c.ctx, c.conn, &r))
	return r
}

func (c *console) send(typ, id string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	require.NoError(c.t, wsjson.Write(c.ctx, c.conn, wire.ClientMessage{Type: typ, ID: id, Data: raw}))
}

func TestConsole_Session(t *testing.T) {
	srv, sessions := newServer(t)
	c := dial(t, srv)

	hello := c.read()
	require.Equal(t, "session", hello.Type)
	var sd wire.SessionData
	require.NoError(t, json.Unmarshal(hello.Data, &sd))
	assert.NotNil(t, sessions.Get(sd.SessionID))

	// :set binds a parameter for the next statement
	c.send("execute", "1", wire.ExecuteData{Query: ":set id 1527"})
	assert.Equal(t, "meta", c.read().Type)

	c.send("execute", "2", wire.ExecuteData{Query: "range of p is Product retrieve (p) where p.productId = :id"})
	cols := c.read()
	require.Equal(t, "columns", cols.Type)
	assert.Equal(t, "2", cols.RequestID)
	var cd wire.ColumnsData
	require.NoError(t, json.Unmarshal(cols.Data, &cd))
	assert.Equal(t, wire.ColumnsData{Columns: []string{"p"}, Total: 1}, cd)

	rows := c.read()
	require.Equal(t, "rows", rows.Type)
	var rd wire.RowsData
	require.NoError(t, json.Unmarshal(rows.Data, &rd))
	require.Len(t, rd.Rows, 1)
	var row map[string]map[string]any
	require.NoError(t, json.Unmarshal(rd.Rows[0], &row))
	assert.Equal(t, "Hose", row["p"]["name"])

	assert.Equal(t, "done", c.read().Type)

	c.send("execute", "3", wire.ExecuteData{Query: "range of p is Prodcut retrieve (p)"})
	errReply := c.read()
	require.Equal(t, "error", errReply.Type)
	var ed wire.ErrorData
	require.NoError(t, json.Unmarshal(errReply.Data, &ed))
	assert.Equal(t, "quel_error", ed.Code)
	assert.Equal(t, "plan", ed.Kind)

	c.send("autocomplete", "4", wire.AutocompleteData{Query: "range of p is Prod", Cursor: 18})
	comp := c.read()
	require.Equal(t, "completions", comp.Type)
	assert.Contains(t, string(comp.Data), `"Product"`)

	c.send("ping", "5", nil)
	assert.Equal(t, "pong", c.read().Type)

	c.send("bogus", "6", nil)
	assert.Equal(t, "error", c.read().Type)
}
