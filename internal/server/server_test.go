package server

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/kartikbazzad/docdb/internal/config"
	"github.com/kartikbazzad/docdb/internal/indexmgr"
	"github.com/kartikbazzad/docdb/internal/lockmgr"
	"github.com/kartikbazzad/docdb/internal/query"
	"github.com/kartikbazzad/docdb/internal/router"
	"github.com/kartikbazzad/docdb/internal/store"
	"github.com/kartikbazzad/docdb/internal/txn"
	"github.com/kartikbazzad/docdb/internal/wal"
	"github.com/kartikbazzad/docdb/internal/wire"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(store.Options{DataPath: dir, NumShards: 4}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(st.Close)
	if err := st.EnsureCollection("widgets"); err != nil {
		t.Fatal(err)
	}

	walLog, err := wal.Open(config.WALConfig{Dir: dir}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { walLog.Close() })

	locks := lockmgr.New(0, nil)
	idx := indexmgr.New(0, nil)
	coord := txn.New(locks, walLog, st, idx, txn.ReadCommitted, time.Second, 30*time.Second, nil)
	engine := query.NewEngine(st, idx, coord, nil)
	cursors := query.NewCursorManager(time.Minute, nil)
	r := router.New(st, idx, engine, coord, cursors, nil, nil)

	cfg := config.Default()
	srv := New("127.0.0.1:0", cfg, r, nil, nil)
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func sendCommand(t *testing.T, conn net.Conn, env commandEnvelope) router.Response {
	t.Helper()
	payload, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	if err := wire.WriteMessage(conn, &wire.Message{Version: wire.ProtocolVersion, Type: wire.TypeCommand, Payload: payload}); err != nil {
		t.Fatal(err)
	}
	reply, err := wire.ReadMessage(conn, wire.DefaultMaxPayload)
	if err != nil {
		t.Fatal(err)
	}
	var resp router.Response
	if err := json.Unmarshal(reply.Payload, &resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestServerInsertAndGetOverWire(t *testing.T) {
	srv := newTestServer(t)

	conn, err := net.Dial("tcp", srv.listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	insertResp := sendCommand(t, conn, commandEnvelope{
		Command:    router.CmdInsert,
		Collection: "widgets",
		DocID:      "w1",
		Payload:    json.RawMessage(`{"name":"sprocket"}`),
	})
	if !insertResp.OK {
		t.Fatalf("insert failed: %s", insertResp.Error)
	}

	getResp := sendCommand(t, conn, commandEnvelope{Command: router.CmdGet, Collection: "widgets", DocID: "w1"})
	if !getResp.OK {
		t.Fatalf("get failed: %s", getResp.Error)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(getResp.Data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["name"] != "sprocket" {
		t.Fatalf("expected name sprocket, got %+v", doc)
	}
}

func TestServerPing(t *testing.T) {
	srv := newTestServer(t)

	conn, err := net.Dial("tcp", srv.listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := wire.WriteMessage(conn, &wire.Message{Version: wire.ProtocolVersion, Type: wire.TypePing}); err != nil {
		t.Fatal(err)
	}
	reply, err := wire.ReadMessage(conn, wire.DefaultMaxPayload)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Type != wire.TypePong {
		t.Fatalf("expected pong, got type %d", reply.Type)
	}
}
