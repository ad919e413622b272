package router

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kartikbazzad/docdb/internal/config"
	"github.com/kartikbazzad/docdb/internal/indexmgr"
	"github.com/kartikbazzad/docdb/internal/lockmgr"
	"github.com/kartikbazzad/docdb/internal/query"
	"github.com/kartikbazzad/docdb/internal/store"
	"github.com/kartikbazzad/docdb/internal/txn"
	"github.com/kartikbazzad/docdb/internal/wal"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(store.Options{DataPath: dir, NumShards: 4}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(st.Close)

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

	return New(st, idx, engine, coord, cursors, nil, nil)
}

func TestRouterInsertAndGetRoundTrip(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	if resp := r.Dispatch(ctx, Request{Command: CmdCreateCollection, Collection: "users"}); !resp.OK {
		t.Fatalf("create collection failed: %s", resp.Error)
	}

	insertResp := r.Dispatch(ctx, Request{
		Command:    CmdInsert,
		Collection: "users",
		DocID:      "u1",
		Payload:    json.RawMessage(`{"name":"Ada"}`),
	})
	if !insertResp.OK {
		t.Fatalf("insert failed: %s", insertResp.Error)
	}

	getResp := r.Dispatch(ctx, Request{Command: CmdGet, Collection: "users", DocID: "u1"})
	if !getResp.OK {
		t.Fatalf("get failed: %s", getResp.Error)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(getResp.Data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["name"] != "Ada" {
		t.Fatalf("expected name Ada, got %+v", doc)
	}
}

func TestRouterFindFiltersByField(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()
	r.Dispatch(ctx, Request{Command: CmdCreateCollection, Collection: "orders"})
	r.Dispatch(ctx, Request{Command: CmdInsert, Collection: "orders", DocID: "o1", Payload: json.RawMessage(`{"status":"open"}`)})
	r.Dispatch(ctx, Request{Command: CmdInsert, Collection: "orders", DocID: "o2", Payload: json.RawMessage(`{"status":"closed"}`)})

	resp := r.Dispatch(ctx, Request{
		Command:    CmdFind,
		Collection: "orders",
		Payload:    json.RawMessage(`{"filter":{"status":"open"}}`),
	})
	if !resp.OK {
		t.Fatalf("find failed: %s", resp.Error)
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(resp.Data, &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 matching row, got %d", len(rows))
	}
}

func TestRouterExplicitTransactionCommit(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()
	r.Dispatch(ctx, Request{Command: CmdCreateCollection, Collection: "accounts"})

	beginResp := r.Dispatch(ctx, Request{Command: CmdBegin})
	if !beginResp.OK {
		t.Fatalf("begin failed: %s", beginResp.Error)
	}
	var txID uint64
	if err := json.Unmarshal(beginResp.Data, &txID); err != nil {
		t.Fatal(err)
	}

	insertResp := r.Dispatch(ctx, Request{
		Command:    CmdInsert,
		Collection: "accounts",
		DocID:      "a1",
		Payload:    json.RawMessage(`{"balance":100}`),
		TxID:       &txID,
	})
	if !insertResp.OK {
		t.Fatalf("insert inside transaction failed: %s", insertResp.Error)
	}

	if resp := r.Dispatch(ctx, Request{Command: CmdCommit, TxID: &txID}); !resp.OK {
		t.Fatalf("commit failed: %s", resp.Error)
	}

	getResp := r.Dispatch(ctx, Request{Command: CmdGet, Collection: "accounts", DocID: "a1"})
	if !getResp.OK {
		t.Fatalf("get after commit failed: %s", getResp.Error)
	}
}
