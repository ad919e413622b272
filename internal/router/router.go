// Package router dispatches decoded wire commands to the storage,
// transaction, and query layers. The command-keyed switch with one handler
// method per command, and a Router struct holding every collaborator it
// dispatches into, is grounded on the teacher's internal/ipc/handler.go
// Handler.Handle switch over Command bytes.
package router

import (
	"context"
	"encoding/json"

	"github.com/kartikbazzad/docdb/internal/document"
	"github.com/kartikbazzad/docdb/internal/errors"
	"github.com/kartikbazzad/docdb/internal/indexmgr"
	"github.com/kartikbazzad/docdb/internal/logger"
	"github.com/kartikbazzad/docdb/internal/query"
	"github.com/kartikbazzad/docdb/internal/security"
	"github.com/kartikbazzad/docdb/internal/store"
	"github.com/kartikbazzad/docdb/internal/txn"
)

// Command identifies one of spec.md §6's command-set entries.
type Command string

const (
	CmdGet              Command = "GET"
	CmdSet              Command = "SET"
	CmdDelete           Command = "DELETE"
	CmdExists           Command = "EXISTS"
	CmdCount            Command = "COUNT"
	CmdListCollections  Command = "LIST_COLLECTIONS"
	CmdFind             Command = "FIND"
	CmdFindOne          Command = "FIND_ONE"
	CmdAggregate        Command = "AGGREGATE"
	CmdInsert           Command = "INSERT"
	CmdReplace          Command = "REPLACE"
	CmdCreateIndex      Command = "CREATE_INDEX"
	CmdDropIndex        Command = "DROP_INDEX"
	CmdListIndexes      Command = "LIST_INDEXES"
	CmdBegin            Command = "BEGIN"
	CmdCommit           Command = "COMMIT"
	CmdRollback         Command = "ROLLBACK"
	CmdCreateCollection Command = "CREATE_COLLECTION"
	CmdDropCollection   Command = "DROP_COLLECTION"
	CmdGetMore          Command = "GET_MORE"
	CmdKillCursor       Command = "KILL_CURSOR"
	CmdPing             Command = "PING"
)

// Request is a decoded command ready for dispatch. Collection and DocID are
// unused by commands that don't need them (BEGIN, PING, ...). TxID, when
// non-nil, runs the operation inside the caller's open transaction instead
// of an implicit single-statement one.
type Request struct {
	Command    Command
	Collection string
	DocID      string
	Payload    json.RawMessage
	TxID       *uint64
	Principal  security.Principal
}

// Response mirrors spec.md §7's error envelope on failure and carries raw
// JSON data on success.
type Response struct {
	OK    bool
	Data  json.RawMessage
	Code  errors.Code
	Error string
}

// Router owns every collaborator a command may need and the security
// capability it must check before dispatching.
type Router struct {
	store    *store.Store
	idx      *indexmgr.Manager
	engine   *query.Engine
	coord    *txn.Coordinator
	cursors  *query.CursorManager
	security security.SecurityContext
	log      *logger.Logger
}

func New(st *store.Store, idx *indexmgr.Manager, engine *query.Engine, coord *txn.Coordinator, cursors *query.CursorManager, sec security.SecurityContext, log *logger.Logger) *Router {
	if sec == nil {
		sec = security.AllowAllSecurityContext{}
	}
	return &Router{store: st, idx: idx, engine: engine, coord: coord, cursors: cursors, security: sec, log: log}
}

// Dispatch authorizes and executes req, auditing the outcome unconditionally.
func (r *Router) Dispatch(ctx context.Context, req Request) Response {
	action := string(req.Command)
	resource := req.Collection
	if err := r.security.Authorize(ctx, req.Principal, action, resource); err != nil {
		r.security.Audit(ctx, req.Principal, action, resource, err)
		return errResponse(err)
	}

	resp := r.dispatch(ctx, req)
	var auditErr error
	if !resp.OK {
		auditErr = errors.New(resp.Code, resp.Error)
	}
	r.security.Audit(ctx, req.Principal, action, resource, auditErr)
	return resp
}

func (r *Router) dispatch(ctx context.Context, req Request) Response {
	switch req.Command {
	case CmdPing:
		return okResponse(json.RawMessage(`"pong"`))
	case CmdCreateCollection:
		return r.handleCreateCollection(req)
	case CmdDropCollection:
		return r.handleDropCollection(req)
	case CmdGet:
		return r.handleGet(req)
	case CmdExists:
		return r.handleExists(req)
	case CmdCount:
		return r.handleCount(req)
	case CmdInsert:
		return r.handleInsert(req)
	case CmdReplace:
		return r.handleReplace(req)
	case CmdSet:
		return r.handleSet(req)
	case CmdDelete:
		return r.handleDelete(req)
	case CmdFind:
		return r.handleFind(ctx, req)
	case CmdFindOne:
		return r.handleFindOne(ctx, req)
	case CmdAggregate:
		return r.handleAggregate(req)
	case CmdCreateIndex:
		return r.handleCreateIndex(req)
	case CmdDropIndex:
		return r.handleDropIndex(req)
	case CmdListIndexes:
		return r.handleListIndexes(req)
	case CmdBegin:
		return r.handleBegin(req)
	case CmdCommit:
		return r.handleCommit(req)
	case CmdRollback:
		return r.handleRollback(req)
	case CmdGetMore:
		return r.handleGetMore(req)
	case CmdKillCursor:
		return r.handleKillCursor(req)
	default:
		return errResponse(errors.Validation("unknown command"))
	}
}

func (r *Router) handleCreateCollection(req Request) Response {
	if err := r.store.EnsureCollection(req.Collection); err != nil {
		return errResponse(err)
	}
	return okResponse(nil)
}

func (r *Router) handleDropCollection(req Request) Response {
	if err := r.store.DropCollection(req.Collection); err != nil {
		return errResponse(err)
	}
	return okResponse(nil)
}

func (r *Router) handleGet(req Request) Response {
	doc, _, err := r.withTx(req, func(tx *txn.Tx) (*document.Document, error) {
		return r.coord.Read(tx, req.Collection, req.DocID)
	})
	if err != nil {
		return errResponse(err)
	}
	return marshalResponse(doc)
}

func (r *Router) handleExists(req Request) Response {
	_, err := r.store.Get(req.Collection, req.DocID)
	if err != nil {
		return okResponse(json.RawMessage(`false`))
	}
	return okResponse(json.RawMessage(`true`))
}

func (r *Router) handleCount(req Request) Response {
	n, err := r.store.Count(req.Collection)
	if err != nil {
		return errResponse(err)
	}
	return marshalResponse(n)
}

func (r *Router) handleInsert(req Request) Response {
	doc, err := document.FromJSON("", req.Payload)
	if err != nil {
		return errResponse(err)
	}
	if req.DocID != "" {
		doc.ID = req.DocID
	}
	_, _, err = withTxGeneric(r, req, func(tx *txn.Tx) (struct{}, error) {
		return struct{}{}, r.coord.Insert(tx, req.Collection, doc)
	})
	if err != nil {
		return errResponse(err)
	}
	return marshalResponse(doc)
}

func (r *Router) handleReplace(req Request) Response {
	doc, err := document.FromJSON(req.DocID, req.Payload)
	if err != nil {
		return errResponse(err)
	}
	_, _, err = withTxGeneric(r, req, func(tx *txn.Tx) (struct{}, error) {
		return struct{}{}, r.coord.Update(tx, req.Collection, doc)
	})
	if err != nil {
		return errResponse(err)
	}
	return marshalResponse(doc)
}

// handleSet is an upsert: insert if absent, replace if present, matching
// spec.md §8's "set(d); set(d) is idempotent in content" round-trip.
func (r *Router) handleSet(req Request) Response {
	existing, getErr := r.store.Get(req.Collection, req.DocID)
	if getErr != nil {
		return r.handleInsert(req)
	}
	doc, err := document.FromJSON(req.DocID, req.Payload)
	if err != nil {
		return errResponse(err)
	}
	doc.Version = existing.Version
	_, _, err = withTxGeneric(r, req, func(tx *txn.Tx) (struct{}, error) {
		return struct{}{}, r.coord.Update(tx, req.Collection, doc)
	})
	if err != nil {
		return errResponse(err)
	}
	return marshalResponse(doc)
}

func (r *Router) handleDelete(req Request) Response {
	_, _, err := withTxGeneric(r, req, func(tx *txn.Tx) (struct{}, error) {
		return struct{}{}, r.coord.Delete(tx, req.Collection, req.DocID)
	})
	if err != nil {
		return marshalResponse(false)
	}
	return marshalResponse(true)
}

// handleFind runs the query inside req's transaction (or an implicit one),
// so Find's locking honors the transaction's configured isolation level
// per spec.md §2's "queries... still pass through the lock manager" rule.
func (r *Router) handleFind(ctx context.Context, req Request) Response {
	q, err := decodeQuery(req.Payload)
	if err != nil {
		return errResponse(err)
	}
	rows, _, err := withTxGeneric(r, req, func(tx *txn.Tx) ([]query.Row, error) {
		return r.engine.Find(ctx, tx, req.Collection, q)
	})
	if err != nil {
		return errResponse(err)
	}
	return marshalRows(rows)
}

func (r *Router) handleFindOne(ctx context.Context, req Request) Response {
	q, err := decodeQuery(req.Payload)
	if err != nil {
		return errResponse(err)
	}
	q.Limit = 1
	rows, _, err := withTxGeneric(r, req, func(tx *txn.Tx) ([]query.Row, error) {
		return r.engine.Find(ctx, tx, req.Collection, q)
	})
	if err != nil {
		return errResponse(err)
	}
	if len(rows) == 0 {
		return okResponse(json.RawMessage(`null`))
	}
	return okResponse(rows[0].Payload)
}

// handleAggregate scans the collection inside a transaction, honoring the
// same per-document/range locking policy handleFind uses, before handing
// the rows to the aggregation pipeline (which runs outside any lock since
// it only operates on the already-locked snapshot of rows).
func (r *Router) handleAggregate(req Request) Response {
	var stages []stageSpec
	if err := json.Unmarshal(req.Payload, &stages); err != nil {
		return errResponse(errors.Validation("aggregate payload must be a JSON array of stage documents"))
	}
	pipeline, err := buildPipeline(stages)
	if err != nil {
		return errResponse(err)
	}

	rows, _, err := withTxGeneric(r, req, func(tx *txn.Tx) ([]query.Row, error) {
		if err := r.coord.LockRange(tx, req.Collection); err != nil {
			return nil, err
		}

		var all []*document.Document
		scanErr := r.store.Scan(req.Collection, func(d *document.Document) bool {
			all = append(all, d)
			return true
		})
		if scanErr != nil {
			return nil, scanErr
		}

		rows := make([]query.Row, 0, len(all))
		for _, d := range all {
			if err := r.coord.LockRead(tx, req.Collection, d.ID); err != nil {
				return nil, err
			}
			b, err := json.Marshal(d)
			if err != nil {
				return nil, err
			}
			rows = append(rows, query.Row{DocID: d.ID, Payload: b})
		}
		return rows, nil
	})
	if err != nil {
		return errResponse(err)
	}

	out, err := pipeline.Run(query.NewRowStream(rows))
	if err != nil {
		return errResponse(err)
	}
	return marshalRows(out)
}

func (r *Router) handleCreateIndex(req Request) Response {
	var def indexmgr.Definition
	if err := json.Unmarshal(req.Payload, &def); err != nil {
		return errResponse(errors.Validation("malformed index definition"))
	}
	if err := r.idx.CreateIndex(req.Collection, def); err != nil {
		return errResponse(err)
	}
	return okResponse(nil)
}

func (r *Router) handleDropIndex(req Request) Response {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(req.Payload, &body); err != nil {
		return errResponse(errors.Validation("malformed drop-index payload"))
	}
	if err := r.idx.DropIndex(req.Collection, body.Name); err != nil {
		return errResponse(err)
	}
	return okResponse(nil)
}

func (r *Router) handleListIndexes(req Request) Response {
	return marshalResponse(r.idx.Indexes(req.Collection))
}

func (r *Router) handleBegin(req Request) Response {
	isolation := txn.ParseIsolation("")
	var body struct {
		Isolation string `json:"isolation"`
	}
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &body); err == nil && body.Isolation != "" {
			isolation = txn.ParseIsolation(body.Isolation)
		}
	}
	tx := r.coord.Begin(isolation)
	return marshalResponse(uint64(tx.ID))
}

func (r *Router) handleCommit(req Request) Response {
	tx, err := r.requireTx(req)
	if err != nil {
		return errResponse(err)
	}
	if err := r.coord.Commit(tx); err != nil {
		return errResponse(err)
	}
	if r.cursors != nil && req.TxID != nil {
		r.cursors.CloseAllOwnedBy(*req.TxID)
	}
	return okResponse(nil)
}

func (r *Router) handleRollback(req Request) Response {
	tx, err := r.requireTx(req)
	if err != nil {
		return errResponse(err)
	}
	if err := r.coord.Rollback(tx); err != nil {
		return errResponse(err)
	}
	if r.cursors != nil && req.TxID != nil {
		r.cursors.CloseAllOwnedBy(*req.TxID)
	}
	return okResponse(nil)
}

func (r *Router) handleGetMore(req Request) Response {
	var body struct {
		CursorID string `json:"cursor_id"`
		Batch    int    `json:"batch"`
	}
	if err := json.Unmarshal(req.Payload, &body); err != nil {
		return errResponse(errors.Validation("malformed get_more payload"))
	}
	if r.cursors == nil {
		return errResponse(errors.CursorNotFound(body.CursorID))
	}
	rows, err := r.cursors.GetNextBatch(body.CursorID, body.Batch)
	if err != nil {
		return errResponse(err)
	}
	return marshalRows(rows)
}

func (r *Router) handleKillCursor(req Request) Response {
	var body struct {
		CursorID string `json:"cursor_id"`
	}
	if err := json.Unmarshal(req.Payload, &body); err != nil {
		return errResponse(errors.Validation("malformed kill_cursor payload"))
	}
	if r.cursors != nil {
		r.cursors.Close(body.CursorID)
	}
	return okResponse(nil)
}

// tracked transactions: the coordinator's Tx carries its own ID, but
// requests address it by the uint64 the BEGIN response returned.
func (r *Router) requireTx(req Request) (*txn.Tx, error) {
	if req.TxID == nil {
		return nil, errors.Validation("command requires an open transaction")
	}
	return r.coord.Lookup(*req.TxID)
}

// withTxGeneric runs fn inside req's transaction if one was supplied, else opens
// and commits an implicit single-statement transaction around it.
func withTxGeneric[T any](r *Router, req Request, fn func(tx *txn.Tx) (T, error)) (T, *txn.Tx, error) {
	var zero T
	if req.TxID != nil {
		tx, err := r.coord.Lookup(*req.TxID)
		if err != nil {
			return zero, nil, err
		}
		v, err := fn(tx)
		return v, tx, err
	}

	tx := r.coord.Begin(txn.ParseIsolation(""))
	v, err := fn(tx)
	if err != nil {
		_ = r.coord.Rollback(tx)
		return zero, tx, err
	}
	if err := r.coord.Commit(tx); err != nil {
		return zero, tx, err
	}
	return v, tx, nil
}

func (r *Router) withTx(req Request, fn func(tx *txn.Tx) (*document.Document, error)) (*document.Document, *txn.Tx, error) {
	return withTxGeneric(r, req, fn)
}

func okResponse(data json.RawMessage) Response {
	return Response{OK: true, Data: data}
}

func errResponse(err error) Response {
	code := errors.CodeOf(err)
	switch err {
	case errors.ErrDocNotFound, errors.ErrCollectionNotFound:
		code = errors.CodeNotFound
	case errors.ErrDocExists, errors.ErrCollectionExists:
		code = errors.CodeDuplicateKey
	case errors.ErrInvalidJSON, errors.ErrNotJSONObject, errors.ErrPayloadTooLarge:
		code = errors.CodeValidationError
	}
	if code == "" {
		code = errors.Code("INTERNAL_ERROR")
	}
	return Response{OK: false, Code: code, Error: err.Error()}
}

func marshalResponse(v interface{}) Response {
	b, err := json.Marshal(v)
	if err != nil {
		return errResponse(err)
	}
	return okResponse(b)
}

func marshalRows(rows []query.Row) Response {
	out := make([]json.RawMessage, len(rows))
	for i, row := range rows {
		out[i] = row.Payload
	}
	return marshalResponse(out)
}

func decodeQuery(payload json.RawMessage) (query.Query, error) {
	var body struct {
		Filter     map[string]interface{} `json:"filter"`
		Sort       []query.OrderSpec      `json:"sort"`
		Skip       int                    `json:"skip"`
		Limit      int                    `json:"limit"`
		Projection *query.Projection      `json:"projection"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return query.Query{}, errors.Validation("malformed find payload")
		}
	}
	filter, err := query.ParsePredicate(body.Filter)
	if err != nil {
		return query.Query{}, err
	}
	return query.Query{
		Filter:     filter,
		Sort:       body.Sort,
		Skip:       body.Skip,
		Limit:      body.Limit,
		Projection: body.Projection,
	}, nil
}
