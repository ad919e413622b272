package commands

import (
	"encoding/json"

	"github.com/kartikbazzad/docdb/internal/router"
)

// Client is what the shell needs from a connection to the engine: a single
// request/response round trip over the wire protocol, keyed by collection
// and an optional transaction ID instead of the teacher's numeric dbID.
type Client interface {
	Do(cmd router.Command, collection, docID string, payload json.RawMessage, txID *uint64) (router.Response, error)
	Ping() error
}

// Shell is the state commands.go mutates: the current collection, the
// active transaction (if any), pretty-printing, and command history.
type Shell interface {
	GetClient() Client
	GetCollection() string
	SetCollection(collection string)
	GetTxID() *uint64
	SetTxID(id *uint64)
	GetPretty() bool
	SetPretty(pretty bool)
	GetHistory() []string
}
