package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/kartikbazzad/docdb/cmd/docdbsh/parser"
	"github.com/kartikbazzad/docdb/internal/router"
)

type Result interface {
	Print(w io.Writer)
	IsExit() bool
}

type ErrorResult struct {
	Err string
}

func (e ErrorResult) Print(w io.Writer) {
	fmt.Fprintln(w, "ERROR")
	fmt.Fprintln(w, e.Err)
}

func (e ErrorResult) IsExit() bool { return false }

type ExitResult struct{}

func (e ExitResult) Print(w io.Writer) {}

func (e ExitResult) IsExit() bool { return true }

type HelpResult struct{}

func (h HelpResult) Print(w io.Writer) {
	fmt.Fprintln(w, "docdb shell commands:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Meta:")
	fmt.Fprintln(w, "  .help                        show this help message")
	fmt.Fprintln(w, "  .exit                        exit the shell")
	fmt.Fprintln(w, "  .clear                       clear current collection and transaction state")
	fmt.Fprintln(w, "  .pretty [on|off]             toggle pretty-printed JSON output")
	fmt.Fprintln(w, "  .history                     show command history")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Collections:")
	fmt.Fprintln(w, "  .use <collection>            select the current collection")
	fmt.Fprintln(w, "  .create-collection <name>    create a collection")
	fmt.Fprintln(w, "  .drop-collection <name>      drop a collection")
	fmt.Fprintln(w, "  .collections                 list collections")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Documents (on the current collection):")
	fmt.Fprintln(w, "  .insert <doc_id> <json>      insert a document")
	fmt.Fprintln(w, "  .get <doc_id>                fetch a document")
	fmt.Fprintln(w, "  .set <doc_id> <json>         replace a document")
	fmt.Fprintln(w, "  .delete <doc_id>             delete a document")
	fmt.Fprintln(w, "  .count                       count documents")
	fmt.Fprintln(w, "  .find <json filter>          find matching documents")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Indexes:")
	fmt.Fprintln(w, "  .create-index <name> <field> [unique]   create a secondary index")
	fmt.Fprintln(w, "  .drop-index <name>                      drop a secondary index")
	fmt.Fprintln(w, "  .list-indexes                           list indexes on the current collection")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Transactions:")
	fmt.Fprintln(w, "  .begin [isolation]           begin a transaction (default read_committed)")
	fmt.Fprintln(w, "  .commit                      commit the active transaction")
	fmt.Fprintln(w, "  .rollback                    roll back the active transaction")
}

func (h HelpResult) IsExit() bool { return false }

type ClearResult struct{}

func (c ClearResult) Print(w io.Writer) { fmt.Fprintln(w, "OK") }

func (c ClearResult) IsExit() bool { return false }

type OKResult struct{}

func (o OKResult) Print(w io.Writer) { fmt.Fprintln(w, "OK") }

func (o OKResult) IsExit() bool { return false }

// DataResult prints a response's Data payload, pretty-printed when the
// shell has .pretty enabled.
type DataResult struct {
	Data   json.RawMessage
	Pretty bool
}

func (d DataResult) Print(w io.Writer) {
	fmt.Fprintln(w, "OK")
	if len(d.Data) == 0 {
		return
	}
	if !d.Pretty {
		fmt.Fprintln(w, string(d.Data))
		return
	}
	var v interface{}
	if err := json.Unmarshal(d.Data, &v); err != nil {
		fmt.Fprintln(w, string(d.Data))
		return
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(w, string(d.Data))
		return
	}
	fmt.Fprintln(w, string(out))
}

func (d DataResult) IsExit() bool { return false }

type HistoryResult struct {
	Entries []string
}

func (h HistoryResult) Print(w io.Writer) {
	for i, e := range h.Entries {
		fmt.Fprintf(w, "%4d  %s\n", i+1, e)
	}
}

func (h HistoryResult) IsExit() bool { return false }

func Help() Result { return HelpResult{} }

func Exit() Result { return ExitResult{} }

func Clear(s Shell) Result {
	s.SetCollection("")
	s.SetTxID(nil)
	return ClearResult{}
}

func History(s Shell) Result { return HistoryResult{Entries: s.GetHistory()} }

func Pretty(s Shell, cmd *parser.Command) Result {
	if len(cmd.Args) == 0 {
		s.SetPretty(!s.GetPretty())
		return OKResult{}
	}
	switch strings.ToLower(cmd.Args[0]) {
	case "on":
		s.SetPretty(true)
	case "off":
		s.SetPretty(false)
	default:
		return ErrorResult{Err: "expected .pretty [on|off]"}
	}
	return OKResult{}
}

func Use(s Shell, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	s.SetCollection(cmd.Args[0])
	return OKResult{}
}

func CreateCollection(s Shell, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	return runNoPayload(s, router.CmdCreateCollection, cmd.Args[0], "")
}

func DropCollection(s Shell, cmd *parser.Command) Result {
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	return runNoPayload(s, router.CmdDropCollection, cmd.Args[0], "")
}

func ListCollections(s Shell) Result {
	resp, err := s.GetClient().Do(router.CmdListCollections, "", "", nil, nil)
	return fromResponse(s, resp, err)
}

func Insert(s Shell, cmd *parser.Command) Result {
	if err := parser.ValidateCollection(s.GetCollection()); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	if err := parser.ValidateArgs(cmd, 2); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	docID := cmd.Args[0]
	payload, err := decodeJSONArgs(cmd.Args[1:])
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	resp, err := s.GetClient().Do(router.CmdInsert, s.GetCollection(), docID, payload, s.GetTxID())
	return fromResponse(s, resp, err)
}

func Get(s Shell, cmd *parser.Command) Result {
	if err := parser.ValidateCollection(s.GetCollection()); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	resp, err := s.GetClient().Do(router.CmdGet, s.GetCollection(), cmd.Args[0], nil, s.GetTxID())
	return fromResponse(s, resp, err)
}

func Set(s Shell, cmd *parser.Command) Result {
	if err := parser.ValidateCollection(s.GetCollection()); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	if err := parser.ValidateArgs(cmd, 2); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	docID := cmd.Args[0]
	payload, err := decodeJSONArgs(cmd.Args[1:])
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	resp, err := s.GetClient().Do(router.CmdReplace, s.GetCollection(), docID, payload, s.GetTxID())
	return fromResponse(s, resp, err)
}

func Delete(s Shell, cmd *parser.Command) Result {
	if err := parser.ValidateCollection(s.GetCollection()); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	resp, err := s.GetClient().Do(router.CmdDelete, s.GetCollection(), cmd.Args[0], nil, s.GetTxID())
	return fromResponse(s, resp, err)
}

func Count(s Shell) Result {
	if err := parser.ValidateCollection(s.GetCollection()); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	resp, err := s.GetClient().Do(router.CmdCount, s.GetCollection(), "", nil, s.GetTxID())
	return fromResponse(s, resp, err)
}

func Find(s Shell, cmd *parser.Command) Result {
	if err := parser.ValidateCollection(s.GetCollection()); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	var payload json.RawMessage
	if len(cmd.Args) > 0 {
		decoded, err := decodeJSONArgs(cmd.Args)
		if err != nil {
			return ErrorResult{Err: err.Error()}
		}
		payload = decoded
	} else {
		payload = json.RawMessage(`{}`)
	}
	resp, err := s.GetClient().Do(router.CmdFind, s.GetCollection(), "", payload, s.GetTxID())
	return fromResponse(s, resp, err)
}

func CreateIndex(s Shell, cmd *parser.Command) Result {
	if err := parser.ValidateCollection(s.GetCollection()); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	if err := parser.ValidateArgs(cmd, 2); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	unique := len(cmd.Args) > 2 && strings.EqualFold(cmd.Args[2], "unique")
	body := struct {
		Name   string `json:"name"`
		Field  string `json:"field"`
		Unique bool   `json:"unique"`
	}{Name: cmd.Args[0], Field: cmd.Args[1], Unique: unique}
	payload, err := json.Marshal(body)
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	resp, err := s.GetClient().Do(router.CmdCreateIndex, s.GetCollection(), "", payload, s.GetTxID())
	return fromResponse(s, resp, err)
}

func DropIndex(s Shell, cmd *parser.Command) Result {
	if err := parser.ValidateCollection(s.GetCollection()); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	if err := parser.ValidateArgs(cmd, 1); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	body := struct {
		Name string `json:"name"`
	}{Name: cmd.Args[0]}
	payload, err := json.Marshal(body)
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	resp, err := s.GetClient().Do(router.CmdDropIndex, s.GetCollection(), "", payload, s.GetTxID())
	return fromResponse(s, resp, err)
}

func ListIndexes(s Shell) Result {
	if err := parser.ValidateCollection(s.GetCollection()); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	resp, err := s.GetClient().Do(router.CmdListIndexes, s.GetCollection(), "", nil, nil)
	return fromResponse(s, resp, err)
}

func Begin(s Shell, cmd *parser.Command) Result {
	if s.GetTxID() != nil {
		return ErrorResult{Err: "transaction already active"}
	}
	isolation := "read_committed"
	if len(cmd.Args) > 0 {
		isolation = cmd.Args[0]
	}
	body := struct {
		Isolation string `json:"isolation"`
	}{Isolation: isolation}
	payload, err := json.Marshal(body)
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	resp, err := s.GetClient().Do(router.CmdBegin, "", "", payload, nil)
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	if !resp.OK {
		return ErrorResult{Err: resp.Error}
	}
	var out struct {
		TxID uint64 `json:"tx_id"`
	}
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	s.SetTxID(&out.TxID)
	return DataResult{Data: resp.Data, Pretty: s.GetPretty()}
}

func Commit(s Shell) Result {
	txID := s.GetTxID()
	if txID == nil {
		return ErrorResult{Err: "no active transaction"}
	}
	resp, err := s.GetClient().Do(router.CmdCommit, "", "", nil, txID)
	s.SetTxID(nil)
	return fromResponse(s, resp, err)
}

func Rollback(s Shell) Result {
	txID := s.GetTxID()
	if txID == nil {
		return ErrorResult{Err: "no active transaction"}
	}
	resp, err := s.GetClient().Do(router.CmdRollback, "", "", nil, txID)
	s.SetTxID(nil)
	return fromResponse(s, resp, err)
}

func runNoPayload(s Shell, cmd router.Command, collection, docID string) Result {
	resp, err := s.GetClient().Do(cmd, collection, docID, nil, s.GetTxID())
	return fromResponse(s, resp, err)
}

func fromResponse(s Shell, resp router.Response, err error) Result {
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	if !resp.OK {
		return ErrorResult{Err: resp.Error}
	}
	return DataResult{Data: resp.Data, Pretty: s.GetPretty()}
}

func decodeJSONArgs(args []string) (json.RawMessage, error) {
	s := strings.TrimSpace(strings.Join(args, " "))
	if s == "" {
		return nil, fmt.Errorf("payload cannot be empty")
	}
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return out, nil
}
