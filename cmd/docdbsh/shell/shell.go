package shell

import (
	"fmt"
	"sync"

	"github.com/kartikbazzad/docdb/cmd/docdbsh/client"
	"github.com/kartikbazzad/docdb/cmd/docdbsh/commands"
	"github.com/kartikbazzad/docdb/cmd/docdbsh/parser"
)

// Shell tracks the state a REPL session needs between commands: the
// selected collection, an optional in-flight transaction ID, display
// preferences, and recent history. The old multi-database dbID/dbName
// lifecycle is gone along with the partitioned engine it addressed.
type Shell struct {
	addr              string
	currentCollection string
	txID              *uint64
	pretty            bool
	history           []string
	client            *client.Client
	mu                sync.Mutex
}

func NewShell(addr string) (*Shell, error) {
	return &Shell{
		addr:   addr,
		client: client.New(addr),
	}, nil
}

func (s *Shell) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Connect()
}

func (s *Shell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Close()
}

func (s *Shell) SetCollection(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentCollection = collection
}

func (s *Shell) GetCollection() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentCollection
}

func (s *Shell) SetTxID(id *uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txID = id
}

func (s *Shell) GetTxID() *uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txID
}

func (s *Shell) SetPretty(pretty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pretty = pretty
}

func (s *Shell) GetPretty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pretty
}

func (s *Shell) AddToHistory(cmd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, cmd)
	if len(s.history) > 100 {
		s.history = s.history[1:]
	}
}

func (s *Shell) GetHistory() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := make([]string, len(s.history))
	copy(hist, s.history)
	return hist
}

// Prompt reflects the current collection and transaction state, e.g.
// "docdb[widgets]#12> ".
func (s *Shell) Prompt() string {
	coll := s.GetCollection()
	if coll == "" {
		coll = "(no collection)"
	}
	if tx := s.GetTxID(); tx != nil {
		return fmt.Sprintf("docdb[%s]#%d> ", coll, *tx)
	}
	return fmt.Sprintf("docdb[%s]> ", coll)
}

func (s *Shell) Execute(cmd *parser.Command) commands.Result {
	switch cmd.Name {
	case ".help":
		return commands.Help()
	case ".exit", ".quit":
		return commands.Exit()
	case ".clear":
		return commands.Clear(s)
	case ".pretty":
		return commands.Pretty(s, cmd)
	case ".history":
		return commands.History(s)
	case ".use":
		return commands.Use(s, cmd)
	case ".create-collection":
		return commands.CreateCollection(s, cmd)
	case ".drop-collection":
		return commands.DropCollection(s, cmd)
	case ".collections":
		return commands.ListCollections(s)
	case ".insert":
		return commands.Insert(s, cmd)
	case ".get":
		return commands.Get(s, cmd)
	case ".set":
		return commands.Set(s, cmd)
	case ".delete":
		return commands.Delete(s, cmd)
	case ".count":
		return commands.Count(s)
	case ".find":
		return commands.Find(s, cmd)
	case ".create-index":
		return commands.CreateIndex(s, cmd)
	case ".drop-index":
		return commands.DropIndex(s, cmd)
	case ".list-indexes":
		return commands.ListIndexes(s)
	case ".begin":
		return commands.Begin(s, cmd)
	case ".commit":
		return commands.Commit(s)
	case ".rollback":
		return commands.Rollback(s)
	default:
		return commands.ErrorResult{Err: fmt.Sprintf("unknown command: %s", cmd.Name)}
	}
}

func (s *Shell) GetClient() commands.Client {
	return s.client
}
