package commands_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/kartikbazzad/docdb/cmd/docdbsh/commands"
	"github.com/kartikbazzad/docdb/cmd/docdbsh/parser"
	"github.com/kartikbazzad/docdb/internal/router"
)

// fakeClient lets commands tests exercise the command functions without a
// real server, recording the last request it saw.
type fakeClient struct {
	resp    router.Response
	err     error
	lastCmd router.Command
	lastTx  *uint64
}

func (f *fakeClient) Do(cmd router.Command, collection, docID string, payload json.RawMessage, txID *uint64) (router.Response, error) {
	f.lastCmd = cmd
	f.lastTx = txID
	return f.resp, f.err
}

func (f *fakeClient) Ping() error { return nil }

// fakeShell is a minimal commands.Shell backed by plain fields.
type fakeShell struct {
	client     *fakeClient
	collection string
	txID       *uint64
	pretty     bool
	history    []string
}

func (s *fakeShell) GetClient() commands.Client     { return s.client }
func (s *fakeShell) GetCollection() string          { return s.collection }
func (s *fakeShell) SetCollection(c string)         { s.collection = c }
func (s *fakeShell) GetTxID() *uint64               { return s.txID }
func (s *fakeShell) SetTxID(id *uint64)             { s.txID = id }
func (s *fakeShell) GetPretty() bool                { return s.pretty }
func (s *fakeShell) SetPretty(p bool)               { s.pretty = p }
func (s *fakeShell) GetHistory() []string            { return s.history }

func TestInsertRequiresCollection(t *testing.T) {
	s := &fakeShell{client: &fakeClient{}}
	cmd := &parser.Command{Name: ".insert", Args: []string{"w1", `{"name":"sprocket"}`}}

	result := commands.Insert(s, cmd)
	errResult, ok := result.(commands.ErrorResult)
	if !ok {
		t.Fatalf("expected ErrorResult when no collection is selected, got %T", result)
	}
	if !strings.Contains(errResult.Err, "no collection selected") {
		t.Errorf("unexpected error message: %s", errResult.Err)
	}
}

func TestInsertSendsInsertCommand(t *testing.T) {
	fc := &fakeClient{resp: router.Response{OK: true, Data: json.RawMessage(`{"name":"sprocket"}`)}}
	s := &fakeShell{client: fc, collection: "widgets"}
	cmd := &parser.Command{Name: ".insert", Args: []string{"w1", `{"name":"sprocket"}`}}

	result := commands.Insert(s, cmd)
	if _, ok := result.(commands.DataResult); !ok {
		t.Fatalf("expected DataResult, got %T", result)
	}
	if fc.lastCmd != router.CmdInsert {
		t.Errorf("expected CmdInsert, got %s", fc.lastCmd)
	}
}

func TestBeginTracksTxID(t *testing.T) {
	fc := &fakeClient{resp: router.Response{OK: true, Data: json.RawMessage(`{"tx_id":7}`)}}
	s := &fakeShell{client: fc}
	cmd := &parser.Command{Name: ".begin"}

	commands.Begin(s, cmd)
	if s.txID == nil || *s.txID != 7 {
		t.Fatalf("expected txID 7 to be tracked, got %v", s.txID)
	}
}

func TestCommitClearsTxID(t *testing.T) {
	txID := uint64(7)
	fc := &fakeClient{resp: router.Response{OK: true}}
	s := &fakeShell{client: fc, txID: &txID}

	commands.Commit(s)
	if s.txID != nil {
		t.Error("expected txID to be cleared after commit")
	}
	if fc.lastTx == nil || *fc.lastTx != 7 {
		t.Error("expected commit to be sent with the active txID")
	}
}

func TestValidateArgs(t *testing.T) {
	cmd := &parser.Command{
		Name: ".test",
		Args: []string{"arg1", "arg2"},
	}

	if err := parser.ValidateArgs(cmd, 2); err != nil {
		t.Errorf("ValidateArgs(2) should not error, got: %v", err)
	}

	if err := parser.ValidateArgs(cmd, 3); err == nil {
		t.Error("ValidateArgs(3) should error")
	}
}

func TestValidateCollection(t *testing.T) {
	if err := parser.ValidateCollection(""); err == nil {
		t.Error("ValidateCollection(\"\") should error")
	}

	if err := parser.ValidateCollection("widgets"); err != nil {
		t.Errorf("ValidateCollection(\"widgets\") should not error, got: %v", err)
	}
}

func TestParseUint64(t *testing.T) {
	tests := []struct {
		input    string
		expected uint64
		wantErr  bool
	}{
		{"0", 0, false},
		{"1", 1, false},
		{"123", 123, false},
		{"18446744073709551615", 18446744073709551615, false},
		{"-1", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		result, err := parser.ParseUint64(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseUint64(%q) should error", tt.input)
			}
		} else {
			if err != nil {
				t.Errorf("ParseUint64(%q) error: %v", tt.input, err)
			}
			if result != tt.expected {
				t.Errorf("ParseUint64(%q) = %d, want %d", tt.input, result, tt.expected)
			}
		}
	}
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:    "raw string",
			input:   `raw:"Hello"`,
			want:    "",
			wantErr: true,
		},
		{
			name:    "raw unquoted",
			input:   `raw:Hello`,
			want:    "",
			wantErr: true,
		},
		{
			name:    "hex valid",
			input:   `hex:48656c6c6f`,
			want:    "",
			wantErr: true,
		},
		{
			name:    "hex invalid",
			input:   `hex:xyz`,
			want:    "",
			wantErr: true,
		},
		{
			name:    "hex odd length",
			input:   `hex:48656`,
			want:    "",
			wantErr: true,
		},
		{
			name:    "json valid",
			input:   `json:{"key":"value"}`,
			want:    `{"key":"value"}`,
			wantErr: false,
		},
		{
			name:    "json invalid",
			input:   `json:{invalid}`,
			want:    "",
			wantErr: true,
		},
		{
			name:    "missing prefix",
			input:   `Hello`,
			want:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parser.DecodePayload(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("DecodePayload(%q) should error", tt.input)
				}
			} else {
				if err != nil {
					t.Errorf("DecodePayload(%q) error: %v", tt.input, err)
				}
				if string(result) != tt.want {
					t.Errorf("DecodePayload(%q) = %q, want %q", tt.input, result, tt.want)
				}
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantCmd  string
		wantArgs []string
		wantErr  bool
	}{
		{
			name:     "simple command",
			input:    ".help",
			wantCmd:  ".help",
			wantArgs: []string{},
			wantErr:  false,
		},
		{
			name:     "command with args",
			input:    ".open testdb",
			wantCmd:  ".open",
			wantArgs: []string{"testdb"},
			wantErr:  false,
		},
		{
			name:     "command with multiple args",
			input:    `.insert w1 {"name":"sprocket"}`,
			wantCmd:  ".insert",
			wantArgs: []string{"w1", `{"name":"sprocket"}`},
			wantErr:  false,
		},
		{
			name:     "missing dot prefix",
			input:    "help",
			wantCmd:  "",
			wantArgs: nil,
			wantErr:  true,
		},
		{
			name:     "empty command",
			input:    "",
			wantCmd:  "",
			wantArgs: nil,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parser.Parse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Parse(%q) should error", tt.input)
				}
			} else {
				if err != nil {
					t.Errorf("Parse(%q) error: %v", tt.input, err)
				}
				if result.Name != tt.wantCmd {
					t.Errorf("Parse(%q) = %v, want %v", tt.input, result.Name, tt.wantCmd)
				}
				if len(result.Args) != len(tt.wantArgs) {
					t.Errorf("Parse(%q) args = %v, want %v", tt.input, result.Args, tt.wantArgs)
				}
			}
		})
	}
}

func TestErrorResult(t *testing.T) {
	var sb strings.Builder
	result := commands.ErrorResult{Err: "test error"}
	result.Print(&sb)

	output := sb.String()
	if !strings.Contains(output, "ERROR") {
		t.Error("ErrorResult should contain ERROR")
	}
	if !strings.Contains(output, "test error") {
		t.Error("ErrorResult should contain error message")
	}
	if result.IsExit() {
		t.Error("ErrorResult.IsExit() should be false")
	}
}

func TestOKResult(t *testing.T) {
	var sb strings.Builder
	result := commands.OKResult{}
	result.Print(&sb)

	output := sb.String()
	if !strings.Contains(output, "OK") {
		t.Error("OKResult should contain OK")
	}
	if result.IsExit() {
		t.Error("OKResult.IsExit() should be false")
	}
}

func TestExitResult(t *testing.T) {
	result := commands.ExitResult{}
	if !result.IsExit() {
		t.Error("ExitResult.IsExit() should be true")
	}
}

func TestHelpResult(t *testing.T) {
	var sb strings.Builder
	result := commands.HelpResult{}
	result.Print(&sb)

	output := sb.String()
	if !strings.Contains(output, "docdb shell commands") {
		t.Error("HelpResult should contain header")
	}
	if !strings.Contains(output, ".help") {
		t.Error("HelpResult should contain .help")
	}
}
