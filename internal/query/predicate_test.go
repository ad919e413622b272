package query

import (
	"testing"
	"time"

	"github.com/kartikbazzad/docdb/internal/document"
	"github.com/kartikbazzad/docdb/internal/errors"
)

func mustParse(t *testing.T, raw map[string]interface{}) *Predicate {
	t.Helper()
	p, err := ParsePredicate(raw)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestImplicitEqOnBareValue(t *testing.T) {
	p := mustParse(t, map[string]interface{}{"sku": "ABC"})
	doc := document.New("a1", map[string]interface{}{"sku": "ABC"})
	ok, err := p.Match(doc)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
}

func TestComparisonOperators(t *testing.T) {
	p := mustParse(t, map[string]interface{}{"qty": map[string]interface{}{"$gt": 5.0, "$lt": 10.0}})
	in := document.New("a1", map[string]interface{}{"qty": 7.0})
	out := document.New("a2", map[string]interface{}{"qty": 12.0})

	if ok, err := p.Match(in); err != nil || !ok {
		t.Fatalf("expected in-range match, got %v %v", ok, err)
	}
	if ok, err := p.Match(out); err != nil || ok {
		t.Fatalf("expected out-of-range no-match, got %v %v", ok, err)
	}
}

func TestOrNot(t *testing.T) {
	p := mustParse(t, map[string]interface{}{
		"$or": []interface{}{
			map[string]interface{}{"status": "open"},
			map[string]interface{}{"status": "pending"},
		},
	})
	open := document.New("a1", map[string]interface{}{"status": "open"})
	closed := document.New("a2", map[string]interface{}{"status": "closed"})

	if ok, _ := p.Match(open); !ok {
		t.Fatal("expected open to match $or")
	}
	if ok, _ := p.Match(closed); ok {
		t.Fatal("expected closed to not match $or")
	}

	not := &Predicate{Op: OpNot, Children: []*Predicate{{Op: OpEq, Field: "status", Value: "open"}}}
	if ok, _ := not.Match(open); ok {
		t.Fatal("expected $not to invert the match")
	}
}

func TestInNin(t *testing.T) {
	p := mustParse(t, map[string]interface{}{"tag": map[string]interface{}{"$in": []interface{}{"a", "b"}}})
	match := document.New("1", map[string]interface{}{"tag": "b"})
	nomatch := document.New("2", map[string]interface{}{"tag": "z"})
	if ok, _ := p.Match(match); !ok {
		t.Fatal("expected $in match")
	}
	if ok, _ := p.Match(nomatch); ok {
		t.Fatal("expected $in no-match")
	}
}

func TestExists(t *testing.T) {
	p := mustParse(t, map[string]interface{}{"email": map[string]interface{}{"$exists": true}})
	has := document.New("1", map[string]interface{}{"email": "a@b.com"})
	missing := document.New("2", map[string]interface{}{})
	if ok, _ := p.Match(has); !ok {
		t.Fatal("expected $exists true to match present field")
	}
	if ok, _ := p.Match(missing); ok {
		t.Fatal("expected $exists true to reject missing field")
	}
}

func TestUnknownOperatorRaisesQuerySyntaxError(t *testing.T) {
	_, err := ParsePredicate(map[string]interface{}{"qty": map[string]interface{}{"$bogus": 1}})
	if err == nil {
		t.Fatal("expected an error")
	}
	var e *errors.Error
	if !errors.As(err, &e) || e.Code != errors.CodeQuerySyntax {
		t.Fatalf("expected CodeQuerySyntax, got %v", err)
	}
}

func TestRegexMatch(t *testing.T) {
	p := mustParse(t, map[string]interface{}{"name": map[string]interface{}{"$regex": "^Sk.*"}})
	doc := document.New("1", map[string]interface{}{"name": "SkuOne"})
	ok, err := p.Match(doc)
	if err != nil || !ok {
		t.Fatalf("expected regex match, got %v %v", ok, err)
	}
}

func TestRegexBudgetIsConfigurable(t *testing.T) {
	old := RegexTimeout
	RegexTimeout = 50 * time.Millisecond
	defer func() { RegexTimeout = old }()

	p := mustParse(t, map[string]interface{}{"name": map[string]interface{}{"$regex": "Sk"}})
	doc := document.New("1", map[string]interface{}{"name": "SkuOne"})
	if ok, err := p.Match(doc); err != nil || !ok {
		t.Fatalf("expected match within budget, got %v %v", ok, err)
	}
}
