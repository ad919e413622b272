// Package query implements the filter/aggregation pipeline compiler and
// executor of spec.md §4.7: a MongoDB-style predicate tree, an index-aware
// executor, an aggregation pipeline, and a cursor manager.
//
// Grounded on the teacher's internal/query/types.go (Query/Expression/
// OrderSpec shapes, generalized here from a flat single predicate to a
// nested tree) and on the sibling bundoc module's internal/query/ast.go
// predicate-tree idiom, extended to the full operator set.
package query

import (
	"fmt"
	"regexp"
	"time"

	"github.com/kartikbazzad/docdb/internal/document"
	"github.com/kartikbazzad/docdb/internal/errors"
)

// Op identifies a predicate operator.
type Op string

const (
	OpEq     Op = "$eq"
	OpNe     Op = "$ne"
	OpGt     Op = "$gt"
	OpGte    Op = "$gte"
	OpLt     Op = "$lt"
	OpLte    Op = "$lte"
	OpIn     Op = "$in"
	OpNin    Op = "$nin"
	OpExists Op = "$exists"
	OpRegex  Op = "$regex"
	OpAnd    Op = "$and"
	OpOr     Op = "$or"
	OpNot    Op = "$not"
)

// Predicate is a node in the filter tree. Leaf nodes (Field != "") compare a
// document field against Value using Op. Connective nodes (Op $and/$or/$not)
// hold child predicates in Children.
type Predicate struct {
	Op       Op
	Field    string
	Value    interface{}
	Children []*Predicate
}

// RegexTimeout bounds every regex match; exceeding it raises errors.RegexTimeout
// (spec.md §4.7 "Regex safety"). Callers may override it by assigning the variable.
var RegexTimeout = 100 * time.Millisecond

// ParsePredicate compiles a raw filter document (as decoded from JSON/BSON-like
// map[string]interface{}) into a Predicate tree. Unknown operator names raise
// errors.QuerySyntaxError; unrecognized top-level fields are treated as an
// implicit $eq against that field's value.
func ParsePredicate(raw map[string]interface{}) (*Predicate, error) {
	if len(raw) == 0 {
		return &Predicate{Op: OpAnd}, nil
	}
	return parseObject(raw)
}

func parseObject(raw map[string]interface{}) (*Predicate, error) {
	children := make([]*Predicate, 0, len(raw))
	for k, v := range raw {
		p, err := parseField(k, v)
		if err != nil {
			return nil, err
		}
		children = append(children, p)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &Predicate{Op: OpAnd, Children: children}, nil
}

func parseField(key string, value interface{}) (*Predicate, error) {
	switch Op(key) {
	case OpAnd, OpOr:
		arr, ok := value.([]interface{})
		if !ok {
			return nil, errors.QuerySyntaxError(fmt.Sprintf("%s requires an array of sub-filters", key))
		}
		children := make([]*Predicate, 0, len(arr))
		for _, item := range arr {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, errors.QuerySyntaxError(fmt.Sprintf("%s entries must be filter documents", key))
			}
			p, err := parseObject(m)
			if err != nil {
				return nil, err
			}
			children = append(children, p)
		}
		return &Predicate{Op: Op(key), Children: children}, nil
	case OpNot:
		m, ok := value.(map[string]interface{})
		if !ok {
			return nil, errors.QuerySyntaxError("$not requires a filter document")
		}
		child, err := parseObject(m)
		if err != nil {
			return nil, err
		}
		return &Predicate{Op: OpNot, Children: []*Predicate{child}}, nil
	}

	// Field-level predicate: either a bare value (implicit $eq) or an
	// operator document like {"$gt": 5, "$lt": 10}.
	opsMap, ok := value.(map[string]interface{})
	if !ok {
		return &Predicate{Op: OpEq, Field: key, Value: value}, nil
	}

	operatorLike := false
	for k := range opsMap {
		if len(k) > 0 && k[0] == '$' {
			operatorLike = true
			break
		}
	}
	if !operatorLike {
		return &Predicate{Op: OpEq, Field: key, Value: opsMap}, nil
	}

	fieldChildren := make([]*Predicate, 0, len(opsMap))
	for opName, opVal := range opsMap {
		op := Op(opName)
		switch op {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNin, OpExists, OpRegex:
			fieldChildren = append(fieldChildren, &Predicate{Op: op, Field: key, Value: opVal})
		default:
			return nil, errors.QuerySyntaxError(fmt.Sprintf("unknown operator %q", opName))
		}
	}
	if len(fieldChildren) == 1 {
		return fieldChildren[0], nil
	}
	return &Predicate{Op: OpAnd, Children: fieldChildren}, nil
}

// Match evaluates p against doc. A regex evaluation that exceeds RegexTimeout
// returns errors.RegexTimeout rather than blocking indefinitely.
func (p *Predicate) Match(doc *document.Document) (bool, error) {
	if p == nil {
		return true, nil
	}
	switch p.Op {
	case OpAnd:
		for _, c := range p.Children {
			ok, err := c.Match(doc)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case OpOr:
		for _, c := range p.Children {
			ok, err := c.Match(doc)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return len(p.Children) == 0, nil
	case OpNot:
		if len(p.Children) != 1 {
			return false, errors.QuerySyntaxError("$not expects exactly one sub-filter")
		}
		ok, err := p.Children[0].Match(doc)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}

	actual, present := lookupField(doc.Data, p.Field)
	switch p.Op {
	case OpEq:
		return present && compareEqual(actual, p.Value), nil
	case OpNe:
		return !(present && compareEqual(actual, p.Value)), nil
	case OpGt:
		return present && compareOrdered(actual, p.Value) > 0, nil
	case OpGte:
		return present && compareOrdered(actual, p.Value) >= 0, nil
	case OpLt:
		return present && compareOrdered(actual, p.Value) < 0, nil
	case OpLte:
		return present && compareOrdered(actual, p.Value) <= 0, nil
	case OpIn:
		return present && valueInSet(actual, p.Value), nil
	case OpNin:
		return !(present && valueInSet(actual, p.Value)), nil
	case OpExists:
		want, _ := p.Value.(bool)
		return present == want, nil
	case OpRegex:
		if !present {
			return false, nil
		}
		return matchRegex(p.Value, actual)
	default:
		return false, errors.QuerySyntaxError(fmt.Sprintf("unknown operator %q", p.Op))
	}
}

// Fields lists the top-level field names this predicate touches directly
// (not within $or/$not subtrees). The engine's index selection does not
// call it; it gathers equality conjuncts with collectEqualities.
func (p *Predicate) Fields() []string {
	if p == nil {
		return nil
	}
	if p.Op == OpAnd {
		out := make([]string, 0, len(p.Children))
		for _, c := range p.Children {
			out = append(out, c.Fields()...)
		}
		return out
	}
	if p.Field != "" {
		return []string{p.Field}
	}
	return nil
}

// lookupField resolves a field_path, following dotted segments through
// nested objects (spec.md §3), via the same traversal the index manager
// uses to build index keys.
func lookupField(data map[string]interface{}, field string) (interface{}, bool) {
	return document.LookupPath(data, field)
}

func compareEqual(a, b interface{}) bool {
	fa, oka := toFloat(a)
	fb, okb := toFloat(b)
	if oka && okb {
		return fa == fb
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func compareOrdered(a, b interface{}) int {
	fa, oka := toFloat(a)
	fb, okb := toFloat(b)
	if oka && okb {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	sa, sb := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

func valueInSet(actual, set interface{}) bool {
	arr, ok := set.([]interface{})
	if !ok {
		return false
	}
	for _, v := range arr {
		if compareEqual(actual, v) {
			return true
		}
	}
	return false
}

// matchRegex runs the pattern match on a cancellable goroutine under
// RegexTimeout, per spec.md §9's ReDoS guard (Go's RE2 engine is already
// non-backtracking, but the timeout invariant is enforced regardless).
func matchRegex(pattern, actual interface{}) (bool, error) {
	pat, ok := pattern.(string)
	if !ok {
		return false, errors.QuerySyntaxError("$regex requires a string pattern")
	}
	s := fmt.Sprintf("%v", actual)

	re, err := regexp.Compile(pat)
	if err != nil {
		return false, errors.QuerySyntaxError(fmt.Sprintf("invalid regex %q: %v", pat, err))
	}

	result := make(chan bool, 1)
	go func() { result <- re.MatchString(s) }()
	select {
	case matched := <-result:
		return matched, nil
	case <-time.After(RegexTimeout):
		return false, errors.RegexTimeout(pat)
	}
}
