package query

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/kartikbazzad/docdb/internal/document"
)

// Stage is one aggregation pipeline step. Stages that can operate lazily
// (match/project/limit/skip) accept a stream and return a stream that pulls
// from it on demand; stages that must buffer their whole input (sort/group)
// declare BufferedStage and are driven eagerly by Pipeline.Run.
type Stage interface {
	Apply(in RowStream) (RowStream, error)
}

// BufferedStage marks a Stage whose Apply call must read its entire input
// before producing output, per spec.md §4.7's "memory-heavy stages must
// declare their buffered set".
type BufferedStage interface {
	Stage
	Buffered() bool
}

// Pipeline is an ordered sequence of aggregation stages, composed lazily
// where the stage implementations allow, grounded on merge.go's RowStream
// lazy-iterator contract so $match/$project/$limit stream directly while
// $sort/$group buffer internally without changing the pipeline's shape.
type Pipeline struct {
	stages []Stage
}

func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Run drives the pipeline to completion and materializes every output row.
// A streaming consumer that wants to pull incrementally can instead call
// Build and iterate the returned RowStream directly.
func (p *Pipeline) Run(source RowStream) ([]Row, error) {
	out, err := p.Build(source)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	var rows []Row
	for {
		row, err := out.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Build composes every stage's Apply without consuming source, returning
// the final lazy stream.
func (p *Pipeline) Build(source RowStream) (RowStream, error) {
	cur := source
	for _, s := range p.stages {
		next, err := s.Apply(cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// sliceStream adapts a materialized []Row to the RowStream contract
// (merge.go's io.EOF-on-exhaustion convention); every buffered stage below
// produces one of these as its output.
type sliceStream struct {
	rows []Row
	pos  int
}

func newSliceStream(rows []Row) *sliceStream { return &sliceStream{rows: rows} }

// NewRowStream adapts a materialized row slice into a RowStream, for
// callers outside this package (the command router's AGGREGATE handler)
// that need to start a Pipeline from an in-memory collection scan.
func NewRowStream(rows []Row) RowStream { return newSliceStream(rows) }

func (s *sliceStream) Next() (Row, error) {
	if s.pos >= len(s.rows) {
		return Row{}, io.EOF
	}
	r := s.rows[s.pos]
	s.pos++
	return r, nil
}
func (s *sliceStream) Close() error { return nil }

func drain(in RowStream) ([]Row, error) {
	var rows []Row
	for {
		row, err := in.Next()
		if err != nil {
			if err == io.EOF {
				return rows, nil
			}
			return nil, err
		}
		rows = append(rows, row)
	}
}

func decodeRow(r Row) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(r.Payload, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeRow(docID string, m map[string]interface{}) (Row, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return Row{}, err
	}
	return Row{DocID: docID, Payload: b}, nil
}

// matchStage is $match: a streaming filter re-using the Predicate tree.
type matchStage struct {
	filter *Predicate
}

func MatchStage(filter *Predicate) Stage { return &matchStage{filter: filter} }

func (s *matchStage) Apply(in RowStream) (RowStream, error) {
	return &matchRowStream{in: in, filter: s.filter}, nil
}

type matchRowStream struct {
	in     RowStream
	filter *Predicate
}

func (m *matchRowStream) Next() (Row, error) {
	for {
		row, err := m.in.Next()
		if err != nil {
			return Row{}, err
		}
		doc, err := decodeRow(row)
		if err != nil {
			return Row{}, err
		}
		ok, err := matchRawDoc(m.filter, doc)
		if err != nil {
			return Row{}, err
		}
		if ok {
			return row, nil
		}
	}
}
func (m *matchRowStream) Close() error { return m.in.Close() }

// matchRawDoc evaluates a predicate against a decoded row payload rather
// than a resident *document.Document, since pipeline intermediates (post-
// $project, post-$group) are no longer backed by one; an ephemeral
// document.Document wrapper lets Predicate.Match stay agnostic to the
// difference.
func matchRawDoc(p *Predicate, data map[string]interface{}) (bool, error) {
	return p.Match(document.New("", data))
}

// projectStage is $project: a streaming include/exclude reshaper.
type projectStage struct {
	spec *Projection
}

func ProjectStage(spec *Projection) Stage { return &projectStage{spec: spec} }

func (s *projectStage) Apply(in RowStream) (RowStream, error) {
	return &projectRowStream{in: in, spec: s.spec}, nil
}

type projectRowStream struct {
	in   RowStream
	spec *Projection
}

func (p *projectRowStream) Next() (Row, error) {
	row, err := p.in.Next()
	if err != nil {
		return Row{}, err
	}
	data, err := decodeRow(row)
	if err != nil {
		return Row{}, err
	}
	out := applyProjectionMap(data, p.spec)
	return encodeRow(row.DocID, out)
}
func (p *projectRowStream) Close() error { return p.in.Close() }

func applyProjectionMap(data map[string]interface{}, spec *Projection) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range data {
		out[k] = v
	}
	if spec == nil {
		return out
	}
	if len(spec.Include) > 0 {
		projected := map[string]interface{}{}
		for k := range spec.Include {
			if v, ok := out[k]; ok {
				projected[k] = v
			}
		}
		if !spec.DropID {
			if id, ok := out["_id"]; ok {
				projected["_id"] = id
			}
		}
		return projected
	}
	if len(spec.Exclude) > 0 {
		for k := range spec.Exclude {
			delete(out, k)
		}
	}
	return out
}

// limitStage and skipStage are streaming with trivial early termination.
type limitStage struct{ n int }

func LimitStage(n int) Stage { return &limitStage{n: n} }
func (s *limitStage) Apply(in RowStream) (RowStream, error) {
	return &limitRowStream{in: in, remaining: s.n}, nil
}

type limitRowStream struct {
	in        RowStream
	remaining int
}

func (l *limitRowStream) Next() (Row, error) {
	if l.remaining <= 0 {
		return Row{}, io.EOF
	}
	row, err := l.in.Next()
	if err != nil {
		return Row{}, err
	}
	l.remaining--
	return row, nil
}
func (l *limitRowStream) Close() error { return l.in.Close() }

type skipStage struct{ n int }

func SkipStage(n int) Stage { return &skipStage{n: n} }
func (s *skipStage) Apply(in RowStream) (RowStream, error) {
	for i := 0; i < s.n; i++ {
		if _, err := in.Next(); err != nil {
			return newSliceStream(nil), nil
		}
	}
	return in, nil
}

// sortStage is $sort: buffered, per spec.md §4.7's "memory-heavy stages
// must declare their buffered set".
type sortStage struct {
	specs []OrderSpec
}

func SortStage(specs []OrderSpec) BufferedStage { return &sortStage{specs: specs} }
func (s *sortStage) Buffered() bool             { return true }

func (s *sortStage) Apply(in RowStream) (RowStream, error) {
	rows, err := drain(in)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return compareRowsBySpecs(rows[i], rows[j], s.specs) < 0
	})
	return newSliceStream(rows), nil
}

func compareRowsBySpecs(a, b Row, specs []OrderSpec) int {
	da, _ := decodeRow(a)
	db, _ := decodeRow(b)
	for _, s := range specs {
		av, _ := document.LookupPath(da, s.Field)
		bv, _ := document.LookupPath(db, s.Field)
		cmp := compareOrdered(av, bv)
		if cmp == 0 {
			continue
		}
		if !s.Asc {
			cmp = -cmp
		}
		return cmp
	}
	if a.DocID < b.DocID {
		return -1
	}
	if a.DocID > b.DocID {
		return 1
	}
	return 0
}

// Accumulator is one $group aggregator kind.
type Accumulator string

const (
	AccSum      Accumulator = "sum"
	AccAvg      Accumulator = "avg"
	AccMin      Accumulator = "min"
	AccMax      Accumulator = "max"
	AccCount    Accumulator = "count"
	AccFirst    Accumulator = "first"
	AccLast     Accumulator = "last"
	AccPush     Accumulator = "push"
	AccAddToSet Accumulator = "addToSet"
)

// GroupField names one output field of a $group stage and how to compute it.
type GroupField struct {
	Name        string
	Accumulator Accumulator
	SourceField string // ignored for "count"
}

// groupStage is $group: buffered, since every input row must be seen before
// any group's aggregate is final.
type groupStage struct {
	keyField string // "" groups everything into a single bucket
	fields   []GroupField
}

func GroupStage(keyField string, fields []GroupField) BufferedStage {
	return &groupStage{keyField: keyField, fields: fields}
}
func (s *groupStage) Buffered() bool { return true }

type groupBucket struct {
	key      interface{}
	count    int
	sums     map[string]float64
	mins     map[string]float64
	maxs     map[string]float64
	haveMM   map[string]bool
	firsts   map[string]interface{}
	lasts    map[string]interface{}
	pushes   map[string][]interface{}
	sets     map[string][]interface{}
	setIndex map[string]map[string]bool
}

func newGroupBucket(key interface{}) *groupBucket {
	return &groupBucket{
		key:      key,
		sums:     map[string]float64{},
		mins:     map[string]float64{},
		maxs:     map[string]float64{},
		haveMM:   map[string]bool{},
		firsts:   map[string]interface{}{},
		lasts:    map[string]interface{}{},
		pushes:   map[string][]interface{}{},
		sets:     map[string][]interface{}{},
		setIndex: map[string]map[string]bool{},
	}
}

func (b *groupBucket) observe(fields []GroupField, data map[string]interface{}) {
	b.count++
	for _, f := range fields {
		v, _ := document.LookupPath(data, f.SourceField)
		switch f.Accumulator {
		case AccSum:
			fv, _ := toFloat(v)
			b.sums[f.Name] += fv
		case AccAvg:
			fv, _ := toFloat(v)
			b.sums[f.Name] += fv
		case AccMin:
			fv, ok := toFloat(v)
			if ok && (!b.haveMM[f.Name] || fv < b.mins[f.Name]) {
				b.mins[f.Name] = fv
				b.haveMM[f.Name] = true
			}
		case AccMax:
			fv, ok := toFloat(v)
			if ok && (!b.haveMM[f.Name] || fv > b.maxs[f.Name]) {
				b.maxs[f.Name] = fv
				b.haveMM[f.Name] = true
			}
		case AccFirst:
			if _, ok := b.firsts[f.Name]; !ok {
				b.firsts[f.Name] = v
			}
		case AccLast:
			b.lasts[f.Name] = v
		case AccPush:
			b.pushes[f.Name] = append(b.pushes[f.Name], v)
		case AccAddToSet:
			key := fmt.Sprintf("%v", v)
			if b.setIndex[f.Name] == nil {
				b.setIndex[f.Name] = map[string]bool{}
			}
			if !b.setIndex[f.Name][key] {
				b.setIndex[f.Name][key] = true
				b.sets[f.Name] = append(b.sets[f.Name], v)
			}
		}
	}
}

func (b *groupBucket) materialize(fields []GroupField, keyField string) map[string]interface{} {
	out := map[string]interface{}{"_id": b.key}
	if keyField == "" {
		out["_id"] = nil
	}
	for _, f := range fields {
		switch f.Accumulator {
		case AccSum:
			out[f.Name] = b.sums[f.Name]
		case AccAvg:
			if b.count > 0 {
				out[f.Name] = b.sums[f.Name] / float64(b.count)
			} else {
				out[f.Name] = 0.0
			}
		case AccMin:
			out[f.Name] = b.mins[f.Name]
		case AccMax:
			out[f.Name] = b.maxs[f.Name]
		case AccCount:
			out[f.Name] = b.count
		case AccFirst:
			out[f.Name] = b.firsts[f.Name]
		case AccLast:
			out[f.Name] = b.lasts[f.Name]
		case AccPush:
			out[f.Name] = b.pushes[f.Name]
		case AccAddToSet:
			out[f.Name] = b.sets[f.Name]
		}
	}
	return out
}

func (s *groupStage) Apply(in RowStream) (RowStream, error) {
	rows, err := drain(in)
	if err != nil {
		return nil, err
	}

	order := []interface{}{}
	buckets := map[string]*groupBucket{}
	for _, row := range rows {
		data, err := decodeRow(row)
		if err != nil {
			return nil, err
		}
		var key interface{}
		if s.keyField != "" {
			key, _ = document.LookupPath(data, s.keyField)
		}
		keyStr := fmt.Sprintf("%v", key)
		b, ok := buckets[keyStr]
		if !ok {
			b = newGroupBucket(key)
			buckets[keyStr] = b
			order = append(order, keyStr)
		}
		b.observe(s.fields, data)
	}

	out := make([]Row, 0, len(order))
	for i, keyStr := range order {
		b := buckets[keyStr]
		m := b.materialize(s.fields, s.keyField)
		row, err := encodeRow(fmt.Sprintf("group-%d", i), m)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return newSliceStream(out), nil
}

