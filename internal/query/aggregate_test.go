package query

import (
	"encoding/json"
	"testing"
)

func rowsFrom(t *testing.T, docs []map[string]interface{}) []Row {
	t.Helper()
	rows := make([]Row, 0, len(docs))
	for i, d := range docs {
		b, err := json.Marshal(d)
		if err != nil {
			t.Fatal(err)
		}
		rows = append(rows, Row{DocID: string(rune('a' + i)), Payload: b})
	}
	return rows
}

func TestPipelineMatchProjectLimit(t *testing.T) {
	rows := rowsFrom(t, []map[string]interface{}{
		{"status": "open", "qty": 1.0, "secret": "x"},
		{"status": "closed", "qty": 2.0, "secret": "y"},
		{"status": "open", "qty": 3.0, "secret": "z"},
	})

	filter := &Predicate{Op: OpEq, Field: "status", Value: "open"}
	p := NewPipeline(
		MatchStage(filter),
		ProjectStage(&Projection{Exclude: map[string]bool{"secret": true}}),
		LimitStage(1),
	)

	out, err := p.Run(newSliceStream(rows))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 row after limit, got %d", len(out))
	}
	var m map[string]interface{}
	json.Unmarshal(out[0].Payload, &m)
	if _, ok := m["secret"]; ok {
		t.Fatal("expected secret excluded by $project")
	}
}

func TestPipelineSortStage(t *testing.T) {
	rows := rowsFrom(t, []map[string]interface{}{
		{"qty": 3.0}, {"qty": 1.0}, {"qty": 2.0},
	})
	p := NewPipeline(SortStage([]OrderSpec{{Field: "qty", Asc: true}}))
	out, err := p.Run(newSliceStream(rows))
	if err != nil {
		t.Fatal(err)
	}
	var vals []float64
	for _, r := range out {
		var m map[string]interface{}
		json.Unmarshal(r.Payload, &m)
		vals = append(vals, m["qty"].(float64))
	}
	if vals[0] != 1.0 || vals[1] != 2.0 || vals[2] != 3.0 {
		t.Fatalf("expected ascending order, got %v", vals)
	}
}

func TestPipelineGroupStageAccumulators(t *testing.T) {
	rows := rowsFrom(t, []map[string]interface{}{
		{"region": "east", "amount": 10.0},
		{"region": "east", "amount": 20.0},
		{"region": "west", "amount": 5.0},
	})
	p := NewPipeline(GroupStage("region", []GroupField{
		{Name: "total", Accumulator: AccSum, SourceField: "amount"},
		{Name: "n", Accumulator: AccCount},
		{Name: "maxAmt", Accumulator: AccMax, SourceField: "amount"},
	}))

	out, err := p.Run(newSliceStream(rows))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 group buckets, got %d", len(out))
	}

	totals := map[string]float64{}
	for _, r := range out {
		var m map[string]interface{}
		json.Unmarshal(r.Payload, &m)
		totals[m["_id"].(string)] = m["total"].(float64)
	}
	if totals["east"] != 30.0 || totals["west"] != 5.0 {
		t.Fatalf("unexpected group totals: %v", totals)
	}
}

func TestPipelineSkipStage(t *testing.T) {
	rows := rowsFrom(t, []map[string]interface{}{
		{"qty": 1.0}, {"qty": 2.0}, {"qty": 3.0},
	})
	p := NewPipeline(SkipStage(2))
	out, err := p.Run(newSliceStream(rows))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 row after skipping 2, got %d", len(out))
	}
}
