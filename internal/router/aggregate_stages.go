package router

import (
	"encoding/json"

	"github.com/kartikbazzad/docdb/internal/errors"
	"github.com/kartikbazzad/docdb/internal/query"
)

// stageSpec is one element of an AGGREGATE command's pipeline array, e.g.
// {"$match": {...}} or {"$group": {"_id": "$region", "total": {"$sum": "$amount"}}}.
type stageSpec map[string]json.RawMessage

func buildPipeline(specs []stageSpec) (*query.Pipeline, error) {
	stages := make([]query.Stage, 0, len(specs))
	for _, spec := range specs {
		stage, err := buildStage(spec)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	return query.NewPipeline(stages...), nil
}

func buildStage(spec stageSpec) (query.Stage, error) {
	if raw, ok := spec["$match"]; ok {
		var filter map[string]interface{}
		if err := json.Unmarshal(raw, &filter); err != nil {
			return nil, errors.QuerySyntaxError("$match stage must be a filter document")
		}
		pred, err := query.ParsePredicate(filter)
		if err != nil {
			return nil, err
		}
		return query.MatchStage(pred), nil
	}
	if raw, ok := spec["$project"]; ok {
		proj, err := parseProjectStageSpec(raw)
		if err != nil {
			return nil, err
		}
		return query.ProjectStage(proj), nil
	}
	if raw, ok := spec["$sort"]; ok {
		var fields map[string]int
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, errors.QuerySyntaxError("$sort stage must map field to 1 or -1")
		}
		specs := make([]query.OrderSpec, 0, len(fields))
		for field, dir := range fields {
			specs = append(specs, query.OrderSpec{Field: field, Asc: dir >= 0})
		}
		return query.SortStage(specs), nil
	}
	if raw, ok := spec["$limit"]; ok {
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, errors.QuerySyntaxError("$limit stage must be an integer")
		}
		return query.LimitStage(n), nil
	}
	if raw, ok := spec["$skip"]; ok {
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, errors.QuerySyntaxError("$skip stage must be an integer")
		}
		return query.SkipStage(n), nil
	}
	if raw, ok := spec["$group"]; ok {
		return parseGroupStage(raw)
	}
	for k := range spec {
		return nil, errors.QuerySyntaxError("unknown pipeline stage " + k)
	}
	return nil, errors.QuerySyntaxError("empty pipeline stage document")
}

func parseProjectStageSpec(raw json.RawMessage) (*query.Projection, error) {
	var fields map[string]int
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.QuerySyntaxError("$project stage must map field to 0 or 1")
	}
	proj := &query.Projection{Include: map[string]bool{}, Exclude: map[string]bool{}}
	for field, flag := range fields {
		if field == "_id" && flag == 0 {
			proj.DropID = true
			continue
		}
		if flag != 0 {
			proj.Include[field] = true
		} else {
			proj.Exclude[field] = true
		}
	}
	return proj, nil
}

// accumulatorSpec decodes {"$sum": "$amount"} style accumulator documents.
type accumulatorSpec map[string]json.RawMessage

func parseGroupStage(raw json.RawMessage) (query.Stage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.QuerySyntaxError("$group stage must be a document")
	}
	idRaw, ok := doc["_id"]
	if !ok {
		return nil, errors.QuerySyntaxError("$group stage requires an _id key expression")
	}

	var keyExpr string
	if err := json.Unmarshal(idRaw, &keyExpr); err != nil {
		return nil, errors.QuerySyntaxError("$group _id must be a field reference such as \"$region\"")
	}
	keyField := trimFieldRef(keyExpr)

	fields := make([]query.GroupField, 0, len(doc)-1)
	for name, rawAcc := range doc {
		if name == "_id" {
			continue
		}
		var accDoc accumulatorSpec
		if err := json.Unmarshal(rawAcc, &accDoc); err != nil {
			return nil, errors.QuerySyntaxError("group field " + name + " must be an accumulator document")
		}
		gf, err := parseAccumulator(name, accDoc)
		if err != nil {
			return nil, err
		}
		fields = append(fields, gf)
	}

	return query.GroupStage(keyField, fields), nil
}

func parseAccumulator(name string, accDoc accumulatorSpec) (query.GroupField, error) {
	for op, raw := range accDoc {
		acc, err := accumulatorFromOp(op)
		if err != nil {
			return query.GroupField{}, err
		}
		if acc == query.AccCount {
			return query.GroupField{Name: name, Accumulator: acc}, nil
		}
		var sourceExpr string
		if err := json.Unmarshal(raw, &sourceExpr); err != nil {
			return query.GroupField{}, errors.QuerySyntaxError("accumulator " + op + " requires a field reference")
		}
		return query.GroupField{Name: name, Accumulator: acc, SourceField: trimFieldRef(sourceExpr)}, nil
	}
	return query.GroupField{}, errors.QuerySyntaxError("group field " + name + " has no accumulator operator")
}

func accumulatorFromOp(op string) (query.Accumulator, error) {
	switch op {
	case "$sum":
		return query.AccSum, nil
	case "$avg":
		return query.AccAvg, nil
	case "$min":
		return query.AccMin, nil
	case "$max":
		return query.AccMax, nil
	case "$count":
		return query.AccCount, nil
	case "$first":
		return query.AccFirst, nil
	case "$last":
		return query.AccLast, nil
	case "$push":
		return query.AccPush, nil
	case "$addToSet":
		return query.AccAddToSet, nil
	default:
		return "", errors.QuerySyntaxError("unknown accumulator " + op)
	}
}

// trimFieldRef strips a leading "$" from a Mongo-style field reference,
// falling back to the raw string for expressions that aren't references.
func trimFieldRef(expr string) string {
	if len(expr) > 0 && expr[0] == '$' {
		return expr[1:]
	}
	return expr
}
