package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/datasource"
	"github.com/schmitech/orbit/templates"
)

const defaultMongoMaxLimit = 100

// MongoOperation is the rendered form of a Mongo operation template.
type MongoOperation struct {
	QueryType  string        `json:"query_type"`
	Collection string        `json:"collection,omitempty"`
	Filter     interface{}   `json:"filter,omitempty"`
	Projection interface{}   `json:"projection,omitempty"`
	Sort       []interface{} `json:"sort,omitempty"`
	Limit      int64         `json:"limit,omitempty"`
	Skip       int64         `json:"skip,omitempty"`
	Pipeline   []interface{} `json:"pipeline,omitempty"`
}

// MongoExecutor runs rendered find/count/aggregate templates against a
// named MongoDB datasource.
type MongoExecutor struct {
	ds         *datasource.MongoDatasource
	collection string
	maxLimit   int64
	logger     core.Logger
}

// NewMongoExecutor builds an executor. collection is the default when the
// operation document does not name one; maxLimit clamps result sizes.
func NewMongoExecutor(ds *datasource.MongoDatasource, collection string, maxLimit int64, logger core.Logger) *MongoExecutor {
	if maxLimit <= 0 {
		maxLimit = defaultMongoMaxLimit
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &MongoExecutor{ds: ds, collection: collection, maxLimit: maxLimit, logger: logger}
}

// RenderMongo substitutes parameters into the JSON skeleton and parses the
// result. Quoted placeholders ("%(name)s") take the parameter's JSON form,
// so integers stay integers.
func RenderMongo(operation string, params map[string]interface{}) (*MongoOperation, error) {
	rendered := operation
	for name, value := range params {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encoding parameter %s: %w", name, err)
		}
		quoted := fmt.Sprintf(`"%%(%s)s"`, name)
		rendered = strings.ReplaceAll(rendered, quoted, string(encoded))
		rendered = strings.ReplaceAll(rendered, fmt.Sprintf("%%(%s)s", name), string(encoded))
	}
	if m := placeholderRE.FindStringSubmatch(rendered); m != nil {
		return nil, fmt.Errorf("unbound Mongo parameter %q: %w", m[1], core.ErrParameterValidation)
	}

	var op MongoOperation
	if err := json.Unmarshal([]byte(rendered), &op); err != nil {
		return nil, fmt.Errorf("parsing Mongo operation: %v: %w", err, core.ErrInvalidConfiguration)
	}
	switch op.QueryType {
	case "find", "count", "aggregate":
	default:
		return nil, fmt.Errorf("unknown query_type %q: %w", op.QueryType, core.ErrInvalidConfiguration)
	}
	return &op, nil
}

// normalizeExtendedJSON converts {"$oid": "..."} markers to ObjectIds,
// recursively.
func normalizeExtendedJSON(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case map[string]interface{}:
		if oid, ok := x["$oid"].(string); ok && len(x) == 1 {
			id, err := primitive.ObjectIDFromHex(oid)
			if err != nil {
				return nil, fmt.Errorf("invalid $oid %q: %w", oid, core.ErrParameterValidation)
			}
			return id, nil
		}
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			normalized, err := normalizeExtendedJSON(val)
			if err != nil {
				return nil, err
			}
			out[k] = normalized
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			normalized, err := normalizeExtendedJSON(val)
			if err != nil {
				return nil, err
			}
			out[i] = normalized
		}
		return out, nil
	default:
		return v, nil
	}
}

// normalizeSort accepts either {field: direction} maps or [field, direction]
// pairs and produces the driver's ordered document form.
func normalizeSort(sort []interface{}) (bson.D, error) {
	out := bson.D{}
	for _, entry := range sort {
		switch e := entry.(type) {
		case map[string]interface{}:
			for field, dir := range e {
				d, ok := asFloat(dir)
				if !ok {
					return nil, fmt.Errorf("sort direction for %s must be numeric: %w", field, core.ErrParameterValidation)
				}
				out = append(out, bson.E{Key: field, Value: int(d)})
			}
		case []interface{}:
			if len(e) != 2 {
				return nil, fmt.Errorf("sort pair must be [field, direction]: %w", core.ErrParameterValidation)
			}
			field, ok := e[0].(string)
			if !ok {
				return nil, fmt.Errorf("sort field must be a string: %w", core.ErrParameterValidation)
			}
			d, ok := asFloat(e[1])
			if !ok {
				return nil, fmt.Errorf("sort direction for %s must be numeric: %w", field, core.ErrParameterValidation)
			}
			out = append(out, bson.E{Key: field, Value: int(d)})
		default:
			return nil, fmt.Errorf("unsupported sort entry %T: %w", entry, core.ErrParameterValidation)
		}
	}
	return out, nil
}

// Execute renders and runs the template's Mongo operation.
func (e *MongoExecutor) Execute(ctx context.Context, t *templates.Template, params map[string]interface{}) ([]map[string]interface{}, error) {
	op, err := RenderMongo(t.OperationTemplate, params)
	if err != nil {
		return nil, err
	}

	collName := op.Collection
	if collName == "" {
		collName = e.collection
	}
	if collName == "" {
		return nil, fmt.Errorf("template %s: no Mongo collection configured: %w", t.ID, core.ErrMissingConfiguration)
	}
	coll := e.ds.Database().Collection(collName)

	filter := interface{}(bson.M{})
	if op.Filter != nil {
		filter, err = normalizeExtendedJSON(op.Filter)
		if err != nil {
			return nil, err
		}
	}

	limit := op.Limit
	if limit <= 0 || limit > e.maxLimit {
		limit = e.maxLimit
	}

	e.logger.Debug("Executing Mongo operation", map[string]interface{}{
		"operation":  "intent_mongo",
		"template":   t.ID,
		"query_type": op.QueryType,
		"collection": collName,
	})

	switch op.QueryType {
	case "count":
		n, err := coll.CountDocuments(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %v: %w", collName, err, core.ErrRequestFailed)
		}
		return []map[string]interface{}{{"count": n}}, nil

	case "aggregate":
		pipeline, err := normalizeExtendedJSON(op.Pipeline)
		if err != nil {
			return nil, err
		}
		cursor, err := coll.Aggregate(ctx, pipeline)
		if err != nil {
			return nil, fmt.Errorf("aggregating %s: %v: %w", collName, err, core.ErrRequestFailed)
		}
		defer cursor.Close(ctx)
		return drainCursor(ctx, cursor, limit)

	default: // find
		findOpts := options.Find().SetLimit(limit)
		if op.Projection != nil {
			findOpts.SetProjection(op.Projection)
		}
		if len(op.Sort) > 0 {
			sortDoc, err := normalizeSort(op.Sort)
			if err != nil {
				return nil, err
			}
			findOpts.SetSort(sortDoc)
		}
		if op.Skip > 0 {
			findOpts.SetSkip(op.Skip)
		}

		cursor, err := coll.Find(ctx, filter, findOpts)
		if err != nil {
			return nil, fmt.Errorf("finding in %s: %v: %w", collName, err, core.ErrRequestFailed)
		}
		defer cursor.Close(ctx)
		return drainCursor(ctx, cursor, limit)
	}
}

type bsonCursor interface {
	Next(ctx context.Context) bool
	Decode(v interface{}) error
	Err() error
}

func drainCursor(ctx context.Context, cursor bsonCursor, limit int64) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	for cursor.Next(ctx) {
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
		row := map[string]interface{}{}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("decoding document: %w", err)
		}
		out = append(out, jsonSafeMongoRow(row))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterating cursor: %v: %w", err, core.ErrRequestFailed)
	}
	return out, nil
}

// jsonSafeMongoRow converts driver-native values to JSON-friendly forms.
func jsonSafeMongoRow(row map[string]interface{}) map[string]interface{} {
	for k, v := range row {
		switch x := v.(type) {
		case primitive.ObjectID:
			row[k] = x.Hex()
		case primitive.DateTime:
			row[k] = x.Time().UTC().Format("2006-01-02T15:04:05Z07:00")
		}
	}
	return row
}
