package vectordb

import (
	"encoding/json"
	"fmt"

	qpb "github.com/qdrant/go-client/qdrant"
)

// toQdrantPayload converts a generic payload map into Qdrant protobuf values.
// Unsupported types are stored as their JSON string form.
func toQdrantPayload(payload map[string]any) map[string]*qpb.Value {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]*qpb.Value, len(payload))
	for key, value := range payload {
		out[key] = toQdrantValue(value)
	}
	return out
}

func toQdrantValue(value any) *qpb.Value {
	switch v := value.(type) {
	case nil:
		return &qpb.Value{Kind: &qpb.Value_NullValue{NullValue: qpb.NullValue_NULL_VALUE}}
	case string:
		return &qpb.Value{Kind: &qpb.Value_StringValue{StringValue: v}}
	case bool:
		return &qpb.Value{Kind: &qpb.Value_BoolValue{BoolValue: v}}
	case int:
		return &qpb.Value{Kind: &qpb.Value_IntegerValue{IntegerValue: int64(v)}}
	case int64:
		return &qpb.Value{Kind: &qpb.Value_IntegerValue{IntegerValue: v}}
	case float32:
		return &qpb.Value{Kind: &qpb.Value_DoubleValue{DoubleValue: float64(v)}}
	case float64:
		return &qpb.Value{Kind: &qpb.Value_DoubleValue{DoubleValue: v}}
	case []string:
		values := make([]*qpb.Value, len(v))
		for i, s := range v {
			values[i] = toQdrantValue(s)
		}
		return &qpb.Value{Kind: &qpb.Value_ListValue{ListValue: &qpb.ListValue{Values: values}}}
	case []any:
		values := make([]*qpb.Value, len(v))
		for i, item := range v {
			values[i] = toQdrantValue(item)
		}
		return &qpb.Value{Kind: &qpb.Value_ListValue{ListValue: &qpb.ListValue{Values: values}}}
	case map[string]any:
		return &qpb.Value{Kind: &qpb.Value_StructValue{StructValue: &qpb.Struct{Fields: toQdrantPayload(v)}}}
	default:
		if raw, err := json.Marshal(v); err == nil {
			return &qpb.Value{Kind: &qpb.Value_StringValue{StringValue: string(raw)}}
		}
		return &qpb.Value{Kind: &qpb.Value_StringValue{StringValue: fmt.Sprintf("%v", v)}}
	}
}

// fromQdrantPayload converts Qdrant protobuf values back into a generic map.
func fromQdrantPayload(payload map[string]*qpb.Value) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		out[key] = fromQdrantValue(value)
	}
	return out
}

func fromQdrantValue(value *qpb.Value) any {
	switch kind := value.GetKind().(type) {
	case *qpb.Value_NullValue:
		return nil
	case *qpb.Value_StringValue:
		return kind.StringValue
	case *qpb.Value_BoolValue:
		return kind.BoolValue
	case *qpb.Value_IntegerValue:
		return kind.IntegerValue
	case *qpb.Value_DoubleValue:
		return kind.DoubleValue
	case *qpb.Value_ListValue:
		items := make([]any, len(kind.ListValue.GetValues()))
		for i, item := range kind.ListValue.GetValues() {
			items[i] = fromQdrantValue(item)
		}
		return items
	case *qpb.Value_StructValue:
		return fromQdrantPayload(kind.StructValue.GetFields())
	default:
		return nil
	}
}
