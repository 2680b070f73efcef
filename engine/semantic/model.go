package semantic

import (
	"fmt"
	"strconv"

	pb "github.com/qdrant/go-client/qdrant"
)

// ScoredRecord is a single similarity-search hit.
type ScoredRecord struct {
	ID         string            `json:"id"`
	Score      float32           `json:"score"`
	Text       string            `json:"text"`
	DocID      string            `json:"document_id"`
	ChunkIndex int               `json:"chunk_index"`
	Metadata   map[string]string `json:"metadata"`
}

// Reserved payload keys written alongside the caller metadata. Caller
// metadata lives under payloadMetaKey as a nested struct so a metadata
// update can replace it wholesale without touching the reserved fields.
const (
	payloadTextKey  = "text"
	payloadDocKey   = "document_id"
	payloadIndexKey = "chunk_index"
	payloadStartKey = "char_start"
	payloadEndKey   = "char_end"
	payloadMetaKey  = "meta"
)

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(n int) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(n)}}
}

// metaStruct renders caller metadata as a nested struct value.
func metaStruct(meta map[string]string) *pb.Value {
	fields := make(map[string]*pb.Value, len(meta))
	for k, v := range meta {
		fields[k] = stringValue(v)
	}
	return &pb.Value{Kind: &pb.Value_StructValue{
		StructValue: &pb.Struct{Fields: fields},
	}}
}

// metaFromPayload reads the nested metadata struct back into a flat map.
func metaFromPayload(payload map[string]*pb.Value) map[string]string {
	out := make(map[string]string)
	s := payload[payloadMetaKey].GetStructValue()
	if s == nil {
		return out
	}
	for k, v := range s.GetFields() {
		out[k] = valueString(v)
	}
	return out
}

// valueString renders a payload value as a string, whatever its kind.
func valueString(v *pb.Value) string {
	switch kind := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return strconv.FormatInt(kind.IntegerValue, 10)
	case *pb.Value_DoubleValue:
		return strconv.FormatFloat(kind.DoubleValue, 'g', -1, 64)
	case *pb.Value_BoolValue:
		return strconv.FormatBool(kind.BoolValue)
	default:
		return fmt.Sprint(v)
	}
}

// fieldMatch builds a keyword equality condition.
func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// indexAtLeast builds a range condition selecting chunk indices >= n.
func indexAtLeast(n int) *pb.Condition {
	gte := float64(n)
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   payloadIndexKey,
				Range: &pb.Range{Gte: &gte},
			},
		},
	}
}

// docFilter selects every point of one document.
func docFilter(docID string) *pb.Filter {
	return &pb.Filter{Must: []*pb.Condition{fieldMatch(payloadDocKey, docID)}}
}
