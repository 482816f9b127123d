package vectordb

import (
	"reflect"
	"testing"

	qpb "github.com/qdrant/go-client/qdrant"
)

func TestPayloadRoundTrip(t *testing.T) {
	payload := map[string]any{
		"source_type": "evidence",
		"evidence_id": "550e8400-e29b-41d4-a716-446655440000",
		"image_index": int64(2),
		"score":       0.87,
		"verified":    true,
		"tags":        []any{"person", "vehicle"},
		"nested":      map[string]any{"camera_id": "cam-7"},
		"none":        nil,
	}

	got := fromQdrantPayload(toQdrantPayload(payload))
	if !reflect.DeepEqual(got, payload) {
		t.Errorf("round trip mismatch:\n got %#v\nwant %#v", got, payload)
	}
}

func TestToQdrantValue_StringSlice(t *testing.T) {
	v := toQdrantValue([]string{"a.jpg", "b.jpg"})
	list := v.GetListValue()
	if list == nil {
		t.Fatal("expected list value")
	}
	if len(list.GetValues()) != 2 {
		t.Fatalf("expected 2 items, got %d", len(list.GetValues()))
	}
	if list.GetValues()[0].GetStringValue() != "a.jpg" {
		t.Errorf("unexpected first item: %v", list.GetValues()[0])
	}
}

func TestToQdrantValue_IntWidening(t *testing.T) {
	if got := toQdrantValue(5).GetIntegerValue(); got != 5 {
		t.Errorf("int: got %d, want 5", got)
	}
	if got := toQdrantValue(float32(0.5)).GetDoubleValue(); got != 0.5 {
		t.Errorf("float32: got %v, want 0.5", got)
	}
}

func TestBuildFilter(t *testing.T) {
	if buildFilter(nil) != nil {
		t.Error("nil conditions should produce nil filter")
	}
	if buildFilter(map[string]string{}) != nil {
		t.Error("empty conditions should produce nil filter")
	}

	f := buildFilter(map[string]string{"source_type": "evidence"})
	if f == nil || len(f.Must) != 1 {
		t.Fatalf("expected 1 must condition, got %v", f)
	}
	field := f.Must[0].GetField()
	if field.GetKey() != "source_type" {
		t.Errorf("unexpected key %q", field.GetKey())
	}
	if field.GetMatch().GetKeyword() != "evidence" {
		t.Errorf("unexpected keyword %q", field.GetMatch().GetKeyword())
	}
}

func TestHitToResult(t *testing.T) {
	hit := &qpb.ScoredPoint{
		Id:    pointID("11111111-2222-3333-4444-555555555555"),
		Score: 0.91,
		Payload: map[string]*qpb.Value{
			"evidence_id": {Kind: &qpb.Value_StringValue{StringValue: "aaaa"}},
			"camera_id":   {Kind: &qpb.Value_StringValue{StringValue: "cam-1"}},
			"image_url":   {Kind: &qpb.Value_StringValue{StringValue: "http://x/1.jpg"}},
			"created_at":  {Kind: &qpb.Value_StringValue{StringValue: "2026-01-02T15:04:05Z"}},
		},
	}

	res := hitToResult(hit)
	if res.EvidenceID != "aaaa" {
		t.Errorf("evidence id: got %q", res.EvidenceID)
	}
	if res.CameraID != "cam-1" {
		t.Errorf("camera id: got %q", res.CameraID)
	}
	if res.Score != float64(float32(0.91)) {
		t.Errorf("score: got %v", res.Score)
	}
	if res.CreatedAt.Year() != 2026 {
		t.Errorf("created at not parsed: %v", res.CreatedAt)
	}
}

func TestHitToResult_FallsBackToPointID(t *testing.T) {
	hit := &qpb.ScoredPoint{
		Id:    pointID("11111111-2222-3333-4444-555555555555"),
		Score: 0.8,
	}
	res := hitToResult(hit)
	if res.EvidenceID != "11111111-2222-3333-4444-555555555555" {
		t.Errorf("expected point id fallback, got %q", res.EvidenceID)
	}
	if res.CreatedAt.IsZero() {
		t.Error("created at should default to now")
	}
}
