package events

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/docflow/internal/entity"
)

// ToStruct renders an event as a protobuf Struct:
// {"type", "job_id", "timestamp", "payload"}.
func ToStruct(ev entity.Event) (*structpb.Struct, error) {
	payload := make(map[string]any, len(ev.Payload))
	for k, v := range ev.Payload {
		payload[k] = normalize(v)
	}
	s, err := structpb.NewStruct(map[string]any{
		"type":      string(ev.Type),
		"job_id":    ev.JobID.String(),
		"timestamp": ev.Timestamp.UTC().Format(time.RFC3339Nano),
		"payload":   payload,
	})
	if err != nil {
		return nil, fmt.Errorf("event %s to struct: %w", ev.Type, err)
	}
	return s, nil
}

// Marshal encodes an event as protojson.
func Marshal(ev entity.Event) ([]byte, error) {
	s, err := ToStruct(ev)
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(s)
}

// Unmarshal is the inverse of Marshal; payload numbers come back as float64.
func Unmarshal(data []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return s.AsMap(), nil
}

// normalize maps payload values onto what structpb accepts.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, string, int, int32, int64, uint, uint32, uint64, float32, float64:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return x.Milliseconds()
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
