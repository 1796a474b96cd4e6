package emitter

import (
	"encoding/json"

	"github.com/hypothesize-tech/courier/event"
)

func unmarshalSchema(raw json.RawMessage, dest *any) error {
	return json.Unmarshal(raw, dest)
}

// payloadDocument renders the event payload as the generic document shape
// schema validation operates on.
func payloadDocument(evt *event.Event) any {
	raw, err := json.Marshal(evt.Data)
	if err != nil {
		return nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return doc
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
