package azure

import (
	"encoding/json"
)

// parseOutputs extracts the outputs map from an "az stack ... show" JSON
// document. The CLI wraps each output in a {"type": ..., "value": ...}
// envelope; values are unwrapped so callers see plain key/value pairs.
func parseOutputs(data []byte) (map[string]any, error) {
	var doc struct {
		Outputs map[string]any `json:"outputs"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	outputs := make(map[string]any, len(doc.Outputs))
	for key, raw := range doc.Outputs {
		outputs[key] = unwrapEnvelope(raw)
	}
	return outputs, nil
}

func unwrapEnvelope(raw any) any {
	if m, ok := raw.(map[string]any); ok {
		if v, ok := m["value"]; ok {
			return v
		}
	}
	return raw
}
