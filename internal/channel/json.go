package channel

import (
	"encoding/json"
	"fmt"
)

// Documents are written pretty-printed so they stay readable when inspected
// directly in the bucket.
func marshalPretty(v interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return append(data, '\n'), nil
}

func unmarshalDoc(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
