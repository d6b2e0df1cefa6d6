package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Marshal renders a payload as compact JSON without HTML escaping. Field order
// follows struct declaration order, so equal inputs give equal bytes.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeGoods parses canonical NF-e bytes produced by Marshal.
func DecodeGoods(b []byte) (*GoodsPayload, error) {
	var p GoodsPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode goods payload: %w", err)
	}
	return &p, nil
}

// DecodeServices parses canonical NFS-e bytes produced by Marshal.
func DecodeServices(b []byte) (*ServicePayload, error) {
	var p ServicePayload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode services payload: %w", err)
	}
	return &p, nil
}
