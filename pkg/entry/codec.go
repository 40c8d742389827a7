package entry

import (
	"bytes"
	"encoding/gob"
)

// Encode gob-encodes v. Used both for packet payloads (transactions,
// queries) and, via pkg/ledger, for packing entries into blobs.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode gob-decodes payload into a freshly allocated *T.
func Decode[T any](payload []byte) (*T, error) {
	var v T
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}
