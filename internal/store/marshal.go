package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/livechat/internal/canon"
)

// Document is a stored record with its system metadata.
type Document struct {
	Table        string
	ID           string
	Seq          int64
	CreatedSeq   int64
	CreationTime int64
	Body         json.RawMessage
}

// systemFields are overlaid on decoded documents. Domain types opt in by
// declaring fields tagged `json:"_id"`, `json:"_creationTime"` or `json:"_seq"`.
type systemFields struct {
	ID           string `json:"_id"`
	CreationTime int64  `json:"_creationTime"`
	Seq          int64  `json:"_seq"`
}

// Decode unmarshals the document body into dst and fills system fields.
func (d Document) Decode(dst any) error {
	if err := json.Unmarshal(d.Body, dst); err != nil {
		return fmt.Errorf("decode %s/%s: %w", d.Table, d.ID, err)
	}
	sys, err := json.Marshal(systemFields{ID: d.ID, CreationTime: d.CreationTime, Seq: d.Seq})
	if err != nil {
		return fmt.Errorf("decode %s/%s: %w", d.Table, d.ID, err)
	}
	if err := json.Unmarshal(sys, dst); err != nil {
		return fmt.Errorf("decode %s/%s: %w", d.Table, d.ID, err)
	}
	return nil
}

// Fields decodes the document body into a generic map.
func (d Document) Fields() (map[string]any, error) {
	return decodeFields(d.Body)
}

// encodeBody converts a Go value to canonical body JSON and the field map
// used for index extraction. Keys beginning with "_" are reserved for
// system fields and are dropped.
func encodeBody(v any) (string, map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("marshal document: %w", err)
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return "", nil, err
	}
	return encodeFields(fields)
}

// encodeFields canonicalizes an already-decoded field map.
func encodeFields(fields map[string]any) (string, map[string]any, error) {
	for k := range fields {
		if strings.HasPrefix(k, "_") {
			delete(fields, k)
		}
	}
	body, err := canon.Marshal(fields)
	if err != nil {
		return "", nil, fmt.Errorf("marshal document: %w", err)
	}
	return string(body), fields, nil
}

func decodeFields(raw []byte) (map[string]any, error) {
	v, err := canon.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	fields, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unmarshal document: body must be a JSON object, got %T", v)
	}
	return fields, nil
}
