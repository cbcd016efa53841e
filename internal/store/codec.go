package store

import (
	"encoding/json"
	"fmt"

	"github.com/agentoven/registry-gateway/control-plane/internal/backend"
)

// toRecord/fromRecord round-trip a typed model through its json tags into
// the backend driver's opaque Record shape. This keeps backend.Driver
// ignorant of every concrete model type while letting Postgres still filter
// and sort on the JSONB-encoded fields.
func toRecord(v any) (backend.Record, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var rec backend.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func fromRecord(rec backend.Record, dst any) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode into %T: %w", dst, err)
	}
	return nil
}

func compositeKey(parts ...string) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}
