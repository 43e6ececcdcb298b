package facts

import (
	"encoding/json"

	"github.com/cortex-memory/cortex/internal/canon"
)

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func sealJSON(tenantID string, plaintext []byte) (canon.Envelope, error) {
	return canon.Seal(tenantID, plaintext)
}
