package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/SeanSwan/reportflow/internal/models"
	"github.com/SeanSwan/reportflow/internal/state"
)

// Fingerprint hashes the current values of the given input fields. The JSON
// encoder sorts map keys, so the same values always produce the same digest.
// The chart raster contributes its fingerprint stamp rather than its pixels,
// which keeps hashing cheap and lets the preview depend on the chart without
// rehashing image data.
func Fingerprint(s *state.ReportState, inputs []models.FieldName) (string, error) {
	values := make(map[string]any, len(inputs))
	for _, f := range inputs {
		values[string(f)] = s.InputValue(f)
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode fingerprint inputs: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
