// Package results loads and validates the engine's result artifact.
//
// On success the engine writes an ordered JSON array of scored matches to
// its working directory. The relay never reorders or rewrites the items;
// it only verifies the shape before passing them to clients.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	apperrors "github.com/PeterSaffarian/replit-propertyrecommender/internal/common/errors"
	v1 "github.com/PeterSaffarian/replit-propertyrecommender/pkg/relay/v1"
)

// rawItem mirrors one artifact entry with pointer fields so missing keys
// are distinguishable from zero values.
type rawItem struct {
	PropertyID json.RawMessage `json:"property_id"`
	Score      *float64        `json:"score"`
	Rationale  *string         `json:"rationale"`
}

// Load reads and validates the result artifact at path, preserving item
// order and the raw JSON form of each property id.
//
// Returns RESULT_NOT_FOUND if the file does not exist and RESULT_INVALID
// naming the offending item when validation fails.
func Load(path string) ([]v1.ResultItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.ResultNotFound(path)
		}
		return nil, apperrors.Wrap(err, "failed to read result artifact")
	}
	return Parse(data)
}

// Parse validates raw artifact bytes. Exposed separately so the REST API
// and tests can validate without touching the filesystem.
func Parse(data []byte) ([]v1.ResultItem, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, apperrors.ResultInvalid("top-level value is not a JSON array")
	}

	items := make([]v1.ResultItem, 0, len(elements))
	for i, element := range elements {
		var raw rawItem
		if err := json.Unmarshal(element, &raw); err != nil {
			return nil, apperrors.ResultInvalid(fmt.Sprintf("item %d is not an object", i))
		}

		if err := validatePropertyID(raw.PropertyID); err != nil {
			return nil, apperrors.ResultInvalid(fmt.Sprintf("item %d: %v", i, err))
		}
		if raw.Score == nil {
			return nil, apperrors.ResultInvalid(fmt.Sprintf("item %d: score is missing", i))
		}
		if *raw.Score < 0 || *raw.Score > 1 {
			return nil, apperrors.ResultInvalid(fmt.Sprintf("item %d: score %v is outside [0, 1]", i, *raw.Score))
		}
		if raw.Rationale == nil || strings.TrimSpace(*raw.Rationale) == "" {
			return nil, apperrors.ResultInvalid(fmt.Sprintf("item %d: rationale is missing or empty", i))
		}

		items = append(items, v1.ResultItem{
			PropertyID: raw.PropertyID,
			Score:      *raw.Score,
			Rationale:  *raw.Rationale,
		})
	}

	return items, nil
}

// validatePropertyID accepts a JSON string or an integer. Floats and other
// JSON values are rejected.
func validatePropertyID(raw json.RawMessage) error {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return fmt.Errorf("property_id is missing")
	}

	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("property_id is not a valid string")
		}
		if s == "" {
			return fmt.Errorf("property_id is empty")
		}
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("property_id must be a string or integer")
	}
	if strings.ContainsAny(n.String(), ".eE") {
		return fmt.Errorf("property_id must be an integer, got %s", n.String())
	}
	return nil
}
