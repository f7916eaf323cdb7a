package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mikey/mail-trust/internal/core"
)

// ErrInvalidResponse is returned when an oracle reply cannot be turned into a result
var ErrInvalidResponse = errors.New("invalid oracle response")

// classificationResponse is the raw JSON contract returned by the model
type classificationResponse struct {
	Category        string   `json:"category"`
	Confidence      float64  `json:"confidence"`
	Summary         string   `json:"summary"`
	Deadline        string   `json:"deadline"`
	NeedsReply      bool     `json:"needs_reply"`
	SuggestedLabels []string `json:"suggested_labels"`
	SuggestedAction string   `json:"suggested_action"`
	KeyEntities     []string `json:"key_entities"`
}

// ParseResult decodes and validates a model reply. Replies wrapped in prose or code fences
// are accepted as long as they contain one JSON object.
func ParseResult(text string) (*core.OracleResult, error) {
	var resp classificationResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		// Try to extract JSON from the text response
		jsonStart := strings.IndexByte(text, '{')
		jsonEnd := strings.LastIndexByte(text, '}') + 1
		if jsonStart < 0 || jsonEnd <= jsonStart {
			return nil, fmt.Errorf("%w: no JSON object found: %v", ErrInvalidResponse, err)
		}
		if err := json.Unmarshal([]byte(text[jsonStart:jsonEnd]), &resp); err != nil {
			return nil, fmt.Errorf("%w: failed to parse JSON: %v", ErrInvalidResponse, err)
		}
	}

	category, ok := core.ParseCategory(resp.Category)
	if !ok {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidResponse, resp.Category)
	}

	confidence := resp.Confidence
	if math.IsNaN(confidence) {
		confidence = 0
	}
	confidence = math.Max(0, math.Min(1, confidence))

	return &core.OracleResult{
		Category:        category,
		Confidence:      confidence,
		Summary:         strings.TrimSpace(resp.Summary),
		Deadline:        strings.TrimSpace(resp.Deadline),
		NeedsReply:      resp.NeedsReply,
		SuggestedLabels: compact(resp.SuggestedLabels),
		SuggestedAction: strings.TrimSpace(resp.SuggestedAction),
		KeyEntities:     compact(resp.KeyEntities),
	}, nil
}

func compact(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
