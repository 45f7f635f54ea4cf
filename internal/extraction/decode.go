package extraction

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/voice-ledger/internal/domain"
)

// coercedConfidenceCap bounds confidence when the model returned no usable
// transaction type.
const coercedConfidenceCap = 0.5

// cleanModelJSON strips Markdown fences and any text around the outermost
// JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = strings.TrimSpace(s[idx+1:])
		} else {
			s = strings.Trim(s, "`")
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = strings.TrimSpace(s[:idx])
	}

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return strings.TrimSpace(s)
}

// decodeDraft validates a raw model response and repairs what may be
// repaired. The draft's OriginalText is left to the caller.
func decodeDraft(raw string, today civil.Date) (*domain.TransactionDraft, error) {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return nil, fmt.Errorf("decodeDraft: empty response: %w", ErrUnparsable)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(clean), &obj); err != nil {
		return nil, fmt.Errorf("decodeDraft: unmarshal JSON: %v: %w", err, ErrUnparsable)
	}
	if obj == nil {
		return nil, fmt.Errorf("decodeDraft: response is null: %w", ErrUnparsable)
	}

	amount, err := numberField(obj, "amount")
	if err != nil {
		return nil, err
	}
	if amount == nil || *amount <= 0 || math.IsNaN(*amount) || math.IsInf(*amount, 0) {
		return nil, fmt.Errorf("decodeDraft: amount %s: %w", describe(amount), ErrNoAmount)
	}

	description, err := stringField(obj, "description")
	if err != nil {
		return nil, err
	}
	origin, err := stringField(obj, "origin_name")
	if err != nil {
		return nil, err
	}
	destination, err := stringField(obj, "destination_name")
	if err != nil {
		return nil, err
	}
	category, err := stringField(obj, "suggested_category")
	if err != nil {
		return nil, err
	}

	date := today
	dateStr, err := stringField(obj, "date")
	if err != nil {
		return nil, err
	}
	if dateStr != nil {
		parsed, err := civil.ParseDate(*dateStr)
		if err != nil {
			return nil, fmt.Errorf("decodeDraft: invalid date %q: %w", *dateStr, ErrUnparsable)
		}
		date = parsed
	}

	confidence, err := numberField(obj, "confidence")
	if err != nil {
		return nil, err
	}

	draft := &domain.TransactionDraft{
		Amount:                *amount,
		OriginName:            origin,
		DestinationName:       destination,
		SuggestedCategoryName: category,
		Date:                  date,
	}
	if description != nil {
		draft.Description = *description
	}

	typ := typeField(obj)
	if typ.Valid() {
		draft.Type = typ
		// Missing confidence is read as none at all, so the review warns.
		draft.Confidence = 0
		if confidence != nil {
			draft.Confidence = clamp(*confidence)
		}
	} else {
		draft.Type = domain.TypeExpense
		draft.Confidence = coercedConfidenceCap
		if confidence != nil {
			draft.Confidence = math.Min(clamp(*confidence), coercedConfidenceCap)
		}
	}

	return draft, nil
}

// typeField reads "type" leniently; anything unusable yields an invalid type.
func typeField(m map[string]interface{}) domain.TransactionType {
	s, ok := m["type"].(string)
	if !ok {
		return ""
	}
	return domain.TransactionType(strings.ToLower(strings.TrimSpace(s)))
}

// stringField returns nil for a missing, null or blank field and fails for
// a field of another JSON type.
func stringField(m map[string]interface{}, key string) (*string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("field %q has type %T, want string or null: %w", key, v, ErrUnparsable)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

// numberField returns nil for a missing or null field and fails for a field
// of another JSON type.
func numberField(m map[string]interface{}, key string) (*float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil, fmt.Errorf("field %q has type %T, want number or null: %w", key, v, ErrUnparsable)
	}
	return &f, nil
}

func clamp(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func describe(f *float64) string {
	if f == nil {
		return "missing"
	}
	return fmt.Sprintf("%v", *f)
}
