package reasoning

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kairo-hq/kairo/internal/model"
)

// findFirstObject returns the first balanced top-level {...} span of s.
// Braces inside JSON strings are ignored. ASCII delimiters never appear
// inside multi-byte UTF-8 sequences, so a byte scan is safe.
func findFirstObject(s string) (string, bool) {
	depth := 0
	start := -1
	inString := false
	escape := false

	for i := 0; i < len(s); i++ {
		b := s[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			switch b {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			// Quotes only matter once an object has opened; a stray quote in
			// leading commentary must not hide the object that follows.
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}

// ParseRecommendation extracts and validates the recommendation object
// embedded in a provider's free-form text.
func ParseRecommendation(text string) (model.ParsedRecommendation, error) {
	span, ok := findFirstObject(text)
	if !ok {
		return model.ParsedRecommendation{}, ErrMalformedResponse
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(span), &fields); err != nil {
		return model.ParsedRecommendation{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	var missing []string
	recommendation, ok := decodeRecommendation(lookup(fields, "recommendation"))
	if !ok {
		missing = append(missing, "recommendation")
	}
	confidence, ok := decodeNumber(lookup(fields, "confidence"))
	if !ok {
		missing = append(missing, "confidence")
	}
	if len(missing) > 0 {
		return model.ParsedRecommendation{}, fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}

	rec := model.ParsedRecommendation{
		Recommendation:  recommendation,
		Reason:          decodeString(lookup(fields, "reason")),
		Confidence:      confidence,
		Urgency:         normalizeUrgency(decodeString(lookup(fields, "urgency"))),
		EstimatedImpact: decodeString(lookup(fields, "estimatedImpact", "estimated_impact")),
		MemoryInfluence: decodeString(lookup(fields, "memoryInfluence", "memory_influence")),
	}
	if id := decodeString(lookup(fields, "playbookId", "playbook_id")); id != "" && !strings.EqualFold(id, "null") {
		rec.PlaybookID = &id
	}
	return rec, nil
}

// lookup returns the first present key among names.
func lookup(fields map[string]json.RawMessage, names ...string) json.RawMessage {
	for _, n := range names {
		if v, ok := fields[n]; ok {
			return v
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// decodeRecommendation accepts "Yes"/"No" in any case, or a JSON boolean.
// Other strings are kept verbatim so the gate can reject them.
func decodeRecommendation(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return model.RecommendYes, true
		}
		return model.RecommendNo, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return "", false
	case "yes":
		return model.RecommendYes, true
	case "no":
		return model.RecommendNo, true
	default:
		return s, true
	}
}

// decodeNumber accepts a JSON number or a finite numeric string. The value
// is not range-checked.
func decodeNumber(raw json.RawMessage) (float64, bool) {
	if isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// decodeString returns a string field, rendering scalars of other types as
// text. Missing or null fields read as "".
func decodeString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

func normalizeUrgency(s string) model.Urgency {
	switch strings.ToLower(s) {
	case "low":
		return model.UrgencyLow
	case "medium":
		return model.UrgencyMedium
	case "high":
		return model.UrgencyHigh
	case "critical":
		return model.UrgencyCritical
	default:
		return ""
	}
}
