package oracle

import (
	"encoding/json"
	"strings"
)

type rawVerdict struct {
	Status             string   `json:"status"`
	VerificationStatus string   `json:"verificationStatus"`
	Reason             string   `json:"reason"`
	ConfidenceScore    *float64 `json:"confidenceScore"`
	Confidence         *float64 `json:"confidence"`
}

// ParseVerdict decodes a provider's JSON answer. Fenced ```json blocks are
// accepted. Anything that does not yield a valid verdict is KindMalformed.
func ParseVerdict(raw string) (Verdict, error) {
	body := stripFence(raw)
	if body == "" {
		return Verdict{}, Errorf(KindMalformed, "empty oracle response")
	}

	var rv rawVerdict
	if err := json.Unmarshal([]byte(body), &rv); err != nil {
		return Verdict{}, Errorf(KindMalformed, "oracle response parse: %w", err)
	}

	statusRaw := rv.VerificationStatus
	if statusRaw == "" {
		statusRaw = rv.Status
	}
	status, ok := ParseStatus(statusRaw)
	if !ok {
		return Verdict{}, Errorf(KindMalformed, "unknown verification status %q", statusRaw)
	}

	v := Verdict{
		Status:          status,
		Reason:          strings.TrimSpace(rv.Reason),
		ConfidenceScore: rv.ConfidenceScore,
	}
	if v.ConfidenceScore == nil {
		v.ConfidenceScore = rv.Confidence
	}
	if err := v.Validate(); err != nil {
		return Verdict{}, &Error{Kind: KindMalformed, Err: err}
	}
	return v, nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
