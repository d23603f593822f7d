// Package doctype is the closed catalogue of document kinds a submission can
// be classified as.
package doctype

import (
	"errors"
	"strings"
)

// Type identifies which built-in criteria the oracle applies.
type Type string

const (
	AadhaarCard           Type = "aadhaar_card"
	Marksheet10           Type = "marksheet_10"
	Marksheet12           Type = "marksheet_12"
	ComplianceCertificate Type = "compliance_certificate"
	FloorPlan             Type = "floor_plan"
	Other                 Type = "other"
)

// MinTaskLength is the minimum trimmed length of the free-text task for Other.
const MinTaskLength = 10

// DefaultTask is used for Other when a caller bypasses the upload surface.
const DefaultTask = "Check if the document contains a valid signature."

var (
	ErrRequired = errors.New("document type is required")
	ErrInvalid  = errors.New("document type is invalid")
)

// Info describes a catalogue entry for clients.
type Info struct {
	Value        Type   `json:"value"`
	Label        string `json:"label"`
	RequiresTask bool   `json:"requiresTask"`
	Criteria     string `json:"criteria,omitempty"`
}

var catalogue = []Info{
	{Value: AadhaarCard, Label: "Aadhaar Card", Criteria: "The card shows a 12-digit Aadhaar number, the holder's name, date of birth or year of birth, gender, a photograph and the UIDAI emblem. Text must be legible and unaltered."},
	{Value: Marksheet10, Label: "10th Marksheet", Criteria: "The marksheet is issued by a recognised secondary education board, names the candidate, lists subjects with marks or grades, shows the year of passing and carries an official seal or signature."},
	{Value: Marksheet12, Label: "12th Marksheet", Criteria: "The marksheet is issued by a recognised higher secondary education board, names the candidate, lists subjects with marks or grades, shows the year of passing and carries an official seal or signature."},
	{Value: ComplianceCertificate, Label: "Compliance Certificate", Criteria: "The certificate names the issuing authority and the certified entity, states what it certifies, shows an issue date and validity, and carries a signature or seal of the issuer."},
	{Value: FloorPlan, Label: "Floor Plan", Criteria: "The plan shows room layout with dimensions or scale, marks at least one fire exit with a visible sign, and indicates emergency evacuation routes."},
	{Value: Other, Label: "Other", RequiresTask: true},
}

// All returns the catalogue in display order.
func All() []Info {
	out := make([]Info, len(catalogue))
	copy(out, catalogue)
	return out
}

// Parse accepts either the wire value ("floor_plan") or the display label
// ("Floor Plan"), case-insensitively.
func Parse(raw string) (Type, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		return "", ErrRequired
	}
	key := normalizeKey(normalized)
	for _, info := range catalogue {
		if key == string(info.Value) || key == normalizeKey(info.Label) {
			return info.Value, nil
		}
	}
	switch key {
	case "aadhaar", "aadhar", "aadhar_card":
		return AadhaarCard, nil
	case "10th_marksheet", "class_10_marksheet", "marksheet10":
		return Marksheet10, nil
	case "12th_marksheet", "class_12_marksheet", "marksheet12":
		return Marksheet12, nil
	}
	return "", ErrInvalid
}

// Valid reports whether t is a catalogue value.
func (t Type) Valid() bool {
	_, ok := lookup(t)
	return ok
}

// Label returns the display label, or the raw value when unknown.
func (t Type) Label() string {
	if info, ok := lookup(t); ok {
		return info.Label
	}
	return string(t)
}

// Criteria returns the built-in verification criteria; empty for Other.
func (t Type) Criteria() string {
	info, _ := lookup(t)
	return info.Criteria
}

// RequiresTask reports whether submissions of this type need a free-text task.
func (t Type) RequiresTask() bool {
	info, _ := lookup(t)
	return info.RequiresTask
}

func lookup(t Type) (Info, bool) {
	for _, info := range catalogue {
		if info.Value == t {
			return info, true
		}
	}
	return Info{}, false
}

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
