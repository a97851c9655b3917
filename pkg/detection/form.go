package detection

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FieldError reports a problem with a single detection form field.
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Msg)
}

// Form is the text representation of a detection being edited. Components are
// blank when unset; tag lists are comma separated.
type Form struct {
	Name            string `json:"name"`
	Logic           string `json:"logic"`
	Description     string `json:"description"`
	TAC             string `json:"tac"`
	DI              string `json:"di"`
	OC              string `json:"oc"`
	IRP             string `json:"irp"`
	U               string `json:"u"`
	MitreTactics    string `json:"mitre_tactics"`
	MitreTechniques string `json:"mitre_techniques"`
}

// FormFromDetection fills a form from an existing detection for editing.
func FormFromDetection(d *Detection) Form {
	return Form{
		Name:            d.Name,
		Logic:           d.Logic,
		Description:     d.Description,
		TAC:             formatOptional(d.TAC),
		DI:              formatOptional(d.DI),
		OC:              formatOptional(d.OC),
		IRP:             formatOptional(d.IRP),
		U:               formatOptional(d.U),
		MitreTactics:    JoinTags(d.MitreTactics),
		MitreTechniques: JoinTags(d.MitreTechniques),
	}
}

// Input converts the form into a request body. Components are sent only when
// non-blank and must parse as numbers within the component range; tag fields
// are split on commas and trimmed.
func (f Form) Input() (Input, error) {
	in := Input{
		Name:            f.Name,
		Logic:           f.Logic,
		Description:     f.Description,
		MitreTactics:    SplitTags(f.MitreTactics),
		MitreTechniques: SplitTags(f.MitreTechniques),
	}

	raws := [5]string{f.TAC, f.DI, f.OC, f.IRP, f.U}
	targets := [5]**float64{&in.TAC, &in.DI, &in.OC, &in.IRP, &in.U}
	for i, raw := range raws {
		v, err := parseOptional(componentFields[i], raw)
		if err != nil {
			return Input{}, err
		}
		*targets[i] = v
	}

	if err := in.Validate(); err != nil {
		return Input{}, err
	}
	return in, nil
}

func parseOptional(field, raw string) (*float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, &FieldError{Field: field, Msg: fmt.Sprintf("must be a number (got %q)", raw)}
	}
	return &v, nil
}

func formatOptional(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
