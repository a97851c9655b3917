// Package detection holds the Detection model as exchanged with the D.A.T.A.
// API together with the helpers that shape it for editing and display: tag
// list conversion, form parsing, radar chart series and the CSV bulk upload
// contract.
package detection

import (
	"github.com/detectionlab/data/pkg/score"
)

// Detection is a named security rule plus its Shannon Score components and
// MITRE ATT&CK labels. ID and ShannonScore are assigned by the backend.
type Detection struct {
	ID              int64    `json:"id"                yaml:"id"`
	Name            string   `json:"name"              yaml:"name"`
	Logic           string   `json:"logic"             yaml:"logic"`
	Description     string   `json:"description"       yaml:"description"`
	ShannonScore    *float64 `json:"shannon_score"     yaml:"shannon_score"`
	TAC             *float64 `json:"tac"               yaml:"tac"`
	DI              *float64 `json:"di"                yaml:"di"`
	OC              *float64 `json:"oc"                yaml:"oc"`
	IRP             *float64 `json:"irp"               yaml:"irp"`
	U               *float64 `json:"u"                 yaml:"u"`
	MitreTactics    []string `json:"mitre_tactics"     yaml:"mitre_tactics"`
	MitreTechniques []string `json:"mitre_techniques"  yaml:"mitre_techniques"`
}

// Components returns the detection's five score components.
func (d *Detection) Components() score.Components {
	return score.Components{TAC: d.TAC, DI: d.DI, OC: d.OC, IRP: d.IRP, U: d.U}
}

// Input returns the writable fields of d, suitable for a full update.
func (d *Detection) Input() Input {
	return Input{
		Name:            d.Name,
		Logic:           d.Logic,
		Description:     d.Description,
		TAC:             d.TAC,
		DI:              d.DI,
		OC:              d.OC,
		IRP:             d.IRP,
		U:               d.U,
		MitreTactics:    nonNil(d.MitreTactics),
		MitreTechniques: nonNil(d.MitreTechniques),
	}
}

// Input is the request body for creating or updating a detection. It never
// carries the id or the derived shannon_score. Unset components are sent as
// JSON null.
type Input struct {
	Name            string   `json:"name"             yaml:"name"`
	Logic           string   `json:"logic"            yaml:"logic"`
	Description     string   `json:"description"      yaml:"description"`
	TAC             *float64 `json:"tac"              yaml:"tac,omitempty"`
	DI              *float64 `json:"di"               yaml:"di,omitempty"`
	OC              *float64 `json:"oc"               yaml:"oc,omitempty"`
	IRP             *float64 `json:"irp"              yaml:"irp,omitempty"`
	U               *float64 `json:"u"                yaml:"u,omitempty"`
	MitreTactics    []string `json:"mitre_tactics"    yaml:"mitre_tactics,omitempty"`
	MitreTechniques []string `json:"mitre_techniques" yaml:"mitre_techniques,omitempty"`
}

// Validate checks the required text fields and the component range policy.
func (in Input) Validate() error {
	required := []struct {
		name, value string
	}{
		{"name", in.Name},
		{"logic", in.Logic},
		{"description", in.Description},
	}
	for _, r := range required {
		if isBlank(r.value) {
			return &FieldError{Field: r.name, Msg: "is required"}
		}
	}

	comps := []*float64{in.TAC, in.DI, in.OC, in.IRP, in.U}
	for i, p := range comps {
		if p == nil {
			continue
		}
		if err := score.CheckComponent(componentFields[i], *p); err != nil {
			return err
		}
	}
	return nil
}

// componentFields are the wire names of the components, in score.Labels order.
var componentFields = [5]string{"tac", "di", "oc", "irp", "u"}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
