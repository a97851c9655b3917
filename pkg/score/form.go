package score

import (
	"math"
	"strconv"
	"strings"
)

// Field names one of the five weight inputs. The values match the wire names
// used by the API.
type Field string

const (
	FieldTAC Field = "tac_weight"
	FieldDI  Field = "di_weight"
	FieldOC  Field = "oc_weight"
	FieldIRP Field = "irp_weight"
	FieldU   Field = "u_weight"
)

// Fields lists the weight fields in validation order.
var Fields = [5]Field{FieldTAC, FieldDI, FieldOC, FieldIRP, FieldU}

// WeightForm holds the raw text of the five weight inputs as an operator
// typed them.
type WeightForm struct {
	TAC string `json:"tac_weight"`
	DI  string `json:"di_weight"`
	OC  string `json:"oc_weight"`
	IRP string `json:"irp_weight"`
	U   string `json:"u_weight"`
}

func (f WeightForm) values() [5]string {
	return [5]string{f.TAC, f.DI, f.OC, f.IRP, f.U}
}

// Validate parses every field of form and checks the sum invariant.
//
// The first field (in tac, di, oc, irp, u order) that is blank or not a
// finite number yields an *InvalidWeightError, regardless of the others. A
// sum outside 1.0 ± SumTolerance yields a *WeightSumMismatchError carrying the
// computed sum. On success the parsed weights are returned in field order.
func Validate(form WeightForm) (Weights, error) {
	var parsed [5]float64
	for i, raw := range form.values() {
		v, ok := parseFinite(raw)
		if !ok {
			return Weights{}, &InvalidWeightError{Field: Fields[i], Value: raw}
		}
		parsed[i] = v
	}

	w := Weights{TAC: parsed[0], DI: parsed[1], OC: parsed[2], IRP: parsed[3], U: parsed[4]}
	if err := w.Validate(); err != nil {
		return Weights{}, err
	}
	return w, nil
}

// Form renders w as editable text.
func (w Weights) Form() WeightForm {
	return WeightForm{
		TAC: formatFloat(w.TAC),
		DI:  formatFloat(w.DI),
		OC:  formatFloat(w.OC),
		IRP: formatFloat(w.IRP),
		U:   formatFloat(w.U),
	}
}

// PartialSum adds up whichever fields parse, for a live "sum of weights"
// read-out while the form is being edited. ok is false when any field does not
// parse.
func (f WeightForm) PartialSum() (sum float64, ok bool) {
	ok = true
	for _, raw := range f.values() {
		v, good := parseFinite(raw)
		if !good {
			ok = false
			continue
		}
		sum += v
	}
	return sum, ok
}

func parseFinite(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
