// Package score implements the Shannon Score weight model: the five scoring
// weights, their sum-to-one invariant, and the weighted composite computed
// from a detection's component values.
package score

import (
	"math"
)

// SumTolerance is the absolute tolerance applied when checking that the five
// weights sum to 1.0.
const SumTolerance = 0.0001

// Component bounds. Values outside [ComponentMin, ComponentMax] are rejected
// before submission.
const (
	ComponentMin = 0.0
	ComponentMax = 100.0
)

// Weights is the five-coefficient Shannon Score weight set.
type Weights struct {
	TAC float64 `json:"tac_weight" yaml:"tac_weight"`
	DI  float64 `json:"di_weight"  yaml:"di_weight"`
	OC  float64 `json:"oc_weight"  yaml:"oc_weight"`
	IRP float64 `json:"irp_weight" yaml:"irp_weight"`
	U   float64 `json:"u_weight"   yaml:"u_weight"`
}

// DefaultWeights returns the even split used when no weight set has been
// stored yet.
func DefaultWeights() Weights {
	return Weights{TAC: 0.2, DI: 0.2, OC: 0.2, IRP: 0.2, U: 0.2}
}

// Sum returns the total of all five weights.
func (w Weights) Sum() float64 {
	return w.TAC + w.DI + w.OC + w.IRP + w.U
}

// Validate checks only the sum invariant. Individual weights are not range
// checked.
func (w Weights) Validate() error {
	sum := w.Sum()
	if math.IsNaN(sum) || math.Abs(sum-1.0) > SumTolerance {
		return &WeightSumMismatchError{ActualSum: sum}
	}
	return nil
}

// Values returns the weights in tac, di, oc, irp, u order.
func (w Weights) Values() [5]float64 {
	return [5]float64{w.TAC, w.DI, w.OC, w.IRP, w.U}
}

// Components holds a detection's five score components. A nil pointer means
// the component is unset.
type Components struct {
	TAC *float64 `json:"tac"`
	DI  *float64 `json:"di"`
	OC  *float64 `json:"oc"`
	IRP *float64 `json:"irp"`
	U   *float64 `json:"u"`
}

// Values returns the components in tac, di, oc, irp, u order with unset
// components reported as 0.
func (c Components) Values() [5]float64 {
	return [5]float64{deref(c.TAC), deref(c.DI), deref(c.OC), deref(c.IRP), deref(c.U)}
}

// Missing returns the labels of the unset components.
func (c Components) Missing() []string {
	var out []string
	for i, p := range c.pointers() {
		if p == nil {
			out = append(out, Labels[i])
		}
	}
	return out
}

func (c Components) pointers() [5]*float64 {
	return [5]*float64{c.TAC, c.DI, c.OC, c.IRP, c.U}
}

// Compute returns the Shannon Score for c under w:
//
//	w.TAC*tac + w.DI*di + w.OC*oc + w.IRP*irp + w.U*u
//
// Unset components count as 0. The remaining weights are never renormalised,
// so missing data can only lower the score.
func Compute(c Components, w Weights) float64 {
	cv := c.Values()
	wv := w.Values()
	var total float64
	for i := range cv {
		total += wv[i] * cv[i]
	}
	return total
}

// CheckComponent reports a *ComponentRangeError when v lies outside
// [ComponentMin, ComponentMax] or is not finite.
func CheckComponent(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < ComponentMin || v > ComponentMax {
		return &ComponentRangeError{Component: name, Value: v}
	}
	return nil
}

// Float returns a pointer to v. Handy for building Components literals.
func Float(v float64) *float64 {
	return &v
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
