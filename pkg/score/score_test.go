package score

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_scenarioValid(t *testing.T) {
	w, err := Validate(WeightForm{TAC: "0.3", DI: "0.2", OC: "0.2", IRP: "0.2", U: "0.1"})
	require.NoError(t, err)
	assert.Equal(t, Weights{TAC: 0.3, DI: 0.2, OC: 0.2, IRP: 0.2, U: 0.1}, w)
	assert.InDelta(t, 1.0, w.Sum(), SumTolerance)
}

func TestValidate_scenarioSumMismatch(t *testing.T) {
	_, err := Validate(WeightForm{TAC: "0.3", DI: "0.3", OC: "0.3", IRP: "0.3", U: "0.3"})
	var sumErr *WeightSumMismatchError
	require.True(t, errors.As(err, &sumErr), "got %v", err)
	assert.InDelta(t, 1.5, sumErr.ActualSum, 1e-9)
}

func TestValidate_withinTolerance(t *testing.T) {
	tests := []WeightForm{
		{TAC: "0.2", DI: "0.2", OC: "0.2", IRP: "0.2", U: "0.20009"},
		{TAC: "0.2", DI: "0.2", OC: "0.2", IRP: "0.2", U: "0.19991"},
		{TAC: "1", DI: "0", OC: "0", IRP: "0", U: "0"},
		{TAC: " 0.5 ", DI: "0.5", OC: "0", IRP: "0", U: "0"},
		{TAC: "1.5", DI: "-0.5", OC: "0", IRP: "0", U: "0"},
	}
	for _, form := range tests {
		_, err := Validate(form)
		assert.NoError(t, err, "form %+v", form)
	}
}

func TestValidate_outsideTolerance(t *testing.T) {
	tests := []struct {
		form WeightForm
		sum  float64
	}{
		{WeightForm{TAC: "0.2", DI: "0.2", OC: "0.2", IRP: "0.2", U: "0.2002"}, 1.0002},
		{WeightForm{TAC: "0", DI: "0", OC: "0", IRP: "0", U: "0"}, 0},
		{WeightForm{TAC: "0.1", DI: "0.1", OC: "0.1", IRP: "0.1", U: "0.1"}, 0.5},
	}
	for _, tt := range tests {
		_, err := Validate(tt.form)
		var sumErr *WeightSumMismatchError
		require.True(t, errors.As(err, &sumErr), "form %+v: got %v", tt.form, err)
		assert.InDelta(t, tt.sum, sumErr.ActualSum, 1e-9)
	}
}

func TestValidate_invalidFieldIdentified(t *testing.T) {
	valid := WeightForm{TAC: "0.3", DI: "0.2", OC: "0.2", IRP: "0.2", U: "0.1"}
	bad := []string{"", "   ", "abc", "NaN", "Inf", "0.1.2"}

	setters := []struct {
		field Field
		set   func(*WeightForm, string)
	}{
		{FieldTAC, func(f *WeightForm, v string) { f.TAC = v }},
		{FieldDI, func(f *WeightForm, v string) { f.DI = v }},
		{FieldOC, func(f *WeightForm, v string) { f.OC = v }},
		{FieldIRP, func(f *WeightForm, v string) { f.IRP = v }},
		{FieldU, func(f *WeightForm, v string) { f.U = v }},
	}

	for _, s := range setters {
		for _, raw := range bad {
			form := valid
			s.set(&form, raw)
			_, err := Validate(form)
			var invErr *InvalidWeightError
			require.True(t, errors.As(err, &invErr), "field %s value %q: got %v", s.field, raw, err)
			assert.Equal(t, s.field, invErr.Field)
		}
	}
}

func TestValidate_firstInvalidFieldWins(t *testing.T) {
	_, err := Validate(WeightForm{TAC: "0.3", DI: "x", OC: "0.2", IRP: "", U: "0.1"})
	var invErr *InvalidWeightError
	require.True(t, errors.As(err, &invErr))
	assert.Equal(t, FieldDI, invErr.Field)
}

func TestWeightsForm_roundTrip(t *testing.T) {
	w := Weights{TAC: 0.3, DI: 0.2, OC: 0.2, IRP: 0.2, U: 0.1}
	got, err := Validate(w.Form())
	require.NoError(t, err)
	assert.Equal(t, w, got)
}

func TestPartialSum(t *testing.T) {
	sum, ok := WeightForm{TAC: "0.3", DI: "0.2", OC: "", IRP: "0.2", U: "0.1"}.PartialSum()
	assert.False(t, ok)
	assert.InDelta(t, 0.8, sum, 1e-9)

	sum, ok = DefaultWeights().Form().PartialSum()
	assert.True(t, ok)
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestDefaultWeights_valid(t *testing.T) {
	assert.NoError(t, DefaultWeights().Validate())
}

func TestCompute_scenario(t *testing.T) {
	c := Components{TAC: Float(80), DI: Float(70), OC: Float(60), IRP: Float(90), U: Float(50)}
	w := Weights{TAC: 0.3, DI: 0.2, OC: 0.2, IRP: 0.2, U: 0.1}
	assert.InDelta(t, 73.0, Compute(c, w), 1e-9)
}

func TestCompute_linearPerComponent(t *testing.T) {
	w := Weights{TAC: 0.3, DI: 0.2, OC: 0.2, IRP: 0.2, U: 0.1}
	base := Components{TAC: Float(40), DI: Float(35), OC: Float(20), IRP: Float(45), U: Float(25)}
	before := Compute(base, w)

	for i := 0; i < 5; i++ {
		doubled := base
		old := base.Values()[i]
		ptrs := []**float64{&doubled.TAC, &doubled.DI, &doubled.OC, &doubled.IRP, &doubled.U}
		*ptrs[i] = Float(old * 2)

		after := Compute(doubled, w)
		assert.InDelta(t, w.Values()[i]*old, after-before, 1e-9, "component %s", Labels[i])
	}
}

func TestCompute_bounded(t *testing.T) {
	w := Weights{TAC: 0.1, DI: 0.4, OC: 0.25, IRP: 0.15, U: 0.1}
	values := []float64{0, 0.5, 33, 50, 99.9, 100}
	for _, a := range values {
		for _, b := range values {
			c := Components{TAC: Float(a), DI: Float(b), OC: Float(a), IRP: Float(b), U: Float(100 - a)}
			s := Compute(c, w)
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 100.0+1e-9)
		}
	}

	all := Components{TAC: Float(100), DI: Float(100), OC: Float(100), IRP: Float(100), U: Float(100)}
	assert.InDelta(t, 100.0, Compute(all, w), 1e-9)
}

func TestCompute_absentEqualsZero(t *testing.T) {
	w := Weights{TAC: 0.3, DI: 0.2, OC: 0.2, IRP: 0.2, U: 0.1}
	absent := Components{TAC: Float(80), DI: nil, OC: Float(60), IRP: nil, U: Float(50)}
	zero := Components{TAC: Float(80), DI: Float(0), OC: Float(60), IRP: Float(0), U: Float(50)}

	assert.Equal(t, Compute(zero, w), Compute(absent, w))
	// 0.3*80 + 0.2*60 + 0.1*50, no renormalisation over the present weights.
	assert.InDelta(t, 41.0, Compute(absent, w), 1e-9)
	assert.Equal(t, []string{"DI", "IRP"}, absent.Missing())
}

func TestCompute_allAbsent(t *testing.T) {
	assert.Equal(t, 0.0, Compute(Components{}, DefaultWeights()))
	assert.Len(t, Components{}.Missing(), 5)
}

func TestCheckComponent(t *testing.T) {
	assert.NoError(t, CheckComponent("tac", 0))
	assert.NoError(t, CheckComponent("tac", 100))
	assert.NoError(t, CheckComponent("tac", 55.5))

	for _, v := range []float64{-0.01, 100.01, math.NaN(), math.Inf(1)} {
		err := CheckComponent("di", v)
		var rangeErr *ComponentRangeError
		require.True(t, errors.As(err, &rangeErr), "value %v", v)
		assert.Equal(t, "di", rangeErr.Component)
	}
}

func TestExplain(t *testing.T) {
	w := DefaultWeights()
	text := Explain(&w)
	assert.Contains(t, text, "Shannon Score = W1 x TAC")
	assert.Contains(t, text, "Detection Integrity")
	assert.Contains(t, text, "W5 (U) = 0.2")

	assert.NotContains(t, Explain(nil), "Current weights")
}
