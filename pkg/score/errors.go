package score

import "fmt"

// InvalidWeightError is returned when a weight field is blank or does not
// parse as a finite number.
type InvalidWeightError struct {
	Field Field
	Value string
}

func (e *InvalidWeightError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("%s: %q is not a number", e.Field, e.Value)
}

// WeightSumMismatchError is returned when the five weights do not sum to 1.0
// within SumTolerance.
type WeightSumMismatchError struct {
	ActualSum float64
}

func (e *WeightSumMismatchError) Error() string {
	return fmt.Sprintf("the sum of all weights must equal 1 (got %s)", formatFloat(e.ActualSum))
}

// ComponentRangeError is returned when a score component lies outside
// [ComponentMin, ComponentMax].
type ComponentRangeError struct {
	Component string
	Value     float64
}

func (e *ComponentRangeError) Error() string {
	return fmt.Sprintf("%s must be between %g and %g (got %s)",
		e.Component, ComponentMin, ComponentMax, formatFloat(e.Value))
}
