package score

import (
	"fmt"
	"strings"
)

// Labels are the short component names in tac, di, oc, irp, u order.
var Labels = [5]string{"TAC", "DI", "OC", "IRP", "U"}

// Names are the long component names in the same order as Labels.
var Names = [5]string{
	"Threat Alignment & Coverage",
	"Detection Integrity",
	"Operational Cost",
	"Impact & Risk Potential",
	"Utility",
}

// Explain returns a plain-text description of the Shannon Score formula and,
// when w is non-nil, the weights currently in effect.
func Explain(w *Weights) string {
	var b strings.Builder
	b.WriteString("Shannon Score = W1 x TAC + W2 x DI + W3 x OC + W4 x IRP + W5 x U\n\n")
	for i, l := range Labels {
		fmt.Fprintf(&b, "  %-4s %s\n", l, Names[i])
	}
	b.WriteString("\nEach component is scored 0-100. Weights must sum to 1.0; an unset component counts as 0.\n")
	if w != nil {
		b.WriteString("\nCurrent weights:\n")
		for i, v := range w.Values() {
			fmt.Fprintf(&b, "  W%d (%s) = %s\n", i+1, Labels[i], formatFloat(v))
		}
	}
	return b.String()
}
