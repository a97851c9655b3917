package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/detectionlab/data/pkg/detection"
	"github.com/detectionlab/data/pkg/score"
)

// ── weights ──────────────────────────────────────────────────────────────────

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Show or change the Shannon Score weights",
}

var weightForm score.WeightForm

func addWeightFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&weightForm.TAC, "tac", "", "W1, Threat Alignment & Coverage")
	f.StringVar(&weightForm.DI, "di", "", "W2, Detection Integrity")
	f.StringVar(&weightForm.OC, "oc", "", "W3, Operational Cost")
	f.StringVar(&weightForm.IRP, "irp", "", "W4, Impact & Risk Potential")
	f.StringVar(&weightForm.U, "u", "", "W5, Utility")
}

func init() {
	weightsCmd.AddCommand(weightsGetCmd)
	weightsCmd.AddCommand(weightsSetCmd)
	weightsCmd.AddCommand(weightsValidateCmd)
	addWeightFlags(weightsSetCmd)
	addWeightFlags(weightsValidateCmd)
}

type weightsView struct {
	Weights score.Weights `json:"weights" yaml:"weights"`
	Sum     float64       `json:"sum"     yaml:"sum"`
}

func printWeights(w io.Writer, ws score.Weights) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WEIGHT\tCOMPONENT\tVALUE")
	for i, v := range ws.Values() {
		fmt.Fprintf(tw, "W%d\t%s (%s)\t%g\n", i+1, score.Names[i], score.Labels[i], v)
	}
	fmt.Fprintf(tw, "\tSum\t%g\n", ws.Sum())
	return tw.Flush()
}

var weightsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the stored weight set",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ws, err := c.Weights().Get(cmd.Context())
		if err != nil {
			return apiError("get weights", err)
		}
		return render(weightsView{ws, ws.Sum()}, func(w io.Writer) error { return printWeights(w, ws) })
	},
}

var weightsSetCmd = &cobra.Command{
	Use:   "set --tac W1 --di W2 --oc W3 --irp W4 --u W5",
	Short: "Replace the stored weight set",
	Long: `Replace the stored weight set. All five weights are required and must
sum to 1.0 (within 0.0001). An invalid set is rejected before anything is sent.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := score.Validate(weightForm); err != nil {
			return weightsProblem(err)
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ws, err := c.Weights().Submit(cmd.Context(), weightForm)
		if err != nil {
			return apiError("set weights", err)
		}
		return render(weightsView{ws, ws.Sum()}, func(w io.Writer) error {
			fmt.Fprintln(w, "✓ Weights updated")
			fmt.Fprintln(w)
			return printWeights(w, ws)
		})
	},
}

var weightsValidateCmd = &cobra.Command{
	Use:   "validate --tac W1 --di W2 --oc W3 --irp W4 --u W5",
	Short: "Check a weight set without storing it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := score.Validate(weightForm)
		if err != nil {
			return weightsProblem(err)
		}
		return render(weightsView{ws, ws.Sum()}, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "✓ Weights are valid (sum %g)\n", ws.Sum())
			return err
		})
	},
}

// weightsProblem names the flag at fault when a local check fails.
func weightsProblem(err error) error {
	var invErr *score.InvalidWeightError
	if errors.As(err, &invErr) {
		flag := map[score.Field]string{
			score.FieldTAC: "--tac", score.FieldDI: "--di", score.FieldOC: "--oc",
			score.FieldIRP: "--irp", score.FieldU: "--u",
		}[invErr.Field]
		return fmt.Errorf("%s: %w", flag, err)
	}
	return err
}

// ── score ────────────────────────────────────────────────────────────────────

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Work with the Shannon Score formula locally",
}

var (
	scoreComponents detection.Form
	scoreWeights    score.WeightForm
)

var scoreComputeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute a Shannon Score from component values",
	Long: `Compute a Shannon Score from component values (0-100 each; omitted
components count as 0). The stored weights are used unless all five
--w-* flags are given.`,
	Args: cobra.NoArgs,
	RunE: runScoreCompute,
}

var scoreExplainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Explain the Shannon Score formula and the weights in effect",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var current *score.Weights
		if c, err := newClient(); err == nil {
			if ws, err := c.Weights().Get(cmd.Context()); err == nil {
				current = &ws
			} else {
				logger.Warn("weights unavailable; explaining the formula only")
			}
		}
		_, err := fmt.Fprint(stdout, score.Explain(current))
		return err
	},
}

func init() {
	f := scoreComputeCmd.Flags()
	f.StringVar(&scoreComponents.TAC, "tac", "", "Threat Alignment & Coverage, 0-100")
	f.StringVar(&scoreComponents.DI, "di", "", "Detection Integrity, 0-100")
	f.StringVar(&scoreComponents.OC, "oc", "", "Operational Cost, 0-100")
	f.StringVar(&scoreComponents.IRP, "irp", "", "Impact & Risk Potential, 0-100")
	f.StringVar(&scoreComponents.U, "u", "", "Utility, 0-100")
	f.StringVar(&scoreWeights.TAC, "w-tac", "", "W1 override")
	f.StringVar(&scoreWeights.DI, "w-di", "", "W2 override")
	f.StringVar(&scoreWeights.OC, "w-oc", "", "W3 override")
	f.StringVar(&scoreWeights.IRP, "w-irp", "", "W4 override")
	f.StringVar(&scoreWeights.U, "w-u", "", "W5 override")

	scoreCmd.AddCommand(scoreComputeCmd)
	scoreCmd.AddCommand(scoreExplainCmd)
}

type scoreView struct {
	ShannonScore float64       `json:"shannon_score" yaml:"shannon_score"`
	Weights      score.Weights `json:"weights"       yaml:"weights"`
	Missing      []string      `json:"missing,omitempty" yaml:"missing,omitempty"`
}

func runScoreCompute(cmd *cobra.Command, args []string) error {
	// The text fields are irrelevant here; placeholders let the form's
	// component parsing and range checks run.
	form := scoreComponents
	form.Name, form.Logic, form.Description = "-", "-", "-"
	in, err := form.Input()
	if err != nil {
		return err
	}
	comps := score.Components{TAC: in.TAC, DI: in.DI, OC: in.OC, IRP: in.IRP, U: in.U}

	ws, err := weightsFor(cmd.Context())
	if err != nil {
		return err
	}

	view := scoreView{ShannonScore: score.Compute(comps, ws), Weights: ws, Missing: comps.Missing()}
	return render(view, func(w io.Writer) error {
		fmt.Fprintf(w, "Shannon Score: %g\n", view.ShannonScore)
		if len(view.Missing) > 0 {
			fmt.Fprintf(w, "Counted as 0:  %s\n", detection.JoinTags(view.Missing))
		}
		return nil
	})
}

// weightsFor returns the --w-* overrides when any is set, else the stored set.
func weightsFor(ctx context.Context) (score.Weights, error) {
	if scoreWeights != (score.WeightForm{}) {
		ws, err := score.Validate(scoreWeights)
		if err != nil {
			return score.Weights{}, err
		}
		return ws, nil
	}
	c, err := newClient()
	if err != nil {
		return score.Weights{}, err
	}
	ws, err := c.Weights().Get(ctx)
	if err != nil {
		return score.Weights{}, apiError("get weights", err)
	}
	return ws, nil
}

// ── chart ────────────────────────────────────────────────────────────────────

var chartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Print the overview radar chart data for all detections",
	Long: `Print one series per detection over the TAC, DI, OC, IRP and U axes. JSON
output is ready to hand to a charting library; unset components are null.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		list, err := c.ListDetections(cmd.Context())
		if err != nil {
			return apiError("list detections", err)
		}
		chart := detection.RadarChart(list)
		return render(chart, func(w io.Writer) error { return printChart(w, chart) })
	},
}

func printChart(out io.Writer, chart detection.Chart) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprint(w, "DETECTION")
	for _, l := range chart.Labels {
		fmt.Fprintf(w, "\t%s", l)
	}
	fmt.Fprintln(w)
	for _, ds := range chart.Datasets {
		fmt.Fprint(w, ds.Label)
		for _, p := range ds.Data {
			fmt.Fprintf(w, "\t%s", detection.FormatScore(p))
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

// ── status ───────────────────────────────────────────────────────────────────

type statusView struct {
	API       string         `json:"api"                yaml:"api"`
	Reachable bool           `json:"reachable"          yaml:"reachable"`
	Latency   string         `json:"latency,omitempty"  yaml:"latency,omitempty"`
	Error     string         `json:"error,omitempty"    yaml:"error,omitempty"`
	Weights   *score.Weights `json:"weights,omitempty"  yaml:"weights,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that the API answers and show the weights in effect",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		view := statusView{API: c.BaseURL()}
		start := time.Now()
		if err := c.Ping(cmd.Context()); err != nil {
			view.Error = apiError("ping", err).Error()
		} else {
			view.Reachable = true
			view.Latency = time.Since(start).Round(time.Millisecond).String()
			if ws, err := c.Weights().Get(cmd.Context()); err == nil {
				view.Weights = &ws
			}
		}

		if err := render(view, func(w io.Writer) error {
			fmt.Fprintf(w, "API:       %s\n", view.API)
			if !view.Reachable {
				fmt.Fprintf(w, "Reachable: no (%s)\n", view.Error)
				return nil
			}
			fmt.Fprintf(w, "Reachable: yes (%s)\n", view.Latency)
			if view.Weights != nil {
				fmt.Fprintln(w)
				return printWeights(w, *view.Weights)
			}
			return nil
		}); err != nil {
			return err
		}
		if !view.Reachable {
			return errors.New("API unreachable")
		}
		return nil
	},
}
