package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/detectionlab/data/pkg/detection"
	"github.com/detectionlab/data/pkg/score"
)

var detectionsCmd = &cobra.Command{
	Use:     "detections",
	Aliases: []string{"detection", "det"},
	Short:   "List, inspect and edit detections",
}

func init() {
	detectionsCmd.AddCommand(detListCmd)
	detectionsCmd.AddCommand(detGetCmd)
	detectionsCmd.AddCommand(detCreateCmd)
	detectionsCmd.AddCommand(detUpdateCmd)
	detectionsCmd.AddCommand(detDeleteCmd)
	detectionsCmd.AddCommand(detScoreCmd)
	detectionsCmd.AddCommand(detClassifyCmd)
	detectionsCmd.AddCommand(detRadarCmd)
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, len(args))
	for i, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid detection id %q", a)
		}
		ids[i] = id
	}
	return ids, nil
}

// ── list ─────────────────────────────────────────────────────────────────────

var detListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all detections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		list, err := c.ListDetections(cmd.Context())
		if err != nil {
			return apiError("list detections", err)
		}
		return render(list, func(w io.Writer) error { return printDetectionTable(w, list) })
	},
}

func printDetectionTable(out io.Writer, list []detection.Detection) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(out, "No detections.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSCORE\tTACTICS\tTECHNIQUES")
	for _, d := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", d.ID, d.Name,
			detection.FormatScore(d.ShannonScore),
			detection.FormatTags(d.MitreTactics),
			detection.FormatTags(d.MitreTechniques))
	}
	return w.Flush()
}

// ── get ──────────────────────────────────────────────────────────────────────

var detGetCmd = &cobra.Command{
	Use:   "get <id> [id] ...",
	Short: "Show one or more detections",
	Long: `Show one or more detections. Several ids are fetched concurrently and
printed in argument order; the first failure aborts the rest.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}

	found := make([]*detection.Detection, len(ids))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(8)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			d, err := c.GetDetection(ctx, id)
			if err != nil {
				return apiError(fmt.Sprintf("get detection %d", id), err)
			}
			found[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var v any = found
	if len(found) == 1 {
		v = found[0]
	}
	return render(v, func(w io.Writer) error {
		for i, d := range found {
			if i > 0 {
				fmt.Fprintln(w)
			}
			printDetection(w, d)
		}
		return nil
	})
}

func printDetection(w io.Writer, d *detection.Detection) {
	fmt.Fprintf(w, "ID:            %d\n", d.ID)
	fmt.Fprintf(w, "Name:          %s\n", d.Name)
	fmt.Fprintf(w, "Description:   %s\n", d.Description)
	fmt.Fprintf(w, "Shannon Score: %s\n", detection.FormatScore(d.ShannonScore))
	for _, p := range detection.RadarPoints(d) {
		fmt.Fprintf(w, "  %-4s %g\n", p.Metric, p.Score)
	}
	fmt.Fprintf(w, "Tactics:       %s\n", detection.FormatTags(d.MitreTactics))
	fmt.Fprintf(w, "Techniques:    %s\n", detection.FormatTags(d.MitreTechniques))
	fmt.Fprintf(w, "Logic:\n%s\n", indent(d.Logic))
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}

// ── create / update ──────────────────────────────────────────────────────────

var detForm detection.Form

func addFormFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&detForm.Name, "name", "", "Detection name")
	f.StringVar(&detForm.Logic, "logic", "", "Detection logic (query or rule body)")
	f.StringVar(&detForm.Description, "description", "", "What the detection looks for")
	f.StringVar(&detForm.TAC, "tac", "", "Threat Alignment & Coverage, 0-100")
	f.StringVar(&detForm.DI, "di", "", "Detection Integrity, 0-100")
	f.StringVar(&detForm.OC, "oc", "", "Operational Cost, 0-100")
	f.StringVar(&detForm.IRP, "irp", "", "Impact & Risk Potential, 0-100")
	f.StringVar(&detForm.U, "u", "", "Utility, 0-100")
	f.StringVar(&detForm.MitreTactics, "tactics", "", `MITRE tactics, comma separated (e.g. "Execution, Persistence")`)
	f.StringVar(&detForm.MitreTechniques, "techniques", "", "MITRE technique ids, comma separated")
}

var detCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a detection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := detForm.Input()
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		d, err := c.CreateDetection(cmd.Context(), in)
		if err != nil {
			return apiError("create detection", err)
		}
		return render(d, func(w io.Writer) error {
			fmt.Fprintf(w, "✓ Detection created\n\n")
			printDetection(w, d)
			return nil
		})
	},
}

var detUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Edit a detection",
	Long: `Edit a detection. The current values are fetched first and only the
flags given on the command line replace them; pass an empty value (--tac "")
to clear a component.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

func init() {
	addFormFlags(detCreateCmd)
	addFormFlags(detUpdateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	id := ids[0]

	c, err := newClient()
	if err != nil {
		return err
	}
	cur, err := c.GetDetection(cmd.Context(), id)
	if err != nil {
		return apiError(fmt.Sprintf("get detection %d", id), err)
	}

	form := mergeForm(detection.FormFromDetection(cur), detForm, cmd.Flags().Changed)
	in, err := form.Input()
	if err != nil {
		return err
	}
	d, err := c.UpdateDetection(cmd.Context(), id, in)
	if err != nil {
		return apiError(fmt.Sprintf("update detection %d", id), err)
	}
	return render(d, func(w io.Writer) error {
		fmt.Fprintf(w, "✓ Detection %d updated\n\n", id)
		printDetection(w, d)
		return nil
	})
}

// mergeForm overlays the fields of set whose flags changed onto base.
func mergeForm(base, set detection.Form, changed func(string) bool) detection.Form {
	pairs := []struct {
		flag     string
		dst, src *string
	}{
		{"name", &base.Name, &set.Name},
		{"logic", &base.Logic, &set.Logic},
		{"description", &base.Description, &set.Description},
		{"tac", &base.TAC, &set.TAC},
		{"di", &base.DI, &set.DI},
		{"oc", &base.OC, &set.OC},
		{"irp", &base.IRP, &set.IRP},
		{"u", &base.U, &set.U},
		{"tactics", &base.MitreTactics, &set.MitreTactics},
		{"techniques", &base.MitreTechniques, &set.MitreTechniques},
	}
	for _, p := range pairs {
		if changed(p.flag) {
			*p.dst = *p.src
		}
	}
	return base
}

// ── delete ───────────────────────────────────────────────────────────────────

var detDeleteForce bool

var detDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a detection",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	detDeleteCmd.Flags().BoolVar(&detDeleteForce, "force", false, "Skip confirmation prompt")
}

func runDelete(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	id := ids[0]

	c, err := newClient()
	if err != nil {
		return err
	}
	d, err := c.GetDetection(cmd.Context(), id)
	if err != nil {
		return apiError(fmt.Sprintf("get detection %d", id), err)
	}

	if !detDeleteForce {
		if !isInteractive() {
			return fmt.Errorf("refusing to delete without a terminal; pass --force")
		}
		fmt.Fprintf(stdout, "Delete detection %d (%s)? This cannot be undone. [y/N]: ", d.ID, d.Name)
		answer, _ := bufio.NewReader(stdin).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Fprintln(stdout, "Aborted.")
			return nil
		}
	}

	if err := c.DeleteDetection(cmd.Context(), id); err != nil {
		return apiError(fmt.Sprintf("delete detection %d", id), err)
	}
	fmt.Fprintf(stdout, "✓ Detection %d deleted\n", id)
	return nil
}

// ── score / classify ─────────────────────────────────────────────────────────

var detScoreCmd = &cobra.Command{
	Use:   "score <id>",
	Short: "Recompute a detection's Shannon Score on the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd.Context(), args[0], "calculate score", func(ctx context.Context, id int64) (*detection.Detection, error) {
			c, err := newClient()
			if err != nil {
				return nil, err
			}
			return c.CalculateScore(ctx, id)
		})
	},
}

var detClassifyCmd = &cobra.Command{
	Use:   "classify <id>",
	Short: "Classify a detection against MITRE ATT&CK on the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd.Context(), args[0], "classify", func(ctx context.Context, id int64) (*detection.Detection, error) {
			c, err := newClient()
			if err != nil {
				return nil, err
			}
			return c.ClassifyMitre(ctx, id)
		})
	},
}

func runAction(ctx context.Context, arg, action string, fn func(context.Context, int64) (*detection.Detection, error)) error {
	ids, err := parseIDs([]string{arg})
	if err != nil {
		return err
	}
	d, err := fn(ctx, ids[0])
	if err != nil {
		return apiError(action, err)
	}
	return render(d, func(w io.Writer) error {
		printDetection(w, d)
		return nil
	})
}

// ── radar ────────────────────────────────────────────────────────────────────

var detRadarCmd = &cobra.Command{
	Use:   "radar <id>",
	Short: "Print the radar chart points of a detection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		d, err := c.GetDetection(cmd.Context(), ids[0])
		if err != nil {
			return apiError(fmt.Sprintf("get detection %d", ids[0]), err)
		}
		points := detection.RadarPoints(d)
		return render(points, func(w io.Writer) error {
			return printRadar(w, points)
		})
	},
}

// printRadar draws one bar per axis, 2 points per character.
// radarWidth is the bar length of a component at score.ComponentMax.
const radarWidth = 50

// radarBar draws v scaled to radarWidth. Stored components are not range
// checked by the API, so v may fall outside [0, 100] or be NaN.
func radarBar(v float64) string {
	switch {
	case math.IsNaN(v) || v <= score.ComponentMin:
		return ""
	case v >= score.ComponentMax:
		return strings.Repeat("█", radarWidth)
	}
	return strings.Repeat("█", int(v/score.ComponentMax*radarWidth))
}

func printRadar(w io.Writer, points []detection.RadarPoint) error {
	for _, p := range points {
		bar := radarBar(p.Score)
		if _, err := fmt.Fprintf(w, "%-4s %-50s %g\n", p.Metric, bar, p.Score); err != nil {
			return err
		}
	}
	return nil
}
