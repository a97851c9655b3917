package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/detectionlab/data/pkg/client"
	"github.com/detectionlab/data/pkg/detection"
)

// ── upload ───────────────────────────────────────────────────────────────────

var uploadCheck bool

var uploadCmd = &cobra.Command{
	Use:   "upload <file.csv>",
	Short: "Bulk-create detections from a CSV file",
	Long: `Upload sends a CSV with name, logic and description columns to the
server, which creates one detection per row. The server's reply is printed
verbatim, including per-row errors.

With --check the file is first checked locally with the server's rules and
nothing is sent when problems are found.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadCheck, "check", false, "Check the file locally before sending it")
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	name := filepath.Base(path)

	if uploadCheck {
		n, err := detection.ValidateCSV(name, bytes.NewReader(content))
		if err != nil {
			return csvProblems(err)
		}
		logger.Debug("pre-flight check passed", zap.String("file", name), zap.Int("rows", n))
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	return submitUpload(cmd, c, name, content)
}

// submitUpload sends content through an UploadForm and prints the outcome.
func submitUpload(cmd *cobra.Command, c *client.Client, name string, content []byte) error {
	var form client.UploadForm
	form.Select(name, content)
	if err := form.Submit(cmd.Context(), c); err != nil {
		return uploadError(err)
	}
	return render(map[string]string{"detail": form.Success}, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "✓ %s\n", form.Success)
		return err
	})
}

func csvProblems(err error) error {
	var csvErr *detection.CSVError
	if errors.As(err, &csvErr) {
		for _, m := range csvErr.Messages {
			fmt.Fprintln(os.Stderr, m)
		}
		return fmt.Errorf("%d problem(s) found; nothing was uploaded", len(csvErr.Messages))
	}
	return err
}

// ── sample-csv ───────────────────────────────────────────────────────────────

var sampleOut string

var sampleCSVCmd = &cobra.Command{
	Use:   "sample-csv",
	Short: "Write the sample upload CSV",
	Long: `Write the two-row sample CSV to stdout, or to a file with -w. Passing
-w without a value writes ` + detection.SampleFilename + ` in the current
directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if sampleOut == "" {
			return detection.WriteSampleCSV(stdout)
		}
		f, err := os.Create(sampleOut)
		if err != nil {
			return err
		}
		if err := detection.WriteSampleCSV(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", sampleOut)
		return nil
	},
}

func init() {
	sampleCSVCmd.Flags().StringVarP(&sampleOut, "write", "w", "", "Write to this file instead of stdout")
	sampleCSVCmd.Flags().Lookup("write").NoOptDefVal = detection.SampleFilename
}

// ── compile / import ─────────────────────────────────────────────────────────

var compileOut string

var compileCmd = &cobra.Command{
	Use:   "compile <dir>",
	Short: "Compile YAML detection sources into an upload CSV",
	Long: `Compile reads every .yaml/.yml file in dir, each holding a list of
detections:

  detections:
    - name: Encoded PowerShell
      logic: process.cmdline contains "-enc"
      description: Base64 encoded PowerShell command line
      tactics: [Execution]
      techniques: [T1059.001]

and writes them as one CSV ready for 'datactl upload'. The CSV has no columns
for MITRE tags, so tactics and techniques are left out with a warning; use
'datactl import' to keep them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := detection.LoadSources(args[0])
		if err != nil {
			return err
		}

		w := stdout
		if compileOut != "" {
			f, err := os.Create(compileOut)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		n, err := detection.Compile(sources, w)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "compiled %d detection(s) from %d file(s)\n", n, len(sources))
		if tagged := detection.Tagged(detection.Inputs(sources)); tagged > 0 {
			fmt.Fprintf(os.Stderr, "warning: MITRE tags of %d detection(s) were left out; use 'datactl import' to keep them\n", tagged)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Create the detections declared in YAML sources",
	Long: `Import reads the same sources as 'datactl compile' and creates each
detection through the API, in file then declaration order, keeping its MITRE
tactics and techniques. Every detection is checked before the first one is
sent. On a failure the detections created so far are kept and reported.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := detection.LoadSources(args[0])
		if err != nil {
			return err
		}
		inputs := detection.Inputs(sources)
		if len(inputs) == 0 {
			return fmt.Errorf("no detections found in %s", args[0])
		}
		for i, in := range inputs {
			if err := in.Validate(); err != nil {
				return fmt.Errorf("detection %d (%q): %w; nothing was imported", i+1, in.Name, err)
			}
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		created := make([]detection.Detection, 0, len(inputs))
		for _, in := range inputs {
			d, err := c.CreateDetection(cmd.Context(), in)
			if err != nil {
				if len(created) > 0 {
					fmt.Fprintf(os.Stderr, "%d of %d detection(s) were created before the failure\n", len(created), len(inputs))
				}
				return apiError(fmt.Sprintf("create detection %q", in.Name), err)
			}
			logger.Debug("detection imported", zap.Int64("id", d.ID), zap.String("name", d.Name))
			created = append(created, *d)
		}

		return render(created, func(w io.Writer) error {
			fmt.Fprintf(w, "✓ %d detections imported\n", len(created))
			for _, d := range created {
				fmt.Fprintf(w, "  #%d %s\n", d.ID, d.Name)
			}
			return nil
		})
	},
}

func init() {
	compileCmd.Flags().StringVarP(&compileOut, "output", "f", "", "Write the CSV to this file instead of stdout")
}
