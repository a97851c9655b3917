package detection

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source is one YAML file of detection definitions.
type Source struct {
	File       string       `yaml:"-"`
	Detections []SourceRule `yaml:"detections"`
}

// SourceRule is a detection as written by hand in a source file.
type SourceRule struct {
	Name        string   `yaml:"name"`
	Logic       string   `yaml:"logic"`
	Description string   `yaml:"description"`
	Tactics     []string `yaml:"tactics"`
	Techniques  []string `yaml:"techniques"`
}

// LoadSources reads every .yaml and .yml file in dir, sorted by file name.
func LoadSources(dir string) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading sources directory: %w", err)
	}

	var sources []Source
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		var s Source
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		s.File = name

		if err := validateSource(&s); err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}

	sort.Slice(sources, func(i, j int) bool {
		return sources[i].File < sources[j].File
	})
	return sources, nil
}

func validateSource(s *Source) error {
	for i, r := range s.Detections {
		if isBlank(r.Name) {
			return fmt.Errorf("%s: detection[%d]: missing name", s.File, i)
		}
		if isBlank(r.Logic) {
			return fmt.Errorf("%s: detection[%d] %q: missing logic", s.File, i, r.Name)
		}
		if isBlank(r.Description) {
			return fmt.Errorf("%s: detection[%d] %q: missing description", s.File, i, r.Name)
		}
	}
	return nil
}

// Inputs flattens sources into create requests, in file then declaration order.
func Inputs(sources []Source) []Input {
	var out []Input
	for _, s := range sources {
		for _, r := range s.Detections {
			out = append(out, Input{
				Name:            strings.TrimSpace(r.Name),
				Logic:           strings.TrimSpace(r.Logic),
				Description:     strings.TrimSpace(r.Description),
				MitreTactics:    nonNil(r.Tactics),
				MitreTechniques: nonNil(r.Techniques),
			})
		}
	}
	return out
}

// Tagged counts the inputs carrying MITRE tactics or techniques. The upload
// CSV has no columns for them, so Compile cannot keep those tags.
func Tagged(rows []Input) int {
	n := 0
	for _, r := range rows {
		if len(r.MitreTactics) > 0 || len(r.MitreTechniques) > 0 {
			n++
		}
	}
	return n
}

// Compile writes all source detections as one upload-ready CSV and returns
// the number of rows written. MITRE tags are not part of the CSV; see Tagged.
func Compile(sources []Source, w io.Writer) (int, error) {
	rows := Inputs(sources)
	if err := WriteCSV(w, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}
