package detection

import (
	"fmt"

	"github.com/detectionlab/data/pkg/score"
)

// RadarPoint is one axis of the single-detection radar chart.
type RadarPoint struct {
	Metric string  `json:"metric" yaml:"metric"`
	Score  float64 `json:"score"  yaml:"score"`
}

// RadarPoints returns the five component axes of d. Unset components plot
// as 0.
func RadarPoints(d *Detection) []RadarPoint {
	values := d.Components().Values()
	points := make([]RadarPoint, len(score.Labels))
	for i, l := range score.Labels {
		points[i] = RadarPoint{Metric: l, Score: values[i]}
	}
	return points
}

// Dataset is one detection's series in the overview radar chart. Data keeps
// unset components as null so the renderer can tell them apart.
type Dataset struct {
	Label           string     `json:"label"           yaml:"label"`
	Data            []*float64 `json:"data"            yaml:"data"`
	BackgroundColor string     `json:"backgroundColor" yaml:"background_color"`
	BorderColor     string     `json:"borderColor"     yaml:"border_color"`
	BorderWidth     int        `json:"borderWidth"     yaml:"border_width"`
}

// Chart is the overview radar chart across all detections.
type Chart struct {
	Labels   []string  `json:"labels"   yaml:"labels"`
	Datasets []Dataset `json:"datasets" yaml:"datasets"`
}

// RadarChart builds one dataset per detection, in input order.
func RadarChart(ds []Detection) Chart {
	c := Chart{
		Labels:   score.Labels[:],
		Datasets: make([]Dataset, 0, len(ds)),
	}
	for i := range ds {
		d := &ds[i]
		c.Datasets = append(c.Datasets, Dataset{
			Label:           d.Name,
			Data:            []*float64{d.TAC, d.DI, d.OC, d.IRP, d.U},
			BackgroundColor: seriesColor(i, 0.2),
			BorderColor:     seriesColor(i, 1),
			BorderWidth:     1,
		})
	}
	return c
}

func seriesColor(i int, alpha float64) string {
	return fmt.Sprintf("rgba(%d, %d, %d, %g)", (i*50)%255, (i*80)%255, (i*110)%255, alpha)
}
