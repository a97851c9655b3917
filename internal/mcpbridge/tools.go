package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/detectionlab/data/internal/inflight"
	"github.com/detectionlab/data/pkg/client"
	"github.com/detectionlab/data/pkg/detection"
	"github.com/detectionlab/data/pkg/score"
)

// ToolDefinition is the MCP tool descriptor sent in tools/list responses.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// API is the subset of *client.Client the tools call.
type API interface {
	ListDetections(ctx context.Context) ([]detection.Detection, error)
	GetDetection(ctx context.Context, id int64) (*detection.Detection, error)
	CreateDetection(ctx context.Context, in detection.Input) (*detection.Detection, error)
	CalculateScore(ctx context.Context, id int64) (*detection.Detection, error)
	ClassifyMitre(ctx context.Context, id int64) (*detection.Detection, error)
}

// WeightStore reads and replaces the scoring weights.
type WeightStore interface {
	Get(ctx context.Context) (score.Weights, error)
	Replace(ctx context.Context, w score.Weights) (score.Weights, error)
}

func ok(text string) (string, bool)  { return text, false }
func fail(text string) (string, bool) { return text, true }
func failf(format string, a ...any) (string, bool) {
	return fmt.Sprintf(format, a...), true
}

// failAPI renders a failed API call the way the console does.
func failAPI(action string, err error) (string, bool) {
	return failf("%s failed: %s", action, strings.Join(client.Messages(err), "; "))
}

func okJSON(v any) (string, bool) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return failf("encode result: %v", err)
	}
	return ok(string(out))
}

// ToolRegistry holds the API handles and the definitions/handlers for all tools.
type ToolRegistry struct {
	api     API
	weights WeightStore
	guards  *inflight.Set
	defs    []ToolDefinition
}

var idSchema = map[string]any{
	"type":        "integer",
	"description": "Detection id as returned by list_detections",
}

var weightProps = map[string]any{
	"tac_weight": map[string]any{"type": "number", "description": "W1, Threat Alignment & Coverage"},
	"di_weight":  map[string]any{"type": "number", "description": "W2, Detection Integrity"},
	"oc_weight":  map[string]any{"type": "number", "description": "W3, Operational Cost"},
	"irp_weight": map[string]any{"type": "number", "description": "W4, Impact & Risk Potential"},
	"u_weight":   map[string]any{"type": "number", "description": "W5, Utility"},
}

var weightRequired = []string{"tac_weight", "di_weight", "oc_weight", "irp_weight", "u_weight"}

var componentProps = map[string]any{
	"tac": map[string]any{"type": "number", "minimum": score.ComponentMin, "maximum": score.ComponentMax},
	"di":  map[string]any{"type": "number", "minimum": score.ComponentMin, "maximum": score.ComponentMax},
	"oc":  map[string]any{"type": "number", "minimum": score.ComponentMin, "maximum": score.ComponentMax},
	"irp": map[string]any{"type": "number", "minimum": score.ComponentMin, "maximum": score.ComponentMax},
	"u":   map[string]any{"type": "number", "minimum": score.ComponentMin, "maximum": score.ComponentMax},
}

// NewToolRegistry creates a ToolRegistry backed by the given API handles.
func NewToolRegistry(api API, weights WeightStore) *ToolRegistry {
	createProps := map[string]any{
		"name":        map[string]any{"type": "string"},
		"logic":       map[string]any{"type": "string", "description": "The detection query or rule body"},
		"description": map[string]any{"type": "string"},
		"mitre_tactics": map[string]any{
			"type": "array", "items": map[string]any{"type": "string"},
		},
		"mitre_techniques": map[string]any{
			"type": "array", "items": map[string]any{"type": "string"},
		},
	}
	for k, v := range componentProps {
		createProps[k] = v
	}

	r := &ToolRegistry{api: api, weights: weights, guards: inflight.NewSet()}
	r.defs = []ToolDefinition{
		{
			Name:        "list_detections",
			Description: "List every detection with its Shannon Score, component scores and MITRE tags.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        "get_detection",
			Description: "Fetch one detection by id, including its radar chart points.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"id": idSchema},
				"required":   []string{"id"},
			},
		},
		{
			Name: "create_detection",
			Description: "Create a detection. name, logic and description are required; " +
				"component scores are optional and must lie within 0-100.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": createProps,
				"required":   []string{"name", "logic", "description"},
			},
		},
		{
			Name:        "calculate_score",
			Description: "Ask the server to recompute the Shannon Score of a detection with the stored weights.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"id": idSchema},
				"required":   []string{"id"},
			},
		},
		{
			Name:        "classify_mitre",
			Description: "Ask the server to classify a detection against MITRE ATT&CK tactics and techniques.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"id": idSchema},
				"required":   []string{"id"},
			},
		},
		{
			Name:        "get_weights",
			Description: "Show the weight set used by the Shannon Score formula, with an explanation of the formula.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        "validate_weights",
			Description: "Check a candidate weight set locally without storing it. The five weights must sum to 1.0.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": weightProps,
				"required":   weightRequired,
			},
		},
		{
			Name:        "set_weights",
			Description: "Replace the stored weight set. Invalid sets are rejected before anything is sent.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": weightProps,
				"required":   weightRequired,
			},
		},
		{
			Name: "compute_score",
			Description: "Compute a Shannon Score locally from component scores. Uses the stored weights " +
				"unless a weights object is supplied. Missing components count as 0.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"components": map[string]any{"type": "object", "properties": componentProps},
					"weights":    map[string]any{"type": "object", "properties": weightProps},
				},
				"required": []string{"components"},
			},
		},
		{
			Name:        "radar_chart",
			Description: "Chart data for the radar view: one detection's points when id is given, otherwise one series per detection.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"id": idSchema},
			},
		},
	}
	return r
}

// Definitions returns the list of tool definitions for tools/list responses.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	return r.defs
}

// Call dispatches a tool call by name and returns (output text, isError).
func (r *ToolRegistry) Call(ctx context.Context, name string, args json.RawMessage) (string, bool) {
	switch name {
	case "list_detections":
		return r.listDetections(ctx)
	case "get_detection":
		return r.getDetection(ctx, args)
	case "create_detection":
		return r.createDetection(ctx, args)
	case "calculate_score":
		return r.detectionAction(ctx, args, "calculate score", r.api.CalculateScore)
	case "classify_mitre":
		return r.detectionAction(ctx, args, "classify", r.api.ClassifyMitre)
	case "get_weights":
		return r.getWeights(ctx)
	case "validate_weights":
		return r.validateWeights(args)
	case "set_weights":
		return r.setWeights(ctx, args)
	case "compute_score":
		return r.computeScore(ctx, args)
	case "radar_chart":
		return r.radarChart(ctx, args)
	default:
		return failf("unknown tool: %q", name)
	}
}

// ── tool handlers ────────────────────────────────────────────────────────────

type detectionSummary struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Score      string `json:"shannon_score"`
	Tactics    string `json:"mitre_tactics"`
	Techniques string `json:"mitre_techniques"`
}

func (r *ToolRegistry) listDetections(ctx context.Context) (string, bool) {
	list, err := r.api.ListDetections(ctx)
	if err != nil {
		return failAPI("list detections", err)
	}
	if len(list) == 0 {
		return ok("No detections found.")
	}
	out := make([]detectionSummary, 0, len(list))
	for _, d := range list {
		out = append(out, detectionSummary{
			ID:         d.ID,
			Name:       d.Name,
			Score:      detection.FormatScore(d.ShannonScore),
			Tactics:    detection.FormatTags(d.MitreTactics),
			Techniques: detection.FormatTags(d.MitreTechniques),
		})
	}
	return okJSON(out)
}

func parseID(args json.RawMessage) (int64, bool) {
	var in struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.ID <= 0 {
		return 0, false
	}
	return in.ID, true
}

func (r *ToolRegistry) getDetection(ctx context.Context, args json.RawMessage) (string, bool) {
	id, valid := parseID(args)
	if !valid {
		return fail("id is required")
	}
	d, err := r.api.GetDetection(ctx, id)
	if err != nil {
		return failAPI("get detection", err)
	}
	return okJSON(struct {
		*detection.Detection
		Radar []detection.RadarPoint `json:"radar"`
	}{d, detection.RadarPoints(d)})
}

func (r *ToolRegistry) createDetection(ctx context.Context, args json.RawMessage) (string, bool) {
	var in detection.Input
	if err := json.Unmarshal(args, &in); err != nil {
		return failf("invalid arguments: %v", err)
	}
	in.MitreTactics = nonNil(in.MitreTactics)
	in.MitreTechniques = nonNil(in.MitreTechniques)
	if err := in.Validate(); err != nil {
		return fail(err.Error())
	}

	var created *detection.Detection
	err := r.guards.Do(ctx, "detection.create", func(ctx context.Context) error {
		var err error
		created, err = r.api.CreateDetection(ctx, in)
		return err
	})
	if err != nil {
		return failAPI("create detection", err)
	}
	return okJSON(created)
}

func (r *ToolRegistry) detectionAction(ctx context.Context, args json.RawMessage, action string,
	fn func(context.Context, int64) (*detection.Detection, error)) (string, bool) {
	id, valid := parseID(args)
	if !valid {
		return fail("id is required")
	}

	var d *detection.Detection
	err := r.guards.Do(ctx, fmt.Sprintf("%s.%d", action, id), func(ctx context.Context) error {
		var err error
		d, err = fn(ctx, id)
		return err
	})
	if err != nil {
		return failAPI(action, err)
	}
	return okJSON(d)
}

func (r *ToolRegistry) getWeights(ctx context.Context) (string, bool) {
	w, err := r.weights.Get(ctx)
	if err != nil {
		return failAPI("get weights", err)
	}
	return ok(score.Explain(&w))
}

// weightsArg decodes a weight set. Every field must be present.
func weightsArg(raw json.RawMessage) (score.Weights, error) {
	var in struct {
		TAC *float64 `json:"tac_weight"`
		DI  *float64 `json:"di_weight"`
		OC  *float64 `json:"oc_weight"`
		IRP *float64 `json:"irp_weight"`
		U   *float64 `json:"u_weight"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return score.Weights{}, fmt.Errorf("invalid arguments: %w", err)
	}
	for i, p := range []*float64{in.TAC, in.DI, in.OC, in.IRP, in.U} {
		if p == nil {
			return score.Weights{}, &score.InvalidWeightError{Field: score.Fields[i]}
		}
	}
	w := score.Weights{TAC: *in.TAC, DI: *in.DI, OC: *in.OC, IRP: *in.IRP, U: *in.U}
	return w, w.Validate()
}

func (r *ToolRegistry) validateWeights(args json.RawMessage) (string, bool) {
	w, err := weightsArg(args)
	if err != nil {
		return fail(err.Error())
	}
	return okf("Weights are valid (sum %g).", w.Sum())
}

func okf(format string, a ...any) (string, bool) {
	return fmt.Sprintf(format, a...), false
}

func (r *ToolRegistry) setWeights(ctx context.Context, args json.RawMessage) (string, bool) {
	w, err := weightsArg(args)
	if err != nil {
		return fail(err.Error())
	}

	var stored score.Weights
	err = r.guards.Do(ctx, "weights", func(ctx context.Context) error {
		var err error
		stored, err = r.weights.Replace(ctx, w)
		return err
	})
	if err != nil {
		return failAPI("set weights", err)
	}
	return ok(score.Explain(&stored))
}

func (r *ToolRegistry) computeScore(ctx context.Context, args json.RawMessage) (string, bool) {
	var in struct {
		Components score.Components `json:"components"`
		Weights    json.RawMessage  `json:"weights"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return failf("invalid arguments: %v", err)
	}
	for i, p := range []*float64{in.Components.TAC, in.Components.DI, in.Components.OC, in.Components.IRP, in.Components.U} {
		if p == nil {
			continue
		}
		if err := score.CheckComponent(score.Labels[i], *p); err != nil {
			return fail(err.Error())
		}
	}

	var (
		w   score.Weights
		err error
	)
	if len(in.Weights) > 0 && string(in.Weights) != "null" {
		w, err = weightsArg(in.Weights)
		if err != nil {
			return fail(err.Error())
		}
	} else {
		w, err = r.weights.Get(ctx)
		if err != nil {
			return failAPI("get weights", err)
		}
	}

	result := map[string]any{
		"shannon_score": score.Compute(in.Components, w),
		"weights":       w,
	}
	if missing := in.Components.Missing(); len(missing) > 0 {
		result["missing"] = missing
	}
	return okJSON(result)
}

func (r *ToolRegistry) radarChart(ctx context.Context, args json.RawMessage) (string, bool) {
	if id, valid := parseID(args); valid {
		d, err := r.api.GetDetection(ctx, id)
		if err != nil {
			return failAPI("get detection", err)
		}
		return okJSON(detection.RadarPoints(d))
	}
	list, err := r.api.ListDetections(ctx)
	if err != nil {
		return failAPI("list detections", err)
	}
	return okJSON(detection.RadarChart(list))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
