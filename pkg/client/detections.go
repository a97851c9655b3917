package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/detectionlab/data/pkg/detection"
)

func detectionPath(id int64) string {
	return fmt.Sprintf("/detections/%d/", id)
}

// ListDetections returns every detection in the catalogue.
func (c *Client) ListDetections(ctx context.Context) ([]detection.Detection, error) {
	var out []detection.Detection
	if err := c.doJSON(ctx, "ListDetections", http.MethodGet, "/detections/", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []detection.Detection{}
	}
	return out, nil
}

// GetDetection fetches one detection by id.
func (c *Client) GetDetection(ctx context.Context, id int64) (*detection.Detection, error) {
	var d detection.Detection
	if err := c.doJSON(ctx, "GetDetection", http.MethodGet, detectionPath(id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDetection creates a detection and returns it as stored, including the
// id and the score the backend assigned.
func (c *Client) CreateDetection(ctx context.Context, in detection.Input) (*detection.Detection, error) {
	var d detection.Detection
	if err := c.doJSON(ctx, "CreateDetection", http.MethodPost, "/detections/", in, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDetection replaces the writable fields of detection id.
func (c *Client) UpdateDetection(ctx context.Context, id int64, in detection.Input) (*detection.Detection, error) {
	var d detection.Detection
	if err := c.doJSON(ctx, "UpdateDetection", http.MethodPut, detectionPath(id), in, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DeleteDetection removes detection id.
func (c *Client) DeleteDetection(ctx context.Context, id int64) error {
	return c.doJSON(ctx, "DeleteDetection", http.MethodDelete, detectionPath(id), nil, nil)
}

// CalculateScore asks the backend to fill in missing components and
// recompute the Shannon Score of detection id.
func (c *Client) CalculateScore(ctx context.Context, id int64) (*detection.Detection, error) {
	return c.action(ctx, "CalculateScore", id, "calculate_score/")
}

// ClassifyMitre asks the backend to assign MITRE ATT&CK tactics and techniques
// to detection id.
func (c *Client) ClassifyMitre(ctx context.Context, id int64) (*detection.Detection, error) {
	return c.action(ctx, "ClassifyMitre", id, "classify_mitre/")
}

// action posts to a per-detection action endpoint. Some backends answer with
// only the changed fields; the detection is then fetched so callers always see
// the full record.
func (c *Client) action(ctx context.Context, op string, id int64, suffix string) (*detection.Detection, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, op, http.MethodPost, detectionPath(id)+suffix, nil, &raw); err != nil {
		return nil, err
	}

	var probe struct {
		ID *int64 `json:"id"`
	}
	if len(raw) > 0 && json.Unmarshal(raw, &probe) == nil && probe.ID != nil {
		var d detection.Detection
		if err := decodeInto(raw, &d); err != nil {
			return nil, err
		}
		return &d, nil
	}
	return c.GetDetection(ctx, id)
}
