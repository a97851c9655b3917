// Package console serves the browser front end of D.A.T.A.: chart-ready JSON,
// edit forms and submit endpoints. Every action is forwarded to the remote
// API through the SDK; the console keeps no detection state of its own.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/detectionlab/data/internal/inflight"
	"github.com/detectionlab/data/pkg/client"
	"github.com/detectionlab/data/pkg/detection"
	"github.com/detectionlab/data/pkg/score"
)

// API is the subset of *client.Client the console forwards to.
type API interface {
	ListDetections(ctx context.Context) ([]detection.Detection, error)
	GetDetection(ctx context.Context, id int64) (*detection.Detection, error)
	CreateDetection(ctx context.Context, in detection.Input) (*detection.Detection, error)
	UpdateDetection(ctx context.Context, id int64, in detection.Input) (*detection.Detection, error)
	DeleteDetection(ctx context.Context, id int64) error
	CalculateScore(ctx context.Context, id int64) (*detection.Detection, error)
	ClassifyMitre(ctx context.Context, id int64) (*detection.Detection, error)
	UploadCSV(ctx context.Context, filename string, r io.Reader) (*client.UploadResult, error)
}

// WeightStore reads and replaces the scoring weights.
type WeightStore interface {
	Get(ctx context.Context) (score.Weights, error)
	Replace(ctx context.Context, w score.Weights) (score.Weights, error)
}

// Handler serves the /api routes of the console.
type Handler struct {
	api     API
	weights WeightStore
	guards  *inflight.Set
	logger  *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(api API, weights WeightStore, logger *zap.Logger) *Handler {
	return &Handler{api: api, weights: weights, guards: inflight.NewSet(), logger: logger}
}

// Register registers all console routes on the given router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	d := rg.Group("/detections")
	{
		d.GET("", h.ListDetections)
		d.POST("", h.CreateDetection)
		d.GET("/:id", h.GetDetection)
		d.GET("/:id/form", h.GetDetectionForm)
		d.PUT("/:id", h.UpdateDetection)
		d.DELETE("/:id", h.DeleteDetection)
		d.POST("/:id/score", h.CalculateScore)
		d.POST("/:id/classify", h.ClassifyMitre)
	}

	rg.POST("/upload", h.Upload)
	rg.GET("/sample.csv", h.SampleCSV)
	rg.GET("/weights", h.GetWeights)
	rg.PUT("/weights", h.PutWeights)
	rg.GET("/chart/radar", h.RadarChart)
	rg.GET("/inflight", h.InFlight)
}

// detectionView is a detection plus the strings the detail and list views show.
type detectionView struct {
	detection.Detection
	ScoreDisplay      string                 `json:"score_display"`
	TacticsDisplay    string                 `json:"tactics_display"`
	TechniquesDisplay string                 `json:"techniques_display"`
	Radar             []detection.RadarPoint `json:"radar,omitempty"`
}

func newView(d *detection.Detection, withRadar bool) detectionView {
	v := detectionView{
		Detection:         *d,
		ScoreDisplay:      detection.FormatScore(d.ShannonScore),
		TacticsDisplay:    detection.FormatTags(d.MitreTactics),
		TechniquesDisplay: detection.FormatTags(d.MitreTechniques),
	}
	if withRadar {
		v.Radar = detection.RadarPoints(d)
	}
	return v
}

// ── Detections ───────────────────────────────────────────────────────────────

// ListDetections handles GET /detections.
func (h *Handler) ListDetections(c *gin.Context) {
	list, err := h.api.ListDetections(c.Request.Context())
	recordAPICall("ListDetections", err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	views := make([]detectionView, 0, len(list))
	for i := range list {
		views = append(views, newView(&list[i], false))
	}
	c.JSON(http.StatusOK, gin.H{"detections": views, "count": len(views)})
}

// GetDetection handles GET /detections/:id, including the radar series.
func (h *Handler) GetDetection(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	d, err := h.api.GetDetection(c.Request.Context(), id)
	recordAPICall("GetDetection", err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newView(d, true))
}

// GetDetectionForm handles GET /detections/:id/form.
func (h *Handler) GetDetectionForm(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	d, err := h.api.GetDetection(c.Request.Context(), id)
	recordAPICall("GetDetection", err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detection.FormFromDetection(d))
}

// CreateDetection handles POST /detections with a Form body.
func (h *Handler) CreateDetection(c *gin.Context) {
	in, ok := bindForm(c)
	if !ok {
		return
	}

	var created *detection.Detection
	err := h.submit(c.Request.Context(), "detection.create", "CreateDetection", func(ctx context.Context) error {
		var err error
		created, err = h.api.CreateDetection(ctx, in)
		return err
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newView(created, true))
}

// UpdateDetection handles PUT /detections/:id with a Form body.
func (h *Handler) UpdateDetection(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	in, ok := bindForm(c)
	if !ok {
		return
	}

	var updated *detection.Detection
	err := h.submit(c.Request.Context(), fmt.Sprintf("detection.update.%d", id), "UpdateDetection", func(ctx context.Context) error {
		var err error
		updated, err = h.api.UpdateDetection(ctx, id, in)
		return err
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newView(updated, true))
}

// DeleteDetection handles DELETE /detections/:id.
func (h *Handler) DeleteDetection(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	err := h.submit(c.Request.Context(), fmt.Sprintf("detection.delete.%d", id), "DeleteDetection", func(ctx context.Context) error {
		return h.api.DeleteDetection(ctx, id)
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// submit runs fn under the guard for action and records the outcome of op,
// including a refusal because the action was already running.
func (h *Handler) submit(ctx context.Context, action, op string, fn func(context.Context) error) error {
	err := h.guards.Do(ctx, action, fn)
	recordAPICall(op, err)
	return err
}

// CalculateScore handles POST /detections/:id/score.
func (h *Handler) CalculateScore(c *gin.Context) {
	h.action(c, "CalculateScore", "score", h.api.CalculateScore)
}

// ClassifyMitre handles POST /detections/:id/classify.
func (h *Handler) ClassifyMitre(c *gin.Context) {
	h.action(c, "ClassifyMitre", "classify", h.api.ClassifyMitre)
}

func (h *Handler) action(c *gin.Context, op, name string, fn func(context.Context, int64) (*detection.Detection, error)) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var d *detection.Detection
	err := h.submit(c.Request.Context(), fmt.Sprintf("detection.%s.%d", name, id), op, func(ctx context.Context) error {
		var err error
		d, err = fn(ctx, id)
		return err
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newView(d, true))
}

// ── Upload ───────────────────────────────────────────────────────────────────

// Upload handles POST /upload. The file is forwarded untouched under its
// original name; the API's verdict is relayed verbatim.
func (h *Handler) Upload(c *gin.Context) {
	fh, err := c.FormFile(client.UploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"messages": []string{fmt.Sprintf("file exceeds %d bytes", tooLarge.Limit)},
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"messages": []string{client.MsgNoFileSelected}})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"messages": []string{client.MsgNoFileSelected}})
		return
	}
	defer f.Close()

	var res *client.UploadResult
	err = h.submit(c.Request.Context(), "upload", "UploadCSV", func(ctx context.Context) error {
		var err error
		res, err = h.api.UploadCSV(ctx, fh.Filename, f)
		return err
	})
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"messages": uploadMessages(err)})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"detail": res.Detail})
}

// SampleCSV handles GET /sample.csv.
func (h *Handler) SampleCSV(c *gin.Context) {
	c.Header("Content-Disposition", `attachment; filename="`+detection.SampleFilename+`"`)
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Status(http.StatusOK)
	if err := detection.WriteSampleCSV(c.Writer); err != nil {
		h.logger.Warn("write sample csv", zap.Error(err))
	}
}

// ── Weights ──────────────────────────────────────────────────────────────────

func weightsBody(w score.Weights) gin.H {
	return gin.H{"weights": w, "form": w.Form(), "sum": w.Sum()}
}

// GetWeights handles GET /weights.
func (h *Handler) GetWeights(c *gin.Context) {
	w, err := h.weights.Get(c.Request.Context())
	recordAPICall("GetWeights", err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	body := weightsBody(w)
	body["explain"] = score.Explain(&w)
	c.JSON(http.StatusOK, body)
}

// PutWeights handles PUT /weights with a WeightForm body. The form is
// validated here and an invalid set is answered with 422 without contacting
// the API.
func (h *Handler) PutWeights(c *gin.Context) {
	var form score.WeightForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"messages": []string{"invalid request body"}})
		return
	}

	w, err := score.Validate(form)
	if err != nil {
		var (
			invErr *score.InvalidWeightError
			sumErr *score.WeightSumMismatchError
		)
		body := gin.H{"messages": []string{err.Error()}}
		switch {
		case errors.As(err, &invErr):
			body["field"] = invErr.Field
		case errors.As(err, &sumErr):
			body["actual_sum"] = sumErr.ActualSum
		}
		c.JSON(http.StatusUnprocessableEntity, body)
		return
	}

	var stored score.Weights
	err = h.submit(c.Request.Context(), "weights", "ReplaceWeights", func(ctx context.Context) error {
		var err error
		stored, err = h.weights.Replace(ctx, w)
		return err
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, weightsBody(stored))
}

// ── Charts ───────────────────────────────────────────────────────────────────

// RadarChart handles GET /chart/radar: one dataset per detection.
func (h *Handler) RadarChart(c *gin.Context) {
	list, err := h.api.ListDetections(c.Request.Context())
	recordAPICall("ListDetections", err)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detection.RadarChart(list))
}

// InFlight handles GET /inflight: the actions a renderer should keep disabled.
func (h *Handler) InFlight(c *gin.Context) {
	busy := h.guards.Busy()
	if busy == nil {
		busy = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"busy": busy})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"messages": []string{"invalid detection id"}})
		return 0, false
	}
	return id, true
}

func bindForm(c *gin.Context) (detection.Input, bool) {
	var form detection.Form
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"messages": []string{"invalid request body"}})
		return detection.Input{}, false
	}
	in, err := form.Input()
	if err != nil {
		body := gin.H{"messages": []string{err.Error()}}
		var (
			fe *detection.FieldError
			re *score.ComponentRangeError
		)
		switch {
		case errors.As(err, &fe):
			body["field"] = fe.Field
		case errors.As(err, &re):
			body["field"] = re.Component
		}
		c.JSON(http.StatusBadRequest, body)
		return detection.Input{}, false
	}
	return in, true
}

// errorStatus maps a failed call onto the console's response status.
func errorStatus(err error) int {
	var (
		tErr *client.TransportError
		vErr *client.ServerValidationError
		sErr *client.ServerError
	)
	switch {
	case errors.Is(err, inflight.ErrInFlight):
		return http.StatusConflict
	case errors.As(err, &tErr):
		return http.StatusBadGateway
	case errors.As(err, &vErr):
		return vErr.Status
	case errors.As(err, &sErr):
		return sErr.Status
	case errors.Is(err, client.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func messages(err error) []string {
	if errors.Is(err, inflight.ErrInFlight) {
		return []string{inflight.ErrInFlight.Error()}
	}
	return client.Messages(err)
}

func uploadMessages(err error) []string {
	if errors.Is(err, inflight.ErrInFlight) {
		return []string{inflight.ErrInFlight.Error()}
	}
	return client.UploadMessages(err)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("api call failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"messages": messages(err)})
}
