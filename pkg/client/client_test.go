package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/detectionlab/data/pkg/client"
	"github.com/detectionlab/data/pkg/detection"
	"github.com/detectionlab/data/pkg/score"
)

// ── Stub server ─────────────────────────────────────────────────────────

type stubAPI struct {
	mu         sync.Mutex
	detections map[int64]detection.Detection
	nextID     int64
	weights    score.Weights
	weightGets int32
	weightPuts int32
	lastHeader http.Header

	// partialActions makes the action endpoints answer with changed fields only.
	partialActions bool
}

func newStubAPI(t *testing.T) (*stubAPI, *httptest.Server) {
	t.Helper()
	s := &stubAPI{
		detections: map[int64]detection.Detection{
			1: {ID: 1, Name: "Brute force", Logic: "failed > 10", Description: "d",
				TAC: score.Float(80), MitreTactics: []string{}, MitreTechniques: []string{}},
		},
		nextID:  2,
		weights: score.DefaultWeights(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/detections/", s.handleDetections)
	mux.HandleFunc("/api/shannon-score-weights/", s.handleWeights)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *stubAPI) handleDetections(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeader = r.Header.Clone()

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/detections/"), "/")
	parts := strings.Split(rest, "/")

	if rest == "" {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			list := make([]detection.Detection, 0, len(s.detections))
			for id := int64(1); id < s.nextID; id++ {
				if d, ok := s.detections[id]; ok {
					list = append(list, d)
				}
			}
			json.NewEncoder(w).Encode(list)
		case http.MethodPost:
			var in detection.Input
			json.NewDecoder(r.Body).Decode(&in)
			if in.Name == "" {
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"name":["This field is required."]}`)
				return
			}
			d := detection.Detection{ID: s.nextID, Name: in.Name, Logic: in.Logic, Description: in.Description,
				TAC: in.TAC, DI: in.DI, OC: in.OC, IRP: in.IRP, U: in.U,
				MitreTactics: in.MitreTactics, MitreTechniques: in.MitreTechniques}
			s.detections[d.ID] = d
			s.nextID++
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(d)
		}
		return
	}

	if parts[0] == "upload_csv" {
		s.handleUpload(w, r)
		return
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	d, ok := s.detections[id]
	if err != nil || !ok {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"detail":"Not found."}`)
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "calculate_score":
			d.DI, d.OC, d.IRP, d.U = score.Float(70), score.Float(60), score.Float(90), score.Float(50)
			v := score.Compute(d.Components(), s.weights)
			d.ShannonScore = &v
			s.detections[id] = d
			if s.partialActions {
				json.NewEncoder(w).Encode(map[string]any{"shannon_score": v, "tac": d.TAC, "di": d.DI, "oc": d.OC, "irp": d.IRP, "u": d.U})
				return
			}
		case "classify_mitre":
			d.MitreTactics = []string{"Credential Access"}
			d.MitreTechniques = []string{"T1110"}
			s.detections[id] = d
			if s.partialActions {
				json.NewEncoder(w).Encode(map[string]any{"mitre_tactics": d.MitreTactics, "mitre_techniques": d.MitreTechniques})
				return
			}
		}
		json.NewEncoder(w).Encode(d)
		return
	}

	switch r.Method {
	case http.MethodGet:
		json.NewEncoder(w).Encode(d)
	case http.MethodPut:
		var in detection.Input
		json.NewDecoder(r.Body).Decode(&in)
		d.Name, d.Logic, d.Description = in.Name, in.Logic, in.Description
		s.detections[id] = d
		json.NewEncoder(w).Encode(d)
	case http.MethodDelete:
		delete(s.detections, id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *stubAPI) handleUpload(w http.ResponseWriter, r *http.Request) {
	f, hdr, err := r.FormFile("file")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"No file provided."}`)
		return
	}
	defer f.Close()
	body, _ := io.ReadAll(f)

	switch {
	case !strings.HasSuffix(hdr.Filename, ".csv"):
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"File must be a CSV."}`)
	case strings.Contains(string(body), ",,"):
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"errors":["row 2: missing name"]}`)
	case strings.Contains(string(body), "crash"):
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"An unexpected error occurred during CSV upload.","details":"trace"}`)
	case strings.Contains(string(body), "boom"):
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `<html>Server Error</html>`)
	default:
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"detail":"3 detections imported"}`)
	}
}

func (s *stubAPI) handleWeights(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeader = r.Header.Clone()

	if !strings.HasSuffix(r.URL.Path, "/1/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		atomic.AddInt32(&s.weightGets, 1)
	case http.MethodPut:
		atomic.AddInt32(&s.weightPuts, 1)
		var in score.Weights
		json.NewDecoder(r.Body).Decode(&in)
		if in.Validate() != nil {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"detail":"The sum of all weights must equal 1."}`)
			return
		}
		s.weights = in
	}
	json.NewEncoder(w).Encode(map[string]any{
		"id": 1, "tac_weight": s.weights.TAC, "di_weight": s.weights.DI, "oc_weight": s.weights.OC,
		"irp_weight": s.weights.IRP, "u_weight": s.weights.U,
	})
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...client.Option) *client.Client {
	t.Helper()
	c, err := client.New(srv.URL+"/api", opts...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// ── Construction ────────────────────────────────────────────────────────

func TestNew_rejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8000", "ftp://example.com"} {
		if _, err := client.New(raw); err == nil {
			t.Errorf("New(%q): expected error", raw)
		}
	}
}

func TestNew_trimsTrailingSlash(t *testing.T) {
	c := client.MustNew("http://localhost:8000/api/")
	if c.BaseURL() != "http://localhost:8000/api" {
		t.Errorf("unexpected base: %s", c.BaseURL())
	}
}

func TestWithWeightsKey_empty(t *testing.T) {
	if _, err := client.New(client.DefaultBaseURL, client.WithWeightsKey(" ")); err == nil {
		t.Error("expected error for empty weights key")
	}
}

// ── Detections ──────────────────────────────────────────────────────────

func TestListDetections(t *testing.T) {
	stub, srv := newStubAPI(t)
	c := newTestClient(t, srv, client.WithUserAgent("test-agent"))

	list, err := c.ListDetections(context.Background())
	if err != nil {
		t.Fatalf("ListDetections: %v", err)
	}
	if len(list) != 1 || list[0].Name != "Brute force" {
		t.Fatalf("unexpected list: %+v", list)
	}
	if got := stub.lastHeader.Get("User-Agent"); got != "test-agent" {
		t.Errorf("User-Agent = %q", got)
	}
	if stub.lastHeader.Get(client.RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
	if got := stub.lastHeader.Get("Accept"); got != "application/json" {
		t.Errorf("Accept = %q", got)
	}
}

func TestCreateUpdateDelete(t *testing.T) {
	_, srv := newStubAPI(t)
	c := newTestClient(t, srv)
	ctx := context.Background()

	created, err := c.CreateDetection(ctx, detection.Input{
		Name: "Encoded PowerShell", Logic: "cmdline contains '-enc'", Description: "b64",
		TAC: score.Float(40), MitreTactics: []string{}, MitreTechniques: []string{},
	})
	if err != nil {
		t.Fatalf("CreateDetection: %v", err)
	}
	if created.ID != 2 || created.TAC == nil || *created.TAC != 40 {
		t.Fatalf("unexpected created detection: %+v", created)
	}

	in := created.Input()
	in.Name = "Encoded PowerShell v2"
	updated, err := c.UpdateDetection(ctx, created.ID, in)
	if err != nil {
		t.Fatalf("UpdateDetection: %v", err)
	}
	if updated.Name != "Encoded PowerShell v2" {
		t.Errorf("update not applied: %+v", updated)
	}

	if err := c.DeleteDetection(ctx, created.ID); err != nil {
		t.Fatalf("DeleteDetection: %v", err)
	}
	_, err = c.GetDetection(ctx, created.ID)
	if !errors.Is(err, client.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestCreateDetection_fieldErrors(t *testing.T) {
	_, srv := newStubAPI(t)
	c := newTestClient(t, srv)

	_, err := c.CreateDetection(context.Background(), detection.Input{Logic: "l", Description: "d"})
	var vErr *client.ServerValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ServerValidationError, got %v", err)
	}
	want := []string{"name: This field is required."}
	if !reflect.DeepEqual(client.Messages(err), want) {
		t.Errorf("Messages = %v, want %v", client.Messages(err), want)
	}
}

func TestCalculateScore(t *testing.T) {
	for _, partial := range []bool{false, true} {
		stub, srv := newStubAPI(t)
		stub.partialActions = partial
		c := newTestClient(t, srv)

		d, err := c.CalculateScore(context.Background(), 1)
		if err != nil {
			t.Fatalf("partial=%v: CalculateScore: %v", partial, err)
		}
		if d.ID != 1 || d.Name != "Brute force" {
			t.Errorf("partial=%v: expected full record, got %+v", partial, d)
		}
		if d.ShannonScore == nil || math.Abs(*d.ShannonScore-70) > 1e-9 {
			t.Errorf("partial=%v: unexpected score %v", partial, d.ShannonScore)
		}
	}
}

func TestClassifyMitre(t *testing.T) {
	stub, srv := newStubAPI(t)
	stub.partialActions = true
	c := newTestClient(t, srv)

	d, err := c.ClassifyMitre(context.Background(), 1)
	if err != nil {
		t.Fatalf("ClassifyMitre: %v", err)
	}
	if d.Name != "Brute force" || !reflect.DeepEqual(d.MitreTechniques, []string{"T1110"}) {
		t.Errorf("unexpected detection: %+v", d)
	}
}

func TestGetDetection_notFound(t *testing.T) {
	_, srv := newStubAPI(t)
	c := newTestClient(t, srv)

	_, err := c.GetDetection(context.Background(), 99)
	if !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := client.Messages(err); !reflect.DeepEqual(got, []string{client.MsgNotFound}) {
		t.Errorf("Messages = %v", got)
	}
}

// ── Weights ─────────────────────────────────────────────────────────────

func TestWeights_getAndReplace(t *testing.T) {
	stub, srv := newStubAPI(t)
	c := newTestClient(t, srv)
	ctx := context.Background()

	w, err := c.Weights().Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if w != score.DefaultWeights() {
		t.Errorf("unexpected weights: %+v", w)
	}

	want := score.Weights{TAC: 0.3, DI: 0.2, OC: 0.2, IRP: 0.2, U: 0.1}
	got, err := c.Weights().Submit(ctx, score.WeightForm{TAC: "0.3", DI: "0.2", OC: "0.2", IRP: "0.2", U: "0.1"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got != want || stub.weights != want {
		t.Errorf("stored %+v, returned %+v, want %+v", stub.weights, got, want)
	}
}

func TestWeights_invalidNeverSent(t *testing.T) {
	stub, srv := newStubAPI(t)
	c := newTestClient(t, srv)

	_, err := c.Weights().Submit(context.Background(), score.WeightForm{TAC: "0.3", DI: "0.3", OC: "0.3", IRP: "0.3", U: "0.3"})
	var sumErr *score.WeightSumMismatchError
	if !errors.As(err, &sumErr) {
		t.Fatalf("expected WeightSumMismatchError, got %v", err)
	}

	_, err = c.Weights().Replace(context.Background(), score.Weights{TAC: 1, DI: 1})
	if !errors.As(err, &sumErr) {
		t.Fatalf("expected WeightSumMismatchError, got %v", err)
	}

	_, err = c.Weights().Submit(context.Background(), score.WeightForm{TAC: "x"})
	var invErr *score.InvalidWeightError
	if !errors.As(err, &invErr) || invErr.Field != score.FieldTAC {
		t.Fatalf("expected InvalidWeightError on tac_weight, got %v", err)
	}

	if n := atomic.LoadInt32(&stub.weightPuts); n != 0 {
		t.Errorf("expected no PUT requests, got %d", n)
	}
}

func TestWeights_cache(t *testing.T) {
	stub, srv := newStubAPI(t)
	c := newTestClient(t, srv, client.WithCacheTTL(5*time.Minute))
	ctx := context.Background()

	c.Weights().Get(ctx)
	c.Weights().Get(ctx)
	if n := atomic.LoadInt32(&stub.weightGets); n != 1 {
		t.Errorf("expected 1 GET (cached), got %d", n)
	}

	want := score.Weights{TAC: 0.5, DI: 0.5}
	if _, err := c.Weights().Replace(ctx, want); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	got, _ := c.Weights().Get(ctx)
	if got != want {
		t.Errorf("cache not refreshed by Replace: %+v", got)
	}
	if n := atomic.LoadInt32(&stub.weightGets); n != 1 {
		t.Errorf("expected Get served from cache after Replace, got %d GETs", n)
	}
}

func TestWeights_customKey(t *testing.T) {
	_, srv := newStubAPI(t)
	c := newTestClient(t, srv, client.WithWeightsKey("7"))

	_, err := c.Weights().Get(context.Background())
	if !errors.Is(err, client.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown key, got %v", err)
	}
}

// ── Upload ──────────────────────────────────────────────────────────────

func TestUploadCSV_rowErrorsVerbatim(t *testing.T) {
	_, srv := newStubAPI(t)
	c := newTestClient(t, srv)

	_, err := c.UploadCSV(context.Background(), "bad.csv", strings.NewReader("name,logic,description\n,,d\n"))
	got := client.Messages(err)
	if !reflect.DeepEqual(got, []string{"row 2: missing name"}) {
		t.Errorf("Messages = %v", got)
	}
}

func TestUploadCSV_singleError(t *testing.T) {
	_, srv := newStubAPI(t)
	c := newTestClient(t, srv)

	_, err := c.UploadCSV(context.Background(), "rules.txt", strings.NewReader("x"))
	var vErr *client.ServerValidationError
	if !errors.As(err, &vErr) || vErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 ServerValidationError, got %v", err)
	}
	if !reflect.DeepEqual(vErr.Messages, []string{"File must be a CSV."}) {
		t.Errorf("Messages = %v", vErr.Messages)
	}
}

func TestUploadForm_success(t *testing.T) {
	_, srv := newStubAPI(t)
	c := newTestClient(t, srv)

	var f client.UploadForm
	f.Select("rules.csv", []byte("name,logic,description\nA,l,d\n"))
	if err := f.Submit(context.Background(), c); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if f.Success != "3 detections imported" {
		t.Errorf("Success = %q", f.Success)
	}
	if f.Filename != "" || f.Content != nil || f.Errors != nil {
		t.Errorf("form not cleared: %+v", f)
	}
}

func TestUploadForm_failureShapesStayDistinct(t *testing.T) {
	_, srv := newStubAPI(t)
	c := newTestClient(t, srv)

	var f client.UploadForm
	if err := f.Submit(context.Background(), c); !errors.Is(err, client.ErrNoFile) {
		t.Fatalf("expected ErrNoFile, got %v", err)
	}
	if !reflect.DeepEqual(f.Errors, []string{client.MsgNoFileSelected}) {
		t.Errorf("Errors = %v", f.Errors)
	}

	f.Select("boom.csv", []byte("boom"))
	f.Submit(context.Background(), c)
	if !reflect.DeepEqual(f.Errors, []string{client.MsgUploadUnknown}) {
		t.Errorf("Errors = %v", f.Errors)
	}
	if f.Filename != "boom.csv" {
		t.Error("selection should survive a failed upload")
	}

	f.Select("crash.csv", []byte("crash"))
	err := f.Submit(context.Background(), c)
	var sErr *client.ServerError
	if !errors.As(err, &sErr) || sErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected ServerError 500, got %v", err)
	}
	if !reflect.DeepEqual(f.Errors, []string{"An unexpected error occurred during CSV upload."}) {
		t.Errorf("Errors = %v", f.Errors)
	}

	dead := client.MustNew("http://127.0.0.1:1/api", client.WithTimeout(2*time.Second))
	f.Select("rules.csv", []byte("name,logic,description\n"))
	err = f.Submit(context.Background(), dead)
	var tErr *client.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !reflect.DeepEqual(f.Errors, []string{client.MsgTransport}) {
		t.Errorf("Errors = %v", f.Errors)
	}
}

// ── Error taxonomy ──────────────────────────────────────────────────────

func TestMessages_shapes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		shape := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")[0]
		switch shape {
		case "list":
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"errors":["Row 2: a","Row 3: b"]}`)
		case "error":
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"Invalid CSV format."}`)
		case "detail":
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"detail":"The sum of all weights must equal 1."}`)
		case "opaque":
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `bad request`)
		case "server":
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"error":"OPENAI_API_KEY is not set."}`)
		case "server-list":
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"errors":["worker down"]}`)
		case "server-html":
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `<html>Server Error</html>`)
		case "garbled":
			io.WriteString(w, `[{"id":`)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	tests := []struct {
		shape string
		want  []string
	}{
		{"list", []string{"Row 2: a", "Row 3: b"}},
		{"error", []string{"Invalid CSV format."}},
		{"detail", []string{"The sum of all weights must equal 1."}},
		{"opaque", []string{client.MsgUnknown}},
		{"server", []string{"OPENAI_API_KEY is not set."}},
		{"server-list", []string{"worker down"}},
		{"server-html", []string{client.MsgUnknown}},
		{"garbled", []string{client.MsgUnknown}},
		{"gateway", []string{client.MsgUnknown}},
	}
	for _, tt := range tests {
		c := client.MustNew(srv.URL + "/" + tt.shape)
		_, err := c.ListDetections(context.Background())
		if err == nil {
			t.Fatalf("%s: expected error", tt.shape)
		}
		if got := client.Messages(err); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: Messages = %v, want %v", tt.shape, got, tt.want)
		}
	}
}

func TestMessages_localErrorsPassThrough(t *testing.T) {
	err := &score.WeightSumMismatchError{ActualSum: 1.5}
	if got := client.Messages(err); len(got) != 1 || got[0] != err.Error() {
		t.Errorf("Messages = %v", got)
	}
	if client.Messages(nil) != nil {
		t.Error("Messages(nil) should be nil")
	}
}
