package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
)

// UploadField is the multipart field the upload endpoint reads.
const UploadField = "file"

// Upload-specific user-visible messages.
const (
	MsgNoFileSelected = "Please select a CSV file to upload."
	MsgUploadUnknown  = "An unknown error occurred during upload."
)

// ErrNoFile is returned by UploadForm.Submit when no file was selected.
var ErrNoFile = errors.New("no file selected")

// UploadResult is the success body of a bulk upload.
type UploadResult struct {
	Detail string `json:"detail"`
}

// UploadCSV sends r as a multipart upload under field "file" with the given
// file name. Content is not inspected locally; the server parses and
// validates it.
func (c *Client) UploadCSV(ctx context.Context, filename string, r io.Reader) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(UploadField, filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	body, err := c.call(ctx, "UploadCSV", http.MethodPost, "/detections/upload_csv/", &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}

	res := &UploadResult{}
	if err := decodeInto(body, res); err != nil {
		return nil, err
	}
	return res, nil
}

// UploadMessages is Messages with the upload wording for unknown failures.
func UploadMessages(err error) []string {
	var uErr *UnknownError
	if errors.As(err, &uErr) {
		return []string{MsgUploadUnknown}
	}
	if errors.Is(err, ErrNoFile) {
		return []string{MsgNoFileSelected}
	}
	return Messages(err)
}

// UploadForm holds the state of an interactive upload: the selected file and
// the outcome of the last submission.
type UploadForm struct {
	Filename string
	Content  []byte

	Success string
	Errors  []string
}

// Select sets the file to upload and clears any previous outcome.
func (f *UploadForm) Select(filename string, content []byte) {
	f.Filename = filename
	f.Content = content
	f.Success = ""
	f.Errors = nil
}

// Submit uploads the selected file. On success the server's detail text is
// kept verbatim and the selection is cleared; on failure the selection stays
// and Errors holds one line per reported problem.
func (f *UploadForm) Submit(ctx context.Context, c *Client) error {
	f.Success = ""
	f.Errors = nil

	if f.Filename == "" {
		f.Errors = UploadMessages(ErrNoFile)
		return ErrNoFile
	}

	res, err := c.UploadCSV(ctx, f.Filename, bytes.NewReader(f.Content))
	if err != nil {
		f.Errors = UploadMessages(err)
		return err
	}

	f.Success = res.Detail
	f.Filename = ""
	f.Content = nil
	return nil
}
