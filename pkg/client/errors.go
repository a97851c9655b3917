package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is wrapped by errors for 404 responses.
var ErrNotFound = errors.New("not found")

// User-visible messages for failures that carry no server text.
const (
	MsgTransport = "No response from server. Please try again later."
	MsgUnknown   = "An unknown error occurred."
	MsgNotFound  = "Not found."
)

// TransportError means the request produced no HTTP response at all: the
// dial failed, the connection was reset or the timeout elapsed.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: no response: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServerValidationError is a 4xx response whose body the server structured.
// Messages holds one entry per reported problem, verbatim.
type ServerValidationError struct {
	Status   int
	Messages []string
}

func (e *ServerValidationError) Error() string {
	return fmt.Sprintf("server rejected request (%d): %s", e.Status, strings.Join(e.Messages, "; "))
}

// ServerError is a 5xx response that still carries the server's own message,
// such as a failed CSV import or a missing classifier key.
type ServerError struct {
	Status   int
	Messages []string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.Status, strings.Join(e.Messages, "; "))
}

// UnknownError covers every response that is neither a success nor carries a
// message the server structured.
type UnknownError struct {
	Status int
	Body   string
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("unexpected response %d: %s", e.Status, e.Body)
}

// Messages returns the lines a user should see for err. A structured rejection
// keeps one line per server message; the other remote failures each map to
// their own fixed line; anything else is shown as err.Error().
func Messages(err error) []string {
	if err == nil {
		return nil
	}

	var (
		tErr *TransportError
		vErr *ServerValidationError
		sErr *ServerError
		uErr *UnknownError
	)
	switch {
	case errors.As(err, &vErr):
		return append([]string(nil), vErr.Messages...)
	case errors.As(err, &sErr):
		return append([]string(nil), sErr.Messages...)
	case errors.As(err, &tErr):
		return []string{MsgTransport}
	case errors.Is(err, ErrNotFound):
		return []string{MsgNotFound}
	case errors.As(err, &uErr):
		return []string{MsgUnknown}
	default:
		return []string{err.Error()}
	}
}

// errorBody is the union of the failure shapes the API produces.
type errorBody struct {
	Errors []string `json:"errors"`
	Error  string   `json:"error"`
	Detail string   `json:"detail"`
}

// classify turns a non-2xx response into one of the taxonomy errors.
func classify(status int, path string, body []byte) error {
	if status == 404 {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	switch {
	case status >= 400 && status < 500:
		if msgs := structuredMessages(body); len(msgs) > 0 {
			return &ServerValidationError{Status: status, Messages: msgs}
		}
	case status >= 500:
		if msgs := errorBodyMessages(body); len(msgs) > 0 {
			return &ServerError{Status: status, Messages: msgs}
		}
	}
	return &UnknownError{Status: status, Body: string(body)}
}

// errorBodyMessages reads the errors, error or detail shape, in that order.
func errorBodyMessages(body []byte) []string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return nil
	}
	switch {
	case len(eb.Errors) > 0:
		return eb.Errors
	case eb.Error != "":
		return []string{eb.Error}
	case eb.Detail != "":
		return []string{eb.Detail}
	}
	return nil
}

func structuredMessages(body []byte) []string {
	if msgs := errorBodyMessages(body); len(msgs) > 0 {
		return msgs
	}

	// Serializer rejections arrive as {"field": ["message", ...]}.
	var fields map[string][]string
	if err := json.Unmarshal(body, &fields); err != nil || len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var msgs []string
	for _, k := range keys {
		for _, m := range fields[k] {
			if k == "non_field_errors" {
				msgs = append(msgs, m)
				continue
			}
			msgs = append(msgs, k+": "+m)
		}
	}
	return msgs
}
