package fetch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/roach88/matchlog/internal/record"
	"github.com/roach88/matchlog/internal/remote"
)

// ResponseError describes a response that could not be accepted.
type ResponseError struct {
	Status   int
	BodyCode int
	Message  string
}

func (e *ResponseError) Error() string {
	if e.BodyCode != 0 && e.BodyCode != e.Status {
		return fmt.Sprintf("http %d (body code %d): %s", e.Status, e.BodyCode, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// envelope is the status wrapper every API response carries.
type envelope struct {
	Code    *int   `json:"code"`
	Message string `json:"message"`
}

// Classify maps a raw remote result onto the outcome taxonomy.
//
// The API may report an error inside a 200 response through the body's
// "code" field, so both the HTTP status and the body code are consulted.
func Classify(id record.ID, resp remote.Response, err error) Outcome {
	out := Outcome{ID: id, Status: resp.StatusCode}

	if err != nil {
		out.Kind = Transient
		out.Cause = fmt.Errorf("request failed: %w", err)
		return out
	}

	var env envelope
	decodeErr := json.NewDecoder(bytes.NewReader(resp.Body)).Decode(&env)
	code := resp.StatusCode
	if decodeErr == nil && env.Code != nil && resp.StatusCode == http.StatusOK {
		code = *env.Code
	}
	rerr := &ResponseError{Status: resp.StatusCode, BodyCode: code, Message: env.Message}
	if rerr.Message == "" {
		rerr.Message = http.StatusText(code)
	}

	switch {
	case code == http.StatusOK:
		if decodeErr != nil {
			out.Kind = Fatal
			out.Cause = fmt.Errorf("malformed body: %w", decodeErr)
			return out
		}
		if !json.Valid(resp.Body) {
			out.Kind = Fatal
			out.Cause = errors.New("malformed body: trailing data")
			return out
		}
		out.Kind = Success
		out.Payload = resp.Body
	case code == http.StatusNotFound:
		out.Kind = NotFound
	case code == http.StatusTooManyRequests:
		out.Kind = RateLimited
		out.RetryAfter = resp.RetryAfter
	case code >= 500, code == http.StatusRequestTimeout:
		out.Kind = Transient
		out.Cause = rerr
	default:
		out.Kind = Fatal
		out.Cause = rerr
	}
	return out
}
