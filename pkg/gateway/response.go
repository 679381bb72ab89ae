package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultMaxResponseSize is the largest response body read when
// Config.MaxResponseSize is unset.
const DefaultMaxResponseSize int64 = 32 << 20

// Response is a successful gateway response. JSON is set when the gateway
// declared a JSON content type; otherwise Text holds the body.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
	JSON        any
	Text        string
}

func (r *Response) IsJSON() bool {
	return isJSON(r.ContentType)
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/json")
}

// readBody reads at most limit bytes. A longer body is an error, never a
// truncated result.
func readBody(body io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, limit)
	}
	return data, nil
}

func succeeded(status int) bool {
	return status >= 200 && status <= 299
}

// newResponse reads res and decodes it by content type. It does not look at
// the status code.
func newResponse(res *http.Response, limit int64) (*Response, error) {
	data, err := readBody(res.Body, limit)
	if err != nil {
		return nil, err
	}

	response := &Response{
		StatusCode:  res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
		Body:        data,
	}
	if !response.IsJSON() {
		response.Text = string(data)
		return response, nil
	}
	if len(data) == 0 {
		return response, nil
	}
	if err := json.Unmarshal(data, &response.JSON); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return response, nil
}

// finish turns a final response into a Response or a *ResponseError.
func finish(res *http.Response, limit int64) (*Response, error) {
	if !succeeded(res.StatusCode) {
		data, err := readBody(res.Body, limit)
		if err != nil {
			return nil, err
		}
		return nil, &ResponseError{StatusCode: res.StatusCode, Body: string(data)}
	}
	return newResponse(res, limit)
}
