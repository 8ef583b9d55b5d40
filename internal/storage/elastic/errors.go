package elastic

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ResponseError is an error response returned by the cluster.
type ResponseError struct {
	StatusCode int
	Type       string
	Reason     string
}

func (e *ResponseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("elasticsearch: status %d: %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("elasticsearch: status %d: %s: %s", e.StatusCode, e.Type, e.Reason)
}

// decodeError reads an error body of the form
// {"error":{"type":...,"reason":...},"status":400}. Some endpoints send the
// error as a bare string instead.
func decodeError(res *esapi.Response) *ResponseError {
	rerr := &ResponseError{StatusCode: res.StatusCode}
	data, err := io.ReadAll(res.Body)
	if err != nil || len(data) == 0 {
		rerr.Reason = res.Status()
		return rerr
	}
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || len(envelope.Error) == 0 {
		rerr.Reason = string(data)
		return rerr
	}
	var detail struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(envelope.Error, &detail); err == nil {
		rerr.Type = detail.Type
		rerr.Reason = detail.Reason
		return rerr
	}
	var msg string
	if err := json.Unmarshal(envelope.Error, &msg); err == nil {
		rerr.Reason = msg
		return rerr
	}
	rerr.Reason = string(envelope.Error)
	return rerr
}
