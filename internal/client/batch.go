package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/zmcp/bc-mcp/internal/constants"
)

// BatchOperation is one request inside a JSON $batch call. URL is relative
// to the API root, e.g. "companies(...)/customers".
type BatchOperation struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    map[string]interface{}
}

// BatchResult is the outcome of one operation in a batch
type BatchResult struct {
	ID      string
	Success bool
	Status  int
	Body    interface{}
	Error   string
}

type batchRequestItem struct {
	ID      string                 `json:"id"`
	Method  string                 `json:"method"`
	URL     string                 `json:"url"`
	Headers map[string]string      `json:"headers"`
	Body    map[string]interface{} `json:"body,omitempty"`
}

type batchRequestBody struct {
	Requests []batchRequestItem `json:"requests"`
}

type batchResponseBody struct {
	Responses []struct {
		ID      *string           `json:"id"`
		Status  int               `json:"status"`
		Headers map[string]string `json:"headers"`
		Body    interface{}       `json:"body"`
	} `json:"responses"`
}

// buildBatchRequest numbers operations by position and adds a JSON content
// type to operations carrying a body
func buildBatchRequest(ops []BatchOperation) (*batchRequestBody, error) {
	if len(ops) == 0 {
		return nil, errors.New("batch request needs at least one operation")
	}
	if len(ops) > constants.MaxBatchOperations {
		return nil, errors.Newf("batch request exceeds maximum of %d operations. Got %d.",
			constants.MaxBatchOperations, len(ops))
	}

	body := &batchRequestBody{Requests: make([]batchRequestItem, 0, len(ops))}
	for i, op := range ops {
		headers := make(map[string]string, len(op.Headers)+1)
		for k, v := range op.Headers {
			headers[k] = v
		}
		if op.Body != nil {
			headers[constants.ContentType] = constants.ContentTypeJSON
		}
		body.Requests = append(body.Requests, batchRequestItem{
			ID:      strconv.Itoa(i),
			Method:  op.Method,
			URL:     op.URL,
			Headers: headers,
			Body:    op.Body,
		})
	}
	return body, nil
}

// parseBatchResponse treats 2xx as success and otherwise reports
// error.message from the body, or "HTTP n"
func parseBatchResponse(data []byte) ([]BatchResult, error) {
	var resp batchResponseBody
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to parse batch response")
	}

	results := make([]BatchResult, 0, len(resp.Responses))
	for _, r := range resp.Responses {
		result := BatchResult{
			Status:  r.Status,
			Success: r.Status >= 200 && r.Status < 300,
			Body:    r.Body,
		}
		if r.ID != nil {
			result.ID = *r.ID
		}
		if !result.Success {
			result.Error = fmt.Sprintf("HTTP %d", r.Status)
			if obj, ok := r.Body.(map[string]interface{}); ok {
				if inner, ok := obj["error"].(map[string]interface{}); ok {
					if msg := messageText(inner["message"]); msg != "" {
						result.Error = msg
					}
				}
			}
		}
		results = append(results, result)
	}
	return results, nil
}

// Batch sends up to 100 operations in one JSON $batch request
func (c *Client) Batch(ctx context.Context, ops []BatchOperation) ([]BatchResult, error) {
	reqBody, err := buildBatchRequest(ops)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode batch request")
	}

	headers := map[string]string{constants.ContentType: constants.ContentTypeJSON}
	resp, err := c.doRequest(ctx, constants.POST, c.buildURL(constants.BatchEndpoint, nil), payload, headers)
	if err != nil {
		return nil, err
	}
	return parseBatchResponse(resp.body)
}
