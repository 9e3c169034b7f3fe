// Package backend is the HTTP client for the answering backend: query
// submission, job status, and the document store.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/capitalize-ai/docchat/internal/model"
	"github.com/capitalize-ai/docchat/pkg/logger"
	"github.com/capitalize-ai/docchat/pkg/metrics"
)

// APIError is a non-2xx response from the backend, carrying the detail
// string the server attached.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

// Client talks to one answering backend instance.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

// New creates a client for the backend at baseURL. A nil httpClient gets
// a 30 second timeout client; a nil log uses the global logger.
func New(baseURL string, httpClient *http.Client, log *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logger.Global()
	}
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		log:     log,
	}
}

// SubmitQuery posts a user message and returns the job to stream.
func (c *Client) SubmitQuery(ctx context.Context, message, conversationID string) (model.ChatResponse, error) {
	req := model.ChatRequest{Message: message, ConversationID: conversationID}
	var resp model.ChatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat", "/api/chat", req, &resp); err != nil {
		return model.ChatResponse{}, fmt.Errorf("submitting query: %w", err)
	}
	c.log.Debug("query submitted", "job_id", resp.JobID, "status", resp.Status)
	return resp, nil
}

// JobStatus fetches the backend's view of a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (model.JobStatus, error) {
	var status model.JobStatus
	path := "/api/chat/" + url.PathEscape(jobID) + "/status"
	if err := c.doJSON(ctx, http.MethodGet, path, "/api/chat/{job_id}/status", nil, &status); err != nil {
		return model.JobStatus{}, fmt.Errorf("fetching job status: %w", err)
	}
	return status, nil
}

// StreamURL is the push-connection endpoint for a job.
func (c *Client) StreamURL(jobID string) string {
	return c.baseURL + "/api/chat/" + url.PathEscape(jobID) + "/stream"
}

// ListDocuments fetches metadata for every document the backend holds.
func (c *Client) ListDocuments(ctx context.Context) ([]model.PDFMetadata, error) {
	var docs []model.PDFMetadata
	if err := c.doJSON(ctx, http.MethodGet, "/api/pdfs", "/api/pdfs", nil, &docs); err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// UploadDocument streams a PDF to the backend as a multipart upload.
// The part carries an explicit application/pdf content type; the
// backend rejects anything else.
func (c *Client) UploadDocument(ctx context.Context, filename string, content io.Reader) (model.UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename))},
		"Content-Type":        {"application/pdf"},
	})
	if err != nil {
		return model.UploadResult{}, fmt.Errorf("building upload: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return model.UploadResult{}, fmt.Errorf("buffering upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return model.UploadResult{}, fmt.Errorf("finalizing upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pdfs/upload", &buf)
	if err != nil {
		return model.UploadResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result model.UploadResult
	if err := c.send(req, "/api/pdfs/upload", &result); err != nil {
		return model.UploadResult{}, fmt.Errorf("uploading document: %w", err)
	}
	c.log.Info("document uploaded", "filename", result.Filename, "pages", result.PageCount)
	return result, nil
}

// DeleteDocument removes a document from the backend.
func (c *Client) DeleteDocument(ctx context.Context, filename string) error {
	path := "/api/pdfs/" + url.PathEscape(filename)
	if err := c.doJSON(ctx, http.MethodDelete, path, "/api/pdfs/{filename}", nil, nil); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	c.log.Info("document deleted", "filename", filename)
	return nil
}

// DocumentPage fetches the extracted text of one page.
func (c *Client) DocumentPage(ctx context.Context, filename string, pageNumber int) (model.PDFPage, error) {
	var page model.PDFPage
	path := "/api/pdfs/" + url.PathEscape(filename) + "/page/" + strconv.Itoa(pageNumber)
	if err := c.doJSON(ctx, http.MethodGet, path, "/api/pdfs/{filename}/page/{page}", nil, &page); err != nil {
		return model.PDFPage{}, fmt.Errorf("fetching page: %w", err)
	}
	return page, nil
}

// SearchDocument runs a text search within one document.
func (c *Client) SearchDocument(ctx context.Context, filename, query string, maxResults int) (model.SearchResult, error) {
	q := url.Values{}
	q.Set("query", query)
	if maxResults > 0 {
		q.Set("max_results", strconv.Itoa(maxResults))
	}
	path := "/api/pdfs/" + url.PathEscape(filename) + "/search?" + q.Encode()

	var result model.SearchResult
	if err := c.doJSON(ctx, http.MethodGet, path, "/api/pdfs/{filename}/search", nil, &result); err != nil {
		return model.SearchResult{}, fmt.Errorf("searching document: %w", err)
	}
	return result, nil
}

// doJSON sends one JSON request and decodes the response into out when
// out is non-nil. pattern is the route shape used as the metric label;
// concrete ids and filenames must not leak into label values.
func (c *Client) doJSON(ctx context.Context, method, path, pattern string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, pattern, out)
}

func (c *Client) send(req *http.Request, pattern string, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordBackendRequest(req.Method, pattern, "error", time.Since(start).Seconds())
		return err
	}
	defer resp.Body.Close()

	metrics.RecordBackendRequest(req.Method, pattern, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeAPIError extracts the backend's detail string when present.
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	if err != nil {
		return apiErr
	}

	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Detail != "" {
			apiErr.Detail = payload.Detail
		} else if payload.Error != "" {
			apiErr.Detail = payload.Error
		}
	}
	return apiErr
}
