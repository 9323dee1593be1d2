package compute

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
	"strings"
	"time"

	"github.com/smallbiznis/phage/internal/observability/tracing"
	"go.uber.org/zap"
)

const (
	maxErrorBody   = 4 << 10
	maxArchiveSize = 1 << 30
)

// Client talks to the external simulation API.
type Client interface {
	SubmitJob(ctx context.Context, req JobRequest) (string, error)
	Status(ctx context.Context, jobID string) (*JobStatus, error)
	Download(ctx context.Context, jobID string) ([]byte, error)
}

type httpClient struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	log     *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, hc *http.Client, log *zap.Logger) Client {
	if log == nil {
		log = zap.NewNop()
	}
	if hc == nil {
		hc = &http.Client{}
	}
	return &httpClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		timeout: timeout,
		http:    tracing.WrapClient("compute", hc),
		log:     log.Named("compute.client"),
	}
}

func (c *httpClient) SubmitJob(ctx context.Context, req JobRequest) (string, error) {
	if c.baseURL == "" {
		return "", ErrNotConfigured
	}
	if len(req.Protein) == 0 {
		return "", ErrEmptyProtein
	}

	body, contentType, err := encodeJob(req)
	if err != nil {
		return "", err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", body)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return "", err
	}

	var out SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if strings.TrimSpace(out.JobID) == "" {
		return "", ErrMissingJobID
	}

	c.log.Debug("job submitted", zap.String("job_id", out.JobID))
	return out.JobID, nil
}

func (c *httpClient) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	endpoint, err := c.jobURL(jobID, "status")
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.get(ctx, endpoint, "application/json")
	if err != nil {
		return nil, fmt.Errorf("job status: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var status JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode job status: %w", err)
	}
	return &status, nil
}

func (c *httpClient) Download(ctx context.Context, jobID string) ([]byte, error) {
	endpoint, err := c.jobURL(jobID, "tar")
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.get(ctx, endpoint, "application/octet-stream")
	if err != nil {
		return nil, fmt.Errorf("download results: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveSize+1))
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	if len(data) > maxArchiveSize {
		return nil, fmt.Errorf("result archive exceeds %d bytes", maxArchiveSize)
	}
	return data, nil
}

func (c *httpClient) get(ctx context.Context, endpoint, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	return c.http.Do(req)
}

func (c *httpClient) jobURL(jobID, action string) (string, error) {
	if c.baseURL == "" {
		return "", ErrNotConfigured
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" || strings.ContainsAny(jobID, "/?#") {
		return "", ErrInvalidJobID
	}
	return c.baseURL + "/jobs/" + url.PathEscape(jobID) + "/" + action, nil
}

func (c *httpClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	status := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode)))
	if status == "" {
		status = http.StatusText(resp.StatusCode)
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Status:     status,
		Body:       strings.TrimSpace(string(body)),
	}
}

func encodeJob(req JobRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := writeFilePart(w, "protein", "protein.pdb", "application/octet-stream", req.Protein); err != nil {
		return nil, "", err
	}
	if len(req.Ligand) > 0 {
		if err := writeFilePart(w, "ligand", "ligand.sdf", "application/octet-stream", req.Ligand); err != nil {
			return nil, "", err
		}
	}

	cfg, err := json.Marshal(req.Config)
	if err != nil {
		return nil, "", fmt.Errorf("encode job config: %w", err)
	}
	if err := writeFilePart(w, "config", "config.json", "application/json", cfg); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func writeFilePart(w *multipart.Writer, field, filename, contentType string, data []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}
