// Package transport is the HTTP client for the photobook API: catalog fetch,
// asset upload, PDF build submission and build status polling.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photobook/internal/build"
	"github.com/dharsanguruparan/photobook/internal/catalog"
	"github.com/dharsanguruparan/photobook/internal/upload"
)

const (
	catalogPath = "/ios/get_initial_data"
	uploadPath  = "/upload/"
	buildPath   = "/ios/generate_pdf"
	statusPath  = "/ios/pdf_status/"

	maxResponseBytes = 8 << 20
)

// ErrDecode is returned when a response body cannot be decoded.
var ErrDecode = errors.New("undecodable response")

// StatusError reports a non-2xx answer.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests
}

// Client calls the photobook API. It satisfies upload.Transport and
// build.Client.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  zerolog.Logger
}

// New creates a client. A nil httpClient gets a 30 second timeout.
func New(baseURL, apiKey string, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
		logger:  logger.With().Str("component", "transport").Logger(),
	}
}

// FetchCatalog downloads and parses the product and layout templates.
func (c *Client) FetchCatalog(ctx context.Context) (*catalog.Catalog, error) {
	body, err := c.do(ctx, http.MethodGet, catalogPath, "", nil)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	return cat, nil
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload sends one asset as a multipart form and returns its remote URL.
// Network failures and 5xx/408/429 answers are transient; other rejections and
// unreadable answers are permanent.
func (c *Client) Upload(ctx context.Context, p upload.Payload) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	fields := map[string]string{
		"identifier": p.AssetID,
		"width":      strconv.FormatFloat(p.Size.Width, 'f', -1, 64),
		"height":     strconv.FormatFloat(p.Size.Height, 'f', -1, 64),
		"format":     string(p.Format),
	}
	for name, value := range fields {
		if err := form.WriteField(name, value); err != nil {
			return "", upload.Permanent(fmt.Errorf("write field %s: %w", name, err))
		}
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName(p)))
	header.Set("Content-Type", p.Format.ContentType())
	part, err := form.CreatePart(header)
	if err != nil {
		return "", upload.Permanent(fmt.Errorf("create file part: %w", err))
	}
	if _, err := part.Write(p.Data); err != nil {
		return "", upload.Permanent(fmt.Errorf("write file part: %w", err))
	}
	if err := form.Close(); err != nil {
		return "", upload.Permanent(fmt.Errorf("close form: %w", err))
	}

	body, err := c.do(ctx, http.MethodPost, uploadPath, form.FormDataContentType(), &buf)
	if err != nil {
		return "", classifyUpload(err)
	}
	var resp uploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", upload.Permanent(fmt.Errorf("%w: %v", ErrDecode, err))
	}
	if resp.URL == "" {
		return "", upload.Permanent(fmt.Errorf("%w: no url in upload response", ErrDecode))
	}
	return resp.URL, nil
}

type submitResponse struct {
	JobID     string `json:"jobId"`
	CoverURL  string `json:"coverUrl"`
	InsideURL string `json:"insideUrl"`
}

// Submit posts a build request. The answer only carries provisional PDF
// locations.
func (c *Client) Submit(ctx context.Context, req *build.Request) (build.Submission, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return build.Submission{}, fmt.Errorf("marshal build request: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, buildPath, "application/json", bytes.NewReader(data))
	if err != nil {
		return build.Submission{}, classifyBuild(err)
	}
	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return build.Submission{}, fmt.Errorf("%w: %w", build.ErrInvalidResponse, err)
	}
	return build.Submission{JobID: resp.JobID, CoverURL: resp.CoverURL, InsideURL: resp.InsideURL}, nil
}

type statusResponse struct {
	Status    string `json:"status"`
	CoverURL  string `json:"coverUrl"`
	InsideURL string `json:"insideUrl"`
	Message   string `json:"message"`
}

// Status asks for the state of a submitted build.
func (c *Client) Status(ctx context.Context, jobID string) (build.Status, error) {
	body, err := c.do(ctx, http.MethodGet, statusPath+url.PathEscape(jobID), "", nil)
	if err != nil {
		return build.Status{}, classifyBuild(err)
	}
	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return build.Status{}, fmt.Errorf("%w: %w", build.ErrInvalidResponse, err)
	}
	if resp.Status == "" {
		return build.Status{}, fmt.Errorf("%w: status missing", build.ErrInvalidResponse)
	}
	return build.Status{
		State:     build.RemoteState(resp.Status),
		CoverURL:  resp.CoverURL,
		InsideURL: resp.InsideURL,
		Message:   resp.Message,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "ApiKey "+c.apiKey)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	c.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Dur("duration", time.Since(start)).Msg("api call")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(data)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(snippet)}
	}
	return data, nil
}

func classifyUpload(err error) error {
	var status *StatusError
	if errors.As(err, &status) && !status.Temporary() {
		return upload.Permanent(err)
	}
	return upload.Transient(err)
}

func classifyBuild(err error) error {
	var status *StatusError
	if errors.As(err, &status) && !status.Temporary() {
		return fmt.Errorf("%w: %w", build.ErrRejected, err)
	}
	return err
}

func fileName(p upload.Payload) string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '"' {
			return '_'
		}
		return r
	}, p.AssetID)
	return name + "." + string(p.Format)
}
