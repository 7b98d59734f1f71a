package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout      = 30 * time.Second
	maxErrorBodyBytes   = 64 << 10
	maxResponseBodySize = 64 << 20
)

var errMissingBaseURL = errors.New("remote: base url is required")

// HeaderFunc decorates an outgoing request immediately before it is sent.
type HeaderFunc func(ctx context.Context, header http.Header) error

// Options configures a Client.
type Options struct {
	Service    string
	BaseURL    string
	HTTPClient *http.Client
	Headers    map[string]string
	HeaderFunc HeaderFunc
	UserAgent  string
}

// Client is a thin JSON-over-HTTP client without retries. Every failure is
// returned to the caller, which decides whether to continue.
type Client struct {
	service    string
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
	headerFunc HeaderFunc
	userAgent  string
}

// Request describes a single call. Path may be relative to the base URL or absolute.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        any
	RawBody     io.Reader
	ContentType string
	Headers     map[string]string
	SkipAuth    bool
}

// Response carries the status, headers and fully read body of a 2xx reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// NewClient validates options and builds a Client.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	service := strings.TrimSpace(opts.Service)
	if service == "" {
		service = "remote"
	}
	headers := make(map[string]string, len(opts.Headers))
	for key, value := range opts.Headers {
		headers[key] = value
	}
	return &Client{
		service:    service,
		baseURL:    baseURL,
		httpClient: httpClient,
		headers:    headers,
		headerFunc: opts.HeaderFunc,
		userAgent:  strings.TrimSpace(opts.UserAgent),
	}, nil
}

// Service names the remote system in errors and logs.
func (c *Client) Service() string {
	return c.service
}

// Do sends the request and returns the buffered response. Non-2xx replies become *APIError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	httpResponse, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResponse.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("%s %s %s: read body: %w", c.service, req.method(), req.Path, err)
	}
	return &Response{Status: httpResponse.StatusCode, Header: httpResponse.Header, Body: body}, nil
}

// DoJSON sends the request and decodes a JSON reply into out when out is non-nil.
func (c *Client) DoJSON(ctx context.Context, req Request, out any) (*Response, error) {
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	if _, ok := req.Headers["Accept"]; !ok {
		req.Headers["Accept"] = "application/json"
	}
	response, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if out == nil || len(bytes.TrimSpace(response.Body)) == 0 {
		return response, nil
	}
	if err := json.Unmarshal(response.Body, out); err != nil {
		return response, fmt.Errorf("%s %s %s: decode response: %w", c.service, req.method(), req.Path, err)
	}
	return response, nil
}

// Stream sends the request and hands back the open response for 2xx replies.
// The caller must close the body.
func (c *Client) Stream(ctx context.Context, req Request) (*http.Response, error) {
	return c.send(ctx, req)
}

func (c *Client) send(ctx context.Context, req Request) (*http.Response, error) {
	target, err := c.resolve(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	contentType := req.ContentType
	switch {
	case req.RawBody != nil:
		body = req.RawBody
	case req.Body != nil:
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("%s %s %s: encode body: %w", c.service, req.method(), req.Path, err)
		}
		body = bytes.NewReader(encoded)
		if contentType == "" {
			contentType = "application/json"
		}
	}

	httpRequest, err := http.NewRequestWithContext(ctx, req.method(), target, body)
	if err != nil {
		return nil, err
	}
	for key, value := range c.headers {
		httpRequest.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpRequest.Header.Set(key, value)
	}
	if contentType != "" {
		httpRequest.Header.Set("Content-Type", contentType)
	}
	if c.userAgent != "" {
		httpRequest.Header.Set("User-Agent", c.userAgent)
	}
	if c.headerFunc != nil && !req.SkipAuth {
		if err := c.headerFunc(ctx, httpRequest.Header); err != nil {
			return nil, err
		}
	}

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("%s %s %s: %w", c.service, req.method(), req.Path, err)
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		defer httpResponse.Body.Close()
		payload, _ := io.ReadAll(io.LimitReader(httpResponse.Body, maxErrorBodyBytes))
		return nil, &APIError{
			Service: c.service,
			Method:  req.method(),
			Path:    req.Path,
			Status:  httpResponse.StatusCode,
			Body:    strings.TrimSpace(string(payload)),
		}
	}
	return httpResponse, nil
}

func (c *Client) resolve(path string, query url.Values) (string, error) {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	if len(query) == 0 {
		return target, nil
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	values := parsed.Query()
	for key, list := range query {
		for _, value := range list {
			values.Add(key, value)
		}
	}
	parsed.RawQuery = values.Encode()
	return parsed.String(), nil
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}
