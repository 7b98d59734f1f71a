package ghl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/DanishBukhari/servicem8-ghl-integ/internal/remote"
)

const (
	// GenerationV1 is the legacy API authenticated with a location API key.
	GenerationV1 = "v1"
	// GenerationV2 is the LeadConnector API authenticated with OAuth bearer tokens.
	GenerationV2 = "v2"

	serviceName          = "ghl"
	versionHeader        = "Version"
	defaultDocumentsBase = "https://services.leadconnectorhq.com"
	defaultMaxDownload   = 25 << 20
)

var (
	errUnknownGeneration = errors.New("ghl: api generation must be v1 or v2")
	errMissingAPIKey     = errors.New("ghl: api key is required for v1")
	errMissingAuthorizer = errors.New("ghl: authorizer is required for v2")
	// ErrDownloadTooLarge reports a document exceeding the configured limit.
	ErrDownloadTooLarge = errors.New("ghl: download exceeds size limit")
)

// Config configures a Client.
type Config struct {
	Generation       string
	BaseURL          string
	APIVersion       string
	APIKey           string
	LocationID       string
	LocationResolver func(ctx context.Context) string
	Authorizer       remote.HeaderFunc
	DocumentsBaseURL string
	HTTPClient       *http.Client
}

// Client wraps the GoHighLevel contacts, documents and users endpoints.
type Client struct {
	transport        *remote.Client
	generation       string
	locationID       string
	locationResolver func(ctx context.Context) string
	documentsBaseURL string
}

// NewClient builds a Client for the configured API generation.
func NewClient(cfg Config) (*Client, error) {
	generation := strings.ToLower(strings.TrimSpace(cfg.Generation))
	options := remote.Options{
		Service:    serviceName,
		BaseURL:    cfg.BaseURL,
		HTTPClient: cfg.HTTPClient,
		Headers:    map[string]string{},
	}
	switch generation {
	case GenerationV1:
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errMissingAPIKey
		}
		options.Headers["Authorization"] = "Bearer " + strings.TrimSpace(cfg.APIKey)
	case GenerationV2:
		if cfg.Authorizer == nil {
			return nil, errMissingAuthorizer
		}
		options.HeaderFunc = cfg.Authorizer
		if version := strings.TrimSpace(cfg.APIVersion); version != "" {
			options.Headers[versionHeader] = version
		}
	default:
		return nil, errUnknownGeneration
	}
	transport, err := remote.NewClient(options)
	if err != nil {
		return nil, err
	}
	documentsBaseURL := strings.TrimRight(strings.TrimSpace(cfg.DocumentsBaseURL), "/")
	if documentsBaseURL == "" {
		documentsBaseURL = defaultDocumentsBase
	}
	return &Client{
		transport:        transport,
		generation:       generation,
		locationID:       strings.TrimSpace(cfg.LocationID),
		locationResolver: cfg.LocationResolver,
		documentsBaseURL: documentsBaseURL,
	}, nil
}

// SearchContacts runs a free-text contact search, typically by email.
func (c *Client) SearchContacts(ctx context.Context, query string) ([]Contact, error) {
	params := url.Values{"query": {query}}
	if location := c.location(ctx); location != "" && c.generation == GenerationV2 {
		params.Set("locationId", location)
	}
	var response struct {
		Contacts []Contact `json:"contacts"`
	}
	if _, err := c.transport.DoJSON(ctx, remote.Request{Method: http.MethodGet, Path: "contacts/", Query: params}, &response); err != nil {
		return nil, err
	}
	return response.Contacts, nil
}

// CreateContact creates a contact and returns it with its id.
func (c *Client) CreateContact(ctx context.Context, contact NewContact) (Contact, error) {
	if contact.LocationID == "" && c.generation == GenerationV2 {
		contact.LocationID = c.location(ctx)
	}
	var response struct {
		Contact Contact `json:"contact"`
	}
	if _, err := c.transport.DoJSON(ctx, remote.Request{Method: http.MethodPost, Path: "contacts/", Body: contact}, &response); err != nil {
		return Contact{}, err
	}
	if response.Contact.ID == "" {
		return Contact{}, fmt.Errorf("ghl: create contact returned no id")
	}
	return response.Contact, nil
}

// GetContact fetches a contact including its custom fields.
func (c *Client) GetContact(ctx context.Context, contactID string) (Contact, error) {
	payload, err := c.GetContactRaw(ctx, contactID)
	if err != nil {
		return Contact{}, err
	}
	var response struct {
		Contact Contact `json:"contact"`
	}
	if err := json.Unmarshal(payload, &response); err != nil {
		return Contact{}, fmt.Errorf("ghl: decode contact %s: %w", contactID, err)
	}
	return response.Contact, nil
}

// GetContactRaw returns the undecoded contact response.
func (c *Client) GetContactRaw(ctx context.Context, contactID string) (json.RawMessage, error) {
	response, err := c.transport.Do(ctx, remote.Request{
		Method:  http.MethodGet,
		Path:    "contacts/" + url.PathEscape(contactID),
		Query:   url.Values{"include": {"customFields"}},
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(response.Body), nil
}

// ListContactAttachments returns the files attached to a contact.
func (c *Client) ListContactAttachments(ctx context.Context, contactID string) ([]Attachment, error) {
	var response struct {
		Attachments []Attachment `json:"attachments"`
	}
	if _, err := c.transport.DoJSON(ctx, remote.Request{
		Method: http.MethodGet,
		Path:   "contacts/" + url.PathEscape(contactID) + "/attachments",
	}, &response); err != nil {
		return nil, err
	}
	return response.Attachments, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (json.RawMessage, error) {
	response, err := c.transport.Do(ctx, remote.Request{
		Method:  http.MethodGet,
		Path:    "users/me",
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(response.Body), nil
}

// DownloadDocument fetches a stored document by id, falling back to the
// direct URL when the documents endpoint fails. maxBytes <= 0 applies the default limit.
func (c *Client) DownloadDocument(ctx context.Context, documentID, fallbackURL string, maxBytes int64) (Download, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxDownload
	}
	var primaryErr error
	if strings.TrimSpace(documentID) != "" {
		download, err := c.download(ctx, c.documentsBaseURL+"/documents/download/"+url.PathEscape(documentID), maxBytes)
		if err == nil {
			return download, nil
		}
		primaryErr = err
	}
	if strings.TrimSpace(fallbackURL) == "" {
		if primaryErr == nil {
			primaryErr = fmt.Errorf("ghl: no document id or url")
		}
		return Download{}, primaryErr
	}
	download, err := c.download(ctx, fallbackURL, maxBytes)
	if err != nil {
		return Download{}, errors.Join(primaryErr, err)
	}
	return download, nil
}

// PostWebhook delivers an automation event to an absolute webhook URL.
func (c *Client) PostWebhook(ctx context.Context, webhookURL string, event WebhookEvent) error {
	if strings.TrimSpace(webhookURL) == "" {
		return fmt.Errorf("ghl: webhook url is required")
	}
	_, err := c.transport.Do(ctx, remote.Request{Method: http.MethodPost, Path: webhookURL, Body: event})
	return err
}

func (c *Client) download(ctx context.Context, target string, maxBytes int64) (Download, error) {
	response, err := c.transport.Stream(ctx, remote.Request{Method: http.MethodGet, Path: target})
	if err != nil {
		return Download{}, err
	}
	defer response.Body.Close()

	data, err := io.ReadAll(io.LimitReader(response.Body, maxBytes+1))
	if err != nil {
		return Download{}, fmt.Errorf("ghl: read %s: %w", target, err)
	}
	if int64(len(data)) > maxBytes {
		return Download{}, ErrDownloadTooLarge
	}
	return Download{ContentType: response.Header.Get("Content-Type"), Data: data}, nil
}

func (c *Client) location(ctx context.Context) string {
	if c.locationID != "" {
		return c.locationID
	}
	if c.locationResolver != nil {
		return strings.TrimSpace(c.locationResolver(ctx))
	}
	return ""
}
