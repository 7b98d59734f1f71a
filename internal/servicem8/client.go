package servicem8

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/DanishBukhari/servicem8-ghl-integ/internal/remote"
)

const (
	serviceName      = "servicem8"
	apiKeyHeader     = "X-API-Key"
	recordUUIDHeader = "x-record-uuid"
)

var (
	errMissingAPIKey     = errors.New("servicem8: api key is required")
	errMissingRecordUUID = errors.New("servicem8: create response carried no record uuid")
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Location   *time.Location
}

// Client wraps the ServiceM8 REST API.
type Client struct {
	transport *remote.Client
	location  *time.Location
}

// NewClient constructs a Client authenticated with a static API key.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errMissingAPIKey
	}
	transport, err := remote.NewClient(remote.Options{
		Service:    serviceName,
		BaseURL:    cfg.BaseURL,
		HTTPClient: cfg.HTTPClient,
		Headers:    map[string]string{apiKeyHeader: cfg.APIKey},
	})
	if err != nil {
		return nil, err
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	return &Client{transport: transport, location: location}, nil
}

// Location is the account timezone used for date filters.
func (c *Client) Location() *time.Location {
	return c.location
}

// ListCompanies returns every company on the account.
func (c *Client) ListCompanies(ctx context.Context) ([]Company, error) {
	var companies []Company
	if err := c.list(ctx, "company.json", "", &companies); err != nil {
		return nil, err
	}
	return companies, nil
}

// GetCompany fetches a company by uuid. A missing company yields (nil, nil).
func (c *Client) GetCompany(ctx context.Context, uuid string) (*Company, error) {
	var companies []Company
	if err := c.list(ctx, "company.json", Eq("uuid", uuid), &companies); err != nil {
		return nil, err
	}
	if len(companies) == 0 {
		return nil, nil
	}
	return &companies[0], nil
}

// CreateCompany creates a company and returns its uuid.
func (c *Client) CreateCompany(ctx context.Context, company Company) (string, error) {
	return c.create(ctx, "company.json", company)
}

// ListCompanyContacts returns the contacts attached to a company.
func (c *Client) ListCompanyContacts(ctx context.Context, companyUUID string) ([]CompanyContact, error) {
	var contacts []CompanyContact
	if err := c.list(ctx, "companycontact.json", Eq("company_uuid", companyUUID), &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

// ListContactsEditedSince returns company contacts edited after since.
func (c *Client) ListContactsEditedSince(ctx context.Context, since time.Time) ([]CompanyContact, error) {
	var contacts []CompanyContact
	if err := c.list(ctx, "companycontact.json", c.editedSince(since), &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

// CreateCompanyContact creates a company contact and returns its uuid.
func (c *Client) CreateCompanyContact(ctx context.Context, contact CompanyContact) (string, error) {
	return c.create(ctx, "companycontact.json", contact)
}

// GetJob fetches a job by uuid. A missing job yields (nil, nil).
func (c *Client) GetJob(ctx context.Context, uuid string) (*Job, error) {
	var jobs []Job
	if err := c.list(ctx, "job.json", Eq("uuid", uuid), &jobs); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

// ListJobsEditedSince returns jobs edited after since.
func (c *Client) ListJobsEditedSince(ctx context.Context, since time.Time) ([]Job, error) {
	var jobs []Job
	if err := c.list(ctx, "job.json", c.editedSince(since), &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// CreateJob creates a job and returns its uuid.
func (c *Client) CreateJob(ctx context.Context, job Job) (string, error) {
	return c.create(ctx, "job.json", job)
}

// CreateJobContact attaches a contact to a job.
func (c *Client) CreateJobContact(ctx context.Context, contact JobContact) (string, error) {
	return c.create(ctx, "jobcontact.json", contact)
}

// ListJobActivities returns the activities recorded on a job.
func (c *Client) ListJobActivities(ctx context.Context, jobUUID string) ([]JobActivity, error) {
	var activities []JobActivity
	if err := c.list(ctx, "jobactivity.json", Eq("job_uuid", jobUUID), &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

// ListStaffActivities returns the activities scheduled for a staff member.
func (c *Client) ListStaffActivities(ctx context.Context, staffUUID string) ([]JobActivity, error) {
	var activities []JobActivity
	if err := c.list(ctx, "jobactivity.json", Eq("staff_uuid", staffUUID), &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

// CreateJobActivity books staff time on a job.
func (c *Client) CreateJobActivity(ctx context.Context, activity JobActivity) (string, error) {
	return c.create(ctx, "jobactivity.json", activity)
}

// ListPaymentsEditedSince returns payments edited after since.
func (c *Client) ListPaymentsEditedSince(ctx context.Context, since time.Time) ([]JobPayment, error) {
	var payments []JobPayment
	if err := c.list(ctx, "jobpayment.json", c.editedSince(since), &payments); err != nil {
		return nil, err
	}
	return payments, nil
}

// GetCategory fetches a category by uuid. A missing category yields (nil, nil).
func (c *Client) GetCategory(ctx context.Context, uuid string) (*Category, error) {
	var categories []Category
	if err := c.list(ctx, "category.json", Eq("uuid", uuid), &categories); err != nil {
		return nil, err
	}
	if len(categories) == 0 {
		return nil, nil
	}
	return &categories[0], nil
}

// CreateAttachment creates the metadata record that a file is later uploaded into.
func (c *Client) CreateAttachment(ctx context.Context, attachment Attachment) (string, error) {
	return c.create(ctx, "Attachment.json", attachment)
}

// UploadAttachmentFile stores the binary content of an attachment.
func (c *Client) UploadAttachmentFile(ctx context.Context, attachmentUUID string, data []byte) error {
	_, err := c.transport.Do(ctx, remote.Request{
		Method:      http.MethodPut,
		Path:        fmt.Sprintf("Attachment/%s.file", attachmentUUID),
		RawBody:     bytes.NewReader(data),
		ContentType: "application/octet-stream",
	})
	return err
}

func (c *Client) editedSince(since time.Time) string {
	return Gt("edit_date", FormatTimestamp(since, c.location))
}

func (c *Client) list(ctx context.Context, path, filter string, out any) error {
	_, err := c.transport.DoJSON(ctx, remote.Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  filterQuery(filter),
	}, out)
	return err
}

func (c *Client) create(ctx context.Context, path string, payload any) (string, error) {
	response, err := c.transport.DoJSON(ctx, remote.Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   payload,
	}, nil)
	if err != nil {
		return "", err
	}
	recordUUID := strings.TrimSpace(response.Header.Get(recordUUIDHeader))
	if recordUUID == "" {
		return "", fmt.Errorf("%s: %w", path, errMissingRecordUUID)
	}
	return recordUUID, nil
}
