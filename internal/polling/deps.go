package polling

import (
	"context"
	"errors"
	"time"

	"github.com/DanishBukhari/servicem8-ghl-integ/internal/ghl"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/ledger"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/servicem8"
)

// ErrSyncItemFailed wraps a per-item failure that was logged and skipped.
var ErrSyncItemFailed = errors.New("polling: sync item failed")

var (
	errMissingFSM    = errors.New("polling: servicem8 client is required")
	errMissingCRM    = errors.New("polling: ghl client is required")
	errMissingLedger = errors.New("polling: ledger is required")
)

// ContactSource is the part of ServiceM8 the contact sync reads.
type ContactSource interface {
	ListContactsEditedSince(ctx context.Context, since time.Time) ([]servicem8.CompanyContact, error)
	GetCompany(ctx context.Context, uuid string) (*servicem8.Company, error)
}

// CompletionSource is the part of ServiceM8 the completion sync reads.
type CompletionSource interface {
	ListPaymentsEditedSince(ctx context.Context, since time.Time) ([]servicem8.JobPayment, error)
	ListJobsEditedSince(ctx context.Context, since time.Time) ([]servicem8.Job, error)
	GetJob(ctx context.Context, uuid string) (*servicem8.Job, error)
	ListJobActivities(ctx context.Context, jobUUID string) ([]servicem8.JobActivity, error)
	GetCategory(ctx context.Context, uuid string) (*servicem8.Category, error)
	ListCompanyContacts(ctx context.Context, companyUUID string) ([]servicem8.CompanyContact, error)
	Location() *time.Location
}

// ContactSink is the part of GoHighLevel the contact sync writes to.
type ContactSink interface {
	SearchContacts(ctx context.Context, query string) ([]ghl.Contact, error)
	CreateContact(ctx context.Context, contact ghl.NewContact) (ghl.Contact, error)
}

// WebhookSink delivers automation events.
type WebhookSink interface {
	PostWebhook(ctx context.Context, webhookURL string, event ghl.WebhookEvent) error
}

// Ledger records processed identifiers.
type Ledger interface {
	IsProcessed(set ledger.Set, id string) bool
	MarkProcessed(set ledger.Set, id string)
	Flush(ctx context.Context) error
}
