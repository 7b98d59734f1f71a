package intake

import (
	"context"
	"time"

	"github.com/DanishBukhari/servicem8-ghl-integ/internal/ghl"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/ledger"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/servicem8"
)

// FSM is the part of ServiceM8 the inbound handlers write to.
type FSM interface {
	ListCompanies(ctx context.Context) ([]servicem8.Company, error)
	CreateCompany(ctx context.Context, company servicem8.Company) (string, error)
	ListCompanyContacts(ctx context.Context, companyUUID string) ([]servicem8.CompanyContact, error)
	CreateCompanyContact(ctx context.Context, contact servicem8.CompanyContact) (string, error)
	CreateJob(ctx context.Context, job servicem8.Job) (string, error)
	CreateJobContact(ctx context.Context, contact servicem8.JobContact) (string, error)
	CreateAttachment(ctx context.Context, attachment servicem8.Attachment) (string, error)
	UploadAttachmentFile(ctx context.Context, attachmentUUID string, data []byte) error
	ListStaffActivities(ctx context.Context, staffUUID string) ([]servicem8.JobActivity, error)
	CreateJobActivity(ctx context.Context, activity servicem8.JobActivity) (string, error)
	Location() *time.Location
}

// CRM is the part of GoHighLevel the inbound handlers read from.
type CRM interface {
	GetContact(ctx context.Context, contactID string) (ghl.Contact, error)
	ListContactAttachments(ctx context.Context, contactID string) ([]ghl.Attachment, error)
	DownloadDocument(ctx context.Context, documentID, fallbackURL string, maxBytes int64) (ghl.Download, error)
}

// Ledger records processed appointment ids. Save leaves the poll cursor alone.
type Ledger interface {
	IsProcessed(set ledger.Set, id string) bool
	MarkProcessed(set ledger.Set, id string)
	Save(ctx context.Context) error
}
