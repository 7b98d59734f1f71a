package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DanishBukhari/servicem8-ghl-integ/internal/ghl"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/ledger"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/servicem8"
	"github.com/stretchr/testify/require"
)

var (
	brisbane = mustLocation("Australia/Brisbane")
	errBoom  = errors.New("boom")
)

func mustLocation(name string) *time.Location {
	location, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return location
}

type fakeFSM struct {
	mu              sync.Mutex
	companies       []servicem8.Company
	companyContacts map[string][]servicem8.CompanyContact
	staffActivities map[string][]servicem8.JobActivity
	staffErr        map[string]error

	createdCompanies  []servicem8.Company
	createdContacts   []servicem8.CompanyContact
	createdJobs       []servicem8.Job
	createdJobContact []servicem8.JobContact
	createdActivities []servicem8.JobActivity
	attachments       []servicem8.Attachment
	uploads           map[string][]byte

	listCompaniesErr error
	createJobErr     error
	uploadErr        error
	sequence         int
}

func (f *fakeFSM) nextUUID(kind string) string {
	f.sequence++
	return fmt.Sprintf("%s-%d", kind, f.sequence)
}

func (f *fakeFSM) ListCompanies(context.Context) ([]servicem8.Company, error) {
	return f.companies, f.listCompaniesErr
}

func (f *fakeFSM) CreateCompany(_ context.Context, company servicem8.Company) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	company.UUID = f.nextUUID("company")
	f.createdCompanies = append(f.createdCompanies, company)
	f.companies = append(f.companies, company)
	return company.UUID, nil
}

func (f *fakeFSM) ListCompanyContacts(_ context.Context, companyUUID string) ([]servicem8.CompanyContact, error) {
	return f.companyContacts[companyUUID], nil
}

func (f *fakeFSM) CreateCompanyContact(_ context.Context, contact servicem8.CompanyContact) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	contact.UUID = f.nextUUID("contact")
	f.createdContacts = append(f.createdContacts, contact)
	return contact.UUID, nil
}

func (f *fakeFSM) CreateJob(_ context.Context, job servicem8.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createJobErr != nil {
		return "", f.createJobErr
	}
	job.UUID = f.nextUUID("job")
	f.createdJobs = append(f.createdJobs, job)
	return job.UUID, nil
}

func (f *fakeFSM) CreateJobContact(_ context.Context, contact servicem8.JobContact) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdJobContact = append(f.createdJobContact, contact)
	return f.nextUUID("jobcontact"), nil
}

func (f *fakeFSM) CreateAttachment(_ context.Context, attachment servicem8.Attachment) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attachment.UUID = f.nextUUID("attachment")
	f.attachments = append(f.attachments, attachment)
	return attachment.UUID, nil
}

func (f *fakeFSM) UploadAttachmentFile(_ context.Context, attachmentUUID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	if f.uploads == nil {
		f.uploads = map[string][]byte{}
	}
	f.uploads[attachmentUUID] = data
	return nil
}

func (f *fakeFSM) ListStaffActivities(_ context.Context, staffUUID string) ([]servicem8.JobActivity, error) {
	if err := f.staffErr[staffUUID]; err != nil {
		return nil, err
	}
	return f.staffActivities[staffUUID], nil
}

func (f *fakeFSM) CreateJobActivity(_ context.Context, activity servicem8.JobActivity) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	activity.UUID = f.nextUUID("activity")
	f.createdActivities = append(f.createdActivities, activity)
	return activity.UUID, nil
}

func (f *fakeFSM) Location() *time.Location {
	return brisbane
}

type fakeCRM struct {
	contacts       map[string]ghl.Contact
	contactErr     error
	attachments    []ghl.Attachment
	attachmentsErr error
	downloads      map[string]ghl.Download
	downloaded     []string
}

func (f *fakeCRM) GetContact(_ context.Context, contactID string) (ghl.Contact, error) {
	if f.contactErr != nil {
		return ghl.Contact{}, f.contactErr
	}
	contact, ok := f.contacts[contactID]
	if !ok {
		return ghl.Contact{}, errBoom
	}
	return contact, nil
}

func (f *fakeCRM) ListContactAttachments(context.Context, string) ([]ghl.Attachment, error) {
	return f.attachments, f.attachmentsErr
}

func (f *fakeCRM) DownloadDocument(_ context.Context, documentID, fallbackURL string, _ int64) (ghl.Download, error) {
	f.downloaded = append(f.downloaded, documentID)
	if download, ok := f.downloads[documentID]; ok {
		return download, nil
	}
	if download, ok := f.downloads[fallbackURL]; ok {
		return download, nil
	}
	return ghl.Download{}, errBoom
}

type memoryStore struct {
	saves int
}

func (s *memoryStore) Load(context.Context) (ledger.Snapshot, error) {
	return ledger.Snapshot{}, nil
}

func (s *memoryStore) Save(context.Context, ledger.Snapshot) error {
	s.saves++
	return nil
}

func newTestLedger(t *testing.T) (*ledger.Ledger, *memoryStore) {
	t.Helper()
	store := &memoryStore{}
	l, err := ledger.New(ledger.Config{Store: store})
	require.NoError(t, err)
	return l, store
}
