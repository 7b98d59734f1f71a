package polling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DanishBukhari/servicem8-ghl-integ/internal/ghl"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/ledger"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/servicem8"
)

var brisbane = mustLocation("Australia/Brisbane")

func mustLocation(name string) *time.Location {
	location, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return location
}

type fakeFSM struct {
	contacts        []servicem8.CompanyContact
	companies       map[string]*servicem8.Company
	companyContacts map[string][]servicem8.CompanyContact
	payments        []servicem8.JobPayment
	jobs            map[string]*servicem8.Job
	editedJobs      []servicem8.Job
	activities      map[string][]servicem8.JobActivity
	activitiesErr   error
	categories      map[string]*servicem8.Category
	listErr         error
}

func (f *fakeFSM) ListContactsEditedSince(context.Context, time.Time) ([]servicem8.CompanyContact, error) {
	return f.contacts, f.listErr
}

func (f *fakeFSM) GetCompany(_ context.Context, uuid string) (*servicem8.Company, error) {
	return f.companies[uuid], nil
}

func (f *fakeFSM) ListCompanyContacts(_ context.Context, companyUUID string) ([]servicem8.CompanyContact, error) {
	return f.companyContacts[companyUUID], nil
}

func (f *fakeFSM) ListPaymentsEditedSince(context.Context, time.Time) ([]servicem8.JobPayment, error) {
	return f.payments, f.listErr
}

func (f *fakeFSM) ListJobsEditedSince(context.Context, time.Time) ([]servicem8.Job, error) {
	return f.editedJobs, f.listErr
}

func (f *fakeFSM) GetJob(_ context.Context, uuid string) (*servicem8.Job, error) {
	return f.jobs[uuid], nil
}

func (f *fakeFSM) ListJobActivities(_ context.Context, jobUUID string) ([]servicem8.JobActivity, error) {
	if f.activitiesErr != nil {
		return nil, f.activitiesErr
	}
	return f.activities[jobUUID], nil
}

func (f *fakeFSM) GetCategory(_ context.Context, uuid string) (*servicem8.Category, error) {
	return f.categories[uuid], nil
}

func (f *fakeFSM) Location() *time.Location {
	return brisbane
}

type fakeCRM struct {
	mu         sync.Mutex
	existing   []ghl.Contact
	created    []ghl.NewContact
	createErr  error
	searchErr  error
	webhooks   []ghl.WebhookEvent
	webhookErr error
}

func (f *fakeCRM) SearchContacts(context.Context, string) ([]ghl.Contact, error) {
	return f.existing, f.searchErr
}

func (f *fakeCRM) CreateContact(_ context.Context, contact ghl.NewContact) (ghl.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return ghl.Contact{}, f.createErr
	}
	f.created = append(f.created, contact)
	return ghl.Contact{ID: "ghl-" + contact.Email}, nil
}

func (f *fakeCRM) PostWebhook(_ context.Context, _ string, event ghl.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.webhookErr != nil {
		return f.webhookErr
	}
	f.webhooks = append(f.webhooks, event)
	return nil
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

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) {
	return "run-1", nil
}

var errBoom = errors.New("boom")
