package polling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DanishBukhari/servicem8-ghl-integ/internal/ghl"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/ledger"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/matching"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/servicem8"
	"go.uber.org/zap"
)

// DefaultContactSource tags contacts created by the contact sync.
const DefaultContactSource = "ServiceM8 Integration"

// ContactSyncConfig configures a ContactSync.
type ContactSyncConfig struct {
	FSM        ContactSource
	CRM        ContactSink
	Ledger     Ledger
	Matcher    matching.Matcher
	Window     time.Duration
	Source     string
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// ContactSyncResult summarizes one run.
type ContactSyncResult struct {
	Fetched int
	Created int
	Matched int
	Skipped int
	Failed  int
}

// ContactSync mirrors recently edited ServiceM8 contacts into GoHighLevel.
type ContactSync struct {
	fsm        ContactSource
	crm        ContactSink
	ledger     Ledger
	matcher    matching.Matcher
	window     time.Duration
	source     string
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewContactSync validates the configuration and builds a ContactSync.
func NewContactSync(cfg ContactSyncConfig) (*ContactSync, error) {
	if cfg.FSM == nil {
		return nil, errMissingFSM
	}
	if cfg.CRM == nil {
		return nil, errMissingCRM
	}
	if cfg.Ledger == nil {
		return nil, errMissingLedger
	}
	matcher := cfg.Matcher
	if matcher == nil {
		matcher = matching.Exact{}
	}
	window := cfg.Window
	if window <= 0 {
		window = 20 * time.Minute
	}
	source := strings.TrimSpace(cfg.Source)
	if source == "" {
		source = DefaultContactSource
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContactSync{
		fsm:        cfg.FSM,
		crm:        cfg.CRM,
		ledger:     cfg.Ledger,
		matcher:    matcher,
		window:     window,
		source:     source,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// Run fetches contacts edited inside the rolling window and creates the ones
// GoHighLevel does not know yet. The ledger is flushed even when the run fails.
func (s *ContactSync) Run(ctx context.Context) (result ContactSyncResult, err error) {
	logger := s.logger.With(zap.String("job", "contact_sync"), zap.String("run_id", runID(s.idProvider)))
	defer func() {
		if flushErr := s.ledger.Flush(ctx); flushErr != nil {
			logger.Error("ledger flush failed", zap.Error(flushErr))
			err = errors.Join(err, flushErr)
		}
	}()

	since := s.clock().Add(-s.window)
	contacts, err := s.fsm.ListContactsEditedSince(ctx, since)
	if err != nil {
		logger.Error("fetch servicem8 contacts failed", zap.Error(err))
		return result, fmt.Errorf("list contacts: %w", err)
	}
	result.Fetched = len(contacts)
	logger.Info("contact poll started", zap.Int("contacts", len(contacts)), zap.Time("since", since))

	for _, contact := range contacts {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		outcome, syncErr := s.syncContact(ctx, logger, contact)
		switch {
		case syncErr != nil:
			result.Failed++
			logger.Warn("contact sync failed", zap.String("contact_uuid", contact.UUID), zap.Error(syncErr))
		case outcome == outcomeCreated:
			result.Created++
		case outcome == outcomeMatched:
			result.Matched++
		default:
			result.Skipped++
		}
	}

	logger.Info("contact poll completed",
		zap.Int("created", result.Created),
		zap.Int("matched", result.Matched),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

type contactOutcome int

const (
	outcomeSkipped contactOutcome = iota
	outcomeMatched
	outcomeCreated
)

func (s *ContactSync) syncContact(ctx context.Context, logger *zap.Logger, contact servicem8.CompanyContact) (contactOutcome, error) {
	if strings.TrimSpace(contact.UUID) == "" || s.ledger.IsProcessed(ledger.Contacts, contact.UUID) {
		return outcomeSkipped, nil
	}

	email := strings.TrimSpace(contact.Email)
	name := contact.FullName()
	if email == "" && name == "" {
		s.ledger.MarkProcessed(ledger.Contacts, contact.UUID)
		return outcomeSkipped, nil
	}

	if email != "" {
		existing, err := s.crm.SearchContacts(ctx, email)
		if err != nil {
			logger.Warn("ghl contact search failed", zap.String("contact_uuid", contact.UUID), zap.Error(err))
		} else if match, ok := s.matcher.Match(matching.Probe{Email: email}, ghlCandidates(existing)); ok {
			logger.Info("contact already in ghl", zap.String("contact_uuid", contact.UUID), zap.String("ghl_contact_id", match.ID))
			s.ledger.MarkProcessed(ledger.Contacts, contact.UUID)
			return outcomeMatched, nil
		}
	}

	payload := ghl.NewContact{
		FirstName: strings.TrimSpace(contact.First),
		LastName:  strings.TrimSpace(contact.Last),
		Name:      name,
		Email:     email,
		Phone:     firstNonEmpty(contact.Phone, contact.Mobile),
		Source:    s.source,
	}
	if strings.TrimSpace(contact.CompanyUUID) != "" {
		company, err := s.fsm.GetCompany(ctx, contact.CompanyUUID)
		if err != nil {
			logger.Warn("servicem8 company lookup failed", zap.String("company_uuid", contact.CompanyUUID), zap.Error(err))
		} else if company != nil {
			payload.Address1 = company.BillingAddress
			payload.City = company.BillingCity
			payload.State = company.BillingState
			payload.PostalCode = company.BillingPostcode
		}
	}

	created, err := s.crm.CreateContact(ctx, payload)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("%w: create ghl contact: %v", ErrSyncItemFailed, err)
	}
	s.ledger.MarkProcessed(ledger.Contacts, contact.UUID)
	logger.Info("ghl contact created", zap.String("contact_uuid", contact.UUID), zap.String("ghl_contact_id", created.ID))
	return outcomeCreated, nil
}

func ghlCandidates(contacts []ghl.Contact) []matching.Candidate {
	candidates := make([]matching.Candidate, 0, len(contacts))
	for _, contact := range contacts {
		name := contact.Name
		if strings.TrimSpace(name) == "" {
			name = matching.FullName(contact.FirstName, contact.LastName)
		}
		candidates = append(candidates, matching.Candidate{ID: contact.ID, Name: name, Email: contact.Email})
	}
	return candidates
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
