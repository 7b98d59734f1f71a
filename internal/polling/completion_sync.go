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

// Trigger selects the ServiceM8 record that starts a completion webhook.
type Trigger string

const (
	// TriggerPayment fires when a completed job receives a payment.
	TriggerPayment Trigger = "payment"
	// TriggerJob fires when a job is marked completed.
	TriggerJob Trigger = "job"
)

const (
	statusInvoicePaid  = "Invoice Paid"
	statusJobCompleted = "Job Completed"
)

var (
	errMissingWebhookURL = errors.New("polling: webhook url is required")
	errUnknownTrigger    = errors.New("polling: trigger must be payment or job")
)

// CompletionSyncConfig configures a CompletionSync.
type CompletionSyncConfig struct {
	FSM                CompletionSource
	CRM                WebhookSink
	Ledger             Ledger
	Trigger            Trigger
	Window             time.Duration
	Cutoff             time.Time
	ExcludedCategories []string
	WebhookURL         string
	StatusLabel        string
	Clock              func() time.Time
	IDProvider         IDProvider
	Logger             *zap.Logger
}

// CompletionSyncResult summarizes one run.
type CompletionSyncResult struct {
	Fetched   int
	Triggered int
	Excluded  int
	Skipped   int
	Failed    int
}

// CompletionSync posts one automation webhook per completed job or payment.
type CompletionSync struct {
	fsm        CompletionSource
	crm        WebhookSink
	ledger     Ledger
	trigger    Trigger
	window     time.Duration
	cutoff     time.Time
	excluded   map[string]struct{}
	webhookURL string
	status     string
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewCompletionSync validates the configuration and builds a CompletionSync.
func NewCompletionSync(cfg CompletionSyncConfig) (*CompletionSync, error) {
	if cfg.FSM == nil {
		return nil, errMissingFSM
	}
	if cfg.CRM == nil {
		return nil, errMissingCRM
	}
	if cfg.Ledger == nil {
		return nil, errMissingLedger
	}
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return nil, errMissingWebhookURL
	}
	trigger := Trigger(strings.ToLower(strings.TrimSpace(string(cfg.Trigger))))
	if trigger == "" {
		trigger = TriggerPayment
	}
	status := strings.TrimSpace(cfg.StatusLabel)
	switch trigger {
	case TriggerPayment:
		if status == "" {
			status = statusInvoicePaid
		}
	case TriggerJob:
		if status == "" {
			status = statusJobCompleted
		}
	default:
		return nil, errUnknownTrigger
	}
	window := cfg.Window
	if window <= 0 {
		window = 20 * time.Minute
	}
	excluded := make(map[string]struct{}, len(cfg.ExcludedCategories))
	for _, category := range cfg.ExcludedCategories {
		if normalized := matching.NormalizeName(category); normalized != "" {
			excluded[normalized] = struct{}{}
		}
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
	return &CompletionSync{
		fsm:        cfg.FSM,
		crm:        cfg.CRM,
		ledger:     cfg.Ledger,
		trigger:    trigger,
		window:     window,
		cutoff:     cfg.Cutoff,
		excluded:   excluded,
		webhookURL: strings.TrimSpace(cfg.WebhookURL),
		status:     status,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// triggerRecord is the common view of a payment or a job that may fire a webhook.
type triggerRecord struct {
	id       string
	jobUUID  string
	job      *servicem8.Job
	editDate string
	paid     bool
}

// Run fetches trigger records edited inside the rolling window and posts a
// webhook for each fresh completion. The ledger is flushed even when the run fails.
func (s *CompletionSync) Run(ctx context.Context) (result CompletionSyncResult, err error) {
	logger := s.logger.With(zap.String("job", "completion_sync"), zap.String("trigger", string(s.trigger)), zap.String("run_id", runID(s.idProvider)))
	defer func() {
		if flushErr := s.ledger.Flush(ctx); flushErr != nil {
			logger.Error("ledger flush failed", zap.Error(flushErr))
			err = errors.Join(err, flushErr)
		}
	}()

	since := s.clock().Add(-s.window)
	records, err := s.fetch(ctx, since)
	if err != nil {
		logger.Error("fetch servicem8 records failed", zap.Error(err))
		return result, err
	}
	result.Fetched = len(records)
	logger.Info("completion poll started", zap.Int("records", len(records)), zap.Time("since", since), zap.Time("cutoff", s.cutoff))

	for _, record := range records {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		outcome, syncErr := s.process(ctx, logger.With(zap.String("trigger_uuid", record.id), zap.String("job_uuid", record.jobUUID)), record, since)
		switch {
		case syncErr != nil:
			result.Failed++
			logger.Warn("completion sync failed", zap.String("trigger_uuid", record.id), zap.Error(syncErr))
		case outcome == completionTriggered:
			result.Triggered++
		case outcome == completionExcluded:
			result.Excluded++
		default:
			result.Skipped++
		}
	}

	logger.Info("completion poll completed",
		zap.Int("triggered", result.Triggered),
		zap.Int("excluded", result.Excluded),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

type completionOutcome int

const (
	completionSkipped completionOutcome = iota
	completionExcluded
	completionTriggered
)

func (s *CompletionSync) fetch(ctx context.Context, since time.Time) ([]triggerRecord, error) {
	if s.trigger == TriggerJob {
		jobs, err := s.fsm.ListJobsEditedSince(ctx, since)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		records := make([]triggerRecord, 0, len(jobs))
		for i := range jobs {
			job := jobs[i]
			records = append(records, triggerRecord{id: job.UUID, jobUUID: job.UUID, job: &job, editDate: job.EditDate, paid: true})
		}
		return records, nil
	}

	payments, err := s.fsm.ListPaymentsEditedSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	records := make([]triggerRecord, 0, len(payments))
	for _, payment := range payments {
		records = append(records, triggerRecord{
			id:       payment.UUID,
			jobUUID:  payment.JobUUID,
			editDate: payment.EditDate,
			paid:     payment.Active == 1 && payment.Amount > 0,
		})
	}
	return records, nil
}

func (s *CompletionSync) process(ctx context.Context, logger *zap.Logger, record triggerRecord, since time.Time) (completionOutcome, error) {
	if strings.TrimSpace(record.id) == "" || s.ledger.IsProcessed(ledger.JobsOrPayments, record.id) {
		return completionSkipped, nil
	}

	job := record.job
	if job == nil {
		fetched, err := s.fsm.GetJob(ctx, record.jobUUID)
		if err != nil {
			return completionSkipped, fmt.Errorf("%w: get job: %v", ErrSyncItemFailed, err)
		}
		job = fetched
	}
	if job == nil {
		logger.Info("job not found, skipping")
		return completionSkipped, nil
	}
	if !job.IsCompleted() {
		logger.Debug("job not completed, skipping", zap.String("status", job.Status))
		return completionSkipped, nil
	}

	completedAt, ok := s.completionTime(ctx, logger, *job)
	if !ok {
		logger.Info("no completion date, skipping")
		return completionSkipped, nil
	}
	if !s.cutoff.IsZero() && completedAt.Before(s.cutoff) {
		logger.Debug("job completed before cutoff, skipping", zap.Time("completed_at", completedAt))
		return completionSkipped, nil
	}

	if category := s.categoryName(ctx, logger, *job); category != "" {
		if _, excluded := s.excluded[category]; excluded {
			logger.Info("job category excluded from webhook", zap.String("category", category))
			s.ledger.MarkProcessed(ledger.JobsOrPayments, record.id)
			return completionExcluded, nil
		}
	}

	contactID, _ := matching.ExtractCorrelation(job.JobDescription)
	if contactID == "" && strings.TrimSpace(job.CompanyUUID) == "" {
		logger.Info("job has no client, skipping")
		return completionSkipped, nil
	}
	clientEmail := s.clientEmail(ctx, logger, *job)
	correlationKey := firstNonEmpty(contactID, clientEmail)
	if correlationKey != "" && s.ledger.IsProcessed(ledger.CorrelationKeys, correlationKey) {
		logger.Info("contact already notified, skipping", zap.String("correlation_key", correlationKey))
		return completionSkipped, nil
	}

	if !record.paid || !s.editedAfter(record.editDate, since) {
		logger.Debug("record not fresh, skipping", zap.String("edit_date", record.editDate), zap.Bool("paid", record.paid))
		return completionSkipped, nil
	}

	event := ghl.WebhookEvent{
		JobUUID:      job.UUID,
		ClientEmail:  clientEmail,
		GHLContactID: contactID,
		Status:       s.status,
	}
	if s.trigger == TriggerPayment {
		event.PaymentUUID = record.id
	}
	if err := s.crm.PostWebhook(ctx, s.webhookURL, event); err != nil {
		return completionSkipped, fmt.Errorf("%w: post webhook: %v", ErrSyncItemFailed, err)
	}
	s.ledger.MarkProcessed(ledger.JobsOrPayments, record.id)
	s.ledger.MarkProcessed(ledger.CorrelationKeys, correlationKey)
	logger.Info("completion webhook delivered", zap.String("ghl_contact_id", contactID), zap.String("client_email", clientEmail))
	return completionTriggered, nil
}

// completionTime is the latest activity end date, falling back to the job's edit date.
func (s *CompletionSync) completionTime(ctx context.Context, logger *zap.Logger, job servicem8.Job) (time.Time, bool) {
	location := s.fsm.Location()
	activities, err := s.fsm.ListJobActivities(ctx, job.UUID)
	if err != nil {
		logger.Warn("job activities lookup failed, using job edit date", zap.Error(err))
	}
	var latest time.Time
	for _, activity := range activities {
		end, parseErr := servicem8.ParseTimestamp(activity.EndDate, location)
		if parseErr != nil {
			continue
		}
		if end.After(latest) {
			latest = end
		}
	}
	if !latest.IsZero() {
		return latest, true
	}
	edited, err := servicem8.ParseTimestamp(job.EditDate, location)
	if err != nil {
		return time.Time{}, false
	}
	return edited, true
}

func (s *CompletionSync) categoryName(ctx context.Context, logger *zap.Logger, job servicem8.Job) string {
	if strings.TrimSpace(job.CategoryUUID) == "" {
		return ""
	}
	category, err := s.fsm.GetCategory(ctx, job.CategoryUUID)
	if err != nil {
		logger.Warn("category lookup failed", zap.String("category_uuid", job.CategoryUUID), zap.Error(err))
		return ""
	}
	if category == nil {
		return ""
	}
	return matching.NormalizeName(category.Name)
}

func (s *CompletionSync) clientEmail(ctx context.Context, logger *zap.Logger, job servicem8.Job) string {
	if strings.TrimSpace(job.CompanyUUID) == "" {
		return ""
	}
	contacts, err := s.fsm.ListCompanyContacts(ctx, job.CompanyUUID)
	if err != nil {
		logger.Warn("company contacts lookup failed", zap.String("company_uuid", job.CompanyUUID), zap.Error(err))
		return ""
	}
	for _, contact := range contacts {
		if email := matching.NormalizeEmail(contact.Email); email != "" {
			return email
		}
	}
	return ""
}

func (s *CompletionSync) editedAfter(value string, since time.Time) bool {
	edited, err := servicem8.ParseTimestamp(value, s.fsm.Location())
	if err != nil {
		return false
	}
	return edited.After(since)
}
