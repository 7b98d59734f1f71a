package intake

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/DanishBukhari/servicem8-ghl-integ/internal/ghl"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/ledger"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/matching"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/servicem8"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	defaultIntakeStatus    = "Quote"
	defaultDuplicateWindow = 5 * time.Second
	defaultMaxPhotoBytes   = 25 << 20
	jobContactType         = "Job Contact"
)

// JobRequest is a job-request form submitted from GoHighLevel.
type JobRequest struct {
	FirstName      string   `json:"firstName" form:"firstName" validate:"required"`
	LastName       string   `json:"lastName" form:"lastName" validate:"required"`
	Email          string   `json:"email" form:"email" validate:"required"`
	Phone          string   `json:"phone" form:"phone"`
	Address        string   `json:"address" form:"address"`
	JobDescription string   `json:"jobDescription" form:"jobDescription"`
	GHLContactID   string   `json:"ghlContactId" form:"ghlContactId" validate:"required"`
	Source         string   `json:"source" form:"source"`
	Urgency        string   `json:"urgency" form:"urgency"`
	Photos         []Upload `json:"-" form:"-"`
	PhotosRejected int      `json:"-" form:"-"`
}

func (r *JobRequest) normalize() {
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.Email = strings.TrimSpace(r.Email)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Address = strings.TrimSpace(r.Address)
	r.JobDescription = strings.TrimSpace(r.JobDescription)
	r.GHLContactID = strings.TrimSpace(r.GHLContactID)
	r.Source = strings.TrimSpace(r.Source)
	r.Urgency = strings.TrimSpace(r.Urgency)
}

// JobResult describes a handled job request.
type JobResult struct {
	Duplicate      bool
	JobUUID        string
	PhotosAttached int
	PhotosFailed   int
}

// JobIntakeConfig configures a JobIntake.
type JobIntakeConfig struct {
	FSM             FSM
	CRM             CRM
	Matcher         matching.Matcher
	Recent          *ledger.RecentRequests
	QueueUUID       string
	JobStatus       string
	MobilePrefixes  []string
	DuplicateWindow time.Duration
	MessageFieldIDs []string
	UrgencyFieldIDs []string
	SourceFieldIDs  []string
	MaxPhotoBytes   int64
	Clock           func() time.Time
	Logger          *zap.Logger
}

// JobIntake turns GoHighLevel job requests into quoted ServiceM8 jobs.
type JobIntake struct {
	fsm             FSM
	crm             CRM
	resolver        resolver
	recent          *ledger.RecentRequests
	validate        *validator.Validate
	queueUUID       string
	status          string
	mobilePrefixes  []string
	messageFieldIDs []string
	urgencyFieldIDs []string
	sourceFieldIDs  []string
	maxPhotoBytes   int64
	clock           func() time.Time
	logger          *zap.Logger
}

// NewJobIntake validates the configuration and builds a JobIntake.
func NewJobIntake(cfg JobIntakeConfig) (*JobIntake, error) {
	if cfg.FSM == nil {
		return nil, newServiceError(opJobIntakeNew, "missing_fsm", errMissingFSM)
	}
	if cfg.CRM == nil {
		return nil, newServiceError(opJobIntakeNew, "missing_crm", errMissingCRM)
	}
	queueUUID := strings.TrimSpace(cfg.QueueUUID)
	if queueUUID == "" {
		return nil, newServiceError(opJobIntakeNew, "missing_queue", errMissingQueue)
	}
	matcher := cfg.Matcher
	if matcher == nil {
		matcher = matching.Exact{}
	}
	status := strings.TrimSpace(cfg.JobStatus)
	if status == "" {
		status = defaultIntakeStatus
	}
	mobilePrefixes := cfg.MobilePrefixes
	if len(mobilePrefixes) == 0 {
		mobilePrefixes = DefaultMobilePrefixes
	}
	recent := cfg.Recent
	if recent == nil {
		window := cfg.DuplicateWindow
		if window <= 0 {
			window = defaultDuplicateWindow
		}
		recent = ledger.NewRecentRequests(window)
	}
	maxPhotoBytes := cfg.MaxPhotoBytes
	if maxPhotoBytes <= 0 {
		maxPhotoBytes = defaultMaxPhotoBytes
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobIntake{
		fsm:             cfg.FSM,
		crm:             cfg.CRM,
		resolver:        resolver{fsm: cfg.FSM, matcher: matcher, mobilePrefixes: mobilePrefixes},
		recent:          recent,
		validate:        newValidator(),
		queueUUID:       queueUUID,
		status:          status,
		mobilePrefixes:  mobilePrefixes,
		messageFieldIDs: cfg.MessageFieldIDs,
		urgencyFieldIDs: cfg.UrgencyFieldIDs,
		sourceFieldIDs:  cfg.SourceFieldIDs,
		maxPhotoBytes:   maxPhotoBytes,
		clock:           clock,
		logger:          logger,
	}, nil
}

// Handle creates the company, contact, job, job contact and photo attachments
// for one request. A repeat of the same GoHighLevel contact inside the
// duplicate window is acknowledged without side effects.
func (h *JobIntake) Handle(ctx context.Context, request JobRequest) (JobResult, error) {
	request.normalize()
	if err := checkRequired(h.validate, request); err != nil {
		return JobResult{}, err
	}
	logger := h.logger.With(zap.String("ghl_contact_id", request.GHLContactID))

	if h.recent.Seen(request.GHLContactID, h.clock()) {
		logger.Info("duplicate job request skipped")
		return JobResult{Duplicate: true}, nil
	}

	who := person{First: request.FirstName, Last: request.LastName, Email: request.Email, Phone: request.Phone}
	companyUUID, err := h.resolver.companyFor(ctx, logger, who)
	if err != nil {
		return JobResult{}, newServiceError(opCreateJob, "resolve_company", err)
	}
	if _, err := h.resolver.contactFor(ctx, logger, companyUUID, who); err != nil {
		return JobResult{}, newServiceError(opCreateJob, "resolve_contact", err)
	}

	var contact *ghl.Contact
	if fetched, err := h.crm.GetContact(ctx, request.GHLContactID); err != nil {
		logger.Warn("ghl contact lookup failed, continuing without enrichment", zap.Error(err))
	} else {
		contact = &fetched
	}

	jobUUID, err := h.fsm.CreateJob(ctx, servicem8.Job{
		CompanyUUID:    companyUUID,
		Status:         h.status,
		QueueUUID:      h.queueUUID,
		JobAddress:     request.Address,
		JobDescription: h.describe(request, contact),
	})
	if err != nil {
		return JobResult{}, newServiceError(opCreateJob, "create_job", err)
	}
	logger = logger.With(zap.String("job_uuid", jobUUID))
	logger.Info("servicem8 job created", zap.String("queue_uuid", h.queueUUID))

	jobContact := servicem8.JobContact{
		JobUUID: jobUUID,
		Type:    jobContactType,
		First:   request.FirstName,
		Last:    request.LastName,
		Email:   request.Email,
	}
	jobContact.Phone, jobContact.Mobile = RoutePhone(request.Phone, h.mobilePrefixes)
	if _, err := h.fsm.CreateJobContact(ctx, jobContact); err != nil {
		logger.Warn("servicem8 job contact failed", zap.Error(err))
	}

	result := JobResult{JobUUID: jobUUID, PhotosFailed: request.PhotosRejected}
	photos := append(h.crmPhotos(ctx, logger, request.GHLContactID, contact), uploadedPhotos(request.Photos)...)
	for _, photo := range photos {
		attachmentUUID, err := h.attachPhoto(ctx, jobUUID, photo)
		if err != nil {
			result.PhotosFailed++
			logger.Warn("photo transfer failed", zap.String("filename", photo.Filename), zap.Error(err))
			continue
		}
		result.PhotosAttached++
		logger.Info("photo attached", zap.String("filename", photo.Filename), zap.String("attachment_uuid", attachmentUUID))
	}

	logger.Info("job intake completed", zap.Int("photos_attached", result.PhotosAttached), zap.Int("photos_failed", result.PhotosFailed))
	return result, nil
}

// describe composes the job description: enquiry details, the correlation
// marker, then the submitted description.
func (h *JobIntake) describe(request JobRequest, contact *ghl.Contact) string {
	var message, urgency, source string
	if contact != nil {
		fields := contact.Fields()
		message = fieldText(fields, "message", h.messageFieldIDs)
		urgency = fieldText(fields, "urgency", h.urgencyFieldIDs)
		source = fieldText(fields, "source", h.sourceFieldIDs)
	}
	if request.Urgency != "" {
		urgency = request.Urgency
	}
	if request.Source != "" {
		source = request.Source
	}

	var lines []string
	if message != "" {
		lines = append(lines, "Enquiry details: "+message)
	}
	if urgency != "" {
		lines = append(lines, "Urgency: "+urgency)
	}
	if source != "" {
		lines = append(lines, "Source: "+source)
	}
	lines = append(lines, matching.EmbedCorrelation(request.GHLContactID), request.JobDescription)
	return strings.Join(lines, "\n")
}

func fieldText(fields ghl.CustomFieldList, name string, ids []string) string {
	field, ok := fields.Find(name, ids)
	if !ok {
		return ""
	}
	return field.Text()
}

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return validate
}

// checkRequired runs the struct's validate tags and reports missing fields by their JSON names.
func checkRequired(validate *validator.Validate, request any) error {
	err := validate.Struct(request)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	missing := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		missing = append(missing, fieldErr.Field())
	}
	return &MissingFieldsError{Fields: missing}
}
