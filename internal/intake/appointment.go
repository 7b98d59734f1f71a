package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/DanishBukhari/servicem8-ghl-integ/internal/ghl"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/ledger"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/matching"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/servicem8"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// AppointmentState is a step of the appointment booking flow.
type AppointmentState string

const (
	StateReceived        AppointmentState = "received"
	StateValidated       AppointmentState = "validated"
	StateContactResolved AppointmentState = "contact_resolved"
	StateJobCreated      AppointmentState = "job_created"
	StateStaffAssigned   AppointmentState = "staff_assigned"
	StateActivityCreated AppointmentState = "activity_created"
	StateDone            AppointmentState = "done"
	StateNoSlotAvailable AppointmentState = "no_slot_available"
	StateAlreadySynced   AppointmentState = "already_synced"
	StateFailed          AppointmentState = "failed"
)

const (
	defaultAppointmentStatus   = "Work Order"
	defaultActivityType        = "Appointment"
	defaultActivityDescription = "GHL Appointment"
	defaultAppointmentLength   = time.Hour
)

// AppointmentTimeLayouts are tried in order when reading appointment times.
var AppointmentTimeLayouts = []string{
	"Monday, January 2, 2006 3:04 PM",
	time.RFC3339,
	servicem8.TimestampLayout,
}

var errMissingStaff = errors.New("intake: at least one staff uuid is required")

// AppointmentRequest is a GoHighLevel appointment booking.
type AppointmentRequest struct {
	ID        string `json:"id" validate:"required"`
	ContactID string `json:"contactId" validate:"required"`
	StartTime string `json:"startTime" validate:"required"`
	EndTime   string `json:"endTime"`
	Title     string `json:"title"`
	Location  string `json:"location"`
	Issue     string `json:"issue"`
	Source    string `json:"source"`
	Urgency   string `json:"urgency"`
}

// DecodeAppointment reads a booking sent either flat or wrapped in an "appointment" object.
func DecodeAppointment(payload []byte) (AppointmentRequest, error) {
	var envelope struct {
		Appointment *AppointmentRequest `json:"appointment"`
		AppointmentRequest
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return AppointmentRequest{}, fmt.Errorf("intake: decode appointment: %w", err)
	}
	if envelope.Appointment != nil {
		return *envelope.Appointment, nil
	}
	return envelope.AppointmentRequest, nil
}

func (r *AppointmentRequest) normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.ContactID = strings.TrimSpace(r.ContactID)
	r.StartTime = strings.TrimSpace(r.StartTime)
	r.EndTime = strings.TrimSpace(r.EndTime)
	r.Title = strings.TrimSpace(r.Title)
	r.Location = strings.TrimSpace(r.Location)
	r.Issue = strings.TrimSpace(r.Issue)
	r.Source = strings.TrimSpace(r.Source)
	r.Urgency = strings.TrimSpace(r.Urgency)
}

// AppointmentResult describes a handled booking.
type AppointmentResult struct {
	State        AppointmentState
	JobUUID      string
	StaffUUID    string
	ActivityUUID string
}

// AppointmentSyncConfig configures an AppointmentSync.
type AppointmentSyncConfig struct {
	FSM            FSM
	CRM            CRM
	Ledger         Ledger
	Matcher        matching.Matcher
	StaffUUIDs     []string
	JobStatus      string
	ActivityType   string
	MobilePrefixes []string
	Logger         *zap.Logger
}

// AppointmentSync books GoHighLevel appointments as ServiceM8 job activities.
type AppointmentSync struct {
	mu           sync.Mutex
	fsm          FSM
	crm          CRM
	ledger       Ledger
	resolver     resolver
	validate     *validator.Validate
	staff        []string
	status       string
	activityType string
	logger       *zap.Logger
}

// NewAppointmentSync validates the configuration and builds an AppointmentSync.
func NewAppointmentSync(cfg AppointmentSyncConfig) (*AppointmentSync, error) {
	if cfg.FSM == nil {
		return nil, newServiceError(opAppointmentSyncNew, "missing_fsm", errMissingFSM)
	}
	if cfg.CRM == nil {
		return nil, newServiceError(opAppointmentSyncNew, "missing_crm", errMissingCRM)
	}
	if cfg.Ledger == nil {
		return nil, newServiceError(opAppointmentSyncNew, "missing_ledger", errMissingLedger)
	}
	var staff []string
	for _, uuid := range cfg.StaffUUIDs {
		if trimmed := strings.TrimSpace(uuid); trimmed != "" {
			staff = append(staff, trimmed)
		}
	}
	if len(staff) == 0 {
		return nil, newServiceError(opAppointmentSyncNew, "missing_staff", errMissingStaff)
	}
	matcher := cfg.Matcher
	if matcher == nil {
		matcher = matching.Exact{}
	}
	mobilePrefixes := cfg.MobilePrefixes
	if len(mobilePrefixes) == 0 {
		mobilePrefixes = DefaultMobilePrefixes
	}
	status := strings.TrimSpace(cfg.JobStatus)
	if status == "" {
		status = defaultAppointmentStatus
	}
	activityType := strings.TrimSpace(cfg.ActivityType)
	if activityType == "" {
		activityType = defaultActivityType
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppointmentSync{
		fsm:          cfg.FSM,
		crm:          cfg.CRM,
		ledger:       cfg.Ledger,
		resolver:     resolver{fsm: cfg.FSM, matcher: matcher, mobilePrefixes: mobilePrefixes},
		validate:     newValidator(),
		staff:        staff,
		status:       status,
		activityType: activityType,
		logger:       logger,
	}, nil
}

// Handle books one appointment. Bookings are serialized so two requests cannot
// claim the same staff slot or the same appointment id.
func (s *AppointmentSync) Handle(ctx context.Context, request AppointmentRequest) (AppointmentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request.normalize()
	logger := s.logger.With(zap.String("appointment_id", request.ID), zap.String("ghl_contact_id", request.ContactID))
	result := AppointmentResult{}
	transition := func(state AppointmentState) {
		result.State = state
		logger.Info("appointment state", zap.String("state", string(state)))
	}
	fail := func(reason string, err error) (AppointmentResult, error) {
		transition(StateFailed)
		return result, newServiceError(opSyncAppointment, reason, err)
	}

	transition(StateReceived)
	if err := checkRequired(s.validate, request); err != nil {
		return result, err
	}
	if s.ledger.IsProcessed(ledger.Appointments, request.ID) {
		transition(StateAlreadySynced)
		return result, nil
	}

	location := s.fsm.Location()
	start, end, err := appointmentWindow(request.StartTime, request.EndTime, location)
	if err != nil {
		return result, err
	}
	transition(StateValidated)

	contact, err := s.crm.GetContact(ctx, request.ContactID)
	if err != nil {
		return fail("fetch_contact", err)
	}
	who := person{First: contact.FirstName, Last: contact.LastName, Email: contact.Email, Phone: contact.Phone}
	companyUUID, err := s.resolver.companyFor(ctx, logger, who)
	if err != nil {
		return fail("resolve_company", err)
	}
	if _, err := s.resolver.contactFor(ctx, logger, companyUUID, who); err != nil {
		return fail("resolve_contact", err)
	}
	transition(StateContactResolved)

	address := request.Location
	if address == "" {
		address = strings.TrimSpace(contact.Address1)
	}
	result.JobUUID, err = s.fsm.CreateJob(ctx, servicem8.Job{
		CompanyUUID:    companyUUID,
		Status:         s.status,
		JobAddress:     address,
		JobDescription: describeAppointment(request, contact),
	})
	if err != nil {
		return fail("create_job", err)
	}
	logger = logger.With(zap.String("job_uuid", result.JobUUID))
	transition(StateJobCreated)

	result.StaffUUID = s.pickStaff(ctx, logger, start, end, location)
	if result.StaffUUID == "" {
		transition(StateNoSlotAvailable)
		s.markProcessed(ctx, logger, request.ID)
		return result, nil
	}
	logger = logger.With(zap.String("staff_uuid", result.StaffUUID))
	transition(StateStaffAssigned)

	title := request.Title
	if title == "" {
		title = defaultActivityDescription
	}
	result.ActivityUUID, err = s.fsm.CreateJobActivity(ctx, servicem8.JobActivity{
		JobUUID:              result.JobUUID,
		StaffUUID:            result.StaffUUID,
		StartDate:            servicem8.FormatTimestamp(start, location),
		EndDate:              servicem8.FormatTimestamp(end, location),
		ActivityWasScheduled: 1,
		ActivityType:         s.activityType,
		ActivityDescription:  title,
	})
	if err != nil {
		return fail("create_activity", err)
	}
	transition(StateActivityCreated)

	s.markProcessed(ctx, logger, request.ID)
	transition(StateDone)
	return result, nil
}

func (s *AppointmentSync) markProcessed(ctx context.Context, logger *zap.Logger, appointmentID string) {
	s.ledger.MarkProcessed(ledger.Appointments, appointmentID)
	if err := s.ledger.Save(ctx); err != nil {
		logger.Error("ledger save failed", zap.Error(err))
	}
}

// pickStaff returns the first staff member, in priority order, who is free for
// [start, end). A staff member whose schedule cannot be read is passed over.
func (s *AppointmentSync) pickStaff(ctx context.Context, logger *zap.Logger, start, end time.Time, location *time.Location) string {
	for _, staffUUID := range s.staff {
		activities, err := s.fsm.ListStaffActivities(ctx, staffUUID)
		if err != nil {
			logger.Warn("staff schedule lookup failed", zap.String("staff_uuid", staffUUID), zap.Error(err))
			continue
		}
		if Available(activities, start, end, location) {
			return staffUUID
		}
		logger.Info("staff member busy", zap.String("staff_uuid", staffUUID))
	}
	return ""
}

// Available reports whether no active activity on the same calendar date as
// start overlaps [start, end).
func Available(activities []servicem8.JobActivity, start, end time.Time, location *time.Location) bool {
	for _, activity := range activities {
		if !activity.IsActive() {
			continue
		}
		existingStart, err := servicem8.ParseTimestamp(activity.StartDate, location)
		if err != nil {
			continue
		}
		existingEnd, err := servicem8.ParseTimestamp(activity.EndDate, location)
		if err != nil {
			continue
		}
		if !sameDate(existingStart, start, location) {
			continue
		}
		if Overlaps(start, end, existingStart, existingEnd) {
			return false
		}
	}
	return true
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func sameDate(a, b time.Time, location *time.Location) bool {
	if location == nil {
		location = time.UTC
	}
	ay, am, ad := a.In(location).Date()
	by, bm, bd := b.In(location).Date()
	return ay == by && am == bm && ad == bd
}

// ParseAppointmentTime reads value with the first matching layout in location.
func ParseAppointmentTime(value string, location *time.Location) (time.Time, error) {
	if location == nil {
		location = time.UTC
	}
	value = strings.TrimSpace(value)
	for _, layout := range AppointmentTimeLayouts {
		if parsed, err := time.ParseInLocation(layout, value, location); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, value)
}

// appointmentWindow parses the booking times. A missing end time books one hour.
func appointmentWindow(startValue, endValue string, location *time.Location) (time.Time, time.Time, error) {
	start, err := ParseAppointmentTime(startValue, location)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if endValue == "" {
		return start, start.Add(defaultAppointmentLength), nil
	}
	end, err := ParseAppointmentTime(endValue, location)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end %q is not after start %q", ErrInvalidDateFormat, endValue, startValue)
	}
	return start, end, nil
}

func describeAppointment(request AppointmentRequest, contact ghl.Contact) string {
	var lines []string
	title := request.Title
	if title == "" {
		title = defaultActivityDescription
	}
	lines = append(lines, title)
	if request.Issue != "" {
		lines = append(lines, "Issue: "+request.Issue)
	}
	if request.Urgency != "" {
		lines = append(lines, "Urgency: "+request.Urgency)
	}
	source := request.Source
	if source == "" {
		source = strings.TrimSpace(contact.Source)
	}
	if source != "" {
		lines = append(lines, "Source: "+source)
	}
	lines = append(lines, matching.EmbedCorrelation(request.ContactID))
	return strings.Join(lines, "\n")
}
