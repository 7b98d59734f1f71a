package intake

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingFields reports a request without one of its required fields.
	ErrMissingFields = errors.New("intake: missing required fields")
	// ErrInvalidDateFormat reports an appointment time that no known layout accepts.
	ErrInvalidDateFormat = errors.New("intake: invalid date format")

	errMissingFSM    = errors.New("intake: servicem8 client is required")
	errMissingCRM    = errors.New("intake: ghl client is required")
	errMissingLedger = errors.New("intake: ledger is required")
	errMissingQueue  = errors.New("intake: queue uuid is required")
)

// MissingFieldsError lists the request fields that were absent.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMissingFields, strings.Join(e.Fields, ", "))
}

// Is lets errors.Is match ErrMissingFields.
func (e *MissingFieldsError) Is(target error) bool {
	return target == ErrMissingFields
}

// ServiceError carries a stable code for failures surfaced to callers.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opJobIntakeNew       = "intake.job_intake.new"
	opCreateJob          = "intake.create_job"
	opAppointmentSyncNew = "intake.appointment_sync.new"
	opSyncAppointment    = "intake.sync_appointment"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
