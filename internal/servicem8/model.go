package servicem8

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the wall-clock format ServiceM8 uses for every date field.
const TimestampLayout = "2006-01-02 15:04:05"

const zeroTimestamp = "0000-00-00 00:00:00"

// StatusCompleted is the job status ServiceM8 assigns once work is done.
const StatusCompleted = "Completed"

// Number accepts both JSON numbers and numeric strings; ServiceM8 returns either
// depending on the endpoint.
type Number float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*n = 0
		return nil
	}
	if trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*n = 0
			return nil
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("servicem8: invalid number %q", raw)
		}
		*n = Number(value)
		return nil
	}
	var value float64
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return err
	}
	*n = Number(value)
	return nil
}

// Float64 exposes the raw value.
func (n Number) Float64() float64 {
	return float64(n)
}

// Company is a ServiceM8 client record.
type Company struct {
	UUID            string `json:"uuid,omitempty"`
	Name            string `json:"name,omitempty"`
	Email           string `json:"email,omitempty"`
	Phone           string `json:"phone,omitempty"`
	BillingAddress  string `json:"billing_address,omitempty"`
	BillingCity     string `json:"billing_city,omitempty"`
	BillingState    string `json:"billing_state,omitempty"`
	BillingPostcode string `json:"billing_postcode,omitempty"`
	Active          Number `json:"active,omitempty"`
	EditDate        string `json:"edit_date,omitempty"`
}

// CompanyContact is a person attached to a company.
type CompanyContact struct {
	UUID        string `json:"uuid,omitempty"`
	CompanyUUID string `json:"company_uuid"`
	First       string `json:"first"`
	Last        string `json:"last"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Mobile      string `json:"mobile"`
	Type        string `json:"type,omitempty"`
	Active      Number `json:"active,omitempty"`
	EditDate    string `json:"edit_date,omitempty"`
}

// FullName joins first and last name.
func (c CompanyContact) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(c.First) + " " + strings.TrimSpace(c.Last))
}

// Job is a ServiceM8 job card.
type Job struct {
	UUID           string `json:"uuid,omitempty"`
	CompanyUUID    string `json:"company_uuid,omitempty"`
	Status         string `json:"status,omitempty"`
	QueueUUID      string `json:"queue_uuid,omitempty"`
	CategoryUUID   string `json:"category_uuid,omitempty"`
	JobAddress     string `json:"job_address,omitempty"`
	JobDescription string `json:"job_description,omitempty"`
	Active         Number `json:"active,omitempty"`
	EditDate       string `json:"edit_date,omitempty"`
}

// IsCompleted reports whether the job status is Completed, ignoring case.
func (j Job) IsCompleted() bool {
	return strings.EqualFold(strings.TrimSpace(j.Status), StatusCompleted)
}

// JobContact is a contact attached directly to a job.
type JobContact struct {
	UUID    string `json:"uuid,omitempty"`
	JobUUID string `json:"job_uuid"`
	Type    string `json:"type"`
	First   string `json:"first"`
	Last    string `json:"last"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Mobile  string `json:"mobile"`
}

// JobActivity is a scheduled or recorded block of staff time on a job.
type JobActivity struct {
	UUID                 string `json:"uuid,omitempty"`
	JobUUID              string `json:"job_uuid,omitempty"`
	StaffUUID            string `json:"staff_uuid,omitempty"`
	StartDate            string `json:"start_date,omitempty"`
	EndDate              string `json:"end_date,omitempty"`
	ActivityWasScheduled Number `json:"activity_was_scheduled,omitempty"`
	ActivityType         string `json:"activity_type,omitempty"`
	ActivityDescription  string `json:"activity_description,omitempty"`
	Active               Number `json:"active,omitempty"`
	EditDate             string `json:"edit_date,omitempty"`
}

// UnmarshalJSON defaults Active to 1 when the record carries no active flag.
func (a *JobActivity) UnmarshalJSON(data []byte) error {
	type plain JobActivity
	decoded := plain{Active: 1}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*a = JobActivity(decoded)
	return nil
}

// IsActive reports whether the activity has not been deleted. Decoded records
// without an active flag are active, as are unsaved records.
func (a JobActivity) IsActive() bool {
	return a.Active != 0 || a.UUID == ""
}

// JobPayment is a payment recorded against a job.
type JobPayment struct {
	UUID     string `json:"uuid,omitempty"`
	JobUUID  string `json:"job_uuid,omitempty"`
	Amount   Number `json:"amount,omitempty"`
	Active   Number `json:"active,omitempty"`
	EditDate string `json:"edit_date,omitempty"`
}

// Category classifies jobs.
type Category struct {
	UUID string `json:"uuid,omitempty"`
	Name string `json:"name,omitempty"`
}

// Attachment is the metadata record for a file attached to an object.
type Attachment struct {
	UUID              string `json:"uuid,omitempty"`
	RelatedObject     string `json:"related_object"`
	RelatedObjectUUID string `json:"related_object_uuid"`
	AttachmentName    string `json:"attachment_name"`
	FileType          string `json:"file_type"`
	Active            Number `json:"active,omitempty"`
}

// FormatTimestamp renders t in ServiceM8's wall-clock layout for loc.
func FormatTimestamp(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(TimestampLayout)
}

// ParseTimestamp reads a ServiceM8 wall-clock value in loc. Empty and zero dates are errors.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || trimmed == zeroTimestamp {
		return time.Time{}, fmt.Errorf("servicem8: empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(TimestampLayout, trimmed, loc)
}
