package ghl

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// Contact is a GoHighLevel contact as returned by the contacts endpoints.
type Contact struct {
	ID           string          `json:"id"`
	LocationID   string          `json:"locationId,omitempty"`
	FirstName    string          `json:"firstName,omitempty"`
	LastName     string          `json:"lastName,omitempty"`
	Name         string          `json:"contactName,omitempty"`
	Email        string          `json:"email,omitempty"`
	Phone        string          `json:"phone,omitempty"`
	Address1     string          `json:"address1,omitempty"`
	City         string          `json:"city,omitempty"`
	State        string          `json:"state,omitempty"`
	PostalCode   string          `json:"postalCode,omitempty"`
	Source       string          `json:"source,omitempty"`
	CustomFields CustomFieldList `json:"customFields,omitempty"`
	CustomField  CustomFieldList `json:"customField,omitempty"`
}

// Fields returns the custom fields from whichever property the API generation populated.
func (c Contact) Fields() CustomFieldList {
	if len(c.CustomFields) > 0 {
		return c.CustomFields
	}
	return c.CustomField
}

// NewContact is the payload for creating a contact.
type NewContact struct {
	LocationID string `json:"locationId,omitempty"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Address1   string `json:"address1"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Source     string `json:"source"`
}

// CustomField is one custom field value on a contact.
type CustomField struct {
	ID     string          `json:"id"`
	Name   string          `json:"name,omitempty"`
	Label  string          `json:"label,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Values []any           `json:"values,omitempty"`
}

// Text renders a scalar value. Object values yield "".
func (f CustomField) Text() string {
	trimmed := bytes.TrimSpace(f.Value)
	if len(trimmed) > 0 {
		var text string
		if err := json.Unmarshal(trimmed, &text); err == nil {
			return strings.TrimSpace(text)
		}
		var number json.Number
		if err := json.Unmarshal(trimmed, &number); err == nil {
			return number.String()
		}
	}
	for _, value := range f.Values {
		if text, ok := value.(string); ok && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
	}
	return ""
}

// FileEntry is one uploaded file stored in a file-upload custom field.
type FileEntry struct {
	Key          string
	URL          string
	DocumentID   string
	MimeType     string
	OriginalName string
}

type fileValue struct {
	URL        string `json:"url"`
	DocumentID string `json:"documentId"`
	Meta       struct {
		MimeType     string `json:"mimetype"`
		OriginalName string `json:"originalname"`
	} `json:"meta"`
}

// Files decodes a file-upload value, a map of upload key to file metadata.
// Entries are returned in key order; non-file values yield nil.
func (f CustomField) Files() []FileEntry {
	trimmed := bytes.TrimSpace(f.Value)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var raw map[string]fileValue
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil
	}
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	entries := make([]FileEntry, 0, len(keys))
	for _, key := range keys {
		value := raw[key]
		if strings.TrimSpace(value.URL) == "" {
			continue
		}
		entries = append(entries, FileEntry{
			Key:          key,
			URL:          value.URL,
			DocumentID:   value.DocumentID,
			MimeType:     value.Meta.MimeType,
			OriginalName: value.Meta.OriginalName,
		})
	}
	return entries
}

// CustomFieldList accepts either an array of fields or an object keyed by field id.
type CustomFieldList []CustomField

// UnmarshalJSON implements json.Unmarshaler.
func (l *CustomFieldList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = nil
		return nil
	}
	if trimmed[0] == '[' {
		var fields []CustomField
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return err
		}
		*l = fields
		return nil
	}
	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &keyed); err != nil {
		return err
	}
	keys := make([]string, 0, len(keyed))
	for key := range keyed {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fields := make([]CustomField, 0, len(keys))
	for _, key := range keys {
		raw := bytes.TrimSpace(keyed[key])
		var field CustomField
		if len(raw) > 0 && raw[0] == '{' && json.Unmarshal(raw, &field) == nil && (field.ID != "" || field.Value != nil || field.Name != "") {
			if field.ID == "" {
				field.ID = key
			}
		} else {
			field = CustomField{ID: key, Value: json.RawMessage(raw)}
		}
		fields = append(fields, field)
	}
	*l = fields
	return nil
}

// Find returns the first field whose name or label equals name (case-insensitive),
// falling back to the first field whose id is in ids.
func (l CustomFieldList) Find(name string, ids []string) (CustomField, bool) {
	if name != "" {
		for _, field := range l {
			if strings.EqualFold(strings.TrimSpace(field.Name), name) || strings.EqualFold(strings.TrimSpace(field.Label), name) {
				return field, true
			}
		}
	}
	for _, field := range l {
		for _, id := range ids {
			if id != "" && field.ID == id {
				return field, true
			}
		}
	}
	return CustomField{}, false
}

// Attachment is an entry of the contact attachments listing.
type Attachment struct {
	URL        string `json:"url"`
	DocumentID string `json:"documentId"`
	MimeType   string `json:"mimetype"`
	Filename   string `json:"filename"`
}

// Download is a fetched binary.
type Download struct {
	ContentType string
	Data        []byte
}

// WebhookEvent is posted to the automation webhook when a job completes or is paid.
type WebhookEvent struct {
	PaymentUUID  string `json:"paymentUuid,omitempty"`
	JobUUID      string `json:"jobUuid"`
	ClientEmail  string `json:"clientEmail"`
	GHLContactID string `json:"ghlContactId"`
	Status       string `json:"status"`
}
