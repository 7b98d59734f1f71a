package ledger

import (
	"strings"

	"github.com/google/uuid"
)

// SplitLegacyContactIDs separates ServiceM8 contact uuids from the GoHighLevel
// contact ids and emails that older state files stored in the same list.
func SplitLegacyContactIDs(ids []string) (contacts []string, correlationKeys []string) {
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if IsLegacyCorrelationKey(id) {
			correlationKeys = append(correlationKeys, id)
			continue
		}
		contacts = append(contacts, id)
	}
	return contacts, correlationKeys
}

// IsLegacyCorrelationKey reports whether id is an email or a non-uuid identifier.
func IsLegacyCorrelationKey(id string) bool {
	if strings.Contains(id, "@") {
		return true
	}
	_, err := uuid.Parse(id)
	return err != nil
}
