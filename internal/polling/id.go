package polling

import "github.com/google/uuid"

// IDProvider issues run identifiers attached to every log line of a poll run.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

func runID(provider IDProvider) string {
	if provider != nil {
		if id, err := provider.NewID(); err == nil {
			return id
		}
	}
	return uuid.NewString()
}
