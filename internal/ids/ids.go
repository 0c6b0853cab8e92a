package ids

import "github.com/google/uuid"

// Provider issues opaque identifiers for persisted rows.
type Provider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs a Provider that issues UUIDv7 identifiers, which sort by creation time.
func NewUUIDProvider() Provider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// Sequence hands out a fixed list of identifiers in order and falls back to UUIDv7 once exhausted.
// Tests use it to assert on stable identifiers.
type Sequence struct {
	values []string
	index  int
}

// NewSequence constructs a Sequence over the provided identifiers.
func NewSequence(values ...string) *Sequence {
	return &Sequence{values: append([]string(nil), values...)}
}

func (s *Sequence) NewID() (string, error) {
	if s.index < len(s.values) {
		value := s.values[s.index]
		s.index++
		return value, nil
	}
	return NewUUIDProvider().NewID()
}
