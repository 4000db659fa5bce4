package idgen

import (
	"github.com/google/uuid"
)

// Generator produces version identifiers. Implementations must be safe for
// concurrent use and must produce identifiers whose ascending lexical order
// is creation order, since version listings sort by identifier.
type Generator interface {
	NewID() (string, error)
}

// UUIDv7 generates RFC 9562 version 7 UUIDs: a millisecond timestamp prefix
// followed by random bits, globally unique and time-sortable as strings.
type UUIDv7 struct{}

func New() UUIDv7 {
	return UUIDv7{}
}

func (UUIDv7) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
