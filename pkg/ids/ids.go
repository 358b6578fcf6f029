// ABOUTME: Record and schema identifiers
// ABOUTME: Canonical string forms, storage byte forms, and the id generator

package ids

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidID is returned when a canonical or byte form cannot be parsed
var ErrInvalidID = errors.New("invalid record id")

// Kind distinguishes user-assigned from generated record ids
type Kind uint8

const (
	KindUser Kind = 0
	KindUUID Kind = 1
)

// Canonical string prefixes
const (
	userPrefix = "USER."
	uuidPrefix = "UUID."
)

// RecordID identifies a record. The zero value is not a valid id.
type RecordID struct {
	kind Kind
	user string
	uuid uuid.UUID
}

// Kind reports whether the id was user-assigned or generated
func (id RecordID) Kind() Kind { return id.kind }

// IsZero reports whether id is the zero value
func (id RecordID) IsZero() bool {
	return id.kind == KindUser && id.user == ""
}

// String returns the canonical form: USER.<name> or UUID.<uuid>
func (id RecordID) String() string {
	if id.kind == KindUUID {
		return uuidPrefix + id.uuid.String()
	}
	return userPrefix + id.user
}

// Bytes returns the storage form: the id body followed by a one-byte kind marker.
// User ids sort by name, generated ids by their 16 raw bytes.
func (id RecordID) Bytes() []byte {
	if id.kind == KindUUID {
		out := make([]byte, 0, 17)
		out = append(out, id.uuid[:]...)
		return append(out, byte(KindUUID))
	}
	out := make([]byte, 0, len(id.user)+1)
	out = append(out, id.user...)
	return append(out, byte(KindUser))
}

// Equal compares two ids
func (id RecordID) Equal(other RecordID) bool {
	return id.kind == other.kind && id.user == other.user && id.uuid == other.uuid
}

// HasPrefix reports whether id's storage form starts with prefix's body
func (id RecordID) HasPrefix(prefix RecordID) bool {
	if id.kind != prefix.kind {
		return false
	}
	if id.kind == KindUUID {
		return id.uuid == prefix.uuid
	}
	return strings.HasPrefix(id.user, prefix.user)
}

// SchemaID identifies a field type or record type
type SchemaID struct {
	uuid.UUID
}

// SchemaIDFromUUID wraps u
func SchemaIDFromUUID(u uuid.UUID) SchemaID {
	return SchemaID{UUID: u}
}

// ParseSchemaID parses the textual uuid form of a schema id
func ParseSchemaID(s string) (SchemaID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return SchemaID{}, fmt.Errorf("invalid schema id %q: %w", s, err)
	}
	return SchemaID{UUID: u}, nil
}

// Generator creates and parses identifiers
type Generator struct{}

// NewGenerator returns an id generator
func NewGenerator() *Generator {
	return &Generator{}
}

// NewRecordID returns a fresh generated record id
func (g *Generator) NewRecordID() RecordID {
	return RecordID{kind: KindUUID, uuid: uuid.New()}
}

// UserRecordID returns a user-assigned record id
func (g *Generator) UserRecordID(name string) (RecordID, error) {
	if name == "" {
		return RecordID{}, fmt.Errorf("%w: empty user id", ErrInvalidID)
	}
	if strings.IndexByte(name, 0) >= 0 {
		return RecordID{}, fmt.Errorf("%w: user id contains NUL", ErrInvalidID)
	}
	return RecordID{kind: KindUser, user: name}, nil
}

// FromString parses a canonical record id
func (g *Generator) FromString(s string) (RecordID, error) {
	switch {
	case strings.HasPrefix(s, userPrefix):
		return g.UserRecordID(s[len(userPrefix):])
	case strings.HasPrefix(s, uuidPrefix):
		u, err := uuid.Parse(s[len(uuidPrefix):])
		if err != nil {
			return RecordID{}, fmt.Errorf("%w: %q: %v", ErrInvalidID, s, err)
		}
		return RecordID{kind: KindUUID, uuid: u}, nil
	default:
		return RecordID{}, fmt.Errorf("%w: %q has no USER. or UUID. prefix", ErrInvalidID, s)
	}
}

// FromBytes parses the storage form produced by RecordID.Bytes
func (g *Generator) FromBytes(b []byte) (RecordID, error) {
	if len(b) < 2 {
		return RecordID{}, fmt.Errorf("%w: %d bytes", ErrInvalidID, len(b))
	}
	body, marker := b[:len(b)-1], Kind(b[len(b)-1])
	switch marker {
	case KindUUID:
		u, err := uuid.FromBytes(body)
		if err != nil {
			return RecordID{}, fmt.Errorf("%w: %v", ErrInvalidID, err)
		}
		return RecordID{kind: KindUUID, uuid: u}, nil
	case KindUser:
		if bytes.IndexByte(body, 0) >= 0 {
			return RecordID{}, fmt.Errorf("%w: user id contains NUL", ErrInvalidID)
		}
		return RecordID{kind: KindUser, user: string(body)}, nil
	default:
		return RecordID{}, fmt.Errorf("%w: unknown kind marker %d", ErrInvalidID, marker)
	}
}

// NewSchemaID returns a fresh random schema id
func (g *Generator) NewSchemaID() SchemaID {
	return SchemaID{UUID: uuid.New()}
}

// SchemaID wraps an externally derived uuid as a schema id
func (g *Generator) SchemaID(u uuid.UUID) SchemaID {
	return SchemaID{UUID: u}
}
