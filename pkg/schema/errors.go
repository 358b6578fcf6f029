package schema

import (
	"errors"
	"fmt"

	"github.com/nainya/recordindex/pkg/ids"
)

var (
	// ErrFieldNotFound matches every *FieldTypeNotFoundError
	ErrFieldNotFound = errors.New("field type not found")

	// ErrSchemaInconsistency matches every *RecordTypeNotFoundError
	ErrSchemaInconsistency = errors.New("schema inconsistency")

	// ErrUnsupportedValueType is returned when interning an unknown primitive
	ErrUnsupportedValueType = errors.New("unsupported value type")

	// ErrTypeExists is returned when creating a type whose name is taken
	ErrTypeExists = errors.New("type already exists")
)

// FieldTypeNotFoundError reports a lookup of an unknown field by name or id
type FieldTypeNotFoundError struct {
	Name QName
	ID   ids.SchemaID
}

func (e *FieldTypeNotFoundError) Error() string {
	if e.Name.IsZero() {
		return fmt.Sprintf("field type not found: id %s", e.ID)
	}
	return fmt.Sprintf("field type not found: %s", e.Name)
}

func (e *FieldTypeNotFoundError) Unwrap() error { return ErrFieldNotFound }

// RecordTypeNotFoundError reports a record type or version the schema cannot resolve
type RecordTypeNotFoundError struct {
	Name    QName
	ID      ids.SchemaID
	Version int64
}

func (e *RecordTypeNotFoundError) Error() string {
	if e.Name.IsZero() {
		return fmt.Sprintf("record type not found: id %s version %d", e.ID, e.Version)
	}
	return fmt.Sprintf("record type not found: %s version %d", e.Name, e.Version)
}

func (e *RecordTypeNotFoundError) Unwrap() error { return ErrSchemaInconsistency }
