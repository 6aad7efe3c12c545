package schema

import "github.com/pkg/errors"

var (
	ErrMissingWireSchema = errors.New("schema: record kind has no wire schema")
	ErrUnknownTypeID     = errors.New("schema: unknown wire type id")
	ErrDuplicateKind     = errors.New("schema: record kind registered twice")
	ErrTooManyTypes      = errors.New("schema: too many record types for a uint32 type id")
	ErrRecordMismatch    = errors.New("schema: record does not match its declared type")
	ErrEmptyKind         = errors.New("schema: record kind is empty")
)
