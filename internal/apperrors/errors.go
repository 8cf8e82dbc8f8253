package apperrors

import (
	"errors"
)

var (
	ErrSchemaMismatch  = errors.New("data file header does not match schema")
	ErrCorruptRecord   = errors.New("data file record is corrupt")
	ErrSchemaViolation = errors.New("row fields do not match schema")
	ErrRowNotFound     = errors.New("row not found")
)
