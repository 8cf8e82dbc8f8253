package table

import (
	"fmt"

	"reimbot/internal/apperrors"
)

// Row maps field names to typed values. The set of keys is fixed by the
// schema the row belongs to.
type Row map[string]any

// Converter translates one field between its persisted string form and its
// typed in-memory form. The zero value keeps the field as a string in both
// directions.
type Converter struct {
	Parse  func(s string) (any, error)
	Format func(v any) (string, error)
}

// ConversionError names the field whose value could not be converted.
type ConversionError struct {
	Field string
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Schema is the ordered field list shared by the load and persistence paths.
type Schema struct {
	Fields     []string
	Converters map[string]Converter
}

// Stringify renders a row as one record in schema field order.
func (s *Schema) Stringify(row Row) ([]string, error) {
	record := make([]string, 0, len(s.Fields))

	for _, field := range s.Fields {
		value := row[field]

		conv := s.Converters[field]
		if conv.Format == nil {
			str, ok := value.(string)
			if !ok {
				return nil, &ConversionError{Field: field, Err: fmt.Errorf("expected string, got %T", value)}
			}

			record = append(record, str)

			continue
		}

		str, err := conv.Format(value)
		if err != nil {
			return nil, &ConversionError{Field: field, Err: err}
		}

		record = append(record, str)
	}

	return record, nil
}

// Parse converts one record back into a typed row, applying the converter of
// each field in schema order.
func (s *Schema) Parse(record []string) (Row, error) {
	if len(record) != len(s.Fields) {
		return nil, fmt.Errorf("record has %d fields, schema has %d", len(record), len(s.Fields))
	}

	row := make(Row, len(s.Fields))

	for i, field := range s.Fields {
		conv := s.Converters[field]
		if conv.Parse == nil {
			row[field] = record[i]

			continue
		}

		value, err := conv.Parse(record[i])
		if err != nil {
			return nil, &ConversionError{Field: field, Err: err}
		}

		row[field] = value
	}

	return row, nil
}

// Validate checks that the row's field set exactly equals the schema's.
func (s *Schema) Validate(row Row) error {
	if len(row) != len(s.Fields) {
		return fmt.Errorf("%w: row has %d fields, schema has %d", apperrors.ErrSchemaViolation, len(row), len(s.Fields))
	}

	for _, field := range s.Fields {
		if _, ok := row[field]; !ok {
			return fmt.Errorf("%w: missing field %q", apperrors.ErrSchemaViolation, field)
		}
	}

	return nil
}
