package model

import (
	"fmt"
	"strconv"
	"time"

	"reimbot/internal/table"
)

// Field names of the reimbursement table, in persisted order.
const (
	FieldInvoice          = "invoice"
	FieldCorrelationToken = "correlation_token"
	FieldDateRequested    = "date_requested"
	FieldDatePaymentSent  = "date_payment_sent"
)

// TimeLayout is the timestamp format used in the data file. An empty string
// marks an absent timestamp.
const TimeLayout = "2006-01-02 15:04:05.999999"

// ReimbursementSchema builds the schema shared by everyone touching the
// reimbursement table. Invoice numbers are ints, timestamps use TimeLayout,
// the correlation token stays an opaque string. Uniqueness of the invoice
// number is not enforced here; correlation takes the first match.
func ReimbursementSchema() *table.Schema {
	return &table.Schema{
		Fields: []string{
			FieldInvoice,
			FieldCorrelationToken,
			FieldDateRequested,
			FieldDatePaymentSent,
		},
		Converters: map[string]table.Converter{
			FieldInvoice: {
				Parse:  parseInt,
				Format: formatInt,
			},
			FieldDateRequested: {
				Parse:  parseTime,
				Format: formatTime,
			},
			FieldDatePaymentSent: {
				Parse:  parseTime,
				Format: formatTime,
			},
		},
	}
}

// NewReimbursement builds a full row for a freshly requested reimbursement.
// The payment-sent timestamp starts absent.
func NewReimbursement(invoice int, correlationToken string, requestedAt time.Time) table.Row {
	return table.Row{
		FieldInvoice:          invoice,
		FieldCorrelationToken: correlationToken,
		FieldDateRequested:    requestedAt,
		FieldDatePaymentSent:  nil,
	}
}

func parseInt(s string) (any, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}

	return n, nil
}

func formatInt(v any) (string, error) {
	n, ok := v.(int)
	if !ok {
		return "", fmt.Errorf("expected int, got %T", v)
	}

	return strconv.Itoa(n), nil
}

func parseTime(s string) (any, error) {
	if s == "" {
		return nil, nil
	}

	t, err := time.ParseInLocation(TimeLayout, s, time.Local)
	if err != nil {
		return nil, err
	}

	return t, nil
}

func formatTime(v any) (string, error) {
	if v == nil {
		return "", nil
	}

	t, ok := v.(time.Time)
	if !ok {
		return "", fmt.Errorf("expected time.Time, got %T", v)
	}

	return t.Format(TimeLayout), nil
}
