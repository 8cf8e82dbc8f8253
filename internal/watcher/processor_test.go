package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reimbot/internal/model"
	"reimbot/internal/table"
)

type fakeNotifier struct {
	tokens []string
	etas   []string
	err    error
}

func (n *fakeNotifier) Notify(_ context.Context, token, eta string) error {
	n.tokens = append(n.tokens, token)
	n.etas = append(n.etas, eta)

	return n.err
}

func scheduledMessage(lines ...string) Message {
	html := "<html><body>"
	for _, line := range lines {
		html += "<p>" + line + "</p>"
	}
	html += "</body></html>"

	return Message{
		From:    "notifications@payments.example",
		Subject: "Your payment is scheduled for Mon, January 01, 2024",
		HTML:    html,
	}
}

func newProcessorFixture(t *testing.T) (*Processor, *table.Store, *fakeNotifier, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "reimbursements.csv")

	store, err := table.New(path, model.ReimbursementSchema())
	require.NoError(t, err)

	notifier := &fakeNotifier{}
	proc := NewProcessor(zap.NewNop(), store, notifier)

	return proc, store, notifier, path
}

func TestProcessor_RecordsPaymentAndNotifies(t *testing.T) {
	proc, store, notifier, path := newProcessorFixture(t)

	requested := time.Date(2023, 9, 2, 11, 7, 38, 0, time.Local)
	require.NoError(t, store.Append(model.NewReimbursement(5, "tok5", requested)))

	sentAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local)
	proc.now = func() time.Time { return sentAt }

	res := proc.Process(context.Background(), scheduledMessage(
		"Invoice number", "5", "Payment delivery ETA", "Mon, January 01, 2024",
	))
	assert.Equal(t, Handled, res.Status)

	row, ok := store.Find(func(r table.Row) bool { return r[model.FieldInvoice] == 5 })
	require.True(t, ok)
	got, ok := row[model.FieldDatePaymentSent].(time.Time)
	require.True(t, ok)
	assert.True(t, sentAt.Equal(got))

	// The update reached the file, not just memory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), sentAt.Format(model.TimeLayout))

	require.Equal(t, []string{"tok5"}, notifier.tokens)
	require.Equal(t, []string{"Mon, January 01, 2024"}, notifier.etas)
}

func TestProcessor_MutatesOnlyMatchingRow(t *testing.T) {
	proc, store, _, _ := newProcessorFixture(t)

	requested := time.Date(2023, 9, 2, 11, 0, 0, 0, time.Local)
	require.NoError(t, store.Append(model.NewReimbursement(1, "tok1", requested)))
	require.NoError(t, store.Append(model.NewReimbursement(2, "tok2", requested)))

	res := proc.Process(context.Background(), scheduledMessage(
		"Invoice number", "2", "Payment delivery ETA", "Tue, January 02, 2024",
	))
	assert.Equal(t, Handled, res.Status)

	row1, ok := store.Find(func(r table.Row) bool { return r[model.FieldInvoice] == 1 })
	require.True(t, ok)
	assert.Nil(t, row1[model.FieldDatePaymentSent])

	row2, ok := store.Find(func(r table.Row) bool { return r[model.FieldInvoice] == 2 })
	require.True(t, ok)
	assert.NotNil(t, row2[model.FieldDatePaymentSent])
}

func TestProcessor_IgnoresUnrelatedMail(t *testing.T) {
	proc, store, notifier, _ := newProcessorFixture(t)

	require.NoError(t, store.Append(model.NewReimbursement(5, "tok5", time.Now())))

	res := proc.Process(context.Background(), Message{
		From:    "newsletter@example.com",
		Subject: "Weekly digest",
		HTML:    "<p>Invoice number</p><p>5</p>",
	})
	assert.Equal(t, Skipped, res.Status)
	assert.Empty(t, notifier.tokens)

	row, _ := store.Find(func(r table.Row) bool { return r[model.FieldInvoice] == 5 })
	assert.Nil(t, row[model.FieldDatePaymentSent])
}

func TestProcessor_SoftFailureIsolation(t *testing.T) {
	proc, store, notifier, _ := newProcessorFixture(t)

	require.NoError(t, store.Append(model.NewReimbursement(5, "tok5", time.Now())))

	// Missing identifier label: format drift, skipped without table access.
	res := proc.Process(context.Background(), scheduledMessage(
		"Payment delivery ETA", "Mon, January 01, 2024",
	))
	assert.Equal(t, Skipped, res.Status)

	// Missing ETA label.
	res = proc.Process(context.Background(), scheduledMessage(
		"Invoice number", "5",
	))
	assert.Equal(t, Skipped, res.Status)

	// Invoice value not an integer.
	res = proc.Process(context.Background(), scheduledMessage(
		"Invoice number", "five", "Payment delivery ETA", "Mon, January 01, 2024",
	))
	assert.Equal(t, Skipped, res.Status)

	assert.Empty(t, notifier.tokens)

	row, _ := store.Find(func(r table.Row) bool { return r[model.FieldInvoice] == 5 })
	assert.Nil(t, row[model.FieldDatePaymentSent])

	// A well-formed message afterwards is still processed.
	res = proc.Process(context.Background(), scheduledMessage(
		"Invoice number", "5", "Payment delivery ETA", "Mon, January 01, 2024",
	))
	assert.Equal(t, Handled, res.Status)
	assert.Equal(t, []string{"tok5"}, notifier.tokens)
}

func TestProcessor_UnknownInvoice(t *testing.T) {
	proc, store, notifier, _ := newProcessorFixture(t)

	require.NoError(t, store.Append(model.NewReimbursement(1, "tok1", time.Now())))

	res := proc.Process(context.Background(), scheduledMessage(
		"Invoice number", "42", "Payment delivery ETA", "Mon, January 01, 2024",
	))
	assert.Equal(t, Skipped, res.Status)
	assert.Equal(t, "unknown invoice", res.Reason)
	assert.Empty(t, notifier.tokens)
	assert.Equal(t, 1, store.Len())
}

func TestProcessor_NotifierFailureDoesNotRollBack(t *testing.T) {
	proc, store, notifier, _ := newProcessorFixture(t)
	notifier.err = errors.New("broker down")

	require.NoError(t, store.Append(model.NewReimbursement(5, "tok5", time.Now())))

	res := proc.Process(context.Background(), scheduledMessage(
		"Invoice number", "5", "Payment delivery ETA", "Mon, January 01, 2024",
	))
	assert.Equal(t, Handled, res.Status)

	row, _ := store.Find(func(r table.Row) bool { return r[model.FieldInvoice] == 5 })
	assert.NotNil(t, row[model.FieldDatePaymentSent])
}

func TestNormalizeText(t *testing.T) {
	in := "  \n\n  Invoice number \n 5\n\n\nPayment delivery ETA\n  Mon, January 01, 2024  \n"
	want := "Invoice number\n5\nPayment delivery ETA\nMon, January 01, 2024"
	assert.Equal(t, want, normalizeText(in))
}

func TestExtractText_StripsMarkup(t *testing.T) {
	html := `<html><head><style>p { color: red; }</style></head>` +
		`<body><div>Invoice number</div><div>5</div><script>var x = 1;</script></body></html>`

	text := normalizeText(extractText(html))
	assert.Equal(t, "Invoice number\n5", text)
	assert.NotContains(t, text, "color")
	assert.NotContains(t, text, "var x")
}
