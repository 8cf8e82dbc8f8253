package watcher

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"reimbot/internal/model"
	"reimbot/internal/table"
)

// The payment processor's notification format. SubjectFilter classifies the
// message; the two labels are matched against whole lines of the normalized
// body text, with the value on the line immediately after each.
const (
	SubjectFilter      = "payment is scheduled for"
	InvoiceNumberLabel = "Invoice number"
	ETALabel           = "Payment delivery ETA"
)

var newlineRuns = regexp.MustCompile(`\s*\n+\s*`)

// Status classifies the outcome of processing one message.
type Status int

const (
	// Handled means the table was mutated and the downstream notifier
	// invoked.
	Handled Status = iota
	// Skipped means the message was ignored without touching the table:
	// unrelated mail, drifted format, or an unknown invoice.
	Skipped
)

// Result reports what Process did with a message.
type Result struct {
	Status Status
	Reason string
}

func skipped(reason string) Result {
	return Result{Status: Skipped, Reason: reason}
}

// Notifier forwards a processed reimbursement to the downstream messaging
// system. The call is fire and forget; a failure never rolls back the table.
type Notifier interface {
	Notify(ctx context.Context, correlationToken, eta string) error
}

// Processor parses payment notifications and records confirmed payments in
// the reimbursement table.
type Processor struct {
	log      *zap.Logger
	store    *table.Store
	notifier Notifier
	now      func() time.Time
}

func NewProcessor(log *zap.Logger, store *table.Store, notifier Notifier) *Processor {
	return &Processor{
		log:      log,
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// Process handles one fetched message. Malformed or unrelated messages are
// logged and skipped; they never crash the watcher and never partially
// mutate the table.
func (p *Processor) Process(ctx context.Context, msg Message) Result {
	if !strings.Contains(msg.Subject, SubjectFilter) {
		p.log.Warn("Unhandled email",
			zap.String("from", msg.From),
			zap.String("subject", msg.Subject),
		)

		return skipped("subject does not match")
	}

	p.log.Info("New processed reimbursement email")

	text := normalizeText(extractText(msg.HTML))
	lines := strings.Split(text, "\n")

	invoiceStr, ok := valueAfter(lines, InvoiceNumberLabel)
	if !ok {
		p.log.Error("Email format change, could not find invoice number", zap.String("text", text))

		return skipped("invoice number label not found")
	}

	eta, ok := valueAfter(lines, ETALabel)
	if !ok {
		p.log.Error("Email format change, could not find ETA", zap.String("text", text))

		return skipped("eta label not found")
	}

	invoice, err := strconv.Atoi(invoiceStr)
	if err != nil {
		p.log.Error("Email format change, could not parse invoice number",
			zap.String("invoice", invoiceStr),
			zap.String("text", text),
		)

		return skipped("invoice number not an integer")
	}

	var (
		token string
		found bool
	)

	err = p.store.Update(func(tx *table.Tx) error {
		row, ok := tx.Find(func(r table.Row) bool {
			return r[model.FieldInvoice] == invoice
		})
		if !ok {
			return nil
		}

		found = true
		token, _ = row[model.FieldCorrelationToken].(string)

		row[model.FieldDatePaymentSent] = p.now()

		return tx.Sync()
	})
	if err != nil {
		p.log.Error("Failed to record payment", zap.Int("invoice", invoice), zap.Error(err))

		return skipped("table sync failed")
	}

	if !found {
		p.log.Error("Notification for unknown invoice", zap.Int("invoice", invoice))

		return skipped("unknown invoice")
	}

	// The mutation is the source of truth; the downstream notification is
	// advisory and happens outside the table lock.
	if err := p.notifier.Notify(ctx, token, eta); err != nil {
		p.log.Error("Failed to notify downstream",
			zap.Int("invoice", invoice),
			zap.String("correlation_token", token),
			zap.Error(err),
		)
	}

	p.log.Info("Processed reimbursement",
		zap.Int("invoice", invoice),
		zap.String("eta", eta),
	)

	return Result{Status: Handled}
}

// extractText strips markup from an HTML body, keeping the text content.
// Input that does not parse as HTML is returned as-is; html.Parse is
// lenient, so this only happens on reader errors.
func extractText(body string) string {
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return body
	}

	var b strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style"):
			return
		case n.Type == html.ElementNode && (n.Data == "br" || n.Data == "p" || n.Data == "div" || n.Data == "tr"):
			b.WriteString("\n")
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return b.String()
}

// normalizeText collapses every whitespace-padded newline run into a single
// newline and trims the ends, so labels and values align one per line.
func normalizeText(text string) string {
	return strings.TrimSpace(newlineRuns.ReplaceAllString(text, "\n"))
}

// valueAfter returns the line immediately following the first exact match
// of label.
func valueAfter(lines []string, label string) (string, bool) {
	for i, line := range lines {
		if line == label && i+1 < len(lines) {
			return lines[i+1], true
		}
	}

	return "", false
}
