// Package mailbox implements the watcher's mail transport against a real
// IMAP endpoint using go-imap. The watcher core never imports this package;
// it is wired in by the app.
package mailbox

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"reimbot/internal/watcher"
)

type Config struct {
	Addr     string
	Username string
	Password string
	Folder   string
}

// Mailbox opens IMAP sessions. Every transport failure surfaces as a plain
// error; the watcher maps all of them to its backoff transition.
type Mailbox struct {
	log *zap.Logger
	cfg Config
}

func New(log *zap.Logger, cfg Config) *Mailbox {
	return &Mailbox{
		log: log,
		cfg: cfg,
	}
}

// Login dials the endpoint over TLS, authenticates and selects the watched
// folder.
func (m *Mailbox) Login(ctx context.Context) (watcher.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	updates := make(chan struct{}, 1)

	options := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages == nil {
					return
				}

				select {
				case updates <- struct{}{}:
				default:
				}
			},
		},
	}

	client, err := imapclient.DialTLS(m.cfg.Addr, options)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", m.cfg.Addr, err)
	}

	if err := client.Login(m.cfg.Username, m.cfg.Password).Wait(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("login %s: %w", m.cfg.Username, err)
	}

	if _, err := client.Select(m.cfg.Folder, nil).Wait(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("select %s: %w", m.cfg.Folder, err)
	}

	return &session{
		log:     m.log,
		client:  client,
		updates: updates,
	}, nil
}

type session struct {
	log     *zap.Logger
	client  *imapclient.Client
	updates chan struct{}
}

// Idle issues an IMAP IDLE bounded by timeout. A buffered update that
// arrived while the session was busy fetching is picked up immediately.
func (s *session) Idle(ctx context.Context, timeout time.Duration) (bool, error) {
	idleCmd, err := s.client.Idle()
	if err != nil {
		return false, fmt.Errorf("start idle: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	pending := false

	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-s.updates:
		pending = true
	}

	if err := idleCmd.Close(); err != nil {
		return false, fmt.Errorf("stop idle: %w", err)
	}

	if err := idleCmd.Wait(); err != nil {
		return false, fmt.Errorf("finish idle: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}

	return pending, nil
}

// FetchUnseen fetches every message not yet marked seen. The body fetch is
// not a peek, so the server marks each message seen as it is delivered.
func (s *session) FetchUnseen(ctx context.Context) ([]watcher.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}

	searchData, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	bodySection := &imap.FetchItemBodySection{}
	fetchOptions := &imap.FetchOptions{
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	buffers, err := s.client.Fetch(imap.UIDSetNum(uids...), fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch unseen: %w", err)
	}

	messages := make([]watcher.Message, 0, len(buffers))

	for _, buf := range buffers {
		msg := watcher.Message{}

		if buf.Envelope != nil {
			msg.Subject = buf.Envelope.Subject

			if len(buf.Envelope.From) > 0 {
				msg.From = buf.Envelope.From[0].Addr()
			}
		}

		body, err := extractBody(buf.FindBodySection(bodySection))
		if err != nil {
			s.log.Warn("Failed to parse message body",
				zap.String("subject", msg.Subject),
				zap.Error(err),
			)
		}

		msg.HTML = body

		messages = append(messages, msg)
	}

	return messages, nil
}

func (s *session) Logout() error {
	if err := s.client.Logout().Wait(); err != nil {
		_ = s.client.Close()

		return fmt.Errorf("logout: %w", err)
	}

	return nil
}
