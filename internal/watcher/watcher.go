package watcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Message is one mail message surfaced by a session. HTML carries the raw
// message body; Subject and From are taken from the envelope.
type Message struct {
	From    string
	Subject string
	HTML    string
}

// Session is one authenticated mailbox connection. It is created by
// Mailbox.Login, lives through idle/fetch cycles and ends with Logout.
type Session interface {
	// Idle blocks until the server signals pending mail or the timeout
	// elapses. It reports whether a notification arrived.
	Idle(ctx context.Context, timeout time.Duration) (bool, error)

	// FetchUnseen returns all currently unseen messages, marking each one
	// seen as it is fetched.
	FetchUnseen(ctx context.Context) ([]Message, error)

	Logout() error
}

// Mailbox opens authenticated sessions against the remote mail endpoint.
type Mailbox interface {
	Login(ctx context.Context) (Session, error)
}

// Config bounds the watcher's connection lifecycle.
type Config struct {
	// IdleWait caps a single idle call.
	IdleWait time.Duration
	// RenewAfter forces a clean logout and reconnect once a session reaches
	// this age, regardless of activity. Kept under the remote endpoint's
	// session-expiry window.
	RenewAfter time.Duration
	// ReconnectDelay is the flat backoff after any transport failure.
	ReconnectDelay time.Duration
	// RestartDelay is the supervisor's pause before restarting the pipeline
	// after an escaped failure.
	RestartDelay time.Duration
}

// Watcher drives the mailbox connection state machine and hands every
// fetched message to the processor. It owns one goroutine and retries
// forever until its context is canceled.
type Watcher struct {
	log  *zap.Logger
	cfg  Config
	box  Mailbox
	proc *Processor

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(log *zap.Logger, cfg Config, box Mailbox, proc *Processor) *Watcher {
	return &Watcher{
		log:   log,
		cfg:   cfg,
		box:   box,
		proc:  proc,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Run is the outer supervisor loop. Any failure escaping the connection
// state machine, panics included, is logged and followed by a bounded-delay
// restart. Run returns only when ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Info("Watcher started")

	for {
		err := w.watchOnce(ctx)

		if ctx.Err() != nil {
			w.log.Info("Watcher stopped")

			return nil
		}

		if err != nil {
			w.log.Error("Unhandled error in watcher pipeline, restarting", zap.Error(err))
		} else {
			w.log.Error("Watcher pipeline exited unexpectedly, restarting")
		}

		if err := w.sleep(ctx, w.cfg.RestartDelay); err != nil {
			w.log.Info("Watcher stopped")

			return nil
		}
	}
}

// watchOnce runs the connection state machine, converting panics into
// errors so the supervisor can restart instead of crashing the process.
func (w *Watcher) watchOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("watcher pipeline panic: %v", r)
		}
	}()

	return w.watch(ctx)
}

// watch is the connection state machine: connect, idle until the renewal
// deadline, drain unseen mail through the processor, renew. Transport
// failures drop the session and reconnect after a flat delay, forever.
func (w *Watcher) watch(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		sess, err := w.box.Login(ctx)
		if err != nil {
			w.log.Error("Mailbox login failed, reconnecting after delay",
				zap.Error(err),
				zap.Duration("delay", w.cfg.ReconnectDelay),
			)

			if err := w.sleep(ctx, w.cfg.ReconnectDelay); err != nil {
				return nil
			}

			continue
		}

		w.log.Info("Mailbox session started")

		renew, err := w.idleLoop(ctx, sess)
		if err != nil {
			// Transport error mid-session. The logout is best effort; the
			// connection may already be gone.
			_ = sess.Logout()

			w.log.Error("Mailbox session aborted, reconnecting after delay",
				zap.Error(err),
				zap.Duration("delay", w.cfg.ReconnectDelay),
			)

			if err := w.sleep(ctx, w.cfg.ReconnectDelay); err != nil {
				return nil
			}

			continue
		}

		if err := sess.Logout(); err != nil {
			w.log.Warn("Mailbox logout failed", zap.Error(err))
		}

		if !renew {
			// Canceled.
			return nil
		}

		w.log.Info("Mailbox session renewed")
	}
}

// idleLoop waits for mail and drains it until the renewal deadline. It
// reports renew=true when the session aged out and renew=false when the
// context was canceled. Any transport error is returned to the caller.
func (w *Watcher) idleLoop(ctx context.Context, sess Session) (renew bool, err error) {
	start := w.now()

	for w.now().Sub(start) < w.cfg.RenewAfter {
		if ctx.Err() != nil {
			return false, nil
		}

		pending, err := sess.Idle(ctx, w.cfg.IdleWait)
		if err != nil {
			if ctx.Err() != nil {
				return false, nil
			}

			return false, fmt.Errorf("idle wait: %w", err)
		}

		if !pending {
			continue
		}

		msgs, err := sess.FetchUnseen(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false, nil
			}

			return false, fmt.Errorf("fetch unseen: %w", err)
		}

		for _, msg := range msgs {
			w.proc.Process(ctx, msg)
		}
	}

	return true, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
