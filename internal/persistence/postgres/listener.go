package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vircadia/vircadia-world-sub011/internal/backoff"
	"github.com/vircadia/vircadia-world-sub011/internal/logger"
	"github.com/vircadia/vircadia-world-sub011/internal/logger/tag"
	"github.com/vircadia/vircadia-world-sub011/internal/models"
)

// NotifyChannel is the pg_notify channel the capture stored function
// publishes on. Payload format: "<group>:<tick number>".
const NotifyChannel = "tick_captured"

var _ models.TickNotifier = (*Listener)(nil)

// Listener delivers capture-completion notices over a dedicated LISTEN
// connection. The connection reconnects with exponential backoff; notices
// missed while disconnected are not replayed, which is fine because the
// synchronous capture return is an equivalent completion signal.
type Listener struct {
	dsn string
}

// NewListener creates a listener for the given database.
func NewListener(dsn string) *Listener {
	return &Listener{dsn: dsn}
}

// Subscribe implements models.TickNotifier.
func (l *Listener) Subscribe(ctx context.Context) (<-chan models.TickNotice, func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	notices := make(chan models.TickNotice, 64)

	go func() {
		defer close(notices)
		l.run(subCtx, notices)
	}()

	return notices, cancel, nil
}

func (l *Listener) run(ctx context.Context, notices chan<- models.TickNotice) {
	policy := backoff.NewExponentialBackoffPolicy(250 * time.Millisecond)
	policy.MaxInterval = 30 * time.Second

	for ctx.Err() == nil {
		err := backoff.Retry(ctx, func(ctx context.Context) error {
			return l.listen(ctx, notices)
		}, policy, nil)
		if err != nil && ctx.Err() == nil {
			logger.Warn(ctx, "Tick listener stopped unexpectedly", tag.Error(err))
		}
	}
}

func (l *Listener) listen(ctx context.Context, notices chan<- models.TickNotice) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("failed to LISTEN on %s: %w", NotifyChannel, err)
	}
	logger.Debug(ctx, "Listening for tick notifications")

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("notification wait failed: %w", err)
		}

		notice, ok := parseNotice(notification.Payload)
		if !ok {
			logger.Warn(ctx, "Malformed tick notification payload",
				tag.String("payload", notification.Payload))
			continue
		}

		select {
		case notices <- notice:
		default:
			// A full buffer means the consumer is far behind; dropping is
			// safe because the synchronous capture return carries the same
			// completion signal.
		}
	}
}

func parseNotice(payload string) (models.TickNotice, bool) {
	group, numberText, found := strings.Cut(payload, ":")
	if !found || group == "" {
		return models.TickNotice{}, false
	}
	number, err := strconv.ParseInt(numberText, 10, 64)
	if err != nil {
		return models.TickNotice{}, false
	}
	return models.TickNotice{Group: group, Number: number}, true
}
