package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Boon40/PlantMore/internal/models"
)

// MessageLister is the server surface the loop polls.
type MessageLister interface {
	ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error)
}

// Config bounds the polling loop. Either limit ending first terminates it.
type Config struct {
	Grace       time.Duration // wait before the first poll
	Interval    time.Duration // delay between polls
	MaxAttempts int
	Ceiling     time.Duration // wall-clock budget across all attempts
}

func DefaultConfig() Config {
	return Config{
		Grace:       time.Second,
		Interval:    1500 * time.Millisecond,
		MaxAttempts: 20,
		Ceiling:     45 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Grace <= 0 {
		c.Grace = d.Grace
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Ceiling <= 0 {
		c.Ceiling = d.Ceiling
	}
	return c
}

// Loop polls a conversation's message list until an assistant reply shows
// up or the attempt/time budget runs out.
type Loop struct {
	lister MessageLister
	cfg    Config
	logger *zap.Logger
}

func NewLoop(lister MessageLister, cfg Config, logger *zap.Logger) *Loop {
	return &Loop{lister: lister, cfg: cfg.withDefaults(), logger: logger}
}

// Await blocks until a message classified as assistant appears in
// conversationID, returning it together with the last server snapshot seen.
// A nil message means the budget was exhausted. The conversation id is
// captured here; callers switching conversations cancel ctx and discard
// the result, so stale polls never touch another conversation's view.
func (l *Loop) Await(ctx context.Context, conversationID int64, newerThan int64) (*models.Message, []models.Message, error) {
	cfg := l.cfg
	deadline := time.Now().Add(cfg.Ceiling)

	if err := sleep(ctx, cfg.Grace); err != nil {
		return nil, nil, err
	}

	var lastSnapshot []models.Message
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if time.Now().After(deadline) {
			break
		}

		snapshot, err := l.lister.ListMessages(ctx, conversationID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, lastSnapshot, ctx.Err()
			}
			l.logger.Warn("poll failed",
				zap.Int64("conversation_id", conversationID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		} else {
			lastSnapshot = snapshot
			for i := range snapshot {
				if snapshot[i].ID > newerThan && IsAssistant(snapshot[i]) {
					return &snapshot[i], lastSnapshot, nil
				}
			}
		}

		if attempt == cfg.MaxAttempts {
			break
		}
		if err := sleep(ctx, cfg.Interval); err != nil {
			return nil, lastSnapshot, err
		}
	}
	return nil, lastSnapshot, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
