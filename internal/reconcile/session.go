package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Boon40/PlantMore/internal/models"
)

// State of one send-with-attachments action.
type State int

const (
	StateIdle State = iota
	StateSent
	StatePolling
	StateResolved
	StateTimedOut
)

// Upload is one attachment queued for sending.
type Upload struct {
	Filename string
	Data     []byte
}

// API is the server surface a session consumes.
type API interface {
	MessageLister
	CreateMessage(ctx context.Context, conversationID int64, text string) (*models.Message, error)
	UploadImage(ctx context.Context, messageID int64, filename string, data []byte, autoClassify bool) (*models.Image, error)
}

const placeholderText = "🤔 Identifying your plant..."

// Session holds the client-side view of a single conversation and drives
// the optimistic-send / upload / poll cycle for it. All results are bound
// to the conversation id fixed at construction; snapshots for any other
// conversation are discarded.
type Session struct {
	api    API
	loop   *Loop
	logger *zap.Logger
	convID int64

	mu          sync.Mutex
	entries     []Entry
	state       State
	nextLocalID int64
}

func NewSession(api API, cfg Config, logger *zap.Logger, conversationID int64) *Session {
	return &Session{
		api:         api,
		loop:        NewLoop(api, cfg, logger),
		logger:      logger,
		convID:      conversationID,
		state:       StateIdle,
		nextLocalID: -1,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the current view.
func (s *Session) Messages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Refresh pulls the server's message list and merges it into the view.
func (s *Session) Refresh(ctx context.Context) error {
	snapshot, err := s.api.ListMessages(ctx, s.convID)
	if err != nil {
		return err
	}
	s.applyServer(s.convID, snapshot)
	return nil
}

// Send performs the optimistic send: the message appears in the view
// immediately, attachments are uploaded one by one with each returned
// image merged in (deduplicated by image id), and, when classification was
// requested, a thinking placeholder is shown until AwaitReply settles it.
func (s *Session) Send(ctx context.Context, text string, uploads []Upload, autoClassify bool) (*models.Message, error) {
	msg, err := s.api.CreateMessage(ctx, s.convID, text)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.entries = Merge(s.entries, []models.Message{*msg})
	s.state = StateSent
	wantPlaceholder := autoClassify && len(uploads) > 0
	if wantPlaceholder {
		s.addPlaceholderLocked()
	}
	s.mu.Unlock()

	for _, u := range uploads {
		img, err := s.api.UploadImage(ctx, msg.ID, u.Filename, u.Data, autoClassify)
		if err != nil {
			return msg, fmt.Errorf("uploading %s: %w", u.Filename, err)
		}
		s.mergeImage(msg.ID, *img)
	}
	return msg, nil
}

// AwaitReply polls for the assistant message produced by a Send with
// autoClassify. It returns the reply, or nil when the budget ran out. In
// either case the thinking placeholder is gone afterwards.
func (s *Session) AwaitReply(ctx context.Context) (*models.Message, error) {
	s.mu.Lock()
	s.state = StatePolling
	newerThan := s.maxServerIDLocked()
	convID := s.convID
	s.mu.Unlock()

	reply, snapshot, err := s.loop.Await(ctx, convID, newerThan)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removePlaceholderLocked()
	if snapshot != nil {
		s.entries = mergeFor(convID, s.convID, s.entries, snapshot)
	}
	if err != nil {
		s.state = StateTimedOut
		return nil, err
	}
	if reply == nil {
		s.state = StateTimedOut
		return nil, nil
	}
	s.state = StateResolved
	s.entries = mergeFor(convID, s.convID, s.entries, []models.Message{*reply})
	return reply, nil
}

func (s *Session) applyServer(convID int64, snapshot []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = mergeFor(convID, s.convID, s.entries, snapshot)
}

// mergeFor drops snapshots that were fetched for another conversation.
func mergeFor(snapshotConv, sessionConv int64, local []Entry, server []models.Message) []Entry {
	if snapshotConv != sessionConv {
		return local
	}
	return Merge(local, server)
}

func (s *Session) mergeImage(messageID int64, img models.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == messageID {
			s.entries[i].Images = unionImages(s.entries[i].Images, []models.Image{img})
			return
		}
	}
}

func (s *Session) addPlaceholderLocked() {
	text := placeholderText
	s.entries = append(s.entries, Entry{
		Message: models.Message{
			ID:        s.nextLocalID,
			ConvID:    s.convID,
			Role:      models.RoleAssistant,
			Text:      &text,
			CreatedAt: time.Now(),
			Images:    []models.Image{},
		},
		Pending: true,
	})
	s.nextLocalID--
}

func (s *Session) removePlaceholderLocked() {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if !e.Pending {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}

func (s *Session) maxServerIDLocked() int64 {
	var max int64
	for _, e := range s.entries {
		if !e.Pending && e.ID > max {
			max = e.ID
		}
	}
	return max
}
