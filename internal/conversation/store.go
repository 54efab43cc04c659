// Package conversation owns the per-lead conversation state and persists it
// to the blob store as one snapshot plus per-lead history and info blobs.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/blob"
	"github.com/jkindrix/leadconcierge/internal/domain"
	apperrors "github.com/jkindrix/leadconcierge/internal/errors"
	"github.com/jkindrix/leadconcierge/internal/logging"
	"github.com/jkindrix/leadconcierge/internal/textnorm"
)

// SnapshotKey is the blob holding the full state map.
const SnapshotKey = "conversations/conversation_state.json"

// eventRetention bounds the activity journal kept in the snapshot.
const eventRetention = 8 * 24 * time.Hour

// HistoryKey is the append-only transcript blob for a lead.
func HistoryKey(phone string) string {
	return fmt.Sprintf("conversations/%s_conversation.txt", textnorm.Digits(phone))
}

// InfoKey is the lead snapshot blob for a lead.
func InfoKey(phone string) string {
	return fmt.Sprintf("conversations/%s_info.json", textnorm.Digits(phone))
}

type snapshot struct {
	Conversations map[string]*domain.Conversation `json:"conversations"`
	Events        []domain.Event                  `json:"events"`
}

// Store keeps conversations in memory and writes them through to blobs.
// Callers serialize mutation of the returned conversations.
type Store struct {
	mu     sync.RWMutex
	blobs  blob.Store
	logger *zap.Logger
	depth  int

	convs  map[string]*domain.Conversation
	events []domain.Event
}

// NewStore creates an empty store. depth bounds the in-memory history.
func NewStore(blobs blob.Store, depth int, logger *zap.Logger) *Store {
	return &Store{
		blobs:  blobs,
		logger: logger,
		depth:  depth,
		convs:  make(map[string]*domain.Conversation),
	}
}

func (s *Store) readSnapshot(ctx context.Context) (*snapshot, error) {
	data, err := s.blobs.Get(ctx, SnapshotKey)
	if errors.Is(err, blob.ErrNotFound) {
		return &snapshot{Conversations: map[string]*domain.Conversation{}}, nil
	}
	if err != nil {
		return nil, apperrors.PersistenceError("conversation.read_snapshot", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, apperrors.PersistenceError("conversation.decode_snapshot", err)
	}
	if snap.Conversations == nil {
		snap.Conversations = map[string]*domain.Conversation{}
	}
	return &snap, nil
}

// LoadAll replaces the in-memory state with the stored snapshot. A missing
// snapshot yields an empty state.
func (s *Store) LoadAll(ctx context.Context) error {
	snap, err := s.readSnapshot(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.convs = snap.Conversations
	s.events = snap.Events
	n := len(s.convs)
	s.mu.Unlock()

	s.logger.Info("conversation state loaded", zap.Int("conversations", n))
	return nil
}

// LoadOne reloads a single conversation from the snapshot.
func (s *Store) LoadOne(ctx context.Context, phone string) (*domain.Conversation, error) {
	snap, err := s.readSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	conv, ok := snap.Conversations[phone]
	if !ok {
		return nil, apperrors.NotFound("conversation")
	}

	s.mu.Lock()
	s.convs[phone] = conv
	s.mu.Unlock()
	return conv, nil
}

// SaveOne writes the lead's info blob and the full snapshot.
func (s *Store) SaveOne(ctx context.Context, phone string) error {
	s.mu.RLock()
	conv, ok := s.convs[phone]
	var info []byte
	var err error
	if ok {
		info, err = json.MarshalIndent(conv.Lead, "", "  ")
	}
	s.mu.RUnlock()

	if !ok {
		return apperrors.NotFound("conversation")
	}
	if err != nil {
		return apperrors.InternalError("encode lead info", err)
	}
	if err := s.blobs.Put(ctx, InfoKey(phone), info); err != nil {
		return apperrors.PersistenceError("conversation.save_info", err)
	}
	return s.Save(ctx)
}

// Save writes the full snapshot.
func (s *Store) Save(ctx context.Context) error {
	s.mu.RLock()
	data, err := json.Marshal(snapshot{Conversations: s.convs, Events: s.events})
	s.mu.RUnlock()
	if err != nil {
		return apperrors.InternalError("encode conversation snapshot", err)
	}
	if err := s.blobs.Put(ctx, SnapshotKey, data); err != nil {
		return apperrors.PersistenceError("conversation.save_snapshot", err)
	}
	return nil
}

// AppendHistory records a message in memory and in the lead's transcript.
// The in-memory history is updated even when the transcript write fails.
func (s *Store) AppendHistory(ctx context.Context, phone string, dir domain.Direction, text string, at time.Time) error {
	s.mu.Lock()
	conv, ok := s.convs[phone]
	if ok {
		conv.Append(domain.Message{Direction: dir, Text: text, At: at}, s.depth)
	}
	s.mu.Unlock()
	if !ok {
		return apperrors.NotFound("conversation")
	}

	speaker := "Cliente"
	if dir == domain.Outbound {
		speaker = "Bot"
	}
	line := fmt.Sprintf("[%s] %s: %s\n", at.UTC().Format(time.RFC3339), speaker, strings.ReplaceAll(text, "\n", " "))
	if err := s.blobs.Append(ctx, HistoryKey(phone), []byte(line)); err != nil {
		return apperrors.PersistenceError("conversation.append_history", err)
	}
	return nil
}

// Get returns the conversation for phone.
func (s *Store) Get(phone string) (*domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[phone]
	return conv, ok
}

// GetOrCreate returns the conversation for phone, creating it at now when
// the phone is unknown.
func (s *Store) GetOrCreate(phone string, now time.Time) (*domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.convs[phone]; ok {
		return conv, false
	}
	conv := domain.NewConversation(phone, now)
	s.convs[phone] = conv
	s.logger.Info("new conversation", logging.Phone("phone", phone))
	return conv, true
}

// All returns every conversation ordered by first contact.
func (s *Store) All() []*domain.Conversation {
	s.mu.RLock()
	out := make([]*domain.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Lead, out[j].Lead
		if !a.FirstContact.Equal(b.FirstContact) {
			return a.FirstContact.Before(b.FirstContact)
		}
		return a.Phone < b.Phone
	})
	return out
}

// Leads returns the non-manager conversations ordered by first contact.
func (s *Store) Leads() []*domain.Conversation {
	var out []*domain.Conversation
	for _, c := range s.All() {
		if !c.IsManager {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// FindByPhone returns the leads whose digits end with the digits of
// fragment. An exact address match wins over suffix matches.
func (s *Store) FindByPhone(fragment string) []*domain.Conversation {
	if conv, ok := s.Get(fragment); ok {
		return []*domain.Conversation{conv}
	}
	digits := textnorm.Digits(fragment)
	if digits == "" {
		return nil
	}
	var out []*domain.Conversation
	for _, c := range s.Leads() {
		if strings.HasSuffix(c.Lead.DigitsKey(), digits) {
			out = append(out, c)
		}
	}
	return out
}

// OldestPending returns the conversation whose pending question was created
// first, or nil.
func (s *Store) OldestPending() *domain.Conversation {
	var oldest *domain.Conversation
	for _, c := range s.All() {
		if c.Pending == nil {
			continue
		}
		if oldest == nil || c.Pending.CreatedAt.Before(oldest.Pending.CreatedAt) {
			oldest = c
		}
	}
	return oldest
}

// Record appends an event to the journal and drops entries older than the
// retention window.
func (s *Store) Record(kind domain.EventKind, phone string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, domain.Event{Kind: kind, Phone: phone, At: at})

	cutoff := at.Add(-eventRetention)
	i := 0
	for i < len(s.events) && s.events[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.events = append([]domain.Event(nil), s.events[i:]...)
	}
}

// Events returns the events in [from, to).
func (s *Store) Events(from, to time.Time) []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Event
	for _, e := range s.events {
		if !e.At.Before(from) && e.At.Before(to) {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears memory and reloads the stored snapshot.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.convs = make(map[string]*domain.Conversation)
	s.events = nil
	s.mu.Unlock()
	return s.LoadAll(ctx)
}
