package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jkindrix/leadconcierge/internal/blob"
	"github.com/jkindrix/leadconcierge/internal/domain"
	apperrors "github.com/jkindrix/leadconcierge/internal/errors"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, blob.Store) {
	t.Helper()
	fs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	return NewStore(fs, 10, zap.NewNop()), fs
}

// failingBlobs fails every write.
type failingBlobs struct{ blob.Store }

func (failingBlobs) Put(context.Context, string, []byte) error    { return errors.New("disk full") }
func (failingBlobs) Append(context.Context, string, []byte) error { return errors.New("disk full") }

func TestStore_LoadAllWithoutSnapshotIsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.LoadAll(context.Background()))
	assert.Equal(t, 0, s.Len())
}

func TestStore_SaveOneLoadOneRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, fs := newTestStore(t)

	conv, created := s.GetOrCreate("whatsapp:+5215512345678", t0)
	require.True(t, created)
	budget := 150000.0
	conv.Lead.Name = "Ana"
	conv.Lead.Budget = &budget
	conv.Lead.Stage = domain.StageNegotiation
	conv.Qualification.Set(domain.FlagName)
	conv.Pending = domain.NewPendingQuestion(conv.Lead.Phone, "¿Tiene alberca?", "Torre X", t0)
	conv.Tasks = append(conv.Tasks, domain.Task{Target: conv.Lead.Phone, Action: "llamar", Date: "2026-05-05"})
	require.NoError(t, s.AppendHistory(ctx, conv.Lead.Phone, domain.Inbound, "hola", t0))
	require.NoError(t, s.SaveOne(ctx, conv.Lead.Phone))

	want := *conv
	fresh := NewStore(fs, 10, zap.NewNop())
	got, err := fresh.LoadOne(ctx, conv.Lead.Phone)
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	info, err := fs.Get(ctx, InfoKey(conv.Lead.Phone))
	require.NoError(t, err)
	assert.Contains(t, string(info), `"name": "Ana"`)
}

func TestStore_LoadOneUnknownPhone(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.LoadOne(context.Background(), "whatsapp:+1")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestStore_HistoryIsBoundedSuffix(t *testing.T) {
	ctx := context.Background()
	s, fs := newTestStore(t)
	phone := "whatsapp:+5215500000001"
	s.GetOrCreate(phone, t0)

	var all []string
	for i := 0; i < 25; i++ {
		text := fmt.Sprintf("msg %d", i)
		all = append(all, text)
		dir := domain.Inbound
		if i%2 == 1 {
			dir = domain.Outbound
		}
		require.NoError(t, s.AppendHistory(ctx, phone, dir, text, t0.Add(time.Duration(i)*time.Minute)))

		conv, _ := s.Get(phone)
		require.LessOrEqual(t, len(conv.History), 10)
		suffix := all[len(all)-len(conv.History):]
		for j, m := range conv.History {
			require.Equal(t, suffix[j], m.Text)
		}
	}

	transcript, err := fs.Get(ctx, HistoryKey(phone))
	require.NoError(t, err)
	assert.Equal(t, 25, strings.Count(string(transcript), "\n"))
	assert.Contains(t, string(transcript), "Bot: msg 1")
}

func TestStore_PersistFailureKeepsMemory(t *testing.T) {
	fs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	s := NewStore(failingBlobs{fs}, 10, zap.NewNop())
	phone := "whatsapp:+5215500000002"
	s.GetOrCreate(phone, t0)

	err = s.AppendHistory(context.Background(), phone, domain.Inbound, "hola", t0)
	assert.Equal(t, apperrors.CodePersistence, apperrors.GetCode(err))
	conv, _ := s.Get(phone)
	assert.Len(t, conv.History, 1)

	assert.Error(t, s.SaveOne(context.Background(), phone))
}

func TestStore_FindByPhoneAndOldestPending(t *testing.T) {
	s, _ := newTestStore(t)
	a, _ := s.GetOrCreate("whatsapp:+5215511110000", t0)
	b, _ := s.GetOrCreate("whatsapp:+5215522220000", t0.Add(time.Minute))
	m, _ := s.GetOrCreate("whatsapp:+5215599990000", t0)
	m.IsManager = true

	assert.Len(t, s.FindByPhone("0000"), 2)
	found := s.FindByPhone("2222 0000")
	require.Len(t, found, 1)
	assert.Equal(t, b.Lead.Phone, found[0].Lead.Phone)
	assert.Empty(t, s.FindByPhone("abc"))

	assert.Nil(t, s.OldestPending())
	b.Pending = domain.NewPendingQuestion(b.Lead.Phone, "q2", "", t0.Add(2*time.Minute))
	a.Pending = domain.NewPendingQuestion(a.Lead.Phone, "q1", "", t0.Add(3*time.Minute))
	assert.Equal(t, b.Lead.Phone, s.OldestPending().Lead.Phone)
}

func TestStore_EventsWindowAndRetention(t *testing.T) {
	s, _ := newTestStore(t)
	s.Record(domain.EventNewClient, "a", t0)
	s.Record(domain.EventEscalation, "a", t0.Add(time.Hour))
	s.Record(domain.EventAnswer, "a", t0.Add(9*24*time.Hour))

	assert.Empty(t, s.Events(t0, t0.Add(24*time.Hour)), "old events are pruned")
	got := s.Events(t0.Add(9*24*time.Hour), t0.Add(10*24*time.Hour))
	require.Len(t, got, 1)
	assert.Equal(t, domain.EventAnswer, got[0].Kind)
}

func TestStore_ResetReloadsSnapshot(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	s.GetOrCreate("whatsapp:+1", t0)
	require.NoError(t, s.Save(ctx))
	s.GetOrCreate("whatsapp:+2", t0)

	require.NoError(t, s.Reset(ctx))
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get("whatsapp:+2")
	assert.False(t, ok)
}
