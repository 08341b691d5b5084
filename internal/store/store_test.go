package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/botscript/internal/notify"
)

// createTestStore opens a fresh store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(source string, seq int64, m notify.Message) notify.Record {
	return notify.Record{
		Seq:     seq,
		Source:  source,
		Time:    time.Date(2024, 3, 1, 12, 0, int(seq), 0, time.UTC),
		Message: m,
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		got, err := s.pragma(tt.name)
		if err != nil {
			t.Errorf("pragma(%s): %v", tt.name, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("%s = %q, want %q", tt.name, got, tt.expected)
		}
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	ctx := context.Background()
	if _, err := s1.WriteNotification(ctx, record("a", 1, notify.Info("log", "x"))); err != nil {
		t.Fatalf("WriteNotification() error = %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer s2.Close()

	got, err := s2.ReadNotifications(ctx, "a", 0)
	if err != nil {
		t.Fatalf("ReadNotifications() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d notifications after reopen, want 1", len(got))
	}
}

func TestWriteReadNotifications(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	msgs := []notify.Message{
		notify.Info("log", "[INFO ][01.03 12:00:01][a][base] hello"),
		notify.Info("status", "train_active=1"),
		{Err: "InvalidValueError: train.active: not a flag", Category: "command", Payload: "train_set_active"},
	}
	ids := map[string]bool{}
	for i, m := range msgs {
		id, err := s.WriteNotification(ctx, record("a", int64(i+1), m))
		if err != nil {
			t.Fatalf("WriteNotification() error = %v", err)
		}
		ids[id] = true
	}
	if _, err := s.WriteNotification(ctx, record("b", 1, notify.Info("log", "other"))); err != nil {
		t.Fatalf("WriteNotification() error = %v", err)
	}
	if len(ids) != len(msgs) {
		t.Fatalf("ids not unique: %v", ids)
	}

	got, err := s.ReadNotifications(ctx, "a", 0)
	if err != nil {
		t.Fatalf("ReadNotifications() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d notifications, want 3", len(got))
	}
	for i, n := range got {
		if n.Message != msgs[i] {
			t.Errorf("notification %d = %+v, want %+v", i, n.Message, msgs[i])
		}
		if n.ChannelSeq != int64(i+1) {
			t.Errorf("notification %d channel seq = %d", i, n.ChannelSeq)
		}
		if n.Identifier != "a" {
			t.Errorf("notification %d identifier = %q", i, n.Identifier)
		}
		if i > 0 && n.Seq <= got[i-1].Seq {
			t.Errorf("seq not ascending at %d", i)
		}
	}
	if want := time.Date(2024, 3, 1, 12, 0, 1, 0, time.UTC); !got[0].CreatedAt.Equal(want) {
		t.Errorf("created_at = %v, want %v", got[0].CreatedAt, want)
	}
}

func TestReadNotifications_LimitKeepsNewest(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		if _, err := s.WriteNotification(ctx, record("a", i, notify.Info("log", "x"))); err != nil {
			t.Fatalf("WriteNotification() error = %v", err)
		}
	}

	got, err := s.ReadNotifications(ctx, "a", 2)
	if err != nil {
		t.Fatalf("ReadNotifications() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d notifications, want 2", len(got))
	}
	if got[0].ChannelSeq != 4 || got[1].ChannelSeq != 5 {
		t.Errorf("got channel seqs %d,%d, want 4,5", got[0].ChannelSeq, got[1].ChannelSeq)
	}
}

func TestReadNotifications_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)

	got, err := s.ReadNotifications(context.Background(), "missing", 10)
	if err != nil {
		t.Fatalf("ReadNotifications() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty slice", got)
	}
}

func TestConfigurations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.ReadConfiguration(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadConfiguration() error = %v, want ErrNotFound", err)
	}

	if err := s.SaveConfiguration(ctx, "a", `{"username":"a"}`); err != nil {
		t.Fatalf("SaveConfiguration() error = %v", err)
	}
	if err := s.SaveConfiguration(ctx, "a", `{"username":"a","inactive":true}`); err != nil {
		t.Fatalf("SaveConfiguration() error = %v", err)
	}

	blob, err := s.ReadConfiguration(ctx, "a")
	if err != nil {
		t.Fatalf("ReadConfiguration() error = %v", err)
	}
	if blob != `{"username":"a","inactive":true}` {
		t.Errorf("blob = %s", blob)
	}
}

func TestIdentifiers(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.WriteNotification(ctx, record("p_s_b", 1, notify.Info("log", "x"))); err != nil {
		t.Fatalf("WriteNotification() error = %v", err)
	}
	if err := s.SaveConfiguration(ctx, "p_s_a", "{}"); err != nil {
		t.Fatalf("SaveConfiguration() error = %v", err)
	}
	if err := s.SaveConfiguration(ctx, "p_s_b", "{}"); err != nil {
		t.Fatalf("SaveConfiguration() error = %v", err)
	}

	got, err := s.Identifiers(ctx)
	if err != nil {
		t.Fatalf("Identifiers() error = %v", err)
	}
	if len(got) != 2 || got[0] != "p_s_a" || got[1] != "p_s_b" {
		t.Errorf("Identifiers() = %v", got)
	}
}

func TestSink_PersistsDeliveredRecords(t *testing.T) {
	s := createTestStore(t)

	ch := notify.NewChannel(NewSink(s, nil))
	ch.SetSource("p_s_a")
	ch.Publish(notify.Info("status", "train_active=1"))
	ch.Publish(notify.Info("log", "done"))
	ch.Close()
	<-ch.Done()

	got, err := s.ReadNotifications(context.Background(), "p_s_a", 0)
	if err != nil {
		t.Fatalf("ReadNotifications() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d notifications, want 2", len(got))
	}
	if got[0].Category != "status" || got[1].Payload != "done" {
		t.Errorf("unexpected notifications: %+v", got)
	}
}
