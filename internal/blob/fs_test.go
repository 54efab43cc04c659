package blob

import (
	"context"
	"errors"
	"testing"
)

func TestFSStore_PutGetAppend(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}

	if _, err := s.Get(ctx, "projects/torre.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() on missing key = %v, want ErrNotFound", err)
	}
	if err := s.Put(ctx, "projects/torre.json", []byte(`{"name":"Torre"}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := s.Get(ctx, "projects/torre.json")
	if err != nil || string(got) != `{"name":"Torre"}` {
		t.Fatalf("Get() = %q, %v", got, err)
	}

	for _, line := range []string{"a\n", "b\n"} {
		if err := s.Append(ctx, "conversations/log.jsonl", []byte(line)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	got, _ = s.Get(ctx, "conversations/log.jsonl")
	if string(got) != "a\nb\n" {
		t.Errorf("appended blob = %q, want %q", got, "a\nb\n")
	}
}

func TestFSStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := NewFSStore(t.TempDir())
	for _, k := range []string{"faq/torre.json", "faq/general.json", "projects/torre.json"} {
		if err := s.Put(ctx, k, []byte("{}")); err != nil {
			t.Fatalf("Put(%s) error = %v", k, err)
		}
	}

	keys, err := s.List(ctx, "faq/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "faq/general.json" || keys[1] != "faq/torre.json" {
		t.Errorf("List(faq/) = %v", keys)
	}

	if err := s.Delete(ctx, "faq/torre.json"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, "faq/torre.json"); err != nil {
		t.Errorf("second Delete() should be a no-op, got %v", err)
	}
	keys, _ = s.List(ctx, "faq/")
	if len(keys) != 1 {
		t.Errorf("List after delete = %v", keys)
	}
}

func TestFSStore_RejectsEscapingKeys(t *testing.T) {
	s, _ := NewFSStore(t.TempDir())
	for _, key := range []string{"", "/etc/passwd", "../x", "a/../../b", "a//b"} {
		if err := s.Put(context.Background(), key, []byte("x")); err == nil {
			t.Errorf("Put(%q) should fail", key)
		}
	}
}
