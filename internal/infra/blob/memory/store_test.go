package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"worktally/internal/blob/core"
)

func TestReturnedValuesAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	meta := map[string]string{"k": "v"}
	if _, err := s.Put(ctx, "a", bytes.NewReader([]byte("abc")), core.PutOptions{Metadata: meta}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	meta["k"] = "changed"

	info, rc, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if info.Metadata["k"] != "v" {
		t.Fatalf("stored metadata aliased caller map: %v", info.Metadata)
	}
	info.Metadata["k"] = "mutated"
	body, _ := io.ReadAll(rc)
	body[0] = 'X'

	again, rc2, _ := s.Get(ctx, "a")
	body2, _ := io.ReadAll(rc2)
	if again.Metadata["k"] != "v" || string(body2) != "abc" {
		t.Fatalf("store state leaked: %v %q", again.Metadata, body2)
	}
}

func TestKeysAreCleaned(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.Put(ctx, "dir//./x", bytes.NewReader(nil), core.PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Head(ctx, "dir/x"); err != nil {
		t.Fatalf("Head cleaned key: %v", err)
	}
	if _, err := s.Head(ctx, "dir/y"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
