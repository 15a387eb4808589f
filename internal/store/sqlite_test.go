package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestInsertReturnsCanonicalRecord(t *testing.T) {
	s := open(t)

	date := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	post, err := s.InsertPost(context.Background(), "alice", "hello", date, "C1")
	if err != nil {
		t.Fatalf("InsertPost: %v", err)
	}
	if post.ID != "P000001" {
		t.Fatalf("id = %q, want P000001", post.ID)
	}
	if post.Username != "alice" || post.Desc != "hello" || post.AuthorID != "C1" {
		t.Fatalf("record = %+v", post)
	}
	if !post.Date.Equal(date) {
		t.Fatalf("date = %v, want %v", post.Date, date)
	}
}

func TestListOrdersByDateDescending(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	// Inserted out of date order on purpose.
	if _, err := s.InsertPost(ctx, "a", "middle", base.Add(time.Minute), ""); err != nil {
		t.Fatalf("InsertPost: %v", err)
	}
	if _, err := s.InsertPost(ctx, "b", "newest", base.Add(2*time.Minute), ""); err != nil {
		t.Fatalf("InsertPost: %v", err)
	}
	if _, err := s.InsertPost(ctx, "c", "oldest", base, ""); err != nil {
		t.Fatalf("InsertPost: %v", err)
	}

	posts, err := s.ListPosts(ctx)
	if err != nil {
		t.Fatalf("ListPosts: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("len = %d, want 3", len(posts))
	}
	want := []string{"newest", "middle", "oldest"}
	for i, w := range want {
		if posts[i].Desc != w {
			t.Fatalf("posts[%d] = %q, want %q", i, posts[i].Desc, w)
		}
	}
}

func TestListBreaksDateTiesByInsertionOrder(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	date := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := s.InsertPost(ctx, "a", "first insert", date, ""); err != nil {
		t.Fatalf("InsertPost: %v", err)
	}
	if _, err := s.InsertPost(ctx, "b", "second insert", date, ""); err != nil {
		t.Fatalf("InsertPost: %v", err)
	}

	posts, err := s.ListPosts(ctx)
	if err != nil {
		t.Fatalf("ListPosts: %v", err)
	}
	if posts[0].Desc != "second insert" || posts[1].Desc != "first insert" {
		t.Fatalf("tie order = [%q %q]", posts[0].Desc, posts[1].Desc)
	}
}

func TestListEmptyBoard(t *testing.T) {
	s := open(t)
	posts, err := s.ListPosts(context.Background())
	if err != nil {
		t.Fatalf("ListPosts: %v", err)
	}
	if posts == nil || len(posts) != 0 {
		t.Fatalf("posts = %#v, want empty non-nil slice", posts)
	}
}

func TestReopenKeepsIDNamespace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "board.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.InsertPost(context.Background(), "a", "one", time.Now().UTC(), ""); err != nil {
		t.Fatalf("InsertPost: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	post, err := s2.InsertPost(context.Background(), "b", "two", time.Now().UTC(), "")
	if err != nil {
		t.Fatalf("InsertPost after reopen: %v", err)
	}
	if post.ID != "P000002" {
		t.Fatalf("id after reopen = %q, want P000002", post.ID)
	}
}

func open(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "board.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}
