package board

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"liveboard.dev/internal/protocol"
)

type fakeStore struct {
	nextSeq   int64
	posts     []protocol.Post
	insertErr error
	listErr   error
}

func (f *fakeStore) InsertPost(ctx context.Context, username, desc string, date time.Time, authorID string) (protocol.Post, error) {
	if f.insertErr != nil {
		return protocol.Post{}, f.insertErr
	}
	f.nextSeq++
	p := protocol.Post{
		ID:       protocol.PostID(f.nextSeq),
		Username: username,
		Desc:     desc,
		Date:     date,
		AuthorID: authorID,
	}
	f.posts = append([]protocol.Post{p}, f.posts...)
	return p, nil
}

func (f *fakeStore) ListPosts(ctx context.Context) ([]protocol.Post, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.posts, nil
}

func startBoard(t *testing.T, st Store, cfg Config) *Board {
	t.Helper()
	b := New(st, nil, cfg, log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b
}

func TestCreateReturnsStoredRecord(t *testing.T) {
	b := startBoard(t, &fakeStore{}, Config{})

	date := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	post, err := b.Create(context.Background(), "alice", "hi", date, "C1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if post.ID != "P000001" || post.Username != "alice" {
		t.Fatalf("post = %+v", post)
	}

	posts, err := b.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "P000001" {
		t.Fatalf("posts = %+v", posts)
	}
}

func TestCreateWrapsStoreFailure(t *testing.T) {
	b := startBoard(t, &fakeStore{insertErr: fmt.Errorf("disk gone")}, Config{})

	_, err := b.Create(context.Background(), "alice", "hi", time.Now().UTC(), "")
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestCreateFansOutToSubscribers(t *testing.T) {
	b := startBoard(t, &fakeStore{}, Config{})

	out1, err := b.Subscribe(context.Background(), "S1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	out2, err := b.Subscribe(context.Background(), "S2")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	post, err := b.Create(context.Background(), "alice", "hi", time.Now().UTC(), "C1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, out := range []<-chan []byte{out1, out2} {
		select {
		case frame := <-out:
			var msg protocol.PostMsg
			if err := json.Unmarshal(frame, &msg); err != nil {
				t.Fatalf("unmarshal frame: %v", err)
			}
			if msg.Type != protocol.TypePost || msg.Post.ID != post.ID {
				t.Fatalf("frame = %+v", msg)
			}
			if err := protocol.ValidatePostMsg(frame); err != nil {
				t.Fatalf("frame fails schema: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no fanout frame")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := startBoard(t, &fakeStore{}, Config{})

	out, err := b.Subscribe(context.Background(), "S1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b.Unsubscribe("S1")

	deadline := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case _, ok := <-out:
			open = ok
		case <-deadline:
			t.Fatalf("channel not closed")
		}
	}

	// A post after unsubscribe must not be delivered anywhere.
	if _, err := b.Create(context.Background(), "alice", "hi", time.Now().UTC(), ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if subs := b.Metrics().Subscribers; subs != 0 {
		t.Fatalf("Subscribers = %d, want 0", subs)
	}
}

type gatedStore struct {
	fakeStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) InsertPost(ctx context.Context, username, desc string, date time.Time, authorID string) (protocol.Post, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.fakeStore.InsertPost(ctx, username, desc, date, authorID)
}

// A session's unsubscribe must never overtake its own subscribe, even
// when both queue up while the loop is held inside a store write.
func TestUnsubscribeOrderedAfterQueuedSubscribe(t *testing.T) {
	st := &gatedStore{entered: make(chan struct{}, 1), release: make(chan struct{})}
	b := startBoard(t, st, Config{})
	ctx := context.Background()

	createDone := make(chan error, 1)
	go func() {
		_, err := b.Create(ctx, "alice", "hi", time.Now().UTC(), "")
		createDone <- err
	}()
	<-st.entered

	// Both control requests queue behind the held create.
	out, err := b.Subscribe(ctx, "S1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b.Unsubscribe("S1")
	close(st.release)

	if err := <-createDone; err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The leave lands after the join, so the channel closes.
	deadline := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case _, ok := <-out:
			open = ok
		case <-deadline:
			t.Fatalf("subscriber leaked: channel never closed")
		}
	}
	if subs := b.Metrics().Subscribers; subs != 0 {
		t.Fatalf("Subscribers = %d, want 0", subs)
	}
}

func TestRateLimitPerAuthor(t *testing.T) {
	b := startBoard(t, &fakeStore{}, Config{RateWindow: time.Hour, RateMax: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := b.Create(ctx, "alice", "ok", time.Now().UTC(), "C1"); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}
	_, err := b.Create(ctx, "alice", "too much", time.Now().UTC(), "C1")
	if err != ErrRateLimited {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	// A different author is unaffected.
	if _, err := b.Create(ctx, "bob", "fine", time.Now().UTC(), "C2"); err != nil {
		t.Fatalf("Create other author: %v", err)
	}

	m := b.Metrics()
	if m.RateLimited != 1 {
		t.Fatalf("RateLimited = %d, want 1", m.RateLimited)
	}
	if m.PostsCreated != 3 {
		t.Fatalf("PostsCreated = %d, want 3", m.PostsCreated)
	}
}

func TestSlowSubscriberDoesNotBlockCreate(t *testing.T) {
	b := startBoard(t, &fakeStore{}, Config{SubscriberQueue: 1})
	ctx := context.Background()

	if _, err := b.Subscribe(ctx, "S1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Nobody drains S1; the second insert overflows its queue.
	for i := 0; i < 3; i++ {
		if _, err := b.Create(ctx, "alice", "spam", time.Now().UTC(), ""); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}
	if drops := b.Metrics().FanoutDrops; drops == 0 {
		t.Fatalf("expected fanout drops")
	}
}
