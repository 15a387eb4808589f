package client

import (
	"context"
	"fmt"
	"log"
	"time"

	"liveboard.dev/internal/protocol"
)

// API is the board's REST surface as seen by the engine. Both calls
// honor ctx cancellation; a cancelled call's completion is a no-op.
type API interface {
	ListPosts(ctx context.Context) ([]protocol.Post, error)
	CreatePost(ctx context.Context, req protocol.CreateRequest) (protocol.Post, error)
}

// Entry is one client-visible board row. Local marks an optimistic
// entry not yet confirmed by the server; it is never persisted and
// its id lives in the "local-" namespace, disjoint from server ids.
type Entry struct {
	protocol.Post
	Local bool
}

// Snapshot is the engine state at one point in time.
type Snapshot struct {
	Entries   []Entry
	Pending   bool
	Loading   bool
	LastError string
}

// Engine merges three input streams into one duplicate-free,
// date-descending list: the initial bulk load, locally-originated
// optimistic entries, and realtime pushes. All state lives on the Run
// goroutine; transports and callers talk to it over the event channel,
// so mutations interleave one at a time no matter how the network
// completions land.
type Engine struct {
	api      API
	authorID string
	log      *log.Logger
	onChange func(Snapshot)

	events chan event

	// Loop-owned state.
	entries   []Entry
	pending   bool
	loading   bool
	lastError string
	nextLocal int
}

type event struct {
	kind eventKind

	// submit
	username string
	desc     string

	// loadDone / createDone / remote
	posts   []protocol.Post
	post    protocol.Post
	err     error
	localID string

	// snapshot
	snap chan Snapshot
}

type eventKind int

const (
	evSubmit eventKind = iota + 1
	evLoadDone
	evCreateDone
	evRemote
	evSnapshot
)

type Options struct {
	// AuthorID is the caller identity stamped on submitted posts.
	AuthorID string
	// OnChange, if set, is called from the loop after every state
	// change. It must not call back into the engine.
	OnChange func(Snapshot)
}

func New(api API, opts Options, logger *log.Logger) *Engine {
	return &Engine{
		api:      api,
		authorID: opts.AuthorID,
		log:      logger,
		onChange: opts.OnChange,
		events:   make(chan event, 64),
	}
}

// Run drives the engine until ctx is cancelled. It performs the
// startup load first, then services events. Cancelling ctx makes any
// in-flight completion a no-op: the loop is gone, so a late result is
// never applied to torn-down state.
func (e *Engine) Run(ctx context.Context) error {
	e.loading = true
	e.notify()
	go func() {
		posts, err := e.api.ListPosts(ctx)
		e.send(ctx, event{kind: evLoadDone, posts: posts, err: err})
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-e.events:
			e.handle(ctx, ev)
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evSubmit:
		e.handleSubmit(ctx, ev)
	case evLoadDone:
		e.handleLoadDone(ev)
	case evCreateDone:
		e.handleCreateDone(ev)
	case evRemote:
		e.handleRemote(ev)
	case evSnapshot:
		ev.snap <- e.snapshot()
	}
}

// handleSubmit runs the optimistic submission protocol: an entry with
// a session-unique local id appears immediately, the create call runs
// off-loop, and the completion swaps or rolls back.
func (e *Engine) handleSubmit(ctx context.Context, ev event) {
	if e.pending {
		// A submission round-trip is already in flight.
		return
	}
	e.pending = true
	e.nextLocal++
	localID := fmt.Sprintf("local-%d", e.nextLocal)

	local := Entry{
		Post: protocol.Post{
			ID:       localID,
			Username: ev.username,
			Desc:     ev.desc,
			Date:     time.Now().UTC(),
			AuthorID: e.authorID,
		},
		Local: true,
	}
	e.entries = append([]Entry{local}, e.entries...)
	e.notify()

	req := protocol.CreateRequest{
		Username: local.Username,
		Desc:     local.Desc,
		Date:     local.Date,
		AuthorID: local.AuthorID,
	}
	go func() {
		post, err := e.api.CreatePost(ctx, req)
		e.send(ctx, event{kind: evCreateDone, localID: localID, post: post, err: err})
	}()
}

func (e *Engine) handleLoadDone(ev event) {
	if ev.err != nil {
		e.lastError = fmt.Sprintf("load posts: %v", ev.err)
		e.log.Printf("load posts: %v", ev.err)
	} else {
		// The server list is the base. Anything already merged that
		// the list snapshot predates (a push racing the load) is
		// re-applied on top, so nothing confirmed goes missing.
		prior := e.entries
		e.entries = make([]Entry, 0, len(ev.posts)+len(prior))
		for _, p := range ev.posts {
			e.entries = append(e.entries, Entry{Post: p})
		}
		for i := len(prior) - 1; i >= 0; i-- {
			old := prior[i]
			if old.Local {
				e.entries = append([]Entry{old}, e.entries...)
				continue
			}
			if !e.hasID(old.ID) {
				e.entries = insertConfirmed(e.entries, old.Post)
			}
		}
	}
	// Loading clears even on failure.
	e.loading = false
	e.notify()
}

func (e *Engine) handleCreateDone(ev event) {
	e.entries = removeID(e.entries, ev.localID)
	if ev.err != nil {
		// Rollback: the optimistic entry disappears.
		e.lastError = fmt.Sprintf("create post: %v", ev.err)
		e.log.Printf("create post: %v", ev.err)
	} else {
		// Swap: the confirmed record takes the local entry's place,
		// unless the push channel already delivered it.
		if !e.hasID(ev.post.ID) {
			e.entries = insertConfirmed(e.entries, ev.post)
		}
		e.lastError = ""
	}
	e.pending = false
	e.notify()
}

// handleRemote is the realtime ingestion step: idempotent merge by id
// against the current entries, never a stale snapshot.
func (e *Engine) handleRemote(ev event) {
	if e.hasID(ev.post.ID) {
		return
	}
	e.entries = insertConfirmed(e.entries, ev.post)
	e.notify()
}

func (e *Engine) hasID(id string) bool {
	for _, en := range e.entries {
		if !en.Local && en.ID == id {
			return true
		}
	}
	return false
}

func removeID(entries []Entry, id string) []Entry {
	out := entries[:0]
	for _, en := range entries {
		if en.ID != id {
			out = append(out, en)
		}
	}
	return out
}

// insertConfirmed places a confirmed post by descending date; equal
// dates keep arrival order newest-first. Local entries pin to the top.
func insertConfirmed(entries []Entry, p protocol.Post) []Entry {
	idx := len(entries)
	for i, en := range entries {
		if en.Local {
			continue
		}
		if !en.Date.After(p.Date) {
			idx = i
			break
		}
	}
	out := make([]Entry, 0, len(entries)+1)
	out = append(out, entries[:idx]...)
	out = append(out, Entry{Post: p})
	out = append(out, entries[idx:]...)
	return out
}

func (e *Engine) snapshot() Snapshot {
	entries := make([]Entry, len(e.entries))
	copy(entries, e.entries)
	return Snapshot{
		Entries:   entries,
		Pending:   e.pending,
		Loading:   e.loading,
		LastError: e.lastError,
	}
}

func (e *Engine) notify() {
	if e.onChange != nil {
		e.onChange(e.snapshot())
	}
}

func (e *Engine) send(ctx context.Context, ev event) {
	select {
	case e.events <- ev:
	case <-ctx.Done():
	}
}

// Submit starts the submission protocol for one user-initiated post.
// If a round-trip is already pending the request is ignored.
func (e *Engine) Submit(ctx context.Context, username, desc string) {
	e.send(ctx, event{kind: evSubmit, username: username, desc: desc})
}

// ApplyRemote feeds one realtime-pushed insert into the engine.
func (e *Engine) ApplyRemote(ctx context.Context, post protocol.Post) {
	e.send(ctx, event{kind: evRemote, post: post})
}

// State returns a copy of the current engine state, answered through
// the loop for a race-free read.
func (e *Engine) State(ctx context.Context) (Snapshot, error) {
	resp := make(chan Snapshot, 1)
	select {
	case e.events <- event{kind: evSnapshot, snap: resp}:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-resp:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}
