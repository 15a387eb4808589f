package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"liveboard.dev/internal/protocol"
)

// ErrRateLimited is returned by Create when an author exceeds the
// configured posting window.
var ErrRateLimited = errors.New("rate limited")

// Store is the durable post store the board writes through to.
type Store interface {
	InsertPost(ctx context.Context, username, desc string, date time.Time, authorID string) (protocol.Post, error)
	ListPosts(ctx context.Context) ([]protocol.Post, error)
}

// AuditLogger records one entry per created post.
type AuditLogger interface {
	WritePost(entry AuditEntry) error
}

type AuditEntry struct {
	At       time.Time `json:"at"`
	PostID   string    `json:"post_id"`
	Username string    `json:"username"`
	AuthorID string    `json:"author_id,omitempty"`
	Bytes    int       `json:"bytes"`
}

type Config struct {
	// Per-author posting rate limit. Zero RateMax disables the limit.
	RateWindow time.Duration
	RateMax    int

	// Buffer size of the per-subscriber outbound queue.
	SubscriberQueue int
}

func (c *Config) normalize() {
	if c.RateWindow <= 0 {
		c.RateWindow = time.Minute
	}
	if c.SubscriberQueue <= 0 {
		c.SubscriberQueue = 64
	}
}

// Board owns all mutable board state. A single goroutine (Run) services
// every request; transports talk to it over channels only.
type Board struct {
	cfg   Config
	store Store
	audit AuditLogger
	log   *log.Logger

	create  chan createReq
	list    chan listReq
	control chan subControl
	done    chan struct{}

	subs        map[string]chan []byte
	rateWindows map[string]*rateWindow

	postsCreated atomic.Uint64
	rateLimited  atomic.Uint64
	fanoutDrops  atomic.Uint64
	subscribers  atomic.Int64
}

type rateWindow struct {
	start time.Time
	count int
}

type createReq struct {
	username string
	desc     string
	date     time.Time
	authorID string
	resp     chan createResp
}

type createResp struct {
	post protocol.Post
	err  error
}

type listReq struct {
	resp chan listResp
}

type listResp struct {
	posts []protocol.Post
	err   error
}

// subControl carries both subscribe and unsubscribe requests. They
// share one channel so a session's join and leave are applied in the
// order they were issued, even while the loop is busy elsewhere. A nil
// out means leave.
type subControl struct {
	sessionID string
	out       chan []byte
}

func New(store Store, audit AuditLogger, cfg Config, logger *log.Logger) *Board {
	cfg.normalize()
	return &Board{
		cfg:         cfg,
		store:       store,
		audit:       audit,
		log:         logger,
		create:      make(chan createReq, 64),
		list:        make(chan listReq, 64),
		control:     make(chan subControl, 16),
		done:        make(chan struct{}),
		subs:        map[string]chan []byte{},
		rateWindows: map[string]*rateWindow{},
	}
}

// Run services board requests until ctx is cancelled. Subscriber
// channels are closed on the way out so writers never outlive the loop.
func (b *Board) Run(ctx context.Context) error {
	defer func() {
		close(b.done)
		for id, out := range b.subs {
			close(out)
			delete(b.subs, id)
		}
		b.subscribers.Store(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-b.create:
			req.resp <- b.handleCreate(ctx, req)
		case req := <-b.list:
			posts, err := b.store.ListPosts(ctx)
			req.resp <- listResp{posts: posts, err: err}
		case req := <-b.control:
			if req.out != nil {
				b.handleSubscribe(req)
			} else {
				b.handleUnsubscribe(req.sessionID)
			}
		}
	}
}

func (b *Board) handleCreate(ctx context.Context, req createReq) createResp {
	if !b.allowPost(req.authorID, time.Now()) {
		b.rateLimited.Add(1)
		return createResp{err: ErrRateLimited}
	}

	post, err := b.store.InsertPost(ctx, req.username, req.desc, req.date, req.authorID)
	if err != nil {
		return createResp{err: fmt.Errorf("insert post: %w", err)}
	}
	b.postsCreated.Add(1)

	if b.audit != nil {
		if err := b.audit.WritePost(AuditEntry{
			At:       time.Now().UTC(),
			PostID:   post.ID,
			Username: post.Username,
			AuthorID: post.AuthorID,
			Bytes:    len(post.Desc),
		}); err != nil {
			b.log.Printf("audit write: %v", err)
		}
	}

	b.fanout(post)
	return createResp{post: post}
}

func (b *Board) allowPost(authorID string, now time.Time) bool {
	if b.cfg.RateMax <= 0 {
		return true
	}
	key := authorID
	if key == "" {
		key = "anonymous"
	}
	w := b.rateWindows[key]
	if w == nil || now.Sub(w.start) >= b.cfg.RateWindow {
		b.rateWindows[key] = &rateWindow{start: now, count: 1}
		return true
	}
	if w.count >= b.cfg.RateMax {
		return false
	}
	w.count++
	return true
}

func (b *Board) fanout(post protocol.Post) {
	if len(b.subs) == 0 {
		return
	}
	msg := protocol.PostMsg{
		Type:            protocol.TypePost,
		ProtocolVersion: protocol.Version,
		Post:            post,
	}
	bts, err := json.Marshal(msg)
	if err != nil {
		b.log.Printf("fanout marshal: %v", err)
		return
	}
	for id, out := range b.subs {
		select {
		case out <- bts:
		default:
			// Slow consumer; drop rather than stall the loop. The
			// client reconciles the gap on its next full load.
			b.fanoutDrops.Add(1)
			b.log.Printf("fanout drop session=%s post=%s", id, post.ID)
		}
	}
}

func (b *Board) handleSubscribe(req subControl) {
	if req.sessionID == "" {
		return
	}
	// A reused session id replaces the old channel.
	if old := b.subs[req.sessionID]; old != nil {
		close(old)
	} else {
		b.subscribers.Add(1)
	}
	b.subs[req.sessionID] = req.out
}

func (b *Board) handleUnsubscribe(sessionID string) {
	out := b.subs[sessionID]
	if out == nil {
		return
	}
	delete(b.subs, sessionID)
	close(out)
	b.subscribers.Add(-1)
}

// Create validates nothing itself; the transport rejects malformed
// input before it gets here. It blocks until the board loop has
// written through to the store and fanned the insert out.
func (b *Board) Create(ctx context.Context, username, desc string, date time.Time, authorID string) (protocol.Post, error) {
	resp := make(chan createResp, 1)
	select {
	case b.create <- createReq{username: username, desc: desc, date: date, authorID: authorID, resp: resp}:
	case <-ctx.Done():
		return protocol.Post{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.post, r.err
	case <-ctx.Done():
		return protocol.Post{}, ctx.Err()
	}
}

// List returns all posts, newest first.
func (b *Board) List(ctx context.Context) ([]protocol.Post, error) {
	resp := make(chan listResp, 1)
	select {
	case b.list <- listReq{resp: resp}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.posts, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe registers a feed session. The returned channel carries
// marshalled PostMsg frames and is closed on Unsubscribe or loop exit.
func (b *Board) Subscribe(ctx context.Context, sessionID string) (<-chan []byte, error) {
	out := make(chan []byte, b.cfg.SubscriberQueue)
	select {
	case b.control <- subControl{sessionID: sessionID, out: out}:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe queues the session's leave behind any earlier join, so
// the registration never survives a disconnect. It blocks until the
// loop accepts the request or exits; after exit the loop closes every
// subscriber channel itself.
func (b *Board) Unsubscribe(sessionID string) {
	select {
	case b.control <- subControl{sessionID: sessionID}:
	case <-b.done:
	}
}

// Metrics is a point-in-time snapshot for the /metrics endpoint.
type Metrics struct {
	PostsCreated uint64
	RateLimited  uint64
	FanoutDrops  uint64
	Subscribers  int64
	QueueDepths  QueueDepths
}

type QueueDepths struct {
	Create int
	List   int
}

func (b *Board) Metrics() Metrics {
	return Metrics{
		PostsCreated: b.postsCreated.Load(),
		RateLimited:  b.rateLimited.Load(),
		FanoutDrops:  b.fanoutDrops.Load(),
		Subscribers:  b.subscribers.Load(),
		QueueDepths: QueueDepths{
			Create: len(b.create),
			List:   len(b.list),
		},
	}
}
