package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yungbote/listinglens-backend/internal/data/repos"
	"github.com/yungbote/listinglens-backend/internal/domain/analysis"
	"github.com/yungbote/listinglens-backend/internal/observability"
	"github.com/yungbote/listinglens-backend/internal/pkg/dbctx"
	"github.com/yungbote/listinglens-backend/internal/platform/ctxutil"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

var ErrNoSink = errors.New("no sink attached")

const defaultBufferLimit = 256

type Config struct {
	// BufferLimit caps undelivered events kept for a released session; the
	// oldest are dropped. A running session buffers without limit.
	BufferLimit int
	// Linger is how long a released session keeps its buffer.
	Linger time.Duration

	Metrics *observability.Metrics
}

// channel is the per-session delivery state. mu is held for every send so
// at most one send is in flight and delivery order equals publish order.
type channel struct {
	mu       sync.Mutex
	sink     Sink
	live     bool
	buffer   []Message
	seq      int64
	released bool
	// trimmed means the buffer lost events at release; Attach reloads
	// history from the audit store instead.
	trimmed bool
	evict   bool
	timer   *time.Timer
}

// Multiplexer routes progress events to at most one live sink per session,
// buffering while no sink is attached.
type Multiplexer struct {
	log     *logger.Logger
	audit   repos.ProgressEventRepo
	limit   int
	linger  time.Duration
	metrics *observability.Metrics

	mu       sync.Mutex
	channels map[string]*channel
}

// NewMultiplexer builds a multiplexer. audit may be nil, in which case events
// are neither persisted nor replayed.
func NewMultiplexer(log *logger.Logger, audit repos.ProgressEventRepo, cfg Config) *Multiplexer {
	limit := cfg.BufferLimit
	if limit <= 0 {
		limit = defaultBufferLimit
	}
	return &Multiplexer{
		log:      log.With("component", "ProgressMultiplexer"),
		audit:    audit,
		limit:    limit,
		linger:   cfg.Linger,
		metrics:  cfg.Metrics,
		channels: map[string]*channel{},
	}
}

// lockedChannel returns the session's channel with its lock held. A channel
// created here is replayed from the audit store before anyone else sees it.
func (m *Multiplexer) lockedChannel(ctx context.Context, sessionID string, replay bool) *channel {
	for {
		m.mu.Lock()
		ch, ok := m.channels[sessionID]
		m.mu.Unlock()
		if !ok {
			break
		}
		ch.mu.Lock()
		if m.current(sessionID, ch) {
			return ch
		}
		// Removed while we waited for its lock.
		ch.mu.Unlock()
	}

	m.mu.Lock()
	if _, ok := m.channels[sessionID]; ok {
		m.mu.Unlock()
		return m.lockedChannel(ctx, sessionID, replay)
	}
	ch := &channel{}
	ch.mu.Lock()
	m.channels[sessionID] = ch
	m.mu.Unlock()

	if replay && m.audit != nil {
		m.replay(ctx, sessionID, ch)
	}
	return ch
}

func (m *Multiplexer) current(sessionID string, ch *channel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[sessionID] == ch
}

func (m *Multiplexer) replay(ctx context.Context, sessionID string, ch *channel) {
	events, err := m.audit.ListBySession(dbctx.Context{Ctx: ctx}, sessionID)
	if err != nil {
		m.log.Warn("Progress replay failed", "session_id", sessionID, "error", err)
		return
	}
	for _, ev := range events {
		m.enqueue(ch, FromEvent(ev))
		if ev.Seq > ch.seq {
			ch.seq = ev.Seq
		}
	}
	if len(events) > 0 {
		// History on a channel that was not in memory means the run already
		// finished and was evicted; the channel goes when its sink detaches.
		ch.released = true
		ch.evict = true
		m.log.Debug("Replayed progress history", "session_id", sessionID, "events", len(events))
	}
}

// enqueue appends to the buffer. Caller holds ch.mu.
func (m *Multiplexer) enqueue(ch *channel, msg Message) {
	ch.buffer = append(ch.buffer, msg)
}

// trim drops the oldest buffered events beyond the limit. Caller holds ch.mu.
func (m *Multiplexer) trim(sessionID string, ch *channel) {
	over := len(ch.buffer) - m.limit
	if over <= 0 {
		return
	}
	m.log.Warn("Trimming released progress buffer",
		"session_id", sessionID,
		"dropped", over,
		"first_kept_seq", ch.buffer[over].Seq,
		"limit", m.limit,
	)
	m.metrics.IncEventDropped("released_trim")
	ch.buffer = append([]Message(nil), ch.buffer[over:]...)
	ch.trimmed = true
}

// Publish assigns the next sequence number, delivers or buffers the event and
// records it in the audit store. Delivery failures never surface to the caller.
func (m *Multiplexer) Publish(ctx context.Context, ev *analysis.ProgressEvent) error {
	if ev == nil || ev.SessionID == "" {
		return fmt.Errorf("%w: missing session", analysis.ErrInvalidEvent)
	}
	ch := m.lockedChannel(ctx, ev.SessionID, false)
	ch.seq++
	ev.Seq = ch.seq
	msg := FromEvent(ev)

	if ch.live && ch.sink != nil {
		if err := ch.sink.Send(ctx, msg); err != nil {
			m.log.Warn("Live send failed, buffering",
				"session_id", ev.SessionID,
				"seq", ev.Seq,
				"error", err,
			)
			ch.live = false
			m.enqueue(ch, msg)
		}
	} else {
		m.enqueue(ch, msg)
	}
	ch.mu.Unlock()

	if m.audit != nil {
		if err := m.audit.Create(dbctx.Context{Ctx: ctxutil.Detach(ctx)}, ev); err != nil {
			m.log.Warn("Progress audit write failed", "session_id", ev.SessionID, "seq", ev.Seq, "error", err)
		}
	}
	return nil
}

// Attach makes sink the session's only subscriber. Buffered events are
// flushed in order before the channel goes live; a previous sink is closed.
// If the flush fails the channel stays buffered and the error is returned.
func (m *Multiplexer) Attach(ctx context.Context, sessionID string, sink Sink) error {
	if sink == nil {
		return ErrNoSink
	}
	ch := m.lockedChannel(ctx, sessionID, true)
	defer ch.mu.Unlock()

	if old := ch.sink; old != nil && old != sink {
		if err := old.Close(); err != nil {
			m.log.Debug("Closing replaced sink failed", "session_id", sessionID, "error", err)
		}
	}
	ch.sink = sink
	ch.live = false
	if ch.trimmed && m.audit != nil {
		ch.buffer = nil
		ch.trimmed = false
		m.replay(ctx, sessionID, ch)
	}

	for i, msg := range ch.buffer {
		if err := sink.Send(ctx, msg); err != nil {
			ch.buffer = ch.buffer[i:]
			m.log.Warn("Flush failed", "session_id", sessionID, "pending", len(ch.buffer), "error", err)
			return err
		}
	}
	ch.buffer = nil
	ch.live = true
	return nil
}

// Detach removes sink if it is still the session's subscriber. Later events
// are buffered. Channels of finished sessions are dropped here.
func (m *Multiplexer) Detach(sessionID string, sink Sink) {
	m.mu.Lock()
	ch, ok := m.channels[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	ch.mu.Lock()
	if ch.sink != sink {
		ch.mu.Unlock()
		return
	}
	ch.sink = nil
	ch.live = false
	// A channel nothing was ever published on holds no state worth keeping.
	evict := ch.evict || (ch.seq == 0 && len(ch.buffer) == 0)
	ch.mu.Unlock()

	if evict {
		m.remove(sessionID, ch)
	}
}

// SendDirect writes a control message to sink if it is still the session's
// subscriber, serialized with event delivery. It is neither buffered nor
// audited.
func (m *Multiplexer) SendDirect(ctx context.Context, sessionID string, sink Sink, msg Message) error {
	m.mu.Lock()
	ch, ok := m.channels[sessionID]
	m.mu.Unlock()
	if !ok {
		return ErrNoSink
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.sink == nil || ch.sink != sink {
		return ErrNoSink
	}
	return ch.sink.Send(ctx, msg)
}

// Release marks the session finished. After the linger window its buffer is
// evicted; a sink that is still attached keeps the channel until it detaches.
func (m *Multiplexer) Release(sessionID string) {
	m.mu.Lock()
	ch, ok := m.channels[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.released {
		return
	}
	ch.released = true
	m.trim(sessionID, ch)
	if m.linger <= 0 {
		go m.expire(sessionID, ch)
		return
	}
	ch.timer = time.AfterFunc(m.linger, func() { m.expire(sessionID, ch) })
}

func (m *Multiplexer) expire(sessionID string, ch *channel) {
	ch.mu.Lock()
	if ch.sink != nil {
		ch.evict = true
		ch.mu.Unlock()
		return
	}
	ch.mu.Unlock()
	m.remove(sessionID, ch)
}

func (m *Multiplexer) remove(sessionID string, ch *channel) {
	m.mu.Lock()
	if m.channels[sessionID] == ch {
		delete(m.channels, sessionID)
	}
	m.mu.Unlock()
}

// Backlog reports how many events are waiting for a subscriber.
func (m *Multiplexer) Backlog(sessionID string) int {
	m.mu.Lock()
	ch, ok := m.channels[sessionID]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.buffer)
}

// Close closes every attached sink and stops pending evictions.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	chans := make([]*channel, 0, len(m.channels))
	for _, ch := range m.channels {
		chans = append(chans, ch)
	}
	m.channels = map[string]*channel{}
	m.mu.Unlock()

	for _, ch := range chans {
		ch.mu.Lock()
		if ch.timer != nil {
			ch.timer.Stop()
		}
		if ch.sink != nil {
			_ = ch.sink.Close()
			ch.sink = nil
		}
		ch.live = false
		ch.mu.Unlock()
	}
}
