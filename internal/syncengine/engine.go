// Package syncengine keeps a local, ordered view of one room's messages in
// step with the message log.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/thereayou/roomchat/internal/messagelog"
	"github.com/thereayou/roomchat/internal/metrics"
	"github.com/thereayou/roomchat/internal/models"
)

var (
	ErrSyncInterrupted = errors.New("sync interrupted")
	ErrAlreadyAttached = errors.New("engine already attached")
)

type State int

const (
	Detached State = iota
	Subscribing
	Live
)

func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case Subscribing:
		return "subscribing"
	case Live:
		return "live"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Options struct {
	RetryMin time.Duration
	RetryMax time.Duration
}

func (o Options) withDefaults() Options {
	if o.RetryMin <= 0 {
		o.RetryMin = 250 * time.Millisecond
	}
	if o.RetryMax < o.RetryMin {
		o.RetryMax = 10 * time.Second
		if o.RetryMax < o.RetryMin {
			o.RetryMax = o.RetryMin
		}
	}
	return o
}

type Engine struct {
	log  messagelog.Log
	opts Options

	mu          sync.RWMutex
	state       State
	roomID      string
	gen         uint64
	messages    []models.Message
	index       map[uuid.UUID]int
	interrupted error
	cancel      context.CancelFunc
	done        chan struct{}

	changes chan struct{}
}

func New(log messagelog.Log, opts Options) *Engine {
	return &Engine{
		log:     log,
		opts:    opts.withDefaults(),
		index:   make(map[uuid.UUID]int),
		changes: make(chan struct{}, 1),
	}
}

// Attach opens a subscription to the room and starts applying its snapshots.
// Cancelling ctx does not end the subscription; the view stays attached until
// Detach.
func (e *Engine) Attach(ctx context.Context, roomID string) error {
	e.mu.Lock()
	if e.state != Detached {
		e.mu.Unlock()
		return ErrAlreadyAttached
	}
	e.gen++
	gen := e.gen
	e.state = Subscribing
	e.roomID = roomID
	e.messages = nil
	e.index = make(map[uuid.UUID]int)
	e.interrupted = nil
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	sub, err := e.log.Subscribe(runCtx, roomID)
	if err != nil {
		cancel()
		e.mu.Lock()
		if e.gen == gen {
			e.state = Detached
			e.roomID = ""
		}
		e.mu.Unlock()
		return fmt.Errorf("attach room %s: %w", roomID, err)
	}

	done := make(chan struct{})
	e.mu.Lock()
	if e.gen != gen {
		// Detached while subscribing.
		e.mu.Unlock()
		cancel()
		_ = sub.Close()
		return nil
	}
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	metrics.SyncViews.Inc()
	go e.run(runCtx, gen, roomID, sub, done)

	glog.V(1).Infof("sync: attached to room %s", roomID)
	return nil
}

// Detach releases the subscription. When it returns no snapshot will touch
// the view again.
func (e *Engine) Detach() {
	e.mu.Lock()
	if e.state == Detached {
		e.mu.Unlock()
		return
	}
	e.gen++
	roomID := e.roomID
	cancel, done := e.cancel, e.done
	e.state = Detached
	e.roomID = ""
	e.messages = nil
	e.index = make(map[uuid.UUID]int)
	e.interrupted = nil
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	e.notify()
	glog.V(1).Infof("sync: detached from room %s", roomID)
}

func (e *Engine) run(ctx context.Context, gen uint64, roomID string, sub messagelog.Subscription, done chan struct{}) {
	defer close(done)
	defer metrics.SyncViews.Dec()

	delay := e.opts.RetryMin
	for {
		e.consume(ctx, gen, sub)
		_ = sub.Close()

		if ctx.Err() != nil {
			return
		}

		cause := sub.Err()
		if cause == nil {
			cause = errors.New("subscription ended")
		}
		if !e.markInterrupted(gen, cause) {
			return
		}
		metrics.SyncInterruptions.Inc()
		glog.Warningf("sync: room %s interrupted: %v", roomID, cause)

		for {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}

			next, err := e.log.Subscribe(ctx, roomID)
			if err == nil {
				sub = next
				delay = e.opts.RetryMin
				break
			}
			if ctx.Err() != nil {
				return
			}
			glog.Warningf("sync: room %s reattach failed: %v", roomID, err)
			delay *= 2
			if delay > e.opts.RetryMax {
				delay = e.opts.RetryMax
			}
		}
	}
}

func (e *Engine) consume(ctx context.Context, gen uint64, sub messagelog.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.Snapshots():
			if !ok {
				return
			}
			if !e.apply(gen, snap) {
				return
			}
		}
	}
}

// apply installs a snapshot if gen is still the current attachment. It
// returns false once the engine has moved on.
func (e *Engine) apply(gen uint64, snap messagelog.Snapshot) bool {
	e.mu.Lock()
	if e.gen != gen || e.state == Detached {
		e.mu.Unlock()
		return false
	}

	changed := false
	switch snap.Kind {
	case messagelog.SnapshotFull:
		messages := make([]models.Message, len(snap.Messages))
		index := make(map[uuid.UUID]int, len(snap.Messages))
		for i := range snap.Messages {
			messages[i] = snap.Messages[i].Clone()
			index[messages[i].ID] = i
		}
		e.messages = messages
		e.index = index
		changed = true

	case messagelog.SnapshotReactions:
		for i := range snap.Messages {
			pos, ok := e.index[snap.Messages[i].ID]
			if !ok {
				glog.V(2).Infof("sync: reactions for unknown message %s", snap.Messages[i].ID)
				continue
			}
			e.messages[pos].Reactions = snap.Messages[i].Reactions.Clone()
			changed = true
		}
	}

	if e.state == Subscribing {
		e.state = Live
		changed = true
	}
	if e.interrupted != nil {
		e.interrupted = nil
		changed = true
	}
	e.mu.Unlock()

	if changed {
		e.notify()
	}
	return true
}

func (e *Engine) markInterrupted(gen uint64, cause error) bool {
	e.mu.Lock()
	if e.gen != gen || e.state == Detached {
		e.mu.Unlock()
		return false
	}
	e.state = Subscribing
	e.interrupted = fmt.Errorf("%w: %w", ErrSyncInterrupted, cause)
	e.mu.Unlock()

	e.notify()
	return true
}

func (e *Engine) notify() {
	select {
	case e.changes <- struct{}{}:
	default:
	}
}

// Changes signals after every change to the view or its status. Signals
// coalesce; readers should re-read Messages on each receive.
func (e *Engine) Changes() <-chan struct{} {
	return e.changes
}

func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) RoomID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.roomID
}

// Interrupted returns a non-nil error wrapping ErrSyncInterrupted while the
// engine is reattaching. The last good view stays readable meanwhile.
func (e *Engine) Interrupted() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.interrupted
}

// Messages returns a copy of the view in log order.
func (e *Engine) Messages() []models.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.Message, len(e.messages))
	for i := range e.messages {
		out[i] = e.messages[i].Clone()
	}
	return out
}

func (e *Engine) Message(id uuid.UUID) (models.Message, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pos, ok := e.index[id]
	if !ok {
		return models.Message{}, false
	}
	return e.messages[pos].Clone(), true
}
