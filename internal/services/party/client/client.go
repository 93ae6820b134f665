// Package client keeps one device in sync with its session: it reduces the
// session document to a View and, on the host device, runs the event loop
// while the session is in progress.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	"github.com/louisbranch/questparty/internal/services/party/docstore"
	"github.com/louisbranch/questparty/internal/services/party/domain"
	"github.com/louisbranch/questparty/internal/services/party/events"
)

// Scheduler is the event loop control the host device drives. Running is
// asked on every update since a loop can exit on its own.
type Scheduler interface {
	Start(ctx context.Context, h domain.Handle) error
	Stop(code string)
	Running(code string) bool
}

// Notice is a one-time message for the device, such as the session going
// away.
type Notice struct {
	Code    apperrors.Code
	Message string
}

// Client is the per-device session runtime.
type Client struct {
	h         domain.Handle
	scheduler Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
	sub       docstore.Subscription
	views     chan View
	notices   chan Notice

	mu       sync.Mutex
	current  View
	ready    bool
	notified bool
	closed   bool
}

// Open subscribes to h's session. scheduler may be nil on devices that never
// host.
func Open(ctx context.Context, store docstore.Store, h domain.Handle, scheduler Scheduler) (*Client, error) {
	if err := h.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid session handle", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &Client{
		h:         h,
		scheduler: scheduler,
		ctx:       ctx,
		cancel:    cancel,
		views:     make(chan View, 1),
		notices:   make(chan Notice, 1),
	}
	sub, err := store.Subscribe(ctx, domain.SessionPath(h.Code), c.handle)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe session: %w", err)
	}
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
	return c, nil
}

// Views delivers the latest view; intermediate views may be skipped.
func (c *Client) Views() <-chan View {
	return c.views
}

// Notices delivers one-time notices.
func (c *Client) Notices() <-chan Notice {
	return c.notices
}

// Current returns the latest view and whether one has arrived yet.
func (c *Client) Current() (View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.ready
}

func (c *Client) handle(snap docstore.Snapshot) {
	session, exists, err := domain.DecodeSession(snap)
	if err != nil {
		log.Printf("client: session=%s: %v", c.h.Code, err)
		return
	}
	view := Reduce(c.h, session, exists)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.current = view
	c.ready = true
	select {
	case <-c.views:
	default:
	}
	select {
	case c.views <- view:
	default:
	}

	if !exists {
		c.stopSchedulerLocked()
		if !c.notified {
			c.notified = true
			c.notices <- Notice{Code: apperrors.CodeNotFound, Message: "the session no longer exists"}
		}
		return
	}
	c.syncSchedulerLocked(view)
}

func (c *Client) syncSchedulerLocked(view View) {
	if c.scheduler == nil {
		return
	}
	wantRunning := view.IsHost && view.Status == domain.StatusInProgress
	running := c.scheduler.Running(c.h.Code)
	switch {
	case wantRunning && !running:
		err := c.scheduler.Start(c.ctx, c.h)
		if err != nil && !errors.Is(err, events.ErrAlreadyRunning) {
			log.Printf("client: start event loop session=%s: %v", c.h.Code, err)
		}
	case !wantRunning && running:
		c.scheduler.Stop(c.h.Code)
	}
}

func (c *Client) stopSchedulerLocked() {
	if c.scheduler == nil || !c.scheduler.Running(c.h.Code) {
		return
	}
	c.scheduler.Stop(c.h.Code)
}

// Close ends the subscription and stops the event loop this device runs.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopSchedulerLocked()
	sub := c.sub
	c.mu.Unlock()

	c.cancel()
	if sub != nil {
		return sub.Close()
	}
	return nil
}
