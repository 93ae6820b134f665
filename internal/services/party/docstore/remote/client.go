package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/websocket"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	"github.com/louisbranch/questparty/internal/platform/timeouts"
	"github.com/louisbranch/questparty/internal/services/party/docstore"
)

const defaultOrigin = "http://localhost/"

// Config describes how to reach a document store server.
type Config struct {
	// URL is the WebSocket endpoint, e.g. ws://localhost:8090/ws.
	URL string

	// Token is sent as a bearer token when set.
	Token  string
	Origin string

	// RequestTimeout bounds each request; defaults to timeouts.StoreRequest.
	RequestTimeout time.Duration
	MaxTxnAttempts int
}

// Client implements docstore.Store over a WebSocket connection.
type Client struct {
	conn           *websocket.Conn
	peer           *wsPeer
	requestTimeout time.Duration
	maxAttempts    int

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan wsFrame
	subs    map[string]*clientSub

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ docstore.Store = (*Client)(nil)

// Dial connects to the server and starts reading frames.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("store url is required")
	}
	origin := cfg.Origin
	if origin == "" {
		origin = defaultOrigin
	}
	wsConfig, err := websocket.NewConfig(cfg.URL, origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	if cfg.Token != "" {
		wsConfig.Header = http.Header{}
		wsConfig.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	conn, err := wsConfig.DialContext(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreUnavailable, "dial document store", err)
	}
	return newClient(conn, cfg), nil
}

func newClient(conn *websocket.Conn, cfg Config) *Client {
	c := &Client{
		conn:           conn,
		peer:           newWSPeer(json.NewEncoder(conn)),
		requestTimeout: cfg.RequestTimeout,
		maxAttempts:    cfg.MaxTxnAttempts,
		pending:        make(map[string]chan wsFrame),
		subs:           make(map[string]*clientSub),
		closed:         make(chan struct{}),
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = timeouts.StoreRequest
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = docstore.DefaultMaxTxnAttempts
	}
	go c.readLoop()
	return c
}

// Close closes the connection and every subscription.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.shutdown(errors.New("client closed"))
	return err
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeErr = cause
		subs := c.subs
		c.subs = make(map[string]*clientSub)
		c.mu.Unlock()
		close(c.closed)
		for _, sub := range subs {
			sub.stop()
		}
	})
}

func (c *Client) readLoop() {
	decoder := json.NewDecoder(c.conn)
	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			c.shutdown(err)
			return
		}
		switch frame.Type {
		case typeChanged:
			var payload changedPayload
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				log.Printf("docstore remote: bad change frame: %v", err)
				continue
			}
			c.mu.Lock()
			sub := c.subs[payload.SubscriptionID]
			c.mu.Unlock()
			if sub != nil {
				sub.offer(payload.Snapshot.snapshot())
			}
		case typeResult, typeError:
			c.mu.Lock()
			ch := c.pending[frame.RequestID]
			delete(c.pending, frame.RequestID)
			c.mu.Unlock()
			if ch != nil {
				ch <- frame
			} else if frame.Type == typeError {
				log.Printf("docstore remote: unsolicited error frame: %s", string(frame.Payload))
			}
		}
	}
}

func (c *Client) newID(prefix string) string {
	return prefix + strconv.FormatUint(c.nextID.Add(1), 10)
}

// call sends one request and decodes its result into out.
func (c *Client) call(ctx context.Context, frameType string, payload any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	requestID := c.newID("r")
	reply := make(chan wsFrame, 1)
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return c.unavailable()
	default:
	}
	c.pending[requestID] = reply
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}

	if err := c.peer.writeFrame(wsFrame{Type: frameType, RequestID: requestID, Payload: mustJSON(payload)}); err != nil {
		forget()
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "send "+frameType, err)
	}

	select {
	case frame := <-reply:
		if frame.Type == typeError {
			var envelope wsErrorEnvelope
			if err := json.Unmarshal(frame.Payload, &envelope); err != nil {
				return fmt.Errorf("decode %s error: %w", frameType, err)
			}
			return errorFromWire(envelope.Error)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(frame.Payload, out); err != nil {
			return fmt.Errorf("decode %s result: %w", frameType, err)
		}
		return nil
	case <-c.closed:
		forget()
		return c.unavailable()
	case <-ctx.Done():
		forget()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return apperrors.Wrap(apperrors.CodeStoreTimeout, frameType+" timed out", ctx.Err())
		}
		return ctx.Err()
	}
}

func (c *Client) unavailable() error {
	c.mu.Lock()
	cause := c.closeErr
	c.mu.Unlock()
	return apperrors.Wrap(apperrors.CodeStoreUnavailable, "document store connection closed", cause)
}

// Get implements docstore.Store.
func (c *Client) Get(ctx context.Context, path string) (docstore.Snapshot, error) {
	var out wireSnapshot
	if err := c.call(ctx, typeGet, pathPayload{Path: path}, &out); err != nil {
		return docstore.Snapshot{}, err
	}
	return out.snapshot(), nil
}

// CompareAndSet implements docstore.Versioned.
func (c *Client) CompareAndSet(ctx context.Context, path string, version int64, next any) (bool, docstore.Snapshot, error) {
	normalized, err := docstore.Normalize(next)
	if err != nil {
		return false, docstore.Snapshot{}, err
	}
	var out casResult
	if err := c.call(ctx, typeCAS, casPayload{Path: path, Version: version, Value: normalized}, &out); err != nil {
		return false, docstore.Snapshot{}, err
	}
	return out.OK, out.Snapshot.snapshot(), nil
}

// Merge implements docstore.Store.
func (c *Client) Merge(ctx context.Context, path string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return c.call(ctx, typeMerge, mergePayload{Path: path, Fields: fields}, nil)
}

// Transaction implements docstore.Store with the optimistic loop running on
// this side of the connection.
func (c *Client) Transaction(ctx context.Context, path string, fn docstore.UpdateFunc) (docstore.TxnResult, error) {
	return docstore.RunTransaction(ctx, c, path, c.maxAttempts, fn)
}

// Delete implements docstore.Store.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.call(ctx, typeDelete, pathPayload{Path: path}, nil)
}

// Subscribe implements docstore.Store. Listeners run on their own goroutine
// so they may call back into the client.
func (c *Client) Subscribe(ctx context.Context, path string, fn func(docstore.Snapshot)) (docstore.Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("subscribe %s: listener is required", path)
	}
	subID := c.newID("s")
	sub := newClientSub(c, subID, fn)

	c.mu.Lock()
	c.subs[subID] = sub
	c.mu.Unlock()

	if err := c.call(ctx, typeSubscribe, subscribePayload{Path: path, SubscriptionID: subID}, nil); err != nil {
		c.mu.Lock()
		delete(c.subs, subID)
		c.mu.Unlock()
		sub.stop()
		return nil, err
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

type clientSub struct {
	client *Client
	id     string
	fn     func(docstore.Snapshot)

	mu      sync.Mutex
	latest  docstore.Snapshot
	pending bool

	kick     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newClientSub(client *Client, id string, fn func(docstore.Snapshot)) *clientSub {
	sub := &clientSub{
		client: client,
		id:     id,
		fn:     fn,
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go sub.run()
	return sub
}

// offer records snap as the latest value; a slow listener only sees the
// most recent one.
func (s *clientSub) offer(snap docstore.Snapshot) {
	s.mu.Lock()
	s.latest = snap
	s.pending = true
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *clientSub) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.kick:
		}
		s.mu.Lock()
		snap, ok := s.latest, s.pending
		s.pending = false
		s.mu.Unlock()
		if ok {
			s.fn(snap)
		}
	}
}

func (s *clientSub) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Close unsubscribes on the server and stops delivery.
func (s *clientSub) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	s.stop()
	s.client.mu.Lock()
	delete(s.client.subs, s.id)
	s.client.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.client.requestTimeout)
	defer cancel()
	err := s.client.call(ctx, typeUnsubscribe, unsubscribePayload{SubscriptionID: s.id}, nil)
	if apperrors.IsCode(err, apperrors.CodeStoreUnavailable) {
		return nil
	}
	return err
}
