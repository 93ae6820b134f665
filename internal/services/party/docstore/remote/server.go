package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	"github.com/louisbranch/questparty/internal/platform/requestctx"
	"github.com/louisbranch/questparty/internal/platform/timeouts"
	"github.com/louisbranch/questparty/internal/services/party/docstore"
)

const (
	maxFramePayloadBytes    = 64 * 1024
	maxFramesPerSecond      = 100
	maxDecodeErrorsPerConn  = 3
	maxSubscriptionsPerConn = 64
)

// Backing is the store surface served to remote clients.
type Backing interface {
	docstore.Store
	docstore.Versioned
}

// Authenticator resolves a bearer token into a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// NewHandler serves the document protocol on a WebSocket endpoint. A nil
// authenticator accepts every connection.
func NewHandler(store Backing, authenticator Authenticator) http.Handler {
	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, store)
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if authenticator != nil {
			token := bearerToken(r)
			if token == "" {
				log.Printf("docstore remote: unauthorized: missing token remote=%s", r.RemoteAddr)
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			userID, err := authenticator.Authenticate(r.Context(), token)
			if err != nil || strings.TrimSpace(userID) == "" {
				log.Printf("docstore remote: unauthorized remote=%s err=%v", r.RemoteAddr, err)
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			r = r.WithContext(requestctx.WithUID(r.Context(), strings.TrimSpace(userID)))
		}
		wsHandler.ServeHTTP(w, r)
	})
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter for browsers that cannot set WebSocket headers.
func bearerToken(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

type wsSession struct {
	userID string
	peer   *wsPeer
	store  Backing

	mu   sync.Mutex
	subs map[string]docstore.Subscription
}

func (s *wsSession) closeSubscriptions() {
	s.mu.Lock()
	subs := s.subs
	s.subs = map[string]docstore.Subscription{}
	s.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
}

func handleWSConn(conn *websocket.Conn, store Backing) {
	defer func() {
		_ = conn.Close()
	}()

	ctx := context.Background()
	userID := "anonymous"
	if request := conn.Request(); request != nil {
		ctx = request.Context()
		if resolved := requestctx.UIDFromContext(ctx); resolved != "" {
			userID = resolved
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	decoder := json.NewDecoder(conn)
	session := &wsSession{
		userID: userID,
		peer:   newWSPeer(json.NewEncoder(conn)),
		store:  store,
		subs:   map[string]docstore.Subscription{},
	}
	defer session.closeSubscriptions()

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(session.peer, "", apperrors.CodeInvalidArgument, "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeInvalidArgument, "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeStoreUnavailable, "rate limit exceeded")
			return
		}

		handleFrame(ctx, session, frame)
	}
}

func handleFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	if strings.TrimSpace(frame.RequestID) == "" {
		_ = writeWSError(session.peer, "", apperrors.CodeInvalidArgument, "request_id is required")
		return
	}
	switch frame.Type {
	case typeGet:
		handleGetFrame(ctx, session, frame)
	case typeMerge:
		handleMergeFrame(ctx, session, frame)
	case typeCAS:
		handleCASFrame(ctx, session, frame)
	case typeDelete:
		handleDeleteFrame(ctx, session, frame)
	case typeSubscribe:
		handleSubscribeFrame(ctx, session, frame)
	case typeUnsubscribe:
		handleUnsubscribeFrame(session, frame)
	default:
		_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeInvalidArgument, "unsupported frame type")
	}
}

func requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeouts.StoreRequest)
}

func handleGetFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	var payload pathPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeInvalidArgument, "invalid get payload")
		return
	}
	ctx, cancel := requestContext(ctx)
	defer cancel()
	snap, err := session.store.Get(ctx, payload.Path)
	if err != nil {
		writeStoreError(session, frame, err)
		return
	}
	writeResult(session, frame, toWire(snap))
}

func handleMergeFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	var payload mergePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeInvalidArgument, "invalid merge payload")
		return
	}
	ctx, cancel := requestContext(ctx)
	defer cancel()
	if err := session.store.Merge(ctx, payload.Path, payload.Fields); err != nil {
		writeStoreError(session, frame, err)
		return
	}
	writeResult(session, frame, struct{}{})
}

func handleCASFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	var payload casPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeInvalidArgument, "invalid cas payload")
		return
	}
	ctx, cancel := requestContext(ctx)
	defer cancel()
	ok, snap, err := session.store.CompareAndSet(ctx, payload.Path, payload.Version, payload.Value)
	if err != nil {
		writeStoreError(session, frame, err)
		return
	}
	writeResult(session, frame, casResult{OK: ok, Snapshot: toWire(snap)})
}

func handleDeleteFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	var payload pathPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeInvalidArgument, "invalid delete payload")
		return
	}
	ctx, cancel := requestContext(ctx)
	defer cancel()
	if err := session.store.Delete(ctx, payload.Path); err != nil {
		writeStoreError(session, frame, err)
		return
	}
	writeResult(session, frame, struct{}{})
}

func handleSubscribeFrame(ctx context.Context, session *wsSession, frame wsFrame) {
	var payload subscribePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeInvalidArgument, "invalid subscribe payload")
		return
	}
	subID := strings.TrimSpace(payload.SubscriptionID)
	if subID == "" {
		_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeInvalidArgument, "subscription_id is required")
		return
	}

	session.mu.Lock()
	_, duplicate := session.subs[subID]
	count := len(session.subs)
	session.mu.Unlock()
	if duplicate {
		_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeInvalidArgument, "subscription_id already in use")
		return
	}
	if count >= maxSubscriptionsPerConn {
		_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeInvalidArgument, "too many subscriptions")
		return
	}

	sub, err := session.store.Subscribe(ctx, payload.Path, func(snap docstore.Snapshot) {
		_ = session.peer.writeFrame(wsFrame{
			Type:    typeChanged,
			Payload: mustJSON(changedPayload{SubscriptionID: subID, Snapshot: toWire(snap)}),
		})
	})
	if err != nil {
		writeStoreError(session, frame, err)
		return
	}
	session.mu.Lock()
	session.subs[subID] = sub
	session.mu.Unlock()
	writeResult(session, frame, struct{}{})
}

func handleUnsubscribeFrame(session *wsSession, frame wsFrame) {
	var payload unsubscribePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(session.peer, frame.RequestID, apperrors.CodeInvalidArgument, "invalid unsubscribe payload")
		return
	}
	session.mu.Lock()
	sub, ok := session.subs[payload.SubscriptionID]
	delete(session.subs, payload.SubscriptionID)
	session.mu.Unlock()
	if ok {
		_ = sub.Close()
	}
	writeResult(session, frame, struct{}{})
}

func writeResult(session *wsSession, frame wsFrame, payload any) {
	_ = session.peer.writeFrame(wsFrame{
		Type:      typeResult,
		RequestID: frame.RequestID,
		Payload:   mustJSON(payload),
	})
}

func writeStoreError(session *wsSession, frame wsFrame, err error) {
	code := apperrors.CodeOf(err)
	message := "internal error"
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) && domainErr.Message != "" {
		message = domainErr.Message
	}
	if code == apperrors.CodeUnknown {
		log.Printf("docstore remote: %s failed user=%s request=%s: %v", frame.Type, session.userID, frame.RequestID, err)
	}
	_ = writeWSError(session.peer, frame.RequestID, code, message)
}

func writeWSError(peer *wsPeer, requestID string, code apperrors.Code, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      typeError,
		RequestID: requestID,
		Payload: mustJSON(wsErrorEnvelope{
			Error: wsError{
				Code:      string(code),
				Message:   message,
				Retryable: code.Retryable(),
			},
		}),
	})
}
