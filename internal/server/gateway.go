package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/brightlabs/schoolsync/internal/auth"
	"github.com/brightlabs/schoolsync/internal/collab"
)

const (
	actionRequestLock  = "request-lock"
	actionReleaseLock  = "release-lock"
	actionRenewLock    = "renew-lock"
	actionTakeControl  = "take-control"
	actionStartViewing = "start-viewing"
	actionStopViewing  = "stop-viewing"

	messageTypeLockResult = "lock-result"
	messageTypeError      = "error"

	gatewayWriteWait  = 10 * time.Second
	gatewayPongWait   = 60 * time.Second
	gatewayPingPeriod = 54 * time.Second
	sessionSendBuffer = 32
)

var (
	errMissingLockManager     = errors.New("gateway: lock manager required")
	errMissingPresenceManager = errors.New("gateway: presence manager required")
	errMissingDispatcher      = errors.New("gateway: dispatcher required")
	errMissingTokenValidator  = errors.New("gateway: token validator required")
)

// TokenValidator resolves a bearer token to an authenticated principal.
type TokenValidator interface {
	ValidateToken(token string) (auth.Principal, error)
}

// PrincipalResolver looks up the directory record behind a token subject.
// Tokens can outlive a display-name or role change; the gateway consults
// the resolver at session open so broadcasts carry current names.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, userID string) (auth.Principal, error)
}

// GatewayConfig describes the dependencies of the realtime gateway.
// Principals is optional; without it sessions run on the token claims alone.
type GatewayConfig struct {
	Locks      *collab.LockManager
	Presence   *collab.PresenceManager
	Dispatcher *CollabDispatcher
	Tokens     TokenValidator
	Principals PrincipalResolver
	Logger     *zap.Logger
}

// Gateway upgrades admin connections to WebSocket sessions, relays their
// lock and presence requests to the managers, and fans change notifications
// back out. Each connection owns one session; on disconnect every lock and
// viewer entry the session created is released.
type Gateway struct {
	locks      *collab.LockManager
	presence   *collab.PresenceManager
	dispatcher *CollabDispatcher
	tokens     TokenValidator
	principals PrincipalResolver
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

// NewGateway constructs the realtime gateway.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Locks == nil {
		return nil, errMissingLockManager
	}
	if cfg.Presence == nil {
		return nil, errMissingPresenceManager
	}
	if cfg.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	if cfg.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		locks:      cfg.Locks,
		presence:   cfg.Presence,
		dispatcher: cfg.Dispatcher,
		tokens:     cfg.Tokens,
		principals: cfg.Principals,
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

type clientRequest struct {
	Action       string `json:"action"`
	DocumentID   string `json:"documentId"`
	DocumentType string `json:"documentType"`
	Reason       string `json:"reason,omitempty"`
}

type lockPayload struct {
	DocumentID       string    `json:"documentId"`
	DocumentType     string    `json:"documentType"`
	LockedBy         string    `json:"lockedBy"`
	LockedByName     string    `json:"lockedByName"`
	LockedAt         time.Time `json:"lockedAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RemainingSeconds int64     `json:"remainingSeconds"`
}

type viewerPayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type lockResultMessage struct {
	Type         string       `json:"type"`
	DocumentID   string       `json:"documentId"`
	DocumentType string       `json:"documentType"`
	Granted      bool         `json:"granted"`
	Lock         *lockPayload `json:"lock"`
}

type lockUpdateMessage struct {
	Type               string       `json:"type"`
	DocumentID         string       `json:"documentId"`
	DocumentType       string       `json:"documentType"`
	Lock               *lockPayload `json:"lock"`
	DispossessedUserID string       `json:"dispossessedUserId,omitempty"`
	Reason             string       `json:"reason,omitempty"`
}

type presenceUpdateMessage struct {
	Type         string          `json:"type"`
	DocumentID   string          `json:"documentId"`
	DocumentType string          `json:"documentType"`
	Viewers      []viewerPayload `json:"viewers"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newLockPayload(lock collab.Lock, now time.Time) *lockPayload {
	return &lockPayload{
		DocumentID:       lock.Key.ID,
		DocumentType:     string(lock.Key.Type),
		LockedBy:         lock.LockedBy,
		LockedByName:     lock.LockedByName,
		LockedAt:         lock.LockedAt,
		ExpiresAt:        lock.ExpiresAt,
		RemainingSeconds: lock.RemainingSeconds(now),
	}
}

// session is one live connection with its subscriptions and holdings.
type session struct {
	connectionID  string
	principal     auth.Principal
	conn          *websocket.Conn
	replies       chan interface{}
	events        chan BroadcastMessage
	subscriptions map[collab.DocumentKey]func()
	viewing       map[collab.DocumentKey]struct{}
	holding       map[collab.DocumentKey]struct{}
}

// HandleConnection authenticates the request, upgrades it, and runs the
// session until the peer disconnects.
func (g *Gateway) HandleConnection(w http.ResponseWriter, r *http.Request) {
	principal, err := g.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := &session{
		connectionID:  uuid.NewString(),
		principal:     principal,
		conn:          conn,
		replies:       make(chan interface{}, sessionSendBuffer),
		events:        make(chan BroadcastMessage, sessionSendBuffer),
		subscriptions: make(map[collab.DocumentKey]func()),
		viewing:       make(map[collab.DocumentKey]struct{}),
		holding:       make(map[collab.DocumentKey]struct{}),
	}

	g.logger.Info("collaboration session opened",
		zap.String("connection_id", sess.connectionID),
		zap.String("user_id", principal.UserID),
	)

	writerDone := make(chan struct{})
	go g.writePump(sess, writerDone)
	g.readLoop(sess)

	g.cleanupSession(sess)
	close(writerDone)
	_ = conn.Close()

	g.logger.Info("collaboration session closed",
		zap.String("connection_id", sess.connectionID),
		zap.String("user_id", principal.UserID),
	)
}

func (g *Gateway) authenticate(r *http.Request) (auth.Principal, error) {
	token := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return auth.Principal{}, auth.ErrInvalidToken
	}
	principal, err := g.tokens.ValidateToken(token)
	if err != nil {
		return auth.Principal{}, err
	}
	if g.principals != nil {
		resolved, err := g.principals.ResolvePrincipal(r.Context(), principal.UserID)
		if err == nil {
			return resolved, nil
		}
		g.logger.Warn("principal refresh failed, using token claims",
			zap.String("user_id", principal.UserID),
			zap.Error(err),
		)
	}
	return principal, nil
}

func (g *Gateway) readLoop(sess *session) {
	sess.conn.SetReadLimit(4096)
	_ = sess.conn.SetReadDeadline(time.Now().Add(gatewayPongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(gatewayPongWait))
	})

	for {
		var request clientRequest
		if err := sess.conn.ReadJSON(&request); err != nil {
			return
		}
		g.handleRequest(sess, request)
	}
}

func (g *Gateway) writePump(sess *session, done <-chan struct{}) {
	ticker := time.NewTicker(gatewayPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case reply := <-sess.replies:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(gatewayWriteWait))
			if err := sess.conn.WriteJSON(reply); err != nil {
				return
			}
		case event := <-sess.events:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(gatewayWriteWait))
			if err := sess.conn.WriteJSON(g.renderBroadcast(event)); err != nil {
				return
			}
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(gatewayWriteWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (g *Gateway) renderBroadcast(event BroadcastMessage) interface{} {
	switch event.Type {
	case MessageTypePresenceUpdate:
		viewers := make([]viewerPayload, 0, len(event.Viewers))
		for _, viewer := range event.Viewers {
			viewers = append(viewers, viewerPayload{UserID: viewer.UserID, Name: viewer.Name})
		}
		return presenceUpdateMessage{
			Type:         MessageTypePresenceUpdate,
			DocumentID:   event.Key.ID,
			DocumentType: string(event.Key.Type),
			Viewers:      viewers,
		}
	default:
		message := lockUpdateMessage{
			Type:         MessageTypeLockUpdate,
			DocumentID:   event.Key.ID,
			DocumentType: string(event.Key.Type),
			Reason:       event.Reason,
		}
		if event.Lock != nil {
			message.Lock = newLockPayload(*event.Lock, event.Timestamp)
		}
		if event.Dispossessed != nil {
			message.DispossessedUserID = event.Dispossessed.LockedBy
		}
		return message
	}
}

func (g *Gateway) handleRequest(sess *session, request clientRequest) {
	key, err := collab.NewDocumentKey(request.DocumentType, request.DocumentID)
	if err != nil {
		sess.reply(errorMessage{Type: messageTypeError, Message: err.Error()})
		return
	}
	owner := collab.Owner{UserID: sess.principal.UserID, DisplayName: sess.principal.DisplayName}
	ctx := context.Background()

	switch request.Action {
	case actionRequestLock:
		g.subscribe(sess, key)
		outcome, err := g.locks.RequestLock(ctx, key, owner)
		if err != nil {
			sess.reply(errorMessage{Type: messageTypeError, Message: "lock request failed"})
			return
		}
		if outcome.Granted {
			sess.holding[key] = struct{}{}
		}
		sess.reply(lockResultMessage{
			Type:         messageTypeLockResult,
			DocumentID:   key.ID,
			DocumentType: string(key.Type),
			Granted:      outcome.Granted,
			Lock:         newLockPayload(outcome.Lock, time.Now().UTC()),
		})

	case actionReleaseLock:
		if _, err := g.locks.ReleaseLock(ctx, key, owner.UserID); err != nil {
			sess.reply(errorMessage{Type: messageTypeError, Message: "lock release failed"})
			return
		}
		delete(sess.holding, key)

	case actionRenewLock:
		renewed, ok, err := g.locks.Renew(ctx, key, owner.UserID)
		if err != nil {
			sess.reply(errorMessage{Type: messageTypeError, Message: "lock renewal failed"})
			return
		}
		result := lockResultMessage{
			Type:         messageTypeLockResult,
			DocumentID:   key.ID,
			DocumentType: string(key.Type),
			Granted:      ok,
		}
		if ok {
			result.Lock = newLockPayload(renewed, time.Now().UTC())
		}
		sess.reply(result)

	case actionTakeControl:
		if !sess.principal.IsAdmin() {
			sess.reply(errorMessage{Type: messageTypeError, Message: "take-control requires admin role"})
			return
		}
		g.subscribe(sess, key)
		granted, _, err := g.locks.TransferLock(ctx, key, owner)
		if err != nil {
			sess.reply(errorMessage{Type: messageTypeError, Message: "take-control failed"})
			return
		}
		sess.holding[key] = struct{}{}
		sess.reply(lockResultMessage{
			Type:         messageTypeLockResult,
			DocumentID:   key.ID,
			DocumentType: string(key.Type),
			Granted:      true,
			Lock:         newLockPayload(granted, time.Now().UTC()),
		})

	case actionStartViewing:
		g.subscribe(sess, key)
		sess.viewing[key] = struct{}{}
		g.presence.StartViewing(key, collab.Viewer{
			UserID:       sess.principal.UserID,
			Name:         sess.principal.DisplayName,
			ConnectionID: sess.connectionID,
		})

	case actionStopViewing:
		g.presence.StopViewing(key, sess.connectionID)
		delete(sess.viewing, key)
		if _, stillHolding := sess.holding[key]; !stillHolding {
			g.unsubscribe(sess, key)
		}

	default:
		sess.reply(errorMessage{Type: messageTypeError, Message: "unknown action: " + request.Action})
	}
}

func (g *Gateway) subscribe(sess *session, key collab.DocumentKey) {
	if _, ok := sess.subscriptions[key]; ok {
		return
	}
	sess.subscriptions[key] = g.dispatcher.Subscribe(key, sess.events)
}

func (g *Gateway) unsubscribe(sess *session, key collab.DocumentKey) {
	if cancel, ok := sess.subscriptions[key]; ok {
		cancel()
		delete(sess.subscriptions, key)
	}
}

// cleanupSession releases every lock and viewer entry the session owns.
// This is the primary defense against orphaned locks from crashed clients;
// the TTL reaper backstops connections that never signal disconnect.
func (g *Gateway) cleanupSession(sess *session) {
	ctx := context.Background()
	for key := range sess.viewing {
		g.presence.StopViewing(key, sess.connectionID)
	}
	for key := range sess.holding {
		if _, err := g.locks.ReleaseLock(ctx, key, sess.principal.UserID); err != nil {
			g.logger.Warn("disconnect lock release failed",
				zap.String("connection_id", sess.connectionID),
				zap.String("document", key.String()),
				zap.Error(err),
			)
		}
	}
	for _, cancel := range sess.subscriptions {
		cancel()
	}
}

func (s *session) reply(message interface{}) {
	select {
	case s.replies <- message:
	default:
	}
}
