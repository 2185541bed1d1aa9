package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/brightlabs/schoolsync/internal/auth"
	"github.com/brightlabs/schoolsync/internal/collab"
	"github.com/brightlabs/schoolsync/internal/database"
	"github.com/brightlabs/schoolsync/internal/documents"
	"github.com/brightlabs/schoolsync/internal/identity"
	"github.com/brightlabs/schoolsync/internal/server"
)

const (
	signingSecret   = "integration-secret"
	editorEmail     = "ada@example.edu"
	editorPassword  = "ada-password"
	adminEmail      = "root@example.edu"
	adminPassword   = "root-password"
	documentID      = "cs-integration"
	jsonContentType = "application/json"
)

type wireMessage struct {
	Type               string `json:"type"`
	DocumentID         string `json:"documentId"`
	Granted            bool   `json:"granted"`
	DispossessedUserID string `json:"dispossessedUserId"`
	Reason             string `json:"reason"`
	Lock               *struct {
		LockedBy         string `json:"lockedBy"`
		LockedByName     string `json:"lockedByName"`
		RemainingSeconds int64  `json:"remainingSeconds"`
	} `json:"lock"`
}

func TestCollaborationFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(testContext.TempDir(), "integration.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	tokens := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(signingSecret),
		Issuer:        "schoolsync-auth",
		Audience:      "schoolsync-api",
		TokenTTL:      time.Hour,
	})
	identityService, err := identity.NewService(identity.ServiceConfig{Database: db})
	if err != nil {
		testContext.Fatalf("failed to build identity service: %v", err)
	}
	documentsService, err := documents.NewService(documents.ServiceConfig{Database: db, Logger: zap.NewNop()})
	if err != nil {
		testContext.Fatalf("failed to build documents service: %v", err)
	}

	dispatcher := server.NewCollabDispatcher()
	locks, err := collab.NewLockManager(collab.LockManagerConfig{
		Store:       collab.NewMemoryLockStore(),
		Broadcaster: dispatcher,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build lock manager: %v", err)
	}
	presence := collab.NewPresenceManager(collab.PresenceManagerConfig{Broadcaster: dispatcher, Logger: zap.NewNop()})
	gateway, err := server.NewGateway(server.GatewayConfig{
		Locks:      locks,
		Presence:   presence,
		Dispatcher: dispatcher,
		Tokens:     tokens,
		Principals: identityService,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build gateway: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:    tokens,
		Identity:  identityService,
		Documents: documentsService,
		Locks:     locks,
		Presence:  presence,
		Gateway:   gateway,
		Logger:    zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	seedAccount(testContext, identityService, "user-a", editorEmail, "Ada", auth.RoleEditor, editorPassword)
	seedAccount(testContext, identityService, "admin-1", adminEmail, "Root", auth.RoleAdmin, adminPassword)

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	editorToken := mustLogin(testContext, testServer.URL, editorEmail, editorPassword)
	adminToken := mustLogin(testContext, testServer.URL, adminEmail, adminPassword)

	editorConn := mustDialGateway(testContext, testServer.URL, editorToken)
	defer editorConn.Close()

	// Editor acquires the lock over the WebSocket session.
	mustWriteAction(testContext, editorConn, "request-lock", documentID)
	granted := mustAwait(testContext, editorConn, "lock-result")
	if !granted.Granted || granted.Lock == nil || granted.Lock.LockedBy != "user-a" {
		testContext.Fatalf("expected editor grant, got %#v", granted)
	}
	if granted.Lock.RemainingSeconds <= 0 {
		testContext.Fatalf("expected positive countdown, got %d", granted.Lock.RemainingSeconds)
	}

	// The REST surface reports the same hold.
	lockState := mustGetJSON(testContext, testServer.URL+"/collaboration/locks/case_study/"+documentID, editorToken)
	lockNode, ok := lockState["lock"].(map[string]any)
	if !ok {
		testContext.Fatalf("expected lock payload, got %#v", lockState["lock"])
	}
	if lockNode["lockedBy"] != "user-a" {
		testContext.Fatalf("unexpected lock holder: %#v", lockNode)
	}

	// Admin breaks the lock over HTTP.
	forceBody, _ := json.Marshal(map[string]string{
		"documentType": "case_study",
		"documentId":   documentID,
		"reason":       "editor stepped away",
	})
	forceReq, _ := http.NewRequest(http.MethodPost, testServer.URL+"/collaboration/locks/force-unlock", bytes.NewReader(forceBody))
	forceReq.Header.Set("Content-Type", jsonContentType)
	forceReq.Header.Set("Authorization", "Bearer "+adminToken)
	forceResp, err := http.DefaultClient.Do(forceReq)
	if err != nil {
		testContext.Fatalf("force-unlock request failed: %v", err)
	}
	defer forceResp.Body.Close()
	if forceResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected force-unlock status: %d", forceResp.StatusCode)
	}
	var forceResult struct {
		Success     bool `json:"success"`
		LockRemoved bool `json:"lock_removed"`
	}
	if err := json.NewDecoder(forceResp.Body).Decode(&forceResult); err != nil {
		testContext.Fatalf("failed to decode force-unlock response: %v", err)
	}
	if !forceResult.Success || !forceResult.LockRemoved {
		testContext.Fatalf("expected lock removal, got %#v", forceResult)
	}

	// The dispossessed editor hears about it on the open socket.
	update := mustAwait(testContext, editorConn, "lock-update")
	for update.Lock != nil {
		update = mustAwait(testContext, editorConn, "lock-update")
	}
	if update.DispossessedUserID != "user-a" {
		testContext.Fatalf("expected dispossession notice, got %#v", update)
	}
	if update.Reason != "editor stepped away" {
		testContext.Fatalf("expected the admin reason, got %q", update.Reason)
	}

	// The freed document is immediately lockable again.
	mustWriteAction(testContext, editorConn, "request-lock", documentID)
	regained := mustAwait(testContext, editorConn, "lock-result")
	if !regained.Granted {
		testContext.Fatalf("expected re-acquisition after force-unlock, got %#v", regained)
	}
}

func seedAccount(testContext *testing.T, service *identity.Service, userID, email, name, role, password string) {
	testContext.Helper()
	err := service.Register(context.Background(), identity.Account{
		UserID:      userID,
		Email:       email,
		DisplayName: name,
		Role:        role,
	}, password)
	if err != nil {
		testContext.Fatalf("failed to seed account %s: %v", userID, err)
	}
}

func mustLogin(testContext *testing.T, baseURL, email, password string) string {
	testContext.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	response, err := http.Post(baseURL+"/auth/login", jsonContentType, bytes.NewReader(body))
	if err != nil {
		testContext.Fatalf("login request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected login status: %d", response.StatusCode)
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		testContext.Fatalf("failed to decode login response: %v", err)
	}
	if payload.AccessToken == "" {
		testContext.Fatalf("empty access token")
	}
	return payload.AccessToken
}

func mustDialGateway(testContext *testing.T, baseURL, token string) *websocket.Conn {
	testContext.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/collaboration/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		testContext.Fatalf("websocket dial failed: %v", err)
	}
	return conn
}

func mustWriteAction(testContext *testing.T, conn *websocket.Conn, action, docID string) {
	testContext.Helper()
	request := map[string]string{"action": action, "documentType": "case_study", "documentId": docID}
	if err := conn.WriteJSON(request); err != nil {
		testContext.Fatalf("websocket write failed: %v", err)
	}
}

func mustAwait(testContext *testing.T, conn *websocket.Conn, wanted string) wireMessage {
	testContext.Helper()
	deadline := time.Now().Add(3 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var message wireMessage
		if err := conn.ReadJSON(&message); err != nil {
			testContext.Fatalf("websocket read failed while waiting for %s: %v", wanted, err)
		}
		if message.Type == wanted {
			return message
		}
	}
	testContext.Fatalf("no %s message arrived", wanted)
	return wireMessage{}
}

func mustGetJSON(testContext *testing.T, url, token string) map[string]any {
	testContext.Helper()
	request, _ := http.NewRequest(http.MethodGet, url, nil)
	request.Header.Set("Authorization", "Bearer "+token)
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected status for %s: %d", url, response.StatusCode)
	}
	var payload map[string]any
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		testContext.Fatalf("failed to decode response: %v", err)
	}
	return payload
}
