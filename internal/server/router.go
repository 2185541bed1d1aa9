package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/brightlabs/schoolsync/internal/auth"
	"github.com/brightlabs/schoolsync/internal/collab"
	"github.com/brightlabs/schoolsync/internal/documents"
	"github.com/brightlabs/schoolsync/internal/identity"
)

const principalContextKey = "schoolsync_principal"

var (
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingIdentityService  = errors.New("identity service dependency required")
	errMissingDocumentsService = errors.New("documents service dependency required")
	errMissingLockManagerDep   = errors.New("lock manager dependency required")
	errMissingPresenceDep      = errors.New("presence manager dependency required")
	errMissingGateway          = errors.New("gateway dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// Dependencies lists the collaborators the HTTP handler is built from.
type Dependencies struct {
	Tokens    *auth.TokenIssuer
	Identity  *identity.Service
	Documents *documents.Service
	Locks     *collab.LockManager
	Presence  *collab.PresenceManager
	Gateway   *Gateway
	Registry  *prometheus.Registry
	Logger    *zap.Logger
}

// NewHTTPHandler assembles the admin API router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.Identity == nil {
		return nil, errMissingIdentityService
	}
	if deps.Documents == nil {
		return nil, errMissingDocumentsService
	}
	if deps.Locks == nil {
		return nil, errMissingLockManagerDep
	}
	if deps.Presence == nil {
		return nil, errMissingPresenceDep
	}
	if deps.Gateway == nil {
		return nil, errMissingGateway
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:    deps.Tokens,
		identity:  deps.Identity,
		documents: deps.Documents,
		locks:     deps.Locks,
		presence:  deps.Presence,
		logger:    logger,
	}

	router.POST("/auth/login", handler.handleLogin)

	// The gateway authenticates the connection itself so browser clients can
	// pass the token as a query parameter during the WebSocket handshake.
	router.GET("/collaboration/ws", func(c *gin.Context) {
		deps.Gateway.HandleConnection(c.Writer, c.Request)
	})

	if deps.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/collaboration/locks/force-unlock", handler.handleForceUnlock)
	protected.GET("/collaboration/locks/:documentType/:documentId", handler.handleGetLock)
	protected.GET("/collaboration/presence/:documentType/:documentId", handler.handleGetPresence)

	protected.GET("/case-studies", handler.handleListCaseStudies)
	protected.GET("/case-studies/:id", handler.handleGetCaseStudy)
	protected.POST("/case-studies", handler.handleSaveCaseStudy)
	protected.DELETE("/case-studies/:id", handler.handleDeleteCaseStudy)

	protected.GET("/events", handler.handleListEvents)
	protected.GET("/events/:id", handler.handleGetEvent)
	protected.POST("/events", handler.handleSaveEvent)
	protected.DELETE("/events/:id", handler.handleDeleteEvent)

	protected.GET("/schools", handler.handleListSchools)
	protected.GET("/resources", handler.handleListResources)

	return router, nil
}

type httpHandler struct {
	tokens    *auth.TokenIssuer
	identity  *identity.Service
	documents *documents.Service
	locks     *collab.LockManager
	presence  *collab.PresenceManager
	logger    *zap.Logger
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	principal, err := h.identity.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownAccount) || errors.Is(err, identity.ErrBadCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), principal)
	if err != nil {
		h.logger.Error("failed to issue access token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		DisplayName: principal.DisplayName,
		Role:        principal.Role,
	})
}

type forceUnlockPayload struct {
	DocumentID   string `json:"documentId"`
	DocumentType string `json:"documentType"`
	Reason       string `json:"reason,omitempty"`
}

func (h *httpHandler) handleForceUnlock(c *gin.Context) {
	principal := h.requirePrincipal(c)
	if principal == nil {
		return
	}
	if !principal.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin_required"})
		return
	}

	var request forceUnlockPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	key, err := collab.NewDocumentKey(request.DocumentType, request.DocumentID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_key"})
		return
	}

	removed, err := h.locks.ForceUnlock(c.Request.Context(), key, principal.UserID, request.Reason)
	if err != nil {
		h.logger.Error("force unlock failed", zap.Error(err), zap.String("document", key.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "force_unlock_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "lock_removed": removed})
}

func (h *httpHandler) handleGetLock(c *gin.Context) {
	key, ok := h.documentKeyFromPath(c)
	if !ok {
		return
	}
	lock, found, err := h.locks.GetLock(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lock_lookup_failed"})
		return
	}
	if !found {
		c.JSON(http.StatusOK, gin.H{"lock": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"lock": newLockPayload(lock, time.Now().UTC())})
}

func (h *httpHandler) handleGetPresence(c *gin.Context) {
	key, ok := h.documentKeyFromPath(c)
	if !ok {
		return
	}
	viewers := h.presence.Viewers(key)
	payload := make([]viewerPayload, 0, len(viewers))
	for _, viewer := range viewers {
		payload = append(payload, viewerPayload{UserID: viewer.UserID, Name: viewer.Name})
	}
	c.JSON(http.StatusOK, gin.H{"viewers": payload})
}

func (h *httpHandler) handleListCaseStudies(c *gin.Context) {
	records, err := h.documents.ListCaseStudies(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"case_studies": records})
}

func (h *httpHandler) handleGetCaseStudy(c *gin.Context) {
	id, ok := h.documentIDFromPath(c)
	if !ok {
		return
	}
	record, err := h.documents.GetCaseStudy(c.Request.Context(), id)
	if errors.Is(err, documents.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *httpHandler) handleSaveCaseStudy(c *gin.Context) {
	principal := h.requirePrincipal(c)
	if principal == nil {
		return
	}
	var record documents.CaseStudy
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	record.UpdatedBy = principal.UserID
	saved, err := h.documents.SaveCaseStudy(c.Request.Context(), record)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "save_failed"})
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *httpHandler) handleDeleteCaseStudy(c *gin.Context) {
	principal := h.requirePrincipal(c)
	if principal == nil {
		return
	}
	id, ok := h.documentIDFromPath(c)
	if !ok {
		return
	}
	if err := h.documents.DeleteCaseStudy(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	// A deleted record cannot stay locked; watchers learn via the broadcast.
	key := collab.DocumentKey{Type: collab.DocumentTypeCaseStudy, ID: id.String()}
	_, _ = h.locks.ForceUnlock(c.Request.Context(), key, principal.UserID, "record deleted")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleListEvents(c *gin.Context) {
	records, err := h.documents.ListEvents(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": records})
}

func (h *httpHandler) handleGetEvent(c *gin.Context) {
	id, ok := h.documentIDFromPath(c)
	if !ok {
		return
	}
	record, err := h.documents.GetEvent(c.Request.Context(), id)
	if errors.Is(err, documents.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *httpHandler) handleSaveEvent(c *gin.Context) {
	principal := h.requirePrincipal(c)
	if principal == nil {
		return
	}
	var record documents.Event
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	record.UpdatedBy = principal.UserID
	saved, err := h.documents.SaveEvent(c.Request.Context(), record)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "save_failed"})
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *httpHandler) handleDeleteEvent(c *gin.Context) {
	principal := h.requirePrincipal(c)
	if principal == nil {
		return
	}
	id, ok := h.documentIDFromPath(c)
	if !ok {
		return
	}
	if err := h.documents.DeleteEvent(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	key := collab.DocumentKey{Type: collab.DocumentTypeEvent, ID: id.String()}
	_, _ = h.locks.ForceUnlock(c.Request.Context(), key, principal.UserID, "record deleted")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleListSchools(c *gin.Context) {
	records, err := h.documents.ListSchools(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"schools": records})
}

func (h *httpHandler) handleListResources(c *gin.Context) {
	records, err := h.documents.ListResources(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resources": records})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	principal, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(principalContextKey, principal)
	c.Next()
}

func (h *httpHandler) requirePrincipal(c *gin.Context) *auth.Principal {
	value, ok := c.Get(principalContextKey)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil
	}
	principal, ok := value.(auth.Principal)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil
	}
	return &principal
}

func (h *httpHandler) documentKeyFromPath(c *gin.Context) (collab.DocumentKey, bool) {
	key, err := collab.NewDocumentKey(c.Param("documentType"), c.Param("documentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_key"})
		return collab.DocumentKey{}, false
	}
	return key, true
}

func (h *httpHandler) documentIDFromPath(c *gin.Context) (documents.DocumentID, bool) {
	id, err := documents.NewDocumentID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_id"})
		return "", false
	}
	return id, true
}
