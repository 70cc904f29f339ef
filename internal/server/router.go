package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nestnotes/backend/internal/accounts"
	"github.com/nestnotes/backend/internal/auth"
	"github.com/nestnotes/backend/internal/family"
	"github.com/nestnotes/backend/internal/fault"
	"github.com/nestnotes/backend/internal/notes"
	"github.com/nestnotes/backend/internal/users"
)

const accountContextKey = "nestnotes_account"

var (
	errMissingAccountsStore  = errors.New("accounts store dependency required")
	errMissingUsersService   = errors.New("users service dependency required")
	errMissingFamilyService  = errors.New("family service dependency required")
	errMissingNotesService   = errors.New("notes service dependency required")
	errMissingFoldersService = errors.New("folders service dependency required")
	errMissingTokenValidator = errors.New("token validator dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator turns a bearer token into the session it encodes.
type TokenValidator interface {
	ValidateToken(token string) (auth.Session, error)
}

type Dependencies struct {
	Accounts       *accounts.Store
	Users          *users.Service
	Family         *family.Service
	Notes          *notes.Service
	Folders        *notes.FolderService
	Tokens         TokenValidator
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Accounts == nil {
		return nil, errMissingAccountsStore
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Family == nil {
		return nil, errMissingFamilyService
	}
	if deps.Notes == nil {
		return nil, errMissingNotesService
	}
	if deps.Folders == nil {
		return nil, errMissingFoldersService
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		accounts: deps.Accounts,
		users:    deps.Users,
		family:   deps.Family,
		notes:    deps.Notes,
		folders:  deps.Folders,
		tokens:   deps.Tokens,
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealthz)
	router.POST("/auth/signup", handler.handleSignup)
	router.POST("/auth/signin", handler.handleSignin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/auth/refresh", handler.handleRefresh)
	protected.GET("/auth/me", handler.handleMe)

	familyGroup := protected.Group("/family")
	familyGroup.POST("/generate-code", handler.requireRole(accounts.RoleParent), handler.handleGenerateCode)
	familyGroup.GET("/dashboard", handler.requireRole(accounts.RoleParent), handler.handleDashboard)
	familyGroup.DELETE("/remove-child/:child_id", handler.requireRole(accounts.RoleParent), handler.handleRemoveChild)
	familyGroup.POST("/link-child", handler.requireRole(accounts.RoleParent), handler.handleLinkChild)
	familyGroup.POST("/join-family", handler.requireRole(accounts.RoleChild), handler.handleJoinFamily)
	familyGroup.POST("/leave-family", handler.requireRole(accounts.RoleChild), handler.handleLeaveFamily)
	familyGroup.GET("/my-parent", handler.requireRole(accounts.RoleChild), handler.handleMyParent)

	folderGroup := protected.Group("/folders")
	folderGroup.POST("", handler.requireRole(accounts.RoleChild), handler.handleCreateFolder)
	folderGroup.GET("", handler.handleListFolders)
	folderGroup.GET("/tree", handler.handleFolderTree)
	folderGroup.GET("/:folder_id", handler.handleGetFolder)
	folderGroup.PUT("/:folder_id", handler.handleUpdateFolder)
	folderGroup.DELETE("/:folder_id", handler.handleDeleteFolder)

	noteGroup := protected.Group("/notes")
	noteGroup.POST("", handler.requireRole(accounts.RoleChild), handler.handleCreateNote)
	noteGroup.GET("", handler.handleListNotes)
	noteGroup.GET("/tags/all", handler.handleDistinctTags)
	noteGroup.GET("/by-folder/:folder_id", handler.handleNotesByFolder)
	noteGroup.GET("/by-tag/:tag", handler.handleNotesByTag)
	noteGroup.GET("/:note_id", handler.handleGetNote)
	noteGroup.PUT("/:note_id", handler.handleUpdateNote)
	noteGroup.DELETE("/:note_id", handler.handleDeleteNote)

	return router, nil
}

type httpHandler struct {
	accounts *accounts.Store
	users    *users.Service
	family   *family.Service
	notes    *notes.Service
	folders  *notes.FolderService
	tokens   TokenValidator
	logger   *zap.Logger
}

// corsMiddleware keeps the browser surface open when no origins are
// configured and switches to a credentialed allowlist otherwise.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = allowedOrigins
		corsConfig.AllowCredentials = true
	}
	return cors.New(corsConfig)
}

func (h *httpHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
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
	session, err := h.tokens.ValidateToken(token)
	if err != nil {
		// Expired sessions are routine; anything else hints at tampering.
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	viewer, err := h.accounts.FindByID(c.Request.Context(), session.AccountID)
	if errors.Is(err, accounts.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_missing"})
		return
	}
	if err != nil {
		h.logger.Error("account lookup failed", zap.String("account_id", session.AccountID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "lookup_failed"})
		return
	}
	c.Set(accountContextKey, viewer)
	c.Next()
}

func (h *httpHandler) requireRole(role accounts.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		viewer, ok := viewerFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if viewer.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role_required"})
			return
		}
		c.Next()
	}
}

func viewerFrom(c *gin.Context) (accounts.Record, bool) {
	value, exists := c.Get(accountContextKey)
	if !exists {
		return accounts.Record{}, false
	}
	viewer, ok := value.(accounts.Record)
	return viewer, ok
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	status := statusForKind(fault.KindOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": fault.ReasonOf(err), "code": fault.CodeOf(err)})
}

func statusForKind(kind fault.Kind) int {
	switch kind {
	case fault.Validation:
		return http.StatusBadRequest
	case fault.NotFound:
		return http.StatusNotFound
	case fault.Conflict:
		return http.StatusConflict
	case fault.Unauthorized:
		return http.StatusUnauthorized
	case fault.Forbidden:
		return http.StatusForbidden
	case fault.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type accountPayload struct {
	ID                  string  `json:"id"`
	Email               string  `json:"email"`
	DisplayName         string  `json:"display_name"`
	Role                string  `json:"role"`
	FamilyCode          *string `json:"family_code,omitempty"`
	FamilyCodeExpiresAt *int64  `json:"family_code_expires_at_s,omitempty"`
	ParentID            *string `json:"parent_id,omitempty"`
	CreatedAtSeconds    int64   `json:"created_at_s"`
}

func accountView(record accounts.Record) accountPayload {
	return accountPayload{
		ID:                  record.ID,
		Email:               record.Email,
		DisplayName:         record.DisplayName,
		Role:                string(record.Role),
		FamilyCode:          record.FamilyCode,
		FamilyCodeExpiresAt: record.FamilyCodeExpiresAtSeconds,
		ParentID:            record.ParentID,
		CreatedAtSeconds:    record.CreatedAtSeconds,
	}
}

type signupRequestPayload struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	FamilyCode string `json:"family_code"`
}

type signinRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponsePayload struct {
	AccessToken string         `json:"access_token"`
	ExpiresIn   int64          `json:"expires_in"`
	TokenType   string         `json:"token_type"`
	Account     accountPayload `json:"account"`
}

func tokenResponse(grant users.TokenGrant) tokenResponsePayload {
	return tokenResponsePayload{
		AccessToken: grant.AccessToken,
		ExpiresIn:   grant.ExpiresIn,
		TokenType:   "bearer",
		Account:     accountView(grant.Account),
	}
}

func (h *httpHandler) handleSignup(c *gin.Context) {
	var request signupRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	grant, err := h.users.Register(c.Request.Context(), users.RegisterRequest{
		Email:       request.Email,
		Password:    request.Password,
		DisplayName: request.Name,
		Role:        request.Role,
		FamilyCode:  request.FamilyCode,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tokenResponse(grant))
}

func (h *httpHandler) handleSignin(c *gin.Context) {
	var request signinRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	grant, err := h.users.SignIn(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenResponse(grant))
}

func (h *httpHandler) handleRefresh(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	grant, err := h.users.Refresh(c.Request.Context(), viewer)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenResponse(grant))
}

func (h *httpHandler) handleMe(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": accountView(viewer)})
}
