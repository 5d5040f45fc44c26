package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/vimolabs/vimo/backend/internal/auth"
	"github.com/vimolabs/vimo/backend/internal/notes"
	"github.com/vimolabs/vimo/backend/internal/sessions"
	"github.com/vimolabs/vimo/backend/internal/users"
	"go.uber.org/zap"
)

const userIDContextKey = "vimo_user_id"

var (
	errMissingTokenAuthority  = errors.New("token authority dependency required")
	errMissingUsersService    = errors.New("users service dependency required")
	errMissingSessionsService = errors.New("sessions service dependency required")
	errMissingNotesService    = errors.New("notes service dependency required")
)

// TokenAuthority issues, refreshes, and revokes bearer tokens.
type TokenAuthority interface {
	IssuePair(ctx context.Context, userID string) (auth.TokenPair, error)
	ValidateAccess(token string) (string, error)
	Refresh(ctx context.Context, refreshToken string) (string, int64, error)
	Revoke(ctx context.Context, refreshToken string) error
}

// Dependencies wires the HTTP layer to the domain services.
type Dependencies struct {
	Tokens   TokenAuthority
	Users    *users.Service
	Sessions *sessions.Service
	Notes    *notes.Service
	Logger   *zap.Logger
}

// NewHTTPHandler builds the gin router exposing the Vimo API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenAuthority
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionsService
	}
	if deps.Notes == nil {
		return nil, errMissingNotesService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:          deps.Tokens,
		usersService:    deps.Users,
		sessionsService: deps.Sessions,
		notesService:    deps.Notes,
		logger:          logger,
	}

	router.POST("/register/", handler.handleRegister)
	router.POST("/login/", handler.handleLogin)
	router.POST("/token/refresh/", handler.handleTokenRefresh)
	router.POST("/logout/", handler.handleLogout)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/change-password/", handler.handleChangePassword)
	protected.DELETE("/delete-account/", handler.handleDeleteAccount)
	protected.POST("/vimo/create/", handler.handleCreateSession)
	protected.GET("/vimo/all/", handler.handleLifetimeTotals)
	protected.GET("/vimo/today/", handler.handleTodayTotals)
	protected.GET("/notes/", handler.handleListNotes)
	protected.POST("/notes/", handler.handleCreateNote)
	protected.GET("/notes/:id/", handler.handleGetNote)
	protected.PUT("/notes/:id/", handler.handleUpdateNote)
	protected.PATCH("/notes/:id/", handler.handleUpdateNote)
	protected.DELETE("/notes/:id/", handler.handleDeleteNote)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	tokens          TokenAuthority
	usersService    *users.Service
	sessionsService *sessions.Service
	notesService    *notes.Service
	logger          *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	subject, err := h.tokens.ValidateAccess(token)
	if err != nil {
		h.logger.Info("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

type userPayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type registerRequestPayload struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Password2 string `json:"password2"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.usersService.Register(c.Request.Context(), users.RegisterInput{
		Username:  request.Username,
		Email:     request.Email,
		Password:  request.Password,
		Password2: request.Password2,
	})
	if err != nil {
		h.writeUserError(c, err)
		return
	}

	c.JSON(http.StatusCreated, userPayload{
		ID:       account.ID,
		Username: account.Username,
		Email:    account.Email,
	})
}

type loginRequestPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenPairPayload struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.usersService.Authenticate(c.Request.Context(), request.Username, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}
	if err != nil {
		h.writeUserError(c, err)
		return
	}

	pair, err := h.tokens.IssuePair(c.Request.Context(), account.ID)
	if err != nil {
		h.logger.Error("failed to issue token pair", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenPairPayload{Access: pair.AccessToken, Refresh: pair.RefreshToken})
}

type refreshRequestPayload struct {
	Refresh string `json:"refresh"`
}

func (h *httpHandler) handleTokenRefresh(c *gin.Context) {
	var request refreshRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Refresh) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	access, _, err := h.tokens.Refresh(c.Request.Context(), request.Refresh)
	if err != nil {
		h.logger.Info("refresh rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"access": access})
}

// handleLogout blacklists the refresh token. Every failure collapses to a
// generic 400, matching the reference behavior.
func (h *httpHandler) handleLogout(c *gin.Context) {
	var request refreshRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Refresh) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_token"})
		return
	}

	if err := h.tokens.Revoke(c.Request.Context(), request.Refresh); err != nil {
		h.logger.Info("logout rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_token"})
		return
	}

	c.Status(http.StatusResetContent)
}

type changePasswordRequestPayload struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *httpHandler) handleChangePassword(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request changePasswordRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.usersService.ChangePassword(c.Request.Context(), userID, request.CurrentPassword, request.NewPassword)
	if err != nil {
		h.writeUserError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"detail": "Password changed"})
}

func (h *httpHandler) handleDeleteAccount(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	if err := h.usersService.Delete(c.Request.Context(), userID); err != nil {
		h.writeUserError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type sessionRequestPayload struct {
	FocusTime    int64 `json:"focus_time"`
	BreakTime    int64 `json:"break_time"`
	SessionCount int64 `json:"session"`
	Balance      int64 `json:"balance"`
}

type sessionResponsePayload struct {
	ID           int64     `json:"id"`
	FocusTime    int64     `json:"focus_time"`
	BreakTime    int64     `json:"break_time"`
	SessionCount int64     `json:"session"`
	Balance      int64     `json:"balance"`
	CreatedAt    time.Time `json:"created_at"`
}

func (h *httpHandler) handleCreateSession(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.sessionsService.Create(c.Request.Context(), userID, sessions.CreateInput{
		FocusTime:    request.FocusTime,
		BreakTime:    request.BreakTime,
		SessionCount: request.SessionCount,
		Balance:      request.Balance,
	})
	if err != nil {
		h.writeInternalError(c, "failed to create session", err)
		return
	}

	c.JSON(http.StatusCreated, sessionResponsePayload{
		ID:           record.ID,
		FocusTime:    record.FocusTime,
		BreakTime:    record.BreakTime,
		SessionCount: record.SessionCount,
		Balance:      record.Balance,
		CreatedAt:    record.CreatedAt,
	})
}

func (h *httpHandler) handleLifetimeTotals(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	totals, err := h.sessionsService.LifetimeTotals(c.Request.Context(), userID)
	if err != nil {
		h.writeInternalError(c, "failed to compute lifetime totals", err)
		return
	}

	c.JSON(http.StatusOK, totals)
}

func (h *httpHandler) handleTodayTotals(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	totals, err := h.sessionsService.TodayTotals(c.Request.Context(), userID)
	if err != nil {
		h.writeInternalError(c, "failed to compute today totals", err)
		return
	}

	c.JSON(http.StatusOK, totals)
}

type notePayload struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	ColorIndex int64     `json:"color_index"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func noteToPayload(record notes.Note) notePayload {
	return notePayload{
		ID:         record.ID,
		Title:      record.Title,
		Content:    record.Content,
		ColorIndex: record.ColorIndex,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	records, err := h.notesService.List(c.Request.Context(), userID)
	if err != nil {
		h.writeInternalError(c, "failed to list notes", err)
		return
	}

	response := make([]notePayload, 0, len(records))
	for _, record := range records {
		response = append(response, noteToPayload(record))
	}
	c.JSON(http.StatusOK, response)
}

type noteRequestPayload struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request noteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.Title == nil {
		c.JSON(http.StatusBadRequest, gin.H{"title": "this field is required"})
		return
	}
	if request.Content == nil {
		c.JSON(http.StatusBadRequest, gin.H{"content": "this field is required"})
		return
	}

	record, err := h.notesService.Create(c.Request.Context(), userID, *request.Title, *request.Content)
	if err != nil {
		h.writeNoteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, noteToPayload(*record))
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	noteID, ok := h.noteIDParam(c)
	if !ok {
		return
	}

	record, err := h.notesService.Get(c.Request.Context(), userID, noteID)
	if err != nil {
		h.writeNoteError(c, err)
		return
	}

	c.JSON(http.StatusOK, noteToPayload(*record))
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	noteID, ok := h.noteIDParam(c)
	if !ok {
		return
	}

	var request noteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.notesService.Update(c.Request.Context(), userID, noteID, notes.UpdateInput{
		Title:   request.Title,
		Content: request.Content,
	})
	if err != nil {
		h.writeNoteError(c, err)
		return
	}

	c.JSON(http.StatusOK, noteToPayload(*record))
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	noteID, ok := h.noteIDParam(c)
	if !ok {
		return
	}

	if err := h.notesService.Delete(c.Request.Context(), userID, noteID); err != nil {
		h.writeNoteError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// noteIDParam parses the :id path segment. Non-numeric identifiers map to
// not-found rather than a validation error so probing stays uninformative.
func (h *httpHandler) noteIDParam(c *gin.Context) (int64, bool) {
	raw := strings.TrimSuffix(c.Param("id"), "/")
	noteID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return 0, false
	}
	return noteID, true
}

func (h *httpHandler) writeUserError(c *gin.Context, err error) {
	var fieldErr *users.FieldError
	if errors.As(err, &fieldErr) {
		c.JSON(http.StatusBadRequest, gin.H{fieldErr.Field: fieldErr.Message})
		return
	}
	if errors.Is(err, users.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	h.writeInternalError(c, "users service failed", err)
}

func (h *httpHandler) writeNoteError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, notes.ErrNoteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, notes.ErrInvalidTitle):
		c.JSON(http.StatusBadRequest, gin.H{"title": "title is required and must not exceed 200 characters"})
	case errors.Is(err, notes.ErrInvalidContent):
		c.JSON(http.StatusBadRequest, gin.H{"content": "this field is required"})
	default:
		h.writeInternalError(c, "notes service failed", err)
	}
}

func (h *httpHandler) writeInternalError(c *gin.Context, message string, err error) {
	h.logger.Error(message, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "code": serviceErrorCode(err)})
}

func serviceErrorCode(err error) string {
	var usersErr *users.ServiceError
	if errors.As(err, &usersErr) {
		return usersErr.Code()
	}
	var sessionsErr *sessions.ServiceError
	if errors.As(err, &sessionsErr) {
		return sessionsErr.Code()
	}
	var notesErr *notes.ServiceError
	if errors.As(err, &notesErr) {
		return notesErr.Code()
	}
	return "internal_error"
}
