package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"supportchat/internal/auth"
	"supportchat/internal/models"
	"supportchat/internal/service/chat"
)

// Handler wires HTTP routes to the chat service and the session layer.
type Handler struct {
	chat *chat.Service
	auth *auth.Service
}

// NewHandler constructs a Handler instance.
func NewHandler(chatService *chat.Service, authService *auth.Service) *Handler {
	return &Handler{chat: chatService, auth: authService}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(pageTemplates())

	router.GET("/", h.homePage)
	router.GET("/signup", h.signupPage)
	router.POST("/signup", h.signup)
	router.GET("/login", h.loginPage)
	router.POST("/login", h.login)

	pageMW := h.auth.PageMiddleware("/login")
	router.GET("/logout", pageMW, h.logout)
	router.GET("/dashboard", pageMW, h.dashboardPage)
	router.GET("/admin-dashboard", pageMW, h.requireAdminPage(), h.adminDashboardPage)

	authMW := h.auth.Middleware()
	csrfMW := h.auth.CSRFMiddleware()
	router.POST("/chat", authMW, csrfMW, h.postChat)
	router.GET("/chat/history", authMW, h.chatHistory)

	admin := router.Group("/admin")
	admin.Use(authMW, h.requireAdmin(), csrfMW)
	admin.GET("/requests", h.adminRequests)
	admin.POST("/requests/:id/handle", h.handleRequest)
}

// principal loads the authenticated user row. The middleware already
// validated the session, so a missing row means the account vanished
// underneath the token.
func (h *Handler) principal(c *gin.Context) (*models.User, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID <= 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return nil, false
	}
	user, err := h.chat.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return nil, false
	}
	return user, true
}

// requireAdmin is the authorization gate composed before every admin API
// handler. Non-admins get a JSON 403.
func (h *Handler) requireAdmin() gin.HandlerFunc {
	return h.adminGate(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin privileges required"})
	})
}

// requireAdminPage guards the HTML dashboard with a plain text 403.
func (h *Handler) requireAdminPage() gin.HandlerFunc {
	return h.adminGate(func(c *gin.Context) {
		c.String(http.StatusForbidden, "Unauthorized")
		c.Abort()
	})
}

func (h *Handler) adminGate(forbid gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := h.principal(c)
		if !ok {
			return
		}
		if !user.IsAdmin {
			forbid(c)
			return
		}
		c.Next()
	}
}

// Landing and form pages

func (h *Handler) homePage(c *gin.Context) {
	c.HTML(http.StatusOK, "home.html", gin.H{})
}

func (h *Handler) signupPage(c *gin.Context) {
	if h.auth.HasValidSession(c) {
		c.Redirect(http.StatusSeeOther, "/dashboard")
		return
	}
	c.HTML(http.StatusOK, "signup.html", gin.H{})
}

func (h *Handler) loginPage(c *gin.Context) {
	if h.auth.HasValidSession(c) {
		c.Redirect(http.StatusSeeOther, "/dashboard")
		return
	}
	c.HTML(http.StatusOK, "login.html", gin.H{})
}

type signupForm struct {
	Username string `form:"username"`
	Email    string `form:"email"`
	Password string `form:"password"`
}

func (h *Handler) signup(c *gin.Context) {
	if h.auth.HasValidSession(c) {
		c.Redirect(http.StatusSeeOther, "/dashboard")
		return
	}
	var form signupForm
	if err := c.ShouldBind(&form); err != nil {
		c.HTML(http.StatusBadRequest, "signup.html", gin.H{"Flash": "Invalid form submission."})
		return
	}
	_, err := h.chat.Signup(c.Request.Context(), form.Username, form.Email, form.Password)
	if err != nil {
		if errors.Is(err, chat.ErrUserExists) {
			c.HTML(http.StatusConflict, "signup.html", gin.H{"Flash": "Username or email already exists!"})
			return
		}
		c.HTML(http.StatusBadRequest, "signup.html", gin.H{"Flash": err.Error()})
		return
	}
	c.Redirect(http.StatusSeeOther, "/login")
}

type loginForm struct {
	Email    string `form:"email"`
	Password string `form:"password"`
}

func (h *Handler) login(c *gin.Context) {
	if h.auth.HasValidSession(c) {
		c.Redirect(http.StatusSeeOther, "/dashboard")
		return
	}
	var form loginForm
	if err := c.ShouldBind(&form); err != nil {
		c.HTML(http.StatusBadRequest, "login.html", gin.H{"Flash": "Invalid form submission."})
		return
	}
	user, err := h.chat.Login(c.Request.Context(), form.Email, form.Password)
	if err != nil {
		if errors.Is(err, chat.ErrInvalidCredentials) {
			c.HTML(http.StatusUnauthorized, "login.html", gin.H{"Flash": "Invalid email or password!"})
			return
		}
		c.HTML(http.StatusInternalServerError, "login.html", gin.H{"Flash": "Something went wrong, please retry."})
		return
	}
	sessionToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		c.HTML(http.StatusInternalServerError, "login.html", gin.H{"Flash": "Could not start a session, please retry."})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.HTML(http.StatusInternalServerError, "login.html", gin.H{"Flash": "Could not start a session, please retry."})
		return
	}
	h.setAuthCookies(c, sessionToken, csrfToken)
	c.Redirect(http.StatusSeeOther, "/dashboard")
}

func (h *Handler) logout(c *gin.Context) {
	if sessionToken, ok := auth.SessionTokenFromContext(c); ok {
		_ = h.auth.RevokeToken(c.Request.Context(), sessionToken)
	}
	h.clearAuthCookies(c)
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) dashboardPage(c *gin.Context) {
	user, ok := h.principal(c)
	if !ok {
		return
	}
	c.HTML(http.StatusOK, "dashboard.html", gin.H{"Username": user.Username})
}

func (h *Handler) adminDashboardPage(c *gin.Context) {
	c.HTML(http.StatusOK, "admin_dashboard.html", gin.H{})
}

// Chat endpoints

type chatRequest struct {
	Message string `json:"message"`
}

func (h *Handler) postChat(c *gin.Context) {
	user, ok := h.principal(c)
	if !ok {
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	reply, err := h.chat.PostMessage(c.Request.Context(), user.ID, req.Message)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Empty message"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "done",
		"reply":  reply,
	})
}

type historyEntry struct {
	Sender    models.Sender `json:"sender"`
	Text      string        `json:"text"`
	Timestamp time.Time     `json:"timestamp"`
}

func (h *Handler) chatHistory(c *gin.Context) {
	user, ok := h.principal(c)
	if !ok {
		return
	}
	messages, err := h.chat.History(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	entries := make([]historyEntry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, historyEntry{
			Sender:    m.Sender,
			Text:      m.Text,
			Timestamp: m.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, entries)
}

// Admin endpoints

func (h *Handler) adminRequests(c *gin.Context) {
	pending, err := h.chat.ListPending(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if pending == nil {
		pending = make([]models.PendingRequest, 0)
	}
	c.JSON(http.StatusOK, pending)
}

func (h *Handler) handleRequest(c *gin.Context) {
	// Ids that do not parse to a positive integer cannot name a message,
	// so they get the same 404 as an unknown id.
	messageID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || messageID <= 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	if err := h.chat.Resolve(c.Request.Context(), messageID); err != nil {
		if chat.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Cookie helpers

func (h *Handler) setAuthCookies(c *gin.Context, sessionToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.SessionCookieName(),
		Value:    sessionToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.SessionCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.SessionCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
