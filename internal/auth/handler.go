package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/milearning/milearning/internal/httputil"
	"github.com/milearning/milearning/internal/metrics"
	"github.com/milearning/milearning/internal/storage"
	"github.com/milearning/milearning/internal/validate"
	"go.uber.org/zap"
)

const avatarUploadExpiry = 15 * time.Minute

type contextKey string

const (
	sessionIDKey contextKey = "sessionID"
	userIDKey    contextKey = "userID"
	storeKey     contextKey = "authStore"
)

// AvatarStorage presigns avatar uploads. *storage.Storage satisfies it.
type AvatarStorage interface {
	GenerateUploadURL(ctx context.Context, key string, contentType string, contentLength int64, expiry time.Duration) (string, error)
	PublicURL(key string) string
}

type Handler struct {
	sessions  *Sessions
	jwtSecret string
	log       *zap.Logger
	metrics   *metrics.Metrics
	avatars   AvatarStorage
	now       func() time.Time
}

func NewHandler(sessions *Sessions, jwtSecret string, log *zap.Logger, m *metrics.Metrics) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{sessions: sessions, jwtSecret: jwtSecret, log: log, metrics: m, now: time.Now}
}

func (h *Handler) SetAvatarStorage(a AvatarStorage) {
	h.avatars = a
}

type registerRequest struct {
	Name            string `json:"name"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	AcceptTerms     bool   `json:"acceptTerms"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type updateProfileRequest struct {
	Email       *string      `json:"email"`
	Name        *string      `json:"name"`
	Bio         *string      `json:"bio"`
	AvatarURL   *string      `json:"avatarUrl"`
	Preferences *Preferences `json:"preferences"`
}

type avatarUploadRequest struct {
	ContentType   string `json:"contentType"`
	ContentLength int64  `json:"contentLength"`
}

type avatarUploadResponse struct {
	UploadURL string `json:"uploadUrl"`
	AvatarURL string `json:"avatarUrl"`
}

type sessionResponse struct {
	Token string   `json:"token"`
	User  *Profile `json:"user"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if errs := validate.ValidateRegistration(validate.Registration(req)); !errs.Empty() {
		httputil.WriteFieldErrors(w, errs)
		return
	}

	h.start(w, r, http.StatusCreated, "register", func(s *Store) bool {
		return s.Register(r.Context(), RegisterInput{
			Username: req.Username,
			Password: req.Password,
			Email:    req.Email,
			Name:     req.Name,
		})
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if errs := validate.ValidateLogin(req.Username, req.Password); !errs.Empty() {
		httputil.WriteFieldErrors(w, errs)
		return
	}

	h.start(w, r, http.StatusOK, "login", func(s *Store) bool {
		return s.Login(r.Context(), req.Username, req.Password)
	})
}

// start opens a fresh session, runs op against it and answers with a session token.
func (h *Handler) start(w http.ResponseWriter, r *http.Request, status int, operation string, op func(*Store) bool) {
	sessionID := uuid.NewString()
	store, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		h.log.Error("failed to open session", zap.String("operation", operation), zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to open session")
		return
	}

	ok := op(store)
	h.metrics.AuthAttempt(operation, ok)
	if !ok {
		h.sessions.Drop(sessionID)
		msg := store.Error()
		httputil.WriteError(w, statusForMessage(msg), msg)
		return
	}

	user := store.Current()
	token, err := GenerateSessionToken(h.jwtSecret, user.ID, sessionID, h.now())
	if err != nil {
		h.log.Error("failed to sign session token", zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	httputil.WriteJSON(w, status, sessionResponse{Token: token, User: user})
}

func statusForMessage(msg string) int {
	switch msg {
	case MsgInvalidCredentials, MsgNotAuthenticated:
		return http.StatusUnauthorized
	case MsgUsernameTaken:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	store := StoreFromContext(r.Context())
	if err := store.Logout(r.Context()); err != nil {
		h.log.Warn("logout left session blob behind", zap.Error(err))
	}
	h.sessions.Drop(SessionIDFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user := StoreFromContext(r.Context()).Current()
	if user == nil {
		httputil.WriteError(w, http.StatusUnauthorized, MsgNotAuthenticated)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	errs := validate.Errors{}
	if req.Name != nil {
		if msg := validate.Name(*req.Name); msg != "" {
			errs["name"] = msg
		}
	}
	if req.Email != nil {
		if msg := validate.Email(*req.Email); msg != "" {
			errs["email"] = msg
		}
	}
	if req.Bio != nil {
		if msg := validate.Bio(*req.Bio); msg != "" {
			errs["bio"] = msg
		}
	}
	if !errs.Empty() {
		httputil.WriteFieldErrors(w, errs)
		return
	}

	store := StoreFromContext(r.Context())
	ok := store.UpdateProfile(r.Context(), ProfilePatch{
		Email:       req.Email,
		Name:        req.Name,
		Bio:         req.Bio,
		AvatarURL:   req.AvatarURL,
		Preferences: req.Preferences,
	})
	if !ok {
		msg := store.Error()
		httputil.WriteError(w, statusForMessage(msg), msg)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, store.Current())
}

func (h *Handler) AvatarUpload(w http.ResponseWriter, r *http.Request) {
	if h.avatars == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "avatar uploads are not configured")
		return
	}

	var req avatarUploadRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key, err := storage.AvatarKey(UserIDFromContext(r.Context()), req.ContentType, h.now())
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "avatar must be a PNG, JPEG, WebP or GIF image")
		return
	}

	uploadURL, err := h.avatars.GenerateUploadURL(r.Context(), key, req.ContentType, req.ContentLength, avatarUploadExpiry)
	if errors.Is(err, storage.ErrTooLarge) {
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, "avatar file is too large")
		return
	}
	if err != nil {
		h.log.Error("failed to presign avatar upload", zap.String("key", key), zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create upload URL")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, avatarUploadResponse{UploadURL: uploadURL, AvatarURL: h.avatars.PublicURL(key)})
}

// Middleware rejects requests without a bearer token bound to a logged-in session.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "authorization header required")
			return
		}

		tokenStr, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		ctx, status, msg := h.authenticate(r.Context(), tokenStr)
		if status != 0 {
			httputil.WriteError(w, status, msg)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional attaches the session when a valid bearer token is present and
// otherwise serves the request anonymously.
func (h *Handler) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokenStr, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); found {
			if ctx, status, _ := h.authenticate(r.Context(), tokenStr); status == 0 {
				r = r.WithContext(ctx)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) authenticate(ctx context.Context, tokenStr string) (context.Context, int, string) {
	claims, err := ValidateToken(h.jwtSecret, tokenStr)
	if err != nil {
		return ctx, http.StatusUnauthorized, "invalid token"
	}

	store, err := h.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		h.log.Error("failed to restore session", zap.String("session", claims.SessionID), zap.Error(err))
		return ctx, http.StatusInternalServerError, "failed to restore session"
	}

	user := store.Current()
	if user == nil || user.ID != claims.UserID {
		h.sessions.Drop(claims.SessionID)
		return ctx, http.StatusUnauthorized, "session expired"
	}

	return ContextWithSession(ctx, claims.SessionID, store), 0, ""
}

func SessionIDFromContext(ctx context.Context) string {
	sessionID, _ := ctx.Value(sessionIDKey).(string)
	return sessionID
}

func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

func StoreFromContext(ctx context.Context) *Store {
	store, _ := ctx.Value(storeKey).(*Store)
	return store
}

// ContextWithSession attaches an authenticated session to ctx.
func ContextWithSession(ctx context.Context, sessionID string, store *Store) context.Context {
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	if user := store.Current(); user != nil {
		ctx = context.WithValue(ctx, userIDKey, user.ID)
	}
	return context.WithValue(ctx, storeKey, store)
}
