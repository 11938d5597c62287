package identity

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/mailloop/mailloop/internal/pkg/httputil"
	"github.com/mailloop/mailloop/internal/ratelimit"
	"github.com/mailloop/mailloop/internal/subscribers"
	"github.com/mailloop/mailloop/internal/token"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: token.ErrTokenExpired, Status: http.StatusUnauthorized, Message: "token has expired"},
	{Error: token.ErrTokenMalformed, Status: http.StatusUnauthorized, Message: "invalid token"},
	{Error: token.ErrWrongTokenType, Status: http.StatusUnauthorized, Message: "invalid token"},
	{Error: ErrLinkInvalid, Status: http.StatusUnauthorized, Message: "magic link is invalid or has already been used"},
	{Error: subscribers.ErrInvalidStateTransition, Status: http.StatusBadRequest},
}

// CookieSettings contains settings for the session cookie.
type CookieSettings struct {
	Secure bool
	Domain string
}

// Handler handles HTTP requests for the identity module.
type Handler struct {
	service        *Service
	validator      *validator.Validate
	cookieSettings CookieSettings
	signinLimiter  ratelimit.Limiter
}

// NewHandler creates a new identity handler. The limiter throttles magic
// link requests per email address; nil disables throttling.
func NewHandler(service *Service, cookieSettings CookieSettings, signinLimiter ratelimit.Limiter) *Handler {
	return &Handler{
		service:        service,
		validator:      validator.New(),
		cookieSettings: cookieSettings,
		signinLimiter:  signinLimiter,
	}
}

// RegisterRoutes registers identity routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signin", h.SignIn)
		r.Post("/verify", h.VerifyMagicLink)
		r.Post("/signout", h.SignOut)
	})
}

// SignInRequest represents the sign-in request body.
type SignInRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// SignIn handles POST /auth/signin. It responds 202 whether or not the
// email belongs to a subscriber.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if h.signinLimiter != nil && !h.signinLimiter.Allow(req.Email) {
		httputil.Error(w, http.StatusTooManyRequests, "too many sign-in attempts, try again later")
		return
	}

	if err := h.service.SignIn(r.Context(), req.Email); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"message": "if the address is subscribed, a sign-in link is on its way",
	})
}

// VerifyRequest represents the magic-link verification body.
type VerifyRequest struct {
	Token string `json:"token" validate:"required"`
}

// VerifyResponse represents a successful verification.
type VerifyResponse struct {
	Success      bool                       `json:"success"`
	SessionToken string                     `json:"session_token"`
	Subscriber   subscribers.SubscriberView `json:"subscriber"`
}

// VerifyMagicLink handles POST /auth/verify.
func (h *Handler) VerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	sub, session, err := h.service.VerifyMagicLink(r.Context(), req.Token)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	h.setSessionCookie(w, session)

	httputil.JSON(w, http.StatusOK, VerifyResponse{
		Success:      true,
		SessionToken: session,
		Subscriber:   subscribers.NewSubscriberView(sub),
	})
}

// SignOut handles POST /auth/signout.
func (h *Handler) SignOut(w http.ResponseWriter, _ *http.Request) {
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, session string) {
	http.SetCookie(w, &http.Cookie{
		Name:     httputil.SessionTokenCookie,
		Value:    session,
		Path:     "/",
		Domain:   h.cookieSettings.Domain,
		MaxAge:   int(token.SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cookieSettings.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     httputil.SessionTokenCookie,
		Value:    "",
		Path:     "/",
		Domain:   h.cookieSettings.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSettings.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
