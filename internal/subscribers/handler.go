package subscribers

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/mailloop/mailloop/internal/domain"
	"github.com/mailloop/mailloop/internal/pkg/httputil"
	"github.com/mailloop/mailloop/internal/ratelimit"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrSubscriberNotFound, Status: http.StatusNotFound, Message: "subscriber not found"},
	{Error: ErrDuplicateEmail, Status: http.StatusConflict, Message: "email is already subscribed"},
	{Error: ErrInvalidStateTransition, Status: http.StatusBadRequest},
	{Error: ErrProtectedFieldViolation, Status: http.StatusForbidden, Message: "field is not writable by this identity"},
	{Error: ErrForbidden, Status: http.StatusForbidden, Message: "operation not permitted"},
	{Error: ErrInvalidLocale, Status: http.StatusBadRequest, Message: "invalid locale"},
}

// Handler handles HTTP requests for the subscribers module.
type Handler struct {
	service          *Service
	validator        *validator.Validate
	subscribeLimiter ratelimit.Limiter
}

// NewHandler creates a new subscribers handler. The limiter throttles
// anonymous subscribe requests per client IP; nil disables throttling.
func NewHandler(service *Service, subscribeLimiter ratelimit.Limiter) *Handler {
	return &Handler{
		service:          service,
		validator:        validator.New(),
		subscribeLimiter: subscribeLimiter,
	}
}

// RegisterPublicRoutes registers routes that need no authentication.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/subscribe", h.Subscribe)
}

// RegisterProtectedRoutes registers routes that require a resolved identity.
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	r.Get("/preferences", h.GetPreferences)
	r.Put("/preferences", h.UpdatePreferences)
	r.Post("/unsubscribe", h.Unsubscribe)

	r.Route("/subscribers", func(r chi.Router) {
		r.Get("/", h.ListSubscribers)
		r.Get("/{id}", h.GetSubscriber)
		r.Patch("/{id}", h.UpdateSubscriber)
	})
}

// SubscriberView is the subscriber representation that crosses the API
// boundary. Magic-link bookkeeping never appears here.
type SubscriberView struct {
	ID               string                    `json:"id"`
	Email            string                    `json:"email"`
	Name             string                    `json:"name,omitempty"`
	Locale           string                    `json:"locale,omitempty"`
	Status           domain.SubscriptionStatus `json:"subscription_status"`
	EmailPreferences domain.EmailPreferences   `json:"email_preferences"`
	UnsubscribedAt   *time.Time                `json:"unsubscribed_at,omitempty"`
	CreatedAt        time.Time                 `json:"created_at"`
}

// NewSubscriberView builds the API view of a subscriber.
func NewSubscriberView(sub *domain.Subscriber) SubscriberView {
	return SubscriberView{
		ID:               sub.ID,
		Email:            sub.Email,
		Name:             sub.Name,
		Locale:           sub.Locale,
		Status:           sub.Status,
		EmailPreferences: sub.EmailPreferences,
		UnsubscribedAt:   sub.UnsubscribedAt,
		CreatedAt:        sub.CreatedAt,
	}
}

// SubscriberResponse wraps a single subscriber.
type SubscriberResponse struct {
	Success    bool           `json:"success"`
	Subscriber SubscriberView `json:"subscriber"`
}

// SubscribeRequest represents the subscribe request body.
type SubscribeRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"max=200"`
}

// Subscribe handles POST /subscribe.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if h.subscribeLimiter != nil && !h.subscribeLimiter.Allow(clientIP(r)) {
		httputil.Error(w, http.StatusTooManyRequests, "too many subscribe attempts, try again later")
		return
	}

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	sub, err := h.service.Subscribe(r.Context(), SubscribeInput(req))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusCreated, SubscriberResponse{
		Success:    true,
		Subscriber: NewSubscriberView(sub),
	})
}

// GetPreferences handles GET /preferences.
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	identity := httputil.IdentityFromContext(r.Context())

	sub, err := h.service.GetPreferences(r.Context(), identity)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, SubscriberResponse{
		Success:    true,
		Subscriber: NewSubscriberView(sub),
	})
}

// UpdatePreferencesRequest represents the preferences update body.
type UpdatePreferencesRequest struct {
	Name             *string         `json:"name" validate:"omitempty,max=200"`
	Locale           *string         `json:"locale" validate:"omitempty,max=35"`
	EmailPreferences map[string]bool `json:"email_preferences"`
}

// UpdatePreferences handles PUT /preferences.
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	identity := httputil.IdentityFromContext(r.Context())

	var req UpdatePreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	sub, err := h.service.UpdatePreferences(r.Context(), identity, UpdatePreferencesInput{
		Name:             req.Name,
		Locale:           req.Locale,
		EmailPreferences: req.EmailPreferences,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, SubscriberResponse{
		Success:    true,
		Subscriber: NewSubscriberView(sub),
	})
}

// UnsubscribeRequest represents the unsubscribe request body.
type UnsubscribeRequest struct {
	SubscriberID string `json:"subscriber_id" validate:"required"`
}

// Unsubscribe handles POST /unsubscribe.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	identity := httputil.IdentityFromContext(r.Context())

	var req UnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	sub, err := h.service.Unsubscribe(r.Context(), identity, req.SubscriberID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, SubscriberResponse{
		Success:    true,
		Subscriber: NewSubscriberView(sub),
	})
}

// ListSubscribersResponse wraps a subscriber collection.
type ListSubscribersResponse struct {
	Success     bool             `json:"success"`
	Subscribers []SubscriberView `json:"subscribers"`
}

// ListSubscribers handles GET /subscribers.
func (h *Handler) ListSubscribers(w http.ResponseWriter, r *http.Request) {
	identity := httputil.IdentityFromContext(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	subs, err := h.service.List(r.Context(), identity, limit, offset)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	views := make([]SubscriberView, 0, len(subs))
	for i := range subs {
		views = append(views, NewSubscriberView(&subs[i]))
	}

	httputil.JSON(w, http.StatusOK, ListSubscribersResponse{
		Success:     true,
		Subscribers: views,
	})
}

// GetSubscriber handles GET /subscribers/{id}.
func (h *Handler) GetSubscriber(w http.ResponseWriter, r *http.Request) {
	identity := httputil.IdentityFromContext(r.Context())

	sub, err := h.service.Get(r.Context(), identity, chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, SubscriberResponse{
		Success:    true,
		Subscriber: NewSubscriberView(sub),
	})
}

// UpdateSubscriberRequest represents the admin update body.
type UpdateSubscriberRequest struct {
	Email            *string         `json:"email" validate:"omitempty,email"`
	Name             *string         `json:"name" validate:"omitempty,max=200"`
	Locale           *string         `json:"locale" validate:"omitempty,max=35"`
	EmailPreferences map[string]bool `json:"email_preferences"`
	ClearMagicLink   bool            `json:"clear_magic_link"`
}

// UpdateSubscriber handles PATCH /subscribers/{id}.
func (h *Handler) UpdateSubscriber(w http.ResponseWriter, r *http.Request) {
	identity := httputil.IdentityFromContext(r.Context())

	var req UpdateSubscriberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	sub, err := h.service.Update(r.Context(), identity, chi.URLParam(r, "id"), UpdateInput{
		Email:            req.Email,
		Name:             req.Name,
		Locale:           req.Locale,
		EmailPreferences: req.EmailPreferences,
		ClearMagicLink:   req.ClearMagicLink,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, SubscriberResponse{
		Success:    true,
		Subscriber: NewSubscriberView(sub),
	})
}

// clientIP extracts the client address for rate limiting. RealIP middleware
// has already folded X-Forwarded-For into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
