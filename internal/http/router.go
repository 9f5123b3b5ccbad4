package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qisthidev/authdevice/internal/domain"
	"github.com/qisthidev/authdevice/internal/service/device"
	"github.com/qisthidev/authdevice/internal/service/guard"
	"github.com/qisthidev/authdevice/internal/service/invitation"
	"github.com/qisthidev/authdevice/internal/service/policy"
	"github.com/qisthidev/authdevice/internal/ws"
	"github.com/qisthidev/authdevice/pkg/config"
	jwtpkg "github.com/qisthidev/authdevice/pkg/jwt"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	guard       guard.Guard
	policy      policy.Policy
	devices     device.Service
	invitations invitation.Service
	hub         *ws.Hub
	upgrader    websocket.Upgrader
	limiter     RateLimiter
	cfg         config.APIConfig
	dbHealth    func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	authOutcomes       *prometheus.CounterVec
}

const (
	rateWindowDefault       = time.Minute
	rateLimitAuthenticate   = 20
	rateLimitInvitationShow = 30
	rateLimitUserWrite      = 60
	rateLimitUserRead       = 120
	healthCheckTimeout      = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, guardSvc guard.Guard, policySvc policy.Policy, deviceSvc device.Service, invitationSvc invitation.Service, hub *ws.Hub, limiter RateLimiter, cfg config.APIConfig, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		guard:       guardSvc,
		policy:      policySvc,
		devices:     deviceSvc,
		invitations: invitationSvc,
		hub:         hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		cfg:      cfg,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.instrument("healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/authenticate", r.instrument("authenticate",
		r.withRateLimit("authenticate", rateLimitAuthenticate, rateWindowDefault, rateLimitKeyIP, r.handleAuthenticate)))
	r.mux.HandleFunc("/auth/logout", r.instrument("logout",
		r.requireAuth(r.handleLogout)))
	r.mux.HandleFunc("/auth/devices", r.instrument("devices",
		r.requireAuth(r.withRateLimit("devices", rateLimitUserWrite, rateWindowDefault, r.rateLimitKeyUser, r.handleDevices))))
	r.mux.HandleFunc("/auth/devices/", r.instrument("device",
		r.requireAuth(r.withRateLimit("device", rateLimitUserWrite, rateWindowDefault, r.rateLimitKeyUser, r.handleDeviceSubroutes))))
	r.mux.HandleFunc("/auth/invitations", r.instrument("invitations",
		r.requireInviter(r.withRateLimit("invitations", rateLimitUserWrite, rateWindowDefault, r.rateLimitKeyUser, r.handleInvitations))))
	r.mux.HandleFunc("/auth/invitations/", r.instrument("invitation_admin",
		r.requireInviter(r.withRateLimit("invitation_admin", rateLimitUserWrite, rateWindowDefault, r.rateLimitKeyUser, r.handleInvitationSubroutes))))
	r.mux.HandleFunc("/auth/invitation/", r.instrument("invitation_public",
		r.withRateLimit("invitation_public", rateLimitInvitationShow, rateWindowDefault, rateLimitKeyIP, r.handleInvitationPublic)))
	r.mux.HandleFunc("/auth/events/ws", r.instrument("events_ws",
		r.requireAuth(r.handleEventsWS)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			r.logger.Error("health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAuthenticate exchanges a device token for the owning principal. The
// credential may arrive as a bearer header, the device-token header, a query
// field or a JSON body field; the header forms win.
func (r *Router) handleAuthenticate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	credential := extractCredential(req)
	if credential == "" {
		var payload struct {
			DeviceToken string `json:"device_token"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err == nil {
			credential = strings.TrimSpace(payload.DeviceToken)
		}
	}
	principal, err := r.guard.Resolve(req.Context(), credential, clientIP(req))
	if err != nil {
		r.logger.Error("authentication failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if principal == nil || !r.policy.DeviceValid(principal.Device, time.Now()) {
		r.recordAuthOutcome("rejected")
		writeError(w, http.StatusUnauthorized, genericAuthFailure)
		return
	}
	r.recordAuthOutcome("resolved")
	response := map[string]any{
		"message": "Authentication successful.",
		"user":    userPayload(principal.User),
		"device": map[string]any{
			"id":           principal.Device.ID,
			"name":         principal.Device.Name,
			"platform":     principal.Device.Platform,
			"last_used_at": principal.Device.LastUsedAt,
		},
		"token": principal.Device.Token,
	}
	if access := r.accessToken(principal.User.ID, principal.Device.ID); access != "" {
		response["access_token"] = access
	}
	writeJSON(w, http.StatusOK, response)
}

func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	principal, _ := principalFromContext(req.Context())
	if _, err := r.devices.Revoke(req.Context(), principal.Device.ID); err != nil {
		r.logger.Error("logout revoke failed", "error", err, "device_id", principal.Device.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully."})
}

func (r *Router) handleDevices(w http.ResponseWriter, req *http.Request) {
	principal, _ := principalFromContext(req.Context())
	switch req.Method {
	case http.MethodGet:
		devices, err := r.devices.List(req.Context(), principal.User.ID)
		if err != nil {
			r.logger.Error("device listing failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		payload := make([]map[string]any, 0, len(devices))
		for _, d := range devices {
			payload = append(payload, devicePayload(d))
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": payload})
	case http.MethodPost:
		var body struct {
			Name        string         `json:"name"`
			Fingerprint string         `json:"device_fingerprint"`
			Platform    string         `json:"platform"`
			Metadata    map[string]any `json:"metadata"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		registered, err := r.devices.Register(req.Context(), principal.User.ID, device.RegisterParams{
			Name:        body.Name,
			Fingerprint: body.Fingerprint,
			Platform:    body.Platform,
			IPAddress:   clientIP(req),
			Metadata:    body.Metadata,
		})
		if err != nil {
			switch {
			case errors.Is(err, device.ErrQuotaExceeded):
				writeError(w, http.StatusConflict, "maximum number of devices reached")
			case errors.Is(err, device.ErrInvalidPlatform):
				writeError(w, http.StatusBadRequest, "invalid platform")
			default:
				r.logger.Error("device registration failed", "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"message": "Device registered successfully.",
			"device": map[string]any{
				"id":       registered.ID,
				"name":     registered.Name,
				"platform": registered.Platform,
			},
			"token": registered.Token,
		})
	case http.MethodDelete:
		count, err := r.devices.RevokeAll(req.Context(), principal.User.ID)
		if err != nil {
			r.logger.Error("revoke all failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Devices revoked successfully.",
			"revoked": count,
		})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDeviceSubroutes(w http.ResponseWriter, req *http.Request) {
	id := strings.Trim(strings.TrimPrefix(req.URL.Path, "/auth/devices/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	principal, _ := principalFromContext(req.Context())
	target, err := r.devices.Get(req.Context(), id)
	if err != nil || target.UserID != principal.User.ID {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	if _, err := r.devices.Revoke(req.Context(), target.ID); err != nil {
		r.logger.Error("device revoke failed", "error", err, "device_id", target.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Device revoked successfully."})
}

func (r *Router) handleInvitations(w http.ResponseWriter, req *http.Request) {
	principal, _ := principalFromContext(req.Context())
	switch req.Method {
	case http.MethodGet:
		invitations, err := r.invitations.List(req.Context(), principal.User.ID)
		if err != nil {
			r.logger.Error("invitation listing failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		payload := make([]map[string]any, 0, len(invitations))
		for _, inv := range invitations {
			payload = append(payload, map[string]any{
				"id":          inv.ID,
				"email":       inv.Email,
				"code":        inv.Code,
				"status":      inv.Status,
				"expires_at":  inv.ExpiresAt,
				"accepted_at": inv.AcceptedAt,
				"created_at":  inv.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"invitations": payload})
	case http.MethodPost:
		var body struct {
			Email    string         `json:"email"`
			Metadata map[string]any `json:"metadata"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.invitations.Create(req.Context(), principal.User.ID, body.Email, body.Metadata)
		if err != nil {
			if errors.Is(err, invitation.ErrEmailRequired) {
				writeError(w, http.StatusBadRequest, "email is required")
				return
			}
			r.logger.Error("invitation creation failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"message": "Invitation created successfully.",
			"invitation": map[string]any{
				"id":         created.ID,
				"email":      created.Email,
				"code":       created.Code,
				"expires_at": created.ExpiresAt,
			},
		})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleInvitationSubroutes(w http.ResponseWriter, req *http.Request) {
	id := strings.Trim(strings.TrimPrefix(req.URL.Path, "/auth/invitations/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "invitation not found")
		return
	}
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	principal, _ := principalFromContext(req.Context())
	target, err := r.invitations.Get(req.Context(), id)
	if err != nil || target.InvitedBy != principal.User.ID {
		writeError(w, http.StatusNotFound, "invitation not found")
		return
	}
	if _, err := r.invitations.Revoke(req.Context(), target.ID); err != nil {
		r.logger.Error("invitation revoke failed", "error", err, "invitation_id", target.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Invitation revoked successfully."})
}

// handleInvitationPublic serves the unauthenticated show and accept paths:
// GET /auth/invitation/{code} and POST /auth/invitation/{code}/accept.
func (r *Router) handleInvitationPublic(w http.ResponseWriter, req *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(req.URL.Path, "/auth/invitation/"), "/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "" && req.Method == http.MethodGet:
		r.handleInvitationShow(w, req, parts[0])
	case len(parts) == 2 && parts[1] == "accept" && req.Method == http.MethodPost:
		r.handleInvitationAccept(w, req, parts[0])
	case len(parts) == 2 && parts[1] == "accept":
		r.methodNotAllowed(w)
	case len(parts) == 1 && parts[0] != "":
		r.methodNotAllowed(w)
	default:
		writeError(w, http.StatusNotFound, "invitation not found")
	}
}

func (r *Router) handleInvitationShow(w http.ResponseWriter, req *http.Request, code string) {
	found, err := r.invitations.Lookup(req.Context(), code)
	if err != nil {
		r.logger.Error("invitation lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if found == nil {
		writeError(w, http.StatusNotFound, "Invitation not found.")
		return
	}
	now := time.Now()
	if found.Expired(now) {
		writeError(w, http.StatusGone, "Invitation has expired.")
		return
	}
	if !found.Acceptable(now) {
		writeError(w, http.StatusGone, "Invitation is no longer valid.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"invitation": map[string]any{
			"code":       found.Code,
			"email":      found.Email,
			"expires_at": found.ExpiresAt,
		},
	})
}

func (r *Router) handleInvitationAccept(w http.ResponseWriter, req *http.Request, code string) {
	var body struct {
		Name              string         `json:"name"`
		Password          string         `json:"password"`
		DeviceName        string         `json:"device_name"`
		DeviceFingerprint string         `json:"device_fingerprint"`
		Platform          string         `json:"platform"`
		Metadata          map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := r.invitations.Accept(req.Context(), code, invitation.AcceptParams{
		Name:              body.Name,
		Password:          body.Password,
		DeviceName:        body.DeviceName,
		DeviceFingerprint: body.DeviceFingerprint,
		Platform:          body.Platform,
		IPAddress:         clientIP(req),
		Metadata:          body.Metadata,
	})
	if err != nil {
		switch {
		case errors.Is(err, invitation.ErrNotFound):
			writeError(w, http.StatusNotFound, "Invitation not found.")
		case errors.Is(err, invitation.ErrExpired):
			writeError(w, http.StatusGone, "Invitation has expired.")
		case errors.Is(err, invitation.ErrNotPending):
			writeError(w, http.StatusGone, "Invitation is no longer valid.")
		case errors.Is(err, device.ErrInvalidPlatform):
			writeError(w, http.StatusBadRequest, "invalid platform")
		default:
			r.logger.Error("invitation accept failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	response := map[string]any{
		"message": "Invitation accepted successfully.",
		"user":    userPayload(result.User),
		"device": map[string]any{
			"id":       result.Device.ID,
			"name":     result.Device.Name,
			"platform": result.Device.Platform,
		},
		"token": result.Token,
	}
	if access := r.accessToken(result.User.ID, result.Device.ID); access != "" {
		response["access_token"] = access
	}
	writeJSON(w, http.StatusCreated, response)
}

// handleEventsWS streams the principal's auth events over a websocket.
func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusNotImplemented, "event streaming disabled")
		return
	}
	principal, _ := principalFromContext(req.Context())
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Subscribe(principal.User.ID, client)
	defer func() {
		r.hub.Unsubscribe(principal.User.ID, client)
		client.Close()
	}()
	client.Wait()
}

func (r *Router) accessToken(userID, deviceID string) string {
	if strings.TrimSpace(r.cfg.JWTSecret) == "" {
		return ""
	}
	access, err := jwtpkg.GenerateToken(userID, deviceID, r.cfg.JWTSecret, r.cfg.AccessTokenTTL)
	if err != nil {
		r.logger.Warn("access token generation failed", "error", err)
		return ""
	}
	return access
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func userPayload(user *domain.User) map[string]any {
	return map[string]any{
		"id":         user.ID,
		"name":       user.Name,
		"email":      user.Email,
		"can_invite": user.CanInvite,
	}
}

func devicePayload(d domain.Device) map[string]any {
	// The raw token is issued exactly once at creation and never
	// serialized here.
	return map[string]any{
		"id":              d.ID,
		"name":            d.Name,
		"platform":        d.Platform,
		"last_used_at":    d.LastUsedAt,
		"last_ip_address": d.LastIPAddress,
		"is_active":       d.IsActive,
		"verified_at":     d.VerifiedAt,
		"expires_at":      d.ExpiresAt,
		"created_at":      d.CreatedAt,
	}
}
