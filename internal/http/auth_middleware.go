package httpx

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/qisthidev/authdevice/internal/service/guard"
)

type authContextKey string

const contextKeyPrincipal authContextKey = "authdevice-principal"

// deviceTokenHeader is the dedicated credential header, checked after the
// Authorization bearer form.
const deviceTokenHeader = "X-Device-Token"

// extractCredential pulls the bearer credential from the request with the
// documented precedence: Authorization bearer token, then the device-token
// header, then a query field. First present wins.
func extractCredential(req *http.Request) string {
	if header := strings.TrimSpace(req.Header.Get("Authorization")); header != "" {
		parts := strings.Fields(header)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if token := strings.TrimSpace(req.Header.Get(deviceTokenHeader)); token != "" {
		return token
	}
	return strings.TrimSpace(req.URL.Query().Get("device_token"))
}

// requireAuth resolves the request credential before invoking the handler.
// Resolution happens at most once per request; the principal rides the
// request context afterwards. Every miss yields the same generic 401.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		principal, ok := principalFromContext(req.Context())
		if !ok {
			resolved, err := r.guard.Resolve(req.Context(), extractCredential(req), clientIP(req))
			if err != nil {
				r.logger.Error("credential resolution failed", "error", err, "path", req.URL.Path)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			principal = resolved
		}
		if principal == nil {
			r.recordAuthOutcome("rejected")
			writeError(w, http.StatusUnauthorized, genericAuthFailure)
			return
		}
		// Re-derive device validity per request; a device can be revoked
		// mid-session.
		if !r.policy.DeviceValid(principal.Device, time.Now()) {
			r.recordAuthOutcome("rejected")
			if principal.Device != nil && principal.Device.Usable(time.Now()) {
				writeError(w, http.StatusForbidden, "device is not verified")
				return
			}
			writeError(w, http.StatusUnauthorized, genericAuthFailure)
			return
		}
		r.recordAuthOutcome("resolved")
		ctx := context.WithValue(req.Context(), contextKeyPrincipal, principal)
		next(w, req.WithContext(ctx))
	}
}

// requireInviter layers the invite capability check over requireAuth.
func (r *Router) requireInviter(next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(func(w http.ResponseWriter, req *http.Request) {
		principal, ok := principalFromContext(req.Context())
		if !ok || !r.policy.CanInvite(principal.User) {
			writeError(w, http.StatusForbidden, "not allowed to manage invitations")
			return
		}
		next(w, req)
	})
}

// principalFromContext extracts the resolved principal from context.
func principalFromContext(ctx context.Context) (*guard.Principal, bool) {
	value := ctx.Value(contextKeyPrincipal)
	if value == nil {
		return nil, false
	}
	principal, ok := value.(*guard.Principal)
	return principal, ok
}

func clientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	return host
}
