// Package identity assigns every browser a stable device id.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DeviceCookieName holds the device id.
	DeviceCookieName = "chat_device_id"
	deviceCookieTTL  = 30 * 24 * time.Hour
)

type contextKey int

const deviceIDKey contextKey = iota

var deviceIDPattern = regexp.MustCompile(`^dev_[a-f0-9]{32}$`)

// DeviceIDFromContext returns the device id set by Middleware, or "".
func DeviceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(deviceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithDeviceID returns a copy of ctx carrying deviceID.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

// NewDeviceID returns a fresh random device id.
func NewDeviceID() string {
	return "dev_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsValidDeviceID reports whether id has the shape NewDeviceID produces.
func IsValidDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

func setDeviceCookie(w http.ResponseWriter, id string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(deviceCookieTTL.Seconds()),
		Expires:  time.Now().Add(deviceCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

// Middleware reads or issues the device cookie and stores the id in the
// request context. The cookie is refreshed on every request; malformed
// values are replaced.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(DeviceCookieName); err == nil && IsValidDeviceID(c.Value) {
				id = c.Value
			} else {
				id = NewDeviceID()
			}
			setDeviceCookie(w, id, !isDev)
			next.ServeHTTP(w, r.WithContext(WithDeviceID(r.Context(), id)))
		})
	}
}

// IPFromRequest returns the remote IP without its port.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
