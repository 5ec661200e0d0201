package web

import (
	"context"
	"net"
	"net/http"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

// withClientIP records the caller's address for import history.
// RemoteAddr has already been resolved by TrustedRealIP.
func withClientIP(ctx context.Context, r *http.Request) context.Context {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return core.ContextWithClientIP(ctx, ip)
}
