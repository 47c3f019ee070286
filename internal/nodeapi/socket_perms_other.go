//go:build !linux

package nodeapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
)

// applySocketPermissions is a no-op on non-Linux platforms.
func applySocketPermissions(_, _ string, _ *slog.Logger) {}

// connContextWithPeerCred returns nil on non-Linux platforms (no SO_PEERCRED).
func connContextWithPeerCred(_ *slog.Logger) func(ctx context.Context, c net.Conn) context.Context {
	return nil
}

// peerUID never knows the peer on non-Linux platforms.
func peerUID(_ *http.Request) (uint32, bool) {
	return 0, false
}

// wrapAdminAuth is a no-op on non-Linux platforms; socket file permissions
// are the only guard.
func wrapAdminAuth(next http.Handler, _ string, _ *slog.Logger) http.Handler {
	return next
}
