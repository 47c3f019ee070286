//go:build linux

package nodeapi

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// GroupChecker checks group membership for a given user.
type GroupChecker interface {
	// IsInGroup reports whether the user identified by uid belongs to the
	// named group, or if the user's primary group (gid) matches the group.
	IsInGroup(uid, gid uint32, groupName string) bool
}

// OSGroupChecker checks group membership using the OS user/group database.
type OSGroupChecker struct{}

func (OSGroupChecker) IsInGroup(uid, gid uint32, groupName string) bool {
	grp, err := user.LookupGroup(groupName)
	if err != nil {
		return false
	}
	groupGID, err := strconv.ParseUint(grp.Gid, 10, 32)
	if err != nil {
		return false
	}
	if gid == uint32(groupGID) {
		return true
	}
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return false
	}
	groupIDs, err := u.GroupIds()
	if err != nil {
		return false
	}
	for _, g := range groupIDs {
		if g == grp.Gid {
			return true
		}
	}
	return false
}

// PeerCredentials holds the credentials of the process on the other end of
// a Unix socket connection.
type PeerCredentials struct {
	PID uint32
	UID uint32
	GID uint32
}

// GetPeerCredentials reads SO_PEERCRED from a Unix socket connection.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("nodeapi: auth: not a Unix socket connection")
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("nodeapi: auth: get syscall conn: %w", err)
	}
	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return nil, fmt.Errorf("nodeapi: auth: control: %w", err)
	}
	if credErr != nil {
		return nil, fmt.Errorf("nodeapi: auth: getsockopt SO_PEERCRED: %w", credErr)
	}
	return &PeerCredentials{
		PID: uint32(cred.Pid),
		UID: uint32(cred.Uid),
		GID: uint32(cred.Gid),
	}, nil
}

// PeerCredGetter extracts peer credentials from an HTTP request.
type PeerCredGetter interface {
	GetPeerCredentials(r *http.Request) (*PeerCredentials, error)
}

// SetSocketPermissions gives the socket to root:group with mode 0660. If
// the group does not exist the socket gets mode 0666 and a warning is
// logged; mutating routes stay root-only in that case.
func SetSocketPermissions(socketPath, group string, logger *slog.Logger) error {
	grp, err := user.LookupGroup(group)
	if err != nil {
		logger.Warn("admin group not found, using permissive socket permissions",
			"group", group,
			"error", err,
		)
		return os.Chmod(socketPath, 0666)
	}
	gid, err := strconv.Atoi(grp.Gid)
	if err != nil {
		return fmt.Errorf("nodeapi: auth: parse gid: %w", err)
	}
	if err := os.Chown(socketPath, 0, gid); err != nil {
		return fmt.Errorf("nodeapi: auth: chown socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("nodeapi: auth: chmod socket: %w", err)
	}
	return nil
}

// AdminAuthMiddleware returns middleware that admits root and members of
// group, and answers 403 to everyone else.
func AdminAuthMiddleware(group string, checker GroupChecker, getter PeerCredGetter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, err := getter.GetPeerCredentials(r)
			if err != nil {
				logger.Error("failed to get peer credentials", "error", err)
				writeError(w, http.StatusForbidden, "forbidden: peer credentials unavailable")
				return
			}
			if cred.UID == 0 || checker.IsInGroup(cred.UID, cred.GID, group) {
				next.ServeHTTP(w, r)
				return
			}
			logger.Warn("rule change denied",
				"uid", cred.UID,
				"gid", cred.GID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			writeError(w, http.StatusForbidden, "forbidden: requires root or group "+group)
		})
	}
}
