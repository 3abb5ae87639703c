package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/satisfyguy/escrowd/internal/escrowerr"
	"github.com/satisfyguy/escrowd/internal/store"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyRole
	ctxKeyEscrow
)

// withAdminAuth requires a static bearer token matching s.adminToken. An
// empty configured token refuses every admin request rather than silently
// disabling auth.
func (s *Server) withAdminAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeError(w, s.log, escrowerr.New(escrowerr.Unauthorized, "admin token not configured"))
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) || auth[len(prefix):] != s.adminToken {
			writeError(w, s.log, escrowerr.New(escrowerr.Unauthorized, "invalid admin token"))
			return
		}
		next(w, r)
	}
}

// withUserAuth validates the X-User-Id / X-Escrow-Role header pair against
// the escrow's role bindings, the minimal auth tier this core implements in
// place of the full session-cookie stack named out of scope.
func (s *Server) withUserAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		escrowID := r.PathValue("id")
		userID := r.Header.Get("X-User-Id")
		role := store.Role(r.Header.Get("X-Escrow-Role"))

		if escrowID == "" || userID == "" {
			writeError(w, s.log, escrowerr.New(escrowerr.Validation, "missing escrow id or user id"))
			return
		}
		switch role {
		case store.RoleBuyer, store.RoleVendor, store.RoleArbiter:
		default:
			writeError(w, s.log, escrowerr.New(escrowerr.Validation, "unknown or missing X-Escrow-Role"))
			return
		}

		escrow, err := s.escrows.LoadEscrow(escrowID)
		if err != nil {
			writeError(w, s.log, err)
			return
		}
		if escrow.RoleUserID(role) != userID {
			writeError(w, s.log, escrowerr.New(escrowerr.Forbidden, "user is not bound to the claimed role on this escrow"))
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		ctx = context.WithValue(ctx, ctxKeyEscrow, escrow)
		next(w, r.WithContext(ctx))
	}
}

func userIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserID).(string)
	return v
}

func roleFrom(ctx context.Context) store.Role {
	v, _ := ctx.Value(ctxKeyRole).(store.Role)
	return v
}

func escrowFrom(ctx context.Context) *store.Escrow {
	v, _ := ctx.Value(ctxKeyEscrow).(*store.Escrow)
	return v
}
