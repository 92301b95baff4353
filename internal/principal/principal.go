package principal

import (
	"context"

	"github.com/google/uuid"
)

const (
	ScopeGlobal = "GLOBAL"
	ScopeBranch = "BRANCH"
)

// Principal is the already-resolved caller identity. Identity resolution
// (sessions, role loading) happens upstream; governance code only consumes
// this value object.
type Principal struct {
	UserID    uuid.UUID
	RoleCode  string
	RoleScope string
	BranchID  *uuid.UUID
}

// HasGlobalAuthority reports whether the caller may administer GLOBAL-scope
// policy (create definitions, edit and submit global drafts, approve/reject).
func (p Principal) HasGlobalAuthority() bool {
	return p.RoleScope == ScopeGlobal || p.RoleCode == "SUPER_ADMIN"
}

type contextKey struct{}

var principalKey contextKey

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func FromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey).(*Principal); ok {
		return p
	}
	return nil
}
