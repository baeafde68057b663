package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxRole
	ctxSpoofAllowed
)

// Identity is the authenticated caller as seen by handlers.
type Identity struct {
	UserID       string
	Role         Role
	SpoofAllowed bool
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, id.UserID)
	ctx = context.WithValue(ctx, ctxRole, id.Role)
	ctx = context.WithValue(ctx, ctxSpoofAllowed, id.SpoofAllowed)
	return ctx
}

func IdentityFrom(ctx context.Context) (Identity, error) {
	uid, ok := ctx.Value(ctxUserID).(string)
	if !ok || uid == "" {
		return Identity{}, errors.New("identity not in context")
	}
	role, _ := ctx.Value(ctxRole).(Role)
	spoof, _ := ctx.Value(ctxSpoofAllowed).(bool)
	return Identity{UserID: uid, Role: role, SpoofAllowed: spoof}, nil
}

func (id Identity) IsAdmin() bool { return id.Role == RoleAdmin }
