// Package identity carries the verified caller assertion the engine branches on.
// The engine never authenticates; it trusts what arrives here.
package identity

import (
	"context"
	"strings"
)

const AdminGroup = "Admins"

type Identity struct {
	Subject string
	Email   string
	groups  map[string]struct{}
}

func New(subject, email string, groups ...string) Identity {
	set := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		if g = strings.TrimSpace(g); g != "" {
			set[g] = struct{}{}
		}
	}
	return Identity{
		Subject: subject,
		Email:   strings.ToLower(strings.TrimSpace(email)),
		groups:  set,
	}
}

func (i Identity) InGroup(group string) bool {
	_, ok := i.groups[group]
	return ok
}

func (i Identity) IsAdmin() bool {
	return i.InGroup(AdminGroup)
}

func (i Identity) Groups() []string {
	out := make([]string, 0, len(i.groups))
	for g := range i.groups {
		out = append(out, g)
	}
	return out
}

type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
