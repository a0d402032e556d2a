package api

import (
	"context"
	"errors"

	"github.com/solacelabs/tandem/internal/types"
)

// memberContextKey is the context key for the authenticated viewer.
type memberContextKey struct{}

// ErrNoMemberInContext indicates no viewer was found in the context.
var ErrNoMemberInContext = errors.New("no member in context")

// WithMember returns a new context with the viewer attached.
func WithMember(ctx context.Context, m types.Member) context.Context {
	return context.WithValue(ctx, memberContextKey{}, m)
}

// MemberFromContext extracts the viewer from the context.
// Returns ErrNoMemberInContext if not present or empty.
func MemberFromContext(ctx context.Context) (types.Member, error) {
	m, ok := ctx.Value(memberContextKey{}).(types.Member)
	if !ok || m == "" {
		return "", ErrNoMemberInContext
	}
	return m, nil
}

// MustMemberFromContext extracts the viewer or panics.
// Use only when middleware guarantees viewer presence.
func MustMemberFromContext(ctx context.Context) types.Member {
	m, err := MemberFromContext(ctx)
	if err != nil {
		panic("member not in context: middleware misconfiguration")
	}
	return m
}
