package filestore

import (
	"context"
	"regexp"

	"github.com/nanome-ai/plugin-vault/internal/pathsafe"
)

type scopeKey struct{}

var accountPattern = regexp.MustCompile(`^user-[0-9a-f]{8}$`)

// IsAccountFolder reports whether name is a per-user folder like user-0a1b2c3d.
func IsAccountFolder(name string) bool {
	return accountPattern.MatchString(name)
}

// AccountOf returns the account folder that rel lives in, if any.
func AccountOf(rel string) (string, bool) {
	segs := pathsafe.Segments(rel)
	if len(segs) == 0 || !IsAccountFolder(segs[0]) {
		return "", false
	}
	return segs[0], true
}

// WithAccount scopes ctx to one account. Root listings made with a scoped
// context only show the shared folder and that account's folder.
func WithAccount(ctx context.Context, account string) context.Context {
	return context.WithValue(ctx, scopeKey{}, account)
}

// AccountFrom returns the account ctx is scoped to.
func AccountFrom(ctx context.Context) (string, bool) {
	account, ok := ctx.Value(scopeKey{}).(string)
	return account, ok
}

// InScope reports whether ctx may reach rel. A scoped context cannot reach
// another account's folder; an unscoped one reaches everything.
func InScope(ctx context.Context, rel string) bool {
	scoped, ok := AccountFrom(ctx)
	if !ok {
		return true
	}
	account, ok := AccountOf(rel)
	return !ok || account == scoped
}
