// Package quota decides admission and accumulates token usage for quota
// records.
package quota

import "chatproxy/internal/store"

// Admit reports whether a record may make one more upstream call.
//
// The comparison is strictly greater-than: a record sitting exactly at its
// ceiling is still admitted for one more call and only denied afterwards.
// Pure decision over the snapshot passed in; no side effects.
func Admit(u *store.User) bool {
	return u.TokensUsed <= u.TokensAuthorized
}

// Remaining returns how many tokens the record may still consume before it
// is denied. Negative once the record has gone over its ceiling.
func Remaining(u *store.User) int64 {
	return u.TokensAuthorized - u.TokensUsed
}
