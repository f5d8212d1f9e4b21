// Package domain holds the gateway's persistent and transient entity
// types, independent of how they are stored or transported.
package domain

import "time"

// User is a gateway principal. Exactly one of (password_hash, provider
// being an OAuth provider id) applies: a local user always carries a
// password hash; an OAuth user never does.
type User struct {
	UserID       string     `json:"user_id"`
	Email        string     `json:"email"`
	Name         string     `json:"name,omitempty"`
	Provider     string     `json:"provider"` // "local" or an oauth provider_id
	PasswordHash string     `json:"-"`
	Roles        []string   `json:"roles"`
	Enabled      bool       `json:"enabled"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login,omitempty"`
}

// NormalizeEmail lower-cases an email for case-insensitive lookup, per
// the uniqueness invariant on User.Email.
func NormalizeEmail(email string) string {
	out := make([]rune, 0, len(email))
	for _, r := range email {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}
