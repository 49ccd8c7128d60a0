// Package identity describes the authenticated actor of a portal session.
package identity

import (
	"strings"
	"time"
)

// Identity represents the authenticated user as returned by the backend.
type Identity struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// DisplayName returns "First Last", or the first name alone when the last
// name is absent.
func (i *Identity) DisplayName() string {
	if i == nil {
		return ""
	}
	first := strings.TrimSpace(i.FirstName)
	last := strings.TrimSpace(i.LastName)
	if last == "" {
		return first
	}
	if first == "" {
		return last
	}
	return first + " " + last
}

// Valid reports whether the identity carries the fields the portal relies on.
func (i *Identity) Valid() bool {
	return i != nil && strings.TrimSpace(i.ID) != "" && i.Role.Valid()
}

// Clone returns a copy that can be handed to subscribers safely.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}
