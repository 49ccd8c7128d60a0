// Package permission holds the client-side authorization ruleset of the
// current session and the pure decision logic evaluated against it.
package permission

import (
	"github.com/gadgetcloud/portal/internal/identity"
)

// Wildcard grants every action on a resource.
const Wildcard = "*"

// Grant lists the actions allowed on one resource.
type Grant struct {
	Resource string   `json:"resource" yaml:"resource"`
	Actions  []string `json:"actions" yaml:"actions"`
	Scope    string   `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// RoleSet is the resource -> allowed actions mapping for a single role.
type RoleSet struct {
	Role        identity.Role    `json:"role" yaml:"role"`
	Description string           `json:"description" yaml:"description"`
	Resources   map[string]Grant `json:"resources" yaml:"resources"`
}

// Allows reports whether action is granted on resource. A missing resource
// denies; a "*" action grants everything on that resource.
func (s *RoleSet) Allows(resource, action string) bool {
	if s == nil || len(s.Resources) == 0 {
		return false
	}
	grant, ok := s.Resources[resource]
	if !ok {
		return false
	}
	for _, a := range grant.Actions {
		if a == action || a == Wildcard {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the set.
func (s *RoleSet) Clone() *RoleSet {
	if s == nil {
		return nil
	}
	out := &RoleSet{Role: s.Role, Description: s.Description}
	if s.Resources != nil {
		out.Resources = make(map[string]Grant, len(s.Resources))
		for name, g := range s.Resources {
			actions := make([]string, len(g.Actions))
			copy(actions, g.Actions)
			out.Resources[name] = Grant{Resource: g.Resource, Actions: actions, Scope: g.Scope}
		}
	}
	return out
}

// Check is a single resource/action pair.
type Check struct {
	Resource string `json:"resource" yaml:"resource"`
	Action   string `json:"action" yaml:"action"`
}

// String renders the check as "resource:action".
func (c Check) String() string {
	return c.Resource + ":" + c.Action
}

// Requirement is either a single check or an ANY/ALL composite of checks.
// The single form wins when both Resource and Action are set, then Any,
// then All.
type Requirement struct {
	Resource string
	Action   string
	Any      []Check
	All      []Check
}

// Require builds a single-check requirement.
func Require(resource, action string) Requirement {
	return Requirement{Resource: resource, Action: action}
}

// RequireCheck builds a single-check requirement from c.
func RequireCheck(c Check) Requirement {
	return Requirement{Resource: c.Resource, Action: c.Action}
}

// RequireAny builds a requirement satisfied by any of checks.
func RequireAny(checks ...Check) Requirement {
	return Requirement{Any: checks}
}

// RequireAll builds a requirement satisfied only when every check passes.
func RequireAll(checks ...Check) Requirement {
	return Requirement{All: checks}
}

// IsZero reports whether the requirement names nothing to check.
func (r Requirement) IsZero() bool {
	return (r.Resource == "" || r.Action == "") && len(r.Any) == 0 && len(r.All) == 0
}
