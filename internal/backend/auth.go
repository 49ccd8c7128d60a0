package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gadgetcloud/portal/internal/identity"
	"github.com/gadgetcloud/portal/internal/permission"
)

// Credentials is the login request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the signup request body.
type Registration struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName,omitempty"`
	Mobile    string `json:"mobile,omitempty"`
}

// AuthResponse is returned by login and signup.
type AuthResponse struct {
	AccessToken string             `json:"access_token"`
	TokenType   string             `json:"token_type"`
	User        *identity.Identity `json:"user"`
}

// Login exchanges credentials for a bearer token and identity.
func (c *Client) Login(ctx context.Context, creds Credentials) (*AuthResponse, error) {
	var out AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, creds, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Signup creates an account and returns its credential and identity.
func (c *Client) Signup(ctx context.Context, reg Registration) (*AuthResponse, error) {
	var out AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup", nil, reg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout notifies the backend that token is no longer used. The token is
// passed explicitly because callers usually drop it locally before the
// notification completes.
func (c *Client) Logout(ctx context.Context, token string) error {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return c.doWithHeader(ctx, http.MethodPost, "/auth/logout", nil, header, struct{}{}, nil)
}

// RolePermissions fetches the permission set for role.
func (c *Client) RolePermissions(ctx context.Context, role identity.Role) (*permission.RoleSet, error) {
	var out permission.RoleSet
	if err := c.do(ctx, http.MethodGet, "/admin/permissions/"+url.PathEscape(role.String()), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

var _ permission.Fetcher = (*Client)(nil)
