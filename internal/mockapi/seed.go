package mockapi

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/gadgetcloud/portal/internal/identity"
	"github.com/gadgetcloud/portal/internal/permission"
)

//go:embed seed.yaml
var defaultSeed []byte

// Seed is the initial content of a Store.
type Seed struct {
	Users []SeedUser                    `yaml:"users"`
	Roles map[string]permission.RoleSet `yaml:"roles"`
}

// SeedUser is a development account with a plaintext password.
type SeedUser struct {
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	FirstName string `yaml:"firstName"`
	LastName  string `yaml:"lastName"`
	Role      string `yaml:"role"`
}

// DefaultSeed parses the embedded seed.
func DefaultSeed() (*Seed, error) {
	return ParseSeed(defaultSeed)
}

// LoadSeed parses path, or the embedded seed when path is empty.
func LoadSeed(path string) (*Seed, error) {
	if path == "" {
		return DefaultSeed()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(raw)
}

// ParseSeed decodes and validates YAML seed data.
func ParseSeed(raw []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	for name := range seed.Roles {
		if _, ok := identity.ParseRole(name); !ok {
			return nil, fmt.Errorf("seed: unknown role %q", name)
		}
	}
	for _, role := range identity.Roles() {
		if _, ok := seed.Roles[role.String()]; !ok {
			return nil, fmt.Errorf("seed: missing permission set for role %q", role)
		}
	}
	for i, u := range seed.Users {
		if strings.TrimSpace(u.Email) == "" || u.Password == "" {
			return nil, fmt.Errorf("seed: user %d needs an email and password", i)
		}
		if _, ok := identity.ParseRole(u.Role); !ok {
			return nil, fmt.Errorf("seed: user %s has unknown role %q", u.Email, u.Role)
		}
	}
	return &seed, nil
}

// roleSets normalises the seeded permission sets, filling in each grant's
// resource name from its map key.
func (s *Seed) roleSets() map[identity.Role]*permission.RoleSet {
	out := make(map[identity.Role]*permission.RoleSet, len(s.Roles))
	for name, set := range s.Roles {
		role, _ := identity.ParseRole(name)
		normalised := &permission.RoleSet{
			Role:        role,
			Description: set.Description,
			Resources:   make(map[string]permission.Grant, len(set.Resources)),
		}
		for resource, grant := range set.Resources {
			grant.Resource = resource
			normalised.Resources[resource] = grant
		}
		out[role] = normalised
	}
	return out
}

func hashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
