// Package auth checks credentials against a users file and hands out an
// explicit Session that callers pass to every operation.
//
// The users file is JSON keyed by username:
//
//	{"admin": {"password_hash": "$2a$10$...", "role": "admin"}}
//
// Passwords are stored as bcrypt hashes only.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/koba/sheetql/internal/apperr"
)

// Role decides which operations a session may run.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// ParseRole accepts admin or viewer.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleViewer:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Session is the authenticated caller.
type Session struct {
	Username string
	Role     Role
}

// IsAdmin reports whether the session may mutate the table.
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}

// RequireAdmin returns apperr.ErrPermissionDenied for non-admin sessions.
func (s *Session) RequireAdmin() error {
	if !s.IsAdmin() {
		return apperr.New(apperr.KindPermissionDenied, "this operation requires the admin role")
	}
	return nil
}

// User is one entry of the users file.
type User struct {
	PasswordHash string `json:"password_hash"`
	Role         Role   `json:"role"`
}

// Store is the users file loaded in memory.
type Store struct {
	path  string
	users map[string]User
	cost  int
}

// dummyHash keeps the cost of a failed lookup close to a real comparison.
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z7ipGEJtF3U2j3oCxoFqS1e6")

// LoadStore reads the users file at path. A missing file yields an empty
// store that Save will create.
func LoadStore(path string) (*Store, error) {
	s := &Store{path: path, users: map[string]User{}, cost: bcrypt.DefaultCost}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read users file: %w", err)
	}
	if err := json.Unmarshal(data, &s.users); err != nil {
		return nil, fmt.Errorf("failed to parse users file: %w", err)
	}
	if s.users == nil {
		s.users = map[string]User{}
	}
	return s, nil
}

// Authenticate verifies username and password and returns a Session.
func (s *Store) Authenticate(username, password string) (*Session, error) {
	user, ok := s.users[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, apperr.New(apperr.KindInvalidCredentials, "invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.New(apperr.KindInvalidCredentials, "invalid username or password")
	}
	return &Session{Username: username, Role: user.Role}, nil
}

// SetUser creates or replaces a user with a freshly hashed password.
func (s *Store) SetUser(username, password string, role Role) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("username must not be empty")
	}
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	s.users[username] = User{PasswordHash: string(hash), Role: role}
	return nil
}

// Usernames returns the known usernames in sorted order.
func (s *Store) Usernames() []string {
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save writes the users file with owner-only permissions.
func (s *Store) Save() error {
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode users: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create users directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write users file: %w", err)
	}
	return nil
}
