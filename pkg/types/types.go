// Package types defines the wire types shared by the console and its backend.
//
// # Design Principles
//
// 1. Simplicity: Types mirror the backend's JSON directly
// 2. Serialization: All types are JSON-serializable for API transport
// 3. Tolerance: Decoders accept the camelCase and snake_case spellings the backend emits
package types

import (
	"encoding/json"
)

// =============================================================================
// CREDENTIALS
// =============================================================================

// Credentials is the persisted token pair.
type Credentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// UnmarshalJSON accepts both accessToken and access_token spellings.
func (c *Credentials) UnmarshalJSON(data []byte) error {
	var raw struct {
		AccessToken       string `json:"accessToken"`
		RefreshToken      string `json:"refreshToken"`
		SnakeAccessToken  string `json:"access_token"`
		SnakeRefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.AccessToken = raw.AccessToken
	if c.AccessToken == "" {
		c.AccessToken = raw.SnakeAccessToken
	}
	c.RefreshToken = raw.RefreshToken
	if c.RefreshToken == "" {
		c.RefreshToken = raw.SnakeRefreshToken
	}
	return nil
}

// =============================================================================
// AUTH REQUESTS
// =============================================================================

// LoginRequest is sent to POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest is sent to POST /auth/refresh-token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// =============================================================================
// USER
// =============================================================================

// Role is a named permission group.
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// User is returned from GET /users/me.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Roles []Role `json:"roles,omitempty"`
}
