package model

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type User struct {
	Username     string     `json:"username"`
	PasswordHash string     `json:"password"`
	Role         Role       `json:"role"`
	RegisteredAt time.Time  `json:"registeredAt"`
	LastSeen     *time.Time `json:"lastSeen,omitempty"`
}

// Identity is what the chat core knows about an authenticated connection.
type Identity struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LogoutRequest struct {
	SessionToken string `json:"sessionToken"`
}

type AuthResponse struct {
	SessionToken string    `json:"sessionToken"`
	Username     string    `json:"username"`
	Role         Role      `json:"role"`
	Channels     []Channel `json:"channels"`
}

type SessionResponse struct {
	Valid    bool   `json:"valid"`
	Username string `json:"username,omitempty"`
	Role     Role   `json:"role,omitempty"`
}
