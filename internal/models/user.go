package models

import (
	"strings"
	"time"
)

// User is the identity resolved from a verified credential.
type User struct {
	ID        string `db:"id" json:"id"`
	Email     string `db:"email" json:"email,omitempty"`
	Username  string `db:"username" json:"username"`
	FirstName string `db:"first_name" json:"firstName,omitempty"`
	LastName  string `db:"last_name" json:"lastName,omitempty"`
	Avatar    string `db:"avatar" json:"avatar,omitempty"`
}

// DisplayName returns "First Last" when known, otherwise the username.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// Summary strips the fields that are not broadcast to other users.
func (u User) Summary() User {
	u.Email = ""
	return u
}

// UserStatus is the presence state persisted for a user.
type UserStatus struct {
	Online   bool      `db:"is_online" json:"online"`
	LastSeen time.Time `db:"last_seen" json:"lastSeen"`
}
