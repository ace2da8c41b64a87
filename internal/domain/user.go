package domain

import "time"

// Role values carried in access tokens
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the local projection of an identity managed by the identity provider
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name,omitempty"`
	Role        string     `json:"role"`
	Birthday    *time.Time `json:"birthday,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// HasBirthdayOn reports whether the user's birthday falls on the day of t
func (u *User) HasBirthdayOn(t time.Time) bool {
	if u.Birthday == nil {
		return false
	}
	return u.Birthday.Month() == t.Month() && u.Birthday.Day() == t.Day()
}
