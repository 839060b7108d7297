package model

import "time"

// User mirrors the `users` table.  Email and Phone double as the
// contact details used for booking notifications.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	Phone        string    // users.phone
	PasswordHash string    // users.password_hash
	Role         string    // users.role (CUSTOMER | ADMIN)
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// Contact is the subset of a user needed to address a notification.
type Contact struct {
	UserID uint64
	Email  string
	Phone  string
}

// Contact returns the notification contact for u.
func (u User) Contact() Contact {
	return Contact{UserID: u.ID, Email: u.Email, Phone: u.Phone}
}
