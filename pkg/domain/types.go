package domain

import "time"

// DefaultRole is assigned to registered users when no role is supplied.
const DefaultRole = "user"

type User struct {
	ID           uint      `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Project struct {
	ID        uint       `json:"id"`
	Name      string     `json:"name"`
	Logo      string     `json:"logo,omitempty"`
	Details   string     `json:"details,omitempty"`
	Documents []Document `json:"documents"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type Document struct {
	ID         uint         `json:"id"`
	ProjectID  uint         `json:"projectId"`
	URL        string       `json:"url"`
	StorageKey string       `json:"-"`
	Meta       DocumentMeta `json:"meta"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// DocumentMeta describes the uploaded payload. The store keeps it as an
// opaque JSON blob; content is never inspected.
type DocumentMeta struct {
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	SizeBytes   int64  `json:"sizeBytes,omitempty"`
}

type Membership struct {
	ID        uint      `json:"id"`
	ProjectID uint      `json:"projectId"`
	UserID    uint      `json:"userId"`
	IsOwner   bool      `json:"isOwner"`
	CreatedAt time.Time `json:"createdAt"`
}

// Member is the members_of projection: a user plus their ownership flag.
type Member struct {
	User    User `json:"user"`
	IsOwner bool `json:"isOwner"`
}
