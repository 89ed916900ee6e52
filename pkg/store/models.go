package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/miroslavkosanovic/project-management-dashboard/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID           uint      `gorm:"primaryKey"`
	Name         string    `gorm:"not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null"`
	Active       bool      `gorm:"not null;default:true"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type ProjectModel struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Logo      string
	Details   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type DocumentModel struct {
	ID         uint   `gorm:"primaryKey"`
	ProjectID  uint   `gorm:"not null;index"`
	URL        string `gorm:"not null"`
	StorageKey string
	Metadata   datatypes.JSON
	CreatedAt  time.Time `gorm:"not null"`
}

// MembershipModel links one user to one project. The composite unique index
// makes duplicate invites a constraint violation rather than a racy
// read-then-write check.
type MembershipModel struct {
	ID        uint      `gorm:"primaryKey"`
	ProjectID uint      `gorm:"not null;uniqueIndex:idx_project_user"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_project_user;index"`
	IsOwner   bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		Active:       u.Active,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         m.Role,
		Active:       m.Active,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func projectToModel(p domain.Project) ProjectModel {
	return ProjectModel{
		ID:        p.ID,
		Name:      p.Name,
		Logo:      p.Logo,
		Details:   p.Details,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func projectFromModel(m ProjectModel, docs []DocumentModel) domain.Project {
	documents := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		documents = append(documents, documentFromModel(d))
	}
	return domain.Project{
		ID:        m.ID,
		Name:      m.Name,
		Logo:      m.Logo,
		Details:   m.Details,
		Documents: documents,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func documentToModel(d domain.Document) DocumentModel {
	meta, _ := json.Marshal(d.Meta)
	return DocumentModel{
		ID:         d.ID,
		ProjectID:  d.ProjectID,
		URL:        d.URL,
		StorageKey: d.StorageKey,
		Metadata:   meta,
		CreatedAt:  d.CreatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	var meta domain.DocumentMeta
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.Document{
		ID:         m.ID,
		ProjectID:  m.ProjectID,
		URL:        m.URL,
		StorageKey: m.StorageKey,
		Meta:       meta,
		CreatedAt:  m.CreatedAt,
	}
}
