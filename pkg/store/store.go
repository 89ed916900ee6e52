package store

import (
	"errors"

	"github.com/miroslavkosanovic/project-management-dashboard/pkg/domain"
)

var (
	// ErrDuplicateEmail is returned when the email is already registered.
	// Backed by the unique index on users.email, not only a pre-check.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrAlreadyMember is returned when a membership row for the
	// (project, user) pair already exists. Backed by the composite unique
	// index so concurrent invites cannot both succeed.
	ErrAlreadyMember = errors.New("user is already a member of the project")
)

// Store defines persistence operations for users, projects, memberships, and
// documents. Implementations must keep referential integrity: deleting a
// project removes its membership and document rows in the same transaction.
type Store interface {
	// users
	CreateUser(domain.User) (domain.User, error)
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id uint) (domain.User, bool, error)

	// projects
	CreateProject(p domain.Project, ownerID uint) (domain.Project, error)
	GetProject(id uint) (domain.Project, bool, error)
	ListProjects() ([]domain.Project, error)
	UpdateProject(id uint, p domain.Project) (domain.Project, bool, error)
	DeleteProject(id uint) (bool, error)

	// memberships
	AddMember(projectID, userID uint, isOwner bool) error
	MembersOf(projectID uint) ([]domain.Member, error)
	IsMember(userID, projectID uint) (bool, error)
	IsOwner(userID, projectID uint) (bool, error)

	// documents
	AddDocument(projectID uint, doc domain.Document) (domain.Document, error)
	ListDocuments(projectID uint) ([]domain.Document, error)
}
