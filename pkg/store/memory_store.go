package store

import (
	"sync"
	"time"

	"github.com/miroslavkosanovic/project-management-dashboard/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs tests and local runs
// without a database; the semantics mirror GormStore, including the
// duplicate-membership and duplicate-email conflicts.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[uint]domain.User
	email       map[string]uint
	projects    map[uint]domain.Project
	order       []uint
	memberships map[uint][]domain.Membership // project ID -> rows
	documents   map[uint][]domain.Document   // project ID -> rows

	nextUserID       uint
	nextProjectID    uint
	nextMembershipID uint
	nextDocumentID   uint
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[uint]domain.User),
		email:       make(map[string]uint),
		projects:    make(map[uint]domain.Project),
		memberships: make(map[uint][]domain.Membership),
		documents:   make(map[uint][]domain.Document),
	}
}

// CreateUser registers a user, assigning the next ID.
func (m *MemoryStore) CreateUser(u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.email[u.Email]; exists {
		return domain.User{}, ErrDuplicateEmail
	}
	m.nextUserID++
	u.ID = m.nextUserID
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return u, nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id uint) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// CreateProject stores the project and the creator's owner membership.
func (m *MemoryStore) CreateProject(p domain.Project, ownerID uint) (domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	m.nextProjectID++
	p.ID = m.nextProjectID
	p.CreatedAt = now
	p.UpdatedAt = now
	docs := make([]domain.Document, 0, len(p.Documents))
	for _, d := range p.Documents {
		m.nextDocumentID++
		d.ID = m.nextDocumentID
		d.ProjectID = p.ID
		d.CreatedAt = now
		docs = append(docs, d)
	}
	p.Documents = docs
	m.projects[p.ID] = p
	m.order = append(m.order, p.ID)
	m.documents[p.ID] = append([]domain.Document(nil), docs...)
	m.nextMembershipID++
	m.memberships[p.ID] = []domain.Membership{{
		ID:        m.nextMembershipID,
		ProjectID: p.ID,
		UserID:    ownerID,
		IsOwner:   true,
		CreatedAt: now,
	}}
	return p, nil
}

// GetProject retrieves a project with its documents.
func (m *MemoryStore) GetProject(id uint) (domain.Project, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return domain.Project{}, false, nil
	}
	p.Documents = append([]domain.Document(nil), m.documents[id]...)
	return p, true, nil
}

// ListProjects returns projects in insertion order.
func (m *MemoryStore) ListProjects() ([]domain.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Project, 0, len(m.order))
	for _, id := range m.order {
		if p, ok := m.projects[id]; ok {
			p.Documents = append([]domain.Document(nil), m.documents[id]...)
			res = append(res, p)
		}
	}
	return res, nil
}

// UpdateProject full-replaces name/logo/details and the document list.
func (m *MemoryStore) UpdateProject(id uint, p domain.Project) (domain.Project, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.projects[id]
	if !ok {
		return domain.Project{}, false, nil
	}
	now := time.Now().UTC()
	existing.Name = p.Name
	existing.Logo = p.Logo
	existing.Details = p.Details
	existing.UpdatedAt = now
	docs := make([]domain.Document, 0, len(p.Documents))
	for _, d := range p.Documents {
		m.nextDocumentID++
		d.ID = m.nextDocumentID
		d.ProjectID = id
		d.CreatedAt = now
		docs = append(docs, d)
	}
	m.documents[id] = docs
	existing.Documents = append([]domain.Document(nil), docs...)
	m.projects[id] = existing
	return existing, true, nil
}

// DeleteProject removes the project and cascades to memberships and documents.
func (m *MemoryStore) DeleteProject(id uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return false, nil
	}
	delete(m.projects, id)
	delete(m.memberships, id)
	delete(m.documents, id)
	filtered := m.order[:0]
	for _, item := range m.order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.order = filtered
	return true, nil
}

// AddMember inserts a membership row, rejecting duplicates.
func (m *MemoryStore) AddMember(projectID, userID uint, isOwner bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.memberships[projectID] {
		if row.UserID == userID {
			return ErrAlreadyMember
		}
	}
	m.nextMembershipID++
	m.memberships[projectID] = append(m.memberships[projectID], domain.Membership{
		ID:        m.nextMembershipID,
		ProjectID: projectID,
		UserID:    userID,
		IsOwner:   isOwner,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// MembersOf returns each member with their ownership flag.
func (m *MemoryStore) MembersOf(projectID uint) ([]domain.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.memberships[projectID]
	members := make([]domain.Member, 0, len(rows))
	for _, row := range rows {
		user, ok := m.users[row.UserID]
		if !ok {
			continue
		}
		members = append(members, domain.Member{User: user, IsOwner: row.IsOwner})
	}
	return members, nil
}

// IsMember reports whether a membership row links the user to the project.
func (m *MemoryStore) IsMember(userID, projectID uint) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.memberships[projectID] {
		if row.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// IsOwner reports whether the user holds an is_owner membership row.
func (m *MemoryStore) IsOwner(userID, projectID uint) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.memberships[projectID] {
		if row.UserID == userID && row.IsOwner {
			return true, nil
		}
	}
	return false, nil
}

// AddDocument attaches a document to the project.
func (m *MemoryStore) AddDocument(projectID uint, doc domain.Document) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextDocumentID++
	doc.ID = m.nextDocumentID
	doc.ProjectID = projectID
	doc.CreatedAt = time.Now().UTC()
	m.documents[projectID] = append(m.documents[projectID], doc)
	return doc, nil
}

// ListDocuments returns documents attached to the project.
func (m *MemoryStore) ListDocuments(projectID uint) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Document(nil), m.documents[projectID]...), nil
}
