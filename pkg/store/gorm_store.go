package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/miroslavkosanovic/project-management-dashboard/pkg/domain"
)

const migrateLockID int64 = 82103471

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations. A connection or
// migration failure is returned to the caller; startup must not continue
// without a working database.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &ProjectModel{}, &MembershipModel{}, &DocumentModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser registers a new user. Duplicate emails surface ErrDuplicateEmail.
func (s *GormStore) CreateUser(u domain.User) (domain.User, error) {
	model := userToModel(u)
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.User{}, ErrDuplicateEmail
		}
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id uint) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// CreateProject inserts the project, its initial documents, and the creator's
// owner membership in a single transaction.
func (s *GormStore) CreateProject(p domain.Project, ownerID uint) (domain.Project, error) {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	model := projectToModel(p)
	var docs []DocumentModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		for _, d := range p.Documents {
			d.ProjectID = model.ID
			d.CreatedAt = now
			docModel := documentToModel(d)
			if err := tx.Create(&docModel).Error; err != nil {
				return err
			}
			docs = append(docs, docModel)
		}
		membership := MembershipModel{
			ProjectID: model.ID,
			UserID:    ownerID,
			IsOwner:   true,
			CreatedAt: now,
		}
		return tx.Create(&membership).Error
	})
	if err != nil {
		return domain.Project{}, err
	}
	return projectFromModel(model, docs), nil
}

// GetProject retrieves a project with its documents.
func (s *GormStore) GetProject(id uint) (domain.Project, bool, error) {
	var model ProjectModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Project{}, false, nil
		}
		return domain.Project{}, false, err
	}
	docs, err := s.listDocumentModels(id)
	if err != nil {
		return domain.Project{}, false, err
	}
	return projectFromModel(model, docs), true, nil
}

// ListProjects returns all projects ordered by created_at.
func (s *GormStore) ListProjects() ([]domain.Project, error) {
	var models []ProjectModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Project, 0, len(models))
	for _, m := range models {
		docs, err := s.listDocumentModels(m.ID)
		if err != nil {
			return nil, err
		}
		res = append(res, projectFromModel(m, docs))
	}
	return res, nil
}

// UpdateProject replaces name/logo/details and clears and re-attaches the
// given document list. No partial merge.
func (s *GormStore) UpdateProject(id uint, p domain.Project) (domain.Project, bool, error) {
	var model ProjectModel
	var docs []DocumentModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		model.Name = p.Name
		model.Logo = p.Logo
		model.Details = p.Details
		model.UpdatedAt = now
		if err := tx.Save(&model).Error; err != nil {
			return err
		}
		if err := tx.Delete(&DocumentModel{}, "project_id = ?", id).Error; err != nil {
			return err
		}
		for _, d := range p.Documents {
			d.ID = 0
			d.ProjectID = id
			d.CreatedAt = now
			docModel := documentToModel(d)
			if err := tx.Create(&docModel).Error; err != nil {
				return err
			}
			docs = append(docs, docModel)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Project{}, false, nil
		}
		return domain.Project{}, false, err
	}
	return projectFromModel(model, docs), true, nil
}

// DeleteProject removes the project and cascades to membership and document
// rows in one transaction.
func (s *GormStore) DeleteProject(id uint) (bool, error) {
	found := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model ProjectModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			return err
		}
		found = true
		if err := tx.Delete(&MembershipModel{}, "project_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&DocumentModel{}, "project_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ProjectModel{}, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return found, err
	}
	return true, nil
}

// AddMember inserts a membership row. The composite unique index turns
// concurrent duplicate invites into ErrAlreadyMember.
func (s *GormStore) AddMember(projectID, userID uint, isOwner bool) error {
	model := MembershipModel{
		ProjectID: projectID,
		UserID:    userID,
		IsOwner:   isOwner,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyMember
		}
		return err
	}
	return nil
}

// MembersOf returns each member with their ownership flag.
func (s *GormStore) MembersOf(projectID uint) ([]domain.Member, error) {
	var models []MembershipModel
	if err := s.db.Where("project_id = ?", projectID).Find(&models).Error; err != nil {
		return nil, err
	}
	members := make([]domain.Member, 0, len(models))
	for _, m := range models {
		var user UserModel
		if err := s.db.First(&user, "id = ?", m.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		members = append(members, domain.Member{User: userFromModel(user), IsOwner: m.IsOwner})
	}
	return members, nil
}

// IsMember reports whether any membership row links the user to the project.
func (s *GormStore) IsMember(userID, projectID uint) (bool, error) {
	var count int64
	err := s.db.Model(&MembershipModel{}).
		Where("user_id = ? AND project_id = ?", userID, projectID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// IsOwner reports whether the user holds an is_owner membership row.
func (s *GormStore) IsOwner(userID, projectID uint) (bool, error) {
	var count int64
	err := s.db.Model(&MembershipModel{}).
		Where("user_id = ? AND project_id = ? AND is_owner = ?", userID, projectID, true).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AddDocument attaches an uploaded document to the project.
func (s *GormStore) AddDocument(projectID uint, doc domain.Document) (domain.Document, error) {
	doc.ProjectID = projectID
	doc.CreatedAt = time.Now().UTC()
	model := documentToModel(doc)
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Document{}, err
	}
	return documentFromModel(model), nil
}

// ListDocuments returns documents attached to the project.
func (s *GormStore) ListDocuments(projectID uint) ([]domain.Document, error) {
	models, err := s.listDocumentModels(projectID)
	if err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(models))
	for _, m := range models {
		docs = append(docs, documentFromModel(m))
	}
	return docs, nil
}

func (s *GormStore) listDocumentModels(projectID uint) ([]DocumentModel, error) {
	var models []DocumentModel
	if err := s.db.Where("project_id = ?", projectID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return models, nil
}
