package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/miroslavkosanovic/project-management-dashboard/pkg/auth"
	"github.com/miroslavkosanovic/project-management-dashboard/pkg/domain"
	"github.com/miroslavkosanovic/project-management-dashboard/pkg/events"
	"github.com/miroslavkosanovic/project-management-dashboard/pkg/storage"
	"github.com/miroslavkosanovic/project-management-dashboard/pkg/store"
	"github.com/miroslavkosanovic/project-management-dashboard/pkg/token"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTLeeway   time.Duration
	SessionTTL  time.Duration
	PresignTTL  time.Duration

	Store   store.Store
	Tokens  *token.Service
	Objects storage.ObjectStore
	Events  events.Publisher
}

// App wires together storage, tokens, blob storage, and the event stream.
type App struct {
	store      store.Store
	tokens     *token.Service
	objects    storage.ObjectStore
	events     events.Publisher
	sessionTTL time.Duration
	presignTTL time.Duration
}

// New constructs the application. A database failure here is fatal to the
// caller; the service must not start without persistence.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.PresignTTL == 0 {
		cfg.PresignTTL = 24 * time.Hour
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	tokens := cfg.Tokens
	if tokens == nil {
		var err error
		tokens, err = token.New(cfg.JWTSecret, token.Options{
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			Leeway:   cfg.JWTLeeway,
		})
		if err != nil {
			return nil, fmt.Errorf("init token service: %w", err)
		}
	}

	publisher := cfg.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &App{
		store:      dataStore,
		tokens:     tokens,
		objects:    cfg.Objects,
		events:     publisher,
		sessionTTL: cfg.SessionTTL,
		presignTTL: cfg.PresignTTL,
	}, nil
}

// Register creates a user account, storing only the password hash.
func (a *App) Register(name, email, password, role string) (domain.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if name == "" || email == "" || password == "" {
		return domain.User{}, ErrNameEmailPasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, err
	}
	if role = strings.TrimSpace(role); role == "" {
		role = domain.DefaultRole
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, err
	}
	now := time.Now().UTC()
	user, err := a.store.CreateUser(domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return domain.User{}, ErrDuplicateEmail
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	a.publish(events.UserRegistered, map[string]any{"userId": user.ID, "email": user.Email})
	return user, nil
}

// Login validates credentials and issues a session token with the user's
// email as subject. Unknown email and wrong password are indistinguishable.
func (a *App) Login(email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !user.Active {
		return domain.User{}, "", ErrInactiveAccount
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	tok, err := a.tokens.Issue(user.Email, a.sessionTTL)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, tok, nil
}

// UserFromToken is the single identity-resolution path: validate the token,
// then load the subject from the credential store. Every authenticated
// endpoint goes through here before any mutation.
func (a *App) UserFromToken(tok string) (domain.User, error) {
	subject, err := a.tokens.Validate(tok)
	if err != nil {
		return domain.User{}, ErrUnauthenticated
	}
	user, ok, err := a.store.GetUserByEmail(subject)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUnauthenticated
	}
	if !user.Active {
		return domain.User{}, ErrInactiveAccount
	}
	return user, nil
}

// CreateProject persists the project and transactionally records the creator
// as its owner.
func (a *App) CreateProject(actor domain.User, p domain.Project) (domain.Project, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return domain.Project{}, ErrProjectNameRequired
	}
	project, err := a.store.CreateProject(p, actor.ID)
	if err != nil {
		return domain.Project{}, fmt.Errorf("create project: %w", err)
	}
	a.publish(events.ProjectCreated, map[string]any{"projectId": project.ID, "ownerId": actor.ID})
	return project, nil
}

// GetProject returns a project with its documents.
func (a *App) GetProject(id uint) (domain.Project, error) {
	project, ok, err := a.store.GetProject(id)
	if err != nil {
		return domain.Project{}, fmt.Errorf("fetch project: %w", err)
	}
	if !ok {
		return domain.Project{}, ErrProjectNotFound
	}
	return project, nil
}

// ListProjects returns all projects.
func (a *App) ListProjects() ([]domain.Project, error) {
	return a.store.ListProjects()
}

// UpdateProject full-replaces name/logo/details and the attached document
// list. No partial merge.
func (a *App) UpdateProject(id uint, p domain.Project) (domain.Project, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return domain.Project{}, ErrProjectNameRequired
	}
	project, ok, err := a.store.UpdateProject(id, p)
	if err != nil {
		return domain.Project{}, fmt.Errorf("update project: %w", err)
	}
	if !ok {
		return domain.Project{}, ErrProjectNotFound
	}
	a.publish(events.ProjectUpdated, map[string]any{"projectId": project.ID})
	return project, nil
}

// DeleteProject requires owner-level membership. It removes stored blobs,
// then cascades membership and document rows with the project itself.
func (a *App) DeleteProject(ctx context.Context, actor domain.User, id uint) error {
	_, ok, err := a.store.GetProject(id)
	if err != nil {
		return fmt.Errorf("fetch project: %w", err)
	}
	if !ok {
		return ErrProjectNotFound
	}
	owner, err := a.store.IsOwner(actor.ID, id)
	if err != nil {
		return fmt.Errorf("check ownership: %w", err)
	}
	if !owner {
		return ErrForbidden
	}
	docs, err := a.store.ListDocuments(id)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	if a.objects != nil {
		g, gctx := errgroup.WithContext(ctx)
		for _, doc := range docs {
			if doc.StorageKey == "" {
				continue
			}
			key := doc.StorageKey
			g.Go(func() error {
				return a.objects.Delete(gctx, key)
			})
		}
		if err := g.Wait(); err != nil {
			slog.Warn("delete document blobs", "project_id", id, "err", err)
		}
	}
	found, err := a.store.DeleteProject(id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if !found {
		return ErrProjectNotFound
	}
	a.publish(events.ProjectDeleted, map[string]any{"projectId": id, "actorId": actor.ID})
	return nil
}

// InviteMember adds the target user as a non-owner member. Only an owner of
// the project may invite.
func (a *App) InviteMember(actor domain.User, projectID uint, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	_, ok, err := a.store.GetProject(projectID)
	if err != nil {
		return fmt.Errorf("fetch project: %w", err)
	}
	if !ok {
		return ErrProjectNotFound
	}
	owner, err := a.store.IsOwner(actor.ID, projectID)
	if err != nil {
		return fmt.Errorf("check ownership: %w", err)
	}
	if !owner {
		return ErrForbidden
	}
	target, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return ErrUserNotFound
	}
	if err := a.store.AddMember(projectID, target.ID, false); err != nil {
		if errors.Is(err, store.ErrAlreadyMember) {
			return ErrAlreadyMember
		}
		return fmt.Errorf("add member: %w", err)
	}
	a.publish(events.MemberInvited, map[string]any{
		"projectId": projectID,
		"userId":    target.ID,
		"invitedBy": actor.ID,
	})
	return nil
}

// ProjectMembers lists members with ownership flags. Any member may read the
// roster.
func (a *App) ProjectMembers(actor domain.User, projectID uint) ([]domain.Member, error) {
	_, ok, err := a.store.GetProject(projectID)
	if err != nil {
		return nil, fmt.Errorf("fetch project: %w", err)
	}
	if !ok {
		return nil, ErrProjectNotFound
	}
	member, err := a.store.IsMember(actor.ID, projectID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return nil, ErrForbidden
	}
	return a.store.MembersOf(projectID)
}

// UploadDocument stores the payload in blob storage and records a document
// row referencing its URL. Content is never inspected.
func (a *App) UploadDocument(ctx context.Context, projectID uint, filename string, r io.Reader, size int64, contentType string) (domain.Document, error) {
	if a.objects == nil {
		return domain.Document{}, ErrStorageNotConfigured
	}
	_, ok, err := a.store.GetProject(projectID)
	if err != nil {
		return domain.Document{}, fmt.Errorf("fetch project: %w", err)
	}
	if !ok {
		return domain.Document{}, ErrProjectNotFound
	}
	key := fmt.Sprintf("projects/%d/%s", projectID, uuid.NewString())
	if err := a.objects.Put(ctx, key, r, size, contentType); err != nil {
		return domain.Document{}, fmt.Errorf("store payload: %w", err)
	}
	url, err := a.objects.PresignGet(ctx, key, a.presignTTL)
	if err != nil {
		return domain.Document{}, fmt.Errorf("presign url: %w", err)
	}
	doc, err := a.store.AddDocument(projectID, domain.Document{
		URL:        url,
		StorageKey: key,
		Meta: domain.DocumentMeta{
			Filename:    filename,
			ContentType: contentType,
			SizeBytes:   size,
		},
	})
	if err != nil {
		return domain.Document{}, fmt.Errorf("record document: %w", err)
	}
	a.publish(events.DocumentUploaded, map[string]any{"projectId": projectID, "documentId": doc.ID})
	return doc, nil
}

// ListDocumentURLs returns the URL of each document attached to the project.
func (a *App) ListDocumentURLs(projectID uint) ([]string, error) {
	_, ok, err := a.store.GetProject(projectID)
	if err != nil {
		return nil, fmt.Errorf("fetch project: %w", err)
	}
	if !ok {
		return nil, ErrProjectNotFound
	}
	docs, err := a.store.ListDocuments(projectID)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(docs))
	for _, d := range docs {
		urls = append(urls, d.URL)
	}
	return urls, nil
}

func (a *App) publish(routingKey string, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.events.Publish(ctx, routingKey, payload); err != nil {
		slog.Warn("publish event", "key", routingKey, "err", err)
	}
}
