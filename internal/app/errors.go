package app

import "errors"

var (
	// ErrInvalidCredentials is returned when the supplied credentials do not
	// match. The message is shown to end users and deliberately does not say
	// whether the account exists.
	ErrInvalidCredentials = errors.New("incorrect email address or password")

	// ErrUnauthenticated is returned when no valid token resolves to a user.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInactiveAccount is returned for deactivated accounts, even when the
	// presented token is structurally valid.
	ErrInactiveAccount = errors.New("account is deactivated")

	// ErrForbidden is returned when an authenticated caller lacks the
	// required membership or ownership.
	ErrForbidden = errors.New("not authorized for this project")

	ErrProjectNotFound = errors.New("project not found")
	ErrUserNotFound    = errors.New("user not found")

	ErrDuplicateEmail = errors.New("email already registered")
	ErrAlreadyMember  = errors.New("user is already a member of the project")

	ErrNameEmailPasswordRequired = errors.New("name, email and password are required")
	ErrProjectNameRequired       = errors.New("project name is required")

	// ErrStorageNotConfigured is returned for document uploads when no
	// object storage backend was configured.
	ErrStorageNotConfigured = errors.New("document storage is not configured")
)
