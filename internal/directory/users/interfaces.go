package users

import (
	"context"
)

// UserRepository is the remote source of directory entries
type UserRepository interface {
	// FetchUsers returns at most limit users of the given 1-based page
	FetchUsers(ctx context.Context, page, limit int) ([]User, error)
	// CreateUser stores a new user. The echoed record may be partial, often only an id.
	CreateUser(ctx context.Context, profile Profile) (*User, error)
	// UpdateUser replaces the remote record. Any response body is ignored.
	UpdateUser(ctx context.Context, user User) error
	DeleteUser(ctx context.Context, id ID) error
}

// Directory defines the operations offered to presentation consumers
type Directory interface {
	FetchNextPage(ctx context.Context, page int) ([]User, error)
	CreateUser(ctx context.Context, profile Profile) (User, error)
	UpdateUser(ctx context.Context, user User) (User, error)
	DeleteUser(ctx context.Context, id ID) (ID, error)
	Submit(ctx context.Context, values FormValues, editingID ID) (User, error)
	ResetError()
	AdvancePage()
	Reset()
	State() DirectoryState
	Get(id ID) (User, bool)
}
