package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/userdir/userdir/internal/observability/metrics"
)

// IDPolicy selects where the id of a locally created user comes from
type IDPolicy string

const (
	// IDPolicyClient always assigns a client-generated id
	IDPolicyClient IDPolicy = "client"
	// IDPolicyServer uses the id echoed by the create call, falling back to a client id
	IDPolicyServer IDPolicy = "server"
	// IDPolicyResponse trusts the echoed record, filling missing fields from the local payload
	IDPolicyResponse IDPolicy = "response"
)

// Policy configures how the service reacts to the remote repository
type Policy struct {
	PageSize              int
	IDPolicy              IDPolicy
	TolerateCreateFailure bool
	TolerateUpdateFailure bool
}

// DefaultPolicy returns the policy used by the mobile client: five users per
// page, client ids and optimistic create/update.
func DefaultPolicy() Policy {
	return Policy{
		PageSize:              DefaultPageSize,
		IDPolicy:              IDPolicyClient,
		TolerateCreateFailure: true,
		TolerateUpdateFailure: true,
	}
}

// DirectoryService implements the Directory interface on top of a Store
type DirectoryService struct {
	store     *Store
	repo      UserRepository
	validator *Validator
	policy    Policy
	logger    *zap.Logger
	newID     func() ID
}

// NewDirectoryService creates a new directory service. An unknown id policy is
// rejected rather than treated as one of the known ones.
func NewDirectoryService(store *Store, repo UserRepository, validator *Validator, policy Policy, logger *zap.Logger) (*DirectoryService, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		validator = NewValidator()
	}
	if policy.PageSize <= 0 {
		policy.PageSize = DefaultPageSize
	}
	switch policy.IDPolicy {
	case "":
		policy.IDPolicy = IDPolicyClient
	case IDPolicyClient, IDPolicyServer, IDPolicyResponse:
	default:
		return nil, fmt.Errorf("unknown id policy %q", policy.IDPolicy)
	}
	return &DirectoryService{
		store:     store,
		repo:      repo,
		validator: validator,
		policy:    policy,
		logger:    logger,
		newID:     func() ID { return ID(uuid.NewString()) },
	}, nil
}

// FetchNextPage requests one page and appends it to the list. The page cursor
// is left alone; AdvancePage moves it.
func (s *DirectoryService) FetchNextPage(ctx context.Context, page int) ([]User, error) {
	if page < 1 {
		return nil, fmt.Errorf("page must be at least 1, got %d", page)
	}

	start := time.Now()
	s.store.Dispatch(FetchPending{})

	fetched, err := s.repo.FetchUsers(ctx, page, s.policy.PageSize)
	if err != nil {
		s.store.Dispatch(FetchRejected{Message: err.Error()})
		s.observe(OperationFetch, metrics.ResultFailure, start)
		s.logger.Warn("Failed to fetch users",
			zap.Int("page", page),
			zap.Error(err))
		return nil, newOperationError(OperationFetch, "", err)
	}

	state := s.store.Dispatch(FetchFulfilled{Users: fetched, PageSize: s.policy.PageSize})
	s.observe(OperationFetch, metrics.ResultSuccess, start)
	metrics.SetUsers(len(state.Users))

	s.logger.Debug("Fetched users",
		zap.Int("page", page),
		zap.Int("count", len(fetched)),
		zap.Bool("has_more_pages", state.HasMorePages))

	return fetched, nil
}

// CreateUser sends the profile to the repository and prepends the new user.
// No validation happens here; see Submit.
func (s *DirectoryService) CreateUser(ctx context.Context, profile Profile) (User, error) {
	start := time.Now()
	clientID := s.newID()

	echoed, err := s.repo.CreateUser(ctx, profile)
	result := metrics.ResultSuccess
	if err != nil {
		if !s.policy.TolerateCreateFailure {
			s.store.Dispatch(CreateRejected{Message: err.Error()})
			s.observe(OperationCreate, metrics.ResultFailure, start)
			s.logger.Warn("Failed to create user", zap.Error(err))
			return User{}, newOperationError(OperationCreate, "", err)
		}
		s.logger.Warn("Create request failed, keeping local user", zap.Error(err))
		echoed = nil
		result = metrics.ResultTolerated
	}

	user, fallback := s.identify(profile, clientID, echoed)
	state := s.store.Dispatch(CreateFulfilled{User: user, FallbackID: fallback})
	if inserted := state.Users[0]; inserted.ID != user.ID {
		// mock backends echo the same id for every create
		s.logger.Warn("Echoed id already in the directory, using a client id",
			zap.String("echoed_id", user.ID.String()),
			zap.String("id", inserted.ID.String()))
		user = inserted
	}
	s.observe(OperationCreate, result, start)
	metrics.SetUsers(len(state.Users))

	s.logger.Debug("Created user",
		zap.String("id", user.ID.String()),
		zap.String("id_policy", string(s.policy.IDPolicy)))

	return user, nil
}

// identify builds the user to insert according to the id policy and the id
// to use if the chosen one is already taken. The local profile is always
// complete, the echoed record may be nil or partial.
func (s *DirectoryService) identify(profile Profile, clientID ID, echoed *User) (User, ID) {
	if s.policy.IDPolicy == IDPolicyClient || echoed == nil {
		return User{ID: clientID, Profile: profile}, ""
	}

	id := echoed.ID
	if id.IsZero() {
		id = clientID
	}

	if s.policy.IDPolicy == IDPolicyResponse {
		return User{ID: id, Profile: mergeProfile(profile, echoed.Profile)}, clientID
	}
	return User{ID: id, Profile: profile}, clientID
}

// mergeProfile prefers non-empty remote fields over local ones
func mergeProfile(local, remote Profile) Profile {
	pick := func(l, r string) string {
		if r != "" {
			return r
		}
		return l
	}
	return Profile{
		Name:  pick(local.Name, remote.Name),
		Email: pick(local.Email, remote.Email),
		Phone: pick(local.Phone, remote.Phone),
		Address: Address{
			Suite:  pick(local.Address.Suite, remote.Address.Suite),
			Street: pick(local.Address.Street, remote.Address.Street),
			City:   pick(local.Address.City, remote.Address.City),
		},
	}
}

// UpdateUser sends the user to the repository and writes the same payload in
// place. Unknown ids leave the list untouched.
func (s *DirectoryService) UpdateUser(ctx context.Context, user User) (User, error) {
	if user.ID.IsZero() {
		return User{}, fmt.Errorf("user id is required")
	}

	start := time.Now()
	s.store.Dispatch(UpdatePending{})

	result := metrics.ResultSuccess
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		if !s.policy.TolerateUpdateFailure {
			s.store.Dispatch(UpdateRejected{Message: err.Error()})
			s.observe(OperationUpdate, metrics.ResultFailure, start)
			s.logger.Warn("Failed to update user",
				zap.String("id", user.ID.String()),
				zap.Error(err))
			return User{}, newOperationError(OperationUpdate, user.ID, err)
		}
		s.logger.Warn("Update request failed, keeping local changes",
			zap.String("id", user.ID.String()),
			zap.Error(err))
		result = metrics.ResultTolerated
	}

	s.store.Dispatch(UpdateFulfilled{User: user})
	s.observe(OperationUpdate, result, start)
	return user, nil
}

// DeleteUser removes the user remotely, then every local entry with that id
func (s *DirectoryService) DeleteUser(ctx context.Context, id ID) (ID, error) {
	if id.IsZero() {
		return "", fmt.Errorf("user id is required")
	}

	start := time.Now()
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		s.store.Dispatch(DeleteRejected{Message: err.Error()})
		s.observe(OperationDelete, metrics.ResultFailure, start)
		s.logger.Warn("Failed to delete user",
			zap.String("id", id.String()),
			zap.Error(err))
		return "", newOperationError(OperationDelete, id, err)
	}

	state := s.store.Dispatch(DeleteFulfilled{ID: id})
	s.observe(OperationDelete, metrics.ResultSuccess, start)
	metrics.SetUsers(len(state.Users))
	return id, nil
}

// Submit validates the form against the current list, then updates the user
// named by editingID or creates a new one when it is absent. Validation
// failures never reach the store.
func (s *DirectoryService) Submit(ctx context.Context, values FormValues, editingID ID) (User, error) {
	state := s.store.State()

	var exclude ID
	if !editingID.IsZero() {
		if _, ok := s.store.Get(editingID); ok {
			exclude = editingID
		}
	}

	profile, err := s.validator.Validate(values, state.Users, exclude)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			metrics.ObserveValidationFailure(verr.Field)
		}
		return User{}, err
	}

	if !exclude.IsZero() {
		return s.UpdateUser(ctx, User{ID: exclude, Profile: profile})
	}
	return s.CreateUser(ctx, profile)
}

// ResetError clears the last error
func (s *DirectoryService) ResetError() {
	s.store.Dispatch(ErrorReset{})
}

// AdvancePage moves to the next page if the last fetched page was full
func (s *DirectoryService) AdvancePage() {
	s.store.Dispatch(PageAdvanced{})
}

// Reset drops every user and restores the initial cursor
func (s *DirectoryService) Reset() {
	s.store.Dispatch(StateReset{})
	metrics.SetUsers(0)
}

// State returns a snapshot of the directory state
func (s *DirectoryService) State() DirectoryState {
	return s.store.State()
}

// Get returns the first user with the given id
func (s *DirectoryService) Get(id ID) (User, bool) {
	return s.store.Get(id)
}

// Subscribe registers a listener on the underlying store
func (s *DirectoryService) Subscribe(fn func(DirectoryState)) func() {
	return s.store.Subscribe(fn)
}

func (s *DirectoryService) observe(op, result string, start time.Time) {
	metrics.ObserveOperation(op, result, time.Since(start))
}
