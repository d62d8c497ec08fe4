package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRepository serves canned pages and records every call
type fakeRepository struct {
	mu sync.Mutex

	pages     map[int][]User
	fetchErr  error
	createErr error
	updateErr error
	deleteErr error
	echo      *User

	fetched []int
	created []Profile
	updated []User
	deleted []ID
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{pages: make(map[int][]User)}
}

func (r *fakeRepository) FetchUsers(ctx context.Context, page, limit int) ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetched = append(r.fetched, page)
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	users := r.pages[page]
	if len(users) > limit {
		users = users[:limit]
	}
	return append([]User(nil), users...), nil
}

func (r *fakeRepository) CreateUser(ctx context.Context, profile Profile) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, profile)
	if r.createErr != nil {
		return nil, r.createErr
	}
	if r.echo != nil {
		echoed := *r.echo
		return &echoed, nil
	}
	return &User{ID: "101"}, nil
}

func (r *fakeRepository) UpdateUser(ctx context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, user)
	return r.updateErr
}

func (r *fakeRepository) DeleteUser(ctx context.Context, id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
	return r.deleteErr
}

// makeUsers builds n valid users with ids starting at first
func makeUsers(first, n int) []User {
	users := make([]User, 0, n)
	for i := first; i < first+n; i++ {
		users = append(users, User{
			ID: ID(fmt.Sprintf("%d", i)),
			Profile: Profile{
				Name:    fmt.Sprintf("User %c", 'A'+rune(i%26)),
				Email:   fmt.Sprintf("user%d@example.com", i),
				Phone:   fmt.Sprintf("98765%05d", i),
				Address: Address{Suite: fmt.Sprintf("Apt. %d", i), Street: "Kulas Light", City: "Gwenborough"},
			},
		})
	}
	return users
}

func newTestService(repo UserRepository, policy Policy) *DirectoryService {
	svc, err := NewDirectoryService(NewStore(zap.NewNop()), repo, NewValidator(), policy, zap.NewNop())
	if err != nil {
		panic(err)
	}
	var n int
	svc.newID = func() ID {
		n++
		return ID(fmt.Sprintf("local-%d", n))
	}
	return svc
}

func ids(users []User) []ID {
	out := make([]ID, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}

func TestFetchNextPage(t *testing.T) {
	ctx := context.Background()

	t.Run("FullPagesKeepMorePagesUntilShortPage", func(t *testing.T) {
		repo := newFakeRepository()
		repo.pages[1] = makeUsers(1, 5)
		repo.pages[2] = makeUsers(6, 5)
		repo.pages[3] = makeUsers(11, 2)
		repo.pages[4] = makeUsers(13, 5)
		svc := newTestService(repo, DefaultPolicy())

		for page := 1; page <= 2; page++ {
			_, err := svc.FetchNextPage(ctx, page)
			require.NoError(t, err)
			assert.True(t, svc.State().HasMorePages, "page %d was full", page)
		}

		_, err := svc.FetchNextPage(ctx, 3)
		require.NoError(t, err)
		assert.False(t, svc.State().HasMorePages)

		// a later full page does not revive pagination
		_, err = svc.FetchNextPage(ctx, 4)
		require.NoError(t, err)
		assert.False(t, svc.State().HasMorePages)

		svc.Reset()
		assert.True(t, svc.State().HasMorePages)
	})

	t.Run("AppendsWithoutDeduplication", func(t *testing.T) {
		repo := newFakeRepository()
		repo.pages[1] = makeUsers(1, 5)
		svc := newTestService(repo, DefaultPolicy())

		_, err := svc.FetchNextPage(ctx, 1)
		require.NoError(t, err)
		_, err = svc.FetchNextPage(ctx, 1)
		require.NoError(t, err)

		state := svc.State()
		assert.Len(t, state.Users, 10)
		assert.Equal(t, ids(state.Users[:5]), ids(state.Users[5:]))
		assert.False(t, state.IsLoading)
	})

	t.Run("FailureSetsLastError", func(t *testing.T) {
		repo := newFakeRepository()
		repo.pages[1] = makeUsers(1, 5)
		svc := newTestService(repo, DefaultPolicy())
		_, err := svc.FetchNextPage(ctx, 1)
		require.NoError(t, err)

		repo.fetchErr = errors.New("Network Error")
		_, err = svc.FetchNextPage(ctx, 2)
		require.Error(t, err)

		var opErr *OperationError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, OperationFetch, opErr.Operation)

		state := svc.State()
		assert.Equal(t, "Network Error", state.LastError)
		assert.False(t, state.IsLoading)
		assert.Len(t, state.Users, 5)
		assert.True(t, state.HasMorePages)

		// the next attempt clears the error when it starts
		repo.fetchErr = nil
		_, err = svc.FetchNextPage(ctx, 2)
		require.NoError(t, err)
		assert.False(t, svc.State().HasError())
	})

	t.Run("RejectsPageZero", func(t *testing.T) {
		repo := newFakeRepository()
		svc := newTestService(repo, DefaultPolicy())
		_, err := svc.FetchNextPage(ctx, 0)
		require.Error(t, err)
		assert.Empty(t, repo.fetched)
	})
}

func TestEndToEndPagination(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	repo.pages[1] = makeUsers(1, 5)
	repo.pages[2] = makeUsers(6, 3)
	svc := newTestService(repo, DefaultPolicy())

	_, err := svc.FetchNextPage(ctx, svc.State().CurrentPage)
	require.NoError(t, err)
	assert.True(t, svc.State().HasMorePages)

	svc.AdvancePage()
	assert.Equal(t, 2, svc.State().CurrentPage)

	_, err = svc.FetchNextPage(ctx, svc.State().CurrentPage)
	require.NoError(t, err)
	state := svc.State()
	assert.Len(t, state.Users, 8)
	assert.False(t, state.HasMorePages)

	svc.AdvancePage()
	assert.Equal(t, 2, svc.State().CurrentPage)
	assert.Equal(t, []int{1, 2}, repo.fetched)
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	profile := Profile{
		Name:    "Jane Doe",
		Email:   "jane@example.com",
		Phone:   "9876543210",
		Address: Address{Suite: "Suite 1", Street: "Main Street", City: "Delhi"},
	}

	t.Run("PrependsWithClientID", func(t *testing.T) {
		repo := newFakeRepository()
		repo.pages[1] = makeUsers(1, 5)
		svc := newTestService(repo, DefaultPolicy())
		_, err := svc.FetchNextPage(ctx, 1)
		require.NoError(t, err)

		created, err := svc.CreateUser(ctx, profile)
		require.NoError(t, err)

		state := svc.State()
		require.Len(t, state.Users, 6)
		assert.Equal(t, created, state.Users[0])
		assert.Equal(t, ID("local-1"), created.ID)
		assert.Equal(t, profile, created.Profile)
		assert.Equal(t, []Profile{profile}, repo.created)
		assert.False(t, state.IsLoading)
	})

	t.Run("ToleratesRemoteFailure", func(t *testing.T) {
		repo := newFakeRepository()
		repo.createErr = errors.New("Request failed with status code 500")
		svc := newTestService(repo, DefaultPolicy())

		created, err := svc.CreateUser(ctx, profile)
		require.NoError(t, err)

		state := svc.State()
		require.Len(t, state.Users, 1)
		assert.Equal(t, created.ID, state.Users[0].ID)
		assert.Equal(t, profile, state.Users[0].Profile)
		assert.False(t, state.HasError())
	})

	t.Run("StrictPolicySurfacesFailure", func(t *testing.T) {
		repo := newFakeRepository()
		repo.createErr = errors.New("Request failed with status code 500")
		policy := DefaultPolicy()
		policy.TolerateCreateFailure = false
		svc := newTestService(repo, policy)

		_, err := svc.CreateUser(ctx, profile)
		require.Error(t, err)

		state := svc.State()
		assert.Empty(t, state.Users)
		assert.Equal(t, "Request failed with status code 500", state.LastError)
	})

	t.Run("ServerPolicyUsesEchoedID", func(t *testing.T) {
		repo := newFakeRepository()
		repo.echo = &User{ID: "11"}
		policy := DefaultPolicy()
		policy.IDPolicy = IDPolicyServer
		svc := newTestService(repo, policy)

		first, err := svc.CreateUser(ctx, profile)
		require.NoError(t, err)
		assert.Equal(t, ID("11"), first.ID)
		assert.Equal(t, profile, first.Profile)

		// the same echoed id again would break id uniqueness
		second, err := svc.CreateUser(ctx, profile)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
		assert.Len(t, svc.State().Users, 2)
	})

	t.Run("ServerPolicyFallsBackWhenEchoHasNoID", func(t *testing.T) {
		repo := newFakeRepository()
		repo.echo = &User{}
		policy := DefaultPolicy()
		policy.IDPolicy = IDPolicyServer
		svc := newTestService(repo, policy)

		created, err := svc.CreateUser(ctx, profile)
		require.NoError(t, err)
		assert.Equal(t, ID("local-1"), created.ID)
	})

	t.Run("ResponsePolicyFillsMissingFields", func(t *testing.T) {
		repo := newFakeRepository()
		repo.echo = &User{ID: "42", Profile: Profile{Name: "Jane Server"}}
		policy := DefaultPolicy()
		policy.IDPolicy = IDPolicyResponse
		svc := newTestService(repo, policy)

		created, err := svc.CreateUser(ctx, profile)
		require.NoError(t, err)
		assert.Equal(t, ID("42"), created.ID)
		assert.Equal(t, "Jane Server", created.Name)
		assert.Equal(t, profile.Email, created.Email)
		assert.Equal(t, profile.Address, created.Address)
	})
}

func TestUpdateUser(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, policy Policy) (*DirectoryService, *fakeRepository) {
		repo := newFakeRepository()
		repo.pages[1] = makeUsers(1, 5)
		svc := newTestService(repo, policy)
		_, err := svc.FetchNextPage(ctx, 1)
		require.NoError(t, err)
		return svc, repo
	}

	t.Run("ReplacesInPlace", func(t *testing.T) {
		svc, repo := setup(t, DefaultPolicy())
		edited := svc.State().Users[2]
		edited.Name = "Edited Name"
		edited.Address.City = "Mumbai"

		got, err := svc.UpdateUser(ctx, edited)
		require.NoError(t, err)
		assert.Equal(t, edited, got)

		state := svc.State()
		assert.Len(t, state.Users, 5)
		assert.Equal(t, edited, state.Users[2])
		assert.Equal(t, []User{edited}, repo.updated)
		assert.False(t, state.IsLoading)
	})

	t.Run("UnknownIDIsNoop", func(t *testing.T) {
		svc, _ := setup(t, DefaultPolicy())
		before := svc.State().Users

		_, err := svc.UpdateUser(ctx, User{ID: "missing", Profile: Profile{Name: "Ghost"}})
		require.NoError(t, err)
		assert.Equal(t, before, svc.State().Users)
	})

	t.Run("ToleratesRemoteFailure", func(t *testing.T) {
		svc, repo := setup(t, DefaultPolicy())
		repo.updateErr = errors.New("Request failed with status code 404")
		edited := svc.State().Users[0]
		edited.Phone = "7000000000"

		_, err := svc.UpdateUser(ctx, edited)
		require.NoError(t, err)

		state := svc.State()
		assert.Equal(t, "7000000000", state.Users[0].Phone)
		assert.False(t, state.HasError())
		assert.False(t, state.IsLoading)
	})

	t.Run("StrictPolicySurfacesFailure", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.TolerateUpdateFailure = false
		svc, repo := setup(t, policy)
		repo.updateErr = errors.New("Request failed with status code 404")
		original := svc.State().Users[0]
		edited := original
		edited.Phone = "7000000000"

		_, err := svc.UpdateUser(ctx, edited)
		require.Error(t, err)

		state := svc.State()
		assert.Equal(t, original, state.Users[0])
		assert.Equal(t, "Request failed with status code 404", state.LastError)
		assert.False(t, state.IsLoading)
	})

	t.Run("RequiresID", func(t *testing.T) {
		svc, repo := setup(t, DefaultPolicy())
		_, err := svc.UpdateUser(ctx, User{})
		require.Error(t, err)
		assert.Empty(t, repo.updated)
	})
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()

	t.Run("RemovesEveryMatchAndKeepsOrder", func(t *testing.T) {
		repo := newFakeRepository()
		repo.pages[1] = makeUsers(1, 5)
		svc := newTestService(repo, DefaultPolicy())
		_, err := svc.FetchNextPage(ctx, 1)
		require.NoError(t, err)
		// a stale refetch leaves duplicates behind
		_, err = svc.FetchNextPage(ctx, 1)
		require.NoError(t, err)

		got, err := svc.DeleteUser(ctx, "3")
		require.NoError(t, err)
		assert.Equal(t, ID("3"), got)
		assert.Equal(t, []ID{"1", "2", "4", "5", "1", "2", "4", "5"}, ids(svc.State().Users))
	})

	t.Run("FailureKeepsUsers", func(t *testing.T) {
		repo := newFakeRepository()
		repo.pages[1] = makeUsers(1, 5)
		svc := newTestService(repo, DefaultPolicy())
		_, err := svc.FetchNextPage(ctx, 1)
		require.NoError(t, err)

		repo.deleteErr = errors.New("Network Error")
		_, err = svc.DeleteUser(ctx, "3")
		require.Error(t, err)

		state := svc.State()
		assert.Len(t, state.Users, 5)
		assert.Equal(t, "Network Error", state.LastError)

		svc.ResetError()
		assert.False(t, svc.State().HasError())
	})
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	valid := FormValues{
		Name:   "  John Smith ",
		Email:  " john@example.com",
		Phone:  "9876543210 ",
		Suite:  " 1 ",
		Street: "Main ",
		City:   " Delhi",
	}

	t.Run("CreatesTrimmedUser", func(t *testing.T) {
		repo := newFakeRepository()
		svc := newTestService(repo, DefaultPolicy())

		created, err := svc.Submit(ctx, valid, "")
		require.NoError(t, err)
		assert.Equal(t, Profile{
			Name:    "John Smith",
			Email:   "john@example.com",
			Phone:   "9876543210",
			Address: Address{Suite: "1", Street: "Main", City: "Delhi"},
		}, created.Profile)
		assert.Len(t, svc.State().Users, 1)
	})

	t.Run("ValidationFailureNeverReachesStore", func(t *testing.T) {
		repo := newFakeRepository()
		svc := newTestService(repo, DefaultPolicy())
		values := valid
		values.Name = "John123"

		_, err := svc.Submit(ctx, values, "")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "name", verr.Field)
		assert.Empty(t, svc.State().Users)
		assert.Empty(t, repo.created)
	})

	t.Run("EditKeepsOwnEmail", func(t *testing.T) {
		repo := newFakeRepository()
		repo.pages[1] = makeUsers(1, 5)
		svc := newTestService(repo, DefaultPolicy())
		_, err := svc.FetchNextPage(ctx, 1)
		require.NoError(t, err)

		existing, ok := svc.Get("2")
		require.True(t, ok)
		values := FormValuesFrom(existing)
		values.Street = "New Street"

		updated, err := svc.Submit(ctx, values, existing.ID)
		require.NoError(t, err)
		assert.Equal(t, existing.ID, updated.ID)
		assert.Equal(t, "New Street", svc.State().Users[1].Address.Street)
		assert.Len(t, svc.State().Users, 5)
		assert.Empty(t, repo.created)
	})

	t.Run("UnknownEditingIDCreates", func(t *testing.T) {
		repo := newFakeRepository()
		svc := newTestService(repo, DefaultPolicy())

		created, err := svc.Submit(ctx, valid, "gone")
		require.NoError(t, err)
		assert.Equal(t, ID("local-1"), created.ID)
		assert.Len(t, repo.created, 1)
	})
}

func TestConcurrentOperationsInterleave(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	repo.pages[1] = makeUsers(1, 5)
	svc := newTestService(repo, DefaultPolicy())
	var seq atomic.Int64
	svc.newID = func() ID { return ID(fmt.Sprintf("local-%d", seq.Add(1))) }

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.FetchNextPage(ctx, 1)
		}()
		go func(i int) {
			defer wg.Done()
			_, _ = svc.CreateUser(ctx, Profile{Name: fmt.Sprintf("User %d", i)})
		}(i)
	}
	wg.Wait()

	state := svc.State()
	assert.Len(t, state.Users, 60)
	assert.False(t, state.IsLoading)
}

func TestConcurrentCreatesWithSameEchoedID(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	repo.echo = &User{ID: "11"}
	policy := DefaultPolicy()
	policy.IDPolicy = IDPolicyServer
	svc := newTestService(repo, policy)
	var seq atomic.Int64
	svc.newID = func() ID { return ID(fmt.Sprintf("local-%d", seq.Add(1))) }

	var wg sync.WaitGroup
	created := make([]User, 20)
	for i := range created {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := svc.CreateUser(ctx, Profile{Name: fmt.Sprintf("User %d", i)})
			assert.NoError(t, err)
			created[i] = u
		}(i)
	}
	wg.Wait()

	state := svc.State()
	require.Len(t, state.Users, 20)
	seen := make(map[ID]bool)
	for _, u := range state.Users {
		assert.False(t, seen[u.ID], "duplicate id %s", u.ID)
		seen[u.ID] = true
	}
	assert.True(t, seen["11"])
	for _, u := range created {
		got, ok := svc.Get(u.ID)
		require.True(t, ok)
		assert.Equal(t, u, got)
	}
}

func TestNewDirectoryService(t *testing.T) {
	t.Run("RejectsUnknownIDPolicy", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.IDPolicy = "bogus"
		_, err := NewDirectoryService(NewStore(zap.NewNop()), newFakeRepository(), nil, policy, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bogus")
	})

	t.Run("FillsDefaults", func(t *testing.T) {
		svc, err := NewDirectoryService(NewStore(zap.NewNop()), newFakeRepository(), nil, Policy{}, nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultPageSize, svc.policy.PageSize)
		assert.Equal(t, IDPolicyClient, svc.policy.IDPolicy)
	})

	t.Run("RequiresCollaborators", func(t *testing.T) {
		_, err := NewDirectoryService(nil, newFakeRepository(), nil, DefaultPolicy(), nil)
		assert.Error(t, err)
		_, err = NewDirectoryService(NewStore(zap.NewNop()), nil, nil, DefaultPolicy(), nil)
		assert.Error(t, err)
	})
}
