package users

// Event is a state transition produced by an operation and consumed by Reduce
type Event interface {
	eventName() string
}

// FetchPending marks the start of a page request
type FetchPending struct{}

// FetchFulfilled carries the users of a resolved page request
type FetchFulfilled struct {
	Users    []User
	PageSize int
}

// FetchRejected carries the failure message of a page request
type FetchRejected struct {
	Message string
}

// CreateFulfilled carries a user to prepend, also used for tolerated failures.
// When FallbackID is set and User.ID is already in the list, the user is
// inserted under FallbackID instead.
type CreateFulfilled struct {
	User       User
	FallbackID ID
}

// CreateRejected is dispatched only when create failures are not tolerated
type CreateRejected struct {
	Message string
}

// UpdatePending marks the start of an update request
type UpdatePending struct{}

// UpdateFulfilled carries the full local payload to write in place
type UpdateFulfilled struct {
	User User
}

// UpdateRejected is dispatched only when update failures are not tolerated
type UpdateRejected struct {
	Message string
}

// DeleteFulfilled carries the id to filter out of the list
type DeleteFulfilled struct {
	ID ID
}

// DeleteRejected carries the failure message of a delete request
type DeleteRejected struct {
	Message string
}

// ErrorReset clears the last error
type ErrorReset struct{}

// PageAdvanced moves the cursor to the next page when there is one
type PageAdvanced struct{}

// StateReset restores the initial state
type StateReset struct{}

func (FetchPending) eventName() string    { return "fetch/pending" }
func (FetchFulfilled) eventName() string  { return "fetch/fulfilled" }
func (FetchRejected) eventName() string   { return "fetch/rejected" }
func (CreateFulfilled) eventName() string { return "create/fulfilled" }
func (CreateRejected) eventName() string  { return "create/rejected" }
func (UpdatePending) eventName() string   { return "update/pending" }
func (UpdateFulfilled) eventName() string { return "update/fulfilled" }
func (UpdateRejected) eventName() string  { return "update/rejected" }
func (DeleteFulfilled) eventName() string { return "delete/fulfilled" }
func (DeleteRejected) eventName() string  { return "delete/rejected" }
func (ErrorReset) eventName() string      { return "error/reset" }
func (PageAdvanced) eventName() string    { return "page/advanced" }
func (StateReset) eventName() string      { return "state/reset" }

// EventName returns the name used to log an event
func EventName(ev Event) string {
	return ev.eventName()
}

// Reduce applies one event to a state and returns the next state. The input
// state and its user slice are never modified.
func Reduce(s DirectoryState, ev Event) DirectoryState {
	next := s
	switch e := ev.(type) {
	case FetchPending:
		next.pendingFetches++
		next.LastError = ""

	case FetchFulfilled:
		next.pendingFetches = decrement(next.pendingFetches)
		users := make([]User, 0, len(s.Users)+len(e.Users))
		users = append(users, s.Users...)
		next.Users = append(users, e.Users...)
		next.HasMorePages = s.HasMorePages && len(e.Users) == e.PageSize

	case FetchRejected:
		next.pendingFetches = decrement(next.pendingFetches)
		next.LastError = e.Message

	case CreateFulfilled:
		user := e.User
		if !e.FallbackID.IsZero() && containsID(s.Users, user.ID) {
			user.ID = e.FallbackID
		}
		users := make([]User, 0, len(s.Users)+1)
		users = append(users, user)
		next.Users = append(users, s.Users...)

	case CreateRejected:
		next.LastError = e.Message

	case UpdatePending:
		next.pendingUpdates++
		next.LastError = ""

	case UpdateFulfilled:
		next.pendingUpdates = decrement(next.pendingUpdates)
		for i := range s.Users {
			if s.Users[i].ID == e.User.ID {
				next.Users = append([]User(nil), s.Users...)
				next.Users[i] = e.User
				break
			}
		}

	case UpdateRejected:
		next.pendingUpdates = decrement(next.pendingUpdates)
		next.LastError = e.Message

	case DeleteFulfilled:
		users := make([]User, 0, len(s.Users))
		for _, u := range s.Users {
			if u.ID != e.ID {
				users = append(users, u)
			}
		}
		next.Users = users

	case DeleteRejected:
		next.LastError = e.Message

	case ErrorReset:
		next.LastError = ""

	case PageAdvanced:
		if s.HasMorePages && s.pendingFetches == 0 {
			next.CurrentPage++
		}

	case StateReset:
		return InitialState()
	}

	next.IsLoading = next.pendingFetches > 0 || next.pendingUpdates > 0
	return next
}

func decrement(n int) int {
	if n > 0 {
		return n - 1
	}
	return 0
}

func containsID(users []User, id ID) bool {
	for _, u := range users {
		if u.ID == id {
			return true
		}
	}
	return false
}
