package users

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// DefaultPageSize is the number of users requested per page
const DefaultPageSize = 5

// ID identifies a user. Fetched records carry numeric ids, locally created
// ones may carry opaque strings, so both JSON forms are accepted.
type ID string

// String returns the id as text
func (id ID) String() string {
	return string(id)
}

// IsZero reports whether no id has been assigned
func (id ID) IsZero() bool {
	return id == ""
}

// UnmarshalJSON accepts both JSON numbers and strings
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid user id %s: %w", data, err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes canonical decimal ids back as numbers. Anything else,
// including zero-padded digits like "007", stays a string.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.isCanonicalNumber() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) isCanonicalNumber() bool {
	if _, err := strconv.ParseUint(string(id), 10, 64); err != nil {
		return false
	}
	return id == "0" || id[0] != '0'
}

// Address is the postal part of a directory entry
type Address struct {
	Suite  string `json:"suite"`
	Street string `json:"street"`
	City   string `json:"city"`
}

// Profile holds every user field except the id. It is the payload of a create request.
type Profile struct {
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Phone   string  `json:"phone"`
	Address Address `json:"address"`
}

// User represents a directory entry
type User struct {
	ID ID `json:"id"`
	Profile
}

// DirectoryState is the observable state of the directory
type DirectoryState struct {
	Users        []User `json:"users"`
	IsLoading    bool   `json:"is_loading"`
	LastError    string `json:"last_error,omitempty"`
	CurrentPage  int    `json:"current_page"`
	HasMorePages bool   `json:"has_more_pages"`

	// Version counts the events applied by a Store. Subscribers can drop
	// snapshots older than one they already saw.
	Version uint64 `json:"version"`

	pendingFetches int
	pendingUpdates int
}

// InitialState returns the state of a freshly started directory
func InitialState() DirectoryState {
	return DirectoryState{
		Users:        []User{},
		CurrentPage:  1,
		HasMorePages: true,
	}
}

// HasError reports whether the last fetch or delete failed
func (s DirectoryState) HasError() bool {
	return s.LastError != ""
}

// FetchInFlight reports whether a page request has not resolved yet
func (s DirectoryState) FetchInFlight() bool {
	return s.pendingFetches > 0
}

// Clone returns a copy whose user slice does not alias the receiver's
func (s DirectoryState) Clone() DirectoryState {
	c := s
	c.Users = append([]User(nil), s.Users...)
	if c.Users == nil {
		c.Users = []User{}
	}
	return c
}

// FormValues are the raw, untrimmed field values of the edit/create form
type FormValues struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Suite  string `json:"suite"`
	Street string `json:"street"`
	City   string `json:"city"`
}

// FormValuesFrom prefills the form with an existing user
func FormValuesFrom(u User) FormValues {
	return FormValues{
		Name:   u.Name,
		Email:  u.Email,
		Phone:  u.Phone,
		Suite:  u.Address.Suite,
		Street: u.Address.Street,
		City:   u.Address.City,
	}
}
