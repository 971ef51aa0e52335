package core

import (
	"strconv"
	"time"
)

// UserID identifies a user of the front-end (a chat id).
type UserID int64

func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseUserID parses the decimal form produced by String.
func ParseUserID(s string) (UserID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return UserID(v), nil
}

// Actor is the opaque identity that performs an operation. Authorization
// (is-admin, is-owner) is resolved by the caller before reaching the core;
// the core only records who acted and checks ownership where required.
type Actor struct {
	ID   UserID
	Name string
}

// System is the actor used for automatic transitions.
var System = Actor{Name: "system"}

func (a Actor) String() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID.String()
}

// Clock returns the current time. Components accept one so tests can pin it.
type Clock func() time.Time

// UTCNow is the default Clock.
func UTCNow() time.Time {
	return time.Now().UTC()
}
