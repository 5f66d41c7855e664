package dummydb

import (
	"sync"

	"github.com/sankofadev/ripoti/core/user"
)

type (
	DB struct {
		// a single lock guards both tables so invitation consumption
		// can touch them atomically
		sync.RWMutex
		users   map[string]*user.User
		invites map[string]*user.Invite
	}
)

func Open() (*DB, error) {
	db := &DB{
		users:   make(map[string]*user.User),
		invites: make(map[string]*user.Invite),
	}
	return db, nil
}
