package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/sankofadev/ripoti/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email, pwd, role string,
	scope user.Scope,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Email:     email,
		Role:      role,
		IsActive:  isActive,
		Scope:     scope,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateInvite(
	t *testing.T,
	repo user.InviteRepository,
	email, role string,
	scope user.Scope,
	createdAt ...time.Time,
) user.Invite {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	inv := user.Invite{
		Email:     email,
		Role:      role,
		Status:    user.InviteStatusPending,
		Scope:     scope,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	inv, err := repo.CreateInvite(context.Background(), inv)
	if err != nil {
		t.Fatalf("CreateInvite() failed: %v", err)
	}
	return inv
}
