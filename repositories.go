package main

import (
	"context"
	"errors"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository interface {
	CreateOrUpdateUser(ctx context.Context, user User) error
	GetUserByID(ctx context.Context, userID string) (*User, error)
	close()
}

type PlayRepository interface {
	InsertPlay(ctx context.Context, play Play) (int64, error)
	RecentPlays(ctx context.Context, limit int64) ([]Play, error)
	close()
}
