package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/himanshub16/upnext-room/room"
)

// Service is the admission record and credential issuer of the room, plus
// the play history.
type Service interface {
	Login(ctx context.Context, user User) (room.Credential, error)
	GetUserByID(ctx context.Context, userID string) (*User, error)
	RecentPlays(ctx context.Context, limit int64) ([]Play, error)

	room.Admission
	room.History
	close()
}

type ServiceImpl struct {
	userRepo UserRepository
	playRepo PlayRepository

	jwtSecret     []byte
	credentialTTL time.Duration
	now           func() time.Time
}

func NewService(userRepo UserRepository, playRepo PlayRepository, jwtSecret []byte, credentialTTL time.Duration) *ServiceImpl {
	return &ServiceImpl{
		userRepo:      userRepo,
		playRepo:      playRepo,
		jwtSecret:     jwtSecret,
		credentialTTL: credentialTTL,
		now:           time.Now,
	}
}

// Login records user in the admission record and hands out a credential.
func (s *ServiceImpl) Login(ctx context.Context, user User) (room.Credential, error) {
	if user.UserID == "" {
		return room.Credential{}, errors.New("missing user_id")
	}
	if err := s.userRepo.CreateOrUpdateUser(ctx, user); err != nil {
		return room.Credential{}, err
	}
	return s.issueCredential(user.UserID)
}

func (s *ServiceImpl) GetUserByID(ctx context.Context, userID string) (*User, error) {
	return s.userRepo.GetUserByID(ctx, userID)
}

func (s *ServiceImpl) IsAdmitted(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}
	_, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		log.Println("admission lookup failed for", userID, err)
	}
	return err == nil
}

func (s *ServiceImpl) RefreshCredential(ctx context.Context, userID string) (room.Credential, error) {
	if _, err := s.userRepo.GetUserByID(ctx, userID); err != nil {
		return room.Credential{}, fmt.Errorf("refresh credential: %w", err)
	}
	return s.issueCredential(userID)
}

func (s *ServiceImpl) issueCredential(userID string) (room.Credential, error) {
	expiresAt := s.now().Add(s.credentialTTL)

	token := jwt.New(jwt.SigningMethodHS256)
	claims := token.Claims.(jwt.MapClaims)
	claims["user_id"] = userID
	claims["exp"] = expiresAt.Unix()
	t, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return room.Credential{}, fmt.Errorf("sign token: %w", err)
	}
	return room.Credential{Token: t, ExpiresAt: expiresAt}, nil
}

func (s *ServiceImpl) RecordPlay(ctx context.Context, track room.Track, submittedBy string, startedAt time.Time) error {
	_, err := s.playRepo.InsertPlay(ctx, Play{
		TrackID:     track.ID,
		TrackURI:    track.URI,
		TrackName:   track.Name,
		SubmittedBy: submittedBy,
		StartedAt:   startedAt.UnixNano() / int64(time.Millisecond),
	})
	return err
}

func (s *ServiceImpl) RecentPlays(ctx context.Context, limit int64) ([]Play, error) {
	return s.playRepo.RecentPlays(ctx, limit)
}

func (s *ServiceImpl) close() {
	s.userRepo.close()
	s.playRepo.close()
}
