package netaccess

import (
	"context"
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/hotspotpay/hotspot/internal/pkg/apperror"
	"github.com/hotspotpay/hotspot/internal/pkg/token"
)

// Simulated keeps hotspot users in memory and logs every call. It backs
// companies without a real controller and local development.
type Simulated struct {
	mu    sync.Mutex
	users map[string]*SimulatedUser
}

type SimulatedUser struct {
	Profile string
	Enabled bool
}

func NewSimulated() *Simulated {
	return &Simulated{users: make(map[string]*SimulatedUser)}
}

func key(creds Credentials, user string) string {
	return creds.Address() + "/" + user
}

func (s *Simulated) CreateUser(_ context.Context, creds Credentials, user, profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[key(creds, user)]; ok {
		return errAlreadyExists
	}
	s.users[key(creds, user)] = &SimulatedUser{Profile: profile}
	log.Infof("[Simulated Controller] Created user %s (profile %s) for %s", token.Mask(user), profile, creds.Host)
	return nil
}

func (s *Simulated) EnableUser(_ context.Context, creds Credentials, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[key(creds, user)]
	if !ok {
		return apperror.Inconsistency("hotspot user missing on controller during enable user", ErrUserNotFound)
	}
	u.Enabled = true
	log.Infof("[Simulated Controller] Enabled user %s for %s", token.Mask(user), creds.Host)
	return nil
}

func (s *Simulated) DisableUser(_ context.Context, creds Credentials, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[key(creds, user)]; ok {
		u.Enabled = false
	}
	log.Infof("[Simulated Controller] Disabled user %s for %s", token.Mask(user), creds.Host)
	return nil
}

// User returns a copy of the stored user, if any.
func (s *Simulated) User(creds Credentials, user string) (SimulatedUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[key(creds, user)]
	if !ok {
		return SimulatedUser{}, false
	}
	return *u, true
}
