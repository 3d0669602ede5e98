// Package netaccess talks to the per-company hotspot controller that
// enforces access. Every call carries the company's own credentials; no
// connection is shared between tenants or between calls.
package netaccess

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

const (
	KindRouterOS  = "routeros"
	KindSimulated = "simulated"
)

// Credentials identify one company's controller.
type Credentials struct {
	Kind     string
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
}

// Address returns host:port, applying the API default ports when Port is zero.
func (c Credentials) Address() string {
	port := c.Port
	if port == 0 {
		port = 8728
		if c.UseTLS {
			port = 8729
		}
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// String never includes the password.
func (c Credentials) String() string {
	return fmt.Sprintf("%s://%s@%s", c.Kind, c.Username, c.Address())
}

// Controller enables and disables hotspot logins keyed by token.
//
// CreateUser fails with apperror.ErrUserAlreadyExists when the token is
// already registered. DisableUser treats a missing user as success.
type Controller interface {
	CreateUser(ctx context.Context, creds Credentials, token, profile string) error
	EnableUser(ctx context.Context, creds Credentials, token string) error
	DisableUser(ctx context.Context, creds Credentials, token string) error
}

// Dispatcher routes each call to the implementation matching creds.Kind.
type Dispatcher struct {
	RouterOS  Controller
	Simulated Controller
}

func NewDispatcher(routerOS, simulated Controller) *Dispatcher {
	return &Dispatcher{RouterOS: routerOS, Simulated: simulated}
}

func (d *Dispatcher) pick(creds Credentials) (Controller, error) {
	switch creds.Kind {
	case KindRouterOS, "":
		if d.RouterOS != nil {
			return d.RouterOS, nil
		}
	case KindSimulated:
		if d.Simulated != nil {
			return d.Simulated, nil
		}
	}
	return nil, fmt.Errorf("no controller configured for kind %q", creds.Kind)
}

func (d *Dispatcher) CreateUser(ctx context.Context, creds Credentials, token, profile string) error {
	c, err := d.pick(creds)
	if err != nil {
		return configError(err)
	}
	return c.CreateUser(ctx, creds, token, profile)
}

func (d *Dispatcher) EnableUser(ctx context.Context, creds Credentials, token string) error {
	c, err := d.pick(creds)
	if err != nil {
		return configError(err)
	}
	return c.EnableUser(ctx, creds, token)
}

func (d *Dispatcher) DisableUser(ctx context.Context, creds Credentials, token string) error {
	c, err := d.pick(creds)
	if err != nil {
		return configError(err)
	}
	return c.DisableUser(ctx, creds, token)
}
