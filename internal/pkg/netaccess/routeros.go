package netaccess

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/go-routeros/routeros/v3"
	"github.com/gofiber/fiber/v2/log"

	"github.com/hotspotpay/hotspot/internal/pkg/token"
)

const (
	hotspotUserPath   = "/ip/hotspot/user"
	hotspotActivePath = "/ip/hotspot/active"
)

// apiConn is the subset of *routeros.Client used here.
type apiConn interface {
	Run(sentence ...string) (*routeros.Reply, error)
}

type dialFunc func(ctx context.Context, creds Credentials, timeout time.Duration) (apiConn, func(), error)

// RouterOS manages MikroTik hotspot users over the RouterOS API.
type RouterOS struct {
	Timeout time.Duration
	// InsecureSkipVerify accepts the self-signed certificates routers ship with.
	InsecureSkipVerify bool

	dial dialFunc
}

func NewRouterOS(timeout time.Duration, insecureSkipVerify bool) *RouterOS {
	r := &RouterOS{Timeout: timeout, InsecureSkipVerify: insecureSkipVerify}
	r.dial = r.dialDevice
	return r
}

func (r *RouterOS) dialDevice(ctx context.Context, creds Credentials, timeout time.Duration) (apiConn, func(), error) {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		c   *routeros.Client
		err error
	)
	if creds.UseTLS {
		c, err = routeros.DialTLSTimeout(creds.Address(), creds.Username, creds.Password,
			&tls.Config{InsecureSkipVerify: r.InsecureSkipVerify}, timeout)
	} else {
		c, err = routeros.DialTimeout(creds.Address(), creds.Username, creds.Password, timeout)
	}
	if err != nil {
		return nil, nil, err
	}
	return c, func() { c.Close() }, nil
}

// withConn opens a connection for exactly one operation and always closes it.
func (r *RouterOS) withConn(ctx context.Context, creds Credentials, op string, fn func(conn apiConn) error) error {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	conn, release, err := r.dial(ctx, creds, timeout)
	if err != nil {
		return mapError(op, err)
	}
	defer release()

	return mapError(op, fn(conn))
}

// findUserID returns the .id of the hotspot user named user.
func findUserID(conn apiConn, user string) (string, error) {
	reply, err := conn.Run(hotspotUserPath+"/print", "?name="+user, "=.proplist=.id,name,disabled")
	if err != nil {
		return "", err
	}
	for _, re := range reply.Re {
		if re.Map["name"] == user {
			return re.Map[".id"], nil
		}
	}
	return "", ErrUserNotFound
}

// CreateUser adds the hotspot user disabled; EnableUser grants access.
func (r *RouterOS) CreateUser(ctx context.Context, creds Credentials, user, profile string) error {
	return r.withConn(ctx, creds, "create user", func(conn apiConn) error {
		if _, err := findUserID(conn, user); err == nil {
			return mapError("create user", errAlreadyExists)
		} else if err != ErrUserNotFound {
			return err
		}

		_, err := conn.Run(hotspotUserPath+"/add",
			"=name="+user,
			"=password="+user,
			"=profile="+profile,
			"=disabled=yes",
			"=comment=hotspotpay",
		)
		if err != nil {
			return err
		}
		log.Infof("[RouterOS] Created hotspot user %s (profile %s) on %s", token.Mask(user), profile, creds.Host)
		return nil
	})
}

func (r *RouterOS) EnableUser(ctx context.Context, creds Credentials, user string) error {
	return r.withConn(ctx, creds, "enable user", func(conn apiConn) error {
		id, err := findUserID(conn, user)
		if err != nil {
			if err == ErrUserNotFound {
				return configError(err)
			}
			return err
		}
		if _, err := conn.Run(hotspotUserPath+"/enable", "=.id="+id); err != nil {
			return err
		}
		log.Infof("[RouterOS] Enabled hotspot user %s on %s", token.Mask(user), creds.Host)
		return nil
	})
}

// DisableUser disables the login and drops any live hotspot session for it.
func (r *RouterOS) DisableUser(ctx context.Context, creds Credentials, user string) error {
	return r.withConn(ctx, creds, "disable user", func(conn apiConn) error {
		id, err := findUserID(conn, user)
		if err == ErrUserNotFound {
			log.Warnf("[RouterOS] Hotspot user %s not found on %s, nothing to disable", token.Mask(user), creds.Host)
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := conn.Run(hotspotUserPath+"/disable", "=.id="+id); err != nil {
			return err
		}

		active, err := conn.Run(hotspotActivePath+"/print", "?user="+user, "=.proplist=.id")
		if err != nil {
			return err
		}
		for _, re := range active.Re {
			if _, err := conn.Run(hotspotActivePath+"/remove", "=.id="+re.Map[".id"]); err != nil {
				return err
			}
		}
		log.Infof("[RouterOS] Disabled hotspot user %s on %s (%d live sessions dropped)", token.Mask(user), creds.Host, len(active.Re))
		return nil
	})
}
