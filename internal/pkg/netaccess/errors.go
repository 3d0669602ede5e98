package netaccess

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/go-routeros/routeros/v3"

	"github.com/hotspotpay/hotspot/internal/pkg/apperror"
)

// ErrUserNotFound is returned internally when a lookup by name finds nothing.
var ErrUserNotFound = errors.New("hotspot user not found")

var errAlreadyExists = apperror.New(apperror.KindUserAlreadyExists, "", "hotspot user already exists")

func configError(err error) error {
	return apperror.Inconsistency("controller is not configured", err)
}

// mapError translates a RouterOS client error into the service taxonomy.
// Device replies ("!trap") describe a request the router refused; anything
// else is a transport failure and therefore transient.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, ErrUserNotFound) {
		return apperror.Inconsistency("hotspot user missing on controller during "+op, err)
	}

	var devErr *routeros.DeviceError
	if errors.As(err, &devErr) {
		msg := strings.ToLower(devErr.Error())
		switch {
		case strings.Contains(msg, "already have"), strings.Contains(msg, "already exists"):
			return apperror.Wrap(apperror.KindUserAlreadyExists, "", "hotspot user already exists", err)
		case strings.Contains(msg, "no such item"):
			return ErrUserNotFound
		case strings.Contains(msg, "cannot log in"), strings.Contains(msg, "invalid user name or password"):
			return apperror.Inconsistency("controller rejected the API login", err)
		default:
			return apperror.Inconsistency("controller refused "+op, err)
		}
	}

	if errors.Is(err, context.Canceled) {
		return apperror.GatewayUnavailable("controller call cancelled during "+op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return apperror.GatewayUnavailable("controller unreachable during "+op, err)
	}
	return apperror.GatewayUnavailable("controller connection failed during "+op, err)
}
