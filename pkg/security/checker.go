package security

import (
	"errors"
	"fmt"

	"github.com/cuemby/paramd/pkg/log"
	"github.com/cuemby/paramd/pkg/metrics"
	"github.com/cuemby/paramd/pkg/types"
	"github.com/rs/zerolog"
)

// Checker is one pluggable permission engine
type Checker interface {
	// Name identifies the checker in logs and metrics
	Name() string
	// Init loads the checker's policy. It is idempotent and may be retried
	// after a failure.
	Init() error
	// Available reports whether the checker has a usable policy
	Available() bool
	// CheckPermission decides whether cred may access name in mode
	CheckPermission(cred types.Credentials, name string, mode types.AccessMode) types.Decision
	// Free releases the checker's policy; Init may load it again
	Free() error
}

// Dispatcher combines checkers with fail-closed composition: an access is
// permitted only when every checker permits it.
type Dispatcher struct {
	checkers []Checker
	recovery bool
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher over checkers. In recovery mode a
// checker that cannot be made available is skipped instead of forbidding;
// recovery mode must be requested explicitly and is logged.
func NewDispatcher(recovery bool, checkers ...Checker) *Dispatcher {
	d := &Dispatcher{
		checkers: checkers,
		recovery: recovery,
		logger:   log.WithComponent("security"),
	}
	if recovery {
		d.logger.Warn().Msg("recovery mode: unavailable checkers will be skipped")
	}
	return d
}

// Init initializes every checker. Failures are returned joined but leave the
// dispatcher usable: affected checkers forbid until a later retry succeeds.
func (d *Dispatcher) Init() error {
	var errs []error
	for _, c := range d.checkers {
		if err := c.Init(); err != nil {
			d.logger.Error().Err(err).Str("checker", c.Name()).Msg("checker unavailable")
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		} else {
			d.logger.Info().Str("checker", c.Name()).Msg("checker ready")
		}
	}
	return errors.Join(errs...)
}

// Recovery reports whether the dispatcher runs in recovery mode
func (d *Dispatcher) Recovery() bool {
	return d.recovery
}

// Ready returns an error naming the checkers that cannot be loaded. In
// recovery mode skipped checkers do not count against readiness.
func (d *Dispatcher) Ready() error {
	if len(d.checkers) == 0 && !d.recovery {
		return fmt.Errorf("no checkers configured: %w", types.ErrPolicyUnavailable)
	}
	var errs []error
	for _, c := range d.checkers {
		if c.Available() {
			continue
		}
		if err := c.Init(); err == nil && c.Available() {
			continue
		} else if !d.recovery {
			if err == nil {
				err = types.ErrPolicyUnavailable
			}
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// CheckPermission consults every checker. Any Forbid, or an unavailable
// checker outside recovery mode, yields Forbid.
func (d *Dispatcher) CheckPermission(cred types.Credentials, name string, mode types.AccessMode) types.Decision {
	if len(d.checkers) == 0 && !d.recovery {
		return types.Forbid
	}
	for _, c := range d.checkers {
		if !c.Available() {
			// retry the lazy load before giving up on it
			if err := c.Init(); err != nil || !c.Available() {
				if d.recovery {
					d.logger.Warn().Str("checker", c.Name()).Str("param", name).Msg("skipping unavailable checker")
					continue
				}
				metrics.PermissionDenied.WithLabelValues(c.Name(), mode.String()).Inc()
				d.logger.Debug().Str("checker", c.Name()).Str("param", name).Msg("checker unavailable, forbidding")
				return types.Forbid
			}
		}
		if c.CheckPermission(cred, name, mode) != types.Permit {
			metrics.PermissionDenied.WithLabelValues(c.Name(), mode.String()).Inc()
			d.logger.Debug().
				Str("checker", c.Name()).
				Str("param", name).
				Str("mode", mode.String()).
				Stringer("cred", cred).
				Msg("permission denied")
			return types.Forbid
		}
	}
	return types.Permit
}

// Check is CheckPermission returning ErrForbidden on denial
func (d *Dispatcher) Check(cred types.Credentials, name string, mode types.AccessMode) error {
	if d.CheckPermission(cred, name, mode) != types.Permit {
		return fmt.Errorf("%s %s by %s: %w", mode, name, cred, types.ErrForbidden)
	}
	return nil
}

// Close frees every checker
func (d *Dispatcher) Close() error {
	var errs []error
	for _, c := range d.checkers {
		if err := c.Free(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}
