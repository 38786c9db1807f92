package param

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/paramd/pkg/events"
	"github.com/cuemby/paramd/pkg/types"
)

// AnyValue matches any value in WaitParameter
const AnyValue = "*"

// waitRecheck bounds how long a wait relies on change events alone
const waitRecheck = time.Second

// WaitParameter blocks until name holds value, or any value when value is
// AnyValue, and returns the matching entry. It returns ctx.Err() when the
// context ends first.
func (s *Service) WaitParameter(ctx context.Context, cred types.Credentials, name, value string) (types.Entry, error) {
	if err := types.ValidateName(name); err != nil {
		return types.Entry{}, err
	}
	if value != AnyValue {
		if err := types.ValidateValue(value); err != nil {
			return types.Entry{}, err
		}
	}
	if err := s.perms.Check(cred, name, types.ModeRead); err != nil {
		return types.Entry{}, err
	}

	// subscribe before the first read so no commit falls between them
	sub := s.broker.Subscribe(
		events.WithName("wait"),
		events.WithBuffer(4),
		events.WithFilter(func(ev *events.Event) bool { return ev.Name == name }),
	)
	defer s.broker.Unsubscribe(sub)

	ticker := time.NewTicker(waitRecheck)
	defer ticker.Stop()

	for {
		entry, ok, err := s.current(name, value)
		if err != nil {
			return types.Entry{}, err
		}
		if ok {
			return entry, nil
		}

		select {
		case <-ctx.Done():
			return types.Entry{}, ctx.Err()
		case _, open := <-sub:
			if !open {
				return types.Entry{}, context.Canceled
			}
		case <-ticker.C:
			// events are dropped for slow subscribers
		}
	}
}

func (s *Service) current(name, want string) (types.Entry, bool, error) {
	h, found := s.ws.Find(name)
	if !found {
		return types.Entry{}, false, nil
	}
	value, commit, err := s.ws.Read(h)
	if errors.Is(err, types.ErrTransientRead) {
		return types.Entry{}, false, nil
	}
	if err != nil {
		return types.Entry{}, false, err
	}
	if want != AnyValue && value != want {
		return types.Entry{}, false, nil
	}
	return types.Entry{Name: name, Value: value, CommitID: commit}, true, nil
}
