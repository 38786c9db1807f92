package param

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/paramd/pkg/events"
	"github.com/cuemby/paramd/pkg/log"
	"github.com/cuemby/paramd/pkg/metrics"
	"github.com/cuemby/paramd/pkg/storage"
	"github.com/cuemby/paramd/pkg/types"
	"github.com/cuemby/paramd/pkg/workspace"
)

// LabelResolver maps a name or name prefix to the label reference stored on
// new nodes
type LabelResolver interface {
	LabelRef(name string) uint32
}

// Config holds the collaborators of a Service
type Config struct {
	// Workspace is the writable workspace the service owns
	Workspace *workspace.Workspace
	// Permissions gates every access
	Permissions Permissions
	// Labels assigns label references to created nodes; nil stores 0
	Labels LabelResolver
	// Store journals persist.* parameters; nil disables persistence
	Store storage.ParamStore
	// Broker receives change events; a private broker is started when nil
	Broker *events.Broker
}

// Service is the single writer of a parameter workspace
type Service struct {
	view

	labels      LabelResolver
	store       storage.ParamStore
	broker      *events.Broker
	ownedBroker bool

	// serializes the write-once check of const. names with their write
	constMu sync.Mutex
}

// NewService creates a parameter service over a writable workspace
func NewService(cfg Config) (*Service, error) {
	if cfg.Workspace == nil {
		return nil, fmt.Errorf("workspace is required")
	}
	if cfg.Workspace.ReadOnly() {
		return nil, fmt.Errorf("service needs a writable workspace: %w", types.ErrReadOnly)
	}
	if cfg.Permissions == nil {
		return nil, fmt.Errorf("permissions are required")
	}

	s := &Service{
		view: view{
			ws:     cfg.Workspace,
			perms:  cfg.Permissions,
			logger: log.WithComponent("param"),
		},
		labels: cfg.Labels,
		store:  cfg.Store,
		broker: cfg.Broker,
	}
	if s.broker == nil {
		s.broker = events.NewBroker()
		s.broker.Start()
		s.ownedBroker = true
	}
	return s, nil
}

// Broker returns the broker change events are published on
func (s *Service) Broker() *events.Broker {
	return s.broker
}

// Workspace returns the underlying workspace
func (s *Service) Workspace() *workspace.Workspace {
	return s.ws
}

// SetParameter writes value to name on behalf of cred and returns the new
// commit id
func (s *Service) SetParameter(cred types.Credentials, name, value string) (uint32, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.WriteDuration)

	commit, err := s.setChecked(cred, name, value)
	metrics.ParamWritesTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		s.logger.Debug().Err(err).Str("param", name).Stringer("cred", cred).Msg("set failed")
	}
	return commit, err
}

func (s *Service) setChecked(cred types.Credentials, name, value string) (uint32, error) {
	if err := types.ValidateName(name); err != nil {
		return 0, err
	}
	if err := types.ValidateValue(value); err != nil {
		return 0, err
	}
	if err := s.perms.Check(cred, name, types.ModeWrite); err != nil {
		return 0, err
	}
	return s.set(name, value, events.EventParamChanged, true)
}

// set commits a validated write. It is also the load path, which runs
// without a caller and therefore without a permission check.
func (s *Service) set(name, value string, kind events.EventType, journal bool) (uint32, error) {
	var labelOf workspace.LabelFunc
	if s.labels != nil {
		labelOf = s.labels.LabelRef
	}
	h, err := s.ws.CreateOrFind(name, labelOf)
	if err != nil {
		return 0, err
	}

	if types.IsConst(name) {
		s.constMu.Lock()
		defer s.constMu.Unlock()
		if _, err := s.ws.CommitID(h); err == nil {
			return 0, fmt.Errorf("%s is already set: %w", name, types.ErrReadOnly)
		}
	}

	commit, err := s.ws.Write(h, value)
	if err != nil {
		return 0, err
	}

	if journal && s.store != nil && types.IsPersistent(name) {
		if err := s.store.Save(name, value); err != nil {
			metrics.PersistWritesTotal.WithLabelValues("error").Inc()
			s.logger.Error().Err(err).Str("param", name).Msg("failed to journal persistent parameter")
		} else {
			metrics.PersistWritesTotal.WithLabelValues("ok").Inc()
		}
	}

	s.broker.Publish(&events.Event{
		Type:     kind,
		Name:     name,
		Value:    value,
		CommitID: commit,
	})
	return commit, nil
}

// LoadDefaults loads parameter sources in order and returns the number of
// values written. Override sources replace earlier values and add-only
// sources only create missing names. Bad records are logged and skipped; an
// unreadable source is returned as an error after the remaining sources
// have been loaded.
func (s *Service) LoadDefaults(sources []types.Source) (int, error) {
	var errs []error
	total := 0
	for _, src := range sources {
		mode := src.Mode
		if mode == "" {
			mode = types.LoadOverride
		}
		logger := s.logger.With().Str("source", src.Path).Str("mode", string(mode)).Logger()

		n := 0
		_, err := storage.LoadSource(src.Path, func(name, value string) error {
			if mode == types.LoadAddOnly {
				if _, exists := s.ws.Find(name); exists {
					return nil
				}
			}
			if _, err := s.set(name, value, events.EventParamChanged, false); err != nil {
				if errors.Is(err, types.ErrCapacityExceeded) {
					return err
				}
				logger.Warn().Err(err).Str("param", name).Msg("skipping default parameter")
				return nil
			}
			n++
			return nil
		})
		total += n
		if err != nil {
			logger.Error().Err(err).Msg("failed to load parameter source")
			errs = append(errs, fmt.Errorf("%s: %w", src.Path, err))
			continue
		}
		logger.Info().Int("params", n).Msg("parameter source loaded")
	}
	return total, errors.Join(errs...)
}

// LoadPersisted restores journaled persist.* parameters over the defaults
func (s *Service) LoadPersisted() (int, error) {
	if s.store == nil {
		return 0, nil
	}
	n := 0
	err := s.store.ForEach(func(name string, rec storage.Record) error {
		if !types.IsPersistent(name) {
			s.logger.Warn().Str("param", name).Msg("ignoring non-persistent journal record")
			return nil
		}
		if _, err := s.set(name, rec.Value, events.EventParamRestored, false); err != nil {
			if errors.Is(err, types.ErrCapacityExceeded) {
				return err
			}
			s.logger.Warn().Err(err).Str("param", name).Msg("skipping persisted parameter")
			return nil
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("failed to load persisted parameters: %w", err)
	}
	s.logger.Info().Int("params", n).Msg("persisted parameters restored")
	return n, nil
}

// Close stops the private broker and closes the journal. The workspace is
// left to its owner.
func (s *Service) Close() error {
	if s.ownedBroker {
		s.broker.Stop()
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
