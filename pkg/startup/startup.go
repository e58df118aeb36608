// Package startup brings the process's dependencies up in requirement order,
// retrying the whole graph with fibonacci backoff, and tears them down in the
// reverse of the order they actually started.
package startup

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Gobusters/ectologger"
)

type StartupDependency interface {
	GetName() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type StartupStatus int

const (
	StartupStatusPending StartupStatus = iota
	StartupStatusStarted
	StartupStatusStopped
	StartupStatusFailed
)

// Dependency is a StartupDependency built from closures. Nil hooks are no-ops.
type Dependency struct {
	Name     string
	Requires []string
	OnStart  func(ctx context.Context) error
	OnStop   func(ctx context.Context) error
}

func (d *Dependency) GetName() string     { return d.Name }
func (d *Dependency) DependsOn() []string { return d.Requires }

func (d *Dependency) Start(ctx context.Context) error { return call(ctx, d.OnStart) }
func (d *Dependency) Stop(ctx context.Context) error  { return call(ctx, d.OnStop) }

func call(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

type Startup struct {
	logger      ectologger.Logger
	maxAttempts int
	// retryUnit scales the backoff; one second outside tests
	retryUnit time.Duration

	deps     map[string]StartupDependency
	order    []string
	statuses map[string]StartupStatus
	started  []string
}

func NewStartup(logger ectologger.Logger, maxAttempts int) *Startup {
	return &Startup{
		logger:      logger,
		maxAttempts: max(maxAttempts, 1),
		retryUnit:   time.Second,
		deps:        map[string]StartupDependency{},
		statuses:    map[string]StartupStatus{},
	}
}

// AddDependency registers dep, replacing any earlier one with the same name.
func (s *Startup) AddDependency(dep StartupDependency) {
	name := dep.GetName()
	if _, ok := s.deps[name]; !ok {
		s.order = append(s.order, name)
	}
	s.deps[name] = dep
}

// Start brings every dependency up. Dependencies that started on an earlier
// attempt are not restarted.
func (s *Startup) Start(ctx context.Context) error {
	var err error
	prev, wait := 0, 1
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err = s.startAll(ctx); err == nil {
			return nil
		}
		s.logger.WithError(err).WithField("attempt", attempt).Errorf("Startup attempt %d of %d failed", attempt, s.maxAttempts)
		if attempt == s.maxAttempts {
			break
		}

		delay := time.Duration(wait) * s.retryUnit
		s.logger.Infof("Retrying startup in %s", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		prev, wait = wait, prev+wait
	}
	return fmt.Errorf("startup failed after %d attempts: %w", s.maxAttempts, err)
}

func (s *Startup) startAll(ctx context.Context) error {
	for _, name := range s.order {
		if err := s.start(ctx, name, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Startup) start(ctx context.Context, name string, path []string) error {
	dep, ok := s.deps[name]
	if !ok {
		return fmt.Errorf("unknown startup dependency %q", name)
	}
	if s.statuses[name] == StartupStatusStarted {
		return nil
	}
	if slices.Contains(path, name) {
		return fmt.Errorf("startup dependency cycle: %v -> %s", path, name)
	}
	for _, req := range dep.DependsOn() {
		if err := s.start(ctx, req, append(path, name)); err != nil {
			return err
		}
	}

	s.logger.WithField("dependency", name).Info("Starting dependency")
	if err := dep.Start(ctx); err != nil {
		s.statuses[name] = StartupStatusFailed
		return fmt.Errorf("%s: %w", name, err)
	}
	s.statuses[name] = StartupStatusStarted
	s.started = append(s.started, name)
	return nil
}

// Stop tears down what started, last started first, and returns the first
// failure after trying them all.
func (s *Startup) Stop(ctx context.Context) error {
	var first error
	for i := len(s.started) - 1; i >= 0; i-- {
		name := s.started[i]
		if s.statuses[name] != StartupStatusStarted {
			continue
		}
		log := s.logger.WithField("dependency", name)
		log.Info("Stopping dependency")
		if err := s.deps[name].Stop(ctx); err != nil {
			log.WithError(err).Error("Failed to stop dependency")
			if first == nil {
				first = err
			}
			continue
		}
		s.statuses[name] = StartupStatusStopped
	}
	return first
}

func (s *Startup) Status(name string) StartupStatus {
	return s.statuses[name]
}
