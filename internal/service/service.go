package service

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"wireit/internal/events"
	"wireit/internal/fingerprint"
	"wireit/internal/manifest"
	"wireit/internal/procexec"
	"wireit/internal/wirelog"
)

// Service is one script's service-lifecycle instance, scoped to a single
// Manager (one executor instance, in spec.md's terms).
type Service struct {
	Reference manifest.Reference

	hub *events.Hub

	mu          sync.Mutex
	state       State
	fingerprint fingerprint.Fingerprint
	handle      *procexec.Handle
	ownsHandle  bool // false for a handle inherited from an adoptee we have not yet taken ownership of killing.

	ready      chan struct{} // closed once state reaches started or failed.
	startOnce  sync.Once
	startErr   error
	terminated chan struct{} // closed exactly once, on stopped or failed.
	termOnce   sync.Once

	stopRequested chan struct{} // closed by Stop to distinguish a requested exit from an unexpected one.
	stopOnce      sync.Once
}

func newService(ref manifest.Reference, hub *events.Hub) *Service {
	return &Service{
		Reference:     ref,
		hub:           hub,
		state:         StateInitial,
		ready:         make(chan struct{}),
		terminated:    make(chan struct{}),
		stopRequested: make(chan struct{}),
	}
}

// State returns the service's current state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Fingerprint returns the fingerprint this service was (or is being)
// brought up with. Only meaningful once past StateFingerprinting, per the
// invariant in spec.md §4.4 ("a service's fingerprint is observable only in
// {stoppingAdoptee, unstarted, depsStarting, starting, started}").
func (s *Service) Fingerprint() fingerprint.Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fingerprint
}

// Terminated returns a channel closed exactly once the service reaches
// stopped or failed (never on detached — a detached service's promise is
// inherited by whichever service adopts it).
func (s *Service) Terminated() <-chan struct{} { return s.terminated }

func (s *Service) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !isAllowedTransition(s.state, to) {
		return &transitionError{ref: s.Reference, from: s.state, to: to}
	}
	s.state = to
	return nil
}

func (s *Service) publish(kind events.Kind, detail string) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(kind, s.Reference.String(), detail)
}

// bringUp drives the service from initial through to started or failed,
// consulting adoptee (the same-named service from the previous watch
// iteration, or nil) for continuity. It returns only after the service has
// reached a settled state (started, detached-via-adoption, or failed).
func (s *Service) bringUp(ctx context.Context, cfg *manifest.Config, fp fingerprint.Fingerprint, adoptee *Service, depServices []*Service) error {
	if err := s.transition(StateExecutingDeps); err != nil {
		return err
	}
	// Dependencies (including any service-kind dependencies) are already
	// resolved by the caller (internal/executor runs every dependency,
	// service or not, before invoking Ensure for this reference), so this
	// state is passed through rather than re-run here.
	if err := s.transition(StateFingerprinting); err != nil {
		return err
	}
	s.mu.Lock()
	s.fingerprint = fp
	s.mu.Unlock()

	adopted, err := s.resolveAdoption(ctx, adoptee, fp)
	if err != nil {
		return s.fail(err)
	}

	if err := s.transition(StateUnstarted); err != nil {
		return s.fail(err)
	}
	if err := s.transition(StateDepsStarting); err != nil {
		return s.fail(err)
	}
	// Every service-kind dependency already completed Ensure (blocking)
	// before this call, per the same reasoning as executingDeps above; this
	// is asserted defensively rather than re-awaited.
	for _, dep := range depServices {
		if dep.State() != StateStarted {
			return s.fail(fmt.Errorf("service %s: dependency %s is not started", s.Reference, dep.Reference))
		}
	}
	if err := s.transition(StateStarting); err != nil {
		return s.fail(err)
	}

	if adopted {
		s.publish(events.KindServiceTransition, "adopted running child from previous iteration")
	} else if err := s.spawn(ctx, cfg); err != nil {
		return s.fail(err)
	}

	if err := s.transition(StateStarted); err != nil {
		return s.fail(err)
	}
	s.publish(events.KindServiceTransition, "started")

	go s.monitor(ctx, depServices)
	return nil
}

// resolveAdoption implements the fingerprinting->{unstarted,stoppingAdoptee}
// branch: a same-fingerprint adoptee still running hands over its child
// directly; otherwise any adoptee is stopped first.
func (s *Service) resolveAdoption(ctx context.Context, adoptee *Service, fp fingerprint.Fingerprint) (adopted bool, err error) {
	if adoptee != nil && adoptee.State() == StateStarted && adoptee.Fingerprint().Equal(fp) {
		handle, ok := adoptee.detach()
		if ok {
			s.mu.Lock()
			s.handle = handle
			s.ownsHandle = true
			s.mu.Unlock()
			return true, nil
		}
	}

	if err := s.transition(StateStoppingAdoptee); err != nil {
		return false, err
	}
	if adoptee != nil {
		adoptee.Stop(ctx)
	}
	return false, nil
}

// detach transitions an adoptee from started to detached and hands its
// child handle to the new owner without killing it.
func (s *Service) detach() (*procexec.Handle, bool) {
	if err := s.transition(StateDetached); err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownsHandle = false
	return s.handle, true
}

func (s *Service) spawn(ctx context.Context, cfg *manifest.Config) error {
	logger := wirelog.WithService(s.Reference.String(), string(StateStarting))

	var readyRe *regexp.Regexp
	if cfg.Service.ReadyWhenLineMatches != "" {
		re, err := regexp.Compile(cfg.Service.ReadyWhenLineMatches)
		if err != nil {
			return fmt.Errorf("service %s: invalid readyWhen pattern: %w", s.Reference, err)
		}
		readyRe = re
	}

	readyCh := make(chan struct{})
	var readyOnce sync.Once
	signalReady := func() { readyOnce.Do(func() { close(readyCh) }) }

	onLine := func(stream, line string) {
		logger.Debug("service output", "stream", stream, "line", line)
		if readyRe != nil && readyRe.MatchString(line) {
			signalReady()
		}
	}

	handle, err := procexec.Spawn(ctx, cfg.Reference.PackageDir, cfg.Command, cfg.Env, cfg.ExtraArgs, onLine)
	if err != nil {
		return fmt.Errorf("service %s: spawn: %w", s.Reference, err)
	}
	s.mu.Lock()
	s.handle = handle
	s.ownsHandle = true
	s.mu.Unlock()

	if readyRe == nil {
		// No readyWhen pattern: process-started is readiness (spec.md §4.4:
		// "on child-started signal (either process-started or readiness
		// line match)").
		signalReady()
	}

	select {
	case <-readyCh:
		return nil
	case <-handle.Done():
		exitCode, waitErr := handle.Wait()
		if waitErr != nil {
			return fmt.Errorf("service %s: exited before becoming ready: %w", s.Reference, waitErr)
		}
		return fmt.Errorf("service %s: exited (code %d) before becoming ready", s.Reference, exitCode)
	case <-ctx.Done():
		handle.Kill()
		return ctx.Err()
	}
}

// monitor watches for the child's own exit or an upstream service's
// termination while started, transitioning to failing/failed, per spec.md
// §4.4 ("started -> on upstream service exit -> failing -> on this child's
// exit -> failed").
func (s *Service) monitor(ctx context.Context, depServices []*Service) {
	var handle *procexec.Handle
	s.mu.Lock()
	handle = s.handle
	s.mu.Unlock()
	if handle == nil {
		return
	}

	cases := make([]<-chan struct{}, 0, len(depServices)+2)
	cases = append(cases, handle.Done(), s.stopRequested)
	for _, dep := range depServices {
		cases = append(cases, dep.Terminated())
	}

	idx := waitAny(cases)
	switch idx {
	case 0: // the child exited on its own.
		select {
		case <-s.stopRequested:
			// Stop() is already driving stopping->stopped; nothing to do.
		default:
			_ = s.transition(StateFailing)
			_ = s.transition(StateFailed)
			s.publish(events.KindServiceTransition, "failed: child exited unexpectedly")
			s.resolveTerminated()
		}
	case 1: // Stop() requested; it owns the stopping->stopped transition.
	default: // an upstream dependency terminated first.
		_ = s.transition(StateFailing)
		handle.Kill()
		_, _ = handle.Wait()
		_ = s.transition(StateFailed)
		s.publish(events.KindServiceTransition, "failed: dependency service exited")
		s.resolveTerminated()
	}
}

// waitAny blocks until any of chans is closed/readable, and returns its
// index. Used instead of a fixed select because the dependency count is
// dynamic.
func waitAny(chans []<-chan struct{}) int {
	type result struct{ idx int }
	done := make(chan result, len(chans))
	for i, c := range chans {
		i, c := i, c
		go func() {
			<-c
			done <- result{idx: i}
		}()
	}
	r := <-done
	return r.idx
}

func (s *Service) fail(cause error) error {
	_ = s.transition(StateFailing)
	_ = s.transition(StateFailed)
	s.publish(events.KindServiceTransition, "failed: "+cause.Error())
	s.resolveTerminated()
	return cause
}

func (s *Service) resolveTerminated() {
	s.termOnce.Do(func() { close(s.terminated) })
}

// Stop transitions a started service to stopping, kills its child, waits
// for exit, and resolves Terminated exactly once (spec.md §4.4: "started ->
// on abort or 'no more consumers' -> stopping -> on child exit -> stopped").
func (s *Service) Stop(ctx context.Context) {
	if s.State() != StateStarted {
		return
	}
	s.stopOnce.Do(func() { close(s.stopRequested) })
	if err := s.transition(StateStopping); err != nil {
		return
	}
	s.publish(events.KindServiceTransition, "stopping")

	s.mu.Lock()
	handle, owns := s.handle, s.ownsHandle
	s.mu.Unlock()
	if handle != nil && owns {
		handle.Kill()
		_, _ = handle.Wait()
	}

	_ = s.transition(StateStopped)
	s.publish(events.KindServiceTransition, "stopped")
	s.resolveTerminated()
}
