package service

import (
	"context"
	"sync"

	"wireit/internal/events"
	"wireit/internal/fingerprint"
	"wireit/internal/manifest"
)

// Manager owns every service for one executor instance (spec.md §5: "Service
// map: passed by value (move) between executors"). It implements
// internal/executor.ServiceRunner.
type Manager struct {
	hub *events.Hub

	mu       sync.Mutex
	services map[manifest.Reference]*Service
	previous map[manifest.Reference]*Service
}

// NewManager creates an empty Manager. Call AdoptFrom before first use in a
// watch iteration after the first, so fingerprint-matching services can be
// handed over instead of restarted.
func NewManager(hub *events.Hub) *Manager {
	return &Manager{hub: hub, services: make(map[manifest.Reference]*Service)}
}

// AdoptFrom records prior's services as adoption candidates for this
// Manager's Ensure calls. It does not mutate prior.
func (m *Manager) AdoptFrom(prior *Manager) {
	if prior == nil {
		return
	}
	prior.mu.Lock()
	defer prior.mu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previous = make(map[manifest.Reference]*Service, len(prior.services))
	for ref, svc := range prior.services {
		m.previous[ref] = svc
	}
}

func (m *Manager) getOrCreate(ref manifest.Reference) *Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	if svc, ok := m.services[ref]; ok {
		return svc
	}
	svc := newService(ref, m.hub)
	m.services[ref] = svc
	return svc
}

func (m *Manager) adopteeFor(ref manifest.Reference) *Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previous[ref]
}

func (m *Manager) serviceDeps(cfg *manifest.Config) []*Service {
	var deps []*Service
	for _, dep := range cfg.Dependencies {
		m.mu.Lock()
		svc, ok := m.services[dep.Reference]
		m.mu.Unlock()
		if ok {
			deps = append(deps, svc)
		}
	}
	return deps
}

// Ensure brings ref's service to the started state (or returns the error
// that made it fail), adopting a fingerprint-matching service from a prior
// watch iteration when one exists. Concurrent calls for the same ref
// converge on a single bring-up, mirroring the executor's own per-script
// memoization.
func (m *Manager) Ensure(ctx context.Context, ref manifest.Reference, cfg *manifest.Config, fp fingerprint.Fingerprint) error {
	svc := m.getOrCreate(ref)
	svc.startOnce.Do(func() {
		adoptee := m.adopteeFor(ref)
		deps := m.serviceDeps(cfg)
		svc.startErr = svc.bringUp(ctx, cfg, fp, adoptee, deps)
		close(svc.ready)
	})
	<-svc.ready
	return svc.startErr
}

// Service returns the (possibly still starting) service for ref, if Ensure
// has been called for it on this Manager.
func (m *Manager) Service(ref manifest.Reference) (*Service, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[ref]
	return svc, ok
}

// StopAll stops every started, non-detached service this Manager owns, for
// executor abort or watch-loop shutdown. It does not stop a service that
// was handed off via adoption (already detached) or still starting.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Service, 0, len(m.services))
	for _, svc := range m.services {
		all = append(all, svc)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, svc := range all {
		svc := svc
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Stop(ctx)
		}()
	}
	wg.Wait()
}
