package service

import (
	"context"
	"testing"
	"time"

	"wireit/internal/fingerprint"
	"wireit/internal/manifest"
)

func serviceConfig(dir, name, command, readyWhen string) *manifest.Config {
	return &manifest.Config{
		Kind:      manifest.KindService,
		Reference: manifest.Reference{PackageDir: dir, Name: name},
		Command:   command,
		Files:     []string{},
		Service:   manifest.ServiceConfig{ReadyWhenLineMatches: readyWhen},
	}
}

func TestManager_EnsureStartsAndStopReapsChild(t *testing.T) {
	dir := t.TempDir()
	cfg := serviceConfig(dir, "svc", "sleep 30", "")
	fp, _ := fingerprint.Compute(cfg, fingerprint.Inputs{})

	m := NewManager(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Ensure(ctx, cfg.Reference, cfg, fp); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	svc, ok := m.Service(cfg.Reference)
	if !ok {
		t.Fatal("expected service to be registered")
	}
	if svc.State() != StateStarted {
		t.Fatalf("expected state %s, got %s", StateStarted, svc.State())
	}

	svc.Stop(ctx)
	select {
	case <-svc.Terminated():
	case <-time.After(5 * time.Second):
		t.Fatal("Terminated() never closed after Stop")
	}
	if svc.State() != StateStopped {
		t.Fatalf("expected state %s, got %s", StateStopped, svc.State())
	}
}

func TestManager_EnsureWaitsForReadyWhenLineMatch(t *testing.T) {
	dir := t.TempDir()
	cfg := serviceConfig(dir, "svc", "echo not-ready; sleep 0.1; echo READY; sleep 30", "^READY$")
	fp, _ := fingerprint.Compute(cfg, fingerprint.Inputs{})

	m := NewManager(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := m.Ensure(ctx, cfg.Reference, cfg, fp); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("Ensure returned before the readiness line could plausibly have appeared")
	}

	svc, _ := m.Service(cfg.Reference)
	svc.Stop(ctx)
}

func TestManager_EnsureFailsWhenChildExitsBeforeReady(t *testing.T) {
	dir := t.TempDir()
	cfg := serviceConfig(dir, "svc", "exit 1", "^READY$")
	fp, _ := fingerprint.Compute(cfg, fingerprint.Inputs{})

	m := NewManager(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Ensure(ctx, cfg.Reference, cfg, fp); err == nil {
		t.Fatal("expected Ensure to fail")
	}

	svc, ok := m.Service(cfg.Reference)
	if !ok {
		t.Fatal("expected service to be registered even on failure")
	}
	if svc.State() != StateFailed {
		t.Fatalf("expected state %s, got %s", StateFailed, svc.State())
	}
}

func TestManager_AdoptionHandsOverMatchingFingerprintChild(t *testing.T) {
	dir := t.TempDir()
	cfg := serviceConfig(dir, "svc", "sleep 30", "")
	fp, _ := fingerprint.Compute(cfg, fingerprint.Inputs{})

	prior := NewManager(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := prior.Ensure(ctx, cfg.Reference, cfg, fp); err != nil {
		t.Fatalf("prior Ensure failed: %v", err)
	}
	priorSvc, _ := prior.Service(cfg.Reference)
	priorPid := priorSvc.handle.Pid()

	next := NewManager(nil)
	next.AdoptFrom(prior)
	if err := next.Ensure(ctx, cfg.Reference, cfg, fp); err != nil {
		t.Fatalf("next Ensure failed: %v", err)
	}

	if priorSvc.State() != StateDetached {
		t.Fatalf("expected prior service to be detached, got %s", priorSvc.State())
	}
	nextSvc, _ := next.Service(cfg.Reference)
	if nextSvc.handle.Pid() != priorPid {
		t.Fatalf("expected the same child pid to be adopted: prior=%d next=%d", priorPid, nextSvc.handle.Pid())
	}

	nextSvc.Stop(ctx)
}

func TestManager_AdoptionRestartsOnFingerprintMismatch(t *testing.T) {
	dir := t.TempDir()
	cfg := serviceConfig(dir, "svc", "sleep 30", "")
	fp, _ := fingerprint.Compute(cfg, fingerprint.Inputs{})

	prior := NewManager(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := prior.Ensure(ctx, cfg.Reference, cfg, fp); err != nil {
		t.Fatalf("prior Ensure failed: %v", err)
	}
	priorSvc, _ := prior.Service(cfg.Reference)
	priorPid := priorSvc.handle.Pid()

	cfg2 := serviceConfig(dir, "svc", "sleep 31", "")
	fp2, _ := fingerprint.Compute(cfg2, fingerprint.Inputs{})

	next := NewManager(nil)
	next.AdoptFrom(prior)
	if err := next.Ensure(ctx, cfg2.Reference, cfg2, fp2); err != nil {
		t.Fatalf("next Ensure failed: %v", err)
	}

	select {
	case <-priorSvc.Terminated():
	case <-time.After(5 * time.Second):
		t.Fatal("expected the mismatched-fingerprint adoptee to be stopped")
	}

	nextSvc, _ := next.Service(cfg2.Reference)
	if nextSvc.handle.Pid() == priorPid {
		t.Fatal("expected a freshly spawned child, not the old pid")
	}
	nextSvc.Stop(ctx)
}
