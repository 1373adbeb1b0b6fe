package wireitcfg

import "testing"

func env(values map[string]string) func(string) string {
	return func(k string) string { return values[k] }
}

func TestLoad_DefaultsOutsideCI(t *testing.T) {
	cfg, err := Load(env(nil))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cache != CacheLocal {
		t.Errorf("expected local cache default outside CI, got %q", cfg.Cache)
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("expected text log format default, got %q", cfg.LogFormat)
	}
	if cfg.FailureMode != FailureModeNoNew {
		t.Errorf("expected no-new failure mode default, got %q", cfg.FailureMode)
	}
}

func TestLoad_FailureModeFromEnv(t *testing.T) {
	cfg, err := Load(env(map[string]string{"WIREIT_FAILURE_MODE": "kill"}))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.FailureMode != FailureModeKill {
		t.Errorf("expected kill failure mode, got %q", cfg.FailureMode)
	}
}

func TestLoad_InvalidFailureModeRejected(t *testing.T) {
	if _, err := Load(env(map[string]string{"WIREIT_FAILURE_MODE": "bogus"})); err == nil {
		t.Fatal("expected an error for an invalid WIREIT_FAILURE_MODE value")
	}
}

func TestLoad_DefaultsUnderCI(t *testing.T) {
	cfg, err := Load(env(map[string]string{"CI": "true"}))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cache != CacheNone {
		t.Errorf("expected cache=none under CI, got %q", cfg.Cache)
	}
}

func TestLoad_ParallelInfinity(t *testing.T) {
	cfg, err := Load(env(map[string]string{"WIREIT_PARALLEL": "infinity"}))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Parallel != ParallelInfinity {
		t.Errorf("expected ParallelInfinity, got %d", cfg.Parallel)
	}
}

func TestLoad_InvalidParallelRejected(t *testing.T) {
	if _, err := Load(env(map[string]string{"WIREIT_PARALLEL": "not-a-number"})); err == nil {
		t.Fatal("expected an error for an invalid WIREIT_PARALLEL value")
	}
}

func TestLoad_RemoteCacheRequiresEndpoint(t *testing.T) {
	if _, err := Load(env(map[string]string{"WIREIT_CACHE": "remote"})); err == nil {
		t.Fatal("expected an error when WIREIT_CACHE=remote without WIREIT_CACHE_ENDPOINT")
	}
}

func TestLoad_RemoteCacheWithEndpointSucceeds(t *testing.T) {
	cfg, err := Load(env(map[string]string{
		"WIREIT_CACHE":          "remote",
		"WIREIT_CACHE_ENDPOINT": "https://cache.example.com",
	}))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cache != CacheRemote || cfg.CacheEndpoint != "https://cache.example.com" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
