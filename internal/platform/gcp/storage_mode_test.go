package gcp

import (
	"errors"
	"testing"
)

func TestResolveObjectStorageConfigDefaultGCS(t *testing.T) {
	cfg, err := ResolveObjectStorageConfig("", "", "")
	if err != nil {
		t.Fatalf("ResolveObjectStorageConfig: %v", err)
	}
	if cfg.Mode != ObjectStorageModeGCS {
		t.Fatalf("mode: want=%q got=%q", ObjectStorageModeGCS, cfg.Mode)
	}
	if cfg.CompatibilityFallback {
		t.Fatalf("compatibility fallback: want=false got=true")
	}
}

func TestResolveObjectStorageConfigExplicitGCSIgnoresEmulatorHost(t *testing.T) {
	cfg, err := ResolveObjectStorageConfig("GCS", "http://fake-gcs:4443", "")
	if err != nil {
		t.Fatalf("ResolveObjectStorageConfig: %v", err)
	}
	if cfg.Mode != ObjectStorageModeGCS {
		t.Fatalf("mode: want=%q got=%q", ObjectStorageModeGCS, cfg.Mode)
	}
}

func TestResolveObjectStorageConfigCompatibilityFallback(t *testing.T) {
	cfg, err := ResolveObjectStorageConfig("", "http://fake-gcs:4443", "")
	if err != nil {
		t.Fatalf("ResolveObjectStorageConfig: %v", err)
	}
	if cfg.Mode != ObjectStorageModeGCSEmulator {
		t.Fatalf("mode: want=%q got=%q", ObjectStorageModeGCSEmulator, cfg.Mode)
	}
	if !cfg.CompatibilityFallback || cfg.ModeSource() != "compatibility_fallback" {
		t.Fatalf("compatibility fallback: want=true got=false")
	}
}

func TestResolveObjectStorageConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		mode string
		host string
		dir  string
		code ObjectStorageConfigErrorCode
	}{
		{"invalid mode", "s3", "", "", ObjectStorageConfigErrorInvalidMode},
		{"emulator without host", "gcs_emulator", "", "", ObjectStorageConfigErrorMissingEmulatorHost},
		{"emulator bad host", "gcs_emulator", "fake-gcs:4443", "", ObjectStorageConfigErrorInvalidEmulatorHost},
		{"local without dir", "local", "", "", ObjectStorageConfigErrorMissingLocalDir},
	}
	for _, tc := range cases {
		_, err := ResolveObjectStorageConfig(tc.mode, tc.host, tc.dir)
		var cfgErr *ObjectStorageConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("%s: want ObjectStorageConfigError got %v", tc.name, err)
		}
		if cfgErr.Code != tc.code {
			t.Fatalf("%s: code want=%q got=%q", tc.name, tc.code, cfgErr.Code)
		}
	}
}

func TestResolveObjectStorageConfigLocal(t *testing.T) {
	cfg, err := ResolveObjectStorageConfig("local", "", t.TempDir())
	if err != nil {
		t.Fatalf("ResolveObjectStorageConfig: %v", err)
	}
	if cfg.Mode != ObjectStorageModeLocal {
		t.Fatalf("mode: want=%q got=%q", ObjectStorageModeLocal, cfg.Mode)
	}
}
