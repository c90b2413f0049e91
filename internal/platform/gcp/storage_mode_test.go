package gcp

import (
	"errors"
	"testing"
)

func TestResolveObjectStorageConfigDefaultGCS(t *testing.T) {
	cfg, err := ResolveObjectStorageConfig("", "")
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
	cfg, err := ResolveObjectStorageConfig("GCS", "http://fake-gcs:4443")
	if err != nil {
		t.Fatalf("ResolveObjectStorageConfig: %v", err)
	}
	if cfg.Mode != ObjectStorageModeGCS {
		t.Fatalf("mode: want=%q got=%q", ObjectStorageModeGCS, cfg.Mode)
	}
}

func TestResolveObjectStorageConfigCompatibilityFallback(t *testing.T) {
	cfg, err := ResolveObjectStorageConfig("", "http://fake-gcs:4443")
	if err != nil {
		t.Fatalf("ResolveObjectStorageConfig: %v", err)
	}
	if cfg.Mode != ObjectStorageModeGCSEmulator {
		t.Fatalf("mode: want=%q got=%q", ObjectStorageModeGCSEmulator, cfg.Mode)
	}
	if !cfg.CompatibilityFallback {
		t.Fatalf("compatibility fallback: want=true got=false")
	}
}

func TestResolveObjectStorageConfigErrors(t *testing.T) {
	cases := []struct {
		mode string
		host string
		code ObjectStorageConfigErrorCode
	}{
		{"local", "", ObjectStorageConfigErrorInvalidMode},
		{"gcs_emulator", "", ObjectStorageConfigErrorMissingEmulatorHost},
		{"gcs_emulator", "fake-gcs", ObjectStorageConfigErrorInvalidEmulatorHost},
	}
	for _, tc := range cases {
		_, err := ResolveObjectStorageConfig(tc.mode, tc.host)
		var cfgErr *ObjectStorageConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("mode=%q host=%q: want ObjectStorageConfigError got=%v", tc.mode, tc.host, err)
		}
		if cfgErr.Code != tc.code {
			t.Fatalf("mode=%q host=%q: want code=%q got=%q", tc.mode, tc.host, tc.code, cfgErr.Code)
		}
	}
}

func TestValidateObjectStorageConfigRejectsUnknownMode(t *testing.T) {
	err := ValidateObjectStorageConfig(ObjectStorageConfig{Mode: "s3"})
	var cfgErr *ObjectStorageConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Code != ObjectStorageConfigErrorInvalidMode {
		t.Fatalf("want invalid_mode got=%v", err)
	}
	if cfg := (ObjectStorageConfig{Mode: ObjectStorageModeGCSEmulator}); !cfg.IsEmulatorMode() {
		t.Fatalf("gcs_emulator config should be emulator mode")
	}
}
