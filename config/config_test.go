package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/HershyOrg/gammascalper/internal/errs"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "user.cfg")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesKeyValueLines(t *testing.T) {
	path := writeConfig(t,
		"AccessKey:abc\nAccessSecret:def\nFIXConfigurationFile:fix.cfg\nAuxFolder:/tmp/scalper/\nPriceSweetener:0.001\nInterestRate:0.02\n")

	file, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if file["AccessKey"] != "abc" || file["AccessSecret"] != "def" {
		t.Errorf("Credentials not parsed: %v", file)
	}
	if file.AuxFolder() != "/tmp/scalper/" {
		t.Errorf("Unexpected AuxFolder: %q", file.AuxFolder())
	}
	sweetener, err := file.PriceSweetener()
	if err != nil || sweetener != 0.001 {
		t.Errorf("Unexpected PriceSweetener: %v, %v", sweetener, err)
	}
	rate, err := file.InterestRate()
	if err != nil || rate != 0.02 {
		t.Errorf("Unexpected InterestRate: %v, %v", rate, err)
	}
	if _, ok := file.LogToReplay(); ok {
		t.Errorf("LogToReplay should be absent")
	}
}

func TestLoadValueMayContainColons(t *testing.T) {
	path := writeConfig(t,
		"AccessKey:abc\nAccessSecret:a:b:c\nFIXConfigurationFile:fix.cfg\n")

	file, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	// Only the first colon delimits; the rest belongs to the value.
	if file["AccessSecret"] != "a:b:c" {
		t.Errorf("Expected value with colons preserved, got %q", file["AccessSecret"])
	}
}

func TestLoadRejectsMissingRequiredKey(t *testing.T) {
	path := writeConfig(t, "AccessKey:abc\nAccessSecret:def\n")

	_, err := Load(path)
	var configErr errs.ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("Expected ConfigError for missing FIXConfigurationFile, got %v", err)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.cfg"))
	var configErr errs.ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("Expected ConfigError for a missing file, got %v", err)
	}
}

func TestTypedAccessorsRejectGarbage(t *testing.T) {
	path := writeConfig(t,
		"AccessKey:abc\nAccessSecret:def\nFIXConfigurationFile:fix.cfg\nPriceSweetener:lots\n")

	file, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := file.PriceSweetener(); err == nil {
		t.Errorf("Expected an error for a non-numeric PriceSweetener")
	}
	if _, err := file.InterestRate(); err == nil {
		t.Errorf("Expected an error for a missing InterestRate")
	}
}

func TestLogToReplayEnablesReplayMode(t *testing.T) {
	path := writeConfig(t,
		"AccessKey:abc\nAccessSecret:def\nFIXConfigurationFile:fix.cfg\nLogToReplay:/tmp/session.jsonl\n")

	file, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	replayPath, ok := file.LogToReplay()
	if !ok || replayPath != "/tmp/session.jsonl" {
		t.Errorf("Expected replay path, got %q, %v", replayPath, ok)
	}
}
