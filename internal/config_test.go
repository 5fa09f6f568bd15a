package internal

import (
	"strings"
	"testing"

	"github.com/starford/laguz/internal/models"
)

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Remote.BaseURL = "https://records.example.com"
	cfg.Remote.Token = "secret"
	cfg.Container = models.ContainerConfig{
		ContainerID:   "container-1",
		DefaultTypeID: "type-note",
	}
	return cfg
}

func TestConfig_ValidPasses(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config should pass: %v", err)
	}
}

func TestRemoteConfig_RequiresBaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.Remote.BaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing base_url should fail validation")
	}
}

func TestRemoteConfig_RequiresToken(t *testing.T) {
	cfg := validConfig()
	cfg.Remote.Token = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing remote token should fail validation")
	}
}

func TestContainerConfig_RequiresIDs(t *testing.T) {
	cfg := validConfig()
	cfg.Container.ContainerID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing container_id should fail validation")
	}

	cfg = validConfig()
	cfg.Container.DefaultTypeID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing default_type_id should fail validation")
	}
}

func TestContainerConfig_RejectsPartialFolderMapping(t *testing.T) {
	cfg := validConfig()
	cfg.Container.Folders = []models.FolderMapping{{Folder: "journal"}}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("folder mapping without type_id should fail")
	}
	if !strings.Contains(err.Error(), "folder mapping") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}
