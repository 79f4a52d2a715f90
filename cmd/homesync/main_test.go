package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/homesync/internal/api"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// writeConfig writes a minimal sqlite-backed config into a temp dir.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
site:
  id: test-site
database:
  path: ` + filepath.Join(dir, "homesync.db") + `
allow_list:
  backend: sqlite
security:
  jwt:
    secret: "` + testSecret + `"
    access_token_ttl: 5
logging:
  level: error
  format: text
  output: stderr
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("HOMESYNC_CONFIG", "")
	if got := getConfigPath(""); got != defaultConfigPath {
		t.Errorf("default = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("HOMESYNC_CONFIG", "/etc/homesync/config.yaml")
	if got := getConfigPath(""); got != "/etc/homesync/config.yaml" {
		t.Errorf("env override = %q", got)
	}
	if got := getConfigPath("./local.yaml"); got != "./local.yaml" {
		t.Errorf("flag = %q, want flag to win over env", got)
	}
}

func TestBridge_InvalidConfig(t *testing.T) {
	_, err := execute(t, "bridge", "--config", "/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("bridge should fail with a missing config file")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("err = %v, want loading config error", err)
	}
}

func TestTokenCommand(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := execute(t, "token", "--config", cfgPath, "--role", "admin", "--subject", "ops")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	claims, err := api.ParseToken(strings.TrimSpace(out), testSecret)
	if err != nil {
		t.Fatalf("ParseToken(%q): %v", out, err)
	}
	if claims.Role != api.RoleAdmin || claims.Subject != "ops" {
		t.Errorf("claims = %+v", claims)
	}
	if ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time); ttl != 5*time.Minute {
		t.Errorf("ttl = %v, want configured 5m", ttl)
	}
}

func TestTokenCommand_UnknownRole(t *testing.T) {
	cfgPath := writeConfig(t)

	if _, err := execute(t, "token", "--config", cfgPath, "--role", "root"); err == nil {
		t.Error("token with unknown role should fail")
	}
}

func TestAllowListCommands(t *testing.T) {
	cfgPath := writeConfig(t)

	if _, err := execute(t, "allowlist", "add", "04a1b2c3", "--label", "front fob", "--config", cfgPath); err != nil {
		t.Fatalf("add: %v", err)
	}

	out, err := execute(t, "allowlist", "list", "--config", cfgPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "04A1B2C3") || !strings.Contains(out, "front fob") {
		t.Errorf("list output = %q, want normalised credential and label", out)
	}

	if _, err := execute(t, "allowlist", "remove", "04A1B2C3", "--config", cfgPath); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := execute(t, "allowlist", "remove", "04A1B2C3", "--config", cfgPath); err == nil {
		t.Error("removing a missing credential should fail")
	}

	if _, err := execute(t, "allowlist", "add", "XYZ", "--config", cfgPath); err == nil {
		t.Error("adding an invalid credential should fail")
	}
}

func TestMigrateCommands(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := execute(t, "migrate", "status", "--config", cfgPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "pending") || strings.Contains(out, " applied ") {
		t.Errorf("fresh database status = %q, want only pending migrations", out)
	}

	// allowlist commands migrate on open.
	if _, err := execute(t, "allowlist", "list", "--config", cfgPath); err != nil {
		t.Fatalf("list: %v", err)
	}
	out, err = execute(t, "migrate", "status", "--config", cfgPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if strings.Contains(out, "pending") {
		t.Errorf("status after migrate = %q, want nothing pending", out)
	}

	if _, err := execute(t, "migrate", "down", "--config", cfgPath); err != nil {
		t.Fatalf("down: %v", err)
	}
	out, _ = execute(t, "migrate", "status", "--config", cfgPath)
	if !strings.Contains(out, "pending") {
		t.Errorf("status after down = %q, want one pending", out)
	}
}
