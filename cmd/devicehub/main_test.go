package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/devicehub-core/internal/auth"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/database"
)

// writeConfig writes a development config using dbPath and returns its path.
func writeConfig(t *testing.T, dbPath string, port int) string {
	t.Helper()

	content := `
environment: development

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: ` + strconv.Itoa(port) + `

recovery:
  frontend_base_url: "http://localhost:3000"

seed:
  superuser_email: "root@example.com"
  superuser_number: "900001-9"
  superuser_password: "seed-password-1"
`
	path := filepath.Join(t.TempDir(), "devicehub.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// freePort asks the kernel for an unused TCP port.
func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	defer l.Close() //nolint:errcheck // test helper
	return l.Addr().(*net.TCPAddr).Port
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("DEVICEHUB_CONFIG", "/nonexistent/path/devicehub.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails validation with no database path.
func TestRun_MissingDatabasePath(t *testing.T) {
	t.Setenv("DEVICEHUB_CONFIG", writeConfig(t, "", 8080))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("error = %v, want mention of database.path", err)
	}
}

// TestRun_StartupAndShutdown runs the server with every optional backend
// disabled until the context expires.
func TestRun_StartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "devicehub.db")
	t.Setenv("DEVICEHUB_CONFIG", writeConfig(t, dbPath, freePort(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	db, err := database.Open(context.Background(), database.Config{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("reopening database: %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	count, err := auth.NewAccountRepository(db.DB).CountSuperUsers(context.Background())
	if err != nil {
		t.Fatalf("CountSuperUsers() error = %v", err)
	}
	if count != 1 {
		t.Errorf("super users = %d, want 1 seeded", count)
	}
}

// TestGetConfigPath verifies flag, environment and default precedence.
func TestGetConfigPath(t *testing.T) {
	t.Setenv("DEVICEHUB_CONFIG", "")
	configPath = ""
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("DEVICEHUB_CONFIG", "/custom/devicehub.yaml")
	if got := getConfigPath(); got != "/custom/devicehub.yaml" {
		t.Errorf("getConfigPath() = %q, want env override", got)
	}

	configPath = "/flag/devicehub.yaml"
	defer func() { configPath = "" }()
	if got := getConfigPath(); got != "/flag/devicehub.yaml" {
		t.Errorf("getConfigPath() = %q, want flag override", got)
	}
}

func TestHashPasswordCommand(t *testing.T) {
	cmd := &cobra.Command{Use: "devicehub"}
	cmd.AddCommand(hashPasswordCmd)

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)
	cmd.SetIn(strings.NewReader("s3cret-pass\n"))
	cmd.SetArgs([]string{"hash-password"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	hash := strings.TrimSpace(output.String())
	ok, err := auth.VerifyPassword("s3cret-pass", hash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if !ok {
		t.Error("printed hash does not verify")
	}
}

func TestHashPasswordCommand_Empty(t *testing.T) {
	cmd := &cobra.Command{Use: "devicehub", SilenceErrors: true, SilenceUsage: true}
	cmd.AddCommand(hashPasswordCmd)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader("\n"))
	cmd.SetArgs([]string{"hash-password"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("Execute() should fail for an empty password")
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := &cobra.Command{Use: "devicehub"}
	cmd.AddCommand(versionCmd)

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(output.String(), "devicehub "+version) {
		t.Errorf("output = %q", output.String())
	}
}

func TestMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "devicehub.db")
	t.Setenv("DEVICEHUB_CONFIG", writeConfig(t, dbPath, 8080))

	cmd := &cobra.Command{Use: "devicehub"}
	cmd.AddCommand(migrateCmd)

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)
	cmd.SetArgs([]string{"migrate"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(output.String(), "pending: 0") {
		t.Errorf("output = %q, want no pending migrations", output.String())
	}
}
