package setup

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cortexuvula/collabrelay/internal/config"
)

func testOpts(configPath, tailscaleIP string) WizardOptions {
	return WizardOptions{
		ConfigPath:      configPath,
		DetectTailscale: func() string { return tailscaleIP },
		CheckStorage:    func(io.Writer, config.StorageConfig) {},
		StartService:    func(io.Writer) error { return nil },
	}
}

func answers(lines ...string) io.Reader {
	return strings.NewReader(strings.Join(lines, "\n") + "\n")
}

func runWizard(t *testing.T, in io.Reader, opts WizardOptions) (*config.Config, string) {
	t.Helper()
	var out bytes.Buffer
	if err := RunWizard(in, &out, opts); err != nil {
		t.Fatalf("RunWizard() error: %v\noutput:\n%s", err, out.String())
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	return cfg, out.String()
}

func TestPrompt(t *testing.T) {
	tests := []struct {
		name, input, want string
	}{
		{"value", "custom-value\n", "custom-value"},
		{"empty line", "\n", "default"},
		{"eof", "", "default"},
		{"trimmed", "  spaced  \n", "spaced"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got := prompt(bufio.NewScanner(strings.NewReader(tt.input)), &out, "Enter value: ", "default")
			if got != tt.want {
				t.Errorf("prompt() = %q, want %q", got, tt.want)
			}
			if out.String() != "Enter value: " {
				t.Errorf("prompt printed %q", out.String())
			}
		})
	}
}

func TestPromptChoiceRepromptsOnInvalid(t *testing.T) {
	var out bytes.Buffer
	got := promptChoice(bufio.NewScanner(answers("mysql", "Redis")), &out, "driver: ", "sqlite", "sqlite", "redis")
	if got != "redis" {
		t.Errorf("promptChoice() = %q, want redis", got)
	}
	if !strings.Contains(out.String(), `Invalid choice "mysql"`) {
		t.Errorf("no complaint about the invalid choice in %q", out.String())
	}
}

func TestPromptPort(t *testing.T) {
	var out bytes.Buffer
	got := promptPort(bufio.NewScanner(answers("99999", "4000")), &out, "port: ", "3001")
	if got != "4000" {
		t.Errorf("promptPort() = %q, want 4000", got)
	}
}

func TestGenerateConfigRoundTrips(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Security.AuthToken = `tok"en`
	content, err := GenerateConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(content, "# collabrelay configuration") {
		t.Error("config should start with the header comment")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		t.Fatal(err)
	}
	loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if loaded.Security.AuthToken != `tok"en` || loaded.Relay.DrainTimeout != cfg.Relay.DrainTimeout {
		t.Errorf("round trip lost values: token=%q drain=%v", loaded.Security.AuthToken, loaded.Relay.DrainTimeout)
	}
}

func TestWriteConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "config.yaml")
	content := "test: value\n"

	if err := writeConfig(path, content, false, io.Discard); err != nil {
		t.Fatalf("writeConfig() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written config: %v", err)
	}
	if string(data) != content {
		t.Errorf("config content = %q, want %q", string(data), content)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0640 {
		t.Errorf("config permissions = %o, want 0640", info.Mode().Perm())
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path, false, io.Discard); err != nil {
		t.Fatalf("WriteDefault() error: %v", err)
	}
	if _, err := config.Load(path); err != nil {
		t.Fatalf("default config does not load: %v", err)
	}
	if err := WriteDefault(path, false, io.Discard); err == nil {
		t.Error("WriteDefault() should refuse to overwrite without force")
	}
	if err := WriteDefault(path, true, io.Discard); err != nil {
		t.Errorf("WriteDefault(force) error: %v", err)
	}
}

func TestRunWizard_AllDefaults_WithTailscale(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	// Prompts: tailnet only, relay port, health port, driver, db file,
	// workspace, auth token
	cfg, output := runWizard(t, answers("", "", "", "", "", "", ""), testOpts(configPath, "100.64.1.1"))

	if !strings.Contains(output, "Setup complete!") {
		t.Error("wizard should print completion message")
	}
	if cfg.Relay.ListenAddress != "100.64.1.1:3001" {
		t.Errorf("listen_address = %q", cfg.Relay.ListenAddress)
	}
	if len(cfg.Security.AllowedNetworks) != 1 || cfg.Security.AllowedNetworks[0] != "tailscale" {
		t.Errorf("allowed_networks = %v, want [tailscale]", cfg.Security.AllowedNetworks)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "/var/lib/collabrelay/collabrelay.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
}

func TestRunWizard_NoTailscale(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	// Prompts: relay port, health port, driver, workspace, auth token
	cfg, _ := runWizard(t, answers("4001", "4002", "memory", "design", "my-secret-token"), testOpts(configPath, ""))

	if cfg.Relay.ListenAddress != "0.0.0.0:4001" || cfg.Health.ListenAddress != "127.0.0.1:4002" {
		t.Errorf("listeners = %q, %q", cfg.Relay.ListenAddress, cfg.Health.ListenAddress)
	}
	if len(cfg.Security.AllowedNetworks) != 0 {
		t.Errorf("allowed_networks = %v, want none", cfg.Security.AllowedNetworks)
	}
	if cfg.Storage.Driver != "memory" || cfg.Relay.DefaultWorkspace != "design" || cfg.Security.AuthToken != "my-secret-token" {
		t.Errorf("config = %+v", cfg)
	}
}

func TestRunWizard_DeclineTailnetRestriction(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	cfg, _ := runWizard(t, answers("n", "", "", "memory", "", ""), testOpts(configPath, "100.64.1.1"))
	if cfg.Relay.ListenAddress != "0.0.0.0:3001" || len(cfg.Security.AllowedNetworks) != 0 {
		t.Errorf("listen=%q networks=%v", cfg.Relay.ListenAddress, cfg.Security.AllowedNetworks)
	}
}

func TestRunWizard_RedisChecksStorage(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	var checked config.StorageConfig
	opts := testOpts(configPath, "")
	opts.CheckStorage = func(_ io.Writer, s config.StorageConfig) { checked = s }

	cfg, _ := runWizard(t, answers("", "", "redis", "cache:6379", "pw", "", ""), opts)
	if checked.Driver != "redis" || checked.Address != "cache:6379" {
		t.Errorf("storage check saw %+v", checked)
	}
	if cfg.Storage.Password != "pw" {
		t.Errorf("redis password not written")
	}
}

func TestRunWizard_PostgresNeedsDSN(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	var out bytes.Buffer
	err := RunWizard(answers("", "", "postgres", ""), &out, testOpts(configPath, ""))
	if err == nil {
		t.Fatal("RunWizard() should fail without a DSN")
	}
	if _, statErr := os.Stat(configPath); statErr == nil {
		t.Error("no config should be written on failure")
	}
}

func TestRunWizard_ExistingConfig_NoOverwrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(configPath, []byte("existing"), 0640)

	var out bytes.Buffer
	err := RunWizard(answers("", "", "memory", "", "", "n"), &out, testOpts(configPath, ""))
	if err != nil {
		t.Fatalf("RunWizard() error: %v", err)
	}
	data, _ := os.ReadFile(configPath)
	if string(data) != "existing" {
		t.Error("config should not be overwritten when user says no")
	}
	if !strings.Contains(out.String(), "Setup cancelled") {
		t.Error("should print cancellation message")
	}
}

func TestRunWizard_ExistingConfig_Overwrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(configPath, []byte("old"), 0640)

	cfg, _ := runWizard(t, answers("", "", "memory", "", "", "y"), testOpts(configPath, ""))
	if cfg.Storage.Driver != "memory" {
		t.Error("config should be overwritten with new content")
	}
}

func TestRunWizard_EOF(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	// EOF accepts every default.
	cfg, _ := runWizard(t, strings.NewReader(""), testOpts(configPath, "100.64.1.1"))
	if cfg.Relay.ListenAddress != "100.64.1.1:3001" {
		t.Errorf("listen_address = %q", cfg.Relay.ListenAddress)
	}
}

func TestCheckPortAvailable(t *testing.T) {
	if reason := checkPortAvailable("127.0.0.1", "0"); reason != "" {
		t.Errorf("ephemeral port reported unavailable: %s", reason)
	}
}

func TestDetectTailscaleIP(t *testing.T) {
	// Just verifies the function doesn't panic.
	_ = detectTailscaleIP()
}
