package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	conductorerrors "github.com/stepwise/stepwise/pkg/errors"
)

func writeRegistry(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	return path
}

func TestLoad_ValidRegistry(t *testing.T) {
	path := writeRegistry(t, `{
		"mcpServers": {
			"demo": {"command": "demo-server", "args": ["--stdio"]}
		}
	}`)

	reg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := reg.ListServers(); len(got) != 1 || got[0] != "demo" {
		t.Fatalf("unexpected servers: %v", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"), nil)
	var cfgErr *conductorerrors.ConfigError
	if !asConfigError(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	path := writeRegistry(t, `{not valid json`)
	_, err := Load(path, nil)
	var cfgErr *conductorerrors.ConfigError
	if !asConfigError(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestLoad_MissingTopLevelKey(t *testing.T) {
	path := writeRegistry(t, `{}`)
	_, err := Load(path, nil)
	if err == nil {
		t.Fatal("expected error for missing mcpServers key")
	}
}

func TestLoad_DescriptorMissingCommandAndURL(t *testing.T) {
	path := writeRegistry(t, `{"mcpServers": {"bad": {}}}`)
	_, err := Load(path, nil)
	if err == nil {
		t.Fatal("expected validation error for a descriptor with neither command nor url")
	}
}

func TestLoad_DescriptorWithBothCommandAndURL(t *testing.T) {
	path := writeRegistry(t, `{"mcpServers": {"bad": {"command": "x", "url": "http://example"}}}`)
	_, err := Load(path, nil)
	if err == nil {
		t.Fatal("expected validation error for a descriptor specifying both command and url")
	}
}

func TestGetDescriptor_UnknownServer(t *testing.T) {
	path := writeRegistry(t, `{"mcpServers": {"demo": {"command": "demo-server"}}}`)
	reg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := reg.GetDescriptor("nope"); err == nil {
		t.Fatal("expected error for unregistered server")
	}
}

func TestResolveLaunchEnv_MergesProcessEnvAndSubstitutes(t *testing.T) {
	os.Setenv("STEPWISE_TEST_TOKEN", "super-secret-value")
	defer os.Unsetenv("STEPWISE_TEST_TOKEN")
	os.Setenv("STEPWISE_BASE_KEPT", "already-set")
	defer os.Unsetenv("STEPWISE_BASE_KEPT")

	path := writeRegistry(t, `{
		"mcpServers": {
			"demo": {
				"command": "demo-server",
				"env": {"API_TOKEN": "${STEPWISE_TEST_TOKEN}", "STATIC": "literal"}
			}
		}
	}`)
	reg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	env, err := reg.ResolveLaunchEnv(context.Background(), "demo")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if env["API_TOKEN"] != "super-secret-value" {
		t.Fatalf("expected substituted token, got %q", env["API_TOKEN"])
	}
	if env["STATIC"] != "literal" {
		t.Fatalf("expected literal passthrough, got %q", env["STATIC"])
	}
	if env["STEPWISE_BASE_KEPT"] != "already-set" {
		t.Fatal("expected process environment to be merged in as a base")
	}
}

func TestResolveLaunchEnv_UnresolvedReferenceBecomesEmpty(t *testing.T) {
	os.Unsetenv("STEPWISE_DOES_NOT_EXIST")
	path := writeRegistry(t, `{
		"mcpServers": {
			"demo": {"command": "demo-server", "env": {"MISSING": "${STEPWISE_DOES_NOT_EXIST}"}}
		}
	}`)
	reg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	env, err := reg.ResolveLaunchEnv(context.Background(), "demo")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if env["MISSING"] != "" {
		t.Fatalf("expected empty string for an unresolved reference, got %q", env["MISSING"])
	}
}

func TestRedact_TruncatesSensitiveValuesOnly(t *testing.T) {
	if got := redact("API_TOKEN", "abcdefghij"); got != "ab…ij" {
		t.Fatalf("expected truncated redaction, got %q", got)
	}
	if got := redact("PLAIN_NAME", "abcdefghij"); got != "abcdefghij" {
		t.Fatalf("expected non-sensitive value unchanged, got %q", got)
	}
	if got := redact("SECRET", "short"); got != "***" {
		t.Fatalf("expected short sensitive value fully masked, got %q", got)
	}
}

func asConfigError(err error, target **conductorerrors.ConfigError) bool {
	v, ok := err.(*conductorerrors.ConfigError)
	if ok {
		*target = v
	}
	return ok
}

func TestResolveLaunchEnv_UnresolvedKeyringRefBecomesEmpty(t *testing.T) {
	path := writeRegistry(t, `{
		"mcpServers": {
			"demo": {"command": "demo-server", "env": {"TOKEN": "keyring:stepwise-test/does-not-exist"}}
		}
	}`)
	reg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	env, err := reg.ResolveLaunchEnv(context.Background(), "demo")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if env["TOKEN"] != "" {
		t.Fatalf("expected empty string for an unresolved keyring reference, got %q", env["TOKEN"])
	}
}

func TestClassifySecretRef(t *testing.T) {
	if scheme, ref := classifySecretRef("keyring:svc/acct"); scheme != schemeKeyring || ref != "svc/acct" {
		t.Fatalf("unexpected classification: %v %q", scheme, ref)
	}
	if scheme, ref := classifySecretRef("ssm:/path/to/param"); scheme != schemeSSM || ref != "/path/to/param" {
		t.Fatalf("unexpected classification: %v %q", scheme, ref)
	}
	if scheme, _ := classifySecretRef("${PLAIN}"); scheme != schemeNone {
		t.Fatalf("expected schemeNone for a plain env reference, got %v", scheme)
	}
	if scheme, ref := classifySecretRef("file:api-token"); scheme != schemeFile || ref != "api-token" {
		t.Fatalf("unexpected classification: %v %q", scheme, ref)
	}
}
