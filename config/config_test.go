package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "basketfund.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `
Environment = "staging"
WrappedNative = "0x00000000000000000000000000000000000000aa"
FeeRecipient = "0x00000000000000000000000000000000000000bb"
IssueFeeBps = 25
RedeemFeeBps = 10

[Telemetry]
Endpoint = "otel-collector:4318"
Insecure = true
Metrics = true
Traces = false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, uint64(25), cfg.IssueFeeBps)
	require.Equal(t, byte(0xaa), cfg.WrappedNativeAddress()[19])
	require.Equal(t, byte(0xbb), cfg.FeeRecipientAddress()[19])
	require.Equal(t, "otel-collector:4318", cfg.Telemetry.Endpoint)
	require.True(t, cfg.Telemetry.Metrics)
	require.False(t, cfg.Telemetry.Traces)
}

func TestLoadRejectsMissingWrappedNative(t *testing.T) {
	path := writeConfig(t, `Environment = "dev"`)
	_, err := Load(path)
	require.ErrorContains(t, err, "WrappedNative")
}

func TestValidateRejectsBadAddresses(t *testing.T) {
	cfg := &Config{WrappedNative: "not-an-address"}
	require.ErrorContains(t, cfg.Validate(), "hex address")

	cfg = &Config{
		WrappedNative: "0x00000000000000000000000000000000000000aa",
		FeeRecipient:  "0x123",
	}
	require.ErrorContains(t, cfg.Validate(), "FeeRecipient")
}

func TestValidateBoundsFees(t *testing.T) {
	cfg := &Config{
		WrappedNative: "0x00000000000000000000000000000000000000aa",
		IssueFeeBps:   10_001,
	}
	require.ErrorContains(t, cfg.Validate(), "IssueFeeBps")

	cfg.IssueFeeBps = 10_000
	require.NoError(t, cfg.Validate())
}

func TestFeeRecipientOptional(t *testing.T) {
	cfg := &Config{WrappedNative: "0x00000000000000000000000000000000000000aa"}
	require.NoError(t, cfg.Validate())
	require.Equal(t, [20]byte{}, [20]byte(cfg.FeeRecipientAddress()))
}
