package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightlabs/observatory/internal/core"
)

const sampleYAML = `
server:
  port: "9090"
  env: test
database:
  url: postgres://localhost/observatory
instances:
  - id: uma-polygon
    protocol: uma
    chain: polygon
    enabled: true
    config:
      rpc_urls: ["https://polygon.example.com"]
      start_block: 100
    protocol_config:
      uma:
        oo_v3_address: "0x9923D42eF695B5dd9911D05Ac944d4cAca3c4EAB"
  - id: chainlink-ethereum
    protocol: chainlink
    chain: ethereum
    enabled: true
    config:
      rpc_urls: ["https://eth.example.com"]
    protocol_config:
      chainlink:
        heartbeat_seconds: 3600
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "observatory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeSample(t))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	require.Len(t, cfg.Instances, 2)

	uma := cfg.Instances[0]
	assert.Equal(t, core.ProtocolUMA, uma.Protocol)
	assert.Equal(t, uint64(10_000), uma.Config.MaxBlockRange)
	assert.Equal(t, uint64(12), uma.Config.ConfirmationBlocks)
	assert.Equal(t, int64(15_000), uma.Config.RPCTimeoutMs)
	assert.Equal(t, uint64(100), uma.Config.StartBlock)
	assert.Equal(t, core.ConfigKindUMA, uma.ProtocolConfig.Kind())
}

func TestEnvOverridesRPCAndOracleAddress(t *testing.T) {
	t.Setenv("UMA_POLYGON_RPC_URL", "https://a.example.com, https://b.example.com")
	t.Setenv("UMA_POLYGON_OPTIMISTIC_ORACLE_V3_ADDRESS", "0x0000000000000000000000000000000000000001")
	t.Setenv("INSIGHT_RPC_TIMEOUT_MS", "30000")

	cfg, err := Load(writeSample(t))
	require.NoError(t, err)

	uma := cfg.Instances[0]
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, uma.Config.RPCURLs)
	assert.Equal(t, "0x0000000000000000000000000000000000000001", uma.ProtocolConfig.UMA.OptimisticOracleV3Address)
	for _, inst := range cfg.Instances {
		assert.Equal(t, int64(30_000), inst.Config.RPCTimeoutMs)
	}
}

func TestValidateRejectsMissingVariant(t *testing.T) {
	cfg := &Config{Instances: []*core.ProtocolInstance{{
		ID:       "x",
		Protocol: core.ProtocolChainlink,
		Chain:    "ethereum",
		Enabled:  true,
		Config:   core.InstanceConfig{RPCURLs: []string{"https://eth.example.com"}},
	}}}
	err := Validate(cfg)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Field, "protocolConfig")
}

func TestValidateRejectsNaturalKeyCollision(t *testing.T) {
	mk := func(id string) *core.ProtocolInstance {
		return &core.ProtocolInstance{
			ID:             id,
			Protocol:       core.ProtocolPyth,
			Chain:          "ethereum",
			Enabled:        true,
			Config:         core.InstanceConfig{RPCURLs: []string{"https://eth.example.com"}},
			ProtocolConfig: core.ProtocolConfig{Pyth: &core.PythConfig{}},
		}
	}
	cfg := &Config{Instances: []*core.ProtocolInstance{mk("a"), mk("b")}}
	var verr *ValidationError
	require.ErrorAs(t, Validate(cfg), &verr)
}

func TestValidateAllowsDisabledIncomplete(t *testing.T) {
	cfg := &Config{Instances: []*core.ProtocolInstance{{
		ID:       "draft",
		Protocol: core.ProtocolBand,
		Chain:    "osmosis",
		Enabled:  false,
	}}}
	require.NoError(t, Validate(cfg))
}

func TestSplitRPCURLs(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitRPCURLs(" a , b ,"))
	assert.Empty(t, SplitRPCURLs("  "))
}

func TestRESTInstanceNeedsBaseURL(t *testing.T) {
	cfg := &Config{Instances: []*core.ProtocolInstance{{
		ID:             "dia-rest",
		Protocol:       core.ProtocolDIA,
		Chain:          "offchain",
		Enabled:        true,
		ProtocolConfig: core.ProtocolConfig{REST: &core.RESTConfig{}},
	}}}
	var verr *ValidationError
	require.ErrorAs(t, Validate(cfg), &verr)
	assert.Contains(t, verr.Field, "base_url")
}
