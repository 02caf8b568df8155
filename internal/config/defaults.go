package config

const (
	defaultMaxBlockRange      = 10_000
	defaultConfirmationBlocks = 12
	defaultSyncIntervalMs     = 30_000
	defaultRPCTimeoutMs       = 15_000
	defaultServerPort         = "8080"
)

// ApplyDefaults fills unset fields after load and env overrides.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = defaultServerPort
	}
	for _, inst := range cfg.Instances {
		if inst.Name == "" {
			inst.Name = inst.ID
		}
		if inst.Config.MaxBlockRange == 0 {
			inst.Config.MaxBlockRange = defaultMaxBlockRange
		}
		if inst.Config.ConfirmationBlocks == 0 {
			inst.Config.ConfirmationBlocks = defaultConfirmationBlocks
		}
		if inst.Config.SyncIntervalMs == 0 {
			inst.Config.SyncIntervalMs = defaultSyncIntervalMs
		}
		if inst.Config.RPCTimeoutMs == 0 {
			inst.Config.RPCTimeoutMs = defaultRPCTimeoutMs
		}
	}
}
