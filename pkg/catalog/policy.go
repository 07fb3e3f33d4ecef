package catalog

// Policy decides whether a device can be used.
type Policy func(d Descriptor) bool

type PolicyConfig struct {
	ComputeMajor    int    `mapstructure:"computeMajor"`
	MinComputeMinor int    `mapstructure:"minComputeMinor"`
	MinMemoryBytes  uint64 `mapstructure:"minMemoryBytes"`
}

// DefaultPolicyConfig selects Volta/Turing class devices with more than 8GB.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		ComputeMajor:    7,
		MinComputeMinor: 0,
		MinMemoryBytes:  8000000000,
	}
}

func DefaultPolicy(cfg PolicyConfig) Policy {
	return func(d Descriptor) bool {
		return d.ComputeMajor == cfg.ComputeMajor &&
			d.ComputeMinor >= cfg.MinComputeMinor &&
			d.TotalMemory > cfg.MinMemoryBytes
	}
}

// AcceptAll keeps every visible device.
func AcceptAll(Descriptor) bool {
	return true
}
