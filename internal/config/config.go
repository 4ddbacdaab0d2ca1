// Package config loads and validates cloakgov's JSON configuration
// document via viper, with CLOAKGOV_* environment variable overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/cloakgov/cloakgov/internal/cloakerr"
)

// Thresholds holds node-wide ceilings read from the configuration
// document. The monitor loop does not read them; it checks
// model.DefaultThresholds on every tick.
type Thresholds struct {
	CPUTempMaxC     float64 `mapstructure:"cpu_temp_max_c"`
	GPUTempMaxC     float64 `mapstructure:"gpu_temp_max_c"`
	CPUPowerMaxW    float64 `mapstructure:"cpu_power_max_w"`
	GPUPowerMaxW    float64 `mapstructure:"gpu_power_max_w"`
	CPUUtilMaxPct   float64 `mapstructure:"cpu_util_max_pct"`
	MemoryUtilMaxPct float64 `mapstructure:"memory_util_max_pct"`
}

// MonitoringParameters controls the monitor loop's cadence.
type MonitoringParameters struct {
	MonitorIntervalSeconds      int `mapstructure:"monitor_interval_seconds"`
	AzureMonitorIntervalSeconds int `mapstructure:"azure_monitor_interval_seconds"`
}

// OptimizationParameters controls the optimizer loop's cadence, model,
// and the step sizes its strategies nudge a knob by on each tick.
type OptimizationParameters struct {
	OptimizationIntervalSeconds int     `mapstructure:"optimization_interval_seconds"`
	ModelPath                   string  `mapstructure:"model_path"`
	CPUFreqStepMHz              int     `mapstructure:"cpu_freq_step_mhz"`
	GPUPowerStepW               float64 `mapstructure:"gpu_power_adjustment_step_w"`
	DiskIOStepMbps              float64 `mapstructure:"disk_io_limit_step_mbps"`
	NetworkBandwidthStepMbps    float64 `mapstructure:"network_bandwidth_step_mbps"`
}

// ResourceRange bounds a knob's value to a floor and ceiling, mirroring
// the original's per-resource min_limit/max_limit pairs.
type ResourceRange struct {
	MinLimit float64 `mapstructure:"min_limit_mbps"`
	MaxLimit float64 `mapstructure:"max_limit_mbps"`
}

// ResourceAllocation bounds the knobs strategies are allowed to reach
// for, keyed the same way as the original's resource_allocation block.
type ResourceAllocation struct {
	CPUFreqMinMHz   int           `mapstructure:"cpu_freq_min_mhz"`
	CPUFreqMaxMHz   int           `mapstructure:"cpu_freq_max_mhz"`
	GPUPowerMinW    float64       `mapstructure:"gpu_power_min_w"`
	GPUPowerMaxW    float64       `mapstructure:"gpu_power_max_w"`
	DiskIO          ResourceRange `mapstructure:"disk_io"`
	NetworkBandwidth ResourceRange `mapstructure:"network_bandwidth"`
}

// Processes names the case-insensitive substrings used to classify a
// discovered process as a CPU or GPU workload.
type Processes struct {
	CPU []string `mapstructure:"cpu"`
	GPU []string `mapstructure:"gpu"`
}

// Config is the root configuration document.
type Config struct {
	ProcessPriorityMap     map[string]int         `mapstructure:"process_priority_map"`
	Processes              Processes              `mapstructure:"processes"`
	Thresholds             Thresholds             `mapstructure:"thresholds"`
	MonitoringParameters    MonitoringParameters    `mapstructure:"monitoring_parameters"`
	OptimizationParameters  OptimizationParameters  `mapstructure:"optimization_parameters"`
	ResourceAllocation      ResourceAllocation      `mapstructure:"resource_allocation"`
	NetworkInterface        string                  `mapstructure:"network_interface"`
	CgroupRoot              string                  `mapstructure:"cgroup_root"`
	ShutdownDrainSeconds    int                     `mapstructure:"shutdown_drain_seconds"`
	QueueCapacity           int                     `mapstructure:"queue_capacity"`
}

// Load reads the configuration document at path (if non-empty) layered
// under CLOAKGOV_* environment overrides, validates it, and returns the
// populated Config. A missing or malformed file is reported as
// cloakerr.ErrConfigInvalid, matching the original's fail-fast
// load_config behavior.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("CLOAKGOV")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", cloakerr.ErrConfigInvalid, path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", cloakerr.ErrConfigInvalid, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("monitoring_parameters.monitor_interval_seconds", 5)
	v.SetDefault("monitoring_parameters.azure_monitor_interval_seconds", 60)
	v.SetDefault("optimization_parameters.optimization_interval_seconds", 30)
	v.SetDefault("shutdown_drain_seconds", 10)
	v.SetDefault("queue_capacity", 1024)
	v.SetDefault("network_interface", "eth0")
	v.SetDefault("cgroup_root", "/sys/fs/cgroup")
	v.SetDefault("thresholds.cpu_temp_max_c", 85.0)
	v.SetDefault("thresholds.gpu_temp_max_c", 83.0)
	v.SetDefault("thresholds.cpu_power_max_w", 200.0)
	v.SetDefault("thresholds.gpu_power_max_w", 250.0)
	v.SetDefault("thresholds.cpu_util_max_pct", 80.0)
	v.SetDefault("thresholds.memory_util_max_pct", 85.0)
	v.SetDefault("optimization_parameters.cpu_freq_step_mhz", 500)
	v.SetDefault("optimization_parameters.gpu_power_adjustment_step_w", 10.0)
	v.SetDefault("optimization_parameters.disk_io_limit_step_mbps", 1.0)
	v.SetDefault("optimization_parameters.network_bandwidth_step_mbps", 5.0)
	v.SetDefault("resource_allocation.cpu_freq_min_mhz", 1800)
	v.SetDefault("resource_allocation.cpu_freq_max_mhz", 3500)
	v.SetDefault("resource_allocation.gpu_power_min_w", 50.0)
	v.SetDefault("resource_allocation.gpu_power_max_w", 300.0)
	v.SetDefault("resource_allocation.disk_io.min_limit_mbps", 5.0)
	v.SetDefault("resource_allocation.disk_io.max_limit_mbps", 500.0)
	v.SetDefault("resource_allocation.network_bandwidth.min_limit_mbps", 1.0)
	v.SetDefault("resource_allocation.network_bandwidth.max_limit_mbps", 1000.0)
}

func (c *Config) validate() error {
	if c.MonitoringParameters.MonitorIntervalSeconds <= 0 {
		return fmt.Errorf("%w: monitor_interval_seconds must be positive", cloakerr.ErrConfigInvalid)
	}
	if c.OptimizationParameters.OptimizationIntervalSeconds <= 0 {
		return fmt.Errorf("%w: optimization_interval_seconds must be positive", cloakerr.ErrConfigInvalid)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("%w: queue_capacity must be positive", cloakerr.ErrConfigInvalid)
	}
	for name, pri := range c.ProcessPriorityMap {
		if pri < 0 {
			return fmt.Errorf("%w: process_priority_map[%s] must be non-negative", cloakerr.ErrConfigInvalid, name)
		}
	}
	return nil
}
