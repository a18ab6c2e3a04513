// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the planner runtime's JSON
// configuration file. Parsing mechanics are intentionally left to
// encoding/json: the file is a flat, non-schema-evolving object and no
// third-party library in reach of this module earns its weight over the
// standard decoder for that shape.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// SubgraphPreparationType controls how the subgraph catalog partitions a
// model's operator graph across workers.
type SubgraphPreparationType string

const (
	PreparationNoFallback        SubgraphPreparationType = "no_fallback"
	PreparationFallbackPerDevice SubgraphPreparationType = "fallback_per_device"
	PreparationMergeUnit         SubgraphPreparationType = "merge_unit"
)

// WorkerConfig is one entry of the `workers` array.
type WorkerConfig struct {
	Device                      string   `json:"device"`
	CPUMasks                    string   `json:"cpu_masks,omitempty"`
	NumThreads                  int      `json:"num_threads,omitempty"`
	ProfileCopyComputationRatio float64  `json:"profile_copy_computation_ratio,omitempty"`
	// Zones names the thermal zones this worker's ThermalModel fits a
	// regression for, matching a Device field of some ResourceConfig
	// entry. Left empty, it defaults to a single zone named after
	// Device, so a worker with one sysfs path still gets a working
	// thermal model instead of a vacuously empty one.
	Zones []string `json:"zones,omitempty"`
}

// ResourceConfig is one entry of the `resources` array polled by the
// resource monitor.
type ResourceConfig struct {
	Device       string `json:"device"`
	TZPath       string `json:"tz_path,omitempty"`
	FreqPath     string `json:"freq_path,omitempty"`
	// ThrottleTemp is the hard temperature limit
	// Monitor.GetThrottlingThreshold reports for this device. Left
	// unset (0), GetPossibleWorkers skips thermal exclusion for the
	// worker entirely (0 is below any real reading, so it would reject
	// every worker instead) — set it whenever the resource's temp
	// readings are meaningful.
	ThrottleTemp int64 `json:"throttle_temp,omitempty"`
}

// RuntimeConfig is the Go representation of the planner's JSON config
// file. LogPath and Schedulers are mandatory; everything else is
// optional and defaulted by NewDefault.
type RuntimeConfig struct {
	LogPath    string `json:"log_path"`
	Schedulers []int  `json:"schedulers"`

	CPUMasks               string  `json:"cpu_masks,omitempty"`
	PlannerCPUMasks        string  `json:"planner_cpu_masks,omitempty"`
	NumThreads             int     `json:"num_threads,omitempty"`
	ScheduleWindowSize     int     `json:"schedule_window_size,omitempty"`
	ProfileSmoothingFactor float64 `json:"profile_smoothing_factor,omitempty"`
	ModelProfile           string  `json:"model_profile,omitempty"`

	ProfileOnline               bool    `json:"profile_online,omitempty"`
	ProfileWarmupRuns           int     `json:"profile_warmup_runs,omitempty"`
	ProfileNumRuns              int     `json:"profile_num_runs,omitempty"`
	ProfileCopyComputationRatio float64 `json:"profile_copy_computation_ratio,omitempty"`

	SubgraphPreparationType SubgraphPreparationType `json:"subgraph_preparation_type,omitempty"`
	MinimumSubgraphSize     int                     `json:"minimum_subgraph_size,omitempty"`

	Workers []WorkerConfig `json:"workers,omitempty"`

	AllowWorkSteal              bool `json:"allow_work_steal,omitempty"`
	AvailabilityCheckIntervalMS int  `json:"availability_check_interval_ms,omitempty"`

	OffloadingTarget   string `json:"offloading_target,omitempty"`
	OffloadingDataSize int64  `json:"offloading_data_size,omitempty"`

	Resources          []ResourceConfig `json:"resources,omitempty"`
	TemperatureLogPath string           `json:"temperature_log_path,omitempty"`

	// ObservabilityAddr, if set, serves the job-event WebSocket/SSE
	// streams and the efficiency-report endpoint on this address
	// (e.g. "127.0.0.1:9090"). Left empty, plannerd runs with no HTTP
	// surface at all.
	ObservabilityAddr string `json:"observability_addr,omitempty"`
}

// NewDefault returns a RuntimeConfig with every optional field defaulted.
// LogPath and Schedulers are left empty: they are mandatory and have no
// sensible default.
func NewDefault() *RuntimeConfig {
	return &RuntimeConfig{
		ScheduleWindowSize:          10,
		ProfileSmoothingFactor:      0.1,
		ProfileWarmupRuns:           1,
		ProfileNumRuns:              1,
		ProfileCopyComputationRatio: 0.5,
		SubgraphPreparationType:     PreparationFallbackPerDevice,
		MinimumSubgraphSize:         1,
		AvailabilityCheckIntervalMS: 100,
	}
}

// Load reads, parses, and validates a RuntimeConfig from the JSON file at
// path, applying defaults for any optional key the file omits.
func Load(path string) (*RuntimeConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses and validates a RuntimeConfig from r, applying defaults
// for omitted optional keys.
func Decode(r io.Reader) (*RuntimeConfig, error) {
	var raw RuntimeConfig
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing config JSON: %w", err)
	}

	cfg := NewDefault()
	mergeDefaults(cfg, &raw)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeDefaults overlays the fields raw actually sets onto defaults,
// leaving every omitted optional field at its default value.
func mergeDefaults(defaults, raw *RuntimeConfig) {
	defaults.LogPath = raw.LogPath
	defaults.Schedulers = raw.Schedulers

	if raw.CPUMasks != "" {
		defaults.CPUMasks = raw.CPUMasks
	}
	if raw.PlannerCPUMasks != "" {
		defaults.PlannerCPUMasks = raw.PlannerCPUMasks
	}
	if raw.NumThreads != 0 {
		defaults.NumThreads = raw.NumThreads
	}
	if raw.ScheduleWindowSize != 0 {
		defaults.ScheduleWindowSize = raw.ScheduleWindowSize
	}
	if raw.ProfileSmoothingFactor != 0 {
		defaults.ProfileSmoothingFactor = raw.ProfileSmoothingFactor
	}
	if raw.ModelProfile != "" {
		defaults.ModelProfile = raw.ModelProfile
	}
	defaults.ProfileOnline = raw.ProfileOnline
	if raw.ProfileWarmupRuns != 0 {
		defaults.ProfileWarmupRuns = raw.ProfileWarmupRuns
	}
	if raw.ProfileNumRuns != 0 {
		defaults.ProfileNumRuns = raw.ProfileNumRuns
	}
	if raw.ProfileCopyComputationRatio != 0 {
		defaults.ProfileCopyComputationRatio = raw.ProfileCopyComputationRatio
	}
	if raw.SubgraphPreparationType != "" {
		defaults.SubgraphPreparationType = raw.SubgraphPreparationType
	}
	if raw.MinimumSubgraphSize != 0 {
		defaults.MinimumSubgraphSize = raw.MinimumSubgraphSize
	}
	if len(raw.Workers) > 0 {
		defaults.Workers = raw.Workers
	}
	defaults.AllowWorkSteal = raw.AllowWorkSteal
	if raw.AvailabilityCheckIntervalMS != 0 {
		defaults.AvailabilityCheckIntervalMS = raw.AvailabilityCheckIntervalMS
	}
	if raw.OffloadingTarget != "" {
		defaults.OffloadingTarget = raw.OffloadingTarget
	}
	if raw.OffloadingDataSize != 0 {
		defaults.OffloadingDataSize = raw.OffloadingDataSize
	}
	if len(raw.Resources) > 0 {
		defaults.Resources = raw.Resources
	}
	if raw.TemperatureLogPath != "" {
		defaults.TemperatureLogPath = raw.TemperatureLogPath
	}
}

// Validate checks the mandatory keys and the options that have a
// meaningful range.
func (c *RuntimeConfig) Validate() error {
	if c.LogPath == "" {
		return ErrMissingLogPath
	}
	if len(c.Schedulers) == 0 {
		return ErrMissingSchedulers
	}
	if c.ScheduleWindowSize <= 0 {
		return ErrInvalidScheduleWindow
	}
	if c.ProfileSmoothingFactor < 0 || c.ProfileSmoothingFactor > 1 {
		return ErrInvalidSmoothingFactor
	}
	for _, w := range c.Workers {
		if w.Device == "" {
			return fmt.Errorf("%w: worker entry missing device", ErrInvalidWorkerConfig)
		}
	}
	return nil
}

// AvailabilityCheckInterval returns the configured interval as a
// time.Duration.
func (c *RuntimeConfig) AvailabilityCheckInterval() time.Duration {
	return time.Duration(c.AvailabilityCheckIntervalMS) * time.Millisecond
}
