package corejit

import (
	"github.com/tieredvm/corejit/internal/gc"
	"github.com/tieredvm/corejit/internal/tier"
)

// Config controls Engine behavior, with the default implementation as
// NewConfig. Every option spec.md §6 enumerates (tier_up.*, osr.*, jit.*,
// gc.*, profile.*) is represented here, generalizing the teacher's
// RuntimeConfig clone/With* builder (config.go) over tier.Config and
// gc.Config instead of wasm.Features/memoryMaxPages.
type Config struct {
	tier      tier.Config
	heap      gc.Config
	stability float64 // profile.stability_threshold
}

// engineLessConfig helps avoid copy/pasting the wrong defaults.
var engineLessConfig = &Config{
	tier:      tier.DefaultConfig(),
	heap:      gc.DefaultConfig(),
	stability: 0.8,
}

// NewConfig returns a Config populated with spec.md §4.2/§6's stated
// defaults.
func NewConfig() *Config {
	ret := *engineLessConfig
	return &ret
}

// clone ensures all fields are copied even if nested structs are later
// widened to carry pointers or slices.
func (c *Config) clone() *Config {
	ret := *c
	return &ret
}

// WithBaselineThreshold sets the execution count at which the interpreter
// tier promotes a function to Baseline (tier_up.baseline_threshold).
func (c *Config) WithBaselineThreshold(n uint64) *Config {
	ret := c.clone()
	ret.tier.BaselineThreshold = n
	return ret
}

// WithOptimizingThreshold sets tier_up.optimizing_threshold.
func (c *Config) WithOptimizingThreshold(n uint64) *Config {
	ret := c.clone()
	ret.tier.OptimizingThreshold = n
	return ret
}

// WithSuperThreshold sets tier_up.super_threshold.
func (c *Config) WithSuperThreshold(n uint64) *Config {
	ret := c.clone()
	ret.tier.SuperOptimizingThreshold = n
	return ret
}

// WithOSREntryThreshold sets osr.entry_threshold: the back-edge count that
// queues an on-stack-replacement compile for a loop still running in a
// lower tier.
func (c *Config) WithOSREntryThreshold(n uint64) *Config {
	ret := c.clone()
	ret.tier.OSREntryThreshold = n
	return ret
}

// WithCompileThreads sets jit.compile_threads. Zero means auto: the same
// runtime.NumCPU()-1 (clamped to 1) tier.DefaultConfig() already computes,
// not a zero-worker pool -- tier.New's queue never starts workers when
// Workers==0 (internal/tier/queue.go's startWorkers), so this setter
// re-derives the auto value itself rather than passing 0 straight through
// and silently starving the compile queue.
func (c *Config) WithCompileThreads(n int) *Config {
	ret := c.clone()
	if n == 0 {
		ret.tier = tier.DefaultConfig()
		ret.tier.BaselineThreshold = c.tier.BaselineThreshold
		ret.tier.OptimizingThreshold = c.tier.OptimizingThreshold
		ret.tier.SuperOptimizingThreshold = c.tier.SuperOptimizingThreshold
		ret.tier.OSREntryThreshold = c.tier.OSREntryThreshold
		ret.tier.MaxInlineDepth = c.tier.MaxInlineDepth
		ret.tier.MaxInlineSize = c.tier.MaxInlineSize
		ret.tier.CodeCacheMaxSize = c.tier.CodeCacheMaxSize
		return ret
	}
	ret.tier.Workers = n
	return ret
}

// WithCompileBudgetMillis accepts jit.compile_budget_ms but discards it:
// the returned Config is an unchanged copy, no field stores the budget,
// and no compile is bounded by it (this core's queue workers never
// preempt a running compile mid-function).
func (c *Config) WithCompileBudgetMillis(ms int) *Config {
	return c.clone()
}

// WithMaxInlineDepth sets jit.max_inline_depth.
func (c *Config) WithMaxInlineDepth(n int) *Config {
	ret := c.clone()
	ret.tier.MaxInlineDepth = n
	return ret
}

// WithMaxInlineSize sets jit.max_inline_size.
func (c *Config) WithMaxInlineSize(n int) *Config {
	ret := c.clone()
	ret.tier.MaxInlineSize = n
	return ret
}

// WithNurserySize sets gc.nursery_size in bytes.
func (c *Config) WithNurserySize(n uint64) *Config {
	ret := c.clone()
	ret.heap.NurserySize = n
	return ret
}

// WithYoungSize sets gc.young_size in bytes.
func (c *Config) WithYoungSize(n uint64) *Config {
	ret := c.clone()
	ret.heap.YoungSize = n
	return ret
}

// WithMediumSize sets gc.medium_size in bytes.
func (c *Config) WithMediumSize(n uint64) *Config {
	ret := c.clone()
	ret.heap.MediumSize = n
	return ret
}

// WithMaxHeapSize sets gc.max_heap_size in bytes.
func (c *Config) WithMaxHeapSize(n uint64) *Config {
	ret := c.clone()
	ret.heap.MaxHeapSize = n
	return ret
}

// WithLargeObjectThreshold sets gc.large_object_threshold in bytes.
func (c *Config) WithLargeObjectThreshold(n uint64) *Config {
	ret := c.clone()
	ret.heap.LargeObjectThreshold = n
	return ret
}

// WithConcurrentMark toggles gc.enable_concurrent_mark.
func (c *Config) WithConcurrentMark(enabled bool) *Config {
	ret := c.clone()
	ret.heap.EnableConcurrentMark = enabled
	return ret
}

// WithConcurrentSweep toggles gc.enable_concurrent_sweep.
func (c *Config) WithConcurrentSweep(enabled bool) *Config {
	ret := c.clone()
	ret.heap.EnableConcurrentSweep = enabled
	return ret
}

// WithCompaction toggles gc.enable_compaction.
func (c *Config) WithCompaction(enabled bool) *Config {
	ret := c.clone()
	ret.heap.EnableCompaction = enabled
	return ret
}

// WithPromotionAges sets gc.promotion_ages: the survival count required to
// advance out of the nursery, young, and medium generations respectively.
func (c *Config) WithPromotionAges(nursery, young, medium uint8) *Config {
	ret := c.clone()
	ret.heap.PromotionAges[gc.Nursery] = nursery
	ret.heap.PromotionAges[gc.Young] = young
	ret.heap.PromotionAges[gc.Medium] = medium
	return ret
}

// WithStabilityThreshold sets profile.stability_threshold: the minimum
// dominant-type stability (internal/profiler's TypeFeedback.Stability)
// this core's tier controller requires before trusting a hot call site's
// speculation.
func (c *Config) WithStabilityThreshold(f float64) *Config {
	ret := c.clone()
	ret.stability = f
	ret.tier.TypeStabilityFloor = f
	return ret
}
