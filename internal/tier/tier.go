// Package tier implements C9: the tier controller that decides, for each
// function, which of the four compilation tiers currently back it, drives
// the worker pool that compiles the next tier in the background, and
// resolves deoptimizations and inlining invalidations back through
// internal/codecache (spec.md §4.2).
//
// Grounded on internal/engine/wazevo/engine.go's atomically-published
// compiled-module cache (generalized once already into internal/codecache;
// see DESIGN.md) and on original_source/src/core/jit/tiered_jit_manager.{h,cpp}
// for the tier enum, per-function state shape, and promotion-threshold
// defaults -- this core keeps four of the original's five tiers (dropping
// MetaTracing, which spec.md's scope never asks for) and replaces its
// single-threaded, synchronous CompileFunction with the worker pool in
// queue.go.
package tier

import (
	"runtime"
	"sync"
	"time"

	"github.com/tieredvm/corejit/internal/backend/common"
	"github.com/tieredvm/corejit/internal/bytecode"
	"github.com/tieredvm/corejit/internal/codecache"
	"github.com/tieredvm/corejit/internal/ir"
	"github.com/tieredvm/corejit/internal/optimizer"
	"github.com/tieredvm/corejit/internal/profiler"
	"github.com/tieredvm/corejit/internal/regalloc"
)

// Tier is one of spec.md §4.2's four compilation tiers, strictly ordered:
// Interpreter < Baseline < Optimizing < SuperOptimizing.
type Tier byte

const (
	Interpreter Tier = iota
	Baseline
	Optimizing
	SuperOptimizing
	numTiers
)

func (t Tier) String() string {
	switch t {
	case Interpreter:
		return "interpreter"
	case Baseline:
		return "baseline"
	case Optimizing:
		return "optimizing"
	case SuperOptimizing:
		return "super-optimizing"
	default:
		return "tier?"
	}
}

// optimizerLevel maps a target tier to C4's pipeline level, per spec.md
// §4.3: Baseline runs canonicalization only, Optimizing runs the medium
// pipeline, SuperOptimizing runs the full one. Interpreter never compiles.
func (t Tier) optimizerLevel() optimizer.Level {
	switch t {
	case Baseline:
		return optimizer.LevelCanonicalize
	case Optimizing:
		return optimizer.LevelMedium
	case SuperOptimizing:
		return optimizer.LevelFull
	default:
		return optimizer.LevelNone
	}
}

// CompileState mirrors tiered_jit_manager.h's CompileState enum: one
// function's relationship to one particular tier's compiled artifact.
type CompileState byte

const (
	StateNone CompileState = iota
	StateQueued
	StateCompiling
	StateCompleted
	StateFailed
	StateInvalidated
)

// Config holds the tunables spec.md §4.2 and §4.6 name, defaulted from
// original_source's TieredJITConfig -- its baselineTierUpThreshold=100,
// optimizingTierUpThreshold=10000, osrEntryThreshold=1000,
// osrMinLoopCount=50, maxInlineDepth=5, maxInlineSize=1000,
// maxCompileThreads=4, maxCompileQueueSize=1000, and codeCacheMaxSize=64MiB
// match spec.md §4.2's stated defaults exactly; compileBudgetMs is omitted
// since nothing in this core preempts a running compile mid-function.
type Config struct {
	// BaselineThreshold is the execution count at which Interpreter
	// promotes to Baseline.
	BaselineThreshold uint64
	// OptimizingThreshold is the execution count at which Baseline
	// promotes to Optimizing, gated additionally on TypeStabilityFloor.
	OptimizingThreshold uint64
	// TypeStabilityFloor is the minimum dominant-type stability at a
	// function's hot type-feedback sites required for Baseline->Optimizing
	// promotion (spec.md §4.2).
	TypeStabilityFloor float64
	// SuperOptimizingThreshold is the execution count, checked alongside
	// a clean recent deopt history, for Optimizing->SuperOptimizing.
	SuperOptimizingThreshold uint64
	// SustainedHotWindow is how many consecutive samples a function must
	// stay above SuperOptimizingThreshold for, per spec.md §4.6's sliding
	// window, before SuperOptimizing promotion is considered.
	SustainedHotWindow int
	// DeoptCooldownStrikes is how many times a given bytecode offset may
	// deoptimize before its speculation is blacklisted.
	DeoptCooldownStrikes int
	// DeoptCooldown is how long a blacklisted offset stays blacklisted.
	DeoptCooldown time.Duration

	// OSREntryThreshold is the back-edge count that queues an OSR compile
	// for a loop still running in a lower tier.
	OSREntryThreshold uint64
	// OSRMinLoopCount is the minimum mean-iterations-per-entry a loop must
	// show before it's considered worth an OSR compile at all.
	OSRMinLoopCount float64

	// MaxInlineDepth and MaxInlineSize are recorded only: no compile path
	// reads them, and the optimizer pipeline has no inlining pass.
	MaxInlineDepth int
	MaxInlineSize  int

	// Workers is the compile worker pool size; New starts exactly this
	// many workers, so 0 starts none. DefaultConfig sets
	// runtime.NumCPU()-1 clamped to at least 1.
	Workers int
	// MaxQueueSize bounds the number of outstanding compile tasks; Enqueue
	// silently drops a task past this size (compilation is an optimization,
	// never correctness-required -- the interpreter/lower tier remains a
	// safe fallback per spec.md §8 invariant 7).
	MaxQueueSize int
	// CodeCacheMaxSize is recorded but not enforced: New does not pass it
	// to the code pool, which has no total-size cap. GuardPages toggles
	// one trailing PROT_NONE page per artifact.
	CodeCacheMaxSize int
	GuardPages       bool
}

// DefaultConfig returns spec.md §4.2's stated defaults.
func DefaultConfig() Config {
	workers := runtime.NumCPU() - 1
	if workers < 1 {
		workers = 1
	}
	return Config{
		BaselineThreshold:        100,
		OptimizingThreshold:      10000,
		TypeStabilityFloor:       0.8,
		SuperOptimizingThreshold: 10000,
		SustainedHotWindow:       5,
		DeoptCooldownStrikes:     3,
		DeoptCooldown:            2 * time.Second,
		OSREntryThreshold:        1000,
		OSRMinLoopCount:          50,
		MaxInlineDepth:           5,
		MaxInlineSize:            1000,
		Workers:                  workers,
		MaxQueueSize:             1000,
		CodeCacheMaxSize:         64 << 20,
		GuardPages:               false,
	}
}

// tierRecord is one tier's compilation bookkeeping for one function,
// generalizing FunctionJITState's parallel states[]/compiledCode[]/
// compilationTime[]/codeSize[] arrays into one struct per tier.
type tierRecord struct {
	state       CompileState
	codeSize    int
	compileTime time.Duration
}

// FunctionState is one function's complete tiering state (spec.md §4.2):
// current tier, per-tier compile bookkeeping, a tier-up counter and the
// sustained-hot streak (execution and back-edge counts live in the
// profiler), the set of callees this function's current artifact has
// inlined, and a pending-deoptimization flag a safepoint check consults.
type FunctionState struct {
	mu sync.Mutex

	funcID uint32
	tier   Tier
	tiers  [numTiers]tierRecord

	tierUpCounter int
	hotStreak     int // consecutive samples above SuperOptimizingThreshold

	inlined map[uint32]bool

	pendingDeopt bool

	// blacklist maps a speculation's bytecode offset to its deopt strike
	// count and the time its cooldown expires, as Blacklisted reports it;
	// the compile path does not consult it.
	blacklist map[uint32]blacklistEntry
}

type blacklistEntry struct {
	strikes int
	until   time.Time
}

func newFunctionState(funcID uint32) *FunctionState {
	return &FunctionState{
		funcID:    funcID,
		inlined:   make(map[uint32]bool),
		blacklist: make(map[uint32]blacklistEntry),
	}
}

// Tier returns the function's current tier under the state's lock.
func (fs *FunctionState) Tier() Tier {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.tier
}

// isBlacklisted reports whether offset's speculation is still cooling
// down, as of now.
func (fs *FunctionState) isBlacklisted(offset uint32, now time.Time) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.blacklist[offset]
	return ok && now.Before(e.until)
}

// Controller owns every function's tiering state, the code cache and pool
// backing published artifacts, the profiler registry driving promotion
// decisions, and the compile worker pool.
type Controller struct {
	module   *bytecode.Module
	cache    *codecache.Cache
	pool     *codecache.Pool
	profiles *profiler.Registry
	cfg      Config

	regs RegisterSet
	emit EmitFunc

	mu     sync.RWMutex
	states map[uint32]*FunctionState

	queue   *taskQueue
	closing chan struct{}
	wg      sync.WaitGroup

	// pendingRelease holds artifacts Publish/Invalidate superseded but
	// that may still be executing on some goroutine's stack. ReleaseStale
	// drains it; NewEngine registers ReleaseStale with its gc.Heap's
	// OnSafepoint hook, so each safepoint frees them (spec.md §8 invariant
	// 8). A Controller used without that registration only accumulates
	// entries here.
	releaseMu      sync.Mutex
	pendingRelease []*codecache.Artifact
}

// RegisterSet and EmitFunc let Controller stay backend-agnostic: New's
// caller supplies the GOARCH-selected regalloc.RegisterSet and
// EmitFunction closure (see Select in compile.go), so this package never
// imports amd64/arm64/riscv directly and compiles on any host.
type RegisterSet = regalloc.RegisterSet

// EmitFunc matches every backend package's EmitFunction signature.
type EmitFunc func(fn *ir.Function, alloc *regalloc.Allocation, frame common.Frame) ([]byte, *common.Metadata, error)

// New returns a Controller ready to tier functions in module, using regs/
// emit as the target backend's register set and encoder (see Select).
func New(module *bytecode.Module, profiles *profiler.Registry, regs RegisterSet, emit EmitFunc, cfg Config) *Controller {
	pool := codecache.NewPool()
	pool.GuardPages = cfg.GuardPages

	c := &Controller{
		module:   module,
		cache:    codecache.New(),
		pool:     pool,
		profiles: profiles,
		cfg:      cfg,
		regs:     regs,
		emit:     emit,
		states:   make(map[uint32]*FunctionState),
		queue:    newTaskQueue(),
		closing:  make(chan struct{}),
	}
	c.startWorkers()
	return c
}

func (c *Controller) state(funcID uint32) *FunctionState {
	c.mu.RLock()
	fs, ok := c.states[funcID]
	c.mu.RUnlock()
	if ok {
		return fs
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if fs, ok := c.states[funcID]; ok {
		return fs
	}
	fs = newFunctionState(funcID)
	c.states[funcID] = fs
	return fs
}

// CurrentEntry returns funcID's codecache.Entry for dispatch. A nil Load()
// means the function has no published artifact above Interpreter and the
// caller must fall back to the bytecode interpreter.
func (c *Controller) CurrentEntry(funcID uint32) *codecache.Entry {
	return c.cache.Entry(uint64(funcID))
}

// CurrentTier reports funcID's current tier.
func (c *Controller) CurrentTier(funcID uint32) Tier {
	return c.state(funcID).Tier()
}

// Close stops the compile worker pool, waking every blocked worker so it
// can observe closing and return.
func (c *Controller) Close() {
	close(c.closing)
	c.queue.close()
	c.wg.Wait()
}
