package tier

import (
	"time"

	"github.com/tieredvm/corejit/internal/profiler"
)

// Deoptimize handles a guard failure at a published artifact (spec.md
// §4.2): the caller -- the trap handler that already reconstructed the
// interpreter frame from the artifact's stack map -- reports the failing
// assumption's cause, which this records on the function's profile,
// invalidates the published artifact (dispatch falls back to the
// interpreter until a Baseline recompile lands), lowers the function's
// tier, and blacklists the offending bytecode offset once it has failed
// Config.DeoptCooldownStrikes times.
//
// Unlike original_source's TriggerTierDownCompilation (which keeps every
// tier's compiled code resident and just swaps the active entry pointer
// back to one already on hand), this core's codecache.Cache only ever
// holds one currently-published artifact per function, per its own
// grounding in spec.md §4.5's single code-pool/free-list design. So
// "lower to Baseline" here means invalidate-then-recompile Baseline fresh
// rather than re-publish a retained Baseline artifact; Baseline's pipeline
// is cheap (canonicalize-only, spec.md §4.3) so the recompile cost is
// small relative to the Optimizing/SuperOptimizing tier it replaces.
func (c *Controller) Deoptimize(funcID uint32, cause profiler.DeoptCause) error {
	profile := c.profiles.Get(funcID)
	profile.RecordDeopt(cause)

	fs := c.state(funcID)
	now := time.Now()

	fs.mu.Lock()
	fs.pendingDeopt = true
	entry := fs.blacklist[cause.BytecodeOffset]
	entry.strikes++
	if entry.strikes >= c.cfg.DeoptCooldownStrikes {
		entry.until = now.Add(c.cfg.DeoptCooldown)
		entry.strikes = 0
	}
	fs.blacklist[cause.BytecodeOffset] = entry
	fs.tier = Baseline
	fs.hotStreak = 0
	fs.tiers[Optimizing] = tierRecord{}
	fs.tiers[SuperOptimizing] = tierRecord{}
	fs.mu.Unlock()

	if art, ok := c.cache.Invalidate(uint64(funcID)); ok {
		c.deferRelease(art)
	}

	_, err := c.compileFunction(funcID, Baseline)

	fs.mu.Lock()
	fs.pendingDeopt = false
	fs.mu.Unlock()
	return err
}

// Blacklisted reports whether offset's speculation is still cooling down
// for funcID. Nothing in the compile path consults it: compileFunction's
// type oracle answers for a blacklisted offset like any other, so type
// specialization can place the same guard again.
func (c *Controller) Blacklisted(funcID uint32, offset uint32) bool {
	return c.state(funcID).isBlacklisted(offset, time.Now())
}

// PendingDeoptimization reports whether funcID is in the middle of
// deoptimizing, the flag a safepoint poll checks per FunctionJITState's
// pendingDeoptimization in the grounding source.
func (c *Controller) PendingDeoptimization(funcID uint32) bool {
	fs := c.state(funcID)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.pendingDeopt
}

// MarkInlined records that funcID's currently-compiling artifact has
// inlined calleeID, so a later change to callee invalidates this function
// too (spec.md §4.2's invalidation propagation).
func (c *Controller) MarkInlined(funcID, calleeID uint32) {
	fs := c.state(funcID)
	fs.mu.Lock()
	fs.inlined[calleeID] = true
	fs.mu.Unlock()
}

// InvalidateInlinedCallers invalidates and queues a fresh compile for
// every function whose currently-compiled artifact inlined calleeID, when
// calleeID itself has just been superseded (e.g. redefined, or
// deoptimized in a way that breaks an assumption its callers relied on).
func (c *Controller) InvalidateInlinedCallers(calleeID uint32) {
	c.mu.RLock()
	var callers []uint32
	for id, fs := range c.states {
		fs.mu.Lock()
		inlines := fs.inlined[calleeID]
		fs.mu.Unlock()
		if inlines {
			callers = append(callers, id)
		}
	}
	c.mu.RUnlock()

	for _, callerID := range callers {
		c.invalidateForInlining(callerID, calleeID)
	}
}

func (c *Controller) invalidateForInlining(callerID, calleeID uint32) {
	fs := c.state(callerID)

	fs.mu.Lock()
	delete(fs.inlined, calleeID)
	previousTier := fs.tier
	if previousTier > Baseline {
		fs.tier = Baseline
	}
	fs.mu.Unlock()

	if previousTier <= Baseline {
		return
	}
	if art, ok := c.cache.Invalidate(uint64(callerID)); ok {
		c.deferRelease(art)
	}
	c.enqueueCompile(callerID, previousTier, priorityFor(c.profiles.Get(callerID).Executions()))
}

// compileOSR compiles funcID at targetTier in response to a hot loop at
// bytecode offset offset that crossed Config.OSREntryThreshold while the
// function itself hadn't accumulated enough whole-invocation executions to
// tier up normally. This core's backends expose one function-level
// EmitFunction entry point each (no secondary live-variable-snapshot entry
// reading a stack map mid-function), so OSR here means "promote the whole
// function early because one of its loops is provably hot", not a
// mid-function jump into freshly-JITted code -- a scoped approximation of
// spec.md §4.2's OSR given that backend constraint; see DESIGN.md.
func (c *Controller) compileOSR(funcID uint32, targetTier Tier, offset uint32) {
	fs := c.state(funcID)
	fs.mu.Lock()
	fs.tiers[targetTier].state = StateCompiling
	fs.mu.Unlock()

	if _, err := c.compileFunction(funcID, targetTier); err != nil {
		fs.mu.Lock()
		fs.tiers[targetTier].state = StateFailed
		fs.mu.Unlock()
		return
	}

	profile := c.profiles.Get(funcID)
	profile.RecordEntryBackedge()
}
