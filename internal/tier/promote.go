package tier

// OnCall is the per-invocation hook: interp.Run calls this on every entry
// to funcID (compiled code does not call it).
// It records the execution in the profiler and, if the resulting count
// crosses this tier's promotion threshold, enqueues the next tier's
// compile (spec.md §4.2's Interpreter->Baseline->Optimizing chain;
// Optimizing->SuperOptimizing is handled separately by checkSustainedHot,
// since it additionally needs the §4.6 sliding window rather than a
// single-sample threshold).
func (c *Controller) OnCall(funcID uint32) {
	profile := c.profiles.Get(funcID)
	profile.RecordExecution()
	executions := profile.Executions()

	fs := c.state(funcID)
	tier := fs.Tier()

	switch tier {
	case Interpreter:
		if executions >= c.cfg.BaselineThreshold {
			c.enqueueCompile(funcID, Baseline, priorityFor(executions))
		}
	case Baseline:
		if executions >= c.cfg.OptimizingThreshold && c.dominantTypesStable(funcID) {
			c.enqueueCompile(funcID, Optimizing, priorityFor(executions))
		}
	case Optimizing:
		c.checkSustainedHot(funcID, executions)
	}
}

// dominantTypesStable reports whether every type-feedback site the
// profiler has observed for funcID meets Config.TypeStabilityFloor, the
// Baseline->Optimizing gate spec.md §4.2 calls for ("dominant-type
// stability at hot sites >= 0.8"). A function with no observed sites
// (e.g. it does no typed arithmetic at all) is vacuously stable.
func (c *Controller) dominantTypesStable(funcID uint32) bool {
	profile := c.profiles.Get(funcID)
	for _, offset := range profile.ObservedTypeOffsets() {
		if _, stability := profile.TypeFeedbackAt(offset).DominantKind(); stability < c.cfg.TypeStabilityFloor {
			return false
		}
	}
	return true
}

// checkSustainedHot implements spec.md §4.2's
// Optimizing->SuperOptimizing gate: sustained-hot under §4.6's sliding
// window (Config.SustainedHotWindow consecutive samples at or above
// SuperOptimizingThreshold) and no deopt recorded recently.
func (c *Controller) checkSustainedHot(funcID uint32, executions uint64) {
	fs := c.state(funcID)

	fs.mu.Lock()
	if executions >= c.cfg.SuperOptimizingThreshold {
		fs.hotStreak++
	} else {
		fs.hotStreak = 0
	}
	streak := fs.hotStreak
	fs.mu.Unlock()

	if streak < c.cfg.SustainedHotWindow {
		return
	}

	profile := c.profiles.Get(funcID)
	if len(profile.DeoptCauses()) > 0 {
		return
	}

	c.enqueueCompile(funcID, SuperOptimizing, priorityFor(executions))
}

// OnBackedge is the loop-header hook: the interpreter calls this every
// time control reaches loopHeader via a backward jump. It records the
// iteration in the profiler's loop table and, once the header's back-edge
// count crosses Config.OSREntryThreshold while the function is still below
// Optimizing, queues an OSR compile targeting that exact offset (spec.md
// §4.2's on-stack-replacement path: a loop can tier up without waiting for
// the enclosing function to return and be called again).
func (c *Controller) OnBackedge(funcID uint32, loopHeader uint32) {
	profile := c.profiles.Get(funcID)
	profile.Loop(loopHeader).ObserveHeader()

	fs := c.state(funcID)
	tier := fs.Tier()
	if tier >= Optimizing {
		return
	}
	if !profile.IsLoopHot(loopHeader, c.cfg.OSREntryThreshold) {
		return
	}
	if profile.Loop(loopHeader).MeanIterations() < c.cfg.OSRMinLoopCount {
		return
	}

	c.enqueueOSR(funcID, Baseline, loopHeader)
}

// priorityFor turns a raw execution count into a compile-task priority:
// hotter functions jump ahead of merely-warm ones in the shared queue.
// Saturates just below enqueueOSR's fixed priority (1<<30), so an OSR
// compile still ranks above every normal one and the value fits an int
// on any platform.
func priorityFor(executions uint64) int {
	const cap64 = uint64(1)<<30 - 1
	if executions > cap64 {
		return int(cap64)
	}
	return int(executions)
}
