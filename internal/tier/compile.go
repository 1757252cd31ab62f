package tier

import (
	"fmt"
	"runtime"

	"github.com/tieredvm/corejit/internal/backend/amd64"
	"github.com/tieredvm/corejit/internal/backend/arm64"
	"github.com/tieredvm/corejit/internal/backend/common"
	"github.com/tieredvm/corejit/internal/backend/riscv"
	"github.com/tieredvm/corejit/internal/codecache"
	"github.com/tieredvm/corejit/internal/ir"
	"github.com/tieredvm/corejit/internal/optimizer"
	"github.com/tieredvm/corejit/internal/platform"
	"github.com/tieredvm/corejit/internal/profiler"
	"github.com/tieredvm/corejit/internal/regalloc"
)

// Select returns the RegisterSet and EmitFunc for the running host's
// architecture, generalizing internal/engine/wazevo/machine.go's
// runtime.GOARCH switch (which picks between its amd64/arm64 backend.Machine
// implementations) to this engine's three backends plus a riscv64 arm the
// teacher never had.
func Select() (RegisterSet, EmitFunc, error) {
	switch runtime.GOARCH {
	case "amd64":
		return amd64.AllocatablePool(), amd64.EmitFunction, nil
	case "arm64":
		return arm64.AllocatablePool(), arm64.EmitFunction, nil
	case "riscv64":
		return riscv.AllocatablePool(), riscv.EmitFunction, nil
	default:
		return RegisterSet{}, nil, fmt.Errorf("tier: no native backend for GOARCH %q", runtime.GOARCH)
	}
}

// widestVectorBits implements optimizer.VectorISA per detected host
// feature, since none of the three backend isa.go files expose this
// directly (they report raw CPUID-derived Features, not a single-number
// summary) -- this is the minimal glue the vectorizer pass needs, kept
// here rather than duplicated per architecture.
type widestVectorBits int

func (w widestVectorBits) WidestVectorBits() int { return int(w) }

func detectVectorISA() optimizer.VectorISA {
	switch runtime.GOARCH {
	case "amd64":
		f := amd64.DetectFeatures()
		switch {
		case f.AVX2, f.AVX:
			return widestVectorBits(256)
		case f.SSE42:
			return widestVectorBits(128)
		default:
			return widestVectorBits(64)
		}
	case "arm64":
		f := arm64.DetectFeatures()
		if f.SVE {
			return widestVectorBits(256)
		}
		return widestVectorBits(128) // NEON is always present on AArch64
	case "riscv64":
		f := riscv.DetectFeatures()
		if f.HasV {
			return widestVectorBits(256)
		}
		return widestVectorBits(64)
	default:
		return widestVectorBits(64)
	}
}

// typeOracle adapts one function's profiler.FunctionProfile to
// optimizer.TypeOracle, the minimal surface C4's type-specialization pass
// needs -- kept as an adapter here (rather than having internal/optimizer
// import internal/profiler directly) exactly per pipeline.go's own doc
// comment on TypeOracle.
type typeOracle struct {
	profile *profiler.FunctionProfile
}

func (o typeOracle) DominantTypeAt(offset uint32) (ir.Type, float64) {
	kind, stability := o.profile.TypeFeedbackAt(offset).DominantKind()
	return irTypeOf(kind), stability
}

// irTypeOf maps the profiler's runtime-observation vocabulary onto the
// IR's static type lattice; both enumerate the same JS value kinds in the
// same order, so this is a direct correspondence, not a lossy projection.
func irTypeOf(k profiler.TypeKind) ir.Type {
	switch k {
	case profiler.KindUndefined:
		return ir.TypeUndefined
	case profiler.KindNull:
		return ir.TypeNull
	case profiler.KindBoolean:
		return ir.TypeBoolean
	case profiler.KindInt32:
		return ir.TypeInt32
	case profiler.KindFloat64:
		return ir.TypeFloat64
	case profiler.KindString:
		return ir.TypeString
	case profiler.KindObject:
		return ir.TypeObject
	case profiler.KindArray:
		return ir.TypeArray
	case profiler.KindFunction:
		return ir.TypeFunction
	default:
		return ir.TypeUnknown
	}
}

// spillFrameBase is the displacement from the frame pointer to spill slot
// 0, fixed at -8 across every backend per internal/ir/opcode.go's
// OpSpillStore/OpSpillReload doc comment and encode_test.go's own
// `common.Frame{SpillBase: -8, ...}` convention in each backend package.
const spillFrameBase = -8

// compileFunction runs C1(already compiled)->C2->C4->C5->C6-C8->C9's
// publish for funcID at targetTier, returning the published artifact. The
// IR pipeline is identical across tiers; only the optimizer level (and, at
// SuperOptimizing, the longer-lived assumptions baked into guards) differ.
func (c *Controller) compileFunction(funcID uint32, targetTier Tier) (*codecache.Artifact, error) {
	if int(funcID) >= len(c.module.Functions) {
		return nil, fmt.Errorf("tier: function id %d out of range", funcID)
	}
	fn := c.module.Functions[funcID]

	irFn, err := ir.Lower(fn, c.module.Consts, c.module.Strings)
	if err != nil {
		return nil, fmt.Errorf("tier: lowering function %d: %w", funcID, err)
	}

	profile := c.profiles.Get(funcID)
	ctx := &optimizer.Context{Profile: typeOracle{profile}, VectorISA: detectVectorISA()}
	optimizer.Run(irFn, targetTier.optimizerLevel(), ctx)

	alloc := regalloc.AllocateFunction(irFn, c.regs)
	frame := common.Frame{SpillBase: spillFrameBase, SlotCount: alloc.Slots.Count()}

	code, meta, err := c.emit(irFn, alloc, frame)
	if err != nil {
		return nil, fmt.Errorf("tier: emitting function %d at tier %s: %w", funcID, targetTier, err)
	}

	mem, err := c.pool.Allocate(len(code))
	if err != nil {
		return nil, fmt.Errorf("tier: allocating code memory for function %d: %w", funcID, err)
	}
	copy(mem, code)
	if err := platform.MakeExecutable(mem[:len(code)]); err != nil {
		_ = c.pool.Release(mem)
		return nil, fmt.Errorf("tier: sealing function %d executable: %w", funcID, err)
	}

	art, superseded := c.cache.Publish(uint64(funcID), mem[:len(code)], meta)
	if superseded != nil {
		c.deferRelease(superseded)
	}

	fs := c.state(funcID)
	fs.mu.Lock()
	fs.tiers[targetTier] = tierRecord{state: StateCompleted, codeSize: len(code)}
	if targetTier > fs.tier {
		fs.tier = targetTier
	}
	fs.mu.Unlock()

	return art, nil
}

// deferRelease queues a superseded artifact for release once a safepoint
// can prove no frame still returns into it (spec.md §8 invariant 8). See
// the pendingRelease doc comment on Controller.
func (c *Controller) deferRelease(art *codecache.Artifact) {
	c.releaseMu.Lock()
	c.pendingRelease = append(c.pendingRelease, art)
	c.releaseMu.Unlock()
}

// ReleaseStale returns every artifact superseded since the last call and
// unmaps its memory back to the pool's free list. The caller -- the
// safepoint callback NewEngine registers with gc.Heap.OnSafepoint -- must
// have already confirmed no live stack frame returns into any of them.
func (c *Controller) ReleaseStale() error {
	c.releaseMu.Lock()
	pending := c.pendingRelease
	c.pendingRelease = nil
	c.releaseMu.Unlock()

	for _, art := range pending {
		if err := c.pool.Release(art.Code); err != nil {
			return err
		}
	}
	return nil
}
