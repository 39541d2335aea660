package mcs

import (
	"fmt"
	"log/slog"

	"github.com/netsys/sts-replay/internal/eventdag"
	"github.com/netsys/sts-replay/internal/replay"
)

// RunEfficient performs the reproducibility gate and optional optimized
// filtering exactly as Run does, then uses the O(n) efficient-ddmin variant
// (spec §4.8, Zeller 1999 §4) instead of classical ddmin. Requires
// deterministic replays; skips the precompute cache entirely.
func (f *Finder) RunEfficient() (*eventdag.EventDag, error) {
	f.phase = "verifying"
	f.dag = f.dag.MarkInvalidInputSequences().FilterUnsupportedInputTypes()
	f.stats.SetDagStats(len(f.dag.InputEvents()), f.dag.Len(), dagDurationSeconds(f.dag))

	if f.dag.Len() == 0 {
		return nil, fmt.Errorf("mcs: no supported input types in trace")
	}
	if err := f.checkReproducibility(); err != nil {
		return nil, err
	}

	f.phase = "pruning"
	f.stats.RecordPruneStart()
	if f.opt.OptimizedFiltering {
		f.optimizeEventDag()
	}

	result, totalPruned, err := f.ddminEfficient(f.dag, nil, 0, nil, 0)
	if err != nil {
		return nil, err
	}
	f.trackIterationSize(totalPruned)
	f.dag = result

	f.stats.RecordPruneEnd()
	f.stats.RecordGlobalStats(int(replay.TotalReplays()), int(replay.TotalInputsReplayed()))
	if f.metrics != nil {
		f.metrics.ObservePruneDuration(f.stats.PruneDurationSeconds)
	}
	f.dumpRuntimeStats("")
	f.phase = "done"
	if f.progress != nil {
		f.progress.Done(len(f.dag.InputEvents()))
	}

	if f.opt.MCSTracePath != "" {
		if err := f.dumpMCSTrace(f.dag, f.opt.MCSTracePath); err != nil {
			return nil, err
		}
	}
	return f.dag, nil
}

// ddminEfficient mirrors EfficientMCSFinder._ddmin: carryover is "r" from the
// Zeller 1999 paper, a set of atoms always included alongside the half under
// test.
func (f *Finder) ddminEfficient(dag *eventdag.EventDag, carryover []eventdag.Atom, recursionLevel int, labelPrefix []string, totalInputsPruned int) (*eventdag.EventDag, int, error) {
	atoms := dag.AtomicInputEvents()
	if len(atoms) == 1 {
		slog.Debug("efficient ddmin base case", "inputs", len(dag.InputEvents()))
		return dag, totalInputsPruned, nil
	}

	halves := eventdag.SplitList(atoms, 2)
	left, right := halves[0], halves[1]
	dags := make([]*eventdag.EventDag, 2)

	for i, half := range [][]eventdag.Atom{left, right} {
		label := fmt.Sprintf("%s/%d", sideName(i), recursionLevel)
		prefix := append(append([]string{}, labelPrefix...), label)
		newDag := dag.AtomicInputSubset(half)
		dags[i] = newDag
		testDag := newDag.InsertAtomicInputs(carryover)

		f.trackIterationSizeFor(dag, totalInputsPruned)
		violated, err := f.checkViolation(testDag, i)
		if err != nil {
			return nil, 0, err
		}
		if violated {
			slog.Info("efficient ddmin: violation found in half, recursing", "half", i)
			totalInputsPruned += len(dag.InputEvents()) - len(newDag.InputEvents())
			f.maybeDumpIntermediateMCS(newDag, joinLabels(prefix))
			return f.ddminEfficient(newDag, carryover, recursionLevel+1, prefix, totalInputsPruned)
		}
	}

	slog.Debug("efficient ddmin: interference, recursing into both halves")
	leftDag, rightDag := dags[0], dags[1]

	leftPrefix := append(append([]string{}, labelPrefix...), fmt.Sprintf("il/%d", recursionLevel))
	leftCarryover := rightDag.InsertAtomicInputs(carryover).AtomicInputEvents()
	leftResult, totalInputsPruned, err := f.ddminEfficient(leftDag, leftCarryover, recursionLevel+1, leftPrefix, totalInputsPruned)
	if err != nil {
		return nil, 0, err
	}

	rightPrefix := append(append([]string{}, labelPrefix...), fmt.Sprintf("ir/%d", recursionLevel))
	rightCarryover := leftDag.InsertAtomicInputs(carryover).AtomicInputEvents()
	rightResult, totalInputsPruned, err := f.ddminEfficient(rightDag, rightCarryover, recursionLevel+1, rightPrefix, totalInputsPruned)
	if err != nil {
		return nil, 0, err
	}

	merged := leftResult.InsertAtomicInputs(rightResult.AtomicInputEvents())
	return merged, totalInputsPruned, nil
}

func sideName(i int) string {
	if i == 0 {
		return "l"
	}
	return "r"
}
