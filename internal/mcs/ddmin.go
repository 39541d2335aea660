package mcs

import (
	"fmt"
	"log/slog"

	"github.com/netsys/sts-replay/internal/cache"
	"github.com/netsys/sts-replay/internal/eventdag"
	"github.com/netsys/sts-replay/internal/replay"
)

// ddmin is the classical delta-debugging algorithm (spec §4.7, ddmin §3.2).
func (f *Finder) ddmin(dag *eventdag.EventDag, splitWays int, c cache.PrecomputeCache, labelPrefix []string) (*eventdag.EventDag, int, error) {
	return f.ddminStep(dag, splitWays, c, labelPrefix, 0)
}

func (f *Finder) ddminStep(dag *eventdag.EventDag, splitWays int, c cache.PrecomputeCache, labelPrefix []string, totalInputsPruned int) (*eventdag.EventDag, int, error) {
	inputs := dag.InputEvents()
	if splitWays > len(inputs) {
		slog.Debug("ddmin done")
		return dag, totalInputsPruned, nil
	}

	subsets := eventdag.SplitList(inputs, splitWays)

	for i, subset := range subsets {
		label := fmt.Sprintf("%d/%d", i, splitWays)
		labels := inputLabels(subset)
		newDag := dag.InputSubset(labels)
		seq := newDag.InputLabels()
		if c.AlreadyDone(seq) {
			continue
		}
		c.Update(seq)
		if len(seq) == 0 {
			continue
		}

		f.trackIterationSizeFor(dag, totalInputsPruned)
		violated, err := f.checkViolation(newDag, i)
		if err != nil {
			return nil, 0, err
		}
		if violated {
			slog.Info("subset reproduced violation, subselecting", "label", label)
			prefix := append(append([]string{}, labelPrefix...), label)
			f.maybeDumpIntermediateMCS(newDag, joinLabels(prefix))
			totalInputsPruned += len(inputs) - len(newDag.InputEvents())
			return f.ddminStep(newDag, 2, c, prefix, totalInputsPruned)
		}
	}

	slog.Debug("no subsets with violations, checking complements")
	for i, subset := range subsets {
		label := fmt.Sprintf("~%d/%d", i, splitWays)
		labels := inputLabels(subset)
		newDag := dag.InputComplement(labels)
		seq := newDag.InputLabels()
		if c.AlreadyDone(seq) {
			continue
		}
		c.Update(seq)
		if len(seq) == 0 {
			continue
		}

		f.trackIterationSizeFor(dag, totalInputsPruned)
		violated, err := f.checkViolation(newDag, i)
		if err != nil {
			return nil, 0, err
		}
		if violated {
			slog.Info("complement reproduced violation, subselecting", "label", label)
			prefix := append(append([]string{}, labelPrefix...), label)
			f.maybeDumpIntermediateMCS(newDag, joinLabels(prefix))
			totalInputsPruned += len(inputs) - len(newDag.InputEvents())
			return f.ddminStep(newDag, max(splitWays-1, 2), c, prefix, totalInputsPruned)
		}
	}

	slog.Debug("no complements with violations")
	if splitWays < len(inputs) {
		slog.Debug("increasing granularity")
		return f.ddminStep(dag, min(len(inputs), splitWays*2), c, labelPrefix, totalInputsPruned)
	}
	return dag, totalInputsPruned, nil
}

func (f *Finder) trackIterationSizeFor(dag *eventdag.EventDag, totalInputsPruned int) {
	f.stats.RecordIterationSize(int(replay.TotalReplays()), len(f.dag.InputEvents())-totalInputsPruned)
}

func inputLabels[T interface{ Label() string }](items []T) []string {
	labels := make([]string, len(items))
	for i, it := range items {
		labels[i] = it.Label()
	}
	return labels
}

func joinLabels(labels []string) string {
	out := ""
	for i, l := range labels {
		if i > 0 {
			out += "."
		}
		out += l
	}
	return out
}

