// Package learning turns recorded outcomes into summaries, calibrations,
// and snapshots. Every artifact has a deterministic id derived from its
// scope and window, so re-running a job replays the stored artifact
// instead of producing a second one.
package learning

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
	"github.com/opx/automation/internal/identity"
	"github.com/opx/automation/internal/stores"
)

const (
	// maxOutcomesPerRun bounds how many outcomes one job loads.
	maxOutcomesPerRun = 10000
	// fpWarningRate flags services whose false-positive share exceeds it.
	fpWarningRate = 0.30
	// topPatternCount caps the root-cause and resolution lists.
	topPatternCount = 10
)

// Extractor produces resolution summaries for a (service-or-ALL, window)
// scope.
type Extractor struct {
	outcomes  *stores.OutcomeStore
	summaries *stores.SummaryStore
	now       func() time.Time
	logger    *zap.Logger
}

func NewExtractor(outcomes *stores.OutcomeStore, summaries *stores.SummaryStore, now func() time.Time, logger *zap.Logger) *Extractor {
	if now == nil {
		now = time.Now
	}
	return &Extractor{outcomes: outcomes, summaries: summaries, now: now, logger: logger.Named("extractor")}
}

// Extract builds and persists the summary for one service over a window.
func (e *Extractor) Extract(ctx context.Context, service string, start, end core.Time) (*core.ResolutionSummary, error) {
	loaded, err := e.outcomes.ListByServiceWindow(ctx, service, start, end, maxOutcomesPerRun)
	if err != nil {
		return nil, fmt.Errorf("load outcomes for %s: %w", service, err)
	}
	return e.persist(ctx, service, start, end, loaded)
}

// ExtractAllResult reports a fan-out run over every service seen in the
// window. Per-service failures are isolated; the run carries them rather
// than aborting.
type ExtractAllResult struct {
	Summaries        []core.ResolutionSummary
	FailedServices   []string
	RecordsProcessed int
}

// ExtractAll runs the whole-window summary plus one summary per service
// found in the window.
func (e *Extractor) ExtractAll(ctx context.Context, start, end core.Time) (*ExtractAllResult, error) {
	loaded, err := e.outcomes.ListByWindow(ctx, start, end, maxOutcomesPerRun)
	if err != nil {
		return nil, fmt.Errorf("load outcomes: %w", err)
	}

	result := &ExtractAllResult{RecordsProcessed: len(loaded)}
	all, err := e.persist(ctx, identity.ScopeAll, start, end, loaded)
	if err != nil {
		return nil, err
	}
	result.Summaries = append(result.Summaries, *all)

	byService := make(map[string][]core.IncidentOutcome)
	for _, out := range loaded {
		byService[out.Service] = append(byService[out.Service], out)
	}
	services := make([]string, 0, len(byService))
	for svc := range byService {
		services = append(services, svc)
	}
	sort.Strings(services)

	for _, svc := range services {
		sum, err := e.persist(ctx, svc, start, end, byService[svc])
		if err != nil {
			e.logger.Warn("per-service extraction failed",
				zap.String("service", svc), zap.Error(err))
			result.FailedServices = append(result.FailedServices, svc)
			continue
		}
		result.Summaries = append(result.Summaries, *sum)
	}
	if len(result.FailedServices) == len(services) && len(services) > 0 {
		return result, fmt.Errorf("pattern extraction failed for all %d services", len(services))
	}
	return result, nil
}

func (e *Extractor) persist(ctx context.Context, scope string, start, end core.Time, outcomes []core.IncidentOutcome) (*core.ResolutionSummary, error) {
	service := scope
	if scope == identity.ScopeAll {
		service = ""
	}
	summary := &core.ResolutionSummary{
		SummaryID:   identity.SummaryID(scope, start, end, core.RecordVersion),
		Service:     service,
		WindowStart: start,
		WindowEnd:   end,
		Metrics:     summarize(outcomes),
		Patterns: core.SummaryPatterns{
			CommonRootCauses:  topCounts(outcomes, func(o core.IncidentOutcome) string { return o.Classification.RootCause }),
			CommonResolutions: topCounts(outcomes, func(o core.IncidentOutcome) string { return string(o.Classification.ResolutionType) }),
			DetectionWarnings: detectionWarnings(outcomes),
		},
		GeneratedAt: core.NewTime(e.now()),
		Version:     core.RecordVersion,
	}
	_, stored, err := e.summaries.Put(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("persist summary %s: %w", summary.SummaryID, err)
	}
	return stored, nil
}

func summarize(outcomes []core.IncidentOutcome) core.SummaryMetrics {
	m := core.SummaryMetrics{TotalIncidents: len(outcomes)}
	if len(outcomes) == 0 {
		return m
	}
	var ttd, ttr, confidence float64
	for _, out := range outcomes {
		if out.Classification.TruePositive {
			m.TruePositives++
		}
		if out.Classification.FalsePositive {
			m.FalsePositives++
		}
		ttd += float64(out.Timing.TTDMs)
		ttr += float64(out.Timing.TTRMs)
		confidence += out.Prediction.ConfidenceScore
	}
	n := float64(len(outcomes))
	m.AverageTTDMs = round4(ttd / n)
	m.AverageTTRMs = round4(ttr / n)
	m.AverageConfidence = round4(confidence / n)
	return m
}

// topCounts tallies a field and returns the top entries by count, ties
// broken by lexicographic value so output is stable across runs.
func topCounts(outcomes []core.IncidentOutcome, field func(core.IncidentOutcome) string) []core.PatternCount {
	counts := make(map[string]int)
	for _, out := range outcomes {
		if v := field(out); v != "" {
			counts[v]++
		}
	}
	ranked := make([]core.PatternCount, 0, len(counts))
	for v, c := range counts {
		ranked = append(ranked, core.PatternCount{Value: v, Count: c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Value < ranked[j].Value
	})
	if len(ranked) > topPatternCount {
		ranked = ranked[:topPatternCount]
	}
	return ranked
}

// detectionWarnings names services whose false-positive rate exceeds the
// warning threshold. The rate itself is never stored.
func detectionWarnings(outcomes []core.IncidentOutcome) []string {
	total := make(map[string]int)
	falsePos := make(map[string]int)
	for _, out := range outcomes {
		total[out.Service]++
		if out.Classification.FalsePositive {
			falsePos[out.Service]++
		}
	}
	var flagged []string
	for svc, n := range total {
		if n > 0 && float64(falsePos[svc])/float64(n) > fpWarningRate {
			flagged = append(flagged, svc)
		}
	}
	sort.Strings(flagged)
	return flagged
}

// round4 rounds half away from zero to 4 decimals, matching the confidence
// model's convention.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
