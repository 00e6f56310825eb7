package learning

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/opx/automation/internal/core"
	opxerr "github.com/opx/automation/internal/errors"
	"github.com/opx/automation/internal/identity"
	"github.com/opx/automation/internal/stores"
)

const (
	// MinSamplesPerBand gates a band into the drift aggregates.
	MinSamplesPerBand = 20
	// MinimumOutcomesForCalibration gates the whole run.
	MinimumOutcomesForCalibration = 30
	// DriftThreshold marks a band drifted enough to alert on.
	DriftThreshold = 0.15
	// wellCalibratedDrift bounds the "no concern" zone.
	wellCalibratedDrift = 0.05
)

// ErrInsufficientOutcomes reports a window with too few outcomes to
// calibrate against.
var ErrInsufficientOutcomes = opxerr.Newf(opxerr.CodeValidation,
	"calibration requires at least %d outcomes in the window", MinimumOutcomesForCalibration)

var bandOrder = []core.ConfidenceBand{core.BandLow, core.BandMedium, core.BandHigh, core.BandCritical}

// Calibrator measures predicted confidence bands against recorded
// outcomes. Its output is strictly advisory: drift never changes model
// behavior, and every recommendation is non-actionable by contract.
type Calibrator struct {
	outcomes     *stores.OutcomeStore
	calibrations *stores.CalibrationStore
	now          func() time.Time
	logger       *zap.Logger
}

func NewCalibrator(outcomes *stores.OutcomeStore, calibrations *stores.CalibrationStore, now func() time.Time, logger *zap.Logger) *Calibrator {
	if now == nil {
		now = time.Now
	}
	return &Calibrator{outcomes: outcomes, calibrations: calibrations, now: now, logger: logger.Named("calibrator")}
}

// Calibrate loads the window's outcomes, grades each band, and persists
// the calibration. Below the outcome minimum it returns
// ErrInsufficientOutcomes without writing anything.
func (c *Calibrator) Calibrate(ctx context.Context, start, end core.Time) (*core.ConfidenceCalibration, error) {
	loaded, err := c.outcomes.ListByWindow(ctx, start, end, maxOutcomesPerRun)
	if err != nil {
		return nil, fmt.Errorf("load outcomes: %w", err)
	}
	if len(loaded) < MinimumOutcomesForCalibration {
		return nil, ErrInsufficientOutcomes.WithDetail("outcomeCount", len(loaded))
	}

	byBand := make(map[core.ConfidenceBand][]core.IncidentOutcome)
	for _, out := range loaded {
		byBand[out.Prediction.ConfidenceBand] = append(byBand[out.Prediction.ConfidenceBand], out)
	}

	cal := &core.ConfidenceCalibration{
		CalibrationID: identity.CalibrationID(start, end, core.RecordVersion),
		WindowStart:   start,
		WindowEnd:     end,
		OutcomeCount:  len(loaded),
		GeneratedAt:   core.NewTime(c.now()),
		Version:       core.RecordVersion,
	}
	for _, band := range bandOrder {
		bc := calibrateBand(band, byBand[band])
		cal.BandCalibrations = append(cal.BandCalibrations, bc)
		cal.Recommendations = append(cal.Recommendations, recommend(bc))
	}
	cal.DriftAnalysis = analyzeDrift(cal.BandCalibrations)

	_, stored, err := c.calibrations.Put(ctx, cal)
	if err != nil {
		return nil, fmt.Errorf("persist calibration %s: %w", cal.CalibrationID, err)
	}
	return stored, nil
}

func calibrateBand(band core.ConfidenceBand, outcomes []core.IncidentOutcome) core.BandCalibration {
	bc := core.BandCalibration{
		Band:             band,
		TotalIncidents:   len(outcomes),
		ExpectedAccuracy: band.Midpoint(),
	}
	for _, out := range outcomes {
		if out.Classification.TruePositive {
			bc.TruePositives++
		}
		if out.Classification.FalsePositive {
			bc.FalsePositives++
		}
	}
	if graded := bc.TruePositives + bc.FalsePositives; graded > 0 {
		bc.Accuracy = round4(float64(bc.TruePositives) / float64(graded))
	}
	bc.Drift = round4(bc.Accuracy - bc.ExpectedAccuracy)
	bc.SampleSizeSufficient = bc.TotalIncidents >= MinSamplesPerBand
	return bc
}

// analyzeDrift aggregates over bands with sufficient samples only.
func analyzeDrift(bands []core.BandCalibration) core.DriftAnalysis {
	var da core.DriftAnalysis
	var sum float64
	var counted int
	for _, bc := range bands {
		if !bc.SampleSizeSufficient {
			da.InsufficientData = append(da.InsufficientData, bc.Band)
			continue
		}
		counted++
		sum += bc.Drift
		if math.Abs(bc.Drift) > math.Abs(da.MaxDrift) {
			da.MaxDrift = bc.Drift
		}
		switch {
		case math.Abs(bc.Drift) < wellCalibratedDrift:
			da.WellCalibrated = append(da.WellCalibrated, bc.Band)
		case bc.Drift < 0:
			// Observed accuracy below the band's promise.
			da.Overconfident = append(da.Overconfident, bc.Band)
		default:
			da.Underconfident = append(da.Underconfident, bc.Band)
		}
	}
	if counted > 0 {
		da.AverageDrift = round4(sum / float64(counted))
	}
	return da
}

// recommend writes the band's advisory. Recommendations never tune the
// model: they are informational only, actionable=false, always.
func recommend(bc core.BandCalibration) core.CalibrationRecommendation {
	rec := core.CalibrationRecommendation{Band: bc.Band, Actionable: false}
	abs := math.Abs(bc.Drift)
	switch {
	case !bc.SampleSizeSufficient:
		rec.Severity = core.RecommendationInfo
		rec.Text = fmt.Sprintf(
			"Band %s has %d outcomes, below the %d-sample minimum; drift is informational only and requires human review before any conclusion. No automatic tuning is performed.",
			bc.Band, bc.TotalIncidents, MinSamplesPerBand)
	case abs >= DriftThreshold:
		rec.Severity = core.RecommendationCritical
		rec.Text = fmt.Sprintf(
			"Band %s drifted %+.4f from its expected accuracy %.2f; this finding is informational only and warrants human review. No automatic tuning is performed.",
			bc.Band, bc.Drift, bc.ExpectedAccuracy)
	case abs >= wellCalibratedDrift:
		rec.Severity = core.RecommendationWarning
		rec.Text = fmt.Sprintf(
			"Band %s drifted %+.4f from its expected accuracy %.2f; informational only, flagged for human review. No automatic tuning is performed.",
			bc.Band, bc.Drift, bc.ExpectedAccuracy)
	default:
		rec.Severity = core.RecommendationInfo
		rec.Text = fmt.Sprintf(
			"Band %s is within tolerance of its expected accuracy %.2f; informational only, no human review action needed. No automatic tuning is performed.",
			bc.Band, bc.ExpectedAccuracy)
	}
	return rec
}
