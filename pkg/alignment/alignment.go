// Package alignment scores how well a render matches its script timing.
package alignment

import (
	"fmt"
	"math"

	"dubstudio/pkg/config"
	"dubstudio/pkg/mixer"
	"dubstudio/pkg/model"
)

// Thresholds are the pass/fail quality bars, in percent.
type Thresholds struct {
	MinCoveragePct  float64
	MaxAvgErrorPct  float64
	MaxPeakErrorPct float64
}

// DefaultThresholds are the product defaults.
var DefaultThresholds = Thresholds{MinCoveragePct: 95, MaxAvgErrorPct: 28, MaxPeakErrorPct: 55}

// FromConfig converts the config section, falling back to defaults for unset values.
func FromConfig(c config.AlignmentConfig) Thresholds {
	t := Thresholds(c)
	if t.MinCoveragePct <= 0 {
		t.MinCoveragePct = DefaultThresholds.MinCoveragePct
	}
	if t.MaxAvgErrorPct <= 0 {
		t.MaxAvgErrorPct = DefaultThresholds.MaxAvgErrorPct
	}
	if t.MaxPeakErrorPct <= 0 {
		t.MaxPeakErrorPct = DefaultThresholds.MaxPeakErrorPct
	}
	return t
}

// Reporter scores renders against thresholds.
type Reporter struct {
	th Thresholds
}

// NewReporter creates a reporter.
func NewReporter(th Thresholds) *Reporter {
	return &Reporter{th: th}
}

// Coverage is produced/total as a percentage in [0, 100].
func Coverage(total, produced int) float64 {
	pct := float64(produced) / float64(max(1, total)) * 100
	return math.Max(0, math.Min(100, pct))
}

// RatioError is |generated-target|/target, and false when the target is not
// a positive finite duration.
func RatioError(e model.AlignmentEntry) (float64, bool) {
	if e.TargetDuration <= 0 || math.IsInf(e.TargetDuration, 0) || math.IsNaN(e.TargetDuration) {
		return 0, false
	}
	return math.Abs(e.GeneratedDuration-e.TargetDuration) / e.TargetDuration, true
}

// Score builds the report for a render.
func (r *Reporter) Score(total, produced int, entries []model.AlignmentEntry) *model.AlignmentReport {
	var sum, peak float64
	n := 0
	for _, e := range entries {
		v, ok := RatioError(e)
		if !ok {
			continue
		}
		sum += v
		peak = math.Max(peak, v)
		n++
	}
	avg := 0.0
	if n > 0 {
		avg = sum / float64(n)
	}
	return r.Evaluate(Coverage(total, produced), avg*100, peak*100, n)
}

// Evaluate applies the score formula and the thresholds to already aggregated
// percentages.
func (r *Reporter) Evaluate(coveragePct, avgErrPct, maxErrPct float64, entries int) *model.AlignmentReport {
	avg, peak := avgErrPct/100, maxErrPct/100
	score := math.Round(100 - avg*120 - peak*40 - (100-coveragePct)*0.35)

	rep := &model.AlignmentReport{
		CoveragePct:      coveragePct,
		AvgRatioErrorPct: avgErrPct,
		MaxRatioErrorPct: maxErrPct,
		LipSyncScore:     int(math.Max(0, math.Min(100, score))),
		Entries:          entries,
		Notes:            []string{},
	}

	coverageOK := coveragePct >= r.th.MinCoveragePct
	avgOK := avgErrPct <= r.th.MaxAvgErrorPct
	peakOK := maxErrPct <= r.th.MaxPeakErrorPct
	if !coverageOK {
		rep.Notes = append(rep.Notes, fmt.Sprintf("Coverage %.1f%% is below %.0f%%: some segments were not synthesized.", coveragePct, r.th.MinCoveragePct))
	}
	if !avgOK {
		rep.Notes = append(rep.Notes, fmt.Sprintf("Average timing error %.1f%% exceeds %.0f%%.", avgErrPct, r.th.MaxAvgErrorPct))
	}
	if !peakOK {
		rep.Notes = append(rep.Notes, fmt.Sprintf("Worst timing error %.1f%% exceeds %.0f%%.", maxErrPct, r.th.MaxPeakErrorPct))
	}
	rep.OK = coverageOK && avgOK && peakOK
	if rep.OK {
		rep.Notes = append(rep.Notes, "Timing and coverage are within limits.")
	}
	return rep
}

// Entries turns mixer placements into alignment entries. Only spoken
// segments with an explicit end take part.
func Entries(placed []mixer.Placed) []model.AlignmentEntry {
	var out []model.AlignmentEntry
	for _, p := range placed {
		if p.Kind == model.KindSfx || p.Target <= 0 {
			continue
		}
		out = append(out, model.AlignmentEntry{
			Index:             p.Index,
			Speaker:           p.Speaker,
			TargetDuration:    p.Target,
			GeneratedDuration: p.Generated,
		})
	}
	return out
}
