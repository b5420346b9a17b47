package model

// AlignmentEntry is the timing outcome of one placed segment.
type AlignmentEntry struct {
	Index             int     `json:"index"`
	Speaker           string  `json:"speaker"`
	TargetDuration    float64 `json:"targetDuration"`
	GeneratedDuration float64 `json:"generatedDuration"`
}

// AlignmentReport is the aggregate quality score of a render.
type AlignmentReport struct {
	CoveragePct      float64  `json:"coveragePct"`
	AvgRatioErrorPct float64  `json:"avgRatioErrorPct"`
	MaxRatioErrorPct float64  `json:"maxRatioErrorPct"`
	LipSyncScore     int      `json:"lipSyncScore"`
	Notes            []string `json:"notes"`
	OK               bool     `json:"ok"`
	Entries          int      `json:"entries"`
}

// Diagnostics collects out-of-band facts about a render. They are logged and
// reported, never folded into user-facing error text.
type Diagnostics struct {
	TraceID                string   `json:"traceId"`
	Engine                 string   `json:"engine"`
	Mode                   string   `json:"mode"`
	RetryChunks            int      `json:"retryChunks"`
	QualityGuardRecoveries int      `json:"qualityGuardRecoveries"`
	SplitChunks            int      `json:"splitChunks"`
	RecoveryUsed           bool     `json:"recoveryUsed"`
	SilencedSegments       []int    `json:"silencedSegments,omitempty"`
	SkippedSegments        []int    `json:"skippedSegments,omitempty"`
	ProducedSegments       int      `json:"producedSegments"`
	TotalSegments          int      `json:"totalSegments"`
	SeparationApproximate  bool     `json:"separationApproximate"`
	EmptyMix               bool     `json:"emptyMix"`
	Notes                  []string `json:"notes,omitempty"`
}

// Merge folds the counters of another diagnostics record into d.
func (d *Diagnostics) Merge(o *Diagnostics) {
	if o == nil {
		return
	}
	d.RetryChunks += o.RetryChunks
	d.QualityGuardRecoveries += o.QualityGuardRecoveries
	d.SplitChunks += o.SplitChunks
	d.RecoveryUsed = d.RecoveryUsed || o.RecoveryUsed
	d.Notes = append(d.Notes, o.Notes...)
}

// Note appends a free-form diagnostic line.
func (d *Diagnostics) Note(s string) {
	d.Notes = append(d.Notes, s)
}
