package objectdetector

import "github.com/nightwatch/sentrycam/pkg/types"

// bufferedDetection is one (timestamp, detection, image path) entry held in
// a DetectionBuffer's sliding window.
type bufferedDetection struct {
	tsMs      int64
	detection types.Detection
	imagePath string
}

// DetectionBuffer votes the most likely label from a sliding window of
// recent weak detections rather than trusting any single frame, grounded on
// lib/detection_buffer.py. A single high-confidence outlier should not
// outvote a consistent weaker stream: the winner is the label with the
// largest cumulative score sum over the window, not the single highest
// score.
type DetectionBuffer struct {
	durationMs int64
	threshold  int
	entries    []bufferedDetection
}

// NewDetectionBuffer builds a buffer windowed to durationMs milliseconds,
// requiring at least threshold entries before it will report a winner.
func NewDetectionBuffer(durationMs int64, threshold int) *DetectionBuffer {
	return &DetectionBuffer{durationMs: durationMs, threshold: threshold}
}

// Add records one detection at tsMs, trimming entries older than the window.
func (b *DetectionBuffer) Add(det types.Detection, imagePath string, tsMs int64) {
	b.entries = append(b.entries, bufferedDetection{tsMs: tsMs, detection: det, imagePath: imagePath})
	b.trim(tsMs)
}

func (b *DetectionBuffer) trim(nowMs int64) {
	kept := b.entries[:0]
	for _, e := range b.entries {
		if nowMs-e.tsMs <= b.durationMs {
			kept = append(kept, e)
		}
	}
	b.entries = kept
}

// BestInWindow returns the label with the largest cumulative score over the
// current window, that cumulative score, and the image path of whichever
// single entry of that label had the highest individual score (the most
// recently added such entry on a tie). ok is false
// if fewer than threshold entries are currently buffered.
func (b *DetectionBuffer) BestInWindow() (label string, cumulativeScore float64, imagePath string, ok bool) {
	if len(b.entries) < b.threshold {
		return "", 0, "", false
	}

	cumByLabel := map[string]float64{}
	maxScoreByLabel := map[string]float64{}
	pathByLabel := map[string]string{}

	for _, e := range b.entries {
		l := e.detection.Label
		cumByLabel[l] += e.detection.Score
		if e.detection.Score >= maxScoreByLabel[l] {
			maxScoreByLabel[l] = e.detection.Score
			pathByLabel[l] = e.imagePath
		}
	}

	var best string
	var bestCum float64
	for l, cum := range cumByLabel {
		if cum > bestCum {
			bestCum = cum
			best = l
		}
	}
	if best == "" {
		return "", 0, "", false
	}
	return best, bestCum, pathByLabel[best], true
}
