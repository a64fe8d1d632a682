// Package doorstate implements the door-state detector (C4): three
// interchangeable variants that classify a fixed contour of the frame as
// DOOR_OPEN or DOOR_CLOSED by its color. Single-shot color is grounded on
// detection/door_state_detectors.py's SingleShotDoorStateDetector, the only
// variant the reference implementation actually built out
// (AdaptiveDoorStateDetector there is a bare `pass` stub, and frame-diff
// doesn't exist in original_source/ at all); frame-diff and adaptive are
// implemented fresh from their behavioral description. The reference's
// color distance is ΔE-CMC via the colormath library; there is no
// equivalent in the Go ecosystem reachable from this corpus, so
// go-colorful's CIE94 distance stands in as the nearest available
// perceptually-weighted LAB metric (see DESIGN.md Open Questions).
package doorstate

import (
	"image"

	"github.com/lucasb-eyer/go-colorful"
	"gocv.io/x/gocv"

	"github.com/nightwatch/sentrycam/internal/config"
	"github.com/nightwatch/sentrycam/pkg/types"
)

// Detector classifies a frame's door contour as open or closed.
type Detector interface {
	Detect(frame gocv.Mat) types.DoorState
}

// referenceColors bundles the two LAB target colors every variant
// classifies against.
type referenceColors struct {
	closed colorful.Color
	open   colorful.Color
}

func newReferenceColors(cfg config.DoorStateConfig) referenceColors {
	return referenceColors{
		closed: rgbToColorful(cfg.ClosedColor),
		open:   rgbToColorful(cfg.OpenColor),
	}
}

func rgbToColorful(rgb [3]float64) colorful.Color {
	return colorful.Color{R: rgb[0] / 255, G: rgb[1] / 255, B: rgb[2] / 255}
}

// deltaE returns the CIE94 distance between a and b on the usual 0–100 ΔE
// scale that DistanceThresh is expressed in; go-colorful reports the same
// distance divided by 100.
func deltaE(a, b colorful.Color) float64 {
	return a.DistanceCIE94(b) * 100
}

// classify picks whichever reference color is nearer to sample in CIE94
// distance, mirroring the reference's delta_e_cmc-sort-and-take-first.
func (r referenceColors) classify(sample colorful.Color) types.DoorState {
	dClosed := sample.DistanceCIE94(r.closed)
	dOpen := sample.DistanceCIE94(r.open)
	if dOpen < dClosed {
		return types.DoorOpen
	}
	return types.DoorClosed
}

// averageColor computes the mean RGB color of the door contour within
// frame, matching img.mean(axis=0).mean(axis=0) on the BGR->RGB converted
// crop.
func averageColor(frame gocv.Mat, rect config.Box) colorful.Color {
	crop := frame.Region(image.Rect(rect.X0, rect.Y0, rect.X1, rect.Y1))
	defer crop.Close()

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(crop, &rgb, gocv.ColorBGRToRGB)

	mean := rgb.Mean()
	return colorful.Color{R: mean.Val1 / 255, G: mean.Val2 / 255, B: mean.Val3 / 255}
}

// SingleShotColorDetector classifies every frame independently from its
// current average contour color — the reference implementation's only
// fully built-out variant.
type SingleShotColorDetector struct {
	rect config.Box
	refs referenceColors
}

// NewSingleShotColorDetector builds a single-shot color classifier.
func NewSingleShotColorDetector(cfg config.DoorStateConfig) *SingleShotColorDetector {
	return &SingleShotColorDetector{rect: cfg.DoorRect, refs: newReferenceColors(cfg)}
}

// Detect implements Detector.
func (d *SingleShotColorDetector) Detect(frame gocv.Mat) types.DoorState {
	return d.refs.classify(averageColor(frame, d.rect))
}

// FrameDiffDetector classifies OPEN when the door rect's mean color differs
// from the surrounding frame rect's mean color by more than a LAB-distance
// threshold, rather than comparing either rect to fixed reference colors —
// this is SPEC_FULL §4.4's "single-shot frame-diff" variant: a door sitting
// open usually exposes background (hallway, outdoors) that contrasts with
// the rest of the framed scene, so a door/frame color gap is itself the
// open signal. The reference implementation never built this variant out
// (no frame-diff code exists anywhere in original_source/); it is
// implemented fresh from the specification's definition, reusing this
// package's averageColor/LAB-distance plumbing.
type FrameDiffDetector struct {
	doorRect  config.Box
	frameRect config.Box
	threshold float64
}

// NewFrameDiffDetector builds a frame-diff door state classifier.
func NewFrameDiffDetector(cfg config.DoorStateConfig) *FrameDiffDetector {
	return &FrameDiffDetector{doorRect: cfg.DoorRect, frameRect: cfg.FrameRect, threshold: cfg.DistanceThresh}
}

// Detect implements Detector.
func (d *FrameDiffDetector) Detect(frame gocv.Mat) types.DoorState {
	doorColor := averageColor(frame, d.doorRect)
	frameColor := averageColor(frame, d.frameRect)
	if deltaE(doorColor, frameColor) > d.threshold {
		return types.DoorOpen
	}
	return types.DoorClosed
}

// AdaptiveDetector builds a running estimate of the door's "closed" color
// from its first Warmup frames (assuming the door starts closed, as
// SPEC_FULL §4.4 specifies), then classifies OPEN whenever the current
// sample's LAB distance from that learned reference exceeds the configured
// threshold. The reference only closed color is periodically nudged toward
// samples classified CLOSED, absorbing gradual lighting drift without
// retraining from a fixed pair of colors. The reference implementation's
// AdaptiveDoorStateDetector is an empty `pass` stub; this fills in the
// behavior SPEC_FULL describes, in the exponential-moving-average idiom
// this repo already uses for internal/motion's background model.
type AdaptiveDetector struct {
	rect           config.Box
	threshold      float64
	warmup         int
	refresh        int
	closedRef      colorful.Color
	warmupSum      colorful.Color
	samplesSeen    int
	framesSinceRef int
}

// NewAdaptiveDetector builds an adaptive door state classifier, seeded from
// the configured closed-color as a fallback reference until warmup
// completes.
func NewAdaptiveDetector(cfg config.DoorStateConfig) *AdaptiveDetector {
	return &AdaptiveDetector{
		rect:      cfg.DoorRect,
		threshold: cfg.DistanceThresh,
		warmup:    cfg.AdaptiveWarmup,
		refresh:   cfg.AdaptiveRefresh,
		closedRef: rgbToColorful(cfg.ClosedColor),
	}
}

// Detect implements Detector.
func (d *AdaptiveDetector) Detect(frame gocv.Mat) types.DoorState {
	sample := averageColor(frame, d.rect)
	d.samplesSeen++

	if d.samplesSeen <= d.warmup {
		d.accumulateWarmup(sample)
		return types.DoorClosed
	}

	state := types.DoorClosed
	if deltaE(sample, d.closedRef) > d.threshold {
		state = types.DoorOpen
	}

	if state == types.DoorClosed {
		d.framesSinceRef++
		if d.refresh > 0 && d.framesSinceRef >= d.refresh {
			d.closedRef = blend(d.closedRef, sample, 0.1)
			d.framesSinceRef = 0
		}
	}
	return state
}

// accumulateWarmup folds sample into the running mean that becomes
// closedRef once warmup completes.
func (d *AdaptiveDetector) accumulateWarmup(sample colorful.Color) {
	n := float64(d.samplesSeen)
	d.warmupSum = colorful.Color{
		R: d.warmupSum.R + sample.R,
		G: d.warmupSum.G + sample.G,
		B: d.warmupSum.B + sample.B,
	}
	d.closedRef = colorful.Color{R: d.warmupSum.R / n, G: d.warmupSum.G / n, B: d.warmupSum.B / n}
}

// blend nudges ref a fraction alpha of the way toward sample.
func blend(ref, sample colorful.Color, alpha float64) colorful.Color {
	return colorful.Color{
		R: ref.R + alpha*(sample.R-ref.R),
		G: ref.G + alpha*(sample.G-ref.G),
		B: ref.B + alpha*(sample.B-ref.B),
	}
}

// New builds the configured Detector variant.
func New(cfg config.DoorStateConfig) Detector {
	switch cfg.Variant {
	case config.DoorVariantFrameDiff:
		return NewFrameDiffDetector(cfg)
	case config.DoorVariantAdaptive:
		return NewAdaptiveDetector(cfg)
	default:
		return NewSingleShotColorDetector(cfg)
	}
}
