// Package motion implements the background-model motion detector (C3):
// grayscale + blur, a running weighted background model, threshold +
// morphology, and contour bounding-box union, gated by positive/negative
// masks. Grounded on detection/motion_detector.py
// (SimpleMotionDetector.detect) from the reference implementation,
// reimplemented with gocv.Mat operations.
package motion

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/nightwatch/sentrycam/internal/config"
	"github.com/nightwatch/sentrycam/pkg/types"
)

// Result is the outcome of one Detect call.
type Result struct {
	Annotated     gocv.Mat   // the input frame, annotated in place with the motion box
	Crop          *types.Rect // bounding box of the motion, nil if none passed filters
	MotionOutside *bool      // nil if no mask configured; true if any motion fell outside it
}

// Detector holds the running background model across frames.
type Detector struct {
	cfg config.MotionConfig

	bg          gocv.Mat
	haveBG      bool
	totalFrames int
}

// New constructs a motion detector for the given configuration.
func New(cfg config.MotionConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Close releases the background model Mat.
func (d *Detector) Close() error {
	if d.haveBG {
		return d.bg.Close()
	}
	return nil
}

// ResetBackground drops the background model so it is rebuilt from the
// next frame, mirroring config.md_reset_bg_model.
func (d *Detector) ResetBackground() {
	if d.haveBG {
		d.bg.Close()
	}
	d.haveBG = false
	d.totalFrames = 0
}

func (d *Detector) updateBG(gray gocv.Mat) {
	if d.cfg.ResetBGModel {
		d.ResetBackground()
	}

	if !d.haveBG {
		d.bg = gray.Clone()
		d.bg.ConvertTo(&d.bg, gocv.MatTypeCV32F)
		d.haveBG = true
		return
	}

	if d.cfg.UpdateBGModel || d.totalFrames <= d.cfg.WarmupFrameCount {
		gocv.AccumulatedWeighted(gray, d.bg, d.cfg.BGAccumWeight)
	}
}

// Detect runs one motion-detection pass over frame, annotating it in place
// and returning the bounding box of any motion that survives the area and
// box-size filters.
func (d *Detector) Detect(frame gocv.Mat) Result {
	d.totalFrames++

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(7, 7), 0, 0, gocv.BorderDefault)

	warmedUp := d.cfg.WarmupFrameCount <= 0 || d.totalFrames > d.cfg.WarmupFrameCount

	if d.haveBG && warmedUp {
		if crop, motionOutside, ok := d.detectAgainstBG(frame, blurred); ok {
			d.updateBG(blurred)
			return Result{Annotated: frame, Crop: &crop, MotionOutside: motionOutside}
		}
	}

	d.updateBG(blurred)
	return Result{Annotated: frame}
}

func (d *Detector) detectAgainstBG(frame, gray gocv.Mat) (crop types.Rect, motionOutside *bool, ok bool) {
	bg8u := gocv.NewMat()
	defer bg8u.Close()
	d.bg.ConvertTo(&bg8u, gocv.MatTypeCV8U)

	delta := gocv.NewMat()
	defer delta.Close()
	gocv.AbsDiff(bg8u, gray, &delta)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(delta, &thresh, float32(d.cfg.Threshold), 255, gocv.ThresholdBinary)

	if d.cfg.EnableErode {
		kernel := gocv.NewMat()
		gocv.ErodeWithParams(thresh, &thresh, kernel, image.Pt(-1, -1), d.cfg.ErodeIterations, gocv.BorderConstant)
		kernel.Close()
	}
	if d.cfg.EnableDilate {
		kernel := gocv.NewMat()
		gocv.DilateWithParams(thresh, &thresh, kernel, image.Pt(-1, -1), d.cfg.DilateIterations, gocv.BorderConstant, gocv.Scalar{})
		kernel.Close()
	}

	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	minX, minY := math.MaxInt32, math.MaxInt32
	maxX, maxY := math.MinInt32, math.MinInt32
	found := false

	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		if gocv.ContourArea(c) < d.cfg.MinContArea {
			continue
		}
		found = true
		rect := gocv.BoundingRect(c)
		if rect.Min.X < minX {
			minX = rect.Min.X
		}
		if rect.Min.Y < minY {
			minY = rect.Min.Y
		}
		if rect.Max.X > maxX {
			maxX = rect.Max.X
		}
		if rect.Max.Y > maxY {
			maxY = rect.Max.Y
		}
		if d.cfg.ShowAllContours {
			gocv.Rectangle(&frame, rect, colorYellow, 2)
		}
	}

	if !found {
		return types.Rect{}, nil, false
	}

	box := types.Rect{XMin: minX, YMin: minY, XMax: maxX, YMax: maxY}

	if d.cfg.Mask != nil {
		applied, contained, intersects := applyMask(box, *d.cfg.Mask)
		if !intersects {
			return types.Rect{}, nil, false
		}
		box = applied
		outside := !contained
		motionOutside = &outside
	}

	if box.Width() < d.cfg.BoxThresholdX || box.Height() < d.cfg.BoxThresholdY {
		return types.Rect{}, nil, false
	}

	if d.cfg.NMask != nil {
		nm := toRect(*d.cfg.NMask)
		if box.XMin > nm.XMin && box.YMin > nm.YMin && box.XMax < nm.XMax && box.YMax < nm.YMax {
			return types.Rect{}, nil, false
		}
	}

	gocv.Rectangle(&frame, image.Rect(box.XMin, box.YMin, box.XMax, box.YMax), colorRed, 2)
	return box, motionOutside, true
}

var (
	colorYellow = color.RGBA{R: 255, G: 255, B: 0, A: 0}
	colorRed    = color.RGBA{R: 255, G: 0, B: 0, A: 0}
)

func toRect(b config.Box) types.Rect {
	return types.Rect{XMin: b.X0, YMin: b.Y0, XMax: b.X1, YMax: b.Y1}
}

// applyMask intersects box with mask, reporting whether box lies entirely
// within mask (contained) and whether it overlaps mask at all.
func applyMask(box types.Rect, mask config.Box) (applied types.Rect, contained bool, intersects bool) {
	m := toRect(mask)
	if box.XMin > m.XMax || box.YMin > m.YMax || m.XMin > box.XMax || m.YMin > box.YMax {
		return types.Rect{}, false, false
	}

	minX := maxInt(m.XMin, box.XMin)
	maxX := minInt(m.XMax, box.XMax)
	minY := maxInt(m.YMin, box.YMin)
	maxY := minInt(m.YMax, box.YMax)

	applied = types.Rect{XMin: minX, YMin: minY, XMax: maxX, YMax: maxY}
	contained = minX > m.XMin && minY > m.YMin && maxX < m.XMax && maxY < m.YMax
	return applied, contained, true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
