package lbltools

// The intermediate per-frame annotation representation used for exports.

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Keys for known annotation attributes.
const (
	TrackID  = "TrackID"  // The ID of the result the box belongs to. Type string.
	Rotation = "Rotation" // Rotation in degrees of the original box. Type float64.
	Auto     = "Auto"     // Whether the box was generated rather than authored. Type bool.
)

// DefaultLabel is used for tracks without labels.
const DefaultLabel = "Object"

// Annotation is the intermediate representation of an object label.
type Annotation struct {
	Attributes map[string]interface{} // Additional attributes of this annotation.
	Coords     [4]float64             // Absolute x1, y1, x2, y2 offsets from the top-left corner.
	Label      string
}

// Width is the object width from a.Coords.
func (a Annotation) Width() float64 {
	return a.Coords[2] - a.Coords[0]
}

// Height is the object height from a.Coords.
func (a Annotation) Height() float64 {
	return a.Coords[3] - a.Coords[1]
}

// AnnotatedFile is the intermediate representation of the metadata of a single video frame.
type AnnotatedFile struct {
	Annotations []Annotation // The annotations.
	FilePath    string       // The frame image file.
	Frame       int          // The 1-based frame index.
}

// AnnotatedFiles is the annotation metadata for a list of frames.
type AnnotatedFiles []AnnotatedFile

// FrameLayout describes the frames of the annotated video.
type FrameLayout struct {
	Width   int    // Frame width in pixels.
	Height  int    // Frame height in pixels.
	Pattern string // fmt pattern for frame image file names, given the 1-based frame index.
}

// DefaultFramePattern is the frame image naming used when FrameLayout.Pattern is empty.
const DefaultFramePattern = "frame_%06d.jpg"

// FromVideoResults converts the video rectangle tracks in results to the intermediate
// representation, with one AnnotatedFile per frame that has at least one visible box. Key frames
// are interpolated first. Frames are ordered by frame index.
//
// Box coordinates are converted from percentages to pixels. Rotated boxes are replaced by their
// axis-aligned bounding box; the rotation is kept as an attribute.
func FromVideoResults(results []Result, layout FrameLayout) AnnotatedFiles {
	pattern := layout.Pattern
	if pattern == "" {
		pattern = DefaultFramePattern
	}

	frames := make(map[int]*AnnotatedFile)
	numBoxes := 0
	for _, r := range Interpolate(results) {
		if !r.isVideoRectangle() {
			continue
		}

		label := DefaultLabel
		if len(r.Value.Labels) > 0 {
			label = r.Value.Labels[0]
		}

		for _, kf := range r.Value.Sequence {
			if !kf.Enabled {
				continue
			}

			f, ok := frames[kf.Frame]
			if !ok {
				f = &AnnotatedFile{FilePath: fmt.Sprintf(pattern, kf.Frame), Frame: kf.Frame}
				frames[kf.Frame] = f
			}
			f.Annotations = append(f.Annotations, Annotation{
				Attributes: map[string]interface{}{
					TrackID:  r.ID,
					Rotation: kf.Rotation,
					Auto:     kf.Auto,
				},
				Coords: boundingBox(kf, float64(layout.Width), float64(layout.Height)),
				Label:  label,
			})
			numBoxes++
		}
	}

	data := make(AnnotatedFiles, 0, len(frames))
	for _, f := range frames {
		data = append(data, *f)
	}
	sort.Slice(data, func(i, j int) bool { return data[i].Frame < data[j].Frame })

	logger.Info("Converted video tracks",
		zap.Int("frames", len(data)), zap.Int("boxes", numBoxes))
	return data
}

// boundingBox returns the absolute axis-aligned bounding box of the key frame's box, which is
// rotated clockwise around its top-left corner.
func boundingBox(kf KeyFrame, frameWidth, frameHeight float64) [4]float64 {
	x := kf.X / 100 * frameWidth
	y := kf.Y / 100 * frameHeight
	w := kf.Width / 100 * frameWidth
	h := kf.Height / 100 * frameHeight

	if kf.Rotation == 0 {
		return [4]float64{x, y, x + w, y + h}
	}

	sin, cos := math.Sincos(kf.Rotation * math.Pi / 180)
	coords := [4]float64{x, y, x, y}
	for _, c := range [][2]float64{{w, 0}, {w, h}, {0, h}} {
		cx := x + c[0]*cos - c[1]*sin
		cy := y + c[0]*sin + c[1]*cos
		coords[0] = math.Min(coords[0], cx)
		coords[1] = math.Min(coords[1], cy)
		coords[2] = math.Max(coords[2], cx)
		coords[3] = math.Max(coords[3], cy)
	}
	return coords
}

// MapLabels replaces label (sub-)strings with substitution values, as specified in mappings.
//
// The format of mappings is old=new.
func (data AnnotatedFiles) MapLabels(mappings []string) error {
	if len(mappings) == 0 {
		return nil
	}

	// Extract the individual old and new strings to map between.
	replacements := make([]struct{ old, new string }, len(mappings))
	for i, v := range mappings {
		a := strings.Split(v, "=")
		if len(a) != 2 {
			return fmt.Errorf("invalid mapping: %v", v)
		}

		replacements[i].old = a[0]
		replacements[i].new = a[1]
	}

	// Apply the replacements, in order, to all labels.
	count := 0
	for _, f := range data {
		for i := range f.Annotations {
			a := &f.Annotations[i]

			oldLabel := a.Label
			for _, r := range replacements {
				a.Label = strings.ReplaceAll(a.Label, r.old, r.new)
			}

			if a.Label != oldLabel {
				count++
			}
		}
	}

	logger.Info("Mapped labels", zap.Int("changed", count))
	return nil
}

// Filter removes annotations which do not match any of the given labelNames (an empty list keeps
// all labels) or have a bounding box smaller than minBboxWidth or minBboxHeight. Frames without
// annotations are removed as well. The order of frames and annotations is kept.
func (data *AnnotatedFiles) Filter(labelNames []string, minBboxWidth, minBboxHeight float64) {
	keepLabel := make(map[string]bool, len(labelNames))
	for _, l := range labelNames {
		keepLabel[l] = true
	}

	numBefore, numAfter := 0, 0
	frames := (*data)[:0]
	for _, f := range *data {
		numBefore += len(f.Annotations)

		annotations := f.Annotations[:0]
		for _, a := range f.Annotations {
			if len(keepLabel) > 0 && !keepLabel[a.Label] {
				continue
			}
			if a.Width() < minBboxWidth || a.Height() < minBboxHeight {
				continue
			}
			annotations = append(annotations, a)
		}
		f.Annotations = annotations

		numAfter += len(annotations)
		if len(annotations) > 0 {
			frames = append(frames, f)
		}
	}

	logger.Info("Filtered annotations",
		zap.Int("labels", numBefore-numAfter), zap.Int("frames", len(*data)-len(frames)))
	*data = frames
}
