package lbltools

// Video object tracking: expansion of key frames into per-frame boxes.

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// VideoRectangle is the result type of video object tracks.
const VideoRectangle = "videorectangle"

// Errors reported by InterpolateStrict.
var (
	ErrInvalidFrame      = errors.New("frame numbers must be positive")
	ErrUnsortedKeyFrames = errors.New("key frames are not in ascending frame order")
)

// isVideoRectangle reports whether r is a video object track.
func (r Result) isVideoRectangle() bool {
	return strings.EqualFold(r.Type, VideoRectangle)
}

// Interpolate expands the key frames of all video rectangle results into a dense sequence with one
// box per frame and returns the results in their original order. Results of other types, and
// video rectangles without key frames, are returned as they are. The input is not modified.
//
// Between two key frames, the box of an enabled key frame is blended linearly into the box of the
// next key frame. After the last key frame, an enabled box is held until the end of the timeline
// (FrameCount, or the frame of the last key frame if the count is unknown). A disabled key frame
// that follows an enabled one is kept as the end of the visible span; no boxes are generated from
// a disabled key frame until the next key frame.
//
// The key frames must be sorted by frame. The result for unsorted input is undefined; use
// InterpolateStrict to reject it.
func Interpolate(results []Result) []Result {
	out := make([]Result, len(results))
	for i, r := range results {
		if !r.isVideoRectangle() || len(r.Value.Sequence) == 0 {
			out[i] = r
			continue
		}
		out[i] = r.withSequence(interpolateTrack(r.Value.Sequence, r.Value.FrameCount))
	}
	return out
}

// InterpolateStrict works like Interpolate, but first checks that the key frames of every video
// rectangle have positive, strictly ascending frame numbers.
func InterpolateStrict(results []Result) ([]Result, error) {
	for _, r := range results {
		if !r.isVideoRectangle() {
			continue
		}
		if err := validateKeyFrames(r.Value.Sequence); err != nil {
			return nil, fmt.Errorf("result %q: %w", r.ID, err)
		}
	}
	return Interpolate(results), nil
}

func validateKeyFrames(keyFrames []KeyFrame) error {
	for i, kf := range keyFrames {
		if kf.Frame < 1 {
			return fmt.Errorf("key frame %d: %w", i, ErrInvalidFrame)
		}
		if i > 0 && kf.Frame <= keyFrames[i-1].Frame {
			return fmt.Errorf("key frame %d (frame %d after %d): %w", i, kf.Frame,
				keyFrames[i-1].Frame, ErrUnsortedKeyFrames)
		}
	}
	return nil
}

// interpolateTrack generates the frames of a single track. keyFrames must not be empty.
func interpolateTrack(keyFrames []KeyFrame, frameCount int) []KeyFrame {
	last := len(keyFrames) - 1
	total := frameCount
	if total == 0 {
		total = keyFrames[last].Frame
	}

	frames := make([]KeyFrame, 0, expectedFrames(keyFrames, total))
	for i, kf := range keyFrames {
		if !kf.Enabled {
			if i > 0 && keyFrames[i-1].Enabled {
				frames = append(frames, kf.authored())
			}
			continue
		}

		frames = append(frames, kf.authored())
		if i < last {
			next := keyFrames[i+1]
			for f := kf.Frame + 1; f < next.Frame; f++ {
				frames = append(frames, blend(kf, next, f))
			}
		} else {
			for f := kf.Frame + 1; f <= total; f++ {
				frames = append(frames, hold(kf, f))
			}
		}
	}

	return frames
}

// expectedFrames returns the number of frames interpolateTrack generates for well-formed input.
func expectedFrames(keyFrames []KeyFrame, total int) int {
	n := 0
	for i, kf := range keyFrames {
		switch {
		case !kf.Enabled:
			if i > 0 && keyFrames[i-1].Enabled {
				n++
			}
		case i < len(keyFrames)-1:
			n += keyFrames[i+1].Frame - kf.Frame
		default:
			n += total - kf.Frame + 1
		}
	}
	if n < 0 {
		return 0
	}
	return n
}

// authored returns a copy of the key frame as it appears in the output.
func (f KeyFrame) authored() KeyFrame {
	f.Auto = false
	if f.extra != nil {
		extra := make(map[string]json.RawMessage, len(f.extra))
		for k, v := range f.extra {
			extra[k] = v
		}
		f.extra = extra
	}
	return f
}

// blend returns the box at frame between the key frames prev and next.
func blend(prev, next KeyFrame, frame int) KeyFrame {
	t := float64(frame-prev.Frame) / float64(next.Frame-prev.Frame)
	return KeyFrame{
		Frame:    frame,
		Enabled:  true,
		X:        lerp(prev.X, next.X, t),
		Y:        lerp(prev.Y, next.Y, t),
		Width:    lerp(prev.Width, next.Width, t),
		Height:   lerp(prev.Height, next.Height, t),
		Rotation: lerp(prev.Rotation, next.Rotation, t),
		Auto:     true,
	}
}

// hold returns the box of kf repeated at frame.
func hold(kf KeyFrame, frame int) KeyFrame {
	return KeyFrame{
		Frame:    frame,
		Enabled:  true,
		X:        kf.X,
		Y:        kf.Y,
		Width:    kf.Width,
		Height:   kf.Height,
		Rotation: kf.Rotation,
		Auto:     true,
	}
}

// lerp blends a into b. Rotation uses it too, without wrapping around 360 degrees.
func lerp(a, b, t float64) float64 {
	// The conversion forces rounding of the product, so that no fused multiply-add is used.
	return a + float64((b-a)*t)
}
