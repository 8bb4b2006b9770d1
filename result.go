package lbltools

// The annotation result payload produced by the labeling UI.

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// KeyFrame is one entry of a video track sequence. Authored key frames and the frames generated
// from them share this type; generated frames have Auto set.
type KeyFrame struct {
	Frame    int      // 1-based frame index.
	Enabled  bool     // Whether the object is visible from this frame on.
	X        float64  // Left edge, percent of the frame width.
	Y        float64  // Top edge, percent of the frame height.
	Width    float64  // Percent of the frame width.
	Height   float64  // Percent of the frame height.
	Rotation float64  // Degrees, clockwise.
	Time     *float64 // Optional timestamp in seconds. Only set on authored frames.
	Auto     bool     // Set on frames synthesized by interpolation or extension.

	extra map[string]json.RawMessage // Unknown members, kept for round trips.
}

// Value is the value member of an annotation result. Only the members used for video tracks are
// decoded; everything else is preserved as is.
type Value struct {
	Sequence   []KeyFrame // nil if the result has no sequence member.
	FrameCount int        // Total frames in the timeline. Zero if unknown.
	Labels     []string

	extra   map[string]json.RawMessage
	present map[string]bool // Known members found when decoding, even with zero values.
	null    bool            // Decoded from a JSON null.
}

// Result is a single annotation result.
type Result struct {
	ID    string
	Type  string
	Value Value

	extra   map[string]json.RawMessage
	present map[string]bool
	raw     json.RawMessage // Original encoding, if the value could not be decoded.
}

// MarshalJSON implements json.Marshaler.
func (f KeyFrame) MarshalJSON() ([]byte, error) {
	known := map[string]interface{}{
		"frame":    f.Frame,
		"enabled":  f.Enabled,
		"x":        f.X,
		"y":        f.Y,
		"width":    f.Width,
		"height":   f.Height,
		"rotation": f.Rotation,
	}
	if f.Time != nil {
		known["time"] = *f.Time
	}
	if f.Auto {
		known["auto"] = true
	}
	return encodeObject(known, f.extra)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *KeyFrame) UnmarshalJSON(data []byte) error {
	var kf KeyFrame
	extra, _, err := decodeObject(data, map[string]interface{}{
		"frame":    &kf.Frame,
		"enabled":  &kf.Enabled,
		"x":        &kf.X,
		"y":        &kf.Y,
		"width":    &kf.Width,
		"height":   &kf.Height,
		"rotation": &kf.Rotation,
		"time":     &kf.Time,
		"auto":     &kf.Auto,
	})
	if err != nil {
		return fmt.Errorf("invalid key frame: %w", err)
	}
	kf.extra = extra
	*f = kf
	return nil
}

// isZero reports whether v has no members to encode.
func (v Value) isZero() bool {
	return v.Sequence == nil && v.FrameCount == 0 && v.Labels == nil && len(v.extra) == 0 &&
		len(v.present) == 0
}

// MarshalJSON implements json.Marshaler. Members that were present when decoding are written even
// if they hold zero values.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.null && v.isZero() {
		return []byte("null"), nil
	}

	known := make(map[string]interface{}, 3)
	if v.Sequence != nil || v.present["sequence"] {
		known["sequence"] = v.Sequence
	}
	if v.FrameCount != 0 || v.present["frameCount"] {
		known["frameCount"] = v.FrameCount
	}
	if v.Labels != nil || v.present["labels"] {
		known["labels"] = v.Labels
	}
	return encodeObject(known, v.extra)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*v = Value{null: true}
		return nil
	}

	var val Value
	extra, present, err := decodeObject(data, map[string]interface{}{
		"sequence":   &val.Sequence,
		"frameCount": &val.FrameCount,
		"labels":     &val.Labels,
	})
	if err != nil {
		return err
	}
	val.extra = extra
	val.present = present
	*v = val
	return nil
}

// MarshalJSON implements json.Marshaler. Results with a value that could not be decoded are
// written back exactly as they were read.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.raw != nil {
		return r.raw, nil
	}

	known := make(map[string]interface{}, 3)
	if r.ID != "" || r.present["id"] {
		known["id"] = r.ID
	}
	if r.Type != "" || r.present["type"] {
		known["type"] = r.Type
	}
	if !r.Value.isZero() || r.Value.null || r.present["value"] {
		known["value"] = r.Value
	}
	return encodeObject(known, r.extra)
}

// UnmarshalJSON implements json.Unmarshaler.
//
// The value of results that are not video rectangles is decoded on a best effort basis, as other
// result types may use the same member names with different types. If that fails, the result
// keeps its original encoding.
func (r *Result) UnmarshalJSON(data []byte) error {
	var res Result
	var value json.RawMessage
	extra, present, err := decodeObject(data, map[string]interface{}{
		"id":    &res.ID,
		"type":  &res.Type,
		"value": &value,
	})
	if err != nil {
		return fmt.Errorf("invalid result: %w", err)
	}
	switch {
	case present["value"] && (len(value) == 0 || isNull(value)):
		res.Value.null = true
	case len(value) > 0:
		if err := json.Unmarshal(value, &res.Value); err != nil {
			if res.isVideoRectangle() {
				return fmt.Errorf("invalid value of result %q: %w", res.ID, err)
			}
			res.raw = append(json.RawMessage(nil), data...)
		}
	}
	res.extra = extra
	res.present = present
	*r = res
	return nil
}

// withSequence returns a copy of r with the sequence replaced. All other members are kept.
func (r Result) withSequence(seq []KeyFrame) Result {
	r.Value.Sequence = seq
	r.raw = nil
	return r
}

// encodeObject encodes the known members together with the preserved unknown ones. Known members
// take precedence.
func encodeObject(known map[string]interface{}, extra map[string]json.RawMessage) ([]byte, error) {
	obj := make(map[string]interface{}, len(known)+len(extra))
	for k, v := range extra {
		obj[k] = v
	}
	for k, v := range known {
		obj[k] = v
	}
	return json.Marshal(obj)
}

// decodeObject decodes the JSON object in data, storing the members listed in known through
// their pointers. Returns the remaining members (nil if there are none) and the set of known
// members that were found.
func decodeObject(data []byte, known map[string]interface{}) (
	extra map[string]json.RawMessage, present map[string]bool, err error) {

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, nil, err
	}
	for k, dst := range known {
		raw, ok := obj[k]
		if !ok {
			continue
		}
		delete(obj, k)
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, nil, fmt.Errorf("member %q: %w", k, err)
		}
		if present == nil {
			present = make(map[string]bool, len(known))
		}
		present[k] = true
	}
	if len(obj) > 0 {
		extra = obj
	}
	return extra, present, nil
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

// ParseResults decodes a JSON array of annotation results.
func ParseResults(data []byte) ([]Result, error) {
	var results []Result
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("failed to parse annotation results: %v", err)
	}
	return results, nil
}
