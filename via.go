package lbltools

// VGG Image Annotator (VIA) specific functionality.

import (
	"encoding"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
)

// VIAShape describes the shape of an annotation.
type VIAShape struct {
	Name   string `json:"name"`
	X      int32  `json:"x"`
	Y      int32  `json:"y"`
	Width  int32  `json:"width"`
	Height int32  `json:"height"`
}

// VIARegionAnnotation is a single region annotation for a particular frame in a VIA file.
type VIARegionAnnotation struct {
	Attributes map[string]string `json:"region_attributes"`
	Shape      VIAShape          `json:"shape_attributes"`
}

// VIAAnnotatedFile defines the VIA annotation structure for a single frame.
type VIAAnnotatedFile struct {
	Annotations []VIARegionAnnotation `json:"regions"`
	Attributes  map[string]string     `json:"file_attributes"`
	FilePath    string                `json:"filename"`
	Size        int64                 `json:"size"`
}

// VIAOptionsAttribute defines attributes of type "radio" or "dropdown".
type VIAOptionsAttribute struct {
	Type           string            `json:"type"` // "radio" or "dropdown"
	Description    string            `json:"description"`
	Options        map[string]string `json:"options"`
	DefaultOptions map[string]bool   `json:"default_options"`
}

// VIATextAttribute defines attributes of type "text".
type VIATextAttribute struct {
	Type         string `json:"type"` // "text"
	Description  string `json:"description"`
	DefaultValue string `json:"default_value"`
}

// VIAAttributes defines the VIA attribute metadata.
type VIAAttributes struct {
	Region map[string]interface{} `json:"region"`
	File   map[string]interface{} `json:"file"`
}

// VIAProject defines the VIA project structure.
type VIAProject struct {
	Attributes    VIAAttributes               `json:"_via_attributes"`
	ImageMetadata map[string]VIAAnnotatedFile `json:"_via_img_metadata"`
	// Must exist for VIA to load the project. Default values will be used.
	Settings struct{} `json:"_via_settings"`
}

const (
	viaLabelAttribute = "Label" // The attribute key used for labels.
	viaFrameAttribute = "Frame" // The file attribute key used for the frame index.
)

// ToVIA converts the intermediate representation to VIA format.
func ToVIA(irData []AnnotatedFile) VIAProject {
	viaData := VIAProject{
		Attributes: VIAAttributes{
			Region: make(map[string]interface{}),
			File: map[string]interface{}{
				viaFrameAttribute: VIATextAttribute{Type: "text"},
			},
		},
		ImageMetadata: make(map[string]VIAAnnotatedFile, len(irData)),
	}

	// Adds an option to a VIAOptionsAttribute, creating the attribute if necessary.
	addAttrOption := func(attrs map[string]interface{}, attrName, attrType, option string) {
		var attr VIAOptionsAttribute
		if a, ok := attrs[attrName]; ok {
			// Copy the existing attribute.
			if v, ok := a.(VIAOptionsAttribute); ok && v.Type == attrType {
				attr = v
			} else {
				logger.Warn("Unexpected VIA attribute type", zap.String("attribute", attrName))
				return
			}
		} else {
			attr = VIAOptionsAttribute{
				Type:           attrType,
				Options:        make(map[string]string),
				DefaultOptions: make(map[string]bool),
			}
		}

		attr.Options[option] = ""
		attrs[attrName] = attr
	}

	for _, irFile := range irData {
		viaFile := VIAAnnotatedFile{
			Annotations: make([]VIARegionAnnotation, 0, len(irFile.Annotations)),
			// Must not be nil as that becomes JSON null.
			Attributes: map[string]string{viaFrameAttribute: strconv.Itoa(irFile.Frame)},
			FilePath:   irFile.FilePath,
		}
		for _, a := range irFile.Annotations {
			viaObject := VIARegionAnnotation{
				Attributes: map[string]string{viaLabelAttribute: a.Label},
				Shape: VIAShape{
					Name:   "rect",
					X:      int32(a.Coords[0]),
					Y:      int32(a.Coords[1]),
					Width:  int32(a.Width()),
					Height: int32(a.Height()),
				},
			}

			// Add additional attributes with values that can be converted to string.
			for k, v := range a.Attributes {
				switch v := v.(type) {
				case int:
					viaObject.Attributes[k] = strconv.Itoa(v)
				case float64:
					viaObject.Attributes[k] = strconv.FormatFloat(v, 'f', -1, 64)
				case bool:
					viaObject.Attributes[k] = strconv.FormatBool(v)
				case string:
					viaObject.Attributes[k] = v
				case encoding.TextMarshaler:
					if s, err := v.MarshalText(); err == nil {
						viaObject.Attributes[k] = string(s)
					} else {
						logger.Warn("Failed to marshal attribute", zap.String("attribute", k), zap.Error(err))
					}
				default:
					continue
				}

				if _, ok := viaData.Attributes.Region[k]; !ok {
					viaData.Attributes.Region[k] = VIATextAttribute{Type: "text"}
				}
			}

			// Add the label value to the attribute metadata.
			addAttrOption(viaData.Attributes.Region, viaLabelAttribute, "radio", a.Label)

			viaFile.Annotations = append(viaFile.Annotations, viaObject)
		}
		viaData.ImageMetadata[viaFile.FilePath] = viaFile
	}

	return viaData
}

// WriteVIA writes the VIA project data to outFile.
func WriteVIA(outFile string, data VIAProject) error {
	enc, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(outFile, enc, 0644); err != nil {
		return fmt.Errorf("cannot write file %q: %w", outFile, err)
	}
	return nil
}
