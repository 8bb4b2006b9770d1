package lbltools

// Sloth specific functionality.

import (
	"encoding/json"
	"fmt"
	"os"
)

// SlothAnnotation is a single annotation within a Sloth file.
type SlothAnnotation struct {
	Class  string  `json:"class,omitempty"`
	Type   string  `json:"type,omitempty"`
	ID     string  `json:"id,omitempty"` // The track the box belongs to.
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

// SlothAnnotatedFile defines the Sloth annotation structure for a single frame.
type SlothAnnotatedFile struct {
	Annotations []SlothAnnotation `json:"annotations"`
	Class       string            `json:"class,omitempty"`
	FilePath    string            `json:"filename,omitempty"`
	Frame       int               `json:"frame,omitempty"`
}

// ToSloth converts the intermediate representation to Sloth format.
func ToSloth(data []AnnotatedFile) []SlothAnnotatedFile {
	slothData := make([]SlothAnnotatedFile, 0, len(data))
	for _, fileData := range data {
		slothFileData := SlothAnnotatedFile{
			Annotations: make([]SlothAnnotation, len(fileData.Annotations)),
			Class:       "image",
			FilePath:    fileData.FilePath,
			Frame:       fileData.Frame,
		}
		for i, a := range fileData.Annotations {
			trackID, _ := a.Attributes[TrackID].(string)
			slothFileData.Annotations[i] = SlothAnnotation{
				Class:  a.Label,
				Type:   "rect",
				ID:     trackID,
				X:      a.Coords[0],
				Y:      a.Coords[1],
				Width:  a.Width(),
				Height: a.Height(),
			}
		}
		slothData = append(slothData, slothFileData)
	}

	return slothData
}

// WriteSloth writes the Sloth annotations to outFile.
func WriteSloth(outFile string, data []SlothAnnotatedFile) error {
	enc, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(outFile, enc, 0644); err != nil {
		return fmt.Errorf("cannot write file %q: %w", outFile, err)
	}
	return nil
}
