package lbltools

// KITTI specific functionality.

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// KITTIAnnotation is a single annotation within a KITTI file.
type KITTIAnnotation struct {
	Coords [4]float64 // x1, y1, x2, y2
	Label  string
	Score  float64 // Optional, linear confidence value. No fixed range.
}

// KITTIAnnotatedFile defines the KITTI annotation structure for a single frame.
type KITTIAnnotatedFile struct {
	Annotations []KITTIAnnotation
	FilePath    string
}

// ToKitti converts the intermediate representation to KITTI format. Authored boxes get a score of
// 1, generated ones a score of 0.5.
func ToKitti(data []AnnotatedFile) []KITTIAnnotatedFile {
	kittiData := make([]KITTIAnnotatedFile, 0, len(data))
	for _, fileData := range data {
		kittiFileData := KITTIAnnotatedFile{
			Annotations: make([]KITTIAnnotation, len(fileData.Annotations)),
			FilePath:    fileData.FilePath,
		}
		for i, a := range fileData.Annotations {
			kittiLabel := KITTIAnnotation{Coords: a.Coords, Label: a.Label, Score: 1}
			if auto, _ := a.Attributes[Auto].(bool); auto {
				kittiLabel.Score = 0.5
			}
			kittiFileData.Annotations[i] = kittiLabel
		}
		kittiData = append(kittiData, kittiFileData)
	}

	return kittiData
}

// WriteKitti writes data to dirPath, one label file per frame, named like the frame image with a
// .txt extension.
func WriteKitti(dirPath string, data []KITTIAnnotatedFile) error {
	dirInfo, err := os.Stat(dirPath)
	if err != nil || !dirInfo.IsDir() {
		return fmt.Errorf("cannot access directory %q: %v", dirPath, err)
	}

	for _, fileData := range data {
		_, baseNoExt, _, err := splitPath(fileData.FilePath)
		if err != nil {
			return err
		}
		if err := writeKittiFile(filepath.Join(dirPath, baseNoExt+".txt"), fileData); err != nil {
			return err
		}
	}

	return nil
}

func writeKittiFile(path string, fileData KITTIAnnotatedFile) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer closeWithErrCheck(file, &err)

	w := bufio.NewWriter(file)
	for _, a := range fileData.Annotations {
		_, err = fmt.Fprintf(w,
			"%s 0.0 0 0.0 %.2f %.2f %.2f %.2f 0.0 0.0 0.0 0.0 0.0 0.0 0.0 %f\n",
			a.Label, a.Coords[0], a.Coords[1], a.Coords[2], a.Coords[3], a.Score)
		if err != nil {
			return err
		}
	}
	return w.Flush()
}
