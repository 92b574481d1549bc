package ocr

import (
	"errors"
	"os"
	"path/filepath"
)

const trainedData = "eng.traineddata"

// ErrNoTessdata is returned when no directory with eng.traineddata can be found.
var ErrNoTessdata = errors.New("could not find valid tessdata directory with " + trainedData)

// systemTessdataDirs are checked after the working-directory candidates.
var systemTessdataDirs = []string{
	"/usr/share/tesseract-ocr/tessdata",
	"/usr/share/tesseract-ocr/5.00/tessdata",
	"/usr/local/share/tessdata",
}

// ResolveTessdataPrefix returns configured when it holds eng.traineddata, and
// otherwise the first fallback that does: ./tessdata, ../tessdata and the
// usual system locations.
func ResolveTessdataPrefix(configured string) (string, error) {
	if IsTessdataDir(configured) {
		return configured, nil
	}
	var candidates []string
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates,
			filepath.Join(wd, "tessdata"),
			filepath.Join(filepath.Dir(wd), "tessdata"),
		)
	}
	candidates = append(candidates, systemTessdataDirs...)
	for _, dir := range candidates {
		if IsTessdataDir(dir) {
			return dir, nil
		}
	}
	return "", ErrNoTessdata
}

// IsTessdataDir reports whether dir is a directory containing eng.traineddata.
func IsTessdataDir(dir string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = os.Stat(filepath.Join(dir, trainedData))
	return err == nil
}
