package detector

import (
	"math"

	"gocv.io/x/gocv"

	"github.com/Capitan-Parrot/motion-detector/internal/config"
	"github.com/Capitan-Parrot/motion-detector/internal/models"
)

// CircleFinder proposes circles on a blurred single-channel image.
type CircleFinder interface {
	FindCircles(gray gocv.Mat) []models.Candidate
}

// HoughFinder runs the OpenCV Hough gradient transform.
type HoughFinder struct {
	cfg config.Detection
}

func NewHoughFinder(cfg config.Detection) *HoughFinder {
	return &HoughFinder{cfg: cfg}
}

func (f *HoughFinder) FindCircles(gray gocv.Mat) []models.Candidate {
	circles := gocv.NewMat()
	defer circles.Close()

	gocv.HoughCirclesWithParams(
		gray,
		&circles,
		gocv.HoughGradient,
		f.cfg.DP,
		float64(f.cfg.MinDist),
		float64(f.cfg.Param1),
		float64(f.cfg.Param2),
		f.cfg.MinRadius,
		f.cfg.MaxRadius,
	)

	if circles.Empty() {
		return nil
	}

	candidates := make([]models.Candidate, 0, circles.Cols())
	for i := 0; i < circles.Cols(); i++ {
		v := circles.GetVecfAt(0, i)
		if len(v) < 3 {
			continue
		}
		candidates = append(candidates, models.Candidate{
			X:      int(math.Round(float64(v[0]))),
			Y:      int(math.Round(float64(v[1]))),
			Radius: int(math.Round(float64(v[2]))),
		})
	}
	return candidates
}
