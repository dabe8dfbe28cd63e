package detect

import (
	"testing"

	pigo "github.com/esimov/pigo/core"
	"github.com/stretchr/testify/require"
)

func TestGeometryFromDetection(t *testing.T) {
	g := geometryFrom(pigo.Detection{Row: 100, Col: 60, Scale: 40})
	require.Equal(t, 40.0, g.Left)
	require.Equal(t, 80.0, g.Top)
	require.Equal(t, 80.0, g.Right)
	require.Equal(t, 120.0, g.Bottom)
}

func TestPupilScore(t *testing.T) {
	require.Equal(t, 0.0, pupilScore(nil))
	require.Equal(t, 0.0, pupilScore(&pigo.Puploc{Row: -1, Col: 20, Q: 0.9}))
	require.Equal(t, 0.0, pupilScore(&pigo.Puploc{Row: 20, Col: -1, Q: 0.9}))
	require.InDelta(t, 0.7, pupilScore(&pigo.Puploc{Row: 20, Col: 20, Q: 0.7}), 1e-9)
	// Quality above one collapses to a certainty, not a weight.
	require.Equal(t, 1.0, pupilScore(&pigo.Puploc{Row: 20, Col: 20, Q: 3.2}))
}

func TestNewRejectsMissingCascade(t *testing.T) {
	_, err := New(DefaultConfig("/nonexistent/facefinder", ""))
	require.Error(t, err)
	require.ErrorContains(t, err, "reading face cascade")
}
