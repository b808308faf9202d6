// Package fiducial turns camera detections of fixed, uniquely identified markers into candidate
// robot poses on the field.
package fiducial

import (
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/nar3128/swervepose/spatialmath"
	"github.com/nar3128/swervepose/utils"
)

// MarkerMap maps marker ids to their known field poses. It is immutable once built and safe to
// share between extractors.
type MarkerMap struct {
	markers map[int]spatialmath.Pose
}

// NewMarkerMap copies the given poses into a new map.
func NewMarkerMap(markers map[int]spatialmath.Pose) MarkerMap {
	return MarkerMap{markers: lo.Assign(markers)}
}

// Pose returns the field pose of a marker.
func (m MarkerMap) Pose(id int) (spatialmath.Pose, bool) {
	p, ok := m.markers[id]
	return p, ok
}

// Len is the number of known markers.
func (m MarkerMap) Len() int {
	return len(m.markers)
}

// IDs returns the known marker ids in ascending order.
func (m MarkerMap) IDs() []int {
	ids := lo.Keys(m.markers)
	sort.Ints(ids)
	return ids
}

// MarkerConfig describes one marker in a configuration file. Positions are meters, angles degrees.
type MarkerConfig struct {
	ID    int     `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Roll  float64 `json:"roll_degs"`
	Pitch float64 `json:"pitch_degs"`
	Yaw   float64 `json:"yaw_degs"`
}

// Pose converts the configured marker to a field pose.
func (cfg MarkerConfig) Pose() spatialmath.Pose {
	return spatialmath.NewPoseFromRPY(
		r3.Vector{X: cfg.X, Y: cfg.Y, Z: cfg.Z},
		utils.DegToRad(cfg.Roll), utils.DegToRad(cfg.Pitch), utils.DegToRad(cfg.Yaw),
	)
}

// NewMarkerMapFromConfig builds a marker map, rejecting duplicate ids.
func NewMarkerMapFromConfig(cfgs []MarkerConfig) (MarkerMap, error) {
	markers := make(map[int]spatialmath.Pose, len(cfgs))
	for _, cfg := range cfgs {
		if _, ok := markers[cfg.ID]; ok {
			return MarkerMap{}, errors.Errorf("marker %d defined more than once", cfg.ID)
		}
		markers[cfg.ID] = cfg.Pose()
	}
	return MarkerMap{markers: markers}, nil
}

// offseason layout: x, y, z in inches and yaw in degrees.
var offseasonMarkers = map[int][4]float64{
	1:  {593.68, 9.68, 53.38, 120},
	2:  {637.21, 34.79, 53.38, 120},
	3:  {652.73, 196.17, 57.13, 180},
	4:  {652.73, 218.42, 57.13, 180},
	5:  {578.77, 323, 53.38, 270},
	6:  {72.5, 323, 53.38, 270},
	7:  {-1.5, 218.42, 57.13, 0},
	8:  {-1.5, 196.17, 57.13, 0},
	9:  {14.02, 34.79, 53.38, 60},
	10: {57.54, 9.68, 53.38, 60},
	11: {468.69, 146.19, 52, 300},
	12: {468.69, 177.1, 52, 60},
	13: {441.74, 161.62, 52, 180},
	14: {209.48, 161.62, 52, 0},
	15: {182.73, 177.1, 52, 120},
	16: {182.73, 146.19, 52, 240},
}

// OffseasonLayout is the built-in 16 marker field layout.
func OffseasonLayout() MarkerMap {
	markers := make(map[int]spatialmath.Pose, len(offseasonMarkers))
	for id, m := range offseasonMarkers {
		markers[id] = spatialmath.NewPoseFromRPY(
			r3.Vector{X: utils.InchesToMeters(m[0]), Y: utils.InchesToMeters(m[1]), Z: utils.InchesToMeters(m[2])},
			0, 0, utils.DegToRad(m[3]),
		)
	}
	return MarkerMap{markers: markers}
}

// LayoutByName returns a built-in layout.
func LayoutByName(name string) (MarkerMap, error) {
	switch name {
	case "offseason":
		return OffseasonLayout(), nil
	default:
		return MarkerMap{}, errors.Errorf("unknown marker layout %q", name)
	}
}
