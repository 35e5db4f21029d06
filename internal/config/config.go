// Package config holds the machine's axis and extruder profile tables (the
// spec's C1/C2 components) and their JSON-backed persistence, styled on the
// teacher's common/config package: a flat, atomically-written JSON sidecar
// read with LoadFile and written with SaveFile.
//
// All setters accept SI units (metres, metres/second, metres/second^2,
// steps/metre) at the boundary, exactly as spec.md section 6 describes, and
// convert to the millimetre-based internal units the planner works in.
package config

import (
	"encoding/json"
	"errors"
	"math"
	"os"

	"motioncore/common/file"
	"motioncore/internal/logger"
)

// AxisProfile holds one linear axis's configured limits, in millimetre-based
// units, plus the step-domain quantities recomputed from them.
type AxisProfile struct {
	MaxFeedrateMMPerSec        float64
	MaxPrintAccelMMPerSec2     float64
	MaxTravelAccelMMPerSec2    float64
	StepsPerMM                 float64
	InvStepsPerMM              float64
	MaxPrintAccelStepsPerSec2  float64
	MaxTravelAccelStepsPerSec2 float64
}

func (a *AxisProfile) recompute() {
	if a.StepsPerMM > 0 {
		a.InvStepsPerMM = 1.0 / a.StepsPerMM
	} else {
		a.InvStepsPerMM = 0
	}
	a.MaxPrintAccelStepsPerSec2 = a.MaxPrintAccelMMPerSec2 * a.StepsPerMM
	a.MaxTravelAccelStepsPerSec2 = a.MaxTravelAccelMMPerSec2 * a.StepsPerMM
}

// ExtruderProfile is the per-extruder analogue of AxisProfile plus the
// extruder-only max-start-feedrate used by the jerk budget at a
// non-moving-start junction.
type ExtruderProfile struct {
	MaxFeedrateMMPerSec        float64
	MaxPrintAccelMMPerSec2     float64
	MaxTravelAccelMMPerSec2    float64
	StepsPerMM                 float64
	InvStepsPerMM              float64
	MaxStartFeedrateMMPerSec   float64
	MaxPrintAccelStepsPerSec2  float64
	MaxTravelAccelStepsPerSec2 float64

	// StepperCommandPosition is the bit index this extruder occupies in
	// the pulse-command direction/step mask when it is the active
	// extruder: 3 for the first extruder, 4 for the second, and so on.
	StepperCommandPosition int
}

func (e *ExtruderProfile) recompute() {
	if e.StepsPerMM > 0 {
		e.InvStepsPerMM = 1.0 / e.StepsPerMM
	} else {
		e.InvStepsPerMM = 0
	}
	e.MaxPrintAccelStepsPerSec2 = e.MaxPrintAccelMMPerSec2 * e.StepsPerMM
	e.MaxTravelAccelStepsPerSec2 = e.MaxTravelAccelMMPerSec2 * e.StepsPerMM
}

const (
	AxisX = 0
	AxisY = 1
	AxisZ = 2
	AxisE = 3
)

// Config is the live machine configuration: three linear axis profiles, a
// table of extruder profiles, the currently selected extruder, and the two
// jerk budgets (XY and Z). Effective() exposes the four-axis view the
// planner actually consumes, with the E slot mirrored from the selected
// extruder, the way the original firmware's PathPlanner::setExtruder copies
// the active extruder's limits into its own maxFeedrate[E_AXIS] etc.
type Config struct {
	Axes     [3]AxisProfile
	Extruder []ExtruderProfile
	Current  int

	MaxJerkXYMMPerSec float64
	MaxJerkZMMPerSec  float64

	MinimumSpeedMMPerSec  float64
	MinimumZSpeedMMPerSec float64
}

// NewConfig builds a Config with numExtruders profile slots and the original
// firmware's default jerk budget (20 mm/s XY, 0.3 mm/s Z, expressed here as
// the safeSpeed floor the original wires into PathPlanner's constructor).
func NewConfig(numExtruders int) *Config {
	if numExtruders < 1 {
		numExtruders = 1
	}
	c := &Config{
		Extruder:          make([]ExtruderProfile, numExtruders),
		MaxJerkXYMMPerSec: 20,
		MaxJerkZMMPerSec:  0.3,
	}
	for i := range c.Extruder {
		c.Extruder[i].StepperCommandPosition = AxisE + i
	}
	return c
}

// SetMaxFeedrates sets the X/Y/Z max feedrate, in m/s, matching
// PathPlanner::setMaxFeedrates.
func (c *Config) SetMaxFeedrates(ratesMPerSec [3]float64) {
	for i := 0; i < 3; i++ {
		c.Axes[i].MaxFeedrateMMPerSec = ratesMPerSec[i] * 1000
	}
	c.recompute()
}

// SetPrintAcceleration sets the X/Y/Z print (extruding) acceleration, in
// m/s^2, matching PathPlanner::setPrintAcceleration.
func (c *Config) SetPrintAcceleration(accelMPerSec2 [3]float64) {
	for i := 0; i < 3; i++ {
		c.Axes[i].MaxPrintAccelMMPerSec2 = accelMPerSec2[i] * 1000
	}
	c.recompute()
}

// SetTravelAcceleration sets the X/Y/Z travel (non-extruding) acceleration,
// in m/s^2, matching PathPlanner::setTravelAcceleration.
func (c *Config) SetTravelAcceleration(accelMPerSec2 [3]float64) {
	for i := 0; i < 3; i++ {
		c.Axes[i].MaxTravelAccelMMPerSec2 = accelMPerSec2[i] * 1000
	}
	c.recompute()
}

// SetAxisStepsPerMeter sets the X/Y/Z steps/metre resolution. The division
// by 1000 to reach steps/mm is integer division, preserved bit-for-bit from
// the original firmware's unsigned-long arithmetic; in
// practice configured resolutions are exact multiples of 1000 so no
// precision is lost.
func (c *Config) SetAxisStepsPerMeter(stepsPerMeter [3]uint64) {
	for i := 0; i < 3; i++ {
		c.Axes[i].StepsPerMM = float64(stepsPerMeter[i] / 1000)
	}
	c.recompute()
}

// SetMaxJerk sets the XY and Z jerk budgets, in m/s.
func (c *Config) SetMaxJerk(xy, z float64) {
	c.MaxJerkXYMMPerSec = xy * 1000
	c.MaxJerkZMMPerSec = z * 1000
}

// SetExtruderMaxFeedrate sets one extruder's max feedrate, in m/s.
func (c *Config) SetExtruderMaxFeedrate(idx int, rateMPerSec float64) {
	c.Extruder[idx].MaxFeedrateMMPerSec = rateMPerSec * 1000
	c.recomputeExtruder(idx)
}

// SetExtruderPrintAcceleration sets one extruder's print acceleration, in
// m/s^2.
func (c *Config) SetExtruderPrintAcceleration(idx int, accelMPerSec2 float64) {
	c.Extruder[idx].MaxPrintAccelMMPerSec2 = accelMPerSec2 * 1000
	c.recomputeExtruder(idx)
}

// SetExtruderTravelAcceleration sets one extruder's travel acceleration, in
// m/s^2.
func (c *Config) SetExtruderTravelAcceleration(idx int, accelMPerSec2 float64) {
	c.Extruder[idx].MaxTravelAccelMMPerSec2 = accelMPerSec2 * 1000
	c.recomputeExtruder(idx)
}

// SetExtruderAxisStepsPerMeter sets one extruder's steps/metre resolution.
func (c *Config) SetExtruderAxisStepsPerMeter(idx int, stepsPerMeter uint64) {
	c.Extruder[idx].StepsPerMM = float64(stepsPerMeter / 1000)
	c.recomputeExtruder(idx)
}

// SetExtruderMaxStartFeedrate sets one extruder's max-start-feedrate, in
// m/s, the floor used when a junction starts from rest on this extruder.
func (c *Config) SetExtruderMaxStartFeedrate(idx int, rateMPerSec float64) {
	c.Extruder[idx].MaxStartFeedrateMMPerSec = rateMPerSec * 1000
	c.recomputeExtruder(idx)
}

// SetExtruder selects the active extruder, matching
// PathPlanner::setExtruder's copy of the extruder's limits into the E axis
// slot that Effective returns.
func (c *Config) SetExtruder(idx int) error {
	if idx < 0 || idx >= len(c.Extruder) {
		return errors.New("config: extruder index out of range")
	}
	c.Current = idx
	return nil
}

func (c *Config) recompute() {
	for i := range c.Axes {
		c.Axes[i].recompute()
	}
	c.recomputeMinimumSpeeds()
}

func (c *Config) recomputeExtruder(idx int) {
	c.Extruder[idx].recompute()
}

// recomputeMinimumSpeeds follows PathPlanner::recomputeParameters:
// minimumSpeed = accel * sqrt(2 / (stepsPerMM * accel)) for X and
// minimumZSpeed for Z, the speed below which a single step interval would
// already exceed the per-step acceleration budget.
func (c *Config) recomputeMinimumSpeeds() {
	xAccel := math.Max(c.Axes[AxisX].MaxPrintAccelMMPerSec2, c.Axes[AxisX].MaxTravelAccelMMPerSec2)
	zAccel := math.Max(c.Axes[AxisZ].MaxPrintAccelMMPerSec2, c.Axes[AxisZ].MaxTravelAccelMMPerSec2)
	c.MinimumSpeedMMPerSec = minimumSpeedFor(xAccel, c.Axes[AxisX].StepsPerMM)
	c.MinimumZSpeedMMPerSec = minimumSpeedFor(zAccel, c.Axes[AxisZ].StepsPerMM)
}

func minimumSpeedFor(accel, stepsPerMM float64) float64 {
	if accel <= 0 || stepsPerMM <= 0 {
		return 0
	}
	return accel * math.Sqrt(2/(stepsPerMM*accel))
}

// Effective returns the four-axis (X, Y, Z, E) view the planner consumes,
// with the E slot mirrored from the currently selected extruder.
type EffectiveAxis struct {
	MaxFeedrateMMPerSec        float64
	MaxPrintAccelMMPerSec2     float64
	MaxTravelAccelMMPerSec2    float64
	StepsPerMM                 float64
	InvStepsPerMM              float64
	MaxPrintAccelStepsPerSec2  float64
	MaxTravelAccelStepsPerSec2 float64
	MaxStartFeedrateMMPerSec   float64
	StepperCommandPosition     int
}

func (c *Config) Effective() [4]EffectiveAxis {
	var out [4]EffectiveAxis
	for i := 0; i < 3; i++ {
		a := c.Axes[i]
		out[i] = EffectiveAxis{
			MaxFeedrateMMPerSec:        a.MaxFeedrateMMPerSec,
			MaxPrintAccelMMPerSec2:     a.MaxPrintAccelMMPerSec2,
			MaxTravelAccelMMPerSec2:    a.MaxTravelAccelMMPerSec2,
			StepsPerMM:                 a.StepsPerMM,
			InvStepsPerMM:              a.InvStepsPerMM,
			MaxPrintAccelStepsPerSec2:  a.MaxPrintAccelStepsPerSec2,
			MaxTravelAccelStepsPerSec2: a.MaxTravelAccelStepsPerSec2,
		}
	}
	if c.Current >= 0 && c.Current < len(c.Extruder) {
		e := c.Extruder[c.Current]
		out[AxisE] = EffectiveAxis{
			MaxFeedrateMMPerSec:        e.MaxFeedrateMMPerSec,
			MaxPrintAccelMMPerSec2:     e.MaxPrintAccelMMPerSec2,
			MaxTravelAccelMMPerSec2:    e.MaxTravelAccelMMPerSec2,
			StepsPerMM:                 e.StepsPerMM,
			InvStepsPerMM:              e.InvStepsPerMM,
			MaxPrintAccelStepsPerSec2:  e.MaxPrintAccelStepsPerSec2,
			MaxTravelAccelStepsPerSec2: e.MaxTravelAccelStepsPerSec2,
			MaxStartFeedrateMMPerSec:   e.MaxStartFeedrateMMPerSec,
			StepperCommandPosition:     e.StepperCommandPosition,
		}
	}
	return out
}

// Persistence, adapted from the teacher's readParaFile/saveParaFile: a flat
// JSON document, written atomically via file.WriteFileWithSync.

func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := json.Unmarshal(content, &c); err != nil {
		logger.Errorf("config: unmarshal %s: %v", path, err)
		return nil, err
	}
	c.recompute()
	for i := range c.Extruder {
		c.recomputeExtruder(i)
	}
	return &c, nil
}

func (c *Config) SaveFile(path string) error {
	data, err := json.MarshalIndent(c, "", "\t")
	if err != nil {
		return err
	}
	return file.WriteFileWithSync(path, data)
}
