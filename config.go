package voxgrid

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// SubchunkSize is the edge length, in voxels, of one world collision
// mesh cube.
const SubchunkSize = 16

// Config holds every tuning constant of the subsystem. Thresholds that
// the original behavior was empirically tuned around are deliberately
// configurable; DefaultConfig gives values validated against the
// property tests rather than any canonical physics.
type Config struct {
	// TickRate is the host tick frequency in Hz; the solver's fixed
	// timestep is 1/TickRate.
	TickRate int `yaml:"tick_rate"`
	// MaxSubSteps caps solver substeps per tick so a stalled host
	// cannot explode simulation cost.
	MaxSubSteps int `yaml:"max_sub_steps"`
	// Gravity in world units per second squared.
	Gravity [3]float64 `yaml:"gravity"`

	// RegionStride is the usable edge of one GridSpace region, in
	// voxels. RegionSafety is the buffer kept between adjacent regions
	// so neighboring grids' collision meshes can never touch.
	RegionStride int `yaml:"region_stride"`
	RegionSafety int `yaml:"region_safety"`
	// RegionRows is the side of the row/column packing; RegionRows²
	// is the total region id space.
	RegionRows int `yaml:"region_rows"`
	// RegionBase is the storage-space corner of region (row 0, col 0),
	// placed far outside any reachable world coordinate.
	RegionBase [3]int `yaml:"region_base"`
	// MaxWorldAbs is the host's absolute coordinate limit; computed
	// region origins beyond it are logged as unsafe.
	MaxWorldAbs int `yaml:"max_world_abs"`

	// GroundNormalCos is the minimum vertical normal component for a
	// contact to count as ground (default cos 45°).
	GroundNormalCos float64 `yaml:"ground_normal_cos"`
	// GroundMinPenetration rejects glancing contacts from ground
	// classification.
	GroundMinPenetration float64 `yaml:"ground_min_penetration"`
	// ContactDeepThreshold switches normal stabilization from the
	// voxel-center heuristic to the minimum-translation axis.
	ContactDeepThreshold float64 `yaml:"contact_deep_threshold"`
	// StabilizeEnabled toggles contact-normal stabilization.
	StabilizeEnabled bool `yaml:"stabilize_enabled"`

	// SlideFriction scales the tangential remainder when movement is
	// deflected along a surface. GroundFriction multiplies horizontal
	// velocity once per tick while grounded. Restitution is the bounce
	// factor for non-ground contacts.
	SlideFriction  float64 `yaml:"slide_friction"`
	GroundFriction float64 `yaml:"ground_friction"`
	Restitution    float64 `yaml:"restitution"`

	// GridVelocityBlend is the fraction of a grid's velocity at the
	// contact point mixed into a touching actor; the Ground variant
	// applies when the contact is classified as ground, so riders are
	// carried rather than left behind.
	GridVelocityBlend       float64 `yaml:"grid_velocity_blend"`
	GridVelocityBlendGround float64 `yaml:"grid_velocity_blend_ground"`

	// PenetrationCorrectionFactor is the fraction of penetration
	// removed per contact, capped at MaxCorrection world units.
	PenetrationCorrectionFactor float64 `yaml:"penetration_correction_factor"`
	MaxCorrection               float64 `yaml:"max_correction"`
	// SweepSafetyMargin is backed off the time of impact so a clipped
	// movement never ends flush against the surface.
	SweepSafetyMargin float64 `yaml:"sweep_safety_margin"`

	// SleepVelocityThreshold and SleepTime control when an idle grid
	// stops simulating.
	SleepVelocityThreshold float64 `yaml:"sleep_velocity_threshold"`
	SleepTime              float64 `yaml:"sleep_time"`

	// MeshActivationMargin inflates AABBs when deciding which world
	// subchunk meshes a grid or actor keeps active.
	MeshActivationMargin float64 `yaml:"mesh_activation_margin"`
}

func DefaultConfig() Config {
	return Config{
		TickRate:    20,
		MaxSubSteps: 4,
		Gravity:     [3]float64{0, -9.8, 0},

		RegionStride: 512,
		RegionSafety: 64,
		RegionRows:   256,
		RegionBase:   [3]int{4_000_000, 0, 4_000_000},
		MaxWorldAbs:  29_999_984 * 10,

		GroundNormalCos:      math.Sqrt2 / 2,
		GroundMinPenetration: 0.001,
		ContactDeepThreshold: 0.05,
		StabilizeEnabled:     true,

		SlideFriction:  0.98,
		GroundFriction: 0.91,
		Restitution:    0.25,

		GridVelocityBlend:       0.4,
		GridVelocityBlendGround: 0.9,

		PenetrationCorrectionFactor: 0.8,
		MaxCorrection:               0.5,
		SweepSafetyMargin:           0.01,

		SleepVelocityThreshold: 0.08,
		SleepTime:              1.0,

		MeshActivationMargin: 2.0,
	}
}

// FixedStep returns the solver timestep in seconds.
func (c Config) FixedStep() float64 {
	return 1 / float64(c.TickRate)
}

func (c Config) Validate() error {
	if c.TickRate <= 0 {
		return fmt.Errorf("config: tick_rate must be positive, got %d", c.TickRate)
	}
	if c.MaxSubSteps < 1 {
		return fmt.Errorf("config: max_sub_steps must be at least 1, got %d", c.MaxSubSteps)
	}
	if c.RegionStride < SubchunkSize {
		return fmt.Errorf("config: region_stride %d is smaller than a subchunk", c.RegionStride)
	}
	if c.RegionSafety < 1 {
		return fmt.Errorf("config: region_safety must be positive, got %d", c.RegionSafety)
	}
	if c.RegionRows < 1 {
		return fmt.Errorf("config: region_rows must be positive, got %d", c.RegionRows)
	}
	if c.GroundNormalCos <= 0 || c.GroundNormalCos >= 1 {
		return fmt.Errorf("config: ground_normal_cos must be in (0,1), got %f", c.GroundNormalCos)
	}
	if c.GridVelocityBlend < 0 || c.GridVelocityBlend > 1 ||
		c.GridVelocityBlendGround < 0 || c.GridVelocityBlendGround > 1 {
		return fmt.Errorf("config: grid velocity blends must be in [0,1]")
	}
	if c.PenetrationCorrectionFactor <= 0 || c.PenetrationCorrectionFactor > 1 {
		return fmt.Errorf("config: penetration_correction_factor must be in (0,1], got %f", c.PenetrationCorrectionFactor)
	}
	return nil
}

// LoadConfig reads a YAML file over DefaultConfig, so a partial file
// overrides only the keys it names.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
