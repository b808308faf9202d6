package inject

import (
	"context"

	"github.com/nar3128/swervepose/components/drivetrain"
	"github.com/nar3128/swervepose/kinematics"
)

// ModuleHardware is injected module hardware.
type ModuleHardware struct {
	drivetrain.ModuleHardware
	SetModuleTargetFunc     func(ctx context.Context, index int, target kinematics.ModuleState) error
	ModulePositionFunc      func(ctx context.Context, index int) (kinematics.ModulePosition, error)
	ModuleStateFunc         func(ctx context.Context, index int) (kinematics.ModuleState, error)
	ResetModuleDistanceFunc func(ctx context.Context, index int, distance float64) error
	SetBrakeModeFunc        func(ctx context.Context, brake bool) error
}

// SetModuleTarget calls the injected SetModuleTarget or the real version.
func (m *ModuleHardware) SetModuleTarget(ctx context.Context, index int, target kinematics.ModuleState) error {
	if m.SetModuleTargetFunc == nil {
		return m.ModuleHardware.SetModuleTarget(ctx, index, target)
	}
	return m.SetModuleTargetFunc(ctx, index, target)
}

// ModulePosition calls the injected ModulePosition or the real version.
func (m *ModuleHardware) ModulePosition(ctx context.Context, index int) (kinematics.ModulePosition, error) {
	if m.ModulePositionFunc == nil {
		return m.ModuleHardware.ModulePosition(ctx, index)
	}
	return m.ModulePositionFunc(ctx, index)
}

// ModuleState calls the injected ModuleState or the real version.
func (m *ModuleHardware) ModuleState(ctx context.Context, index int) (kinematics.ModuleState, error) {
	if m.ModuleStateFunc == nil {
		return m.ModuleHardware.ModuleState(ctx, index)
	}
	return m.ModuleStateFunc(ctx, index)
}

// ResetModuleDistance calls the injected ResetModuleDistance or the real version.
func (m *ModuleHardware) ResetModuleDistance(ctx context.Context, index int, distance float64) error {
	if m.ResetModuleDistanceFunc == nil {
		return m.ModuleHardware.ResetModuleDistance(ctx, index, distance)
	}
	return m.ResetModuleDistanceFunc(ctx, index, distance)
}

// SetBrakeMode calls the injected SetBrakeMode or the real version.
func (m *ModuleHardware) SetBrakeMode(ctx context.Context, brake bool) error {
	if m.SetBrakeModeFunc == nil {
		return m.ModuleHardware.SetBrakeMode(ctx, brake)
	}
	return m.SetBrakeModeFunc(ctx, brake)
}

// HeadingSource is an injected heading source.
type HeadingSource struct {
	drivetrain.HeadingSource
	HeadingFunc      func(ctx context.Context) (float64, error)
	ResetHeadingFunc func(ctx context.Context, heading float64) error
}

// Heading calls the injected Heading or the real version.
func (h *HeadingSource) Heading(ctx context.Context) (float64, error) {
	if h.HeadingFunc == nil {
		return h.HeadingSource.Heading(ctx)
	}
	return h.HeadingFunc(ctx)
}

// ResetHeading calls the injected ResetHeading or the real version.
func (h *HeadingSource) ResetHeading(ctx context.Context, heading float64) error {
	if h.ResetHeadingFunc == nil {
		return h.HeadingSource.ResetHeading(ctx, heading)
	}
	return h.ResetHeadingFunc(ctx, heading)
}
