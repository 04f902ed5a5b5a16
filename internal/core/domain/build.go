package domain

import (
	"fmt"
	"time"
)

// BuildState is the lifecycle state of one build attempt.
type BuildState string

const (
	StateBuilding BuildState = "building"
	StateReady    BuildState = "ready"
	StateFailed   BuildState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s BuildState) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// CanTransition reports whether from -> to is allowed.
// Only building may move, and only to ready or failed.
func CanTransition(from, to BuildState) bool {
	return from == StateBuilding && to.Terminal()
}

// StepName identifies one stage of the image build, in execution order.
type StepName string

const (
	StepContext      StepName = "context"
	StepBaseImage    StepName = "base-image"
	StepOSPackages   StepName = "os-packages"
	StepDependencies StepName = "dependencies"
	StepSource       StepName = "source"
	StepExpose       StepName = "expose"
)

// Build records one attempt to turn a recipe into an image.
type Build struct {
	ID         string     `json:"id"`
	Recipe     string     `json:"recipe"`
	Image      string     `json:"image,omitempty"`
	State      BuildState `json:"state"`
	Step       StepName   `json:"step,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewBuild starts a build in the building state.
func NewBuild(id, recipe string, now time.Time) *Build {
	return &Build{ID: id, Recipe: recipe, State: StateBuilding, StartedAt: now}
}

// Succeed moves the build to ready with the produced image.
func (b *Build) Succeed(image string, now time.Time) error {
	if err := b.transition(StateReady); err != nil {
		return err
	}
	b.Image = image
	b.FinishedAt = &now
	return nil
}

// Fail moves the build to failed. A failed build has no image.
func (b *Build) Fail(step StepName, cause error, now time.Time) error {
	if err := b.transition(StateFailed); err != nil {
		return err
	}
	b.Image = ""
	b.Step = step
	if cause != nil {
		b.Error = cause.Error()
	}
	b.FinishedAt = &now
	return nil
}

func (b *Build) transition(to BuildState) error {
	if !CanTransition(b.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.State, to)
	}
	b.State = to
	return nil
}
