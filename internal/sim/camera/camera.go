// Package camera is a yaw/pitch fly camera producing the combined
// projection*view*model matrix the streamer culls against.
package camera

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"terrainstream.ai/internal/sim/tuning"
)

type Movement int

const (
	Forward Movement = iota
	Backward
	Left
	Right
	Up
	Down
)

var worldUp = mgl32.Vec3{0, 1, 0}

type Camera struct {
	Position mgl32.Vec3
	// Degrees. Yaw -90 looks down -Z.
	Yaw   float32
	Pitch float32
	Speed float32
}

func New(pos mgl32.Vec3, speed float32) *Camera {
	return &Camera{Position: pos, Yaw: -90, Speed: speed}
}

func (c *Camera) Front() mgl32.Vec3 {
	yaw := float64(mgl32.DegToRad(c.Yaw))
	pitch := float64(mgl32.DegToRad(c.Pitch))
	return mgl32.Vec3{
		float32(math.Cos(yaw) * math.Cos(pitch)),
		float32(math.Sin(pitch)),
		float32(math.Sin(yaw) * math.Cos(pitch)),
	}.Normalize()
}

func (c *Camera) right() mgl32.Vec3 { return c.Front().Cross(worldUp).Normalize() }

// Move advances the camera by Speed*dt along m.
func (c *Camera) Move(m Movement, dt float32) {
	v := c.Speed * dt
	switch m {
	case Forward:
		c.Position = c.Position.Add(c.Front().Mul(v))
	case Backward:
		c.Position = c.Position.Sub(c.Front().Mul(v))
	case Left:
		c.Position = c.Position.Sub(c.right().Mul(v))
	case Right:
		c.Position = c.Position.Add(c.right().Mul(v))
	case Up:
		c.Position = c.Position.Add(worldUp.Mul(v))
	case Down:
		c.Position = c.Position.Sub(worldUp.Mul(v))
	}
}

// Turn adds yaw and pitch in degrees; pitch is held inside (-89, 89).
func (c *Camera) Turn(dYaw, dPitch float32) {
	c.Yaw += dYaw
	c.Pitch += dPitch
	if c.Pitch > 89 {
		c.Pitch = 89
	}
	if c.Pitch < -89 {
		c.Pitch = -89
	}
}

func (c *Camera) View() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position, c.Position.Add(c.Front()), worldUp)
}

func Projection(p tuning.Camera) mgl32.Mat4 {
	return mgl32.Perspective(mgl32.DegToRad(p.FovDeg), p.AspectW/p.AspectH, p.Near, p.Far)
}

func Model(p tuning.Camera) mgl32.Mat4 {
	return mgl32.Translate3D(0, p.ModelOffsetY, 0)
}

// Combined returns projection*view*model for this camera.
func (c *Camera) Combined(p tuning.Camera) mgl32.Mat4 {
	return Projection(p).Mul4(c.View()).Mul4(Model(p))
}
