package anchor

// Camera is a view-projection matrix in column-major order plus the viewport
// size in pixels
type Camera struct {
	Matrix [16]float64
	Width  float64
	Height float64
}

// Project maps world through the camera to viewport pixels. Points behind
// the camera are not visible.
func (c Camera) Project(world Vector3) (ScreenPoint, bool) {
	m := c.Matrix
	x := m[0]*world.X + m[4]*world.Y + m[8]*world.Z + m[12]
	y := m[1]*world.X + m[5]*world.Y + m[9]*world.Z + m[13]
	w := m[3]*world.X + m[7]*world.Y + m[11]*world.Z + m[15]
	if w <= 0 || c.Width <= 0 || c.Height <= 0 {
		return ScreenPoint{}, false
	}

	ndcX := x / w
	ndcY := y / w
	return ScreenPoint{
		X: (ndcX + 1) / 2 * c.Width,
		Y: (1 - ndcY) / 2 * c.Height,
	}, true
}
