package pyramid

import "fmt"

// Grid is a dense row-major float32 image.
type Grid struct {
	Rows int
	Cols int
	Data []float32
}

// NewGrid allocates a zeroed grid.
func NewGrid(rows, cols int) *Grid {
	return &Grid{Rows: rows, Cols: cols, Data: make([]float32, rows*cols)}
}

// At returns the value at (row, col).
func (g *Grid) At(row, col int) float32 {
	return g.Data[row*g.Cols+col]
}

// Set stores v at (row, col).
func (g *Grid) Set(row, col int, v float32) {
	g.Data[row*g.Cols+col] = v
}

// Row returns row i as a slice aliasing the grid.
func (g *Grid) Row(i int) []float32 {
	return g.Data[i*g.Cols : (i+1)*g.Cols]
}

// CopyFrom overwrites g with src. Shapes must match.
func (g *Grid) CopyFrom(src *Grid) error {
	if src.Rows != g.Rows || src.Cols != g.Cols {
		return fmt.Errorf("grid shape mismatch: %dx%d into %dx%d", src.Rows, src.Cols, g.Rows, g.Cols)
	}
	copy(g.Data, src.Data)
	return nil
}

// Fill sets every element to v.
func (g *Grid) Fill(v float32) {
	for i := range g.Data {
		g.Data[i] = v
	}
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	out := &Grid{Rows: g.Rows, Cols: g.Cols, Data: make([]float32, len(g.Data))}
	copy(out.Data, g.Data)
	return out
}

// LevelBuffers are the buffers of one camera at one pyramid level.
type LevelBuffers struct {
	Rows int
	Cols int

	Depth *Grid
	X     *Grid
	Y     *Grid

	// Previous cycle's values, for temporal differencing.
	DepthOld *Grid
	XOld     *Grid
	YOld     *Grid

	// Estimator scratch space; nil on levels the estimator never visits.
	DepthWarped *Grid
	XWarped     *Grid
	YWarped     *Grid
}

// HasWarped reports whether warped buffers exist at this level.
func (b *LevelBuffers) HasWarped() bool {
	return b.DepthWarped != nil
}

// saveOld copies the current grids into the old grids.
func (b *LevelBuffers) saveOld() {
	copy(b.DepthOld.Data, b.Depth.Data)
	copy(b.XOld.Data, b.X.Data)
	copy(b.YOld.Data, b.Y.Data)
}

// FrameStore holds every camera's pyramid buffers. It is allocated once
// and overwritten in place.
type FrameStore struct {
	geom *Geometry
	cams [][]LevelBuffers
}

// NewFrameStore allocates buffers for numCameras pyramids shaped by g.
func NewFrameStore(g *Geometry, numCameras int) *FrameStore {
	s := &FrameStore{
		geom: g,
		cams: make([][]LevelBuffers, numCameras),
	}
	for c := range s.cams {
		s.cams[c] = make([]LevelBuffers, g.NumLevels())
		for i, lvl := range g.levels {
			b := LevelBuffers{
				Rows:     lvl.Rows,
				Cols:     lvl.Cols,
				Depth:    NewGrid(lvl.Rows, lvl.Cols),
				X:        NewGrid(lvl.Rows, lvl.Cols),
				Y:        NewGrid(lvl.Rows, lvl.Cols),
				DepthOld: NewGrid(lvl.Rows, lvl.Cols),
				XOld:     NewGrid(lvl.Rows, lvl.Cols),
				YOld:     NewGrid(lvl.Rows, lvl.Cols),
			}
			if lvl.Consumed {
				b.DepthWarped = NewGrid(lvl.Rows, lvl.Cols)
				b.XWarped = NewGrid(lvl.Rows, lvl.Cols)
				b.YWarped = NewGrid(lvl.Rows, lvl.Cols)
			}
			s.cams[c][i] = b
		}
	}
	return s
}

// Geometry returns the layout shared by every camera.
func (s *FrameStore) Geometry() *Geometry {
	return s.geom
}

// NumCameras returns the number of camera pyramids.
func (s *FrameStore) NumCameras() int {
	return len(s.cams)
}

// Level returns the buffers of camera cam at level.
func (s *FrameStore) Level(cam, level int) *LevelBuffers {
	return &s.cams[cam][level]
}

// SaveOld copies every level of camera cam into its old buffers.
func (s *FrameStore) SaveOld(cam int) {
	for i := range s.cams[cam] {
		s.cams[cam][i].saveOld()
	}
}

// View returns the estimator's view of the store.
func (s *FrameStore) View() View {
	return View{store: s}
}

// View is the hand-off of a completed cycle to the estimator. Current and
// old grids must be treated as read-only until the next cycle starts;
// warped grids are the estimator's to write.
type View struct {
	store *FrameStore
}

// Geometry returns the pyramid layout.
func (v View) Geometry() *Geometry {
	return v.store.geom
}

// NumCameras returns the number of cameras.
func (v View) NumCameras() int {
	return v.store.NumCameras()
}

// Current returns depth, x and y of camera cam at level.
func (v View) Current(cam, level int) (depth, x, y *Grid) {
	b := v.store.Level(cam, level)
	return b.Depth, b.X, b.Y
}

// Old returns the previous cycle's depth, x and y of camera cam at level.
func (v View) Old(cam, level int) (depth, x, y *Grid) {
	b := v.store.Level(cam, level)
	return b.DepthOld, b.XOld, b.YOld
}

// Warped returns the writable warped buffers, or nils on levels the
// estimator does not visit.
func (v View) Warped(cam, level int) (depth, x, y *Grid) {
	b := v.store.Level(cam, level)
	return b.DepthWarped, b.XWarped, b.YWarped
}
