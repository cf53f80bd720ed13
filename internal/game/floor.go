package game

// Tile glyphs used in Floor rows.
const (
	TileWall  = '#'
	TileOpen  = '.'
	TileStair = '>'
)

// Floor is one generated dungeon floor. The layout is static for the life of
// a session and is sent to clients once in full STATE payloads; it never
// participates in delta diffing.
type Floor struct {
	// Name is the display name of the floor's theme.
	Name string `json:"name"`
	// Width and Height are the grid dimensions.
	Width  int `json:"width"`
	Height int `json:"height"`
	// Tiles is the row-major layout, one string per row, Height rows of
	// Width glyphs each.
	Tiles []string `json:"tiles"`
}

// InBounds reports whether c lies on the grid.
func (f *Floor) InBounds(c Coord) bool {
	return c.X >= 0 && c.X < f.Width && c.Y >= 0 && c.Y < f.Height
}

// Walkable reports whether c is on the grid and not a wall.
func (f *Floor) Walkable(c Coord) bool {
	if !f.InBounds(c) {
		return false
	}
	return f.Tiles[c.Y][c.X] != TileWall
}

// OpenCells returns every walkable coordinate in row-major order.
func (f *Floor) OpenCells() []Coord {
	var open []Coord
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			if f.Tiles[y][x] != TileWall {
				open = append(open, Coord{X: x, Y: y})
			}
		}
	}
	return open
}
