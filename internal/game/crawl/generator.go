package crawl

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/cory-johannsen/crawld/internal/game"
)

const (
	// maxCarveAttempts bounds how many layouts one Generate call tries
	// before giving up on a seed.
	maxCarveAttempts = 16
	// spawnReserve is the number of open cells kept clear of roster
	// placements so a full party still finds footing.
	spawnReserve = 4
)

// Generator lays out one floor per session. Generate picks the theme for
// the seed, carves the grid, and seals off every pocket that is not part of
// the largest open region, so all open cells end up mutually reachable.
type Generator struct {
	library *Library
	floor   *game.Floor
	region  []game.Coord
	rng     *rand.Rand
}

// NewGenerator returns a generator over the library's themes.
func NewGenerator(library *Library) *Generator {
	return &Generator{library: library}
}

// Generate carves the floor for the given seed. The same seed always
// produces the same floor.
func (g *Generator) Generate(seed int64) (*game.Floor, error) {
	g.rng = rand.New(rand.NewSource(seed))
	theme := g.library.themes[g.rng.Intn(len(g.library.themes))]

	need := theme.placements() + spawnReserve
	for attempt := 0; attempt < maxCarveAttempts; attempt++ {
		grid := carve(theme, g.rng)
		region := largestOpenRegion(grid)
		if len(region) < need {
			continue
		}
		sealOutside(grid, region)
		placeStair(grid, region, g.rng)
		g.floor = &game.Floor{
			Name:   theme.Name,
			Width:  theme.Width,
			Height: theme.Height,
			Tiles:  gridRows(grid),
		}
		g.region = region
		return g.floor, nil
	}
	return nil, fmt.Errorf("theme %q: no playable layout after %d carves with seed %d", theme.ID, maxCarveAttempts, seed)
}

// SpawnPositions returns n distinct walkable coordinates on the generated
// floor.
//
// Precondition: Generate must have been called first.
func (g *Generator) SpawnPositions(n int) ([]game.Coord, error) {
	if g.floor == nil {
		return nil, errors.New("Generate must run before SpawnPositions")
	}
	if n < 1 {
		return nil, fmt.Errorf("need at least one spawn position, got %d", n)
	}
	if n > len(g.region) {
		return nil, fmt.Errorf("floor %q has %d open cells, cannot seat %d spawns", g.floor.Name, len(g.region), n)
	}

	perm := g.rng.Perm(len(g.region))
	out := make([]game.Coord, n)
	for i := range out {
		out[i] = g.region[perm[i]]
	}
	return out, nil
}

// carve lays down the sealed border and turns interior cells to wall at the
// theme's density.
func carve(theme *Theme, rng *rand.Rand) [][]byte {
	grid := make([][]byte, theme.Height)
	for y := range grid {
		row := make([]byte, theme.Width)
		for x := range row {
			switch {
			case x == 0 || y == 0 || x == theme.Width-1 || y == theme.Height-1:
				row[x] = game.TileWall
			case rng.Float64() < theme.WallDensity:
				row[x] = game.TileWall
			default:
				row[x] = game.TileOpen
			}
		}
		grid[y] = row
	}
	return grid
}

// largestOpenRegion returns the biggest 4-connected component of open cells.
func largestOpenRegion(grid [][]byte) []game.Coord {
	seen := make([][]bool, len(grid))
	for y := range seen {
		seen[y] = make([]bool, len(grid[y]))
	}

	var best []game.Coord
	for y := range grid {
		for x := range grid[y] {
			if grid[y][x] == game.TileWall || seen[y][x] {
				continue
			}
			region := flood(grid, seen, x, y)
			if len(region) > len(best) {
				best = region
			}
		}
	}
	return best
}

// flood walks the open component containing (x, y), marking it in seen.
func flood(grid [][]byte, seen [][]bool, x, y int) []game.Coord {
	seen[y][x] = true
	queue := []game.Coord{{X: x, Y: y}}
	var region []game.Coord
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		region = append(region, c)
		for _, d := range [...][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			nx, ny := c.X+d[0], c.Y+d[1]
			if ny < 0 || ny >= len(grid) || nx < 0 || nx >= len(grid[ny]) {
				continue
			}
			if grid[ny][nx] == game.TileWall || seen[ny][nx] {
				continue
			}
			seen[ny][nx] = true
			queue = append(queue, game.Coord{X: nx, Y: ny})
		}
	}
	return region
}

// sealOutside turns every open cell outside the kept region to wall.
func sealOutside(grid [][]byte, region []game.Coord) {
	keep := make(map[game.Coord]bool, len(region))
	for _, c := range region {
		keep[c] = true
	}
	for y := range grid {
		for x := range grid[y] {
			if grid[y][x] != game.TileWall && !keep[game.Coord{X: x, Y: y}] {
				grid[y][x] = game.TileWall
			}
		}
	}
}

// placeStair marks one region cell as the stairway down. Purely cosmetic on
// a single floor; the stair stays walkable.
func placeStair(grid [][]byte, region []game.Coord, rng *rand.Rand) {
	c := region[rng.Intn(len(region))]
	grid[c.Y][c.X] = game.TileStair
}

func gridRows(grid [][]byte) []string {
	rows := make([]string, len(grid))
	for y, row := range grid {
		rows[y] = string(row)
	}
	return rows
}
