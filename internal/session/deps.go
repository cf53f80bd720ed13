package session

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"time"

	"github.com/cory-johannsen/crawld/internal/game"
)

// Deps supplies the world-building collaborators a session needs when it
// leaves the lobby. The factories run once per session start so that every
// session owns an isolated world seeded independently of its neighbors.
type Deps struct {
	// NewGenerator builds the map generator used to lay out the floor and
	// choose spawn positions.
	NewGenerator func() game.MapGenerator

	// NewState builds the authoritative world state for a generated floor.
	NewState func(floor *game.Floor, seed int64) (game.State, error)

	// NewTurns builds the turn system that advances the environment at the
	// end of each round.
	NewTurns func(floor *game.Floor, seed int64) game.TurnSystem

	// Seed produces the session seed. Defaults to a crypto/rand source.
	Seed func() int64

	// Clock reports the current time. Defaults to time.Now. Tests inject a
	// fake clock to drive disconnect deadlines and grace periods.
	Clock func() time.Time
}

func (d *Deps) validate() error {
	if d.NewGenerator == nil {
		return errors.New("session: Deps.NewGenerator is required")
	}
	if d.NewState == nil {
		return errors.New("session: Deps.NewState is required")
	}
	if d.NewTurns == nil {
		return errors.New("session: Deps.NewTurns is required")
	}
	return nil
}

func (d *Deps) applyDefaults() {
	if d.Seed == nil {
		d.Seed = cryptoSeed
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
}

// cryptoSeed draws 64 bits from the operating system's entropy pool. The
// clock fallback only matters on platforms where crypto/rand is broken,
// and a weakly seeded dungeon is still a playable dungeon.
func cryptoSeed() int64 {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
}
