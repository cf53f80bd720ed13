// Package game defines the contracts between the session coordination layer
// and the game logic that runs underneath it. The coordination packages only
// ever see these interfaces; the bundled crawl implementation lives in the
// crawl subpackage and is wired in at the composition root.
package game

// Result codes reported by State.GameOver.
const (
	ResultVictory = "victory"
	ResultDefeat  = "defeat"
)

// Outcome describes what an applied action or environment turn did, in
// client-presentable terms.
type Outcome struct {
	// Events are human-readable lines in the order they occurred.
	Events []string
}

// Context carries what an action or an environment turn may consult while it
// runs. It is built by the session for each application.
type Context struct {
	// State is the shared game state the action runs against.
	State State
	// ActorID identifies the player entity performing the action.
	// Empty for environment turns.
	ActorID string
	// Round is the current round number.
	Round int
}

// Action is one opaque game action decoded from the wire.
//
// Invariant: Validate must not mutate state. Execute is only called after a
// successful Validate, and the pair runs as one atomic step on the session's
// goroutine. An Execute that returns an error must leave state unchanged.
type Action interface {
	// Validate reports whether the action is legal in the given context.
	Validate(ctx Context) error
	// Execute applies the action and returns what happened.
	Execute(ctx Context) (Outcome, error)
}

// State is one session's shared game state. It is mutated only from the
// owning session's goroutine; clients of the coordination layer only ever
// receive copies of the entities it reports.
type State interface {
	// SpawnPlayer places a new player entity at the given position, or as
	// close to it as the floor allows when the cell is taken.
	SpawnPlayer(id, name string, pos Coord) error
	// RemovePlayer removes a player entity, dropping anything it carried.
	RemovePlayer(id string) error
	// Player returns the entity for the given player id.
	Player(id string) (Entity, bool)
	// Entities returns copies of every live entity.
	Entities() []Entity
	// Apply validates nothing; it runs a previously validated action.
	Apply(ctx Context, a Action) (Outcome, error)
	// GameOver reports whether the run has ended and with which result.
	GameOver() (bool, string)
}

// MapGenerator produces one floor per session from a seed.
//
// Precondition for SpawnPositions: Generate must have been called first.
type MapGenerator interface {
	// Generate builds the floor for the given seed.
	Generate(seed int64) (*Floor, error)
	// SpawnPositions returns n distinct walkable coordinates on the
	// generated floor.
	SpawnPositions(n int) ([]Coord, error)
}

// TurnSystem runs the environment's share of a round: monsters, hazards,
// whatever acts when the party's budget is spent.
type TurnSystem interface {
	// ProcessRound advances the environment by one turn and reports what
	// happened in client-presentable terms.
	ProcessRound(ctx Context) (Outcome, error)
}
