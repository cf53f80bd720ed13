// Package crawl is the bundled dungeon behind the game contracts: themed
// grid floors carved from a seed, a small set of party actions, and a
// monster turn that runs once the party's round budget is spent. The
// coordination layer never imports this package; the composition root wires
// its constructors in through the session collaborator factories.
package crawl

import (
	"errors"
	"fmt"

	"github.com/cory-johannsen/crawld/internal/game"
)

// Library holds the validated themes a server generates floors from. Its
// method values satisfy the session collaborator factory signatures, so a
// Library is the only handle the composition root needs.
type Library struct {
	themes []*Theme
	byName map[string]*Theme
}

// NewLibrary builds a library from validated themes.
//
// Precondition: themes must be non-empty; every theme must pass Validate
// and carry a unique ID and Name.
func NewLibrary(themes []*Theme) (*Library, error) {
	if len(themes) == 0 {
		return nil, errors.New("library needs at least one theme")
	}
	byID := make(map[string]bool, len(themes))
	byName := make(map[string]*Theme, len(themes))
	for _, t := range themes {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if byID[t.ID] {
			return nil, fmt.Errorf("duplicate theme ID %q", t.ID)
		}
		byID[t.ID] = true
		if _, exists := byName[t.Name]; exists {
			return nil, fmt.Errorf("duplicate theme name %q", t.Name)
		}
		byName[t.Name] = t
	}
	return &Library{themes: themes, byName: byName}, nil
}

// Themes returns the library's themes in registration order.
func (l *Library) Themes() []*Theme {
	out := make([]*Theme, len(l.themes))
	copy(out, l.themes)
	return out
}

// NewGenerator returns a fresh map generator over this library. One
// generator serves one session.
func (l *Library) NewGenerator() game.MapGenerator {
	return NewGenerator(l)
}

// NewState builds the world for a generated floor. The floor's name
// identifies the theme that generated it.
func (l *Library) NewState(floor *game.Floor, seed int64) (game.State, error) {
	theme, ok := l.byName[floor.Name]
	if !ok {
		return nil, fmt.Errorf("no theme named %q in the library", floor.Name)
	}
	return NewWorld(floor, seed, theme)
}

// NewTurns builds the monster turn system for a generated floor.
func (l *Library) NewTurns(floor *game.Floor, seed int64) game.TurnSystem {
	return NewMonsterTurns(floor, seed)
}

// DefaultTheme is the compiled-in theme used when no theme directory is
// configured.
func DefaultTheme() *Theme {
	return &Theme{
		ID:           "catacombs",
		Name:         "Forgotten Catacombs",
		Width:        24,
		Height:       16,
		WallDensity:  0.12,
		PlayerHP:     defaultPlayerHP,
		PlayerAttack: defaultPlayerAttack,
		Monsters: []MonsterSpec{
			{Name: "skeleton", Count: 4, MaxHP: 6, Damage: 2},
			{Name: "giant rat", Count: 3, MaxHP: 3, Damage: 1},
		},
		Items: []ItemSpec{
			{Name: "healing draught", Count: 3, Heal: 5},
		},
	}
}
