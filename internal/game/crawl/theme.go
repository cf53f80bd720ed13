package crawl

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied when a theme omits the player block.
const (
	defaultPlayerHP     = 12
	defaultPlayerAttack = 3
)

// MonsterSpec describes one monster archetype a theme populates the floor
// with.
type MonsterSpec struct {
	// Name is the display name, also used to derive entity ids.
	Name string
	// Count is how many instances spawn on generation.
	Count int
	// MaxHP is the starting and maximum hit points per instance.
	MaxHP int
	// Damage is the flat damage dealt by one strike.
	Damage int
}

// ItemSpec describes one consumable item a theme scatters on the floor.
type ItemSpec struct {
	// Name is the display name, also the key players carry it under.
	Name string
	// Count is how many instances spawn on generation.
	Count int
	// Heal is the hit points restored when the item is used.
	Heal int
}

// Theme is one floor archetype: grid dimensions, how dense the walls are,
// and the roster of monsters and items seeded onto it.
type Theme struct {
	// ID uniquely identifies the theme within a library.
	ID string
	// Name is the display name, carried on generated floors.
	Name string
	// Width and Height are the grid dimensions including the sealed border.
	Width  int
	Height int
	// WallDensity is the fraction of interior cells turned to wall, in
	// [0, 0.5].
	WallDensity float64
	// PlayerHP is the starting and maximum hit points for party members.
	PlayerHP int
	// PlayerAttack is the flat damage a player's strike deals.
	PlayerAttack int
	// Monsters is the roster seeded onto the floor. At least one entry.
	Monsters []MonsterSpec
	// Items are the consumables scattered on the floor. May be empty.
	Items []ItemSpec
}

// placements is the number of cells the roster occupies at generation.
func (t *Theme) placements() int {
	total := 0
	for _, m := range t.Monsters {
		total += m.Count
	}
	for _, i := range t.Items {
		total += i.Count
	}
	return total
}

// Validate checks theme invariants.
//
// Postcondition: Returns nil if valid, or an error describing the first violation.
func (t *Theme) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("theme ID must not be empty")
	}
	if t.Name == "" {
		return fmt.Errorf("theme %q: name must not be empty", t.ID)
	}
	if t.Width < 8 || t.Width > 256 {
		return fmt.Errorf("theme %q: width must be 8-256, got %d", t.ID, t.Width)
	}
	if t.Height < 8 || t.Height > 256 {
		return fmt.Errorf("theme %q: height must be 8-256, got %d", t.ID, t.Height)
	}
	if t.WallDensity < 0 || t.WallDensity > 0.5 {
		return fmt.Errorf("theme %q: wall_density must be in [0, 0.5], got %g", t.ID, t.WallDensity)
	}
	if t.PlayerHP < 1 {
		return fmt.Errorf("theme %q: player_hp must be >= 1, got %d", t.ID, t.PlayerHP)
	}
	if t.PlayerAttack < 1 {
		return fmt.Errorf("theme %q: player_attack must be >= 1, got %d", t.ID, t.PlayerAttack)
	}
	if len(t.Monsters) == 0 {
		return fmt.Errorf("theme %q: must list at least one monster", t.ID)
	}
	seenMonsters := make(map[string]bool, len(t.Monsters))
	for _, m := range t.Monsters {
		if m.Name == "" {
			return fmt.Errorf("theme %q: monster name must not be empty", t.ID)
		}
		if seenMonsters[m.Name] {
			return fmt.Errorf("theme %q: duplicate monster name %q", t.ID, m.Name)
		}
		seenMonsters[m.Name] = true
		if m.Count < 1 {
			return fmt.Errorf("theme %q: monster %q: count must be >= 1, got %d", t.ID, m.Name, m.Count)
		}
		if m.MaxHP < 1 {
			return fmt.Errorf("theme %q: monster %q: max_hp must be >= 1, got %d", t.ID, m.Name, m.MaxHP)
		}
		if m.Damage < 1 {
			return fmt.Errorf("theme %q: monster %q: damage must be >= 1, got %d", t.ID, m.Name, m.Damage)
		}
	}
	seenItems := make(map[string]bool, len(t.Items))
	for _, i := range t.Items {
		if i.Name == "" {
			return fmt.Errorf("theme %q: item name must not be empty", t.ID)
		}
		if seenItems[i.Name] {
			return fmt.Errorf("theme %q: duplicate item name %q", t.ID, i.Name)
		}
		seenItems[i.Name] = true
		if i.Count < 1 {
			return fmt.Errorf("theme %q: item %q: count must be >= 1, got %d", t.ID, i.Name, i.Count)
		}
		if i.Heal < 1 {
			return fmt.Errorf("theme %q: item %q: heal must be >= 1, got %d", t.ID, i.Name, i.Heal)
		}
	}

	// The roster must leave room to walk even on the densest allowed carve.
	interior := (t.Width - 2) * (t.Height - 2)
	capacity := int(float64(interior) * (1 - t.WallDensity) / 2)
	if t.placements() > capacity {
		return fmt.Errorf("theme %q: roster of %d does not fit a %dx%d floor", t.ID, t.placements(), t.Width, t.Height)
	}
	return nil
}

// yamlThemeFile is the top-level YAML structure for theme files.
type yamlThemeFile struct {
	Theme yamlTheme `yaml:"theme"`
}

// yamlTheme is the YAML representation of a theme.
type yamlTheme struct {
	ID           string        `yaml:"id"`
	Name         string        `yaml:"name"`
	Width        int           `yaml:"width"`
	Height       int           `yaml:"height"`
	WallDensity  float64       `yaml:"wall_density"`
	PlayerHP     int           `yaml:"player_hp"`
	PlayerAttack int           `yaml:"player_attack"`
	Monsters     []yamlMonster `yaml:"monsters"`
	Items        []yamlItem    `yaml:"items"`
}

// yamlMonster is the YAML representation of a monster spec.
type yamlMonster struct {
	Name   string `yaml:"name"`
	Count  int    `yaml:"count"`
	MaxHP  int    `yaml:"max_hp"`
	Damage int    `yaml:"damage"`
}

// yamlItem is the YAML representation of an item spec.
type yamlItem struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
	Heal  int    `yaml:"heal"`
}

// LoadThemeFromFile reads and validates a single theme YAML file.
//
// Precondition: path must point to a valid YAML theme file.
// Postcondition: Returns a validated Theme or a non-nil error.
func LoadThemeFromFile(path string) (*Theme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading theme file %s: %w", path, err)
	}
	return LoadThemeFromBytes(data)
}

// LoadThemeFromBytes parses and validates a theme from YAML bytes.
//
// Precondition: data must be valid YAML conforming to the theme schema.
// Postcondition: Returns a validated Theme or a non-nil error. Omitted
// player_hp, player_attack, and count fields carry their defaults.
func LoadThemeFromBytes(data []byte) (*Theme, error) {
	var file yamlThemeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing theme YAML: %w", err)
	}

	theme := convertYAMLTheme(file.Theme)
	if err := theme.Validate(); err != nil {
		return nil, fmt.Errorf("validating theme: %w", err)
	}

	return theme, nil
}

// LoadThemes loads all YAML files in a directory as themes.
//
// Precondition: dir must be a valid directory path.
// Postcondition: Returns all validated themes or the first error encountered.
func LoadThemes(dir string) ([]*Theme, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading theme directory %s: %w", dir, err)
	}

	var themes []*Theme
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		theme, err := LoadThemeFromFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loading theme from %s: %w", name, err)
		}
		themes = append(themes, theme)
	}

	if len(themes) == 0 {
		return nil, fmt.Errorf("no theme files found in %s", dir)
	}

	return themes, nil
}

// convertYAMLTheme converts the parsed YAML structures into domain types,
// filling defaults for omitted player stats and counts.
func convertYAMLTheme(yt yamlTheme) *Theme {
	theme := &Theme{
		ID:           yt.ID,
		Name:         yt.Name,
		Width:        yt.Width,
		Height:       yt.Height,
		WallDensity:  yt.WallDensity,
		PlayerHP:     yt.PlayerHP,
		PlayerAttack: yt.PlayerAttack,
	}
	if theme.PlayerHP == 0 {
		theme.PlayerHP = defaultPlayerHP
	}
	if theme.PlayerAttack == 0 {
		theme.PlayerAttack = defaultPlayerAttack
	}

	for _, ym := range yt.Monsters {
		m := MonsterSpec{
			Name:   ym.Name,
			Count:  ym.Count,
			MaxHP:  ym.MaxHP,
			Damage: ym.Damage,
		}
		if m.Count == 0 {
			m.Count = 1
		}
		theme.Monsters = append(theme.Monsters, m)
	}
	for _, yi := range yt.Items {
		i := ItemSpec{
			Name:  yi.Name,
			Count: yi.Count,
			Heal:  yi.Heal,
		}
		if i.Count == 0 {
			i.Count = 1
		}
		theme.Items = append(theme.Items, i)
	}

	return theme
}
