package poker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Deck is an estimation card deck offered to clients when they enter a
// room. Decks are content, loaded from YAML files at startup.
type Deck struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	// Cards lists the playable values in display order. The uncertain
	// card is written as "?" in deck files and encodes as null on the wire.
	Cards []VoteValue `json:"cards" yaml:"cards"`
}

// yamlDeckFile is the top-level YAML structure for deck files.
type yamlDeckFile struct {
	Deck Deck `yaml:"deck"`
}

// Validate checks the deck invariants.
//
// Postcondition: Returns nil if the deck is usable, or an error naming
// the first violation.
func (d *Deck) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("deck id must not be empty")
	}
	if d.Name == "" {
		return fmt.Errorf("deck %s: name must not be empty", d.ID)
	}
	numeric := 0
	for _, c := range d.Cards {
		if !c.Unknown {
			numeric++
		}
	}
	if numeric == 0 {
		return fmt.Errorf("deck %s: must contain at least one numeric card", d.ID)
	}
	return nil
}

// DefaultDeck returns the built-in Fibonacci deck, used when no deck
// directory is configured.
func DefaultDeck() *Deck {
	return &Deck{
		ID:   "fibonacci",
		Name: "Fibonacci",
		Cards: []VoteValue{
			NumericVote(1), NumericVote(2), NumericVote(3), NumericVote(5),
			NumericVote(8), NumericVote(13), NumericVote(21), UnknownVote(),
		},
	}
}

// LoadDeckFromBytes parses and validates a deck from YAML bytes.
//
// Postcondition: Returns a validated Deck or a non-nil error.
func LoadDeckFromBytes(data []byte) (*Deck, error) {
	var file yamlDeckFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing deck YAML: %w", err)
	}
	deck := file.Deck
	if err := deck.Validate(); err != nil {
		return nil, fmt.Errorf("validating deck: %w", err)
	}
	return &deck, nil
}

// LoadDeckFromFile reads and validates a single deck YAML file.
//
// Precondition: path must point to a valid YAML deck file.
// Postcondition: Returns a validated Deck or a non-nil error.
func LoadDeckFromFile(path string) (*Deck, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading deck file %s: %w", path, err)
	}
	deck, err := LoadDeckFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("deck file %s: %w", path, err)
	}
	return deck, nil
}

// LoadDecksFromDir loads all YAML files in a directory as decks.
//
// Precondition: dir must be a valid directory path.
// Postcondition: Returns all validated decks, or the first error
// encountered. Deck ids must be unique across the directory.
func LoadDecksFromDir(dir string) ([]*Deck, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading deck directory %s: %w", dir, err)
	}

	var decks []*Deck
	seen := make(map[string]string) // deck id → file
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, name)
		deck, err := LoadDeckFromFile(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[deck.ID]; dup {
			return nil, fmt.Errorf("duplicate deck id %q in %s (already defined in %s)", deck.ID, path, prev)
		}
		seen[deck.ID] = path
		decks = append(decks, deck)
	}
	return decks, nil
}

// FindDeck returns the deck with the given id.
//
// Postcondition: Returns (deck, true) if found, or (nil, false) otherwise.
func FindDeck(decks []*Deck, id string) (*Deck, bool) {
	for _, d := range decks {
		if d.ID == id {
			return d, true
		}
	}
	return nil, false
}
