package poker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fibonacciYAML = `
deck:
  id: fibonacci
  name: Fibonacci
  cards: [1, 2, 3, 5, 8, 13, 21, "?"]
`

func TestLoadDeckFromBytes(t *testing.T) {
	deck, err := LoadDeckFromBytes([]byte(fibonacciYAML))
	require.NoError(t, err)
	assert.Equal(t, "fibonacci", deck.ID)
	assert.Equal(t, "Fibonacci", deck.Name)
	require.Len(t, deck.Cards, 8)
	assert.Equal(t, NumericVote(1), deck.Cards[0])
	assert.Equal(t, NumericVote(21), deck.Cards[6])
	assert.True(t, deck.Cards[7].Unknown)
}

func TestLoadDeckFromBytes_InvalidCard(t *testing.T) {
	_, err := LoadDeckFromBytes([]byte(`
deck:
  id: broken
  name: Broken
  cards: [1, "huge"]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "number or \"?\"")
}

func TestLoadDeckFromBytes_InvalidYAML(t *testing.T) {
	_, err := LoadDeckFromBytes([]byte("deck: ["))
	assert.Error(t, err)
}

func TestDeckValidate(t *testing.T) {
	deck := &Deck{ID: "d", Name: "D", Cards: []VoteValue{NumericVote(1)}}
	assert.NoError(t, deck.Validate())

	deck = &Deck{Name: "D", Cards: []VoteValue{NumericVote(1)}}
	assert.Error(t, deck.Validate())

	deck = &Deck{ID: "d", Cards: []VoteValue{NumericVote(1)}}
	assert.Error(t, deck.Validate())

	// A deck of only uncertain cards is useless.
	deck = &Deck{ID: "d", Name: "D", Cards: []VoteValue{UnknownVote()}}
	assert.Error(t, deck.Validate())
}

func TestLoadDecksFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fib.yaml"), []byte(fibonacciYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pow.yml"), []byte(`
deck:
  id: powers-of-two
  name: Powers of Two
  cards: [1, 2, 4, 8, 16, 32, "?"]
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	decks, err := LoadDecksFromDir(dir)
	require.NoError(t, err)
	assert.Len(t, decks, 2)

	deck, ok := FindDeck(decks, "powers-of-two")
	require.True(t, ok)
	assert.Equal(t, "Powers of Two", deck.Name)

	_, ok = FindDeck(decks, "t-shirt")
	assert.False(t, ok)
}

func TestLoadDecksFromDir_DuplicateID(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(fibonacciYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(fibonacciYAML), 0o644))

	_, err := LoadDecksFromDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate deck id")
}

func TestLoadDecksFromDir_MissingDir(t *testing.T) {
	_, err := LoadDecksFromDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestDefaultDeck(t *testing.T) {
	deck := DefaultDeck()
	require.NoError(t, deck.Validate())
	assert.Equal(t, "fibonacci", deck.ID)
	require.Len(t, deck.Cards, 8)
	assert.True(t, deck.Cards[7].Unknown)
}
