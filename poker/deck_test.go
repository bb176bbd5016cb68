package poker

import (
	"testing"

	"github.com/feltworks/cardroom/internal/randutil"
)

func TestNewDeckDealsUniqueCards(t *testing.T) {
	t.Parallel()
	d := NewDeck(randutil.New(1))
	seen := make(map[Card]bool)
	for i := 0; i < 52; i++ {
		c := d.DealOne()
		if !c.Valid() {
			t.Fatalf("card %d invalid: %v", i, c)
		}
		if seen[c] {
			t.Fatalf("duplicate card dealt: %v", c)
		}
		seen[c] = true
	}
	if d.CardsRemaining() != 0 {
		t.Errorf("expected empty deck, %d remaining", d.CardsRemaining())
	}
	if c := d.DealOne(); c.Valid() {
		t.Errorf("dealing from empty deck returned %v", c)
	}
}

func TestDeckDeterministicBySeed(t *testing.T) {
	t.Parallel()
	a := NewDeck(randutil.New(42))
	b := NewDeck(randutil.New(42))
	for i := 0; i < 52; i++ {
		ca, cb := a.DealOne(), b.DealOne()
		if ca != cb {
			t.Fatalf("position %d differs: %v vs %v", i, ca, cb)
		}
	}

	c := NewDeck(randutil.New(43))
	d := NewDeck(randutil.New(42))
	same := true
	for i := 0; i < 52; i++ {
		if c.DealOne() != d.DealOne() {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical order")
	}
}

func TestDeckDealAndBurn(t *testing.T) {
	t.Parallel()
	d := NewDeck(randutil.New(7))

	hole := d.Deal(2)
	if len(hole) != 2 {
		t.Fatalf("Deal(2) returned %d cards", len(hole))
	}
	if d.CardsRemaining() != 50 {
		t.Errorf("expected 50 remaining, got %d", d.CardsRemaining())
	}

	d.Burn()
	flop := d.Deal(3)
	if len(flop) != 3 {
		t.Fatalf("Deal(3) returned %d cards", len(flop))
	}
	if d.CardsRemaining() != 46 {
		t.Errorf("expected 46 remaining, got %d", d.CardsRemaining())
	}

	if cards := d.Deal(47); cards != nil {
		t.Error("over-deal should return nil")
	}

	rest := d.Remaining()
	if len(rest) != 46 {
		t.Errorf("Remaining returned %d cards", len(rest))
	}
	// Remaining must be a copy, not a view.
	rest[0] = Card{}
	if !d.Remaining()[0].Valid() {
		t.Error("mutating Remaining() result affected the deck")
	}
}

func TestDeckShuffleRewinds(t *testing.T) {
	t.Parallel()
	d := NewDeck(randutil.New(99))
	d.Deal(20)
	d.Shuffle()
	if d.CardsRemaining() != 52 {
		t.Errorf("shuffle should rewind deck, got %d remaining", d.CardsRemaining())
	}
}

func TestNewDeckNilRNGPanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil rng")
		}
	}()
	NewDeck(nil)
}
