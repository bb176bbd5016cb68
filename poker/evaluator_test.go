package poker

import (
	"testing"
)

func mustEvaluate(t *testing.T, s string) HandRank {
	t.Helper()
	rank, err := Evaluate(MustParseCards(s))
	if err != nil {
		t.Fatalf("Evaluate(%q): %v", s, err)
	}
	return rank
}

func TestEvaluateCategories(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		cards string
		want  Category
	}{
		{name: "royal flush", cards: "AsKsQsJsTs", want: RoyalFlush},
		{name: "straight flush", cards: "9h8h7h6h5h", want: StraightFlush},
		{name: "steel wheel", cards: "Ad5d4d3d2d", want: StraightFlush},
		{name: "four of a kind", cards: "AcAdAhAs9c", want: FourOfAKind},
		{name: "full house", cards: "KcKdKhQsQc", want: FullHouse},
		{name: "flush", cards: "AcJc8c5c2c", want: Flush},
		{name: "straight", cards: "9c8d7h6s5c", want: Straight},
		{name: "wheel", cards: "Ac5d4h3s2c", want: Straight},
		{name: "three of a kind", cards: "7c7d7hKs2c", want: ThreeOfAKind},
		{name: "two pair", cards: "AcAdKhKs2c", want: TwoPair},
		{name: "pair", cards: "QcQd9h5s2c", want: Pair},
		{name: "high card", cards: "AcJd9h5s2c", want: HighCard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rank := mustEvaluate(t, tt.cards)
			if rank.Category() != tt.want {
				t.Errorf("category = %v, want %v", rank.Category(), tt.want)
			}
		})
	}
}

func TestEvaluateTotalOrderAcrossCategories(t *testing.T) {
	t.Parallel()
	// Best to worst; every entry must strictly beat the next.
	hands := []string{
		"AsKsQsJsTs", // royal flush
		"9h8h7h6h5h", // straight flush
		"Ad5d4d3d2d", // steel wheel (lowest straight flush)
		"AcAdAhAs9c", // quads
		"2c2d2h2s3c", // lowest quads
		"AcAdAhKsKc", // full house
		"2c2d2h3s3c", // lowest full house
		"AcJc8c5c2c", // flush
		"7c5c4c3c2c", // lowest flush
		"AcKdQhJsTc", // broadway straight
		"Ac5d4h3s2c", // wheel
		"AcAdAh9s2c", // trips
		"AcAdKhKs2c", // two pair
		"3c3d2h2s4c", // lowest two pair
		"AcAd9h5s2c", // pair
		"2c2d5h4s3c", // lowest pair
		"AcKdQhJs9c", // high card
		"7c5d4h3s2c", // worst hand
	}
	prev := HandRank(1 << 30)
	for _, h := range hands {
		rank := mustEvaluate(t, h)
		if rank >= prev {
			t.Errorf("%q (rank %d) should be weaker than the previous hand (rank %d)", h, rank, prev)
		}
		prev = rank
	}
}

func TestEvaluateKickers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		better, worse string
	}{
		{name: "higher pair of two", better: "AcAdKhKs2c", worse: "AcAdQhQs2c"},
		{name: "two pair kicker", better: "AcAdKhKsQc", worse: "AcAdKhKsJc"},
		{name: "pair kicker chain", better: "QcQdAh9s2c", worse: "QcQdKh9s2c"},
		{name: "quad kicker", better: "7c7d7h7sAc", worse: "7c7d7h7sKc"},
		{name: "flush second card", better: "AcQc8c5c2c", worse: "AcJc8c5c2c"},
		{name: "full house pair part", better: "KcKdKhQsQc", worse: "KcKdKhJsJc"},
		{name: "straight high card", better: "Tc9d8h7s6c", worse: "9c8d7h6s5c"},
		{name: "six high beats wheel", better: "6c5d4h3s2c", worse: "Ac5d4h3s2c"},
		{name: "high card fifth card", better: "AcKdQhJs9c", worse: "AcKdQhJs8c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := mustEvaluate(t, tt.better)
			w := mustEvaluate(t, tt.worse)
			if b <= w {
				t.Errorf("%q (rank %d) should beat %q (rank %d)", tt.better, b, tt.worse, w)
			}
		})
	}
}

func TestEvaluateTies(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		a, b string
	}{
		{name: "suits do not matter", a: "AcKdQhJs9c", b: "AdKhQsJc9d"},
		{name: "same straight different suits", a: "9c8d7h6s5c", b: "9d8h7s6c5d"},
		{name: "same two pair", a: "AcAdKhKsQc", b: "AhAsKcKdQd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ra := mustEvaluate(t, tt.a)
			rb := mustEvaluate(t, tt.b)
			if ra != rb {
				t.Errorf("%q (%d) and %q (%d) should tie", tt.a, ra, tt.b, rb)
			}
		})
	}
}

func TestEvaluateBestOfSeven(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		cards string
		want  Category
	}{
		{name: "board flush beats hole pair", cards: "AhAd KcQc8c5c2c", want: Flush},
		{name: "hidden boat on paired board", cards: "7c7d 7hKsKc2d3h", want: FullHouse},
		{name: "straight using one hole card", cards: "9cAd 8d7h6s5c2h", want: Straight},
		{name: "counterfeited two pair plays trips", cards: "2c2d QhQsQc9d8h", want: FullHouse},
		{name: "six cards", cards: "AcAd AhKsQc2d", want: ThreeOfAKind},
		{name: "seven high card cards", cards: "AcJd 9h5s2c3d7h", want: HighCard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rank := mustEvaluate(t, tt.cards)
			if rank.Category() != tt.want {
				t.Errorf("category = %v, want %v", rank.Category(), tt.want)
			}
		})
	}
}

func TestEvaluateBoardPlays(t *testing.T) {
	t.Parallel()
	board := "AcKcQcJcTc" // royal flush on board
	p1 := mustEvaluate(t, "2d3d"+board)
	p2 := mustEvaluate(t, "9h8h"+board)
	if p1 != p2 {
		t.Errorf("both players should tie with the board: %d vs %d", p1, p2)
	}
	if p1.Category() != RoyalFlush {
		t.Errorf("category = %v, want RoyalFlush", p1.Category())
	}
}

func TestEvaluateErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		cards []Card
	}{
		{name: "too few", cards: MustParseCards("AcKdQhJs")},
		{name: "too many", cards: MustParseCards("AcKdQhJs9c8d7h6s")},
		{name: "duplicate", cards: MustParseCards("AcAcKdQhJs")},
		{name: "invalid card", cards: []Card{{}, {Ace, Spades}, {King, Spades}, {Queen, Spades}, {Jack, Spades}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Evaluate(tt.cards); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHandRankCategoryNames(t *testing.T) {
	t.Parallel()
	if got := mustEvaluate(t, "KcKdKhQsQc").String(); got != "Full House" {
		t.Errorf("String() = %q", got)
	}
	if got := mustEvaluate(t, "AsKsQsJsTs").String(); got != "Royal Flush" {
		t.Errorf("String() = %q", got)
	}
}
