package poker

import (
	"errors"
)

// ErrInvalidHand is returned for hands with bad sizes, invalid cards or duplicates.
var ErrInvalidHand = errors.New("invalid hand")

// Category enumerates hand categories ordered from weakest to strongest.
type Category uint8

const (
	HighCard Category = iota
	Pair
	TwoPair
	ThreeOfAKind
	Straight
	Flush
	FullHouse
	FourOfAKind
	StraightFlush
	RoyalFlush
)

// String returns the human-readable category name.
func (c Category) String() string {
	switch c {
	case HighCard:
		return "High Card"
	case Pair:
		return "Pair"
	case TwoPair:
		return "Two Pair"
	case ThreeOfAKind:
		return "Three of a Kind"
	case Straight:
		return "Straight"
	case Flush:
		return "Flush"
	case FullHouse:
		return "Full House"
	case FourOfAKind:
		return "Four of a Kind"
	case StraightFlush:
		return "Straight Flush"
	case RoyalFlush:
		return "Royal Flush"
	default:
		return "Unknown"
	}
}

// HandRank totally orders poker hands: higher values beat lower values and
// equal values tie. The category lives in the high bits with up to five
// 4-bit tiebreak ranks packed below, so comparing two ranks compares
// categories first and then standard kicker order.
type HandRank int32

// Category extracts the hand category from a rank.
func (hr HandRank) Category() Category {
	return Category(hr >> 20)
}

// String returns the human-readable category of the rank.
func (hr HandRank) String() string {
	return hr.Category().String()
}

func packRank(cat Category, tiebreaks ...Rank) HandRank {
	r := int32(cat) << 20
	shift := 16
	for _, t := range tiebreaks {
		r |= int32(t) << shift
		shift -= 4
	}
	return HandRank(r)
}

// Evaluate ranks the best 5-card hand from 5, 6 or 7 cards.
// Fails with ErrInvalidHand on bad sizes, invalid cards or duplicates.
func Evaluate(cards []Card) (HandRank, error) {
	if len(cards) < 5 || len(cards) > 7 {
		return 0, ErrInvalidHand
	}
	var seen uint64
	for _, c := range cards {
		if !c.Valid() {
			return 0, ErrInvalidHand
		}
		bit := uint64(1) << (uint(c.Suit)*13 + uint(c.Rank-Two))
		if seen&bit != 0 {
			return 0, ErrInvalidHand
		}
		seen |= bit
	}
	return evaluate(cards), nil
}

func evaluate(cards []Card) HandRank {
	var rankCounts [15]uint8
	var suitMasks [4]uint16
	var suitCounts [4]uint8
	var rankMask uint16

	for _, c := range cards {
		rankCounts[c.Rank]++
		suitMasks[c.Suit] |= 1 << c.Rank
		suitCounts[c.Suit]++
		rankMask |= 1 << c.Rank
	}

	// At most one suit can hold five of seven cards.
	flushSuit := -1
	for s := 0; s < 4; s++ {
		if suitCounts[s] >= 5 {
			flushSuit = s
			break
		}
	}

	if flushSuit >= 0 {
		if high, ok := straightHigh(suitMasks[flushSuit]); ok {
			if high == Ace {
				return packRank(RoyalFlush, high)
			}
			return packRank(StraightFlush, high)
		}
	}

	if quad := highestWithCount(rankCounts, 4); quad != 0 {
		kicker := topRanks(rankMask&^rankBit(quad), 1)
		return packRank(FourOfAKind, quad, kicker[0])
	}

	if trip := highestWithCount(rankCounts, 3); trip != 0 {
		// A second trip or any pair below fills the house.
		pair := Rank(0)
		for r := Ace; r >= Two; r-- {
			if r != trip && rankCounts[r] >= 2 {
				pair = r
				break
			}
		}
		if pair != 0 {
			return packRank(FullHouse, trip, pair)
		}
		if flushSuit >= 0 {
			return packRank(Flush, topRanks(suitMasks[flushSuit], 5)...)
		}
		if high, ok := straightHigh(rankMask); ok {
			return packRank(Straight, high)
		}
		kickers := topRanks(rankMask&^rankBit(trip), 2)
		return packRank(ThreeOfAKind, trip, kickers[0], kickers[1])
	}

	if flushSuit >= 0 {
		return packRank(Flush, topRanks(suitMasks[flushSuit], 5)...)
	}

	if high, ok := straightHigh(rankMask); ok {
		return packRank(Straight, high)
	}

	var pairs []Rank
	for r := Ace; r >= Two; r-- {
		if rankCounts[r] == 2 {
			pairs = append(pairs, r)
		}
	}
	switch {
	case len(pairs) >= 2:
		used := rankBit(pairs[0]) | rankBit(pairs[1])
		kicker := topRanks(rankMask&^used, 1)
		return packRank(TwoPair, pairs[0], pairs[1], kicker[0])
	case len(pairs) == 1:
		kickers := topRanks(rankMask&^rankBit(pairs[0]), 3)
		return packRank(Pair, pairs[0], kickers[0], kickers[1], kickers[2])
	default:
		return packRank(HighCard, topRanks(rankMask, 5)...)
	}
}

// straightHigh finds the highest straight in a rank bitmask, including the
// wheel (A-2-3-4-5, high card five).
func straightHigh(mask uint16) (Rank, bool) {
	for high := Ace; high >= Six; high-- {
		run := uint16(0x1F) << (high - 4)
		if mask&run == run {
			return high, true
		}
	}
	const wheel = 1<<Ace | 1<<Five | 1<<Four | 1<<Three | 1<<Two
	if mask&wheel == wheel {
		return Five, true
	}
	return 0, false
}

func rankBit(r Rank) uint16 {
	return 1 << r
}

// highestWithCount returns the highest rank appearing at least count times,
// or 0 when none does.
func highestWithCount(counts [15]uint8, count uint8) Rank {
	for r := Ace; r >= Two; r-- {
		if counts[r] >= count {
			return r
		}
	}
	return 0
}

// topRanks returns the n highest set ranks in mask, descending.
func topRanks(mask uint16, n int) []Rank {
	out := make([]Rank, 0, n)
	for r := Ace; r >= Two && len(out) < n; r-- {
		if mask&(1<<r) != 0 {
			out = append(out, r)
		}
	}
	return out
}
