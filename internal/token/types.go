// Package token implements the token editor: a growable, invariant-preserving
// sequence of tokens and per-token metadata with bounds-checked mutation,
// linear undo/redo, point-in-time snapshots, and lazy attention-cache
// coordination against an external Model Adapter.
package token

// Token is a vocabulary-assigned token identifier. -1 denotes "absent" in
// read accessors.
type Token int32

// NoToken is the sentinel returned by read accessors when a position has no
// defined token.
const NoToken Token = -1

// Position indexes into a buffer. Valid range for insertion points is
// [0, n_tokens]; for reads it is [0, n_tokens).
type Position int32

// SeqID names a parallel attention-cache stream inside one model context.
// Zero is the always-present default sequence; -1 in a range parameter means
// "all sequences".
type SeqID int32

// DefaultSeq is the always-present sequence present in a freshly created
// buffer.
const DefaultSeq SeqID = 0

// AllSeqs is the sentinel meaning "every sequence" in range-shaped adapter
// calls.
const AllSeqs SeqID = -1

// EndOfBuffer is the sentinel meaning "through the end of whatever the
// adapter currently holds" when used as the end of a cache range.
const EndOfBuffer Position = -1

// Flag is a bitset describing the provenance and vocabulary role of a token.
type Flag uint16

const (
	FlagBOS Flag = 1 << iota
	FlagEOS
	FlagSpecial
	FlagControl
	FlagUserInjected
	FlagModelGenerated
)

// Info is the per-position metadata accompanying a token.
type Info struct {
	ID       Token
	Pos      Position
	Seq      SeqID
	Logit    float32
	Prob     float32
	HasLogit bool
	Flags    Flag
}

// Range is a half-open [Start, End) interval, optionally scoped to one
// sequence.
type Range struct {
	Start Position
	End   Position
	Seq   SeqID
}

// Len reports the number of positions covered, treating an inverted range as
// empty.
func (r Range) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return int(r.End - r.Start)
}
