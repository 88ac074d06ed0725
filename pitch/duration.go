package pitch

import (
	"fmt"
	"math/big"

	"github.com/pkg/errors"
)

// ErrOverflow is raised by arithmetic whose reduced result does not fit in
// int64. It travels as a panic so that expressions stay chainable; Recover
// turns it back into an error.
var ErrOverflow = errors.New("duration out of range")

// Recover stores a pending ErrOverflow panic in *err and lets every other
// panic continue. It must be deferred directly.
func Recover(err *error) {
	if r := recover(); r != nil {
		if e, ok := r.(error); ok && errors.Is(e, ErrOverflow) {
			*err = e
			return
		}
		panic(r)
	}
}

// Duration is a note length as a fraction of a whole note, always kept in
// lowest terms with a positive denominator so that values compare with ==.
type Duration struct {
	Num int64
	Den int64
}

var (
	Zero    = Duration{0, 1}
	Whole   = Duration{1, 1}
	Quarter = Duration{1, 4}
	Eighth  = Duration{1, 8}
)

func NewDuration(num, den int64) Duration {
	if den == 0 {
		panic("pitch: zero denominator")
	}
	return fromRat(big.NewRat(num, den))
}

// fromRat narrows an exact result back to int64 terms.
func fromRat(r *big.Rat) Duration {
	if !r.Num().IsInt64() || !r.Denom().IsInt64() {
		panic(ErrOverflow)
	}
	return Duration{r.Num().Int64(), r.Denom().Int64()}
}

func (d Duration) rat() *big.Rat {
	d = d.norm()
	return big.NewRat(d.Num, d.Den)
}

func (d Duration) norm() Duration {
	if d.Den == 0 {
		return Zero
	}
	return NewDuration(d.Num, d.Den)
}

func (d Duration) Add(o Duration) Duration {
	return fromRat(new(big.Rat).Add(d.rat(), o.rat()))
}

func (d Duration) Sub(o Duration) Duration {
	return fromRat(new(big.Rat).Sub(d.rat(), o.rat()))
}

func (d Duration) Mul(num, den int64) Duration {
	if den == 0 {
		panic("pitch: zero denominator")
	}
	return fromRat(new(big.Rat).Mul(d.rat(), big.NewRat(num, den)))
}

func (d Duration) MulDuration(o Duration) Duration {
	return fromRat(new(big.Rat).Mul(d.rat(), o.rat()))
}

// Div returns d/o as a fraction; o must be non-zero.
func (d Duration) Div(o Duration) Duration {
	o = o.norm()
	if o.IsZero() {
		panic("pitch: zero denominator")
	}
	return fromRat(new(big.Rat).Quo(d.rat(), o.rat()))
}

func (d Duration) Cmp(o Duration) int {
	return d.rat().Cmp(o.rat())
}

func (d Duration) IsPositive() bool {
	return d.Num != 0 && d.Den != 0 && (d.Num > 0) == (d.Den > 0)
}

func (d Duration) IsZero() bool {
	return d.Num == 0
}

// IsInteger reports whether the fraction is a whole number.
func (d Duration) IsInteger() bool {
	d = d.norm()
	return d.Den == 1
}

// Quarters returns the length measured in quarter notes.
func (d Duration) Quarters() Duration {
	return d.Mul(4, 1)
}

// Ticks converts to an integer count of divisions-per-quarter units; ok is
// false when the result would need rounding.
func (d Duration) Ticks(divisions int) (int, bool) {
	q := d.Quarters().Mul(int64(divisions), 1)
	if !q.IsInteger() {
		return 0, false
	}
	return int(q.Num), true
}

// FromTicks is the inverse of Ticks.
func FromTicks(ticks, divisions int) Duration {
	return NewDuration(int64(ticks), int64(divisions)*4)
}

func (d Duration) String() string {
	d = d.norm()
	if d.Den == 1 {
		return fmt.Sprintf("%d", d.Num)
	}
	return fmt.Sprintf("%d/%d", d.Num, d.Den)
}

type noteType struct {
	name string
	base Duration
}

var noteTypes = []noteType{
	{"maxima", Duration{8, 1}},
	{"long", Duration{4, 1}},
	{"breve", Duration{2, 1}},
	{"whole", Duration{1, 1}},
	{"half", Duration{1, 2}},
	{"quarter", Duration{1, 4}},
	{"eighth", Duration{1, 8}},
	{"16th", Duration{1, 16}},
	{"32nd", Duration{1, 32}},
	{"64th", Duration{1, 64}},
	{"128th", Duration{1, 128}},
	{"256th", Duration{1, 256}},
}

// NoteType finds the graphical type and dot count of a plain duration.
// ok is false when the duration cannot be written as a dotted note value.
func NoteType(d Duration) (name string, dots int, ok bool) {
	for _, nt := range noteTypes {
		length := nt.base
		add := nt.base
		for dots = 0; dots <= 3; dots++ {
			if length.Cmp(d) == 0 {
				return nt.name, dots, true
			}
			add = add.Mul(1, 2)
			length = length.Add(add)
		}
	}
	return "", 0, false
}

// NoteTypeDuration is the undotted length of a markup type name.
func NoteTypeDuration(name string) (Duration, bool) {
	for _, nt := range noteTypes {
		if nt.name == name {
			return nt.base, true
		}
	}
	return Zero, false
}
