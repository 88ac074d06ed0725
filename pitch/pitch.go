package pitch

import (
	"fmt"
	"strings"
)

// Steps in diatonic order starting from C.
const Steps = "CDEFGAB"

var stepSemitones = map[byte]int{'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11}

// Scientific octave numbers are used throughout: C4 is middle C.
const (
	MinOctave = 0
	MaxOctave = 9
)

type Pitch struct {
	Step   byte
	Alter  int
	Octave int
}

func New(step byte, alter, octave int) Pitch {
	return Pitch{Step: step, Alter: alter, Octave: octave}
}

func IsStep(b byte) bool {
	return strings.IndexByte(Steps, b) >= 0
}

// StepIndex returns the position of the step in C D E F G A B, or -1.
func StepIndex(step byte) int {
	return strings.IndexByte(Steps, step)
}

func (p Pitch) MIDI() int {
	return (p.Octave+1)*12 + stepSemitones[p.Step] + p.Alter
}

// Diatonic is the number of diatonic steps above C0, used for ordering and
// for matching notes that share a staff position.
func (p Pitch) Diatonic() int {
	return p.Octave*7 + StepIndex(p.Step)
}

func (p Pitch) SamePosition(o Pitch) bool {
	return p.Step == o.Step && p.Octave == o.Octave
}

func (p Pitch) Valid() bool {
	return IsStep(p.Step) && p.Octave >= MinOctave && p.Octave <= MaxOctave && p.Alter >= -2 && p.Alter <= 2
}

func (p Pitch) String() string {
	return fmt.Sprintf("%c%s%d", p.Step, alterSuffix(p.Alter), p.Octave)
}

func alterSuffix(alter int) string {
	switch {
	case alter > 0:
		return strings.Repeat("#", alter)
	case alter < 0:
		return strings.Repeat("b", -alter)
	}
	return ""
}

// Accidental is a displayed accidental sign, as opposed to Pitch.Alter which
// is the sounding alteration.
type Accidental int

const (
	AccidentalNone Accidental = iota
	Natural
	Sharp
	Flat
	DoubleSharp
	DoubleFlat
)

// AccidentalFor returns the sign that spells the given alteration.
func AccidentalFor(alter int) Accidental {
	switch alter {
	case 0:
		return Natural
	case 1:
		return Sharp
	case -1:
		return Flat
	case 2:
		return DoubleSharp
	case -2:
		return DoubleFlat
	}
	return AccidentalNone
}

func (a Accidental) Alter() int {
	switch a {
	case Sharp:
		return 1
	case Flat:
		return -1
	case DoubleSharp:
		return 2
	case DoubleFlat:
		return -2
	}
	return 0
}

func (a Accidental) String() string {
	switch a {
	case Natural:
		return "natural"
	case Sharp:
		return "sharp"
	case Flat:
		return "flat"
	case DoubleSharp:
		return "double-sharp"
	case DoubleFlat:
		return "flat-flat"
	}
	return ""
}

// ParseAccidental reads the markup names of accidentals.
func ParseAccidental(s string) Accidental {
	switch s {
	case "natural":
		return Natural
	case "sharp":
		return Sharp
	case "flat":
		return Flat
	case "double-sharp", "sharp-sharp":
		return DoubleSharp
	case "flat-flat", "double-flat":
		return DoubleFlat
	}
	return AccidentalNone
}
