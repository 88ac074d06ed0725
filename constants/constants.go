package constants

// Software is written into <encoding><software> of every markup document.
const Software = "abcxml"

const Version = "0.3.0"

const MusicXMLVersion = "4.0"

// DefaultOutDir is used when neither a flag, env var nor config file sets one.
const DefaultOutDir = "./out"

// MIDIMinTicksPerQuarter is the smallest resolution used for SMF export; the
// real value is always a multiple of the tune's divisions unit.
const MIDIMinTicksPerQuarter = 480

// NOTE: MusicXML number-level runs 1..16, so at most sixteen slurs can be
// open at once in a voice
const MaxSlurNumber = 16

// ABC length multipliers and divisors, and tuplet counts, above this are
// rejected rather than carried into duration arithmetic.
const MaxLengthFactor = 1 << 12

// MaxDivisions bounds a markup <divisions> value.
const MaxDivisions = 1 << 20

// ABC lines are broken after this many measures when the source had no
// explicit line breaks.
const MeasuresPerLine = 4
