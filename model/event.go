package model

import (
	"github.com/jsphweid/abcxml/pitch"
)

// Event is one of *Note, *Rest, *Chord or *Tuplet. The set is closed: only
// types in this package can satisfy it.
type Event interface {
	// Duration is the time the event occupies in its container.
	Duration() pitch.Duration
	isEvent()
}

type Syllabic string

const (
	Single Syllabic = "single"
	Begin  Syllabic = "begin"
	Middle Syllabic = "middle"
	End    Syllabic = "end"
)

type Lyric struct {
	Text     string   `json:"text"`
	Syllabic Syllabic `json:"syllabic"`
	// Extend marks a melisma line continuing after the syllable.
	Extend bool `json:"extend,omitempty"`
}

type Note struct {
	Pitch  pitch.Pitch
	Length pitch.Duration
	// Accidental is the displayed sign, set by the parser when written
	// explicitly and recomputed by the normalizer.
	Accidental  pitch.Accidental
	Decorations []string
	Annotations []string
	Lyric       *Lyric
	Graces      []*Note
}

type Rest struct {
	Length      pitch.Duration
	Invisible   bool
	Measure     bool
	Decorations []string
	Annotations []string
}

// Chord is a set of notes sounding together for one length.
type Chord struct {
	Notes       []*Note
	Length      pitch.Duration
	Decorations []string
	Annotations []string
	Lyric       *Lyric
	Graces      []*Note
}

// Tuplet plays the nominal length of Events in Q/P of the time, e.g. a
// triplet of eighths is P=3, Q=2.
type Tuplet struct {
	P      int
	Q      int
	Events []Event
}

func (n *Note) Duration() pitch.Duration  { return n.Length }
func (r *Rest) Duration() pitch.Duration  { return r.Length }
func (c *Chord) Duration() pitch.Duration { return c.Length }

func (t *Tuplet) Nominal() pitch.Duration {
	total := pitch.Zero
	for _, e := range t.Events {
		total = total.Add(e.Duration())
	}
	return total
}

// Scale is the factor applied to inner lengths.
func (t *Tuplet) Scale() pitch.Duration {
	return pitch.NewDuration(int64(t.Q), int64(t.P))
}

func (t *Tuplet) Duration() pitch.Duration {
	return t.Nominal().MulDuration(t.Scale())
}

func (*Note) isEvent()   {}
func (*Rest) isEvent()   {}
func (*Chord) isEvent()  {}
func (*Tuplet) isEvent() {}

// NoteRef locates a note reached by WalkNotes.
type NoteRef struct {
	Ordinal int
	Measure int
	// Event counts notes, chords and rests of the voice in time order; chord
	// members share one Event index.
	Event int
	Note  *Note
	// Chord and Tuplet are set when the note is a chord member or inside a
	// tuplet.
	Chord  *Chord
	Tuplet *Tuplet
}

type walker struct {
	ordinal int
	event   int
	fn      func(NoteRef)
}

// WalkNotes visits every non-grace note of the voice in time order. The
// ordinal passed to fn is the identity used by Voice.Ties and Voice.Slurs.
func WalkNotes(v *Voice, fn func(NoteRef)) {
	w := &walker{fn: fn}
	for mi, m := range v.Measures {
		for _, e := range m.Events {
			w.walk(e, mi, nil)
		}
	}
}

func (w *walker) walk(e Event, mi int, tup *Tuplet) {
	switch e := e.(type) {
	case *Note:
		w.fn(NoteRef{Ordinal: w.ordinal, Measure: mi, Event: w.event, Note: e, Tuplet: tup})
		w.ordinal++
		w.event++
	case *Chord:
		for _, n := range e.Notes {
			w.fn(NoteRef{Ordinal: w.ordinal, Measure: mi, Event: w.event, Note: n, Chord: e, Tuplet: tup})
			w.ordinal++
		}
		w.event++
	case *Tuplet:
		for _, inner := range e.Events {
			w.walk(inner, mi, e)
		}
	case *Rest:
		w.event++
	}
}

// Notes returns the voice's notes indexed by ordinal.
func (v *Voice) Notes() []NoteRef {
	var res []NoteRef
	WalkNotes(v, func(r NoteRef) { res = append(res, r) })
	return res
}

// ActualDuration is the sounding length of a note reached by WalkNotes.
func (r NoteRef) ActualDuration() pitch.Duration {
	d := r.Note.Length
	if r.Chord != nil {
		d = r.Chord.Length
	}
	if r.Tuplet != nil {
		d = d.MulDuration(r.Tuplet.Scale())
	}
	return d
}
