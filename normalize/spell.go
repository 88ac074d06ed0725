package normalize

import (
	"github.com/jsphweid/abcxml/model"
	"github.com/jsphweid/abcxml/pitch"
)

type position struct {
	step   byte
	octave int
}

type speller struct {
	key     model.KeySignature
	carry   map[position]int
	tiedTo  map[int]pitch.Pitch
	ordinal int
}

// Spell sets the displayed accidental of every note. A sign is shown only
// when the alteration differs from what the key signature, or an earlier
// note at the same step and octave in the measure, already implies. The
// second note of a tie never shows one.
func Spell(t *model.Tune) {
	for _, v := range t.Voices {
		notes := v.Notes()
		s := &speller{key: t.Key, tiedTo: map[int]pitch.Pitch{}}
		for _, l := range v.Ties {
			if l.From >= 0 && l.From < len(notes) {
				s.tiedTo[l.To] = notes[l.From].Note.Pitch
			}
		}
		for _, m := range v.Measures {
			if m.Key != nil {
				s.key = *m.Key
			}
			s.carry = map[position]int{}
			for _, e := range m.Events {
				s.event(e)
			}
		}
	}
}

func (s *speller) event(e model.Event) {
	switch e := e.(type) {
	case *model.Note:
		s.graces(e.Graces)
		s.note(e)
	case *model.Chord:
		s.graces(e.Graces)
		for _, n := range e.Notes {
			s.note(n)
		}
	case *model.Tuplet:
		for _, inner := range e.Events {
			s.event(inner)
		}
	case *model.Rest:
	}
}

func (s *speller) graces(notes []*model.Note) {
	for _, g := range notes {
		s.spell(g)
	}
}

func (s *speller) note(n *model.Note) {
	ord := s.ordinal
	s.ordinal++
	if from, ok := s.tiedTo[ord]; ok && from == n.Pitch {
		n.Accidental = pitch.AccidentalNone
		return
	}
	s.spell(n)
}

func (s *speller) spell(n *model.Note) {
	pos := position{n.Pitch.Step, n.Pitch.Octave}
	implied, ok := s.carry[pos]
	if !ok {
		implied = s.key.Alter(n.Pitch.Step)
	}
	if n.Pitch.Alter == implied {
		n.Accidental = pitch.AccidentalNone
		return
	}
	n.Accidental = pitch.AccidentalFor(n.Pitch.Alter)
	s.carry[pos] = n.Pitch.Alter
}
