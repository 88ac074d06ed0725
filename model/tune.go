package model

import (
	"github.com/jsphweid/abcxml/pitch"
)

// Field is a header or informational field kept verbatim, in source order.
type Field struct {
	Tag   byte   `json:"tag"`
	Value string `json:"value"`
}

type Tempo struct {
	Beat pitch.Duration `json:"beat"`
	BPM  int            `json:"bpm"`
	Text string         `json:"text,omitempty"`
}

type Tune struct {
	Reference  int
	Title      string
	Composer   string
	Key        KeySignature
	Meter      Meter
	UnitLength pitch.Duration
	Tempo      *Tempo
	Info       []Field
	Voices     []*Voice
}

type Voice struct {
	ID       string
	Name     string
	Clef     Clef
	Measures []*Measure
	// Ties and Slurs hold note ordinals as produced by WalkNotes.
	Ties  []Link
	Slurs []Link
}

// Bar line styles for the barline closing a measure. The empty string is a
// regular single bar.
const (
	BarRegular    = ""
	BarLightLight = "light-light"
	BarLightHeavy = "light-heavy"
	BarHeavyLight = "heavy-light"
)

type Measure struct {
	Events      []Event
	RepeatStart bool
	RepeatEnd   bool
	// Ending is the volta number starting at this measure, 0 for none.
	Ending   int
	BarStyle string
	Key      *KeySignature
	Meter    *Meter
	Clef     *Clef
	Pickup   bool
	// LineBreak marks the end of a source line (a new system in markup).
	LineBreak bool
	// Line is the compact source line the measure started on, 0 if unknown.
	Line int
}

// Duration is the summed length of the measure's events.
func (m *Measure) Duration() pitch.Duration {
	total := pitch.Zero
	for _, e := range m.Events {
		total = total.Add(e.Duration())
	}
	return total
}

// IsMeasureRest reports whether the measure holds only a whole-measure rest.
func (m *Measure) IsMeasureRest() bool {
	if len(m.Events) != 1 {
		return false
	}
	r, ok := m.Events[0].(*Rest)
	return ok && r.Measure
}

// Link is a tie or slur between two notes of the same voice.
type Link struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func NewTune() *Tune {
	return &Tune{
		Reference:  1,
		Key:        KeySignature{Tonic: "C", Mode: "major"},
		Meter:      Meter{Free: true},
		UnitLength: pitch.Eighth,
	}
}

func (t *Tune) Voice(id string) *Voice {
	for _, v := range t.Voices {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// InfoFields returns the informational fields with the given tag.
func (t *Tune) InfoFields(tag byte) []string {
	var res []string
	for _, f := range t.Info {
		if f.Tag == tag {
			res = append(res, f.Value)
		}
	}
	return res
}

func (v *Voice) NoteCount() int {
	n := 0
	WalkNotes(v, func(NoteRef) { n++ })
	return n
}

// TieStarts and TieStops index ties by note ordinal.
func (v *Voice) TieStarts() map[int]bool {
	res := map[int]bool{}
	for _, l := range v.Ties {
		res[l.From] = true
	}
	return res
}

func (v *Voice) TieStops() map[int]bool {
	res := map[int]bool{}
	for _, l := range v.Ties {
		res[l.To] = true
	}
	return res
}
