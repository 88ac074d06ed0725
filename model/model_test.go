package model

import (
	"testing"

	"github.com/jsphweid/abcxml/pitch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		in     string
		tonic  string
		mode   string
		fifths int
	}{
		{"G", "G", "major", 1},
		{"Em", "E", "minor", 1},
		{"Bb minor", "Bb", "minor", -5},
		{"Ddor", "D", "dorian", 0},
		{"A Mixolydian", "A", "mixolydian", 2},
		{"F#", "F#", "major", 6},
		{"", "C", "major", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			kf, err := ParseKey(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.tonic, kf.Key.Tonic)
			assert.Equal(t, tt.mode, kf.Key.Mode)
			assert.Equal(t, tt.fifths, kf.Key.Fifths)
		})
	}
}

func TestParseKeyModifiers(t *testing.T) {
	assert := assert.New(t)

	kf, err := ParseKey("D ^g clef=bass")
	require.NoError(t, err)
	assert.Equal(1, kf.Key.Alter('F'))
	assert.Equal(1, kf.Key.Alter('G'))
	assert.Equal(0, kf.Key.Alter('B'))
	require.NotNil(t, kf.Clef)
	assert.Equal("bass", kf.Clef.Name())
	assert.Equal("D ^g", kf.Key.String())

	kf, err = ParseKey("none")
	require.NoError(t, err)
	assert.True(kf.Key.None)
	assert.Equal("none", kf.Key.String())

	_, err = ParseKey("H")
	assert.Error(err)
}

func TestKeyFromFifths(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("Eb", KeyFromFifths(-3, "major").Tonic)
	assert.Equal("C", KeyFromFifths(-3, "minor").Tonic)
	assert.Equal("F#", KeyFromFifths(3, "minor").Tonic)
	assert.Equal("Em", KeyFromFifths(1, "minor").String())
	assert.Equal([7]int{0, 0, -1, 0, 0, 0, -1}, KeyFromFifths(-2, "major").Alters)
}

func TestParseMeter(t *testing.T) {
	tests := []struct {
		in   string
		want Meter
		dur  pitch.Duration
		str  string
	}{
		{"4/4", Meter{Num: 4, Den: 4}, pitch.Whole, "4/4"},
		{"6/8", Meter{Num: 6, Den: 8}, pitch.NewDuration(3, 4), "6/8"},
		{"C", Meter{Num: 4, Den: 4, Symbol: "common"}, pitch.Whole, "C"},
		{"C|", Meter{Num: 2, Den: 2, Symbol: "cut"}, pitch.Whole, "C|"},
		{"2+3/8", Meter{Num: 5, Den: 8}, pitch.NewDuration(5, 8), "5/8"},
		{"none", Meter{Free: true}, pitch.Zero, "none"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			m, err := ParseMeter(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m)
			assert.Equal(t, tt.dur, m.Duration())
			assert.Equal(t, tt.str, m.String())
		})
	}

	_, err := ParseMeter("3/0")
	assert.Error(t, err)
}

func TestDefaultUnitLength(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(pitch.NewDuration(1, 16), Meter{Num: 2, Den: 4}.DefaultUnitLength())
	assert.Equal(pitch.Eighth, Meter{Num: 3, Den: 4}.DefaultUnitLength())
	assert.Equal(pitch.Eighth, Meter{Num: 6, Den: 8}.DefaultUnitLength())
}

func sampleVoice() *Voice {
	n := func(step byte) *Note {
		return &Note{Pitch: pitch.New(step, 0, 4), Length: pitch.Eighth}
	}
	return &Voice{
		ID: "1",
		Measures: []*Measure{
			{Events: []Event{
				n('C'),
				&Chord{Notes: []*Note{n('E'), n('G')}, Length: pitch.Quarter},
				&Rest{Length: pitch.Eighth},
			}},
			{Events: []Event{
				&Tuplet{P: 3, Q: 2, Events: []Event{n('A'), n('B'), n('C')}},
			}},
		},
		Ties: []Link{{From: 0, To: 1}},
	}
}

func TestWalkNotes(t *testing.T) {
	assert := assert.New(t)
	v := sampleVoice()
	refs := v.Notes()
	require.Len(t, refs, 6)
	assert.Equal(byte('E'), refs[1].Note.Pitch.Step)
	assert.NotNil(refs[1].Chord)
	assert.Equal(pitch.Quarter, refs[2].ActualDuration())
	assert.Equal(1, refs[3].Measure)
	assert.Equal(pitch.NewDuration(1, 12), refs[3].ActualDuration())
	assert.Equal(6, v.NoteCount())
}

func TestMeasureDuration(t *testing.T) {
	v := sampleVoice()
	assert.Equal(t, pitch.Duration{Num: 1, Den: 2}, v.Measures[0].Duration())
	assert.Equal(t, pitch.Duration{Num: 1, Den: 4}, v.Measures[1].Duration())
}

func TestClone(t *testing.T) {
	tune := NewTune()
	tune.Voices = []*Voice{sampleVoice()}
	tune.Tempo = &Tempo{Beat: pitch.Quarter, BPM: 120}
	cp := tune.Clone()

	cp.Voices[0].Measures[0].Events[0].(*Note).Pitch.Step = 'D'
	cp.Voices[0].Ties[0].To = 5
	cp.Tempo.BPM = 60

	orig := tune.Voices[0]
	assert.Equal(t, byte('C'), orig.Measures[0].Events[0].(*Note).Pitch.Step)
	assert.Equal(t, 1, orig.Ties[0].To)
	assert.Equal(t, 120, tune.Tempo.BPM)
}

func TestDiagnosticString(t *testing.T) {
	d := Diagnostic{Kind: KindOrphanTie, Severity: Warning, Voice: "1", Measure: 2, Message: "tie start without stop"}
	assert.Equal(t, "voice 1 measure 2: warning: orphan tie: tie start without stop", d.String())
	assert.True(t, HasWarnings([]Diagnostic{d}))
	assert.False(t, HasWarnings([]Diagnostic{{Severity: Info}}))
}
