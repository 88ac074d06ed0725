package normalize

import (
	"errors"
	"testing"

	"github.com/jsphweid/abcxml/abc"
	"github.com/jsphweid/abcxml/model"
	"github.com/jsphweid/abcxml/pitch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, text string) *model.Tune {
	tune, _, err := abc.Parse(text)
	require.NoError(t, err)
	return tune
}

func note(step byte, alter, octave int, length pitch.Duration) *model.Note {
	return &model.Note{Pitch: pitch.New(step, alter, octave), Length: length}
}

func fourFour(voices ...*model.Voice) *model.Tune {
	t := model.NewTune()
	t.Meter = model.Meter{Num: 4, Den: 4}
	t.Voices = voices
	return t
}

func accidentals(v *model.Voice) []pitch.Accidental {
	var res []pitch.Accidental
	model.WalkNotes(v, func(r model.NoteRef) { res = append(res, r.Note.Accidental) })
	return res
}

func TestQuarterNotesInGMajor(t *testing.T) {
	assert := assert.New(t)
	tune := parse(t, "X:1\nM:4/4\nL:1/8\nK:G\nG2 A2 B2 c2|\n")

	out, rep, err := Normalize(tune, ForMarkup)
	require.NoError(t, err)
	assert.Equal(1, rep.Divisions)
	assert.Empty(rep.Diagnostics)

	var pitches []string
	model.WalkNotes(out.Voices[0], func(r model.NoteRef) {
		pitches = append(pitches, r.Note.Pitch.String())
		assert.Equal(pitch.Quarter, r.ActualDuration())
	})
	assert.Equal([]string{"G4", "A4", "B4", "C5"}, pitches)
	assert.Equal([]pitch.Accidental{pitch.AccidentalNone, pitch.AccidentalNone, pitch.AccidentalNone, pitch.AccidentalNone}, accidentals(out.Voices[0]))
}

func TestShortMeasureIsDiagnosedNotFatal(t *testing.T) {
	assert := assert.New(t)
	tune := parse(t, "X:1\nM:4/4\nL:1/4\nK:C\nC D E|\n")

	_, rep, err := Normalize(tune, ForMarkup)
	require.NoError(t, err)
	require.Len(t, rep.Diagnostics, 1)
	d := rep.Diagnostics[0]
	assert.Equal(model.KindMeasureMismatch, d.Kind)
	assert.Equal(model.Warning, d.Severity)
	assert.Equal(1, d.Measure)
	assert.Equal(5, d.Line)
}

func TestMeasureExemptions(t *testing.T) {
	tests := []struct {
		name     string
		music    string
		measures []int
		pickup   bool
	}{
		{"pickup", "C|D E F G|A B c2|", nil, true},
		{"short last", "C D E F|G A|", nil, false},
		{"short middle", "C D E F|G A|B c d e|", []int{2}, false},
		{"long", "C D E F G|A B c d|", []int{1}, false},
		{"section end", "C D E F|G A:|B c d e|", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			tune := parse(t, "X:1\nM:4/4\nL:1/4\nK:C\n"+tt.music+"\n")
			out, rep, err := Normalize(tune, ForCompact)
			require.NoError(t, err)

			var got []int
			for _, d := range rep.Diagnostics {
				assert.Equal(model.KindMeasureMismatch, d.Kind)
				got = append(got, d.Measure)
			}
			assert.Equal(tt.measures, got)
			assert.Equal(tt.pickup, out.Voices[0].Measures[0].Pickup)
			assert.Zero(rep.Divisions)
		})
	}
}

func TestMeterChangeIsTracked(t *testing.T) {
	tune := parse(t, "X:1\nM:4/4\nL:1/4\nK:C\nC D E F|[M:3/4] G A B|c d e|\n")
	_, rep, err := Normalize(tune, ForCompact)
	require.NoError(t, err)
	assert.Empty(t, rep.Diagnostics)
}

func TestFreeMeterIsNotChecked(t *testing.T) {
	tune := parse(t, "X:1\nL:1/4\nK:C\nC D E|F|\n")
	_, rep, err := Normalize(tune, ForCompact)
	require.NoError(t, err)
	assert.Empty(t, rep.Diagnostics)
}

func TestDivisions(t *testing.T) {
	tests := []struct {
		name   string
		events []model.Event
		want   int
	}{
		{"quarters", []model.Event{note('C', 0, 4, pitch.Quarter)}, 1},
		{"eighths", []model.Event{note('C', 0, 4, pitch.Eighth)}, 2},
		{"dotted eighth", []model.Event{note('C', 0, 4, pitch.NewDuration(3, 16))}, 4},
		{"triplet and eighth", []model.Event{
			&model.Tuplet{P: 3, Q: 2, Events: []model.Event{
				note('C', 0, 4, pitch.Eighth), note('D', 0, 4, pitch.Eighth), note('E', 0, 4, pitch.Eighth),
			}},
			note('F', 0, 4, pitch.Eighth),
		}, 6},
		{"graces do not count", []model.Event{
			&model.Note{Pitch: pitch.New('C', 0, 4), Length: pitch.Quarter, Graces: []*model.Note{note('D', 0, 4, pitch.NewDuration(1, 32))}},
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &model.Voice{ID: "1", Measures: []*model.Measure{{Events: tt.events}}}
			div, err := Divisions(fourFour(v))
			require.NoError(t, err)
			assert.Equal(t, tt.want, div)
		})
	}
}

func TestDivisionsMakeEveryDurationExact(t *testing.T) {
	tune := parse(t, "X:1\nM:6/8\nL:1/8\nK:D\n(3ABc d>e f/g/a|(5:4:5BAGFE z2|\n")
	out, rep, err := Normalize(tune, ForMarkup)
	require.NoError(t, err)
	model.WalkNotes(out.Voices[0], func(r model.NoteRef) {
		_, ok := r.ActualDuration().Ticks(rep.Divisions)
		assert.True(t, ok, "%s at %s", r.Note.Pitch, r.ActualDuration())
	})
}

func TestSpellRemovesRedundantAccidentals(t *testing.T) {
	tune := parse(t, "X:1\nK:G\nF ^F =F F|F|\n")
	Spell(tune)
	assert.Equal(t, []pitch.Accidental{
		pitch.AccidentalNone, pitch.AccidentalNone, pitch.Natural, pitch.AccidentalNone, pitch.AccidentalNone,
	}, accidentals(tune.Voices[0]))
}

func TestSpellAddsAccidentalsOutsideTheKey(t *testing.T) {
	v := &model.Voice{ID: "1", Measures: []*model.Measure{
		{Events: []model.Event{note('F', 1, 4, pitch.Quarter), note('F', 1, 4, pitch.Quarter), note('F', 1, 5, pitch.Quarter)}},
		{Events: []model.Event{note('F', 1, 4, pitch.Quarter), note('B', -1, 4, pitch.Quarter)}},
	}}
	Spell(fourFour(v))
	assert.Equal(t, []pitch.Accidental{
		pitch.Sharp, pitch.AccidentalNone, pitch.Sharp, pitch.Sharp, pitch.Flat,
	}, accidentals(v))
}

func TestTieAcrossBarKeepsAlteration(t *testing.T) {
	assert := assert.New(t)
	tune := parse(t, "X:1\nK:C\n^F2-|F2 F2|\n")
	out, rep, err := Normalize(tune, ForCompact)
	require.NoError(t, err)
	assert.Empty(rep.Diagnostics)

	v := out.Voices[0]
	assert.Equal([]model.Link{{From: 0, To: 1}}, v.Ties)
	notes := v.Notes()
	assert.Equal(1, notes[1].Note.Pitch.Alter)
	assert.Equal(0, notes[2].Note.Pitch.Alter)
	assert.Equal([]pitch.Accidental{pitch.Sharp, pitch.AccidentalNone, pitch.AccidentalNone}, accidentals(v))
}

func TestInvalidTiesAreDropped(t *testing.T) {
	assert := assert.New(t)
	v := &model.Voice{ID: "1", Measures: []*model.Measure{{Events: []model.Event{
		note('C', 0, 4, pitch.Quarter),
		note('D', 0, 4, pitch.Quarter),
		&model.Rest{Length: pitch.Quarter},
		note('D', 0, 4, pitch.Quarter),
	}}}}
	v.Ties = []model.Link{{From: 0, To: 1}, {From: 1, To: 2}, {From: 2, To: 7}}
	tune := fourFour(v)

	out, rep, err := Normalize(tune, ForMarkup)
	require.NoError(t, err)
	assert.Empty(out.Voices[0].Ties)
	require.Len(t, rep.Diagnostics, 3)
	for _, d := range rep.Diagnostics {
		assert.Equal(model.KindOrphanTie, d.Kind)
		assert.Equal("1", d.Voice)
	}
	// the input tune is left untouched
	assert.Len(tune.Voices[0].Ties, 3)
}

func TestInvalidSlursAreDropped(t *testing.T) {
	v := &model.Voice{ID: "1", Measures: []*model.Measure{{Events: []model.Event{
		note('C', 0, 4, pitch.NewDuration(1, 2)), note('D', 0, 4, pitch.NewDuration(1, 2)),
	}}}}
	v.Slurs = []model.Link{{From: 0, To: 1}, {From: 1, To: 1}, {From: 0, To: 5}}
	out, rep, err := Normalize(fourFour(v), ForCompact)
	require.NoError(t, err)
	assert.Equal(t, []model.Link{{From: 0, To: 1}}, out.Voices[0].Slurs)
	assert.Len(t, rep.Diagnostics, 2)
}

func TestNestedSlursAreLimited(t *testing.T) {
	nested := func(n int) *model.Voice {
		v := &model.Voice{ID: "1", Measures: []*model.Measure{{}}}
		for i := 0; i < 2*n; i++ {
			v.Measures[0].Events = append(v.Measures[0].Events, note('C', 0, 4, pitch.NewDuration(1, 32)))
		}
		for i := 0; i < n; i++ {
			v.Slurs = append(v.Slurs, model.Link{From: i, To: 2*n - 1 - i})
		}
		return v
	}
	tests := []struct {
		name  string
		slurs int
		kept  int
		diags int
	}{
		{"sixteen open slurs fit", 16, 16, 0},
		{"seventeenth slur is dropped", 17, 16, 1},
		{"two over the limit", 18, 16, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := nested(tt.slurs)
			diags := limitSlurs(v)
			assert.Len(t, v.Slurs, tt.kept)
			assert.Len(t, diags, tt.diags)
		})
	}
}

func TestDurationOverflowIsAnError(t *testing.T) {
	v := &model.Voice{ID: "1", Measures: []*model.Measure{{Events: []model.Event{
		note('C', 0, 4, pitch.NewDuration(1, 1<<40)), note('D', 0, 4, pitch.NewDuration(1, 2541865828329)),
	}}}}
	out, _, err := Normalize(fourFour(v), ForMarkup)
	assert.ErrorIs(t, err, pitch.ErrOverflow)
	assert.Nil(t, out)
}

func TestVoicesArePaddedForMarkup(t *testing.T) {
	assert := assert.New(t)
	whole := func() *model.Measure {
		return &model.Measure{Events: []model.Event{note('C', 0, 4, pitch.Whole)}}
	}
	a := &model.Voice{ID: "1", Measures: []*model.Measure{whole(), whole()}}
	b := &model.Voice{ID: "2", Measures: []*model.Measure{whole()}}

	out, rep, err := Normalize(fourFour(a, b), ForMarkup)
	require.NoError(t, err)
	require.Len(t, out.Voices[1].Measures, 2)
	assert.True(out.Voices[1].Measures[1].IsMeasureRest())
	require.Len(t, rep.Diagnostics, 1)
	assert.Equal(model.KindVoiceMeasureCount, rep.Diagnostics[0].Kind)
	assert.Equal("2", rep.Diagnostics[0].Voice)

	_, rep, err = Normalize(fourFour(a, b), ForCompact)
	require.NoError(t, err)
	assert.Empty(rep.Diagnostics)
}

func TestNonPositiveLengthIsInvariantViolation(t *testing.T) {
	v := &model.Voice{ID: "1", Measures: []*model.Measure{{Events: []model.Event{
		note('C', 0, 4, pitch.Zero),
	}}}}
	_, _, err := Normalize(fourFour(v), ForMarkup)
	var violation *model.InvariantViolation
	assert.True(t, errors.As(err, &violation))
}
