package musicxml

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jsphweid/abcxml/abc"
	"github.com/jsphweid/abcxml/model"
	"github.com/jsphweid/abcxml/normalize"
	"github.com/jsphweid/abcxml/pitch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const firstAttributes = `<attributes><divisions>2</divisions><key><fifths>0</fifths><mode>major</mode></key>` +
	`<time><beats>4</beats><beat-type>4</beat-type></time><clef><sign>G</sign><line>2</line></clef></attributes>`

func partwise(measures ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<score-partwise version="4.0"><part-list><score-part id="P1"><part-name>Flute</part-name></score-part></part-list><part id="P1">`)
	for i, m := range measures {
		fmt.Fprintf(&b, `<measure number="%d">%s</measure>`, i+1, m)
	}
	b.WriteString(`</part></score-partwise>`)
	return b.String()
}

func xnote(step string, octave, duration int, extra string) string {
	return fmt.Sprintf(`<note><pitch><step>%s</step><octave>%d</octave></pitch><duration>%d</duration>%s</note>`,
		step, octave, duration, extra)
}

type sounding struct {
	Pitch    string
	Duration pitch.Duration
}

func soundings(v *model.Voice) []sounding {
	var res []sounding
	model.WalkNotes(v, func(r model.NoteRef) {
		res = append(res, sounding{r.Note.Pitch.String(), r.ActualDuration()})
	})
	return res
}

func fromCompact(t *testing.T, text string) (*model.Tune, int) {
	tune, _, err := abc.Parse(text)
	require.NoError(t, err)
	out, rep, err := normalize.Normalize(tune, normalize.ForMarkup)
	require.NoError(t, err)
	return out, rep.Divisions
}

func TestWriteQuarterNotesInGMajor(t *testing.T) {
	assert := assert.New(t)
	tune, div := fromCompact(t, "X:1\nM:4/4\nL:1/8\nK:G\nG2 A2 B2 c2|\n")

	out, err := Write(tune, div)
	require.NoError(t, err)
	assert.Contains(out, "<divisions>1</divisions>")
	assert.Contains(out, "<fifths>1</fifths>")
	assert.Equal(4, strings.Count(out, "<note>"))
	assert.Equal(4, strings.Count(out, "<type>quarter</type>"))
	assert.NotContains(out, "<accidental>")
	assert.NotContains(out, "<alter>")

	back, diags, err := Parse(out)
	require.NoError(t, err)
	assert.Empty(diags)
	require.Len(t, back.Voices, 1)
	require.Len(t, back.Voices[0].Measures, 1)
	assert.Equal([]sounding{
		{"G4", pitch.Quarter}, {"A4", pitch.Quarter}, {"B4", pitch.Quarter}, {"C5", pitch.Quarter},
	}, soundings(back.Voices[0]))
}

func TestRoundTrip(t *testing.T) {
	assert := assert.New(t)
	tune, div := fromCompact(t, `X:3
T:Round
C:Trad
M:3/4
L:1/8
Q:1/4=96
K:D
|:A2 (Bc) d2-|d2 (3efg a2|[1 f6:|[2 [df]6|]
`)
	assert.Equal(6, div)

	out, err := Write(tune, div)
	require.NoError(t, err)
	back, diags, err := Parse(out)
	require.NoError(t, err)
	assert.Empty(diags)

	assert.Equal(3, back.Reference)
	assert.Equal("Round", back.Title)
	assert.Equal("Trad", back.Composer)
	assert.Equal(tune.Key, back.Key)
	assert.Equal(tune.Meter, back.Meter)
	require.NotNil(t, back.Tempo)
	assert.Equal(*tune.Tempo, *back.Tempo)

	require.Len(t, back.Voices, 1)
	v, w := tune.Voices[0], back.Voices[0]
	assert.Equal(soundings(v), soundings(w))
	assert.Equal(v.Ties, w.Ties)
	assert.Equal(v.Slurs, w.Slurs)

	require.Len(t, w.Measures, 4)
	assert.True(w.Measures[0].RepeatStart)
	assert.Equal(1, w.Measures[2].Ending)
	assert.True(w.Measures[2].RepeatEnd)
	assert.Equal(model.BarRegular, w.Measures[2].BarStyle)
	assert.Equal(2, w.Measures[3].Ending)
	assert.Equal(model.BarLightHeavy, w.Measures[3].BarStyle)

	tup, ok := w.Measures[1].Events[1].(*model.Tuplet)
	require.True(t, ok)
	assert.Equal(3, tup.P)
	assert.Equal(2, tup.Q)
	assert.Len(tup.Events, 3)

	chord, ok := w.Measures[3].Events[0].(*model.Chord)
	require.True(t, ok)
	assert.Len(chord.Notes, 2)
}

func TestRoundTripLyricsAndDecorations(t *testing.T) {
	assert := assert.New(t)
	tune, div := fromCompact(t, "X:1\nM:3/4\nL:1/4\nK:C\n\"Allegro\".C !fermata!D !f!E|\nw:hel-lo you\n")

	out, err := Write(tune, div)
	require.NoError(t, err)
	back, _, err := Parse(out)
	require.NoError(t, err)

	var lyrics []model.Lyric
	var decorations [][]string
	model.WalkNotes(back.Voices[0], func(r model.NoteRef) {
		require.NotNil(t, r.Note.Lyric)
		lyrics = append(lyrics, *r.Note.Lyric)
		decorations = append(decorations, r.Note.Decorations)
	})
	assert.Equal([]model.Lyric{
		{Text: "hel", Syllabic: model.Begin},
		{Text: "lo", Syllabic: model.End},
		{Text: "you", Syllabic: model.Single},
	}, lyrics)
	assert.Equal([][]string{{"staccato"}, {"fermata"}, {"f"}}, decorations)

	first := back.Voices[0].Measures[0].Events[0].(*model.Note)
	assert.Equal([]string{"Allegro"}, first.Annotations)
}

func TestPickupAndKeyChange(t *testing.T) {
	assert := assert.New(t)
	tune, div := fromCompact(t, "X:1\nM:2/4\nL:1/8\nK:F\nc|f2 a2|[K:Bb] b4|\n")

	out, err := Write(tune, div)
	require.NoError(t, err)
	assert.Contains(out, "implicit=")

	back, _, err := Parse(out)
	require.NoError(t, err)
	w := back.Voices[0]
	require.Len(t, w.Measures, 3)
	assert.True(w.Measures[0].Pickup)
	require.NotNil(t, w.Measures[2].Key)
	assert.Equal(-2, w.Measures[2].Key.Fifths)
	assert.Equal(soundings(tune.Voices[0]), soundings(w))
}

func TestOrphanTieStartIsDropped(t *testing.T) {
	assert := assert.New(t)
	doc := partwise(firstAttributes +
		xnote("C", 4, 4, `<tie type="start"/><voice>1</voice><type>half</type>`) +
		xnote("D", 4, 4, `<voice>1</voice><type>half</type>`))

	tune, diags, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(model.KindOrphanTie, diags[0].Kind)
	assert.Equal("1", diags[0].Voice)
	assert.Empty(tune.Voices[0].Ties)

	norm, _, err := normalize.Normalize(tune, normalize.ForCompact)
	require.NoError(t, err)
	text, err := abc.Write(norm)
	require.NoError(t, err)
	assert.NotContains(text, "-")
	assert.Contains(text, "C4 D4")
}

func TestOrphanSlurStartIsDropped(t *testing.T) {
	doc := partwise(firstAttributes +
		xnote("C", 4, 4, `<notations><slur type="start" number="1"/></notations>`) +
		xnote("D", 4, 4, ``))
	tune, diags, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, model.KindOrphanSlur, diags[0].Kind)
	assert.Empty(t, tune.Voices[0].Slurs)
}

func TestUnstoppedSlursAreReportedInOrder(t *testing.T) {
	doc := partwise(firstAttributes +
		xnote("C", 4, 4, `<notations><slur type="start" number="2"/></notations>`) +
		xnote("D", 4, 4, `<notations><slur type="start" number="1"/></notations>`))
	for i := 0; i < 5; i++ {
		_, diags, err := Parse(doc)
		require.NoError(t, err)
		require.Len(t, diags, 2)
		assert.Equal(t, "slur 1 never stopped", diags[0].Message)
		assert.Equal(t, "slur 2 never stopped", diags[1].Message)
	}
}

func TestDurationBounds(t *testing.T) {
	tests := []struct {
		name      string
		divisions int
		duration  int
		kind      string
	}{
		{"largest divisions", 1 << 20, 1, ""},
		{"divisions too large", 1 << 30, 1, ErrInvalidAttributes},
		{"duration too long", 2, 99999999, ErrInvalidDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := fmt.Sprintf(`<attributes><divisions>%d</divisions></attributes>`, tt.divisions)
			doc := partwise(attrs + xnote("C", 4, tt.duration, ``) + xnote("D", 4, tt.duration, ``))
			tune, _, err := Parse(doc)
			if tt.kind == "" {
				require.NoError(t, err)
				assert.Equal(t, pitch.NewDuration(1, 1<<21), tune.Voices[0].Measures[0].Duration())
				return
			}
			var me *MarkupError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, tt.kind, me.Kind)
		})
	}
}

func TestTiedFallback(t *testing.T) {
	doc := partwise(firstAttributes +
		xnote("E", 4, 4, `<notations><tied type="start"/></notations>`) +
		xnote("E", 4, 4, `<notations><tied type="stop"/></notations>`))
	tune, diags, err := Parse(doc)
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Equal(t, []model.Link{{From: 0, To: 1}}, tune.Voices[0].Ties)
}

func TestVoicesWithinAPart(t *testing.T) {
	assert := assert.New(t)
	doc := partwise(firstAttributes +
		xnote("C", 5, 8, `<voice>1</voice>`) +
		`<backup><duration>8</duration></backup>` +
		xnote("C", 4, 4, `<voice>2</voice>`) +
		xnote("E", 4, 4, `<voice>2</voice>`))

	tune, _, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, tune.Voices, 2)
	assert.Equal("1", tune.Voices[0].ID)
	assert.Equal("Flute", tune.Voices[0].Name)
	assert.Equal("1.2", tune.Voices[1].ID)
	assert.Equal([]sounding{{"C5", pitch.Whole}}, soundings(tune.Voices[0]))
	assert.Equal([]sounding{{"C4", pitch.NewDuration(1, 2)}, {"E4", pitch.NewDuration(1, 2)}}, soundings(tune.Voices[1]))
}

func TestChordAndForward(t *testing.T) {
	assert := assert.New(t)
	doc := partwise(firstAttributes +
		xnote("C", 4, 4, ``) +
		xnote("E", 4, 4, `<chord/>`) +
		`<forward><duration>4</duration></forward>`)

	tune, _, err := Parse(doc)
	require.NoError(t, err)
	events := tune.Voices[0].Measures[0].Events
	require.Len(t, events, 2)
	chord, ok := events[0].(*model.Chord)
	require.True(t, ok)
	assert.Len(chord.Notes, 2)
	assert.Equal(pitch.NewDuration(1, 2), chord.Length)
	rest, ok := events[1].(*model.Rest)
	require.True(t, ok)
	assert.True(rest.Invisible)
}

func TestTimewise(t *testing.T) {
	assert := assert.New(t)
	part := func(id, body string) string { return `<part id="` + id + `">` + body + `</part>` }
	doc := `<?xml version="1.0"?>
<score-timewise version="4.0">
<part-list><score-part id="P1"><part-name>A</part-name></score-part><score-part id="P2"><part-name>B</part-name></score-part></part-list>
<measure number="1">` + part("P1", firstAttributes+xnote("C", 4, 8, "")) + part("P2", firstAttributes+xnote("E", 4, 8, "")) + `</measure>
<measure number="2">` + part("P1", xnote("D", 4, 8, "")) + part("P2", xnote("F", 4, 8, "")) + `</measure>
</score-timewise>`

	tune, _, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, tune.Voices, 2)
	assert.Equal("2", tune.Voices[1].ID)
	assert.Equal([]sounding{{"C4", pitch.Whole}, {"D4", pitch.Whole}}, soundings(tune.Voices[0]))
	assert.Equal([]sounding{{"E4", pitch.Whole}, {"F4", pitch.Whole}}, soundings(tune.Voices[1]))
	assert.Nil(tune.Voices[1].Measures[0].Key)
}

func TestDeclaredCharset(t *testing.T) {
	doc := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n" +
		"<score-partwise><work><work-title>Caf\xe9</work-title></work>" +
		`<part-list><score-part id="P1"><part-name></part-name></score-part></part-list>` +
		`<part id="P1"><measure number="1">` + firstAttributes + xnote("C", 4, 8, "") + `</measure></part></score-partwise>`
	tune, _, err := Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, "Café", tune.Title)
}

func TestMarkupErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		kind string
	}{
		{"undeclared divisions", partwise(xnote("C", 4, 4, "")), ErrUndeclaredDivisions},
		{"octave", partwise(firstAttributes + xnote("C", 12, 4, "")), ErrOctaveRange},
		{"step", partwise(firstAttributes + xnote("H", 4, 4, "")), ErrInvalidStep},
		{"duration", partwise(firstAttributes + `<note><rest/><duration>x</duration></note>`), ErrInvalidDuration},
		{"root", `<html><body/></html>`, ErrUnsupportedRoot},
		{"malformed", `<score-partwise><part id="P1">`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse(tt.doc)
			var me *MarkupError
			require.True(t, errors.As(err, &me), "%v", err)
			assert.Equal(t, tt.kind, me.Kind)
		})
	}
}

func TestMarkupErrorPath(t *testing.T) {
	_, _, err := Parse(partwise(firstAttributes, firstAttributes+xnote("C", 4, 4, "")+xnote("C", 11, 4, "")))
	var me *MarkupError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "score-partwise/part[P1]/measure[2]/note[2]", me.Path)
}

func TestWriteRejectsInexactTicks(t *testing.T) {
	tune := model.NewTune()
	tune.Voices = []*model.Voice{{ID: "1", Measures: []*model.Measure{{Events: []model.Event{
		&model.Note{Pitch: pitch.New('C', 0, 4), Length: pitch.Eighth},
	}}}}}
	_, err := Write(tune, 1)
	var violation *model.InvariantViolation
	assert.True(t, errors.As(err, &violation))
}
