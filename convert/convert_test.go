package convert

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/jsphweid/abcxml/abc"
	"github.com/jsphweid/abcxml/model"
	"github.com/jsphweid/abcxml/musicxml"
	"github.com/jsphweid/abcxml/pitch"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reel = `X:12
T:The Reel
M:4/4
L:1/8
K:Ador
|:EAAB c2Bc|dBGB dBGB|EAAB c2Bc|1 dBGB A4:|2 dBGB A2z2|]
`

// voiceSummary is the pitch sequence and total duration of a voice.
func voiceSummary(t *model.Tune) ([]string, []pitch.Duration) {
	var pitches []string
	var totals []pitch.Duration
	for _, v := range t.Voices {
		total := pitch.Zero
		for _, m := range v.Measures {
			total = total.Add(m.Duration())
		}
		totals = append(totals, total)
		model.WalkNotes(v, func(r model.NoteRef) {
			pitches = append(pitches, r.Note.Pitch.String())
		})
	}
	return pitches, totals
}

func TestCompactToMarkupExample(t *testing.T) {
	assert := assert.New(t)
	res, err := CompactToMarkup("X:1\nM:4/4\nL:1/8\nK:G\nG2 A2 B2 c2|\n")
	require.NoError(t, err)
	assert.Empty(res.Diagnostics)
	assert.Contains(res.Output, "<score-partwise")
	assert.Contains(res.Output, "<divisions>1</divisions>")
	assert.NotContains(res.Output, "<accidental>")
}

func TestMismatchedMeasureIsDiagnosed(t *testing.T) {
	assert := assert.New(t)
	res, err := CompactToMarkup("X:1\nM:4/4\nL:1/4\nK:C\nC D E|F G A B|\n")
	require.NoError(t, err)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(model.KindMeasureMismatch, res.Diagnostics[0].Kind)
	assert.Equal(model.Warning, res.Diagnostics[0].Severity)
	assert.Equal(1, res.Diagnostics[0].Measure)
	assert.NotEmpty(res.Output)

	res, err = CompactToMarkup("X:1\nM:4/4\nL:1/4\nK:C\nC D E|F G A B|\n", WithStrict(true))
	assert.ErrorIs(err, ErrWarnings)
	var convErr *Error
	require.ErrorAs(t, err, &convErr)
	assert.Equal("strict", convErr.Stage())
	assert.Len(res.Diagnostics, 1)
}

func TestMarkupOrphanTie(t *testing.T) {
	assert := assert.New(t)
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<score-partwise version="4.0">
  <part-list><score-part id="P1"><part-name>Music</part-name></score-part></part-list>
  <part id="P1">
    <measure number="1">
      <attributes><divisions>1</divisions><key><fifths>0</fifths></key><time><beats>2</beats><beat-type>4</beat-type></time></attributes>
      <note><pitch><step>G</step><octave>4</octave></pitch><duration>1</duration><tie type="start"/></note>
      <note><pitch><step>A</step><octave>4</octave></pitch><duration>1</duration></note>
    </measure>
  </part>
</score-partwise>`

	res, err := MarkupToCompact(doc)
	require.NoError(t, err)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(model.KindOrphanTie, res.Diagnostics[0].Kind)
	assert.NotContains(res.Output, "-")
	assert.Contains(res.Output, "K:C")
}

func TestMarkupLyricsKeepControlCharacters(t *testing.T) {
	lyricNote := func(step, text string) string {
		return `<note><pitch><step>` + step + `</step><octave>4</octave></pitch><duration>1</duration>` +
			`<lyric number="1"><syllabic>single</syllabic><text>` + text + `</text></lyric></note>`
	}
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<score-partwise version="4.0">
  <part-list><score-part id="P1"><part-name>Music</part-name></score-part></part-list>
  <part id="P1">
    <measure number="1">
      <attributes><divisions>1</divisions><key><fifths>0</fifths></key><time><beats>4</beats><beat-type>4</beat-type></time></attributes>` +
		lyricNote("C", "a*b_c|d") + lyricNote("D", `x~y\z`) + lyricNote("E", "50%") + lyricNote("F", "two words") + `
    </measure>
  </part>
</score-partwise>`

	res, err := MarkupToCompact(doc)
	require.NoError(t, err)
	tune, _, err := abc.Parse(res.Output)
	require.NoError(t, err)

	var texts []string
	model.WalkNotes(tune.Voices[0], func(r model.NoteRef) {
		require.NotNil(t, r.Note.Lyric)
		texts = append(texts, r.Note.Lyric.Text)
	})
	assert.Equal(t, []string{"a*b_c|d", `x~y\z`, "50%", "two words"}, texts)
}

func TestIdempotence(t *testing.T) {
	assert := assert.New(t)
	markup, err := CompactToMarkup(reel)
	require.NoError(t, err)
	assert.Empty(markup.Diagnostics)

	back, err := MarkupToCompact(markup.Output)
	require.NoError(t, err)

	orig, _, err := abc.Parse(reel)
	require.NoError(t, err)
	again, _, err := abc.Parse(back.Output)
	require.NoError(t, err)

	origPitches, origTotals := voiceSummary(orig)
	pitches, totals := voiceSummary(again)
	assert.Equal(origPitches, pitches)
	assert.Equal(origTotals, totals)
	assert.Equal("The Reel", again.Title)
	assert.Equal(12, again.Reference)
	assert.Equal(orig.Key, again.Key)
}

func TestErrorsCarryTheirStage(t *testing.T) {
	tests := []struct {
		name  string
		run   func() error
		stage string
		as    func(error) bool
	}{
		{
			name: "unterminated chord",
			run: func() error {
				_, err := CompactToMarkup("X:1\nK:C\n[CEG C|\n")
				return err
			},
			stage: "parse",
			as: func(err error) bool {
				var pe *abc.ParseError
				return errors.As(err, &pe) && pe.Kind == abc.ErrUnterminatedChord
			},
		},
		{
			name: "lex",
			run: func() error {
				_, err := CompactToMarkup("X:1\nK:C\nC D # E|\n")
				return err
			},
			stage: "lex",
			as: func(err error) bool {
				var le *abc.LexError
				return errors.As(err, &le)
			},
		},
		{
			name: "markup",
			run: func() error {
				_, err := MarkupToCompact("<html/>")
				return err
			},
			stage: "markup",
			as: func(err error) bool {
				var me *musicxml.MarkupError
				return errors.As(err, &me) && me.Kind == musicxml.ErrUnsupportedRoot
			},
		},
		{
			name: "measure length out of range",
			run: func() error {
				_, err := CompactToMarkup("X:1\nL:1/8\nK:C\nA/4093 B/4091 c/4079 d/4073 e/4057 f/4051|\n")
				return err
			},
			stage: "range",
			as: func(err error) bool {
				return errors.Is(err, pitch.ErrOverflow)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			var convErr *Error
			require.ErrorAs(t, err, &convErr)
			assert.Equal(t, tt.stage, convErr.Stage())
			assert.True(t, tt.as(err))
		})
	}
}

func TestCompactToMIDI(t *testing.T) {
	data, res, err := CompactToMIDI(reel)
	require.NoError(t, err)
	assert.Empty(t, res.Output)
	assert.True(t, bytes.HasPrefix(data, []byte("MThd")))
}

func TestConvertDispatch(t *testing.T) {
	assert := assert.New(t)
	markup, _, err := Convert(reel, ABC, MusicXML)
	require.NoError(t, err)
	assert.Equal(MusicXML, Detect(string(markup)))

	data, _, err := Convert(string(markup), MusicXML, MIDI)
	require.NoError(t, err)
	assert.True(bytes.HasPrefix(data, []byte("MThd")))

	_, _, err = Convert(reel, ABC, ABC)
	assert.Error(err)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in       string
		expected Format
	}{
		{"abc", ABC},
		{"MusicXML", MusicXML},
		{"xml", MusicXML},
		{" mid ", MIDI},
	}
	for _, tt := range tests {
		f, err := ParseFormat(tt.in)
		assert.NoError(t, err)
		assert.Equal(t, tt.expected, f)
	}
	_, err := ParseFormat("pdf")
	assert.Error(t, err)
}

func TestLoggerReceivesConversionEvents(t *testing.T) {
	var buf strings.Builder
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	_, err := CompactToMarkup(reel, WithLogger(logger))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"direction":"abc->musicxml"`)
	assert.Contains(t, buf.String(), `"voices":1`)
}
