package musicxml

import (
	"encoding/xml"
)

// The x* types mirror the subset of MusicXML elements the parser decodes
// with xml.Decoder.DecodeElement. Numeric content is kept as text so that
// bad values surface as MarkupErrors rather than decoder errors.

type xEmpty struct{}

type xTyped struct {
	Type   string `xml:"type,attr"`
	Number string `xml:"number,attr"`
}

type xName struct {
	XMLName xml.Name
}

type xChildren struct {
	Items []xName `xml:",any"`
}

type xWork struct {
	Number string `xml:"work-number"`
	Title  string `xml:"work-title"`
}

type xCreator struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type xMiscField struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type xIdentification struct {
	Creators []xCreator   `xml:"creator"`
	Misc     []xMiscField `xml:"miscellaneous>miscellaneous-field"`
}

type xScorePart struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"part-name"`
}

type xKey struct {
	PrintObject string   `xml:"print-object,attr"`
	Fifths      string   `xml:"fifths"`
	Mode        string   `xml:"mode"`
	Steps       []string `xml:"key-step"`
	Alters      []string `xml:"key-alter"`
}

type xTime struct {
	Symbol      string  `xml:"symbol,attr"`
	Beats       string  `xml:"beats"`
	BeatType    string  `xml:"beat-type"`
	SenzaMisura *xEmpty `xml:"senza-misura"`
}

type xClef struct {
	Number       string `xml:"number,attr"`
	Sign         string `xml:"sign"`
	Line         string `xml:"line"`
	OctaveChange string `xml:"clef-octave-change"`
}

type xAttributes struct {
	Divisions string  `xml:"divisions"`
	Keys      []xKey  `xml:"key"`
	Times     []xTime `xml:"time"`
	Clefs     []xClef `xml:"clef"`
}

type xPitch struct {
	Step   string `xml:"step"`
	Alter  string `xml:"alter"`
	Octave string `xml:"octave"`
}

type xUnpitched struct {
	Step   string `xml:"display-step"`
	Octave string `xml:"display-octave"`
}

type xRest struct {
	Measure string `xml:"measure,attr"`
}

type xTimeModification struct {
	Actual int `xml:"actual-notes"`
	Normal int `xml:"normal-notes"`
}

type xNotations struct {
	Tied          []xTyped    `xml:"tied"`
	Slurs         []xTyped    `xml:"slur"`
	Tuplets       []xTyped    `xml:"tuplet"`
	Articulations []xChildren `xml:"articulations"`
	Ornaments     []xChildren `xml:"ornaments"`
	Technical     []xChildren `xml:"technical"`
	Dynamics      []xChildren `xml:"dynamics"`
	Fermatas      []xEmpty    `xml:"fermata"`
	Arpeggiate    []xEmpty    `xml:"arpeggiate"`
	Other         []string    `xml:"other-notation"`
}

type xLyric struct {
	Number   string   `xml:"number,attr"`
	Syllabic string   `xml:"syllabic"`
	Text     []string `xml:"text"`
	Extend   *xEmpty  `xml:"extend"`
}

type xNote struct {
	PrintObject string             `xml:"print-object,attr"`
	Grace       *xEmpty            `xml:"grace"`
	Chord       *xEmpty            `xml:"chord"`
	Pitch       *xPitch            `xml:"pitch"`
	Unpitched   *xUnpitched        `xml:"unpitched"`
	Rest        *xRest             `xml:"rest"`
	Duration    string             `xml:"duration"`
	Ties        []xTyped           `xml:"tie"`
	Voice       string             `xml:"voice"`
	Type        string             `xml:"type"`
	Dots        []xEmpty           `xml:"dot"`
	Accidental  string             `xml:"accidental"`
	TimeMod     *xTimeModification `xml:"time-modification"`
	Notations   []xNotations       `xml:"notations"`
	Lyrics      []xLyric           `xml:"lyric"`
}

type xForward struct {
	Duration string `xml:"duration"`
	Voice    string `xml:"voice"`
}

type xMetronome struct {
	BeatUnit  string   `xml:"beat-unit"`
	Dots      []xEmpty `xml:"beat-unit-dot"`
	PerMinute string   `xml:"per-minute"`
}

type xDirectionType struct {
	Words     []string    `xml:"words"`
	Segno     []xEmpty    `xml:"segno"`
	Coda      []xEmpty    `xml:"coda"`
	Dynamics  []xChildren `xml:"dynamics"`
	Metronome *xMetronome `xml:"metronome"`
}

type xSound struct {
	Tempo string `xml:"tempo,attr"`
}

type xDirection struct {
	Types []xDirectionType `xml:"direction-type"`
	Voice string           `xml:"voice"`
	Sound *xSound          `xml:"sound"`
}

type xRepeat struct {
	Direction string `xml:"direction,attr"`
}

type xBarline struct {
	Location string  `xml:"location,attr"`
	BarStyle string  `xml:"bar-style"`
	Repeat   *xRepeat `xml:"repeat"`
	Ending   *xTyped  `xml:"ending"`
}

type xPrint struct {
	NewSystem string `xml:"new-system,attr"`
}
