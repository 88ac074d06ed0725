package abc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jsphweid/abcxml/constants"
	"github.com/jsphweid/abcxml/model"
	"github.com/jsphweid/abcxml/pitch"
)

// Write renders a normalized tune. Accidentals are taken from the notes'
// display Accidental, so the tune must have been spelled first.
func Write(t *model.Tune) (string, error) {
	w := &writer{tune: t, unit: t.UnitLength}
	if !w.unit.IsPositive() {
		w.unit = pitch.Eighth
	}
	w.header()
	withVoiceLines := w.needsVoiceFields()
	for _, v := range t.Voices {
		if withVoiceLines {
			fmt.Fprintf(&w.b, "V:%s\n", v.ID)
		}
		if err := w.voice(v); err != nil {
			return "", err
		}
	}
	for _, text := range t.InfoFields('W') {
		fmt.Fprintf(&w.b, "W:%s\n", text)
	}
	return w.b.String(), nil
}

type writer struct {
	b    strings.Builder
	tune *model.Tune
	unit pitch.Duration
}

func (w *writer) needsVoiceFields() bool {
	if len(w.tune.Voices) > 1 {
		return true
	}
	for _, v := range w.tune.Voices {
		if v.Name != "" || (!v.Clef.IsZero() && v.Clef != model.TrebleClef) {
			return true
		}
	}
	return false
}

func (w *writer) header() {
	t := w.tune
	ref := t.Reference
	if ref <= 0 {
		ref = 1
	}
	fmt.Fprintf(&w.b, "X:%d\n", ref)
	if t.Title != "" {
		fmt.Fprintf(&w.b, "T:%s\n", t.Title)
	}
	for _, s := range t.InfoFields('T') {
		fmt.Fprintf(&w.b, "T:%s\n", s)
	}
	if t.Composer != "" {
		fmt.Fprintf(&w.b, "C:%s\n", t.Composer)
	}
	for _, s := range t.InfoFields('C') {
		fmt.Fprintf(&w.b, "C:%s\n", s)
	}
	for _, f := range t.Info {
		if f.Tag == 'T' || f.Tag == 'C' || f.Tag == 'W' {
			continue
		}
		fmt.Fprintf(&w.b, "%c:%s\n", f.Tag, f.Value)
	}
	fmt.Fprintf(&w.b, "M:%s\n", t.Meter)
	fmt.Fprintf(&w.b, "L:%s\n", fraction(w.unit))
	if t.Tempo != nil {
		w.b.WriteString("Q:" + tempoText(t.Tempo) + "\n")
	}
	if w.needsVoiceFields() {
		for _, v := range t.Voices {
			w.b.WriteString("V:" + v.ID)
			if v.Name != "" {
				fmt.Fprintf(&w.b, " name=%q", v.Name)
			}
			if name := v.Clef.Name(); name != "" && v.Clef != model.TrebleClef {
				w.b.WriteString(" clef=" + name)
			}
			w.b.WriteString("\n")
		}
	}
	fmt.Fprintf(&w.b, "K:%s\n", t.Key)
}

// fraction always writes a slash so the value reads back as a fraction.
func fraction(d pitch.Duration) string {
	if d.IsInteger() {
		return fmt.Sprintf("%d/1", d.Num)
	}
	return d.String()
}

func tempoText(t *model.Tempo) string {
	var parts []string
	if t.Text != "" {
		parts = append(parts, strconv.Quote(t.Text))
	}
	if t.BPM > 0 {
		parts = append(parts, fmt.Sprintf("%s=%d", fraction(t.Beat), t.BPM))
	}
	return strings.Join(parts, " ")
}

// voiceWriter holds the per-voice state of one rendering pass.
type voiceWriter struct {
	*writer
	voice     *model.Voice
	ordinal   int
	tieStarts map[int]bool
	slurStart map[int]int
	slurEnd   map[int]int
	// lyrics collects the w: tokens of the current line.
	lyrics    []string
	hasLyrics bool
	extending bool
}

func (w *writer) voice(v *model.Voice) error {
	vw := &voiceWriter{
		writer:    w,
		voice:     v,
		tieStarts: v.TieStarts(),
		slurStart: map[int]int{},
		slurEnd:   map[int]int{},
	}
	for _, l := range v.Slurs {
		vw.slurStart[l.From]++
		vw.slurEnd[l.To]++
	}

	explicitBreaks := false
	for _, m := range v.Measures {
		explicitBreaks = explicitBreaks || m.LineBreak
	}

	var line []string
	inLine := 0
	for i, m := range v.Measures {
		if inLine == 0 {
			if left := leftBar(m); left != "" {
				line = append(line, left)
			}
		}
		content, err := vw.measure(m)
		if err != nil {
			return err
		}
		if content != "" {
			line = append(line, content)
		}
		inLine++

		var next *model.Measure
		if i+1 < len(v.Measures) {
			next = v.Measures[i+1]
		}
		breakHere := next == nil || m.LineBreak ||
			(!explicitBreaks && inLine == constants.MeasuresPerLine)
		if breakHere {
			line = append(line, rightBar(m))
			vw.flushLine(line)
			line, inLine = nil, 0
			continue
		}
		line = append(line, joinBars(m, next))
	}
	return nil
}

func (vw *voiceWriter) flushLine(line []string) {
	vw.b.WriteString(strings.Join(line, " "))
	vw.b.WriteString("\n")
	if vw.hasLyrics {
		tokens := vw.lyrics
		for len(tokens) > 0 && tokens[len(tokens)-1] == "* " {
			tokens = tokens[:len(tokens)-1]
		}
		vw.b.WriteString("w:" + strings.TrimSpace(strings.Join(tokens, "")) + "\n")
	}
	vw.lyrics, vw.hasLyrics = nil, false
}

func rightBar(m *model.Measure) string {
	bar := "|"
	switch m.BarStyle {
	case model.BarLightLight:
		bar = "||"
	case model.BarLightHeavy:
		bar = "|]"
	case model.BarHeavyLight:
		bar = "[|"
	}
	if m.RepeatEnd {
		bar = ":" + bar
	}
	return bar
}

// leftBar is the bar that opens a line starting with m.
func leftBar(m *model.Measure) string {
	switch {
	case m.RepeatStart && m.Ending > 0:
		return "|:" + strconv.Itoa(m.Ending)
	case m.RepeatStart:
		return "|:"
	case m.Ending > 0:
		return "[" + strconv.Itoa(m.Ending)
	}
	return ""
}

// joinBars merges the closing bar of m with the opening of next, e.g. :| and
// |: become :|:.
func joinBars(m, next *model.Measure) string {
	bar := rightBar(m)
	if next.RepeatStart {
		bar += ":"
	}
	if next.Ending > 0 {
		bar += strconv.Itoa(next.Ending)
	}
	return bar
}

func (vw *voiceWriter) measure(m *model.Measure) (string, error) {
	var parts []string
	if m.Meter != nil {
		parts = append(parts, "[M:"+m.Meter.String()+"]")
	}
	if m.Key != nil {
		parts = append(parts, "[K:"+m.Key.String()+"]")
	}
	if m.Clef != nil {
		if name := m.Clef.Name(); name != "" {
			parts = append(parts, "[V:"+vw.voice.ID+" clef="+name+"]")
		}
	}
	for _, e := range m.Events {
		s, err := vw.event(e, m)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " "), nil
}

func (vw *voiceWriter) event(e model.Event, m *model.Measure) (string, error) {
	switch e := e.(type) {
	case *model.Note:
		return vw.note(e)
	case *model.Rest:
		return vw.rest(e, m)
	case *model.Chord:
		return vw.chord(e)
	case *model.Tuplet:
		return vw.tuplet(e)
	}
	return "", model.Violationf("unknown event %T", e)
}

func (vw *voiceWriter) length(d pitch.Duration) (string, error) {
	if !d.IsPositive() {
		return "", model.Violationf("non-positive length %s", d)
	}
	r := d.Div(vw.unit)
	switch {
	case r.Num == 1 && r.Den == 1:
		return "", nil
	case r.Den == 1:
		return strconv.FormatInt(r.Num, 10), nil
	case r.Num == 1 && r.Den == 2:
		return "/", nil
	case r.Num == 1:
		return "/" + strconv.FormatInt(r.Den, 10), nil
	}
	return fmt.Sprintf("%d/%d", r.Num, r.Den), nil
}

func pitchText(n *model.Note) string {
	var b strings.Builder
	switch n.Accidental {
	case pitch.Natural:
		b.WriteString("=")
	case pitch.Sharp:
		b.WriteString("^")
	case pitch.Flat:
		b.WriteString("_")
	case pitch.DoubleSharp:
		b.WriteString("^^")
	case pitch.DoubleFlat:
		b.WriteString("__")
	}
	p := n.Pitch
	if p.Octave >= 5 {
		b.WriteByte(p.Step + ('a' - 'A'))
		b.WriteString(strings.Repeat("'", p.Octave-5))
	} else {
		b.WriteByte(p.Step)
		b.WriteString(strings.Repeat(",", 4-p.Octave))
	}
	return b.String()
}

func prefix(decorations, annotations []string) string {
	var b strings.Builder
	for _, a := range annotations {
		b.WriteString(`"` + a + `"`)
	}
	for _, d := range decorations {
		b.WriteString(writeDecoration(d))
	}
	return b.String()
}

func (vw *voiceWriter) graces(notes []*model.Note) (string, error) {
	if len(notes) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString("{")
	for _, g := range notes {
		l, err := vw.length(g.Length)
		if err != nil {
			return "", err
		}
		b.WriteString(pitchText(g) + l)
	}
	b.WriteString("}")
	return b.String(), nil
}

// slurs writes the slur openings for the note with the given ordinal.
func (vw *voiceWriter) slurs(ord int) string {
	return strings.Repeat("(", vw.slurStart[ord])
}

func (vw *voiceWriter) note(n *model.Note) (string, error) {
	ord := vw.ordinal
	vw.ordinal++
	l, err := vw.length(n.Length)
	if err != nil {
		return "", err
	}
	g, err := vw.graces(n.Graces)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(vw.slurs(ord))
	b.WriteString(g)
	b.WriteString(prefix(n.Decorations, n.Annotations))
	b.WriteString(pitchText(n) + l)
	if vw.tieStarts[ord] {
		b.WriteString("-")
	}
	b.WriteString(strings.Repeat(")", vw.slurEnd[ord]))
	vw.lyric(n.Lyric)
	return b.String(), nil
}

func (vw *voiceWriter) chord(c *model.Chord) (string, error) {
	l, err := vw.length(c.Length)
	if err != nil {
		return "", err
	}
	g, err := vw.graces(c.Graces)
	if err != nil {
		return "", err
	}
	first := vw.ordinal
	var members strings.Builder
	ends := 0
	for _, n := range c.Notes {
		ord := vw.ordinal
		vw.ordinal++
		members.WriteString(prefix(n.Decorations, n.Annotations))
		members.WriteString(pitchText(n))
		if vw.tieStarts[ord] {
			members.WriteString("-")
		}
		ends += vw.slurEnd[ord]
	}
	var b strings.Builder
	b.WriteString(vw.slurs(first))
	b.WriteString(g)
	b.WriteString(prefix(c.Decorations, c.Annotations))
	b.WriteString("[" + members.String() + "]" + l)
	b.WriteString(strings.Repeat(")", ends))
	vw.lyric(c.Lyric)
	return b.String(), nil
}

func (vw *voiceWriter) rest(r *model.Rest, m *model.Measure) (string, error) {
	meter := vw.tune.Meter
	if m.Meter != nil {
		meter = *m.Meter
	}
	pre := prefix(r.Decorations, r.Annotations)
	if r.Measure && !meter.Free && r.Length == meter.Duration() {
		if r.Invisible {
			return pre + "X", nil
		}
		return pre + "Z", nil
	}
	l, err := vw.length(r.Length)
	if err != nil {
		return "", err
	}
	if r.Invisible {
		return pre + "x" + l, nil
	}
	return pre + "z" + l, nil
}

func defaultTupletQ(p int, meter model.Meter) int {
	switch p {
	case 2, 4, 8:
		return 3
	case 3, 6:
		return 2
	}
	if meter.IsCompound() {
		return 3
	}
	return 2
}

func (vw *voiceWriter) tuplet(t *model.Tuplet) (string, error) {
	var parts []string
	for _, e := range t.Events {
		if _, nested := e.(*model.Tuplet); nested {
			return "", model.Violationf("nested tuplet")
		}
		s, err := vw.event(e, &model.Measure{})
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	head := fmt.Sprintf("(%d", t.P)
	if t.Q != defaultTupletQ(t.P, vw.tune.Meter) || len(t.Events) != t.P {
		head = fmt.Sprintf("(%d:%d:%d", t.P, t.Q, len(t.Events))
	}
	return head + strings.Join(parts, ""), nil
}

// lyricEscaper keeps syllable text from being read as alignment controls.
var lyricEscaper = strings.NewReplacer(
	`\`, `\\`, "-", `\-`, "_", `\_`, "*", `\*`, "|", `\|`, "~", `\~`, "%", `\%`,
	" ", "~", "\t", "~",
)

func (vw *voiceWriter) lyric(l *model.Lyric) {
	if l == nil {
		if vw.extending {
			vw.lyrics = append(vw.lyrics, "_ ")
		} else {
			vw.lyrics = append(vw.lyrics, "* ")
		}
		return
	}
	vw.hasLyrics = true
	text := lyricEscaper.Replace(l.Text)
	switch l.Syllabic {
	case model.Begin, model.Middle:
		vw.lyrics = append(vw.lyrics, text+"-")
	default:
		vw.lyrics = append(vw.lyrics, text+" ")
	}
	vw.extending = l.Extend
}
