package musicxml

import (
	"strconv"

	xmldom "github.com/subchen/go-xmldom"

	"github.com/jsphweid/abcxml/constants"
	"github.com/jsphweid/abcxml/model"
	"github.com/jsphweid/abcxml/pitch"
)

const doctype = `<!DOCTYPE score-partwise PUBLIC "-//Recordare//DTD MusicXML 4.0 Partwise//EN" "http://www.musicxml.org/dtds/partwise.dtd">`

// Write renders a normalized tune as a score-partwise document with one part
// per voice. divisions must make every sounding duration a whole number of
// ticks; a duration that does not fit is an InvariantViolation.
func Write(t *model.Tune, divisions int) (string, error) {
	if divisions <= 0 {
		return "", model.Violationf("divisions %d", divisions)
	}
	doc := xmldom.NewDocument("score-partwise")
	doc.Directives = []string{doctype}
	root := doc.Root
	root.SetAttributeValue("version", constants.MusicXMLVersion)

	w := &writer{tune: t, divisions: divisions}
	w.header(root)
	w.partList(root)
	for i, v := range t.Voices {
		if err := w.part(root, i, v); err != nil {
			return "", err
		}
	}
	return doc.XMLPretty(), nil
}

type writer struct {
	tune      *model.Tune
	divisions int
}

func text(parent *xmldom.Node, name, value string) *xmldom.Node {
	n := parent.CreateNode(name)
	n.Text = value
	return n
}

func (w *writer) header(root *xmldom.Node) {
	t := w.tune
	work := root.CreateNode("work")
	text(work, "work-number", strconv.Itoa(t.Reference))
	text(work, "work-title", t.Title)

	id := root.CreateNode("identification")
	if t.Composer != "" {
		text(id, "creator", t.Composer).SetAttributeValue("type", "composer")
	}
	enc := id.CreateNode("encoding")
	text(enc, "software", constants.Software)
	if len(t.Info) > 0 {
		misc := id.CreateNode("miscellaneous")
		for _, f := range t.Info {
			text(misc, "miscellaneous-field", f.Value).SetAttributeValue("name", string(f.Tag))
		}
	}
}

func partID(i int) string {
	return "P" + strconv.Itoa(i+1)
}

func (w *writer) partList(root *xmldom.Node) {
	list := root.CreateNode("part-list")
	for i, v := range w.tune.Voices {
		sp := list.CreateNode("score-part")
		sp.SetAttributeValue("id", partID(i))
		text(sp, "part-name", v.Name)
	}
}

// partWriter holds the per-voice state of one part.
type partWriter struct {
	*writer
	voice     *model.Voice
	first     bool
	ordinal   int
	tieStarts map[int]bool
	tieStops  map[int]bool
	slurStart map[int]int
	slurStop  map[int]int
	// slurNumbers maps the ordinal a slur ends on to the numbers it holds.
	slurNumbers map[int][]int
	inUse       [constants.MaxSlurNumber + 1]bool
}

func (w *writer) part(root *xmldom.Node, index int, v *model.Voice) error {
	pw := &partWriter{
		writer:      w,
		voice:       v,
		first:       index == 0,
		tieStarts:   v.TieStarts(),
		tieStops:    v.TieStops(),
		slurStart:   map[int]int{},
		slurStop:    map[int]int{},
		slurNumbers: map[int][]int{},
	}
	for _, l := range v.Slurs {
		pw.slurStart[l.From]++
		pw.slurStop[l.To]++
	}
	part := root.CreateNode("part")
	part.SetAttributeValue("id", partID(index))

	number := 1
	ending := 0
	for mi, m := range v.Measures {
		mn := part.CreateNode("measure")
		if mi == 0 && m.Pickup {
			mn.SetAttributeValue("number", "0")
			mn.SetAttributeValue("implicit", "yes")
		} else {
			mn.SetAttributeValue("number", strconv.Itoa(number))
			number++
		}
		if mi > 0 && v.Measures[mi-1].LineBreak {
			mn.CreateNode("print").SetAttributeValue("new-system", "yes")
		}
		if m.RepeatStart || m.Ending > 0 {
			bl := mn.CreateNode("barline")
			bl.SetAttributeValue("location", "left")
			if m.Ending > 0 {
				e := bl.CreateNode("ending")
				e.SetAttributeValue("number", strconv.Itoa(m.Ending))
				e.SetAttributeValue("type", "start")
				ending = m.Ending
			}
			if m.RepeatStart {
				bl.CreateNode("repeat").SetAttributeValue("direction", "forward")
			}
		}
		pw.attributes(mn, mi, m)
		if mi == 0 && pw.first && w.tune.Tempo != nil {
			pw.tempo(mn)
		}
		for _, e := range m.Events {
			if err := pw.event(mn, e, nil); err != nil {
				return err
			}
		}

		var next *model.Measure
		if mi+1 < len(v.Measures) {
			next = v.Measures[mi+1]
		}
		endingStops := ending > 0 && (m.RepeatEnd || m.BarStyle != "" || next == nil || next.Ending > 0 || next.RepeatStart)
		if m.RepeatEnd || m.BarStyle != "" || endingStops {
			bl := mn.CreateNode("barline")
			bl.SetAttributeValue("location", "right")
			style := m.BarStyle
			if style == "" && m.RepeatEnd {
				style = model.BarLightHeavy
			}
			if style != "" {
				text(bl, "bar-style", style)
			}
			if endingStops {
				e := bl.CreateNode("ending")
				e.SetAttributeValue("number", strconv.Itoa(ending))
				if m.RepeatEnd {
					e.SetAttributeValue("type", "stop")
				} else {
					e.SetAttributeValue("type", "discontinue")
				}
				ending = 0
			}
			if m.RepeatEnd {
				bl.CreateNode("repeat").SetAttributeValue("direction", "backward")
			}
		}
	}
	return nil
}

func (pw *partWriter) attributes(mn *xmldom.Node, mi int, m *model.Measure) {
	key, meter, clef := m.Key, m.Meter, m.Clef
	if mi == 0 {
		if key == nil {
			key = &pw.tune.Key
		}
		if meter == nil {
			meter = &pw.tune.Meter
		}
		if clef == nil {
			c := pw.voice.Clef
			if c.IsZero() {
				c = model.TrebleClef
			}
			clef = &c
		}
	}
	if mi > 0 && key == nil && meter == nil && clef == nil {
		return
	}

	a := mn.CreateNode("attributes")
	if mi == 0 {
		text(a, "divisions", strconv.Itoa(pw.divisions))
	}
	if key != nil {
		writeKey(a, *key)
	}
	if meter != nil {
		writeTime(a, *meter)
	}
	if clef != nil {
		c := a.CreateNode("clef")
		text(c, "sign", clef.Sign)
		if clef.Line > 0 {
			text(c, "line", strconv.Itoa(clef.Line))
		}
		if clef.OctaveChange != 0 {
			text(c, "clef-octave-change", strconv.Itoa(clef.OctaveChange))
		}
	}
}

func writeKey(parent *xmldom.Node, k model.KeySignature) {
	kn := parent.CreateNode("key")
	switch {
	case k.None:
		kn.SetAttributeValue("print-object", "no")
		text(kn, "fifths", "0")
		text(kn, "mode", "none")
	case len(k.Extra()) > 0:
		// a modified signature is written in the non-traditional form,
		// listing every altered step
		for i := 0; i < 7; i++ {
			if k.Alters[i] == 0 {
				continue
			}
			text(kn, "key-step", string(pitch.Steps[i]))
			text(kn, "key-alter", strconv.Itoa(k.Alters[i]))
		}
	default:
		text(kn, "fifths", strconv.Itoa(k.Fifths))
		mode := k.Mode
		if mode == "" {
			mode = "major"
		}
		text(kn, "mode", mode)
	}
}

func writeTime(parent *xmldom.Node, m model.Meter) {
	tn := parent.CreateNode("time")
	if m.Free {
		tn.CreateNode("senza-misura")
		return
	}
	if m.Symbol != "" {
		tn.SetAttributeValue("symbol", m.Symbol)
	}
	text(tn, "beats", strconv.Itoa(m.Num))
	text(tn, "beat-type", strconv.Itoa(m.Den))
}

func (pw *partWriter) tempo(mn *xmldom.Node) {
	t := pw.tune.Tempo
	name, dots, ok := pitch.NoteType(t.Beat)
	metronome := t.BPM > 0 && ok
	if t.Text == "" && !metronome {
		return
	}
	dir := mn.CreateNode("direction")
	dir.SetAttributeValue("placement", "above")
	if t.Text != "" {
		text(dir.CreateNode("direction-type"), "words", t.Text)
	}
	if metronome {
		met := dir.CreateNode("direction-type").CreateNode("metronome")
		text(met, "beat-unit", name)
		for i := 0; i < dots; i++ {
			met.CreateNode("beat-unit-dot")
		}
		text(met, "per-minute", strconv.Itoa(t.BPM))
	}
	if t.BPM > 0 {
		q := t.Beat.Quarters().Mul(int64(t.BPM), 1)
		bpm := strconv.FormatFloat(float64(q.Num)/float64(q.Den), 'f', -1, 64)
		dir.CreateNode("sound").SetAttributeValue("tempo", bpm)
	}
}

// directions writes the annotations and direction signs that precede an
// event.
func (pw *partWriter) directions(mn *xmldom.Node, annotations, decorations []string) {
	for _, a := range annotations {
		dir := mn.CreateNode("direction")
		dir.SetAttributeValue("placement", "above")
		text(dir.CreateNode("direction-type"), "words", a)
	}
	for _, d := range decorations {
		if !directionSigns[d] {
			continue
		}
		dir := mn.CreateNode("direction")
		dir.SetAttributeValue("placement", "above")
		dir.CreateNode("direction-type").CreateNode(d)
	}
}

func (pw *partWriter) ticks(d pitch.Duration) (string, error) {
	n, ok := d.Ticks(pw.divisions)
	if !ok || n <= 0 {
		return "", model.Violationf("voice %s: %s is not a whole number of ticks at divisions %d", pw.voice.ID, d, pw.divisions)
	}
	return strconv.Itoa(n), nil
}

// tupletInfo is the time modification of an event inside a tuplet.
type tupletInfo struct {
	t     *model.Tuplet
	start bool
	stop  bool
}

func (pw *partWriter) event(mn *xmldom.Node, e model.Event, tup *tupletInfo) error {
	switch e := e.(type) {
	case *model.Note:
		pw.directions(mn, e.Annotations, e.Decorations)
		if err := pw.graces(mn, e.Graces); err != nil {
			return err
		}
		return pw.note(mn, e, e.Length, false, e.Decorations, e.Lyric, tup)
	case *model.Chord:
		pw.directions(mn, e.Annotations, e.Decorations)
		if err := pw.graces(mn, e.Graces); err != nil {
			return err
		}
		for i, n := range e.Notes {
			decorations, lyric := n.Decorations, n.Lyric
			if i == 0 {
				decorations = append(append([]string(nil), e.Decorations...), n.Decorations...)
				lyric = e.Lyric
			}
			if err := pw.note(mn, n, e.Length, i > 0, decorations, lyric, tup); err != nil {
				return err
			}
		}
		return nil
	case *model.Rest:
		pw.directions(mn, e.Annotations, e.Decorations)
		return pw.rest(mn, e, tup)
	case *model.Tuplet:
		if tup != nil {
			return model.Violationf("nested tuplet")
		}
		for i, inner := range e.Events {
			info := &tupletInfo{t: e, start: i == 0, stop: i == len(e.Events)-1}
			if err := pw.event(mn, inner, info); err != nil {
				return err
			}
		}
		return nil
	}
	return model.Violationf("unknown event %T", e)
}

func (pw *partWriter) graces(mn *xmldom.Node, notes []*model.Note) error {
	for _, g := range notes {
		nn := mn.CreateNode("note")
		nn.CreateNode("grace")
		writePitch(nn, g.Pitch)
		text(nn, "voice", "1")
		if name, dots, ok := pitch.NoteType(g.Length); ok {
			text(nn, "type", name)
			for i := 0; i < dots; i++ {
				nn.CreateNode("dot")
			}
		} else {
			text(nn, "type", "eighth")
		}
		if g.Accidental != pitch.AccidentalNone {
			text(nn, "accidental", g.Accidental.String())
		}
	}
	return nil
}

func writePitch(nn *xmldom.Node, p pitch.Pitch) {
	pn := nn.CreateNode("pitch")
	text(pn, "step", string(p.Step))
	if p.Alter != 0 {
		text(pn, "alter", strconv.Itoa(p.Alter))
	}
	text(pn, "octave", strconv.Itoa(p.Octave))
}

func noteType(nn *xmldom.Node, nominal pitch.Duration) {
	if name, dots, ok := pitch.NoteType(nominal); ok {
		text(nn, "type", name)
		for i := 0; i < dots; i++ {
			nn.CreateNode("dot")
		}
	}
}

func timeModification(nn *xmldom.Node, tup *tupletInfo) {
	if tup == nil {
		return
	}
	tm := nn.CreateNode("time-modification")
	text(tm, "actual-notes", strconv.Itoa(tup.t.P))
	text(tm, "normal-notes", strconv.Itoa(tup.t.Q))
}

func actual(d pitch.Duration, tup *tupletInfo) pitch.Duration {
	if tup == nil {
		return d
	}
	return d.MulDuration(tup.t.Scale())
}

func (pw *partWriter) note(mn *xmldom.Node, n *model.Note, length pitch.Duration, inChord bool, decorations []string, lyric *model.Lyric, tup *tupletInfo) error {
	ord := pw.ordinal
	pw.ordinal++
	dur, err := pw.ticks(actual(length, tup))
	if err != nil {
		return err
	}

	nn := mn.CreateNode("note")
	if inChord {
		nn.CreateNode("chord")
	}
	writePitch(nn, n.Pitch)
	text(nn, "duration", dur)
	if pw.tieStops[ord] {
		nn.CreateNode("tie").SetAttributeValue("type", "stop")
	}
	if pw.tieStarts[ord] {
		nn.CreateNode("tie").SetAttributeValue("type", "start")
	}
	text(nn, "voice", "1")
	noteType(nn, length)
	if n.Accidental != pitch.AccidentalNone {
		text(nn, "accidental", n.Accidental.String())
	}
	timeModification(nn, tup)

	if err := pw.notations(nn, ord, inChord, decorations, tup); err != nil {
		return err
	}
	writeLyric(nn, lyric)
	return nil
}

func (pw *partWriter) rest(mn *xmldom.Node, r *model.Rest, tup *tupletInfo) error {
	dur, err := pw.ticks(actual(r.Length, tup))
	if err != nil {
		return err
	}
	nn := mn.CreateNode("note")
	if r.Invisible {
		nn.SetAttributeValue("print-object", "no")
	}
	rn := nn.CreateNode("rest")
	if r.Measure {
		rn.SetAttributeValue("measure", "yes")
	}
	text(nn, "duration", dur)
	text(nn, "voice", "1")
	if !r.Measure {
		noteType(nn, r.Length)
	}
	timeModification(nn, tup)
	if g := groupDecorations(r.Decorations); !g.empty() || tup != nil && (tup.start || tup.stop) {
		notations := nn.CreateNode("notations")
		tupletMarks(notations, tup, false)
		writeGroups(notations, g)
	}
	return nil
}

func tupletMarks(notations *xmldom.Node, tup *tupletInfo, inChord bool) {
	if tup == nil || inChord {
		return
	}
	if tup.start {
		tn := notations.CreateNode("tuplet")
		tn.SetAttributeValue("type", "start")
	}
	if tup.stop {
		tn := notations.CreateNode("tuplet")
		tn.SetAttributeValue("type", "stop")
	}
}

func (pw *partWriter) notations(nn *xmldom.Node, ord int, inChord bool, decorations []string, tup *tupletInfo) error {
	g := groupDecorations(decorations)
	tied := pw.tieStops[ord] || pw.tieStarts[ord]
	slurs := pw.slurStart[ord] > 0 || pw.slurStop[ord] > 0
	marks := tup != nil && !inChord && (tup.start || tup.stop)
	if g.empty() && !tied && !slurs && !marks {
		return nil
	}
	notations := nn.CreateNode("notations")
	if pw.tieStops[ord] {
		notations.CreateNode("tied").SetAttributeValue("type", "stop")
	}
	if pw.tieStarts[ord] {
		notations.CreateNode("tied").SetAttributeValue("type", "start")
	}

	for _, num := range pw.slurNumbers[ord] {
		sn := notations.CreateNode("slur")
		sn.SetAttributeValue("type", "stop")
		sn.SetAttributeValue("number", strconv.Itoa(num))
		pw.inUse[num] = false
	}
	delete(pw.slurNumbers, ord)
	for _, l := range pw.voice.Slurs {
		if l.From != ord {
			continue
		}
		num := pw.freeSlurNumber()
		if num == 0 {
			return model.Violationf("voice %s: more than %d open slurs", pw.voice.ID, constants.MaxSlurNumber)
		}
		pw.inUse[num] = true
		pw.slurNumbers[l.To] = append(pw.slurNumbers[l.To], num)
		sn := notations.CreateNode("slur")
		sn.SetAttributeValue("type", "start")
		sn.SetAttributeValue("number", strconv.Itoa(num))
	}

	tupletMarks(notations, tup, inChord)
	writeGroups(notations, g)
	return nil
}

func (pw *partWriter) freeSlurNumber() int {
	for i := 1; i <= constants.MaxSlurNumber; i++ {
		if !pw.inUse[i] {
			return i
		}
	}
	return 0
}

func writeGroups(notations *xmldom.Node, g decorationGroups) {
	group := func(name string, items []string) {
		if len(items) == 0 {
			return
		}
		n := notations.CreateNode(name)
		for _, it := range items {
			n.CreateNode(it)
		}
	}
	group("articulations", g.articulations)
	group("ornaments", g.ornaments)
	group("technical", g.technical)
	group("dynamics", g.dynamics)
	if g.fermata {
		notations.CreateNode("fermata")
	}
	if g.arpeggiate {
		notations.CreateNode("arpeggiate")
	}
	for _, o := range g.other {
		text(notations, "other-notation", o).SetAttributeValue("type", "single")
	}
}

func writeLyric(nn *xmldom.Node, l *model.Lyric) {
	if l == nil {
		return
	}
	ln := nn.CreateNode("lyric")
	ln.SetAttributeValue("number", "1")
	syllabic := l.Syllabic
	if syllabic == "" {
		syllabic = model.Single
	}
	text(ln, "syllabic", string(syllabic))
	text(ln, "text", l.Text)
	if l.Extend {
		ln.CreateNode("extend")
	}
}
