package musicxml

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html/charset"

	"github.com/jsphweid/abcxml/constants"
	"github.com/jsphweid/abcxml/model"
	"github.com/jsphweid/abcxml/pitch"
	"github.com/jsphweid/abcxml/util"
)

const (
	ErrUndeclaredDivisions = "undeclared divisions"
	ErrOctaveRange         = "octave out of range"
	ErrInvalidStep         = "invalid step"
	ErrInvalidDuration     = "invalid duration"
	ErrInvalidAttributes   = "invalid attributes"
	ErrUnsupportedRoot     = "unsupported root"
	ErrMalformed           = "malformed markup"
	ErrNoParts             = "no parts"
)

type MarkupError struct {
	Kind   string
	Path   string
	Detail string
}

func (e *MarkupError) Error() string {
	msg := e.Kind
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// silent lists measure-level elements that carry nothing the tune model
// keeps and are skipped without a diagnostic.
var silent = map[string]bool{
	"bookmark":  true,
	"link":      true,
	"grouping":  true,
	"listening": true,
}

type openTie struct {
	ordinal int
	pitch   pitch.Pitch
	measure int
}

type voiceBuilder struct {
	voice   *model.Voice
	number  string
	measure *model.Measure
	ordinal int

	last   model.Event
	lastIn *[]model.Event
	lastAt int

	tuplet         *model.Tuplet
	tupletExplicit bool

	graces      []*model.Note
	decorations []string
	annotations []string

	ties  []openTie
	slurs map[string]int
}

// measureAttrs collects what the markup says about the measure being read,
// applied to every voice of the part when the measure ends.
type measureAttrs struct {
	number      string
	implicit    bool
	key         *model.KeySignature
	meter       *model.Meter
	clef        *model.Clef
	repeatStart bool
	repeatEnd   bool
	ending      int
	barStyle    string
}

type partState struct {
	id        string
	index     int
	name      string
	divisions int

	key      model.KeySignature
	keySet   bool
	meter    model.Meter
	meterSet bool
	clef     model.Clef

	voices map[string]*voiceBuilder
	order  []*voiceBuilder

	measures  int
	attrs     measureAttrs
	next      measureAttrs
	noteIndex int
}

type parser struct {
	tune  *model.Tune
	diags []model.Diagnostic

	root      string
	timewise  bool
	partID    string
	measureNo string
	implicit  bool
	inMeasure bool

	names       map[string]string
	parts       map[string]*partState
	order       []*partState
	part        *partState
	unsupported map[string]bool
}

// Parse reads a score-partwise or score-timewise document. Tie and slur
// endpoints without a partner are dropped and reported as diagnostics.
func Parse(text string) (*model.Tune, []model.Diagnostic, error) {
	return ParseReader(strings.NewReader(text))
}

func ParseReader(r io.Reader) (*model.Tune, []model.Diagnostic, error) {
	p := &parser{
		tune:        model.NewTune(),
		names:       map[string]string{},
		parts:       map[string]*partState{},
		unsupported: map[string]bool{},
	}
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	if err := p.parse(dec); err != nil {
		if errors.Is(err, pitch.ErrOverflow) {
			err = &MarkupError{Kind: ErrInvalidDuration, Path: p.path("", 0), Detail: err.Error()}
		}
		return nil, p.diags, err
	}
	return p.tune, p.diags, nil
}

func (p *parser) parse(dec *xml.Decoder) (err error) {
	defer pitch.Recover(&err)
	if err := p.run(dec); err != nil {
		return err
	}
	return p.finish()
}

func (p *parser) run(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &MarkupError{Kind: ErrMalformed, Path: p.path("", 0), Detail: err.Error()}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := p.start(dec, t); err != nil {
				return err
			}
		case xml.EndElement:
			p.end(t)
		}
	}
	if p.root == "" {
		return &MarkupError{Kind: ErrUnsupportedRoot, Detail: "empty document"}
	}
	return nil
}

func attr(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (p *parser) path(elem string, index int) string {
	var b strings.Builder
	b.WriteString(p.root)
	if p.partID != "" {
		fmt.Fprintf(&b, "/part[%s]", p.partID)
	}
	if p.inMeasure {
		fmt.Fprintf(&b, "/measure[%s]", p.measureNo)
	}
	if elem != "" {
		fmt.Fprintf(&b, "/%s", elem)
		if index > 0 {
			fmt.Fprintf(&b, "[%d]", index)
		}
	}
	return b.String()
}

func (p *parser) decode(dec *xml.Decoder, t xml.StartElement, v any) error {
	if err := dec.DecodeElement(v, &t); err != nil {
		return &MarkupError{Kind: ErrMalformed, Path: p.path(t.Name.Local, 0), Detail: err.Error()}
	}
	return nil
}

func (p *parser) start(dec *xml.Decoder, t xml.StartElement) error {
	name := t.Name.Local
	if p.root == "" {
		if name != "score-partwise" && name != "score-timewise" {
			return &MarkupError{Kind: ErrUnsupportedRoot, Path: name}
		}
		p.root = name
		p.timewise = name == "score-timewise"
		return nil
	}

	switch name {
	case "work":
		var w xWork
		if err := p.decode(dec, t, &w); err != nil {
			return err
		}
		p.work(w)
	case "movement-title":
		var s string
		if err := p.decode(dec, t, &s); err != nil {
			return err
		}
		if p.tune.Title == "" {
			p.tune.Title = strings.TrimSpace(s)
		}
	case "identification":
		var id xIdentification
		if err := p.decode(dec, t, &id); err != nil {
			return err
		}
		p.identification(id)
	case "score-part":
		var sp xScorePart
		if err := p.decode(dec, t, &sp); err != nil {
			return err
		}
		p.names[sp.ID] = strings.TrimSpace(sp.Name)
		p.partState(sp.ID)
	case "part":
		p.partID = attr(t, "id")
		p.part = p.partState(p.partID)
		if p.timewise {
			p.beginMeasure()
		}
	case "measure":
		p.measureNo = attr(t, "number")
		p.implicit = attr(t, "implicit") == "yes"
		if !p.timewise && p.part != nil {
			p.beginMeasure()
		}
	default:
		if !p.inMeasure {
			return nil
		}
		return p.measureElement(dec, t)
	}
	return nil
}

func (p *parser) end(t xml.EndElement) {
	switch t.Name.Local {
	case "measure":
		if !p.timewise {
			p.endMeasure()
		}
		p.measureNo = ""
	case "part":
		if p.timewise {
			p.endMeasure()
		}
		p.part, p.partID = nil, ""
	}
}

func (p *parser) measureElement(dec *xml.Decoder, t xml.StartElement) error {
	ps := p.part
	switch t.Name.Local {
	case "attributes":
		var a xAttributes
		if err := p.decode(dec, t, &a); err != nil {
			return err
		}
		return p.attributes(ps, a)
	case "note":
		var n xNote
		ps.noteIndex++
		if err := p.decode(dec, t, &n); err != nil {
			return err
		}
		return p.note(ps, n)
	case "forward":
		var f xForward
		if err := p.decode(dec, t, &f); err != nil {
			return err
		}
		return p.forward(ps, f)
	case "direction":
		var d xDirection
		if err := p.decode(dec, t, &d); err != nil {
			return err
		}
		p.direction(ps, d)
	case "barline":
		var b xBarline
		if err := p.decode(dec, t, &b); err != nil {
			return err
		}
		p.barline(ps, b)
	case "print":
		var pr xPrint
		if err := p.decode(dec, t, &pr); err != nil {
			return err
		}
		if pr.NewSystem == "yes" {
			p.lineBreak(ps)
		}
	case "sound":
		var s xSound
		if err := p.decode(dec, t, &s); err != nil {
			return err
		}
		p.soundTempo(s)
	case "backup":
		return dec.Skip()
	default:
		if !silent[t.Name.Local] && !p.unsupported[t.Name.Local] {
			p.unsupported[t.Name.Local] = true
			p.diags = append(p.diags, model.Diagnostic{
				Kind:     model.KindUnsupported,
				Severity: model.Info,
				Message:  fmt.Sprintf("<%s> is not converted", t.Name.Local),
			})
		}
		return dec.Skip()
	}
	return nil
}

func (p *parser) work(w xWork) {
	if n, err := strconv.Atoi(strings.TrimSpace(w.Number)); err == nil && n > 0 {
		p.tune.Reference = n
	}
	if title := strings.TrimSpace(w.Title); title != "" {
		p.tune.Title = title
	}
}

func (p *parser) identification(id xIdentification) {
	for _, c := range id.Creators {
		v := strings.TrimSpace(c.Value)
		if v == "" {
			continue
		}
		if (c.Type == "composer" || c.Type == "") && p.tune.Composer == "" {
			p.tune.Composer = v
			continue
		}
		p.tune.Info = append(p.tune.Info, model.Field{Tag: 'C', Value: v})
	}
	for _, f := range id.Misc {
		if len(f.Name) == 1 && strings.Contains("ABCDFGHNORSTWZ", f.Name) {
			p.tune.Info = append(p.tune.Info, model.Field{Tag: f.Name[0], Value: strings.TrimSpace(f.Value)})
		}
	}
}

func (p *parser) partState(id string) *partState {
	if ps, ok := p.parts[id]; ok {
		return ps
	}
	ps := &partState{id: id, index: len(p.order) + 1, voices: map[string]*voiceBuilder{}}
	p.parts[id] = ps
	p.order = append(p.order, ps)
	return ps
}

func (p *parser) beginMeasure() {
	ps := p.part
	if ps == nil {
		return
	}
	ps.attrs = ps.next
	ps.attrs.number = p.measureNo
	ps.attrs.implicit = p.implicit
	ps.next = measureAttrs{}
	ps.noteIndex = 0
	p.inMeasure = true
}

func (ps *partState) effectiveKey(t *model.Tune) model.KeySignature {
	if ps.keySet {
		return ps.key
	}
	return t.Key
}

func (ps *partState) effectiveMeter(t *model.Tune) model.Meter {
	if ps.meterSet {
		return ps.meter
	}
	return t.Meter
}

func (p *parser) attributes(ps *partState, a xAttributes) error {
	path := p.path("attributes", 0)
	if s := strings.TrimSpace(a.Divisions); s != "" {
		d, err := strconv.Atoi(s)
		if err != nil || d <= 0 || d > constants.MaxDivisions {
			return &MarkupError{Kind: ErrInvalidAttributes, Path: path, Detail: "divisions " + s}
		}
		ps.divisions = d
	}

	target := &ps.attrs
	initial := ps.measures == 0 && ps.noteIndex == 0
	if ps.noteIndex > 0 {
		target = &ps.next
	}

	if len(a.Keys) > 0 {
		k, err := keyFrom(a.Keys[0])
		if err != nil {
			return &MarkupError{Kind: ErrInvalidAttributes, Path: path, Detail: err.Error()}
		}
		switch {
		case initial && ps.index == 1:
			p.tune.Key = k
		case k != ps.effectiveKey(p.tune):
			target.key = &k
		}
		ps.key, ps.keySet = k, true
	}
	if len(a.Times) > 0 {
		m, err := meterFrom(a.Times[0])
		if err != nil {
			return &MarkupError{Kind: ErrInvalidAttributes, Path: path, Detail: err.Error()}
		}
		switch {
		case initial && ps.index == 1:
			p.tune.Meter = m
		case m != ps.effectiveMeter(p.tune):
			target.meter = &m
		}
		ps.meter, ps.meterSet = m, true
	}
	for _, xc := range a.Clefs {
		if xc.Number != "" && xc.Number != "1" {
			continue
		}
		c := clefFrom(xc)
		if initial {
			ps.clef = c
			for _, vb := range ps.order {
				vb.voice.Clef = c
			}
		} else if c != ps.clef {
			target.clef = &c
			ps.clef = c
		}
		break
	}
	return nil
}

func keyFrom(k xKey) (model.KeySignature, error) {
	if strings.TrimSpace(k.Mode) == "none" {
		return model.KeySignature{Tonic: "C", Mode: "major", None: true}, nil
	}
	if len(k.Steps) > 0 {
		ks := model.KeyFromFifths(0, "major")
		for i, s := range k.Steps {
			s = strings.TrimSpace(s)
			if len(s) != 1 || !pitch.IsStep(s[0]) || i >= len(k.Alters) {
				return ks, fmt.Errorf("invalid key step %q", s)
			}
			alter, err := strconv.ParseFloat(strings.TrimSpace(k.Alters[i]), 64)
			if err != nil {
				return ks, fmt.Errorf("invalid key alter %q", k.Alters[i])
			}
			ks.Alters[pitch.StepIndex(s[0])] = int(math.Round(alter))
		}
		return ks, nil
	}
	fifths, err := strconv.Atoi(strings.TrimSpace(k.Fifths))
	if err != nil || fifths < -7 || fifths > 7 {
		return model.KeySignature{}, fmt.Errorf("invalid fifths %q", k.Fifths)
	}
	mode := strings.TrimSpace(k.Mode)
	if mode == "" {
		mode = "major"
	}
	return model.KeyFromFifths(fifths, mode), nil
}

func meterFrom(t xTime) (model.Meter, error) {
	if t.SenzaMisura != nil {
		return model.Meter{Free: true}, nil
	}
	num := 0
	for _, b := range strings.Split(t.Beats, "+") {
		n, err := strconv.Atoi(strings.TrimSpace(b))
		if err != nil || n <= 0 {
			return model.Meter{}, fmt.Errorf("invalid beats %q", t.Beats)
		}
		num += n
	}
	den, err := strconv.Atoi(strings.TrimSpace(t.BeatType))
	if err != nil || den <= 0 {
		return model.Meter{}, fmt.Errorf("invalid beat-type %q", t.BeatType)
	}
	m := model.Meter{Num: num, Den: den}
	switch {
	case t.Symbol == "common" && num == 4 && den == 4:
		m.Symbol = "common"
	case t.Symbol == "cut" && num == 2 && den == 2:
		m.Symbol = "cut"
	}
	return m, nil
}

func clefFrom(x xClef) model.Clef {
	c := model.Clef{Sign: strings.TrimSpace(x.Sign)}
	c.Line, _ = strconv.Atoi(strings.TrimSpace(x.Line))
	c.OctaveChange, _ = strconv.Atoi(strings.TrimSpace(x.OctaveChange))
	if c.Sign == "percussion" {
		c.Line = 0
	}
	return c
}

// voice returns the builder for a <voice> number of the part, creating it
// and padding it to the part's current measure when first seen.
func (p *parser) voice(ps *partState, number string) *voiceBuilder {
	number = strings.TrimSpace(number)
	if number == "" {
		if len(ps.order) > 0 {
			return ps.order[0]
		}
		number = "1"
	}
	if vb, ok := ps.voices[number]; ok {
		return vb
	}
	id := strconv.Itoa(ps.index)
	if len(ps.order) > 0 {
		id += "." + number
	}
	v := &model.Voice{ID: id, Clef: ps.clef}
	if v.Clef.IsZero() {
		v.Clef = model.TrebleClef
	}
	if len(ps.order) == 0 {
		v.Name = p.names[ps.id]
	}
	vb := &voiceBuilder{voice: v, number: number, slurs: map[string]int{}}
	for i := 0; i < ps.measures; i++ {
		v.Measures = append(v.Measures, filler(ps.effectiveMeter(p.tune), pitch.Zero))
	}
	ps.voices[number] = vb
	ps.order = append(ps.order, vb)
	return vb
}

// filler is an invisible whole-measure rest for a voice silent in a measure.
func filler(meter model.Meter, fallback pitch.Duration) *model.Measure {
	length := meter.Duration()
	if !length.IsPositive() {
		length = fallback
	}
	if !length.IsPositive() {
		length = pitch.Whole
	}
	return &model.Measure{Events: []model.Event{&model.Rest{Length: length, Invisible: true, Measure: true}}}
}

func (p *parser) ticks(ps *partState, text, path string) (pitch.Duration, error) {
	if ps.divisions == 0 {
		return pitch.Zero, &MarkupError{Kind: ErrUndeclaredDivisions, Path: path}
	}
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n <= 0 || n/ps.divisions > constants.MaxLengthFactor {
		return pitch.Zero, &MarkupError{Kind: ErrInvalidDuration, Path: path, Detail: strconv.Quote(text)}
	}
	return pitch.FromTicks(n, ps.divisions), nil
}

func (p *parser) pitch(step, alter, octave, path string) (pitch.Pitch, error) {
	step = strings.TrimSpace(step)
	if len(step) != 1 || !pitch.IsStep(step[0]) {
		return pitch.Pitch{}, &MarkupError{Kind: ErrInvalidStep, Path: path, Detail: strconv.Quote(step)}
	}
	o, err := strconv.Atoi(strings.TrimSpace(octave))
	if err != nil || o < pitch.MinOctave || o > pitch.MaxOctave {
		return pitch.Pitch{}, &MarkupError{Kind: ErrOctaveRange, Path: path, Detail: strconv.Quote(octave)}
	}
	a := 0
	if s := strings.TrimSpace(alter); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return pitch.Pitch{}, &MarkupError{Kind: ErrInvalidStep, Path: path, Detail: "alter " + strconv.Quote(s)}
		}
		if f != math.Trunc(f) {
			p.diags = append(p.diags, model.Diagnostic{
				Kind:     model.KindUnsupported,
				Severity: model.Info,
				Message:  fmt.Sprintf("%s: microtonal alter %s rounded", path, s),
			})
		}
		a = int(math.Round(f))
	}
	return pitch.New(step[0], a, o), nil
}

func dotted(base pitch.Duration, dots int) pitch.Duration {
	d, add := base, base
	for i := 0; i < dots; i++ {
		add = add.Mul(1, 2)
		d = d.Add(add)
	}
	return d
}

func (p *parser) note(ps *partState, n xNote) error {
	path := p.path("note", ps.noteIndex)
	vb := p.voice(ps, n.Voice)

	var pt pitch.Pitch
	isRest := n.Rest != nil
	switch {
	case n.Pitch != nil:
		var err error
		if pt, err = p.pitch(n.Pitch.Step, n.Pitch.Alter, n.Pitch.Octave, path); err != nil {
			return err
		}
	case n.Unpitched != nil:
		var err error
		if pt, err = p.pitch(n.Unpitched.Step, "", n.Unpitched.Octave, path); err != nil {
			return err
		}
	default:
		isRest = true
	}

	if n.Grace != nil {
		if isRest {
			return nil
		}
		length := pitch.Eighth
		if base, ok := pitch.NoteTypeDuration(strings.TrimSpace(n.Type)); ok {
			length = dotted(base, len(n.Dots))
		}
		g := &model.Note{Pitch: pt, Length: length, Accidental: pitch.ParseAccidental(n.Accidental)}
		vb.graces = append(vb.graces, g)
		return nil
	}

	actual, err := p.ticks(ps, n.Duration, path)
	if err != nil {
		return err
	}
	nominal := actual
	tm := n.TimeMod
	if tm != nil && (tm.Actual <= 0 || tm.Normal <= 0 || tm.Actual == tm.Normal) {
		tm = nil
	}
	if tm != nil {
		nominal = actual.Mul(int64(tm.Actual), int64(tm.Normal))
	}

	var tupletStart, tupletStop bool
	var decorations []string
	for _, nt := range n.Notations {
		for _, t := range nt.Tuplets {
			tupletStart = tupletStart || t.Type == "start"
			tupletStop = tupletStop || t.Type == "stop"
		}
		decorations = append(decorations, notationDecorations(nt)...)
	}

	if isRest {
		r := &model.Rest{
			Length:      nominal,
			Invisible:   n.PrintObject == "no",
			Measure:     n.Rest != nil && n.Rest.Measure == "yes",
			Decorations: append(vb.decorations, decorations...),
			Annotations: vb.annotations,
		}
		vb.decorations, vb.annotations = nil, nil
		p.place(ps, vb, r, tm, tupletStart, tupletStop)
		vb.last = nil
		return nil
	}

	note := &model.Note{
		Pitch:       pt,
		Length:      nominal,
		Accidental:  pitch.ParseAccidental(strings.TrimSpace(n.Accidental)),
		Decorations: decorations,
		Lyric:       lyricFrom(n.Lyrics),
	}
	if n.Chord != nil && vb.last != nil {
		p.addToChord(vb, note)
	} else {
		note.Decorations = append(vb.decorations, note.Decorations...)
		note.Annotations = vb.annotations
		note.Graces, vb.graces = vb.graces, nil
		vb.decorations, vb.annotations = nil, nil
		p.place(ps, vb, note, tm, tupletStart, tupletStop)
		vb.last = note
	}

	ord := vb.ordinal
	vb.ordinal++
	p.links(vb, n, pt, ord)
	return nil
}

// addToChord merges a <chord/> note into the event before it.
func (p *parser) addToChord(vb *voiceBuilder, n *model.Note) {
	switch last := vb.last.(type) {
	case *model.Note:
		c := &model.Chord{
			Notes:       []*model.Note{last},
			Length:      last.Length,
			Decorations: last.Decorations,
			Annotations: last.Annotations,
			Lyric:       last.Lyric,
			Graces:      last.Graces,
		}
		last.Decorations, last.Annotations, last.Lyric, last.Graces = nil, nil, nil, nil
		(*vb.lastIn)[vb.lastAt] = c
		vb.last = c
		n.Length = c.Length
		if c.Lyric == nil {
			c.Lyric, n.Lyric = n.Lyric, nil
		}
		c.Notes = append(c.Notes, n)
	case *model.Chord:
		n.Length = last.Length
		if last.Lyric == nil {
			last.Lyric, n.Lyric = n.Lyric, nil
		}
		last.Notes = append(last.Notes, n)
	}
	n.Lyric = nil
}

// place appends an event to the voice's measure, grouping notes that carry
// the same time modification into a tuplet.
func (p *parser) place(ps *partState, vb *voiceBuilder, e model.Event, tm *xTimeModification, start, stop bool) {
	if vb.measure == nil {
		vb.measure = &model.Measure{}
	}
	if tm == nil {
		vb.tuplet = nil
		vb.measure.Events = append(vb.measure.Events, e)
		vb.lastIn, vb.lastAt = &vb.measure.Events, len(vb.measure.Events)-1
		return
	}
	t := vb.tuplet
	if t == nil || start || t.P != tm.Actual || t.Q != tm.Normal {
		t = &model.Tuplet{P: tm.Actual, Q: tm.Normal}
		vb.measure.Events = append(vb.measure.Events, t)
		vb.tuplet = t
		vb.tupletExplicit = start
	}
	t.Events = append(t.Events, e)
	vb.lastIn, vb.lastAt = &t.Events, len(t.Events)-1
	if stop || (!vb.tupletExplicit && len(t.Events) >= t.P) {
		vb.tuplet = nil
	}
}

func notationDecorations(nt xNotations) []string {
	var res []string
	for _, group := range nt.Articulations {
		for _, it := range group.Items {
			if name, ok := articulationNames[it.XMLName.Local]; ok {
				res = append(res, name)
			}
		}
	}
	for _, group := range nt.Ornaments {
		for _, it := range group.Items {
			if name, ok := ornamentNames[it.XMLName.Local]; ok {
				res = append(res, name)
			}
		}
	}
	for _, group := range nt.Technical {
		for _, it := range group.Items {
			if name, ok := technicalNames[it.XMLName.Local]; ok {
				res = append(res, name)
			}
		}
	}
	for _, group := range nt.Dynamics {
		for _, it := range group.Items {
			if dynamics[it.XMLName.Local] {
				res = append(res, it.XMLName.Local)
			}
		}
	}
	if len(nt.Fermatas) > 0 {
		res = append(res, "fermata")
	}
	if len(nt.Arpeggiate) > 0 {
		res = append(res, "arpeggio")
	}
	for _, o := range nt.Other {
		if o = strings.TrimSpace(o); o != "" {
			res = append(res, o)
		}
	}
	return res
}

func lyricFrom(lyrics []xLyric) *model.Lyric {
	for _, l := range lyrics {
		if l.Number != "" && l.Number != "1" {
			continue
		}
		text := strings.Join(l.Text, "")
		if text == "" {
			continue
		}
		res := &model.Lyric{Text: text, Syllabic: model.Single, Extend: l.Extend != nil}
		switch model.Syllabic(strings.TrimSpace(l.Syllabic)) {
		case model.Begin:
			res.Syllabic = model.Begin
		case model.Middle:
			res.Syllabic = model.Middle
		case model.End:
			res.Syllabic = model.End
		}
		return res
	}
	return nil
}

// links records tie and slur endpoints of the note with the given ordinal.
// Stops are matched before starts so a note may end one slur and open the
// next.
func (p *parser) links(vb *voiceBuilder, n xNote, pt pitch.Pitch, ord int) {
	ties := n.Ties
	if len(ties) == 0 {
		for _, nt := range n.Notations {
			ties = append(ties, nt.Tied...)
		}
	}
	for _, t := range ties {
		if t.Type != "stop" {
			continue
		}
		matched := false
		for i, open := range vb.ties {
			if open.pitch == pt && open.ordinal < ord {
				vb.voice.Ties = append(vb.voice.Ties, model.Link{From: open.ordinal, To: ord})
				vb.ties = append(vb.ties[:i], vb.ties[i+1:]...)
				matched = true
				break
			}
		}
		if !matched {
			p.linkDiag(vb, 0, model.KindOrphanTie, "tie stop on %s without a start", pt)
		}
	}
	for _, t := range ties {
		if t.Type == "start" {
			vb.ties = append(vb.ties, openTie{ordinal: ord, pitch: pt, measure: len(vb.voice.Measures) + 1})
		}
	}

	var slurs []xTyped
	for _, nt := range n.Notations {
		slurs = append(slurs, nt.Slurs...)
	}
	for _, s := range slurs {
		if s.Type != "stop" {
			continue
		}
		num := slurNumber(s)
		from, ok := vb.slurs[num]
		delete(vb.slurs, num)
		if !ok || from >= ord {
			p.linkDiag(vb, 0, model.KindOrphanSlur, "slur %s stop without a start", num)
			continue
		}
		vb.voice.Slurs = append(vb.voice.Slurs, model.Link{From: from, To: ord})
	}
	for _, s := range slurs {
		if s.Type != "start" {
			continue
		}
		num := slurNumber(s)
		if _, open := vb.slurs[num]; open {
			p.linkDiag(vb, 0, model.KindOrphanSlur, "slur %s started twice", num)
		}
		vb.slurs[num] = ord
	}
}

func slurNumber(s xTyped) string {
	if s.Number == "" {
		return "1"
	}
	return s.Number
}

// linkDiag reports a dropped tie or slur endpoint; measure 0 means the
// measure being read.
func (p *parser) linkDiag(vb *voiceBuilder, measure int, kind, format string, args ...any) {
	if measure == 0 {
		measure = len(vb.voice.Measures) + 1
	}
	p.diags = append(p.diags, model.Diagnostic{
		Kind:     kind,
		Severity: model.Warning,
		Voice:    vb.voice.ID,
		Measure:  measure,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (p *parser) forward(ps *partState, f xForward) error {
	d, err := p.ticks(ps, f.Duration, p.path("forward", 0))
	if err != nil {
		return err
	}
	vb := p.voice(ps, f.Voice)
	p.place(ps, vb, &model.Rest{Length: d, Invisible: true}, nil, false, false)
	vb.last = nil
	return nil
}

func (p *parser) direction(ps *partState, d xDirection) {
	var words, decorations []string
	var metronome *xMetronome
	for _, dt := range d.Types {
		for _, w := range dt.Words {
			if w = strings.TrimSpace(w); w != "" {
				words = append(words, w)
			}
		}
		for range dt.Segno {
			decorations = append(decorations, "segno")
		}
		for range dt.Coda {
			decorations = append(decorations, "coda")
		}
		for _, group := range dt.Dynamics {
			for _, it := range group.Items {
				if dynamics[it.XMLName.Local] {
					decorations = append(decorations, it.XMLName.Local)
				}
			}
		}
		if dt.Metronome != nil {
			metronome = dt.Metronome
		}
	}

	if metronome != nil && p.tune.Tempo == nil {
		if t, ok := tempoFrom(metronome); ok {
			t.Text = strings.Join(words, " ")
			p.tune.Tempo = t
			words = nil
		}
	}
	if d.Sound != nil {
		p.soundTempo(*d.Sound)
	}
	if len(words) == 0 && len(decorations) == 0 {
		return
	}
	vb := p.voice(ps, d.Voice)
	vb.annotations = append(vb.annotations, words...)
	vb.decorations = append(vb.decorations, decorations...)
}

func tempoFrom(m *xMetronome) (*model.Tempo, bool) {
	base, ok := pitch.NoteTypeDuration(strings.TrimSpace(m.BeatUnit))
	if !ok {
		return nil, false
	}
	bpm, err := strconv.ParseFloat(strings.TrimSpace(m.PerMinute), 64)
	if err != nil || bpm <= 0 {
		return nil, false
	}
	return &model.Tempo{Beat: dotted(base, len(m.Dots)), BPM: int(math.Round(bpm))}, true
}

func (p *parser) soundTempo(s xSound) {
	if p.tune.Tempo != nil || s.Tempo == "" {
		return
	}
	bpm, err := strconv.ParseFloat(s.Tempo, 64)
	if err != nil || bpm <= 0 {
		return
	}
	p.tune.Tempo = &model.Tempo{Beat: pitch.Quarter, BPM: int(math.Round(bpm))}
}

var barStyles = map[string]string{
	"light-light": model.BarLightLight,
	"light-heavy": model.BarLightHeavy,
	"heavy-light": model.BarHeavyLight,
}

func (p *parser) barline(ps *partState, b xBarline) {
	if b.Location == "left" {
		if b.Repeat != nil && b.Repeat.Direction == "forward" {
			ps.attrs.repeatStart = true
		}
		if b.Ending != nil && b.Ending.Type == "start" {
			num, _, _ := strings.Cut(b.Ending.Number, ",")
			if n, err := strconv.Atoi(strings.TrimSpace(num)); err == nil && n > 0 {
				ps.attrs.ending = n
			}
		}
		return
	}
	backward := b.Repeat != nil && b.Repeat.Direction == "backward"
	if backward {
		ps.attrs.repeatEnd = true
	}
	style, ok := barStyles[strings.TrimSpace(b.BarStyle)]
	// light-heavy is the usual look of a closing repeat, not a style of its own
	if ok && !(backward && style == model.BarLightHeavy) {
		ps.attrs.barStyle = style
	}
}

// lineBreak marks the measure before the current one as ending a line.
func (p *parser) lineBreak(ps *partState) {
	for _, vb := range ps.order {
		if n := len(vb.voice.Measures); n > 0 {
			vb.voice.Measures[n-1].LineBreak = true
		}
	}
}

func (p *parser) endMeasure() {
	ps := p.part
	p.inMeasure = false
	if ps == nil {
		return
	}
	a := ps.attrs

	longest := pitch.Zero
	for _, vb := range ps.order {
		if vb.measure != nil && vb.measure.Duration().Cmp(longest) > 0 {
			longest = vb.measure.Duration()
		}
	}
	if len(ps.order) == 0 {
		// a part without notes still gets its voice
		p.voice(ps, "")
	}
	for _, vb := range ps.order {
		m := vb.measure
		vb.measure, vb.tuplet = nil, nil
		if m == nil || len(m.Events) == 0 {
			m = filler(ps.effectiveMeter(p.tune), longest)
		}
		m.RepeatStart = a.repeatStart
		m.RepeatEnd = a.repeatEnd
		m.Ending = a.ending
		m.BarStyle = a.barStyle
		if a.key != nil {
			k := *a.key
			m.Key = &k
		}
		if a.meter != nil {
			mt := *a.meter
			m.Meter = &mt
		}
		if a.clef != nil {
			c := *a.clef
			m.Clef = &c
		}
		m.Pickup = ps.measures == 0 && (a.implicit || a.number == "0")
		vb.voice.Measures = append(vb.voice.Measures, m)
		vb.last = nil
	}
	ps.measures++
}

func (p *parser) finish() error {
	if len(p.order) == 0 {
		return &MarkupError{Kind: ErrNoParts, Path: p.root}
	}
	for _, ps := range p.order {
		if len(ps.order) == 0 {
			continue
		}
		for _, vb := range ps.order {
			for _, t := range vb.ties {
				p.linkDiag(vb, t.measure, model.KindOrphanTie, "tie start on %s without a stop", t.pitch)
			}
			for _, num := range util.GetKeysSorted(vb.slurs) {
				p.linkDiag(vb, len(vb.voice.Measures), model.KindOrphanSlur, "slur %s never stopped", num)
			}
			p.tune.Voices = append(p.tune.Voices, vb.voice)
		}
	}
	p.tune.UnitLength = p.tune.Meter.DefaultUnitLength()
	return nil
}
