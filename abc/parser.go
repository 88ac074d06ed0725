package abc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/jsphweid/abcxml/constants"
	"github.com/jsphweid/abcxml/model"
	"github.com/jsphweid/abcxml/pitch"
)

const (
	ErrUnterminatedChord  = "unterminated chord"
	ErrUnterminatedTuplet = "unterminated tuplet"
	ErrUnterminatedGrace  = "unterminated grace group"
	ErrInvalidDuration    = "invalid duration"
	ErrOctaveRange        = "octave out of range"
	ErrInvalidField       = "invalid field"
	ErrUnexpectedToken    = "unexpected token"
)

type ParseError struct {
	Kind   string
	Line   int
	Column int
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Kind)
	}
	return fmt.Sprintf("%d:%d: %s: %s", e.Line, e.Column, e.Kind, e.Detail)
}

func errorAt(tok Token, kind, detail string) *ParseError {
	return &ParseError{Kind: kind, Line: tok.Line, Column: tok.Column, Detail: detail}
}

// parseContext is the key, meter and unit length in force for a voice. It is
// replaced, never mutated, when a field changes one of them.
type parseContext struct {
	key   model.KeySignature
	meter model.Meter
	unit  pitch.Duration
	voice string
}

func (c parseContext) withKey(k model.KeySignature) parseContext {
	c.key = k
	return c
}

func (c parseContext) withMeter(m model.Meter) parseContext {
	c.meter = m
	return c
}

func (c parseContext) withUnit(u pitch.Duration) parseContext {
	c.unit = u
	return c
}

func (c parseContext) withVoice(id string) parseContext {
	c.voice = id
	return c
}

type pendingTie struct {
	ordinal int
	pitch   pitch.Pitch
}

type lyricSlot struct {
	note    *model.Note
	chord   *model.Chord
	measure int
}

type lyricCursor struct {
	slot   int
	inWord bool
	last   *model.Lyric
	// overflowed is set once a lyric overflow has been reported.
	overflowed bool
}

type carryKey struct {
	step   byte
	octave int
}

type voiceState struct {
	voice   *model.Voice
	ctx     parseContext
	measure *model.Measure
	carried map[carryKey]int

	nextOrdinal  int
	lastNotes    []*model.Note
	lastOrdinals []int
	lastEvent    model.Event
	pendingTies  []pendingTie
	slurs        []int
	slurStarts   int

	decorations []string
	annotations []string

	graces   []*model.Note
	inGrace  bool
	graceTok Token

	chord     *model.Chord
	chordTok  Token
	chordTies []int

	tuplet     *model.Tuplet
	tupletLeft int
	tupletTok  Token

	broken pitch.Duration

	pendingKey   *model.KeySignature
	pendingMeter *model.Meter
	pendingClef  *model.Clef

	slots      []lyricSlot
	lineStart  int
	lyricStart int
	lyric      *lyricCursor
}

func newVoiceState(v *model.Voice, ctx parseContext) *voiceState {
	return &voiceState{voice: v, ctx: ctx, carried: map[carryKey]int{}}
}

type parser struct {
	lex   *Lexer
	tok   Token
	tune  *model.Tune
	diags []model.Diagnostic

	ctx        parseContext
	started    bool
	inHeader   bool
	keySeen    bool
	unitSet    bool
	headerClef *model.Clef
	lastField  byte
	continued  bool

	voices     map[string]*voiceState
	cur        *voiceState
	lyricVoice *voiceState
}

// Parse reads the first tune of the compact notation text. Lexical and
// structural errors abort; musically irregular input is reported through
// the returned diagnostics.
func Parse(text string) (*model.Tune, []model.Diagnostic, error) {
	p := &parser{
		lex:      NewLexer(text),
		tune:     model.NewTune(),
		inHeader: true,
		voices:   map[string]*voiceState{},
	}
	p.ctx = parseContext{key: p.tune.Key, meter: p.tune.Meter, unit: p.tune.UnitLength}
	if err := p.parse(); err != nil {
		if errors.Is(err, pitch.ErrOverflow) {
			err = errorAt(p.tok, ErrInvalidDuration, err.Error())
		}
		return nil, p.diags, err
	}
	return p.tune, p.diags, nil
}

func (p *parser) parse() (err error) {
	defer pitch.Recover(&err)
	return p.run()
}

func (p *parser) run() error {
	for {
		tok, err := p.lex.Next()
		if err != nil {
			return err
		}
		p.tok = tok

		switch tok.Kind {
		case TokenEOF:
			return p.finish()
		case TokenBlank:
			if !p.started {
				continue
			}
			if p.lex.HasField('X') {
				p.info(model.KindIgnoredTune, "only the first tune is converted")
			}
			return p.finish()
		}

		if !p.started {
			if !(tok.Kind == TokenField && tok.Tag == 'X') && p.lex.HasField('X') {
				// text before the first tune is a file header
				p.info(model.KindIgnoredField, "file header before X: ignored")
				p.lex.SkipToField('X')
				continue
			}
			p.started = true
		} else if tok.Kind == TokenField && tok.Tag == 'X' {
			p.info(model.KindIgnoredTune, "only the first tune is converted")
			return p.finish()
		}

		switch tok.Kind {
		case TokenField:
			err = p.field(tok)
		case TokenInlineField:
			if p.inHeader {
				p.endHeader()
			}
			err = p.field(tok)
		default:
			if p.inHeader {
				if tok.Kind == TokenLineEnd {
					continue
				}
				p.endHeader()
			}
			err = p.music(tok)
		}
		if err != nil {
			return err
		}
	}
}

func (p *parser) diag(severity model.Severity, kind string, vs *voiceState, format string, args ...any) {
	d := model.Diagnostic{
		Kind:     kind,
		Severity: severity,
		Line:     p.tok.Line,
		Column:   p.tok.Column,
		Message:  fmt.Sprintf(format, args...),
	}
	if vs != nil {
		d.Voice = vs.voice.ID
		d.Measure = len(vs.voice.Measures) + 1
	}
	p.diags = append(p.diags, d)
}

func (p *parser) info(kind, format string, args ...any) {
	p.diag(model.Info, kind, nil, format, args...)
}

func (p *parser) endHeader() {
	p.inHeader = false
	if !p.keySeen {
		p.info(model.KindMissingKey, "no K: field, assuming C major")
	}
	if !p.unitSet {
		p.ctx = p.ctx.withUnit(p.ctx.meter.DefaultUnitLength())
	}
	p.tune.Key = p.ctx.key
	p.tune.Meter = p.ctx.meter
	p.tune.UnitLength = p.ctx.unit
	for _, v := range p.tune.Voices {
		vs := p.voices[v.ID]
		vs.ctx = p.ctx.withVoice(v.ID)
		if v.Clef.IsZero() {
			v.Clef = p.defaultClef()
		}
	}
}

func (p *parser) defaultClef() model.Clef {
	if p.headerClef != nil {
		return *p.headerClef
	}
	return model.TrebleClef
}

// voice returns the voice music currently belongs to, creating the default
// one on first use.
func (p *parser) voice() *voiceState {
	if p.cur != nil {
		return p.cur
	}
	if len(p.tune.Voices) > 0 {
		p.cur = p.voices[p.tune.Voices[0].ID]
		return p.cur
	}
	p.cur = p.addVoice("1")
	return p.cur
}

func (p *parser) addVoice(id string) *voiceState {
	v := &model.Voice{ID: id}
	if !p.inHeader {
		v.Clef = p.defaultClef()
	}
	p.tune.Voices = append(p.tune.Voices, v)
	vs := newVoiceState(v, p.ctx.withVoice(id))
	p.voices[id] = vs
	return vs
}

func (p *parser) field(tok Token) error {
	tag := tok.Tag
	if tag != '+' {
		defer func() { p.lastField = tag }()
	}
	if tok.Kind == TokenInlineField && !strings.ContainsRune("KMLVQ", rune(tag)) {
		p.info(model.KindIgnoredField, "inline field %c: ignored", tag)
		return nil
	}

	switch tag {
	case 'X':
		n, err := strconv.Atoi(strings.TrimSpace(tok.Text))
		if err != nil || n < 0 {
			return errorAt(tok, ErrInvalidField, fmt.Sprintf("reference number %q", tok.Text))
		}
		p.tune.Reference = n

	case 'K':
		kf, err := model.ParseKey(tok.Text)
		if err != nil {
			return errorAt(tok, ErrInvalidField, err.Error())
		}
		if p.inHeader {
			p.ctx = p.ctx.withKey(kf.Key)
			p.headerClef = kf.Clef
			p.keySeen = true
			p.endHeader()
			return nil
		}
		vs := p.voice()
		p.changeKey(vs, kf.Key)
		if kf.Clef != nil {
			p.changeClef(vs, *kf.Clef)
		}

	case 'M':
		m, err := model.ParseMeter(tok.Text)
		if err != nil {
			return errorAt(tok, ErrInvalidField, err.Error())
		}
		if p.inHeader {
			p.ctx = p.ctx.withMeter(m)
			return nil
		}
		p.changeMeter(p.voice(), m)

	case 'L':
		u, err := parseUnit(tok.Text)
		if err != nil {
			return errorAt(tok, ErrInvalidField, err.Error())
		}
		if p.inHeader {
			p.ctx = p.ctx.withUnit(u)
			p.unitSet = true
			return nil
		}
		vs := p.voice()
		vs.ctx = vs.ctx.withUnit(u)

	case 'Q':
		if !p.inHeader {
			p.info(model.KindIgnoredField, "tempo change in tune body ignored")
			return nil
		}
		unit := pitch.Quarter
		if p.unitSet {
			unit = p.ctx.unit
		}
		t, err := parseTempo(tok.Text, unit)
		if err != nil {
			return errorAt(tok, ErrInvalidField, err.Error())
		}
		p.tune.Tempo = t

	case 'V':
		return p.voiceField(tok)

	case 'T':
		switch {
		case !p.inHeader:
			p.info(model.KindIgnoredField, "title in tune body ignored")
		case p.tune.Title == "":
			p.tune.Title = tok.Text
		default:
			p.tune.Info = append(p.tune.Info, model.Field{Tag: tag, Value: tok.Text})
		}

	case 'C':
		if p.inHeader && p.tune.Composer == "" {
			p.tune.Composer = tok.Text
		} else {
			p.tune.Info = append(p.tune.Info, model.Field{Tag: tag, Value: tok.Text})
		}

	case 'w':
		return p.lyrics(tok, false)

	case '+':
		return p.continueField(tok)

	case 'W', 'A', 'B', 'D', 'F', 'G', 'H', 'N', 'O', 'R', 'S', 'Z':
		if !p.inHeader && tag != 'W' {
			p.info(model.KindIgnoredField, "field %c: in tune body ignored", tag)
			return nil
		}
		p.tune.Info = append(p.tune.Info, model.Field{Tag: tag, Value: tok.Text})

	default:
		p.info(model.KindIgnoredField, "field %c: ignored", tag)
	}
	return nil
}

func (p *parser) continueField(tok Token) error {
	switch p.lastField {
	case 'w':
		return p.lyrics(tok, true)
	case 'T':
		if len(p.tune.Info) == 0 || p.tune.Info[len(p.tune.Info)-1].Tag != 'T' {
			p.tune.Title += " " + tok.Text
			return nil
		}
	case 'C':
		if len(p.tune.Info) == 0 || p.tune.Info[len(p.tune.Info)-1].Tag != 'C' {
			p.tune.Composer += " " + tok.Text
			return nil
		}
	}
	if n := len(p.tune.Info); n > 0 && p.tune.Info[n-1].Tag == p.lastField {
		p.tune.Info[n-1].Value += " " + tok.Text
		return nil
	}
	p.info(model.KindIgnoredField, "continuation of field %c: ignored", p.lastField)
	return nil
}

func (p *parser) voiceField(tok Token) error {
	id, name, clef := parseVoiceField(tok.Text)
	if id == "" {
		return errorAt(tok, ErrInvalidField, "V: without voice id")
	}
	vs, ok := p.voices[id]
	if !ok {
		vs = p.addVoice(id)
		if clef != nil {
			vs.voice.Clef = *clef
		}
	} else if clef != nil {
		if p.inHeader {
			vs.voice.Clef = *clef
		} else {
			p.changeClef(vs, *clef)
		}
	}
	if name != "" {
		vs.voice.Name = name
	}
	if !p.inHeader {
		p.cur = vs
	}
	return nil
}

// parseVoiceField splits `id name="Tenor" clef=bass` into its parts.
func parseVoiceField(s string) (id, name string, clef *model.Clef) {
	words := splitQuoted(s)
	if len(words) == 0 {
		return "", "", nil
	}
	id = words[0]
	for _, w := range words[1:] {
		k, v, hasValue := strings.Cut(w, "=")
		if !hasValue {
			if c, ok := model.ClefByName(k); ok {
				clef = &c
			}
			continue
		}
		v = strings.Trim(v, `"`)
		switch k {
		case "name", "nm":
			name = v
		case "clef":
			if c, ok := model.ClefByName(v); ok {
				clef = &c
			}
		}
	}
	return id, name, clef
}

func splitQuoted(s string) []string {
	var res []string
	var b strings.Builder
	quoted := false
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			b.WriteRune(r)
		case (r == ' ' || r == '\t') && !quoted:
			if b.Len() > 0 {
				res = append(res, b.String())
				b.Reset()
			}
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		res = append(res, b.String())
	}
	return res
}

func parseUnit(s string) (pitch.Duration, error) {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return pitch.Zero, fmt.Errorf("invalid unit length %q", s)
	}
	n, err1 := strconv.Atoi(strings.TrimSpace(num))
	d, err2 := strconv.Atoi(strings.TrimSpace(den))
	if err1 != nil || err2 != nil || n <= 0 || d <= 0 || n > constants.MaxLengthFactor || d > constants.MaxLengthFactor {
		return pitch.Zero, fmt.Errorf("invalid unit length %q", s)
	}
	return pitch.NewDuration(int64(n), int64(d)), nil
}

// parseTempo reads Q: values such as `1/4=120`, `"Allegro" 3/8=80` or a bare
// `120` counted in unit lengths.
func parseTempo(s string, unit pitch.Duration) (*model.Tempo, error) {
	t := &model.Tempo{}
	for {
		start := strings.IndexByte(s, '"')
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start+1:], '"')
		if end < 0 {
			return nil, fmt.Errorf("unterminated tempo text %q", s)
		}
		t.Text = strings.TrimSpace(t.Text + " " + s[start+1:start+1+end])
		s = s[:start] + s[start+end+2:]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		if t.Text == "" {
			return nil, fmt.Errorf("empty tempo")
		}
		return t, nil
	}

	beats, bpm, hasBeat := strings.Cut(s, "=")
	if !hasBeat {
		bpm, beats = beats, ""
	}
	n, err := strconv.Atoi(strings.TrimSpace(bpm))
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("invalid tempo %q", s)
	}
	t.BPM = n
	t.Beat = unit
	if hasBeat {
		t.Beat = pitch.Zero
		for _, b := range strings.Fields(beats) {
			d, err := parseUnit(b)
			if err != nil {
				return nil, fmt.Errorf("invalid tempo beat %q", b)
			}
			t.Beat = t.Beat.Add(d)
		}
	}
	return t, nil
}

// parseLength turns a written length such as "", "3", "/", "//", "/4" or
// "3/2" into a multiplier of the unit length.
func parseLength(s string) (pitch.Duration, bool) {
	if s == "" {
		return pitch.NewDuration(1, 1), true
	}
	numText, rest, hasSlash := strings.Cut(s, "/")
	num := int64(1)
	if numText != "" {
		n, err := strconv.ParseInt(numText, 10, 64)
		if err != nil || n <= 0 || n > constants.MaxLengthFactor {
			return pitch.Zero, false
		}
		num = n
	}
	if !hasSlash {
		return pitch.NewDuration(num, 1), true
	}
	den := int64(2)
	switch {
	case rest == "":
	case strings.Trim(rest, "/") == "":
		for range rest {
			if den *= 2; den > constants.MaxLengthFactor {
				return pitch.Zero, false
			}
		}
	default:
		d, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || d <= 0 || d > constants.MaxLengthFactor {
			return pitch.Zero, false
		}
		den = d
	}
	return pitch.NewDuration(num, den), true
}

func accidentalAlter(acc string) int {
	alter := 0
	for _, c := range acc {
		switch c {
		case '^':
			alter++
		case '_':
			alter--
		}
	}
	return alter
}

func (p *parser) music(tok Token) error {
	vs := p.voice()
	switch tok.Kind {
	case TokenNote:
		return p.note(vs, tok)
	case TokenRest:
		return p.rest(vs, tok)
	case TokenChordStart:
		if vs.chord != nil {
			return errorAt(vs.chordTok, ErrUnterminatedChord, "")
		}
		if vs.inGrace {
			return errorAt(vs.graceTok, ErrUnterminatedGrace, "")
		}
		vs.chord = &model.Chord{Decorations: vs.decorations, Annotations: vs.annotations}
		vs.decorations, vs.annotations = nil, nil
		vs.chordTok = tok
		vs.chordTies = nil
	case TokenChordEnd:
		if vs.chord == nil {
			return errorAt(tok, ErrUnexpectedToken, "] without [")
		}
		return p.endChord(vs, tok)
	case TokenGraceStart:
		if vs.inGrace || vs.chord != nil {
			return errorAt(tok, ErrUnexpectedToken, "nested grace group")
		}
		vs.inGrace = true
		vs.graceTok = tok
	case TokenGraceEnd:
		if !vs.inGrace {
			return errorAt(tok, ErrUnexpectedToken, "} without {")
		}
		vs.inGrace = false
	case TokenTuplet:
		return p.startTuplet(vs, tok)
	case TokenSlurStart:
		vs.slurStarts++
	case TokenSlurEnd:
		p.endSlur(vs)
	case TokenTie:
		p.tie(vs)
	case TokenBroken:
		return p.brokenRhythm(vs, tok)
	case TokenDecoration:
		vs.decorations = append(vs.decorations, decorationName(tok.Text))
	case TokenAnnotation:
		vs.annotations = append(vs.annotations, tok.Text)
	case TokenBar:
		return p.bar(vs, tok)
	case TokenContinuation:
		p.continued = true
	case TokenLineEnd:
		return p.lineEnd(vs)
	}
	return nil
}

func (p *parser) checkGroups(vs *voiceState) error {
	if vs.chord != nil {
		return errorAt(vs.chordTok, ErrUnterminatedChord, "")
	}
	if vs.inGrace {
		return errorAt(vs.graceTok, ErrUnterminatedGrace, "")
	}
	return nil
}

func (p *parser) resolveNote(vs *voiceState, tok Token) (*model.Note, error) {
	step := tok.Letter
	octave := 4
	if step >= 'a' {
		step -= 'a' - 'A'
		octave = 5
	}
	for _, c := range tok.Octave {
		if c == '\'' {
			octave++
		} else {
			octave--
		}
	}
	if octave < pitch.MinOctave || octave > pitch.MaxOctave {
		return nil, errorAt(tok, ErrOctaveRange, fmt.Sprintf("octave %d", octave))
	}
	mult, ok := parseLength(tok.Length)
	if !ok {
		return nil, errorAt(tok, ErrInvalidDuration, tok.Length)
	}

	n := &model.Note{Length: vs.ctx.unit.MulDuration(mult)}
	key := carryKey{step, octave}
	var alter int
	if tok.Acc != "" {
		alter = accidentalAlter(tok.Acc)
		vs.carried[key] = alter
		n.Accidental = pitch.AccidentalFor(alter)
	} else if a, ok := vs.tiedAlter(step, octave); ok {
		alter = a
	} else if a, ok := vs.carried[key]; ok {
		alter = a
	} else {
		alter = vs.ctx.key.Alter(step)
	}
	n.Pitch = pitch.New(step, alter, octave)
	return n, nil
}

// tiedAlter finds the alteration of a note tied into this position.
func (vs *voiceState) tiedAlter(step byte, octave int) (int, bool) {
	for _, pt := range vs.pendingTies {
		if pt.pitch.Step == step && pt.pitch.Octave == octave {
			return pt.pitch.Alter, true
		}
	}
	return 0, false
}

func (p *parser) note(vs *voiceState, tok Token) error {
	n, err := p.resolveNote(vs, tok)
	if err != nil {
		return err
	}
	if vs.inGrace {
		vs.graces = append(vs.graces, n)
		return nil
	}
	n.Decorations, n.Annotations = vs.decorations, vs.annotations
	vs.decorations, vs.annotations = nil, nil
	if vs.chord != nil {
		vs.chord.Notes = append(vs.chord.Notes, n)
		return nil
	}
	n.Graces, vs.graces = vs.graces, nil
	n.Length = vs.applyBroken(n.Length)
	p.emitNotes(vs, n, []*model.Note{n})
	return nil
}

func (p *parser) endChord(vs *voiceState, tok Token) error {
	c := vs.chord
	vs.chord = nil
	if len(c.Notes) == 0 {
		return nil
	}
	mult, ok := parseLength(tok.Length)
	if !ok {
		return errorAt(tok, ErrInvalidDuration, tok.Length)
	}
	c.Graces, vs.graces = vs.graces, nil
	setLength(c, vs.applyBroken(c.Notes[0].Length.MulDuration(mult)))
	ords := p.emitNotes(vs, c, c.Notes)
	for _, i := range vs.chordTies {
		vs.pendingTies = append(vs.pendingTies, pendingTie{ords[i], c.Notes[i].Pitch})
	}
	vs.chordTies = nil
	return nil
}

func setLength(e model.Event, d pitch.Duration) {
	switch e := e.(type) {
	case *model.Note:
		e.Length = d
	case *model.Rest:
		e.Length = d
	case *model.Chord:
		e.Length = d
		for _, n := range e.Notes {
			n.Length = d
		}
	case *model.Tuplet:
	}
}

func (vs *voiceState) applyBroken(d pitch.Duration) pitch.Duration {
	if vs.broken.IsZero() {
		return d
	}
	d = d.MulDuration(vs.broken)
	vs.broken = pitch.Zero
	return d
}

// emitNotes places a note or chord and links it to pending ties and slurs.
// It returns the ordinals given to the notes.
func (p *parser) emitNotes(vs *voiceState, e model.Event, notes []*model.Note) []int {
	ords := make([]int, len(notes))
	for i := range notes {
		ords[i] = vs.nextOrdinal
		vs.nextOrdinal++
	}

	pending := vs.pendingTies
	vs.pendingTies = nil
	for _, pt := range pending {
		matched := false
		for i, n := range notes {
			if n.Pitch.SamePosition(pt.pitch) {
				vs.voice.Ties = append(vs.voice.Ties, model.Link{From: pt.ordinal, To: ords[i]})
				matched = true
				break
			}
		}
		if !matched {
			p.diag(model.Warning, model.KindOrphanTie, vs, "tie from %s has no matching note", pt.pitch)
		}
	}

	for ; vs.slurStarts > 0; vs.slurStarts-- {
		vs.slurs = append(vs.slurs, ords[0])
	}

	vs.lastNotes = notes
	vs.lastOrdinals = ords
	vs.lastEvent = e

	slot := lyricSlot{measure: len(vs.voice.Measures)}
	switch e := e.(type) {
	case *model.Note:
		slot.note = e
	case *model.Chord:
		slot.chord = e
	}
	vs.slots = append(vs.slots, slot)

	p.emit(vs, e)
	return ords
}

func (p *parser) emit(vs *voiceState, e model.Event) {
	if vs.tuplet != nil {
		vs.tuplet.Events = append(vs.tuplet.Events, e)
		vs.tupletLeft--
		if vs.tupletLeft == 0 {
			vs.tuplet = nil
		}
		return
	}
	m := p.openMeasure(vs)
	m.Events = append(m.Events, e)
}

func (p *parser) dropPendingTies(vs *voiceState) {
	for _, pt := range vs.pendingTies {
		p.diag(model.Warning, model.KindOrphanTie, vs, "tie from %s is not followed by a note", pt.pitch)
	}
	vs.pendingTies = nil
}

func (p *parser) rest(vs *voiceState, tok Token) error {
	if vs.chord != nil || vs.inGrace {
		return errorAt(tok, ErrUnexpectedToken, "rest inside a group")
	}
	p.dropPendingTies(vs)

	if tok.Tag == 'Z' || tok.Tag == 'X' {
		count := 1
		if tok.Length != "" {
			n, err := strconv.Atoi(tok.Length)
			if err != nil || n <= 0 {
				return errorAt(tok, ErrInvalidDuration, tok.Length)
			}
			count = n
		}
		if vs.tuplet != nil {
			return errorAt(vs.tupletTok, ErrUnterminatedTuplet, "")
		}
		length := vs.ctx.meter.Duration()
		if length.IsZero() {
			length = pitch.Whole
		}
		for i := 0; i < count; i++ {
			if i > 0 {
				p.closeMeasure(vs)
			}
			r := &model.Rest{Length: length, Measure: true, Invisible: tok.Tag == 'X'}
			if i == 0 {
				r.Decorations, r.Annotations = vs.decorations, vs.annotations
				vs.decorations, vs.annotations = nil, nil
			}
			p.emit(vs, r)
		}
		vs.lastEvent, vs.lastNotes = nil, nil
		return nil
	}

	mult, ok := parseLength(tok.Length)
	if !ok {
		return errorAt(tok, ErrInvalidDuration, tok.Length)
	}
	r := &model.Rest{
		Length:      vs.applyBroken(vs.ctx.unit.MulDuration(mult)),
		Invisible:   tok.Tag == 'x',
		Decorations: vs.decorations,
		Annotations: vs.annotations,
	}
	vs.decorations, vs.annotations = nil, nil
	vs.lastEvent, vs.lastNotes = r, nil
	p.emit(vs, r)
	return nil
}

func (p *parser) startTuplet(vs *voiceState, tok Token) error {
	if vs.tuplet != nil {
		return errorAt(vs.tupletTok, ErrUnterminatedTuplet, "nested tuplet")
	}
	if err := p.checkGroups(vs); err != nil {
		return err
	}
	if tok.P < 2 || tok.P > constants.MaxLengthFactor || tok.Q > constants.MaxLengthFactor || tok.R > constants.MaxLengthFactor {
		return errorAt(tok, ErrInvalidDuration, tok.Text)
	}
	q := tok.Q
	if q == 0 {
		switch tok.P {
		case 2, 4, 8:
			q = 3
		case 3, 6:
			q = 2
		default:
			q = 2
			if vs.ctx.meter.IsCompound() {
				q = 3
			}
		}
	}
	r := tok.R
	if r == 0 {
		r = tok.P
	}
	t := &model.Tuplet{P: tok.P, Q: q}
	m := p.openMeasure(vs)
	m.Events = append(m.Events, t)
	vs.tuplet = t
	vs.tupletLeft = r
	vs.tupletTok = tok
	return nil
}

func (p *parser) endSlur(vs *voiceState) {
	if vs.slurStarts > 0 {
		vs.slurStarts--
		p.diag(model.Warning, model.KindOrphanSlur, vs, "slur encloses no notes")
		return
	}
	if len(vs.slurs) == 0 {
		p.diag(model.Warning, model.KindOrphanSlur, vs, "slur end without start")
		return
	}
	from := vs.slurs[len(vs.slurs)-1]
	vs.slurs = vs.slurs[:len(vs.slurs)-1]
	to := vs.nextOrdinal - 1
	if vs.chord != nil {
		to += len(vs.chord.Notes)
	}
	if to <= from {
		p.diag(model.Warning, model.KindOrphanSlur, vs, "slur over a single note")
		return
	}
	vs.voice.Slurs = append(vs.voice.Slurs, model.Link{From: from, To: to})
}

func (p *parser) tie(vs *voiceState) {
	if vs.chord != nil && len(vs.chord.Notes) > 0 {
		vs.chordTies = append(vs.chordTies, len(vs.chord.Notes)-1)
		return
	}
	if len(vs.lastNotes) == 0 {
		p.diag(model.Warning, model.KindOrphanTie, vs, "tie without a preceding note")
		return
	}
	for i, n := range vs.lastNotes {
		vs.pendingTies = append(vs.pendingTies, pendingTie{vs.lastOrdinals[i], n.Pitch})
	}
	vs.lastNotes = nil
}

func (p *parser) brokenRhythm(vs *voiceState, tok Token) error {
	if vs.lastEvent == nil {
		return errorAt(tok, ErrUnexpectedToken, "broken rhythm without a preceding note")
	}
	count := len(tok.Text)
	if count > 3 {
		count = 3
	}
	short := pitch.NewDuration(1, int64(1)<<count)
	long := pitch.NewDuration(2, 1).Sub(short)
	prev, next := long, short
	if tok.Text[0] == '<' {
		prev, next = short, long
	}
	setLength(vs.lastEvent, vs.lastEvent.Duration().MulDuration(prev))
	vs.broken = next
	return nil
}

var barStyles = map[string]string{
	"||": model.BarLightLight,
	"|]": model.BarLightHeavy,
	"[|": model.BarHeavyLight,
}

func (p *parser) bar(vs *voiceState, tok Token) error {
	if err := p.checkGroups(vs); err != nil {
		return err
	}
	if vs.tuplet != nil {
		return errorAt(vs.tupletTok, ErrUnterminatedTuplet, "")
	}

	core := strings.TrimLeft(tok.Text, ":")
	before := len(tok.Text) - len(core)
	trimmed := strings.TrimRight(core, ":")
	after := len(core) - len(trimmed)
	if trimmed == "" && before >= 2 {
		before, after = 1, 1
	}
	style := barStyles[trimmed]

	if tok.Text == "" {
		if vs.measure != nil && len(vs.measure.Events) > 0 {
			p.closeMeasure(vs)
		}
		p.openMeasure(vs).Ending = tok.Ending
		return nil
	}

	if vs.measure != nil && len(vs.measure.Events) > 0 {
		m := vs.measure
		m.RepeatEnd = before > 0
		m.BarStyle = style
		p.closeMeasure(vs)
	} else if n := len(vs.voice.Measures); n > 0 {
		last := vs.voice.Measures[n-1]
		if before > 0 {
			last.RepeatEnd = true
		}
		if style != "" && last.BarStyle == "" {
			last.BarStyle = style
		}
	}
	if after > 0 || tok.Ending > 0 {
		m := p.openMeasure(vs)
		m.RepeatStart = m.RepeatStart || after > 0
		if tok.Ending > 0 {
			m.Ending = tok.Ending
		}
	}
	return nil
}

func (p *parser) openMeasure(vs *voiceState) *model.Measure {
	if vs.measure == nil {
		vs.measure = &model.Measure{
			Line:  p.tok.Line,
			Key:   vs.pendingKey,
			Meter: vs.pendingMeter,
			Clef:  vs.pendingClef,
		}
		vs.pendingKey, vs.pendingMeter, vs.pendingClef = nil, nil, nil
	}
	return vs.measure
}

func (p *parser) closeMeasure(vs *voiceState) {
	m := vs.measure
	if m == nil || len(m.Events) == 0 {
		return
	}
	vs.voice.Measures = append(vs.voice.Measures, m)
	vs.measure = nil
	vs.carried = map[carryKey]int{}
}

// atMeasureStart reports whether an attribute change lands at the start of
// the measure being built.
func (vs *voiceState) atMeasureStart() bool {
	return vs.measure == nil || len(vs.measure.Events) == 0
}

func (p *parser) changeKey(vs *voiceState, k model.KeySignature) {
	if k == vs.ctx.key {
		return
	}
	vs.ctx = vs.ctx.withKey(k)
	vs.carried = map[carryKey]int{}
	if vs.atMeasureStart() {
		p.openMeasure(vs).Key = &k
		return
	}
	vs.pendingKey = &k
}

func (p *parser) changeMeter(vs *voiceState, m model.Meter) {
	if m == vs.ctx.meter {
		return
	}
	vs.ctx = vs.ctx.withMeter(m)
	if vs.atMeasureStart() {
		p.openMeasure(vs).Meter = &m
		return
	}
	vs.pendingMeter = &m
}

func (p *parser) changeClef(vs *voiceState, c model.Clef) {
	if len(vs.voice.Measures) == 0 && vs.atMeasureStart() {
		vs.voice.Clef = c
		return
	}
	if vs.atMeasureStart() {
		p.openMeasure(vs).Clef = &c
		return
	}
	vs.pendingClef = &c
}

func (p *parser) lineEnd(vs *voiceState) error {
	if err := p.checkGroups(vs); err != nil {
		return err
	}
	if p.continued {
		p.continued = false
		return nil
	}
	if vs.measure != nil && len(vs.measure.Events) > 0 {
		vs.measure.LineBreak = true
	} else if n := len(vs.voice.Measures); n > 0 {
		vs.voice.Measures[n-1].LineBreak = true
	}
	vs.lyricStart = vs.lineStart
	vs.lineStart = len(vs.slots)
	vs.lyric = nil
	p.lyricVoice = vs
	return nil
}

func (p *parser) finish() error {
	if p.inHeader {
		p.endHeader()
	}
	for _, v := range p.tune.Voices {
		vs := p.voices[v.ID]
		if err := p.checkGroups(vs); err != nil {
			return err
		}
		if vs.tuplet != nil {
			return errorAt(vs.tupletTok, ErrUnterminatedTuplet, "")
		}
		p.dropPendingTies(vs)
		if vs.slurStarts > 0 || len(vs.slurs) > 0 {
			p.diag(model.Warning, model.KindOrphanSlur, vs, "%d slur(s) never closed", vs.slurStarts+len(vs.slurs))
		}
		p.closeMeasure(vs)
	}
	if len(p.tune.Voices) == 0 {
		p.addVoice("1").voice.Clef = p.defaultClef()
	}
	return nil
}
