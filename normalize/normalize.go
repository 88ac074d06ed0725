package normalize

import (
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/jsphweid/abcxml/constants"
	"github.com/jsphweid/abcxml/model"
	"github.com/jsphweid/abcxml/pitch"
	"github.com/jsphweid/abcxml/util"
)

type Target int

const (
	ForCompact Target = iota
	ForMarkup
)

func (t Target) String() string {
	if t == ForMarkup {
		return "markup"
	}
	return "compact"
}

type Report struct {
	// Divisions is the ticks-per-quarter unit for markup output, 0 when the
	// target is compact notation.
	Divisions   int
	Diagnostics []model.Diagnostic
}

var ErrDivisionsOverflow = errors.New("divisions unit does not fit in 32 bits")

// Normalize returns a reconciled copy of t. The input tune is not modified.
// Musically irregular input is reported in the Report; an error means the
// tree itself is inconsistent or its durations leave the int64 range
// (pitch.ErrOverflow).
func Normalize(t *model.Tune, target Target) (out *model.Tune, rep Report, err error) {
	defer pitch.Recover(&err)
	return normalize(t, target)
}

func normalize(t *model.Tune, target Target) (*model.Tune, Report, error) {
	var rep Report
	if t == nil {
		return nil, rep, model.Violationf("nil tune")
	}
	out := t.Clone()
	if out.UnitLength.IsZero() {
		out.UnitLength = pitch.Eighth
	}

	for _, v := range out.Voices {
		if err := checkLengths(v); err != nil {
			return nil, rep, err
		}
	}
	for _, v := range out.Voices {
		rep.Diagnostics = append(rep.Diagnostics, validateTies(v)...)
		rep.Diagnostics = append(rep.Diagnostics, validateSlurs(v)...)
		rep.Diagnostics = append(rep.Diagnostics, checkMeasures(out.Meter, v)...)
	}
	Spell(out)

	if target == ForMarkup {
		for _, v := range out.Voices {
			rep.Diagnostics = append(rep.Diagnostics, limitSlurs(v)...)
		}
		rep.Diagnostics = append(rep.Diagnostics, alignVoices(out)...)
		div, err := Divisions(out)
		if err != nil {
			return nil, rep, err
		}
		rep.Divisions = div
	}
	return out, rep, nil
}

func checkLengths(v *model.Voice) error {
	for mi, m := range v.Measures {
		for _, e := range m.Events {
			if err := checkEvent(e); err != nil {
				return model.Violationf("voice %s measure %d: %s", v.ID, mi+1, err.Detail)
			}
		}
	}
	return nil
}

func checkEvent(e model.Event) *model.InvariantViolation {
	switch e := e.(type) {
	case *model.Note:
		if !e.Length.IsPositive() {
			return model.Violationf("note %s has length %s", e.Pitch, e.Length)
		}
		return checkGraces(e.Graces)
	case *model.Rest:
		if !e.Length.IsPositive() {
			return model.Violationf("rest has length %s", e.Length)
		}
	case *model.Chord:
		if len(e.Notes) == 0 {
			return model.Violationf("empty chord")
		}
		if !e.Length.IsPositive() {
			return model.Violationf("chord has length %s", e.Length)
		}
		return checkGraces(e.Graces)
	case *model.Tuplet:
		if e.P <= 0 || e.Q <= 0 || len(e.Events) == 0 {
			return model.Violationf("tuplet %d:%d with %d events", e.P, e.Q, len(e.Events))
		}
		for _, inner := range e.Events {
			if err := checkEvent(inner); err != nil {
				return err
			}
		}
	default:
		return model.Violationf("unknown event %T", e)
	}
	return nil
}

func checkGraces(graces []*model.Note) *model.InvariantViolation {
	for _, g := range graces {
		if !g.Length.IsPositive() {
			return model.Violationf("grace note %s has length %s", g.Pitch, g.Length)
		}
	}
	return nil
}

func linkDiag(kind string, v *model.Voice, measure int, format string, args ...any) model.Diagnostic {
	return model.Diagnostic{
		Kind:     kind,
		Severity: model.Warning,
		Voice:    v.ID,
		Measure:  measure + 1,
		Message:  fmt.Sprintf(format, args...),
	}
}

// validateTies drops ties that do not join equal pitches in successive
// events.
func validateTies(v *model.Voice) []model.Diagnostic {
	if len(v.Ties) == 0 {
		return nil
	}
	notes := v.Notes()
	var diags []model.Diagnostic
	from, to := map[int]bool{}, map[int]bool{}
	kept := v.Ties[:0]
	for _, l := range v.Ties {
		if l.From < 0 || l.To >= len(notes) || l.From >= l.To {
			measure := 0
			if l.From >= 0 && l.From < len(notes) {
				measure = notes[l.From].Measure
			}
			diags = append(diags, linkDiag(model.KindOrphanTie, v, measure, "tie %d-%d has no matching note", l.From, l.To))
			continue
		}
		a, b := notes[l.From], notes[l.To]
		switch {
		case a.Note.Pitch != b.Note.Pitch:
			diags = append(diags, linkDiag(model.KindOrphanTie, v, a.Measure, "tie joins %s and %s", a.Note.Pitch, b.Note.Pitch))
		case b.Event != a.Event+1:
			diags = append(diags, linkDiag(model.KindOrphanTie, v, a.Measure, "tie from %s skips an event", a.Note.Pitch))
		case from[l.From] || to[l.To]:
			diags = append(diags, linkDiag(model.KindOrphanTie, v, a.Measure, "duplicate tie on %s", a.Note.Pitch))
		default:
			from[l.From], to[l.To] = true, true
			kept = append(kept, l)
			continue
		}
	}
	v.Ties = kept
	return diags
}

func validateSlurs(v *model.Voice) []model.Diagnostic {
	if len(v.Slurs) == 0 {
		return nil
	}
	count := v.NoteCount()
	var diags []model.Diagnostic
	kept := v.Slurs[:0]
	for _, l := range v.Slurs {
		if l.From < 0 || l.To >= count || l.From >= l.To {
			diags = append(diags, linkDiag(model.KindOrphanSlur, v, 0, "slur %d-%d has no matching note", l.From, l.To))
			continue
		}
		kept = append(kept, l)
	}
	v.Slurs = kept
	return diags
}

// limitSlurs drops slurs that would open while MaxSlurNumber others are
// still open.
func limitSlurs(v *model.Voice) []model.Diagnostic {
	if len(v.Slurs) <= constants.MaxSlurNumber {
		return nil
	}
	order := append([]model.Link(nil), v.Slurs...)
	sort.SliceStable(order, func(i, j int) bool { return order[i].From < order[j].From })
	var kept []model.Link
	var diags []model.Diagnostic
	for _, s := range order {
		open := 0
		for _, k := range kept {
			if k.From <= s.From && k.To > s.From {
				open++
			}
		}
		if open >= constants.MaxSlurNumber {
			diags = append(diags, linkDiag(model.KindOrphanSlur, v, 0, "more than %d nested slurs", constants.MaxSlurNumber))
			continue
		}
		kept = append(kept, s)
	}
	v.Slurs = kept
	return diags
}

// checkMeasures compares every measure with its effective meter. A short
// first measure is a pickup and a short closing measure of the tune or of a
// repeated section is incomplete; neither is reported.
func checkMeasures(meter model.Meter, v *model.Voice) []model.Diagnostic {
	var diags []model.Diagnostic
	n := len(v.Measures)
	for i, m := range v.Measures {
		if m.Meter != nil {
			meter = *m.Meter
		}
		if meter.Free || m.IsMeasureRest() {
			continue
		}
		got, want := m.Duration(), meter.Duration()
		cmp := got.Cmp(want)
		if cmp == 0 {
			m.Pickup = false
			continue
		}
		if cmp < 0 && n > 1 {
			if i == 0 {
				m.Pickup = true
				continue
			}
			if i == n-1 || m.RepeatEnd || v.Measures[i+1].Ending > 0 {
				continue
			}
		}
		diags = append(diags, model.Diagnostic{
			Kind:     model.KindMeasureMismatch,
			Severity: model.Warning,
			Voice:    v.ID,
			Measure:  i + 1,
			Line:     m.Line,
			Message:  fmt.Sprintf("measure lasts %s of a whole note, meter %s needs %s", got, meter, want),
		})
	}
	return diags
}

// alignVoices pads shorter voices with measure rests so every part has the
// same number of measures.
func alignVoices(t *model.Tune) []model.Diagnostic {
	most := 0
	for _, v := range t.Voices {
		most = util.Max(most, len(v.Measures))
	}
	var diags []model.Diagnostic
	for _, v := range t.Voices {
		missing := most - len(v.Measures)
		if missing == 0 {
			continue
		}
		diags = append(diags, model.Diagnostic{
			Kind:     model.KindVoiceMeasureCount,
			Severity: model.Warning,
			Voice:    v.ID,
			Measure:  len(v.Measures) + 1,
			Message:  fmt.Sprintf("voice has %d measures, padded to %d", len(v.Measures), most),
		})
		meter := t.Meter
		for _, m := range v.Measures {
			if m.Meter != nil {
				meter = *m.Meter
			}
		}
		length := meter.Duration()
		if meter.Free || !length.IsPositive() {
			length = pitch.Whole
		}
		for i := 0; i < missing; i++ {
			v.Measures = append(v.Measures, &model.Measure{
				Events: []model.Event{&model.Rest{Length: length, Measure: true}},
			})
		}
	}
	return diags
}

// Divisions returns the smallest ticks-per-quarter unit in which every
// sounding duration of t is a whole number of ticks. Grace notes take no
// time and are not counted.
func Divisions(t *model.Tune) (int, error) {
	lcm := int64(1)
	var visit func(e model.Event, scale pitch.Duration) error
	visit = func(e model.Event, scale pitch.Duration) error {
		if tup, ok := e.(*model.Tuplet); ok {
			inner := scale.MulDuration(tup.Scale())
			for _, ie := range tup.Events {
				if err := visit(ie, inner); err != nil {
					return err
				}
			}
			return nil
		}
		q := e.Duration().MulDuration(scale).Quarters()
		lcm = util.LCM(lcm, q.Den)
		if lcm <= 0 || lcm > math.MaxInt32 {
			return ErrDivisionsOverflow
		}
		return nil
	}
	for _, v := range t.Voices {
		for _, m := range v.Measures {
			for _, e := range m.Events {
				if err := visit(e, pitch.NewDuration(1, 1)); err != nil {
					return 0, err
				}
			}
		}
	}
	return int(lcm), nil
}
