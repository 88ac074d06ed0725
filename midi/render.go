package midi

import (
	"bytes"
	"io"
	"math"
	"sort"

	"github.com/jsphweid/abcxml/constants"
	"github.com/jsphweid/abcxml/model"
	"github.com/jsphweid/abcxml/pitch"
	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const (
	defaultBPM      = 120
	defaultVelocity = 80
	drumChannel     = 9
)

var velocities = map[string]uint8{
	"pppp": 8, "ppp": 20, "pp": 33, "p": 49, "mp": 64,
	"mf": 80, "f": 96, "ff": 112, "fff": 120, "ffff": 127,
}

var ErrResolution = errors.New("divisions too large for a midi time format")

// TicksPerQuarter is the smallest multiple of divisions that is at least
// MIDIMinTicksPerQuarter, so every markup duration stays an exact tick count.
func TicksPerQuarter(divisions int) (int, error) {
	if divisions <= 0 {
		return 0, model.Violationf("divisions %d", divisions)
	}
	res := divisions * ((constants.MIDIMinTicksPerQuarter + divisions - 1) / divisions)
	if res > math.MaxUint16>>1 {
		return 0, errors.Wrapf(ErrResolution, "divisions %d", divisions)
	}
	return res, nil
}

// Render builds a format 1 file: a conductor track with meter and tempo, then
// one track per voice. Repeats are not unfolded.
func Render(t *model.Tune, divisions int) (*smf.SMF, error) {
	tpq, err := TicksPerQuarter(divisions)
	if err != nil {
		return nil, err
	}
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(tpq)

	ct, err := conductor(t, tpq)
	if err != nil {
		return nil, err
	}
	if err := s.Add(ct); err != nil {
		return nil, errors.Wrap(err, "adding conductor track")
	}
	channel := uint8(0)
	for _, v := range t.Voices {
		ch := channel
		if v.Clef.Sign == "percussion" {
			ch = drumChannel
		} else {
			channel++
			if channel == drumChannel {
				channel++
			}
			channel %= 16
		}
		tr, err := voiceTrack(v, ch, tpq)
		if err != nil {
			return nil, err
		}
		if err := s.Add(tr); err != nil {
			return nil, errors.Wrapf(err, "adding track for voice %s", v.ID)
		}
	}
	return s, nil
}

// Write renders t and writes it to w.
func Write(w io.Writer, t *model.Tune, divisions int) error {
	s, err := Render(t, divisions)
	if err != nil {
		return err
	}
	if _, err := s.WriteTo(w); err != nil {
		return errors.Wrap(err, "writing midi file")
	}
	return nil
}

func Encode(t *model.Tune, divisions int) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, t, divisions); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ticks(d pitch.Duration, tpq int) (int64, error) {
	n, ok := d.Ticks(tpq)
	if !ok {
		return 0, model.Violationf("duration %s is not a whole number of ticks at %d per quarter", d, tpq)
	}
	return int64(n), nil
}

func quarterBPM(tempo *model.Tempo) float64 {
	if tempo == nil || tempo.BPM <= 0 || !tempo.Beat.IsPositive() {
		return defaultBPM
	}
	q := tempo.Beat.Quarters()
	return float64(tempo.BPM) * float64(q.Num) / float64(q.Den)
}

func conductor(t *model.Tune, tpq int) (smf.Track, error) {
	var tr smf.Track
	tr.Add(0, smf.MetaTrackSequenceName(t.Title))
	tr.Add(0, smf.MetaTempo(quarterBPM(t.Tempo)))
	if !t.Meter.Free {
		tr.Add(0, smf.MetaMeter(uint8(t.Meter.Num), uint8(t.Meter.Den)))
	}
	if len(t.Voices) == 0 {
		tr.Close(0)
		return tr, nil
	}

	// Meter changes follow the first voice.
	var last, pos int64
	for i, m := range t.Voices[0].Measures {
		if m.Meter != nil && pos > 0 && !m.Meter.Free {
			tr.Add(uint32(pos-last), smf.MetaMeter(uint8(m.Meter.Num), uint8(m.Meter.Den)))
			last = pos
		}
		n, err := ticks(m.Duration(), tpq)
		if err != nil {
			return nil, errors.Wrapf(err, "measure %d", i+1)
		}
		pos += n
	}
	tr.Close(0)
	return tr, nil
}

type sounding struct {
	start, length int64
	key, velocity uint8
}

type timedEvent struct {
	at  int64
	off bool
	msg midi.Message
}

// voiceRenderer lays a voice out on an absolute tick line, merging tied notes
// into one sounding.
type voiceRenderer struct {
	tpq       int
	pos       int64
	ordinal   int
	velocity  uint8
	tiedFrom  map[int]int
	byOrdinal map[int]int
	soundings []sounding
}

func voiceTrack(v *model.Voice, channel uint8, tpq int) (smf.Track, error) {
	r := &voiceRenderer{
		tpq:       tpq,
		velocity:  defaultVelocity,
		tiedFrom:  make(map[int]int),
		byOrdinal: make(map[int]int),
	}
	for _, l := range v.Ties {
		r.tiedFrom[l.To] = l.From
	}
	for _, m := range v.Measures {
		for _, e := range m.Events {
			if err := r.event(e, pitch.NewDuration(1, 1)); err != nil {
				return nil, err
			}
		}
	}

	var events []timedEvent
	for _, s := range r.soundings {
		events = append(events,
			timedEvent{at: s.start, msg: midi.NoteOn(channel, s.key, s.velocity)},
			timedEvent{at: s.start + s.length, off: true, msg: midi.NoteOff(channel, s.key)})
	}
	// note offs before note ons at the same tick
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].at != events[j].at {
			return events[i].at < events[j].at
		}
		return events[i].off && !events[j].off
	})

	var tr smf.Track
	name := v.Name
	if name == "" {
		name = v.ID
	}
	tr.Add(0, smf.MetaTrackSequenceName(name))
	var last int64
	for _, e := range events {
		tr.Add(uint32(e.at-last), e.msg)
		last = e.at
	}
	tr.Close(uint32(r.pos - last))
	return tr, nil
}

func (r *voiceRenderer) decorate(decorations []string) {
	for _, d := range decorations {
		if vel, ok := velocities[d]; ok {
			r.velocity = vel
		}
	}
}

func (r *voiceRenderer) event(e model.Event, scale pitch.Duration) error {
	switch e := e.(type) {
	case *model.Note:
		r.decorate(e.Decorations)
		length, err := ticks(e.Length.MulDuration(scale), r.tpq)
		if err != nil {
			return err
		}
		r.note(e, length)
		r.pos += length
	case *model.Chord:
		r.decorate(e.Decorations)
		length, err := ticks(e.Length.MulDuration(scale), r.tpq)
		if err != nil {
			return err
		}
		for _, n := range e.Notes {
			r.note(n, length)
		}
		r.pos += length
	case *model.Rest:
		r.decorate(e.Decorations)
		length, err := ticks(e.Length.MulDuration(scale), r.tpq)
		if err != nil {
			return err
		}
		r.pos += length
	case *model.Tuplet:
		inner := scale.MulDuration(e.Scale())
		for _, ie := range e.Events {
			if err := r.event(ie, inner); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *voiceRenderer) note(n *model.Note, length int64) {
	ord := r.ordinal
	r.ordinal++
	if from, ok := r.tiedFrom[ord]; ok {
		if i, ok := r.byOrdinal[from]; ok {
			r.soundings[i].length = r.pos + length - r.soundings[i].start
			r.byOrdinal[ord] = i
			return
		}
	}
	key := n.Pitch.MIDI()
	if key < 0 || key > 127 {
		return
	}
	r.byOrdinal[ord] = len(r.soundings)
	r.soundings = append(r.soundings, sounding{
		start:    r.pos,
		length:   length,
		key:      uint8(key),
		velocity: r.velocity,
	})
}
