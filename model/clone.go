package model

// Clone returns a deep copy that shares no mutable state with t.
func (t *Tune) Clone() *Tune {
	res := *t
	if t.Tempo != nil {
		tempo := *t.Tempo
		res.Tempo = &tempo
	}
	res.Info = append([]Field(nil), t.Info...)
	res.Voices = make([]*Voice, len(t.Voices))
	for i, v := range t.Voices {
		res.Voices[i] = v.Clone()
	}
	return &res
}

func (v *Voice) Clone() *Voice {
	res := *v
	res.Ties = append([]Link(nil), v.Ties...)
	res.Slurs = append([]Link(nil), v.Slurs...)
	res.Measures = make([]*Measure, len(v.Measures))
	for i, m := range v.Measures {
		res.Measures[i] = m.Clone()
	}
	return &res
}

func (m *Measure) Clone() *Measure {
	res := *m
	if m.Key != nil {
		k := *m.Key
		res.Key = &k
	}
	if m.Meter != nil {
		mt := *m.Meter
		res.Meter = &mt
	}
	if m.Clef != nil {
		c := *m.Clef
		res.Clef = &c
	}
	res.Events = cloneEvents(m.Events)
	return &res
}

func cloneEvents(events []Event) []Event {
	if events == nil {
		return nil
	}
	res := make([]Event, len(events))
	for i, e := range events {
		res[i] = CloneEvent(e)
	}
	return res
}

func CloneEvent(e Event) Event {
	switch e := e.(type) {
	case *Note:
		return e.clone()
	case *Rest:
		r := *e
		r.Decorations = cloneStrings(e.Decorations)
		r.Annotations = cloneStrings(e.Annotations)
		return &r
	case *Chord:
		c := *e
		c.Decorations = cloneStrings(e.Decorations)
		c.Annotations = cloneStrings(e.Annotations)
		c.Lyric = cloneLyric(e.Lyric)
		c.Notes = cloneNotes(e.Notes)
		c.Graces = cloneNotes(e.Graces)
		return &c
	case *Tuplet:
		t := *e
		t.Events = cloneEvents(e.Events)
		return &t
	}
	panic("model: unknown event type")
}

func (n *Note) clone() *Note {
	res := *n
	res.Decorations = cloneStrings(n.Decorations)
	res.Annotations = cloneStrings(n.Annotations)
	res.Lyric = cloneLyric(n.Lyric)
	res.Graces = cloneNotes(n.Graces)
	return &res
}

func cloneNotes(notes []*Note) []*Note {
	if notes == nil {
		return nil
	}
	res := make([]*Note, len(notes))
	for i, n := range notes {
		res[i] = n.clone()
	}
	return res
}

func cloneLyric(l *Lyric) *Lyric {
	if l == nil {
		return nil
	}
	res := *l
	return &res
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
