package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jsphweid/abcxml/pitch"
)

type Meter struct {
	Num int
	Den int
	// Free is an unmetered tune (M:none); Num and Den are unused.
	Free bool
	// Symbol is "common" or "cut" when written as C or C|.
	Symbol string
}

func ParseMeter(s string) (Meter, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "", "none":
		return Meter{Free: true}, nil
	case "C":
		return Meter{Num: 4, Den: 4, Symbol: "common"}, nil
	case "C|":
		return Meter{Num: 2, Den: 2, Symbol: "cut"}, nil
	}
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return Meter{}, fmt.Errorf("invalid meter %q", s)
	}
	num := 0
	// additive numerators such as (2+3)/8
	for _, p := range strings.Split(strings.Trim(parts[0], "()"), "+") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			return Meter{}, fmt.Errorf("invalid meter %q", s)
		}
		num += n
	}
	den, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || den <= 0 {
		return Meter{}, fmt.Errorf("invalid meter %q", s)
	}
	return Meter{Num: num, Den: den}, nil
}

// Duration is the length of a full measure; zero for free meter.
func (m Meter) Duration() pitch.Duration {
	if m.Free || m.Den == 0 {
		return pitch.Zero
	}
	return pitch.NewDuration(int64(m.Num), int64(m.Den))
}

func (m Meter) IsCompound() bool {
	return !m.Free && m.Num > 3 && m.Num%3 == 0
}

func (m Meter) String() string {
	switch {
	case m.Free:
		return "none"
	case m.Symbol == "common":
		return "C"
	case m.Symbol == "cut":
		return "C|"
	}
	return fmt.Sprintf("%d/%d", m.Num, m.Den)
}

// DefaultUnitLength applies the L: default rule: 1/16 for meters shorter
// than 3/4, otherwise 1/8.
func (m Meter) DefaultUnitLength() pitch.Duration {
	if m.Free {
		return pitch.Eighth
	}
	if m.Duration().Cmp(pitch.NewDuration(3, 4)) < 0 {
		return pitch.NewDuration(1, 16)
	}
	return pitch.Eighth
}

type Clef struct {
	Sign         string `json:"sign"`
	Line         int    `json:"line"`
	OctaveChange int    `json:"octave_change,omitempty"`
}

var namedClefs = []struct {
	name string
	clef Clef
}{
	{"treble", Clef{"G", 2, 0}},
	{"bass", Clef{"F", 4, 0}},
	{"alto", Clef{"C", 3, 0}},
	{"tenor", Clef{"C", 4, 0}},
	{"treble-8", Clef{"G", 2, -1}},
	{"bass-8", Clef{"F", 4, -1}},
	{"treble+8", Clef{"G", 2, 1}},
	{"perc", Clef{"percussion", 0, 0}},
}

var TrebleClef = Clef{"G", 2, 0}

func ClefByName(name string) (Clef, bool) {
	for _, c := range namedClefs {
		if c.name == name {
			return c.clef, true
		}
	}
	return Clef{}, false
}

// Name is the compact-notation name of the clef, or "" if it has none.
func (c Clef) Name() string {
	for _, nc := range namedClefs {
		if nc.clef == c {
			return nc.name
		}
	}
	return ""
}

func (c Clef) IsZero() bool {
	return c == Clef{}
}
