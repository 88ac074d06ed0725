package model

import (
	"fmt"
	"strings"

	"github.com/jsphweid/abcxml/pitch"
	"github.com/jsphweid/abcxml/util"
)

// KeySignature maps each diatonic step to its default alteration. Alters is
// indexed by pitch.StepIndex.
type KeySignature struct {
	Tonic  string
	Mode   string
	Fifths int
	Alters [7]int
	// None is an explicitly empty signature (K:none).
	None bool
}

var tonicFifths = map[byte]int{'F': -1, 'C': 0, 'G': 1, 'D': 2, 'A': 3, 'E': 4, 'B': 5}

var modeOffsets = map[string]int{
	"major":      0,
	"ionian":     0,
	"minor":      -3,
	"aeolian":    -3,
	"mixolydian": -1,
	"dorian":     -2,
	"phrygian":   -4,
	"lydian":     1,
	"locrian":    -5,
}

var modeAbbrev = map[string]string{
	"maj": "major",
	"ion": "ionian",
	"min": "minor",
	"m":   "minor",
	"aeo": "aeolian",
	"mix": "mixolydian",
	"dor": "dorian",
	"phr": "phrygian",
	"lyd": "lydian",
	"loc": "locrian",
}

const sharpOrder = "FCGDAEB"

// FifthsAlters returns the per-step alterations of a standard signature.
func FifthsAlters(fifths int) [7]int {
	var alters [7]int
	for i := 0; i < util.Min(util.Abs(fifths), 7); i++ {
		if fifths > 0 {
			alters[pitch.StepIndex(sharpOrder[i])]++
		} else {
			alters[pitch.StepIndex(sharpOrder[6-i])]--
		}
	}
	return alters
}

// NewKey builds a standard signature from a tonic like "F#" and a mode name.
func NewKey(tonic, mode string) (KeySignature, error) {
	if tonic == "" || !pitch.IsStep(tonic[0]) {
		return KeySignature{}, fmt.Errorf("invalid key tonic %q", tonic)
	}
	fifths := tonicFifths[tonic[0]]
	switch tonic[1:] {
	case "":
	case "#":
		fifths += 7
	case "b":
		fifths -= 7
	default:
		return KeySignature{}, fmt.Errorf("invalid key tonic %q", tonic)
	}
	offset, ok := modeOffsets[mode]
	if !ok {
		return KeySignature{}, fmt.Errorf("unknown mode %q", mode)
	}
	fifths += offset
	if fifths > 7 || fifths < -7 {
		return KeySignature{}, fmt.Errorf("key %s %s needs %d fifths", tonic, mode, fifths)
	}
	return KeySignature{Tonic: tonic, Mode: mode, Fifths: fifths, Alters: FifthsAlters(fifths)}, nil
}

// KeyFromFifths picks the conventional tonic for a circle-of-fifths position.
func KeyFromFifths(fifths int, mode string) KeySignature {
	if _, ok := modeOffsets[mode]; !ok {
		mode = "major"
	}
	pos := fifths - modeOffsets[mode]
	tonic := ""
	for step, f := range tonicFifths {
		switch pos {
		case f:
			tonic = string(step)
		case f + 7:
			tonic = string(step) + "#"
		case f - 7:
			tonic = string(step) + "b"
		}
		if tonic != "" {
			break
		}
	}
	if tonic == "" {
		tonic = "C"
	}
	return KeySignature{Tonic: tonic, Mode: mode, Fifths: fifths, Alters: FifthsAlters(fifths)}
}

// Alter returns the default alteration for a step under this signature.
func (k KeySignature) Alter(step byte) int {
	i := pitch.StepIndex(step)
	if i < 0 {
		return 0
	}
	return k.Alters[i]
}

// Extra lists steps whose alteration differs from the standard signature for
// Fifths, as explicit accidentals in step order.
func (k KeySignature) Extra() []pitch.Pitch {
	std := FifthsAlters(k.Fifths)
	var res []pitch.Pitch
	for i := 0; i < 7; i++ {
		if k.Alters[i] != std[i] {
			res = append(res, pitch.Pitch{Step: pitch.Steps[i], Alter: k.Alters[i]})
		}
	}
	return res
}

// KeyField holds everything a K: field can carry besides the signature.
type KeyField struct {
	Key  KeySignature
	Clef *Clef
}

// ParseKey reads the value of a K: field such as "G", "Ddor", "Bb minor",
// "D ^c", "none" or "C clef=bass".
func ParseKey(s string) (KeyField, error) {
	var res KeyField
	words := strings.Fields(s)
	if len(words) == 0 {
		k, _ := NewKey("C", "major")
		res.Key = k
		return res, nil
	}

	head := words[0]
	rest := words[1:]
	switch {
	case head == "none" || head == "HP":
		res.Key = KeySignature{Tonic: "C", Mode: "major", None: true}
	case head == "Hp":
		res.Key, _ = NewKey("A", "mixolydian")
	case pitch.IsStep(head[0]):
		tonic := head[:1]
		modeText := head[1:]
		if len(modeText) > 0 && (modeText[0] == '#' || modeText[0] == 'b') {
			tonic += modeText[:1]
			modeText = modeText[1:]
		}
		if modeText == "" && len(rest) > 0 && isModeWord(rest[0]) {
			modeText = rest[0]
			rest = rest[1:]
		}
		mode := "major"
		if modeText != "" {
			m, ok := lookupMode(modeText)
			if !ok {
				return res, fmt.Errorf("unknown mode %q", modeText)
			}
			mode = m
		}
		k, err := NewKey(tonic, mode)
		if err != nil {
			return res, err
		}
		res.Key = k
	default:
		// K: holding only modifiers, e.g. "clef=bass", keeps C major.
		if _, isClef := ClefByName(head); !isClef && !strings.ContainsAny(head[:1], "^_=") && !strings.Contains(head, "=") {
			return res, fmt.Errorf("invalid key %q", s)
		}
		res.Key, _ = NewKey("C", "major")
		rest = words
	}

	for _, w := range rest {
		switch {
		case w[0] == '^' || w[0] == '_' || w[0] == '=':
			p, ok := parseKeyAccidental(w)
			if !ok {
				return res, fmt.Errorf("invalid key accidental %q", w)
			}
			res.Key.Alters[pitch.StepIndex(p.Step)] = p.Alter
		case strings.HasPrefix(w, "clef="):
			c, ok := ClefByName(strings.TrimPrefix(w, "clef="))
			if ok {
				res.Clef = &c
			}
		default:
			if c, ok := ClefByName(w); ok {
				res.Clef = &c
			}
		}
	}
	return res, nil
}

func isModeWord(w string) bool {
	_, ok := lookupMode(w)
	return ok
}

func lookupMode(w string) (string, bool) {
	w = strings.ToLower(w)
	if w == "m" {
		return "minor", true
	}
	if len(w) < 3 {
		return "", false
	}
	m, ok := modeAbbrev[w[:3]]
	return m, ok
}

func parseKeyAccidental(w string) (pitch.Pitch, bool) {
	alter := 0
	i := 0
	for ; i < len(w); i++ {
		switch w[i] {
		case '^':
			alter++
			continue
		case '_':
			alter--
			continue
		case '=':
			continue
		}
		break
	}
	if i != len(w)-1 {
		return pitch.Pitch{}, false
	}
	step := strings.ToUpper(w[i:])[0]
	if !pitch.IsStep(step) {
		return pitch.Pitch{}, false
	}
	return pitch.Pitch{Step: step, Alter: alter}, true
}

// String renders the key the way a K: field writes it.
func (k KeySignature) String() string {
	if k.None {
		return "none"
	}
	var b strings.Builder
	b.WriteString(k.Tonic)
	switch k.Mode {
	case "major", "":
	case "minor":
		b.WriteString("m")
	default:
		b.WriteString(k.Mode[:3])
	}
	for _, p := range k.Extra() {
		b.WriteString(" ")
		switch p.Alter {
		case 2:
			b.WriteString("^^")
		case 1:
			b.WriteString("^")
		case 0:
			b.WriteString("=")
		case -1:
			b.WriteString("_")
		case -2:
			b.WriteString("__")
		}
		b.WriteString(strings.ToLower(string(p.Step)))
	}
	return b.String()
}
