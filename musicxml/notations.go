package musicxml

// Decorations are stored by their compact-notation names. These tables give
// the markup element each one is written as.
var articulations = map[string]string{
	"staccato": "staccato",
	"accent":   "accent",
	"tenuto":   "tenuto",
	"wedge":    "staccatissimo",
	"marcato":  "strong-accent",
	"breath":   "breath-mark",
}

var ornaments = map[string]string{
	"trill":        "trill-mark",
	"lowermordent": "mordent",
	"uppermordent": "inverted-mordent",
	"turn":         "turn",
	"invertedturn": "inverted-turn",
}

var technical = map[string]string{
	"upbow":    "up-bow",
	"downbow":  "down-bow",
	"open":     "open-string",
	"snap":     "snap-pizzicato",
	"thumb":    "thumb-position",
	"plus":     "stopped",
	"harmonic": "harmonic",
}

var dynamics = map[string]bool{
	"pppp": true, "ppp": true, "pp": true, "p": true, "mp": true,
	"mf": true, "f": true, "ff": true, "fff": true, "ffff": true,
	"sfz": true, "sf": true, "fp": true, "rfz": true,
}

// directionSigns are decorations written as a direction before the note.
var directionSigns = map[string]bool{
	"segno": true,
	"coda":  true,
}

var articulationNames = invert(articulations)
var ornamentNames = invert(ornaments)
var technicalNames = invert(technical)

func invert(m map[string]string) map[string]string {
	res := make(map[string]string, len(m))
	for k, v := range m {
		res[v] = k
	}
	return res
}

type decorationGroups struct {
	articulations []string
	ornaments     []string
	technical     []string
	dynamics      []string
	fermata       bool
	arpeggiate    bool
	other         []string
}

func (g decorationGroups) empty() bool {
	return len(g.articulations)+len(g.ornaments)+len(g.technical)+len(g.dynamics)+len(g.other) == 0 &&
		!g.fermata && !g.arpeggiate
}

// groupDecorations sorts decoration names into markup notation groups.
// Direction signs are skipped; the caller writes them separately.
func groupDecorations(names []string) decorationGroups {
	var g decorationGroups
	for _, name := range names {
		switch {
		case directionSigns[name]:
		case articulations[name] != "":
			g.articulations = append(g.articulations, articulations[name])
		case ornaments[name] != "":
			g.ornaments = append(g.ornaments, ornaments[name])
		case technical[name] != "":
			g.technical = append(g.technical, technical[name])
		case dynamics[name]:
			g.dynamics = append(g.dynamics, name)
		case name == "fermata":
			g.fermata = true
		case name == "arpeggio":
			g.arpeggiate = true
		default:
			g.other = append(g.other, name)
		}
	}
	return g
}
