package abc

var shorthandDecorations = map[string]string{
	".": "staccato",
	"~": "roll",
	"H": "fermata",
	"L": "accent",
	"M": "lowermordent",
	"O": "coda",
	"P": "uppermordent",
	"S": "segno",
	"T": "trill",
	"u": "upbow",
	"v": "downbow",
}

var decorationAliases = map[string]string{
	"emphasis":   "accent",
	">":          "accent",
	"mordent":    "lowermordent",
	"pralltrill": "uppermordent",
}

var decorationShorthand = map[string]string{}

func init() {
	for short, name := range shorthandDecorations {
		decorationShorthand[name] = short
	}
}

// decorationName returns the canonical name of a written decoration.
func decorationName(text string) string {
	if name, ok := shorthandDecorations[text]; ok {
		return name
	}
	if name, ok := decorationAliases[text]; ok {
		return name
	}
	return text
}

// writeDecoration renders a decoration in its shortest form.
func writeDecoration(name string) string {
	if short, ok := decorationShorthand[name]; ok {
		return short
	}
	return "!" + name + "!"
}
