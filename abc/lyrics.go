package abc

import (
	"strings"

	"github.com/jsphweid/abcxml/model"
)

// lyrics aligns a w: line with the notes of the music line before it:
//
//	-   break between syllables of a word
//	_   previous syllable is held for an extra note
//	*   one note is skipped
//	~   a space inside one syllable
//	\-  a literal hyphen inside one syllable
//	|   advance to the next bar
func (p *parser) lyrics(tok Token, continued bool) error {
	vs := p.lyricVoice
	if vs == nil {
		p.info(model.KindIgnoredField, "w: before any music ignored")
		return nil
	}
	if vs.lyric == nil {
		vs.lyric = &lyricCursor{slot: vs.lyricStart}
	} else if !continued {
		p.info(model.KindIgnoredField, "additional lyric verse ignored")
		return nil
	}
	cur := vs.lyric

	var txt strings.Builder
	assign := func(hyphen bool) {
		if txt.Len() == 0 {
			return
		}
		text := txt.String()
		txt.Reset()
		if cur.slot >= len(vs.slots) {
			if !cur.overflowed {
				p.diag(model.Warning, model.KindLyricOverflow, vs, "no note left for syllable %q", text)
				cur.overflowed = true
			}
			return
		}
		l := &model.Lyric{Text: text}
		switch {
		case cur.inWord && hyphen:
			l.Syllabic = model.Middle
		case cur.inWord:
			l.Syllabic = model.End
		case hyphen:
			l.Syllabic = model.Begin
		default:
			l.Syllabic = model.Single
		}
		cur.inWord = hyphen
		s := vs.slots[cur.slot]
		if s.note != nil {
			s.note.Lyric = l
		} else {
			s.chord.Lyric = l
		}
		cur.last = l
		cur.slot++
	}
	skip := func() {
		if cur.slot < len(vs.slots) {
			cur.slot++
		}
	}

	runes := []rune(tok.Text)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case ' ', '\t':
			assign(false)
		case '-':
			if txt.Len() == 0 {
				// a second hyphen skips a note inside the word
				if i > 0 && runes[i-1] == '-' {
					skip()
				}
				continue
			}
			assign(true)
		case '_':
			assign(false)
			if cur.last != nil {
				cur.last.Extend = true
			}
			skip()
		case '*':
			assign(false)
			skip()
		case '|':
			assign(false)
			p.lyricNextBar(vs, cur)
		case '~':
			txt.WriteRune(' ')
		case '\\':
			if i+1 < len(runes) {
				i++
				txt.WriteRune(runes[i])
			}
		default:
			txt.WriteRune(c)
		}
	}
	assign(false)
	return nil
}

// lyricNextBar moves the cursor to the first note after the bar following
// the last aligned note.
func (p *parser) lyricNextBar(vs *voiceState, cur *lyricCursor) {
	if cur.slot == 0 || cur.slot > len(vs.slots) || cur.slot <= vs.lyricStart {
		return
	}
	measure := vs.slots[cur.slot-1].measure
	for cur.slot < len(vs.slots) && vs.slots[cur.slot].measure <= measure {
		cur.slot++
	}
}
