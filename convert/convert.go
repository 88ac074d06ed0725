// Package convert is the text-in, text-out boundary of the engine. Every
// conversion is a sequential pipeline over its own tree: parse, normalize,
// serialize.
package convert

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jsphweid/abcxml/abc"
	"github.com/jsphweid/abcxml/midi"
	"github.com/jsphweid/abcxml/model"
	"github.com/jsphweid/abcxml/musicxml"
	"github.com/jsphweid/abcxml/normalize"
	"github.com/jsphweid/abcxml/pitch"
	"github.com/jsphweid/abcxml/util"
	"github.com/rs/zerolog"
)

type Format string

const (
	ABC      Format = "abc"
	MusicXML Format = "musicxml"
	MIDI     Format = "midi"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case ABC, MusicXML, MIDI:
		return f, nil
	case "xml", "mxl":
		return MusicXML, nil
	case "mid":
		return MIDI, nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// Extension is the file suffix written for f.
func (f Format) Extension() string {
	switch f {
	case MusicXML:
		return ".musicxml"
	case MIDI:
		return ".mid"
	}
	return ".abc"
}

// Detect guesses the source format of text: markup starts with '<' once
// leading whitespace and a byte order mark are skipped.
func Detect(text string) Format {
	if strings.HasPrefix(strings.TrimLeft(text, " \t\r\n\ufeff"), "<") {
		return MusicXML
	}
	return ABC
}

type Direction string

const (
	ToMarkup  Direction = "abc->musicxml"
	ToCompact Direction = "musicxml->abc"
	ToMIDI    Direction = "abc->midi"
)

var ErrWarnings = errors.New("diagnostics at warning level in strict mode")

// Error is returned for every failed conversion. Err is one of
// *abc.LexError, *abc.ParseError, *musicxml.MarkupError,
// *model.InvariantViolation, pitch.ErrOverflow,
// normalize.ErrDivisionsOverflow or ErrWarnings.
type Error struct {
	Direction Direction
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Direction, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Stage names the pipeline stage that failed.
func (e *Error) Stage() string {
	var (
		lexErr    *abc.LexError
		parseErr  *abc.ParseError
		markupErr *musicxml.MarkupError
		violation *model.InvariantViolation
	)
	switch {
	case errors.As(e.Err, &lexErr):
		return "lex"
	case errors.As(e.Err, &parseErr):
		return "parse"
	case errors.As(e.Err, &markupErr):
		return "markup"
	case errors.As(e.Err, &violation):
		return "internal"
	case errors.Is(e.Err, pitch.ErrOverflow), errors.Is(e.Err, normalize.ErrDivisionsOverflow):
		return "range"
	case errors.Is(e.Err, ErrWarnings):
		return "strict"
	}
	return "unknown"
}

type Result struct {
	Output      string             `json:"output"`
	Diagnostics []model.Diagnostic `json:"diagnostics"`
}

type Options struct {
	Logger zerolog.Logger
	// Strict fails a conversion that produced any warning diagnostic.
	Strict bool
}

type Option func(*Options)

func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func WithStrict(strict bool) Option {
	return func(o *Options) { o.Strict = strict }
}

func newOptions(opts []Option) Options {
	o := Options{Logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o Options) finish(dir Direction, t *model.Tune, res Result) (Result, error) {
	measures := 0
	for _, v := range t.Voices {
		measures = util.Max(measures, len(v.Measures))
	}
	o.Logger.Debug().
		Str("direction", string(dir)).
		Int("voices", len(t.Voices)).
		Int("measures", measures).
		Int("diagnostics", len(res.Diagnostics)).
		Msg("converted")
	if o.Strict && model.HasWarnings(res.Diagnostics) {
		return res, &Error{Direction: dir, Err: ErrWarnings}
	}
	return res, nil
}

func compact(dir Direction, text string, o Options) (*model.Tune, normalize.Report, []model.Diagnostic, error) {
	tune, diags, err := abc.Parse(text)
	if err != nil {
		return nil, normalize.Report{}, nil, &Error{Direction: dir, Err: err}
	}
	norm, rep, err := normalize.Normalize(tune, normalize.ForMarkup)
	if err != nil {
		return nil, normalize.Report{}, nil, &Error{Direction: dir, Err: err}
	}
	o.Logger.Debug().Int("divisions", rep.Divisions).Msg("normalized")
	return norm, rep, append(diags, rep.Diagnostics...), nil
}

// CompactToMarkup converts one ABC tune to a MusicXML partwise document.
func CompactToMarkup(text string, opts ...Option) (Result, error) {
	o := newOptions(opts)
	tune, rep, diags, err := compact(ToMarkup, text, o)
	if err != nil {
		return Result{}, err
	}
	out, err := musicxml.Write(tune, rep.Divisions)
	if err != nil {
		return Result{}, &Error{Direction: ToMarkup, Err: err}
	}
	return o.finish(ToMarkup, tune, Result{Output: out, Diagnostics: diags})
}

// MarkupToCompact converts a MusicXML document to ABC.
func MarkupToCompact(text string, opts ...Option) (Result, error) {
	o := newOptions(opts)
	tune, diags, err := musicxml.Parse(text)
	if err != nil {
		return Result{}, &Error{Direction: ToCompact, Err: err}
	}
	norm, rep, err := normalize.Normalize(tune, normalize.ForCompact)
	if err != nil {
		return Result{}, &Error{Direction: ToCompact, Err: err}
	}
	diags = append(diags, rep.Diagnostics...)
	out, err := abc.Write(norm)
	if err != nil {
		return Result{}, &Error{Direction: ToCompact, Err: err}
	}
	return o.finish(ToCompact, norm, Result{Output: out, Diagnostics: diags})
}

// CompactToMIDI renders one ABC tune as a Standard MIDI File. Result.Output
// is empty; the file is returned as bytes.
func CompactToMIDI(text string, opts ...Option) ([]byte, Result, error) {
	o := newOptions(opts)
	tune, rep, diags, err := compact(ToMIDI, text, o)
	if err != nil {
		return nil, Result{}, err
	}
	data, err := midi.Encode(tune, rep.Divisions)
	if err != nil {
		return nil, Result{}, &Error{Direction: ToMIDI, Err: err}
	}
	res, err := o.finish(ToMIDI, tune, Result{Diagnostics: diags})
	return data, res, err
}

// Convert dispatches on the source and target formats. Markup sources are
// converted to ABC first when MIDI is requested.
func Convert(text string, from, to Format, opts ...Option) ([]byte, Result, error) {
	switch {
	case from == ABC && to == MusicXML:
		res, err := CompactToMarkup(text, opts...)
		return []byte(res.Output), res, err
	case from == MusicXML && to == ABC:
		res, err := MarkupToCompact(text, opts...)
		return []byte(res.Output), res, err
	case from == ABC && to == MIDI:
		return CompactToMIDI(text, opts...)
	case from == MusicXML && to == MIDI:
		res, err := MarkupToCompact(text, opts...)
		if err != nil {
			return nil, res, err
		}
		data, midiRes, err := CompactToMIDI(res.Output, opts...)
		midiRes.Diagnostics = append(res.Diagnostics, midiRes.Diagnostics...)
		return data, midiRes, err
	}
	return nil, Result{}, fmt.Errorf("cannot convert %s to %s", from, to)
}
