package midi

import (
	"fmt"
	"sort"
	"strings"

	"gitlab.com/gomidi/midi/v2/smf"
)

// Played is one note-on/note-off pair read back from a file, in ticks.
type Played struct {
	Track    int
	Start    int64
	Length   int64
	Key      uint8
	Velocity uint8
}

func (p Played) String() string {
	return fmt.Sprintf("track %d @%d +%d key %d vel %d", p.Track, p.Start, p.Length, p.Key, p.Velocity)
}

// Notes pairs note-ons with their note-offs, ordered by start then key.
func Notes(s *smf.SMF) []Played {
	var res []Played
	for ti, events := range s.Tracks {
		var absTicks int64
		pressed := make(map[uint8]Played)
		for _, event := range events {
			absTicks += int64(event.Delta)
			var channel, key, velocity uint8
			switch {
			case event.Message.GetNoteOn(&channel, &key, &velocity) && velocity > 0:
				pressed[key] = Played{Track: ti, Start: absTicks, Key: key, Velocity: velocity}
			case event.Message.GetNoteOff(&channel, &key, &velocity),
				event.Message.GetNoteOn(&channel, &key, &velocity):
				if p, ok := pressed[key]; ok {
					p.Length = absTicks - p.Start
					res = append(res, p)
					delete(pressed, key)
				}
			}
		}
	}

	sort.Slice(res, func(i, j int) bool {
		if res[i].Start != res[j].Start {
			return res[i].Start < res[j].Start
		}
		if res[i].Track != res[j].Track {
			return res[i].Track < res[j].Track
		}
		return res[i].Key < res[j].Key
	})
	return res
}

// Info summarizes the conductor data of a file.
type Info struct {
	TicksPerQuarter int
	BPM             float64
	Meter           string
	Tracks          []string
}

func Describe(s *smf.SMF) Info {
	var info Info
	if mt, ok := s.TimeFormat.(smf.MetricTicks); ok {
		info.TicksPerQuarter = int(mt.Resolution())
	}
	for _, events := range s.Tracks {
		name := ""
		for _, event := range events {
			var bpm float64
			var num, denom uint8
			var text string
			switch {
			case event.Message.GetMetaTempo(&bpm):
				if info.BPM == 0 {
					info.BPM = bpm
				}
			case event.Message.GetMetaMeter(&num, &denom):
				if info.Meter == "" {
					info.Meter = fmt.Sprintf("%d/%d", num, denom)
				}
			case event.Message.GetMetaTrackName(&text):
				if name == "" {
					name = strings.TrimSpace(text)
				}
			}
		}
		info.Tracks = append(info.Tracks, name)
	}
	return info
}
