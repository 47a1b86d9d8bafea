// Package rally turns paired whistle events into rally intervals, plans the
// clip cuts for them and drives the cut-then-join extraction.
package rally

import (
	"fmt"

	"github.com/maauso/rallycut/internal/detect"
)

// Interval is the span of play between two consecutive whistles.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Length returns End - Start in seconds.
func (iv Interval) Length() float64 { return iv.End - iv.Start }

// Pair groups events two by two and returns one interval per pair, from the
// end of the first whistle to the end of the second. A trailing unpaired
// event is ignored.
func Pair(events []detect.Event) []Interval {
	out := make([]Interval, 0, len(events)/2)
	for i := 0; i+1 < len(events); i += 2 {
		out = append(out, Interval{Start: events[i].End, End: events[i+1].End})
	}
	return out
}

// Options controls how intervals become clips.
type Options struct {
	// PreRoll is how far before the rally start the clip begins.
	PreRoll float64
	// TrailTrim is cut from the rally length.
	TrailTrim float64
	// SourceDuration, when positive, caps every clip at the end of the source.
	SourceDuration float64
}

// DefaultOptions returns a 9s pre-roll and a 1s trailing trim.
func DefaultOptions() Options {
	return Options{PreRoll: 9.0, TrailTrim: 1.0}
}

// Clip is one planned cut of the source video.
type Clip struct {
	Index    int      `json:"index"`
	Rally    Interval `json:"rally"`
	Start    float64  `json:"start"`
	Duration float64  `json:"duration"`
	Path     string   `json:"path,omitempty"`
}

// Warning is a non-fatal planning note about one rally.
type Warning struct {
	Rally   int    `json:"rally"`
	Message string `json:"message"`
}

func (w Warning) String() string { return fmt.Sprintf("rally %d: %s", w.Rally, w.Message) }

// Plan computes the clip for each interval. Starts before zero are clamped
// and reported; clips left with no positive duration are skipped and
// reported. Clip.Index keeps the rally's position so output order follows
// rally order even when some are skipped.
func Plan(intervals []Interval, opts Options) ([]Clip, []Warning) {
	clips := make([]Clip, 0, len(intervals))
	var warnings []Warning

	for i, iv := range intervals {
		start := iv.Start - opts.PreRoll
		if start < 0 {
			warnings = append(warnings, Warning{
				Rally:   i,
				Message: fmt.Sprintf("pre-roll start %.3fs is before the video, clamped to 0", start),
			})
			start = 0
		}

		duration := iv.Length() - opts.TrailTrim
		if opts.SourceDuration > 0 && start+duration > opts.SourceDuration {
			warnings = append(warnings, Warning{
				Rally:   i,
				Message: fmt.Sprintf("clip runs past the end of the video (%.3fs), shortened", opts.SourceDuration),
			})
			duration = opts.SourceDuration - start
		}

		if duration <= 0 {
			warnings = append(warnings, Warning{
				Rally:   i,
				Message: fmt.Sprintf("clip duration %.3fs is not positive, skipped", duration),
			})
			continue
		}

		clips = append(clips, Clip{Index: i, Rally: iv, Start: start, Duration: duration})
	}

	return clips, warnings
}
