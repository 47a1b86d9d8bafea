package detect

// Event is a merged run of whistle frames. Start and End are the times of
// the run's first and last frame in seconds.
type Event struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns End - Start.
func (e Event) Duration() float64 {
	return e.End - e.Start
}

// Segmenter folds time-ordered frame scores into whistle events.
// It is not safe for concurrent use; feed it from a single goroutine.
type Segmenter struct {
	threshold   float64
	mergeGap    float64
	minDuration float64
	frameDur    float64

	events []Event
}

// NewSegmenter creates a Segmenter. frameDuration is the span covered by one
// frame; the merge gap is measured from the end of the last whistle frame's
// span to the start of the next candidate frame, so back-to-back frames
// always continue the same event.
func NewSegmenter(p Params, frameDuration float64) *Segmenter {
	return &Segmenter{
		threshold:   p.Threshold,
		mergeGap:    p.MergeGap,
		minDuration: p.MinDuration,
		frameDur:    frameDuration,
	}
}

// Push feeds the score of the frame starting at t. Frames must arrive in
// increasing time order.
func (s *Segmenter) Push(t, score float64) {
	if score >= s.threshold {
		return
	}

	n := len(s.events)
	if n == 0 || t-(s.events[n-1].End+s.frameDur) > s.mergeGap {
		s.events = append(s.events, Event{Start: t, End: t})
		return
	}
	s.events[n-1].End = t
}

// Candidates returns a copy of the events seen so far, before filtering.
func (s *Segmenter) Candidates() []Event {
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Events applies the post-pass: events no longer than the minimum duration
// are dropped, then a trailing unmatched event is dropped so the result
// pairs up into rallies.
func (s *Segmenter) Events() []Event {
	out := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		if e.Duration() > s.minDuration {
			out = append(out, e)
		}
	}
	if len(out)%2 == 1 {
		out = out[:len(out)-1]
	}
	return out
}

// Segment runs a Segmenter over a complete, time-ordered score sequence.
func Segment(scores []FrameScore, p Params, frameDuration float64) []Event {
	s := NewSegmenter(p, frameDuration)
	for _, fs := range scores {
		s.Push(fs.Time, fs.Score)
	}
	return s.Events()
}
