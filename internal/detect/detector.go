package detect

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Result is the outcome of one detection run.
type Result struct {
	// Frames is the number of full frames analysed.
	Frames int
	// Candidates are the merged events before duration and pairing filters.
	Candidates []Event
	// Events are the surviving, even-length, time-ordered whistle events.
	Events []Event
}

// Detector runs the full sample-to-event pipeline.
type Detector struct {
	params   Params
	analyzer *Analyzer
	workers  int
}

// Option configures a Detector.
type Option func(*Detector)

// WithWorkers sets the number of goroutines scoring frames.
// Values below one fall back to runtime.NumCPU.
func WithWorkers(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.workers = n
		}
	}
}

// NewDetector validates p and builds a Detector.
func NewDetector(p Params, opts ...Option) (*Detector, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	lo, hi := p.Band()
	analyzer, err := NewAnalyzer(p.FrameSize, p.SampleRate, lo, hi)
	if err != nil {
		return nil, err
	}

	d := &Detector{
		params:   p,
		analyzer: analyzer,
		workers:  runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Params returns the detector's configuration.
func (d *Detector) Params() Params {
	return d.params
}

// Detect scores every full frame of samples and segments the scores into
// whistle events. Frames are scored in parallel but segmented strictly in
// time order; the result depends only on the samples and the parameters.
func (d *Detector) Detect(ctx context.Context, samples []float64, sampleRate int) (*Result, error) {
	if sampleRate != d.params.SampleRate {
		return nil, fmt.Errorf("%w: got %d Hz, want %d Hz", ErrSampleRateMismatch, sampleRate, d.params.SampleRate)
	}

	scores, err := d.Scores(ctx, samples)
	if err != nil {
		return nil, err
	}

	seg := NewSegmenter(d.params, d.params.FrameDuration())
	for _, fs := range scores {
		seg.Push(fs.Time, fs.Score)
	}

	return &Result{
		Frames:     len(scores),
		Candidates: seg.Candidates(),
		Events:     seg.Events(),
	}, nil
}

// Scores returns the deviation score of every full frame, indexed by frame.
// A trailing partial frame is discarded.
func (d *Detector) Scores(ctx context.Context, samples []float64) ([]FrameScore, error) {
	size := d.params.FrameSize
	n := len(samples) / size
	scores := make([]FrameScore, n)
	if n == 0 {
		return scores, nil
	}

	workers := d.workers
	if workers > n {
		workers = n
	}

	indexes := make(chan int)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				frame := Frame{
					Index:   i,
					Time:    float64(i*size) / float64(d.params.SampleRate),
					Samples: samples[i*size : (i+1)*size],
				}
				fs, err := d.scoreFrame(frame)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					continue
				}
				scores[i] = fs
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			break feed
		case indexes <- i:
		}
	}
	close(indexes)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("detection cancelled: %w", err)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return scores, nil
}

func (d *Detector) scoreFrame(f Frame) (FrameScore, error) {
	spec, err := d.analyzer.Spectrum(f.Samples)
	if err != nil {
		return FrameScore{}, fmt.Errorf("frame %d: %w", f.Index, err)
	}
	return FrameScore{Time: f.Time, Score: Score(spec, d.params.TargetHz)}, nil
}
