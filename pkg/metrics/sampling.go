package metrics

import (
	"math"
	"sync/atomic"
)

// SamplingObserver forwards a fraction of high-frequency events (one per media
// frame) and every other event unchanged.
type SamplingObserver struct {
	inner       Observer
	sampleEvery uint64
	counter     uint64
	sampled     map[string]struct{}
}

// NewSamplingObserver samples the named events at rate (0..1). With no names,
// frame_received and audio_bytes are sampled.
func NewSamplingObserver(inner Observer, rate float64, names ...string) *SamplingObserver {
	rate = math.Max(0, math.Min(1, rate))
	var every uint64
	switch {
	case rate == 0:
		every = 0
	case rate == 1:
		every = 1
	default:
		every = uint64(math.Round(1.0 / rate))
		if every == 0 {
			every = 1
		}
	}
	if len(names) == 0 {
		names = []string{EventFrameReceived, EventAudioBytes}
	}
	sampled := make(map[string]struct{}, len(names))
	for _, n := range names {
		sampled[n] = struct{}{}
	}
	return &SamplingObserver{inner: inner, sampleEvery: every, sampled: sampled}
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if _, ok := s.sampled[ev.Name]; !ok {
		s.inner.RecordEvent(ev)
		return
	}
	switch s.sampleEvery {
	case 0:
		return
	case 1:
		s.inner.RecordEvent(ev)
		return
	}
	n := atomic.AddUint64(&s.counter, 1)
	if n%s.sampleEvery == 0 {
		s.inner.RecordEvent(ev)
	}
}
