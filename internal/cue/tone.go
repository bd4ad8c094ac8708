package cue

import (
	"math"
	"time"

	"github.com/itshop/voiceqa/internal/audio"
)

const sampleRate = 16000

type tone struct {
	frequencyHz float64
	duration    time.Duration
	volume      float64
}

var (
	startPCM = synthesize([]tone{
		{frequencyHz: 880, duration: 70 * time.Millisecond, volume: 0.18},
		{frequencyHz: 1175, duration: 70 * time.Millisecond, volume: 0.18},
	})
	stopPCM = synthesize([]tone{
		{frequencyHz: 620, duration: 120 * time.Millisecond, volume: 0.18},
	})
	failedPCM = synthesize([]tone{
		{frequencyHz: 480, duration: 75 * time.Millisecond, volume: 0.18},
		{frequencyHz: 360, duration: 90 * time.Millisecond, volume: 0.18},
	})
)

// Clip returns the mono tone for kind. Unknown kinds give an empty clip.
func Clip(kind Kind) audio.Clip {
	var samples []int16
	switch kind {
	case Start:
		samples = startPCM
	case Stop:
		samples = stopPCM
	case Failed:
		samples = failedPCM
	}
	return audio.Clip{Samples: samples, SampleRate: sampleRate, Channels: 1}
}

// synthesize joins tones with a short gap of silence.
func synthesize(parts []tone) []int16 {
	if len(parts) == 0 {
		return nil
	}
	gap := samplesFor(22 * time.Millisecond)

	var pcm []int16
	for i, part := range parts {
		pcm = append(pcm, synthesizeTone(part)...)
		if i < len(parts)-1 && gap > 0 {
			pcm = append(pcm, make([]int16, gap)...)
		}
	}
	return pcm
}

func synthesizeTone(tn tone) []int16 {
	n := samplesFor(tn.duration)
	if n <= 0 || tn.frequencyHz <= 0 || tn.volume <= 0 {
		return nil
	}

	// 5ms ramps keep the edges from clicking.
	ramp := min(n/10, sampleRate/200)
	ramp = max(ramp, 1)

	pcm := make([]int16, n)
	for i := range n {
		envelope := 1.0
		if i < ramp {
			envelope = float64(i) / float64(ramp)
		}
		if tail := n - i - 1; tail < ramp {
			envelope = min(envelope, float64(tail)/float64(ramp))
		}
		t := float64(i) / sampleRate
		sample := math.Sin(2 * math.Pi * tn.frequencyHz * t)
		pcm[i] = int16(math.Round(sample * tn.volume * envelope * 32767))
	}
	return pcm
}

func samplesFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * sampleRate))
}
