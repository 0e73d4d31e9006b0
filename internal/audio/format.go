// Package audio holds the fixed PCM format of ingested classroom audio and
// helpers for framing and spooling raw windows.
package audio

import "time"

const (
	DefaultSampleRate = 16000
	BytesPerSample    = 2
	Channels          = 1
)

// Format describes signed little-endian PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// PCM16 returns the mono 16-bit format at sampleRate, or at
// DefaultSampleRate when sampleRate is not positive.
func PCM16(sampleRate int) Format {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return Format{SampleRate: sampleRate, Channels: Channels}
}

// BytesPerSecond is sampleRate × bytesPerSample × channels.
func (f Format) BytesPerSecond() int {
	ch := f.Channels
	if ch <= 0 {
		ch = Channels
	}
	return f.SampleRate * BytesPerSample * ch
}

// Threshold converts a window duration into the byte count that holds it.
// Windows shorter than one sample round up to a single frame.
func (f Format) Threshold(window time.Duration) int {
	n := int(int64(f.BytesPerSecond()) * int64(window) / int64(time.Second))
	frame := BytesPerSample * max(f.Channels, 1)
	if n < frame {
		return frame
	}
	return n - n%frame
}

// Duration is the playback length of n bytes.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}
