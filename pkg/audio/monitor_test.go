package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sine returns n samples of a sine tone at freq Hz with the given int16
// amplitude.
func sine(n, sampleRate int, freq float64, amplitude int16) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(float64(amplitude) * math.Sin(2.0*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return samples
}

func TestMonitorLevels(t *testing.T) {
	m := NewMonitor(12000, 1024)

	t.Run("Silence", func(t *testing.T) {
		m.Feed(make([]int16, 512))
		levels := m.Levels()
		assert.Equal(t, float32(-100.0), levels.RMSLevel)
		assert.Equal(t, float32(-100.0), levels.PeakLevel)
		assert.False(t, levels.Clipping)
	})

	t.Run("Full Scale Tone", func(t *testing.T) {
		m.Feed(sine(512, 12000, 1000, 32767))
		levels := m.Levels()
		// full-scale sine: peak ~0 dBFS, RMS ~-3 dBFS
		assert.InDelta(t, 0.0, float64(levels.PeakLevel), 0.1)
		assert.InDelta(t, -3.0, float64(levels.RMSLevel), 0.3)
		assert.True(t, levels.Clipping)
	})

	t.Run("Quiet Tone Does Not Clip", func(t *testing.T) {
		m.Feed(sine(512, 12000, 1000, 3276))
		levels := m.Levels()
		assert.InDelta(t, -20.0, float64(levels.PeakLevel), 0.5)
		assert.False(t, levels.Clipping)
	})
}

func TestMonitorSpectrum(t *testing.T) {
	const (
		sampleRate = 12000
		fftSize    = 1024
	)
	m := NewMonitor(sampleRate, fftSize)

	// a tone centered on an FFT bin so the energy does not smear
	binFreq := float64(sampleRate) / float64(fftSize) * 100
	m.Feed(sine(fftSize, sampleRate, binFreq, 16384))

	sd := m.CurrentSpectrum()
	require.Len(t, sd.Spectrum, fftSize/2)
	assert.Equal(t, sampleRate, sd.SampleRate)
	assert.InDelta(t, float64(sampleRate)/float64(fftSize), float64(sd.FreqStep), 0.001)

	// the loudest bin should be the tone's bin
	maxBin := 0
	for i, v := range sd.Spectrum {
		if v > sd.Spectrum[maxBin] {
			maxBin = i
		}
	}
	assert.Equal(t, 100, maxBin)
}

func TestMonitorStatistics(t *testing.T) {
	m := NewMonitor(12000, 1024)
	m.Feed(sine(2048, 12000, 500, 8192))

	stats := m.Statistics()
	assert.Equal(t, int64(2048), stats["sample_count"])
	assert.Equal(t, 12000, stats["sample_rate"])
	// buffer trimmed to the newest fftSize samples
	assert.Equal(t, 1024, stats["buffer_samples"])
}

func TestMonitorEmptyFeed(t *testing.T) {
	m := NewMonitor(12000, 1024)
	m.Feed(nil)
	assert.Equal(t, int64(0), m.Statistics()["sample_count"])
}
