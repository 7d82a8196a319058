package audio

import (
	"math"
	"sync"
	"time"

	"github.com/mjibson/go-dsp/fft"
)

// LevelData is a real-time level measurement of the RX audio stream.
type LevelData struct {
	Timestamp int64   `json:"timestamp"`
	RMSLevel  float32 `json:"rms"`      // RMS level in dB
	PeakLevel float32 `json:"peak"`     // Peak level in dB
	Clipping  bool    `json:"clipping"` // True if clipping detected
}

// SpectrumData is an FFT magnitude spectrum of the RX audio stream.
type SpectrumData struct {
	Timestamp  int64     `json:"timestamp"`
	SampleRate int       `json:"sample_rate"`
	Spectrum   []float32 `json:"spectrum"`  // Magnitude spectrum in dB
	FreqStep   float32   `json:"freq_step"` // Frequency per bin in Hz
}

// Snapshot combines level and spectrum data for the API.
type Snapshot struct {
	LevelData
	SpectrumData
}

// Monitor analyzes the inbound PCM stream delivered by the UDP backend.
// Feed is safe to call from the backend's audio read loop; readers take
// snapshots from the API side.
type Monitor struct {
	mutex sync.RWMutex

	sampleRate int
	fftSize    int

	currentRMS   float32
	currentPeak  float32
	peakHold     float32
	peakHoldTime time.Time
	isClipping   bool

	spectrum     []float32
	spectrumTime time.Time

	sampleBuffer []int16
	fftBuffer    []complex128
	window       []float64

	sampleCount int64
	clipCount   int64
}

// NewMonitor creates an RX audio monitor.
func NewMonitor(sampleRate, fftSize int) *Monitor {
	return &Monitor{
		sampleRate: sampleRate,
		fftSize:    fftSize,
		spectrum:   make([]float32, fftSize/2),
		fftBuffer:  make([]complex128, fftSize),
		window:     makeHannWindow(fftSize),
	}
}

// makeHannWindow creates a Hann window function for FFT
func makeHannWindow(size int) []float64 {
	window := make([]float64, size)
	for i := 0; i < size; i++ {
		window[i] = 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(size-1)))
	}
	return window
}

// Feed processes a buffer of PCM samples from the radio.
func (m *Monitor) Feed(samples []int16) {
	if len(samples) == 0 {
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.measureLevels(samples)

	m.sampleBuffer = append(m.sampleBuffer, samples...)
	if len(m.sampleBuffer) >= m.fftSize {
		m.computeSpectrum()
		// keep only the newest fftSize samples
		if len(m.sampleBuffer) > m.fftSize {
			copy(m.sampleBuffer, m.sampleBuffer[len(m.sampleBuffer)-m.fftSize:])
			m.sampleBuffer = m.sampleBuffer[:m.fftSize]
		}
	}

	m.sampleCount += int64(len(samples))
}

// measureLevels computes RMS and peak levels from samples
func (m *Monitor) measureLevels(samples []int16) {
	var sumSquares float64
	var peak int16
	clipping := false

	for _, sample := range samples {
		if sample < 0 {
			sample = -sample
		}
		if sample > peak {
			peak = sample
		}
		// ~98% of max int16 counts as clipping
		if sample >= 32000 {
			clipping = true
			m.clipCount++
		}
		sumSquares += float64(sample) * float64(sample)
	}

	rms := math.Sqrt(sumSquares / float64(len(samples)))
	if rms > 0 {
		m.currentRMS = float32(20.0 * math.Log10(rms/32768.0))
	} else {
		m.currentRMS = -100.0
	}

	if peak > 0 {
		peakDB := float32(20.0 * math.Log10(float64(peak)/32768.0))
		m.currentPeak = peakDB
		now := time.Now()
		if peakDB > m.peakHold || now.Sub(m.peakHoldTime) > 2*time.Second {
			m.peakHold = peakDB
			m.peakHoldTime = now
		}
	} else {
		m.currentPeak = -100.0
	}

	m.isClipping = clipping
}

// computeSpectrum performs FFT analysis on the accumulated samples
func (m *Monitor) computeSpectrum() {
	for i := 0; i < m.fftSize; i++ {
		sample := float64(m.sampleBuffer[i]) / 32768.0
		m.fftBuffer[i] = complex(sample*m.window[i], 0)
	}

	fftResult := fft.FFT(m.fftBuffer)

	// magnitude spectrum, positive frequencies only
	for i := 0; i < len(m.spectrum); i++ {
		magnitude := math.Sqrt(real(fftResult[i])*real(fftResult[i]) +
			imag(fftResult[i])*imag(fftResult[i]))
		if magnitude > 0 {
			m.spectrum[i] = float32(20.0 * math.Log10(magnitude))
		} else {
			m.spectrum[i] = -100.0
		}
	}

	m.spectrumTime = time.Now()
}

// Levels returns the current audio levels
func (m *Monitor) Levels() LevelData {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return LevelData{
		Timestamp: time.Now().UnixMilli(),
		RMSLevel:  m.currentRMS,
		PeakLevel: m.currentPeak,
		Clipping:  m.isClipping,
	}
}

// CurrentSpectrum returns a copy of the current spectrum data
func (m *Monitor) CurrentSpectrum() SpectrumData {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	spectrum := make([]float32, len(m.spectrum))
	copy(spectrum, m.spectrum)

	return SpectrumData{
		Timestamp:  m.spectrumTime.UnixMilli(),
		SampleRate: m.sampleRate,
		Spectrum:   spectrum,
		FreqStep:   float32(m.sampleRate) / float32(m.fftSize),
	}
}

// TakeSnapshot returns combined level and spectrum data
func (m *Monitor) TakeSnapshot() Snapshot {
	return Snapshot{
		LevelData:    m.Levels(),
		SpectrumData: m.CurrentSpectrum(),
	}
}

// Statistics returns stream health counters
func (m *Monitor) Statistics() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	clipRate := float64(0)
	if m.sampleCount > 0 {
		clipRate = float64(m.clipCount) / float64(m.sampleCount) * 100.0
	}

	return map[string]interface{}{
		"sample_count":   m.sampleCount,
		"clip_count":     m.clipCount,
		"clip_rate_pct":  clipRate,
		"peak_hold_db":   m.peakHold,
		"sample_rate":    m.sampleRate,
		"fft_size":       m.fftSize,
		"buffer_samples": len(m.sampleBuffer),
	}
}
