package gate

import "math"

// EnergyGate is a windowed RMS detector over 16-bit PCM. It is both a
// standalone gate and the fail-over behind the Silero HTTP gate.
type EnergyGate struct {
	cfg Config
}

func NewEnergyGate(cfg Config) *EnergyGate {
	return &EnergyGate{cfg: cfg}
}

const windowMs = 30

// speechRMSRef is the RMS amplitude of clear speech at a normal capture
// level, roughly -28 dBFS. Config.Threshold keeps its Silero-style
// probability semantics, so the energy gate scales it against this
// reference: the shipped 0.5 default cuts at 0.02 RMS instead of
// demanding half of full scale.
const speechRMSRef = 0.04

func (g *EnergyGate) cutoff() float64 {
	return g.cfg.Threshold * speechRMSRef
}

func (g *EnergyGate) rate(sampleRate int) int {
	if sampleRate > 0 {
		return sampleRate
	}
	return g.cfg.SampleRate
}

// HasSpeech probes whole-chunk amplitude against the threshold.
func (g *EnergyGate) HasSpeech(pcm []byte, sampleRate int) (bool, error) {
	if len(pcm) < 2 {
		return false, nil
	}
	return rmsAmplitude(pcm) > g.cutoff(), nil
}

// Filter walks fixed windows, groups consecutive speech windows into
// regions, and keeps regions at least MinSpeechMs long. Gaps shorter
// than MinSilenceMs do not split a region.
func (g *EnergyGate) Filter(pcm []byte, sampleRate int) ([]Slice, error) {
	winBytes := g.rate(sampleRate) * 2 * windowMs / 1000
	if winBytes == 0 || len(pcm) < winBytes {
		ok, _ := g.HasSpeech(pcm, sampleRate)
		if ok {
			return []Slice{{PCM: pcm, Offset: 0}}, nil
		}
		return nil, nil
	}

	minSpeechWins := g.cfg.MinSpeechMs / windowMs
	maxGapWins := g.cfg.MinSilenceMs / windowMs

	var slices []Slice
	regionStart := -1
	gap := 0
	speechWins := 0
	windows := len(pcm) / winBytes

	flush := func(endWin int) {
		if regionStart >= 0 && speechWins >= minSpeechWins {
			start := regionStart * winBytes
			end := endWin * winBytes
			if end > len(pcm) {
				end = len(pcm)
			}
			slices = append(slices, Slice{
				PCM:    pcm[start:end],
				Offset: float64(regionStart*windowMs) / 1000,
			})
		}
		regionStart = -1
		gap = 0
		speechWins = 0
	}

	for w := 0; w < windows; w++ {
		win := pcm[w*winBytes : (w+1)*winBytes]
		if rmsAmplitude(win) > g.cutoff() {
			if regionStart < 0 {
				regionStart = w
			}
			speechWins++
			gap = 0
			continue
		}
		if regionStart >= 0 {
			gap++
			if gap > maxGapWins {
				flush(w - gap + 1)
			}
		}
	}
	flush(windows)

	return slices, nil
}

// rmsAmplitude returns RMS amplitude in [0,1] for 16-bit LE samples.
// A full-scale sine reads ~0.707, conversational speech ~0.04-0.3.
func rmsAmplitude(pcm []byte) float64 {
	var sum int64
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int64(int16(pcm[i]) | int16(pcm[i+1])<<8)
		sum += s * s
	}
	meanSquare := float64(sum) / float64(samples)
	return math.Sqrt(meanSquare) / 32768.0
}
