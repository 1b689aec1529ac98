package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/meetscribe/livelistener/pkg/Logger"
	"github.com/meetscribe/livelistener/pkg/stt"
)

// sileroSegment is one voice span from the Silero service, in seconds.
type sileroSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

type sileroResponse struct {
	HasVoice   bool            `json:"has_voice"`
	Confidence float64         `json:"confidence"`
	Segments   []sileroSegment `json:"segments"`
}

// SileroGate calls a Silero VAD HTTP service. Any service failure falls
// back to the energy gate so the pipeline keeps moving.
type SileroGate struct {
	cfg        Config
	serviceURL string
	httpClient *http.Client
	fallback   *EnergyGate
	logger     *Logger.Logger
}

func NewSileroGate(cfg Config, serviceURL string, logger *Logger.Logger) *SileroGate {
	return &SileroGate{
		cfg:        cfg,
		serviceURL: serviceURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		fallback:   NewEnergyGate(cfg),
		logger:     logger,
	}
}

func (g *SileroGate) rate(sampleRate int) int {
	if sampleRate > 0 {
		return sampleRate
	}
	return g.cfg.SampleRate
}

func (g *SileroGate) HasSpeech(pcm []byte, sampleRate int) (bool, error) {
	resp, err := g.call(pcm, g.rate(sampleRate))
	if err != nil {
		g.logger.Warnf("silero probe failed, using energy fallback: %v", err)
		return g.fallback.HasSpeech(pcm, sampleRate)
	}
	return resp.HasVoice, nil
}

func (g *SileroGate) Filter(pcm []byte, sampleRate int) ([]Slice, error) {
	resp, err := g.call(pcm, g.rate(sampleRate))
	if err != nil {
		g.logger.Warnf("silero filter failed, using energy fallback: %v", err)
		return g.fallback.Filter(pcm, sampleRate)
	}

	bytesPerSec := g.rate(sampleRate) * 2
	slices := make([]Slice, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		start := int(seg.Start * float64(bytesPerSec))
		end := int(seg.End * float64(bytesPerSec))
		start -= start % 2
		end -= end % 2
		if start < 0 {
			start = 0
		}
		if end > len(pcm) {
			end = len(pcm)
		}
		if end <= start {
			continue
		}
		slices = append(slices, Slice{PCM: pcm[start:end], Offset: seg.Start})
	}
	return slices, nil
}

func (g *SileroGate) call(pcm []byte, sampleRate int) (*sileroResponse, error) {
	if len(pcm) == 0 {
		return &sileroResponse{}, nil
	}

	// Under 100 ms of audio is not worth a round trip.
	if len(pcm)/2 < sampleRate/10 {
		return &sileroResponse{}, nil
	}

	wavData := stt.WAVFromPCM(pcm, sampleRate)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	writer.WriteField("threshold", fmt.Sprintf("%.3f", g.cfg.Threshold))
	writer.WriteField("min_speech_duration_ms", strconv.Itoa(g.cfg.MinSpeechMs))
	writer.WriteField("min_silence_duration_ms", strconv.Itoa(g.cfg.MinSilenceMs))
	writer.WriteField("sampling_rate", strconv.Itoa(sampleRate))
	if err := writer.Close(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.serviceURL+"/vad", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call vad service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vad service returned status %d: %s", resp.StatusCode, string(b))
	}

	var parsed sileroResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode vad response: %w", err)
	}
	return &parsed, nil
}
