// Package whisper is an HTTP client for a whisper-style ASR service
// exposing POST /asr with multipart WAV input and JSON segment output.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/meetscribe/livelistener/pkg/Logger"
	"github.com/meetscribe/livelistener/pkg/stt"
)

// asrResponse mirrors the service's JSON body.
type asrResponse struct {
	Text     string       `json:"text"`
	Language string       `json:"language"`
	Segments []asrSegment `json:"segments,omitempty"`
}

type asrSegment struct {
	ID          int     `json:"id"`
	Text        string  `json:"text"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability,omitempty"`
	NoSpeech    float64 `json:"no_speech_prob,omitempty"`
}

// Client talks to one whisper service instance. Safe for concurrent
// use; per-call deadlines come from the caller's context.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *Logger.Logger
}

func New(baseURL string, logger *Logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// Transcribe implements stt.Transcriber.
func (c *Client) Transcribe(ctx context.Context, req stt.Request) ([]stt.Segment, error) {
	if len(req.PCM) == 0 {
		return nil, fmt.Errorf("no audio provided")
	}

	wavData := stt.WAVFromPCM(req.PCM, req.SampleRate)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio_file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = "en"
	}
	requestURL := fmt.Sprintf("%s/asr?encode=true&task=transcribe&language=%s&output=json",
		c.baseURL, url.QueryEscape(lang))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call asr service: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("asr service returned status %d: %s", resp.StatusCode, string(responseBody))
	}

	var parsed asrResponse
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		// Some deployments answer with bare text; treat it as one
		// segment spanning the chunk.
		text := strings.TrimSpace(string(responseBody))
		if text == "" {
			return nil, fmt.Errorf("failed to decode asr response: %w", err)
		}
		c.logger.Debugf("asr returned plain text, wrapping as single segment")
		dur := float64(len(req.PCM)) / float64(req.SampleRate*2)
		return []stt.Segment{{T0: 0, T1: dur, Text: text, Confidence: 0.9, Stable: true}}, nil
	}

	segments := make([]stt.Segment, 0, len(parsed.Segments))
	for _, s := range parsed.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		conf := s.Probability
		if conf == 0 {
			conf = 1 - s.NoSpeech
		}
		segments = append(segments, stt.Segment{
			T0:         s.Start,
			T1:         s.End,
			Text:       text,
			Confidence: conf,
			Stable:     true,
		})
	}
	if len(segments) == 0 && strings.TrimSpace(parsed.Text) != "" {
		dur := float64(len(req.PCM)) / float64(req.SampleRate*2)
		segments = append(segments, stt.Segment{
			T0: 0, T1: dur, Text: strings.TrimSpace(parsed.Text), Confidence: 0.9, Stable: true,
		})
	}
	return segments, nil
}
