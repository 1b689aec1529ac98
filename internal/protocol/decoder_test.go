package protocol

import (
	"encoding/base64"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/meetscribe/livelistener/internal/types"
)

func TestDecodeStartValid(t *testing.T) {
	raw := []byte(`{"type":"start","session_id":"  meeting-1  ","sample_rate":16000,"format":"pcm_s16le","channels":1}`)

	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Kind != KindStart || msg.Start == nil {
		t.Fatal("expected start variant")
	}
	if msg.Start.SessionID != "meeting-1" {
		t.Errorf("session_id not trimmed: %q", msg.Start.SessionID)
	}
	if msg.Start.SampleRate != 16000 || msg.Start.Channels != 1 {
		t.Errorf("unexpected audio params: %+v", msg.Start)
	}
}

func TestDecodeStartInvalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing session id", `{"type":"start","sample_rate":16000,"format":"pcm_s16le","channels":1}`},
		{"bad sample rate", `{"type":"start","session_id":"a","sample_rate":1000,"format":"pcm_s16le","channels":1}`},
		{"bad channels", `{"type":"start","session_id":"a","sample_rate":16000,"format":"pcm_s16le","channels":3}`},
		{"bad format", `{"type":"start","session_id":"a","sample_rate":16000,"format":"mp3","channels":1}`},
	}
	for _, tc := range cases {
		if _, err := Decode([]byte(tc.raw)); err == nil {
			t.Errorf("%s: expected decode error", tc.name)
		}
	}
}

func TestDecodeAudioSourceAlias(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
	raw := []byte(`{"type":"audio","source":"microphone","data":"` + data + `"}`)

	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Audio.Source != types.SourceMic {
		t.Errorf("microphone alias should map to mic, got %s", msg.Audio.Source)
	}
	if len(msg.Audio.PCM) != 4 {
		t.Errorf("expected 4 pcm bytes, got %d", len(msg.Audio.PCM))
	}
}

func TestDecodeAudioRejectsBadBase64(t *testing.T) {
	raw := []byte(`{"type":"audio","source":"mic","data":"not-base64!!"}`)
	if _, err := Decode(raw); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestDecodeAudioRejectsUnknownSource(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte{1, 2})
	raw := []byte(`{"type":"audio","source":"loopback","data":"` + data + `"}`)
	if _, err := Decode(raw); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestDecodeUnknownType(t *testing.T) {
	raw := []byte(`{"type":"subscribe"}`)
	_, err := Decode(raw)
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	if _, ok := err.(*DecodeError); !ok {
		t.Errorf("expected DecodeError, got %T", err)
	}
}

func TestDecodeOCRTextLimits(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"ocr_text","text":"  agenda on screen  "}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.OCR.Text != "agenda on screen" {
		t.Errorf("text not trimmed: %q", msg.OCR.Text)
	}

	long := make([]byte, 10001)
	for i := range long {
		long[i] = 'a'
	}
	rawLong, _ := json.Marshal(map[string]string{"type": "ocr_text", "text": string(long)})
	if _, err := Decode(rawLong); err == nil {
		t.Error("expected error for over-long ocr text")
	}

	if _, err := Decode([]byte(`{"type":"ocr_text","text":"   "}`)); err == nil {
		t.Error("expected error for blank ocr text")
	}
}

func TestDecodeVoiceNoteFlow(t *testing.T) {
	start, err := Decode([]byte(`{"type":"voice_note_start"}`))
	if err != nil || start.Kind != KindVoiceNoteStart {
		t.Fatalf("voice_note_start decode: %v %v", start.Kind, err)
	}

	data := base64.StdEncoding.EncodeToString([]byte{9, 9})
	note, err := Decode([]byte(`{"type":"voice_note_audio","data":"` + data + `"}`))
	if err != nil {
		t.Fatalf("voice_note_audio decode failed: %v", err)
	}
	if note.Audio.Source != types.SourceNote {
		t.Errorf("voice note audio should be tagged note, got %s", note.Audio.Source)
	}

	stop, err := Decode([]byte(`{"type":"voice_note_stop"}`))
	if err != nil || stop.Kind != KindVoiceNoteStop {
		t.Fatalf("voice_note_stop decode: %v %v", stop.Kind, err)
	}
}

func TestDecodeBinaryIsMicAudio(t *testing.T) {
	msg, err := DecodeBinary([]byte{1, 2, 3})
	if err != nil {
		t.Fatalf("binary decode failed: %v", err)
	}
	if msg.Kind != KindAudio || msg.Audio.Source != types.SourceMic {
		t.Errorf("binary frames must decode as mic audio, got %+v", msg)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	pcm := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
	cases := []string{
		`{"type":"start","session_id":"rt","sample_rate":16000,"format":"pcm_s16le","channels":1}`,
		`{"type":"stop","session_id":"rt"}`,
		`{"type":"audio","source":"mic","data":"` + pcm + `"}`,
		`{"type":"ocr_text","text":"notes"}`,
		`{"type":"voice_note_start"}`,
	}

	for _, raw := range cases {
		msg, err := Decode([]byte(raw))
		if err != nil {
			t.Fatalf("decode %s failed: %v", raw, err)
		}
		encoded, err := Encode(msg)
		if err != nil {
			t.Fatalf("encode %s failed: %v", raw, err)
		}

		var want, got map[string]any
		if err := json.Unmarshal([]byte(raw), &want); err != nil {
			t.Fatal(err)
		}
		if err := json.Unmarshal(encoded, &got); err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(want, got) {
			t.Errorf("round trip mismatch:\nwant %v\ngot  %v", want, got)
		}
	}
}
