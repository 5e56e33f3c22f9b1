package ingest

import (
	"strings"
	"time"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/apperr"
)

// MetadataSchemaVersion is the canonical mobile intake schema version.
const MetadataSchemaVersion = "1.0.0"

// Metadata is the canonical mobile intake document, schema version 1.0.0.
type Metadata struct {
	SchemaVersion  string           `json:"schema_version"`
	TicketIDClient string           `json:"ticket_id_client"`
	TicketType     string           `json:"ticket_type" enum:"SOS,Normal"`
	Text           string           `json:"text,omitempty"`
	VoiceTranscript *VoiceTranscript `json:"voice_transcript,omitempty"`
	Images         []MediaRef       `json:"image,omitempty"`
	Videos         []MediaRef       `json:"video,omitempty"`
	AudioFileRef   string           `json:"audio_file_ref,omitempty"`
	Latitude       float64          `json:"latitude"`
	Longitude      float64          `json:"longitude"`
	LocationAccuracyM float64       `json:"location_accuracy_m,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
	DeviceInfo     DeviceInfo       `json:"device_info"`
	Meta           IntakeMeta       `json:"metadata"`
}

// VoiceTranscript is a client-side transcription result.
type VoiceTranscript struct {
	RawText  string              `json:"raw_text"`
	Provider string              `json:"provider,omitempty"`
	Model    string              `json:"model,omitempty"`
	Language string              `json:"language,omitempty"`
	Segments []TranscriptSegment `json:"segments,omitempty"`
}

// TranscriptSegment is one timed span of a transcript.
type TranscriptSegment struct {
	StartMs int    `json:"start_ms"`
	EndMs   int    `json:"end_ms"`
	Text    string `json:"text"`
}

// MediaRef references an uploaded media part.
type MediaRef struct {
	Ref            string `json:"ref"`
	ContentType    string `json:"content_type,omitempty"`
	PerceptualHash string `json:"perceptual_hash,omitempty"`
}

// DeviceInfo describes the reporting device.
type DeviceInfo struct {
	DeviceID       string `json:"device_id"`
	Platform       string `json:"platform,omitempty"`
	AppVersion     string `json:"app_version,omitempty"`
	FirstSeenUnix  int64  `json:"first_seen_unix,omitempty"`
}

// IntakeMeta carries client bookkeeping.
type IntakeMeta struct {
	IdempotencyKey    string `json:"idempotency_key"`
	CaptureMode       string `json:"capture_mode,omitempty"`
	ConnectivityState string `json:"connectivity_state,omitempty"`
}

// Validate checks the fields the pipeline cannot proceed without.
func (m *Metadata) Validate() error {
	if m.SchemaVersion != MetadataSchemaVersion {
		return apperr.New(apperr.KindInvalidInput, "unsupported schema_version %q, want %s", m.SchemaVersion, MetadataSchemaVersion)
	}
	if strings.TrimSpace(m.TicketIDClient) == "" {
		return apperr.New(apperr.KindInvalidInput, "ticket_id_client is required")
	}
	if m.TicketType != "SOS" && m.TicketType != "Normal" {
		return apperr.New(apperr.KindInvalidInput, "ticket_type must be SOS or Normal")
	}
	if m.Latitude < -90 || m.Latitude > 90 || m.Longitude < -180 || m.Longitude > 180 {
		return apperr.New(apperr.KindInvalidInput, "coordinates out of range")
	}
	return nil
}

// Transcript returns the raw transcript text, if any.
func (m *Metadata) Transcript() string {
	if m.VoiceTranscript == nil {
		return ""
	}
	return m.VoiceTranscript.RawText
}
