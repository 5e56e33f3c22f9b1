package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"

	"github.com/Rahulpedimalla/Aegis-Hub/internal/apperr"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/auth"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/dispatch"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/ingest"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/models"
	"github.com/Rahulpedimalla/Aegis-Hub/internal/store"
)

// maxMultipartMemory bounds in-memory multipart parsing; larger parts spill
// to temp files.
const maxMultipartMemory = 32 << 20

// MobileHandler serves the /mobile intake surface.
type MobileHandler struct {
	pipeline *ingest.Pipeline
	pool     *dispatch.Pool
	store    store.Store
	stt      ingest.STTProvider
	logger   zerolog.Logger
}

// NewMobileHandler creates a mobile handler.
func NewMobileHandler(p *ingest.Pipeline, pool *dispatch.Pool, s store.Store, stt ingest.STTProvider, logger zerolog.Logger) *MobileHandler {
	return &MobileHandler{
		pipeline: p,
		pool:     pool,
		store:    s,
		stt:      stt,
		logger:   logger.With().Str("handler", "mobile").Logger(),
	}
}

// TicketResponse is returned for both fresh and replayed submissions.
type TicketResponse struct {
	TicketID       string `json:"ticket_id"`
	ClientTicketID string `json:"client_ticket_id"`
	Lane           string `json:"lane"`
	State          string `json:"state"`
	Duplicate      bool   `json:"duplicate,omitempty"`
	RequiresReview bool   `json:"requires_review,omitempty"`
}

// ServeTickets handles POST /mobile/tickets. The request is multipart:
// a `metadata` JSON part plus optional images[], videos[] and audio_file
// parts. Media bytes are accepted and acknowledged; the pipeline works from
// the metadata references.
func (h *MobileHandler) ServeTickets(verify func(r *http.Request) (auth.Principal, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		p, err := verify(r)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		switch p.Role {
		case auth.RoleAdmin, auth.RoleWebhook, auth.RoleCitizen:
		default:
			writeJSONError(w, http.StatusForbidden, "mobile intake requires a trusted caller")
			return
		}

		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid multipart request")
			return
		}
		defer func() {
			if r.MultipartForm != nil {
				_ = r.MultipartForm.RemoveAll()
			}
		}()

		raw := r.FormValue("metadata")
		if raw == "" {
			if file, _, ferr := r.FormFile("metadata"); ferr == nil {
				b, _ := io.ReadAll(io.LimitReader(file, maxMultipartMemory))
				file.Close()
				raw = string(b)
			}
		}
		if raw == "" {
			writeJSONError(w, http.StatusBadRequest, "missing metadata part")
			return
		}

		var md ingest.Metadata
		if err := json.Unmarshal([]byte(raw), &md); err != nil {
			writeJSONError(w, http.StatusBadRequest, "metadata is not valid JSON")
			return
		}

		result, err := h.pipeline.Process(r.Context(), &md)
		if err != nil {
			// Invalid metadata is reported as 400; any other failure means
			// the job could not be queued and is reported as 500.
			if apperr.Is(err, apperr.KindInvalidInput) {
				writeJSONError(w, http.StatusBadRequest, err.Error())
			} else {
				writeJSONError(w, http.StatusInternalServerError, "could not queue the report")
			}
			return
		}

		status := http.StatusAccepted
		if !result.Created {
			status = http.StatusOK
		}
		writeJSON(w, status, TicketResponse{
			TicketID:       result.Job.ID,
			ClientTicketID: result.Job.ClientTicketID,
			Lane:           result.Job.Lane,
			State:          string(result.Job.State),
			Duplicate:      !result.Created,
			RequiresReview: result.Payload.Annotations.RequiresReview,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type ChatInput struct {
	Session string `path:"session"`
	Body    struct {
		Text string `json:"text" minLength:"1"`
	}
}

type ChatResponse struct {
	Session string `json:"session"`
	Reply   string `json:"reply"`
	Status  string `json:"status,omitempty"`
}

type VoiceAgentInput struct {
	Body struct {
		Session      string `json:"session" minLength:"1"`
		AudioFileRef string `json:"audio_file_ref,omitempty"`
		Transcript   string `json:"transcript,omitempty"`
	}
}

type MobileStatusInput struct {
	ClientID string `path:"client_id"`
}

// MobileStatusResponse reports dispatch and incident progress for a client
// ticket.
type MobileStatusResponse struct {
	ClientTicketID string                `json:"client_ticket_id"`
	DispatchState  models.DispatchState  `json:"dispatch_state"`
	Attempts       int                   `json:"attempts"`
	IncidentID     string                `json:"incident_id,omitempty"`
	IncidentStatus models.IncidentStatus `json:"incident_status,omitempty"`
}

type RetryResponse struct {
	Requeued int `json:"requeued"`
}

// RegisterRoutes registers the huma-served mobile endpoints. /mobile/tickets
// is multipart and registered on the raw mux by the server.
func (h *MobileHandler) RegisterRoutes(api huma.API) {
	tags := []string{"mobile"}

	huma.Register(api, huma.Operation{
		OperationID: "mobile-chat",
		Method:      http.MethodPost,
		Path:        "/mobile/chat/{session}/messages",
		Summary:     "Follow-up chat for a submitted ticket",
		Tags:        tags,
	}, h.chat)

	huma.Register(api, huma.Operation{
		OperationID: "mobile-voice-agent",
		Method:      http.MethodPost,
		Path:        "/mobile/ai/voice-agent",
		Summary:     "Voice follow-up for a submitted ticket",
		Tags:        tags,
	}, h.voiceAgent)

	huma.Register(api, huma.Operation{
		OperationID: "mobile-incident-status",
		Method:      http.MethodGet,
		Path:        "/mobile/incidents/{client_id}",
		Summary:     "Status for a client ticket",
		Tags:        tags,
	}, h.status)

	huma.Register(api, huma.Operation{
		OperationID: "mobile-dispatch-retry",
		Method:      http.MethodPost,
		Path:        "/mobile/dispatch/retry-pending",
		Summary:     "Re-queue terminally failed dispatch jobs",
		Tags:        tags,
	}, h.retryPending)
}

// chat appends the follow-up to the incident notes and acknowledges. The
// session id is the client ticket id issued at intake.
func (h *MobileHandler) chat(ctx context.Context, input *ChatInput) (*Response[ChatResponse], error) {
	if _, err := Principal(ctx); err != nil {
		return nil, err
	}
	resp := ChatResponse{Session: input.Session}

	inc, err := h.store.GetIncidentByExternalID(ctx, input.Session)
	if err != nil {
		// Ticket still in the dispatch queue; acknowledge without incident
		// context.
		resp.Reply = "Your update was recorded. Your report is still being processed."
		return &Response[ChatResponse]{Body: resp}, nil
	}

	note := inc.Notes
	if note != "" {
		note += "\n"
	}
	note += "[citizen " + time.Now().UTC().Format(time.RFC3339) + "] " + input.Body.Text
	err = h.store.Mutate(ctx, inc.ID, func(tx store.Tx) error {
		locked := tx.Incident()
		locked.Notes = note
		return tx.UpdateIncident(locked)
	})
	if err != nil {
		return nil, MapError(err)
	}
	resp.Reply = "Your update was added to the report."
	resp.Status = string(inc.Status)
	return &Response[ChatResponse]{Body: resp}, nil
}

// voiceAgent transcribes the audio follow-up (client transcript wins) and
// routes it through the chat path.
func (h *MobileHandler) voiceAgent(ctx context.Context, input *VoiceAgentInput) (*Response[ChatResponse], error) {
	if _, err := Principal(ctx); err != nil {
		return nil, err
	}
	text := input.Body.Transcript
	if text == "" && input.Body.AudioFileRef != "" && h.stt != nil {
		transcribed, err := h.stt.Transcribe(ctx, input.Body.AudioFileRef)
		if err != nil {
			h.logger.Warn().Err(err).Msg("voice follow-up transcription failed")
		} else {
			text = transcribed
		}
	}
	if text == "" {
		return nil, huma.Error400BadRequest("no transcript available for voice follow-up")
	}
	chatInput := &ChatInput{Session: input.Body.Session}
	chatInput.Body.Text = text
	return h.chat(ctx, chatInput)
}

func (h *MobileHandler) status(ctx context.Context, input *MobileStatusInput) (*Response[MobileStatusResponse], error) {
	if _, err := Principal(ctx); err != nil {
		return nil, err
	}
	job, err := h.store.GetDispatchByClientID(ctx, input.ClientID)
	if err != nil {
		return nil, MapError(err)
	}
	resp := MobileStatusResponse{
		ClientTicketID: input.ClientID,
		DispatchState:  job.State,
		Attempts:       job.Attempts,
	}
	if inc, err := h.store.GetIncidentByExternalID(ctx, input.ClientID); err == nil {
		resp.IncidentID = inc.ID
		resp.IncidentStatus = inc.Status
	}
	return &Response[MobileStatusResponse]{Body: resp}, nil
}

func (h *MobileHandler) retryPending(ctx context.Context, _ *struct{}) (*Response[RetryResponse], error) {
	p, err := Principal(ctx)
	if err != nil {
		return nil, err
	}
	if p.Role != auth.RoleAdmin {
		return nil, huma.Error403Forbidden("manual retry requires admin")
	}
	n, err := h.pool.RetryPending(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	h.logger.Info().Int("requeued", n).Msg("terminal dispatch jobs requeued")
	return &Response[RetryResponse]{Body: RetryResponse{Requeued: n}}, nil
}
