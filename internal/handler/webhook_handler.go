package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jobrelay/sms-relay/internal/dispatch"
	"github.com/jobrelay/sms-relay/internal/domain"
)

// WebhookSecretHeader carries the shared secret on job intake requests.
const WebhookSecretHeader = "X-Webhook-Secret"

type DispatchService interface {
	CreateJob(ctx context.Context, job domain.Job) (domain.DispatchState, error)
	HandleReply(ctx context.Context, phone string, text string) (dispatch.Outcome, error)
	Get(ctx context.Context, jobID string) (domain.DispatchState, error)
}

type WebhookHandler struct {
	service DispatchService
	secret  string
}

func NewWebhookHandler(service DispatchService, secret string) (*WebhookHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &WebhookHandler{service: service, secret: secret}, nil
}

func RegisterWebhookRoutes(router fiber.Router, service DispatchService, secret string) error {
	h, err := NewWebhookHandler(service, secret)
	if err != nil {
		return err
	}

	router.Post("/webhook", h.IntakeJob)
	router.Post("/incoming-sms", h.IncomingSMS)
	router.Get("/jobs/:id", h.GetJob)

	return nil
}

// intakeRequest mirrors the form backend's submission payload: a stable
// entry id plus the client's answers keyed by question.
type intakeRequest struct {
	EntryID  string         `json:"entry_id"`
	Response intakeResponse `json:"response"`
}

type intakeResponse struct {
	ClientName  string `json:"client_name"`
	ClientPhone string `json:"client_phone"`
	ServiceType string `json:"service_type"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Duration    string `json:"duration"`
	City        string `json:"city"`
	Notes       string `json:"notes"`
}

type intakeAccepted struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

// smsReplyRequest mirrors the SMS gateway's inbound message callback.
type smsReplyRequest struct {
	Message smsReplyMessage `json:"message"`
}

type smsReplyMessage struct {
	From string `json:"from"`
	Text string `json:"text"`
}

type jobResponse struct {
	JobID          string  `json:"jobId"`
	Location       string  `json:"location"`
	Status         string  `json:"status"`
	CandidateIndex int     `json:"candidateIndex"`
	CandidateCount int     `json:"candidateCount"`
	AcceptedBy     *string `json:"acceptedBy,omitempty"`
	CreatedAt      string  `json:"createdAt"`
	UpdatedAt      string  `json:"updatedAt"`
}

// IntakeJob receives a new booking from the form backend and starts the
// provider dispatch sequence.
func (h *WebhookHandler) IntakeJob(c *fiber.Ctx) error {
	if !h.authorized(c) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid webhook secret")
	}

	var req intakeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	job := requestToDomainJob(req)
	state, err := h.service.CreateJob(c.Context(), job)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(intakeAccepted{
		Status:  "success",
		Message: "Job request received",
		JobID:   state.JobID,
	})
}

// IncomingSMS receives provider replies from the SMS gateway. The gateway
// retries non-2xx callbacks, so everything past the secret check and basic
// payload validation is acknowledged with 200 even when the reply matches
// no job.
func (h *WebhookHandler) IncomingSMS(c *fiber.Ctx) error {
	if !h.authorized(c) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid webhook secret")
	}

	var req smsReplyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	phone := strings.TrimSpace(req.Message.From)
	text := strings.TrimSpace(req.Message.Text)
	if phone == "" || text == "" {
		return fiber.NewError(fiber.StatusBadRequest, "message.from and message.text are required")
	}

	outcome, err := h.service.HandleReply(c.Context(), phone, text)
	if err != nil && !errors.Is(err, domain.ErrUnmatchedReply) {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": outcome.String(),
	})
}

func (h *WebhookHandler) GetJob(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	state, err := h.service.Get(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toJobResponse(state))
}

func (h *WebhookHandler) authorized(c *fiber.Ctx) bool {
	provided := c.Get(WebhookSecretHeader)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) == 1
}

func requestToDomainJob(req intakeRequest) domain.Job {
	r := req.Response
	return domain.Job{
		ID:       strings.TrimSpace(req.EntryID),
		Location: strings.TrimSpace(r.City),
		Details: domain.BookingDetails{
			ClientName:  strings.TrimSpace(r.ClientName),
			ClientPhone: strings.TrimSpace(r.ClientPhone),
			ServiceType: strings.TrimSpace(r.ServiceType),
			Date:        strings.TrimSpace(r.Date),
			Time:        strings.TrimSpace(r.Time),
			Duration:    strings.TrimSpace(r.Duration),
			City:        strings.TrimSpace(r.City),
			Notes:       strings.TrimSpace(r.Notes),
		},
	}
}

func toJobResponse(state domain.DispatchState) jobResponse {
	resp := jobResponse{
		JobID:          state.JobID,
		Location:       state.Job.Location,
		Status:         state.Status.String(),
		CandidateIndex: state.CurrentIndex,
		CandidateCount: len(state.Candidates),
		CreatedAt:      state.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      state.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if state.AcceptedBy != nil {
		name := state.AcceptedBy.Name
		resp.AcceptedBy = &name
	}
	return resp
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNoProviders):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
