package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"telecare/config"
	"telecare/internal/domain"
	"telecare/internal/session"
)

// Client implements the coordinator's collaborator contracts against the
// telecare REST API. It also builds channel links pointed at the matching
// websocket endpoints, so an embedding application only configures a base URL.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  logger,
	}
}

type apiEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s (status %d)", method, path, env.Message, resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) JoinConsultation(ctx context.Context, consultationID, userID int64, role domain.ParticipantRole) (*domain.JoinSnapshot, error) {
	var snapshot domain.JoinSnapshot
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/consultations/%d/join", consultationID),
		map[string]interface{}{"participant_id": userID, "role": role},
		&snapshot)
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (c *Client) AdmitPatient(ctx context.Context, consultationID int64, patientID *int64) error {
	body := map[string]interface{}{}
	if patientID != nil {
		body["patient_id"] = *patientID
	}
	return c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/consultations/%d/admit", consultationID),
		body, nil)
}

func (c *Client) AddParticipant(ctx context.Context, consultationID int64, dto domain.AddParticipantDTO) (*domain.AddParticipantResult, error) {
	var result domain.AddParticipantResult
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/consultations/%d/participants", consultationID),
		dto, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GenerateJoinLink(ctx context.Context, consultationID int64, dto domain.JoinLinkDTO) (*domain.JoinLink, error) {
	var link domain.JoinLink
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/consultations/%d/join-links", consultationID),
		dto, &link)
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (c *Client) RemoveParticipant(ctx context.Context, consultationID, participantID int64) error {
	return c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/api/v1/consultations/%d/participants/%d", consultationID, participantID),
		nil, nil)
}

// Upload posts the file as multipart form data. Progress has two useful
// milestones with a single request: start and completion.
func (c *Client) Upload(ctx context.Context, filename string, data []byte, progress func(pct int)) (*domain.Attachment, error) {
	if progress != nil {
		progress(0)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/attachments/", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("upload %s: decode response: %w", filename, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("upload %s: %s (status %d)", filename, env.Message, resp.StatusCode)
	}

	var attachment domain.Attachment
	if err := json.Unmarshal(env.Data, &attachment); err != nil {
		return nil, fmt.Errorf("upload %s: decode data: %w", filename, err)
	}

	if progress != nil {
		progress(100)
	}
	return &attachment, nil
}

// NewLinkFactory builds channel links dialing this client's server over
// websocket, one URL per channel kind.
func (c *Client) NewLinkFactory(consultationID, participantID int64, cfg config.SessionConfig, logger *zap.Logger) session.LinkFactory {
	wsBase := strings.Replace(c.baseURL, "http", "ws", 1)
	return func(kind domain.ChannelKind) *session.ChannelLink {
		return session.NewChannelLink(session.LinkOptions{
			Kind: kind,
			URL: fmt.Sprintf("%s/ws/%s?consultation_id=%d&participant_id=%d",
				wsBase, kind, consultationID, participantID),
			Dialer:         &session.WebsocketDialer{HandshakeTimeout: cfg.ConnectTimeout},
			Logger:         logger,
			ConnectTimeout: cfg.ConnectTimeout,
			BackoffBase:    cfg.BackoffBase,
			BackoffMax:     cfg.BackoffMax,
			MaxAttempts:    cfg.MaxReconnectAttempts,
		})
	}
}
