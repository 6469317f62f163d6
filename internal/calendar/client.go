// Package calendar habla con el servicio externo de calendario y decide,
// ante cada mutación, si hay que crear o actualizar el evento vinculado.
//
// El artefacto externo se direcciona siempre por correlation id (= id del
// registro dueño); nunca se persiste localmente el id nativo del evento.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrArtifactNotFound: el update no encontró evento para ese correlation id.
var ErrArtifactNotFound = errors.New("calendar: artifact not found")

// Event es el payload completo de creación.
type Event struct {
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	AllDay        bool      `json:"allDay"`
	CorrelationID string    `json:"correlationId"`
	Responsables  string    `json:"assigneeSummary,omitempty"`
	Designados    string    `json:"designeeSummary,omitempty"`
	Cliente       string    `json:"clientName,omitempty"`
}

// Patch es una actualización parcial; nil = no tocar.
type Patch struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Start        *time.Time `json:"start,omitempty"`
	End          *time.Time `json:"end,omitempty"`
	AllDay       *bool      `json:"allDay,omitempty"`
	Completed    *bool      `json:"completed,omitempty"`
	Responsables *string    `json:"assigneeSummary,omitempty"`
	Designados   *string    `json:"designeeSummary,omitempty"`
	Cliente      *string    `json:"clientName,omitempty"`
}

// Client es el contrato contra el servicio de calendario.
type Client interface {
	// Create da de alta el evento y devuelve el id nativo (que no se
	// guarda: queda solo como valor de retorno informativo).
	Create(ctx context.Context, ev Event) (string, error)
	// Update parchea el evento direccionado por correlation id.
	// Devuelve ErrArtifactNotFound si el evento no existe.
	Update(ctx context.Context, correlationID string, p Patch) error
}

// HTTPClientOptions configura el cliente HTTP.
type HTTPClientOptions struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	UserAgent  string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// HTTPClient implementa Client contra la API REST del servicio.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewHTTPClient crea el cliente con defaults razonables.
func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

func (c *HTTPClient) Create(ctx context.Context, ev Event) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/events", ev.CorrelationID, ev, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *HTTPClient) Update(ctx context.Context, correlationID string, p Patch) error {
	path := "/v1/events/by-correlation/" + correlationID
	return c.do(ctx, http.MethodPatch, path, correlationID, p, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path, correlationID string, payload, out any) error {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := c.baseURL + path

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Correlation-Id", correlationID)
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				return readErr
			}
			if out != nil && len(body) > 0 {
				return json.Unmarshal(body, out)
			}
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return ErrArtifactNotFound
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
					return waitErr
				}
				continue
			}
			return &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		default:
			return &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
	}
}

// retryDelay: backoff exponencial con techo.
func (c *HTTPClient) retryDelay(attempt int) time.Duration {
	delay := c.baseDelay << (attempt - 1)
	if delay > c.maxDelay || delay <= 0 {
		delay = c.maxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// HTTPError es una respuesta no recuperable del servicio.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("calendar: http %d: %s", e.StatusCode, e.Message)
}
