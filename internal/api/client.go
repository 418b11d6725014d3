package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	ServicesCacheKey     = "slotbook:services"
	defaultClientTimeout = 10 * time.Second
)

// Client talks to the reservation HTTP API. It implements
// domain.BookingBackend so the wizard can run in a separate process.
type Client struct {
	baseURL  string
	header   string
	apiKey   string
	http     *http.Client
	cache    *redis.Client
	cacheTTL time.Duration
	logger   *zerolog.Logger
}

var _ domain.BookingBackend = (*Client)(nil)

type ClientOption func(*Client)

func WithAPIKey(header, key string) ClientOption {
	return func(c *Client) {
		if header != "" {
			c.header = header
		}
		c.apiKey = key
	}
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.http = client
	}
}

// WithServiceCache caches the service catalog in Redis. Availability is never
// cached.
func WithServiceCache(client *redis.Client, ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.cache = client
		if ttl <= 0 {
			ttl = models.ServicesCacheTTL
		}
		c.cacheTTL = ttl
	}
}

func NewClient(baseURL string, logger *zerolog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  apiKeyHeaderDefault,
		http:    &http.Client{Timeout: defaultClientTimeout},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ListServices(ctx context.Context) ([]*models.Service, error) {
	if cached, ok := c.cachedServices(ctx); ok {
		return cached, nil
	}

	var resp struct {
		Services []*models.Service `json:"services"`
	}
	if err := c.do(ctx, "list services", http.MethodGet, "/api/v1/services", nil, &resp); err != nil {
		return nil, err
	}
	c.storeServices(ctx, resp.Services)
	return resp.Services, nil
}

func (c *Client) GetService(ctx context.Context, id string) (*models.Service, error) {
	if cached, ok := c.cachedServices(ctx); ok {
		for _, svc := range cached {
			if svc.ID == id {
				return svc, nil
			}
		}
	}

	var svc models.Service
	if err := c.do(ctx, "get service", http.MethodGet, "/api/v1/services/"+url.PathEscape(id), nil, &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

func (c *Client) ListAvailability(ctx context.Context, serviceID string, date time.Time) ([]*models.AvailabilitySlot, error) {
	path := fmt.Sprintf("/api/v1/services/%s/availability?date=%s",
		url.PathEscape(serviceID), url.QueryEscape(date.Format(models.DateLayout)))

	var resp struct {
		Slots []*models.AvailabilitySlot `json:"slots"`
	}
	if err := c.do(ctx, "list availability", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Slots, nil
}

func (c *Client) AcquireHold(ctx context.Context, slotID, sessionID string) (*models.Hold, error) {
	var hold models.Hold
	body := acquireHoldRequest{SlotID: slotID, SessionID: sessionID}
	if err := c.do(ctx, "acquire hold", http.MethodPost, "/api/v1/holds", body, &hold); err != nil {
		return nil, err
	}
	return &hold, nil
}

func (c *Client) ReleaseHold(ctx context.Context, holdID string) error {
	return c.do(ctx, "release hold", http.MethodDelete, "/api/v1/holds/"+url.PathEscape(holdID), nil, nil)
}

func (c *Client) FinalizeBooking(ctx context.Context, req models.FinalizeRequest) (*models.Booking, error) {
	var booking models.Booking
	if err := c.do(ctx, "finalize booking", http.MethodPost, "/api/v1/bookings", req, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

func (c *Client) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var booking models.Booking
	if err := c.do(ctx, "get booking", http.MethodGet, "/api/v1/bookings/"+url.PathEscape(id), nil, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

func (c *Client) CancelBooking(ctx context.Context, id string, version int64) (*models.Booking, error) {
	var booking models.Booking
	path := "/api/v1/bookings/" + url.PathEscape(id) + "/cancel"
	if err := c.do(ctx, "cancel booking", http.MethodPost, path, cancelBookingRequest{Version: version}, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

// ExportBookings downloads the XLSX report for the inclusive day range.
func (c *Client) ExportBookings(ctx context.Context, from, to time.Time) ([]byte, error) {
	path := fmt.Sprintf("/api/v1/bookings/export?from=%s&to=%s",
		url.QueryEscape(from.Format(models.DateLayout)), url.QueryEscape(to.Format(models.DateLayout)))

	var buf bytes.Buffer
	if err := c.do(ctx, "export bookings", http.MethodGet, path, nil, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Drafts returns a draft store backed by the server's draft endpoints.
func (c *Client) Drafts() *DraftClient {
	return &DraftClient{client: c}
}

// DraftClient implements domain.DraftStore over HTTP.
type DraftClient struct {
	client *Client
}

var _ domain.DraftStore = (*DraftClient)(nil)

func draftPath(sessionID string) string {
	return "/api/v1/drafts/" + url.PathEscape(sessionID)
}

func (d *DraftClient) Save(ctx context.Context, draft *models.BookingDraft) error {
	return d.client.do(ctx, "save draft", http.MethodPut, draftPath(draft.SessionID), draft, nil)
}

func (d *DraftClient) Load(ctx context.Context, sessionID string) (*models.BookingDraft, error) {
	var draft models.BookingDraft
	err := d.client.do(ctx, "load draft", http.MethodGet, draftPath(sessionID), nil, &draft)
	var remote *RemoteError
	if errors.As(err, &remote) && remote.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

func (d *DraftClient) Clear(ctx context.Context, sessionID string) error {
	return d.client.do(ctx, "clear draft", http.MethodDelete, draftPath(sessionID), nil, nil)
}

// do performs one request. Transport failures and 5xx answers become
// *domain.NetworkError; other error answers are decoded from the envelope.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(c.header, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &domain.NetworkError{Op: op, Err: fmt.Errorf("server returned %s", resp.Status)}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var envelope errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error == "" {
			envelope.Error = resp.Status
		}
		return decodeError(resp.StatusCode, envelope)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if w, ok := out.(io.Writer); ok {
		if _, err := io.Copy(w, resp.Body); err != nil {
			return &domain.NetworkError{Op: op, Err: err}
		}
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) cachedServices(ctx context.Context) ([]*models.Service, bool) {
	if c.cache == nil {
		return nil, false
	}
	data, err := c.cache.Get(ctx, ServicesCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Msg("service cache read failed")
		}
		return nil, false
	}
	var services []*models.Service
	if err := json.Unmarshal(data, &services); err != nil {
		c.logger.Warn().Err(err).Msg("service cache entry is malformed")
		return nil, false
	}
	return services, true
}

func (c *Client) storeServices(ctx context.Context, services []*models.Service) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(services)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, ServicesCacheKey, data, c.cacheTTL).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("service cache write failed")
	}
}
