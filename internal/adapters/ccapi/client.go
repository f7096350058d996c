package ccapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"clan-sync-bot/internal/domain"
	"clan-sync-bot/internal/infra/metrics"
)

const (
	authTokenHeader = "X-Auth-Token"
	usernameHeader  = "X-Username"
	apiKeyHeader    = "X-API-Key"
)

// CredentialsFunc возвращает актуальные имя игрока и токен.
// Пустые значения означают «заголовок не прикладывать».
type CredentialsFunc func() (playerName, token string)

// Client — HTTP клиент API сообщества.
type Client struct {
	baseURL     *url.URL
	apiKey      string
	httpClient  *http.Client
	credentials CredentialsFunc
}

var (
	_ domain.EventsAPI = (*Client)(nil)
	_ domain.AccessAPI = (*Client)(nil)
	_ domain.RosterAPI = (*Client)(nil)
)

// Option настраивает клиент.
type Option func(*Client)

// WithHTTPClient подменяет http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout задаёт таймаут запросов.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

// WithCredentials задаёт источник авторизационных заголовков.
func WithCredentials(fn CredentialsFunc) Option {
	return func(c *Client) {
		c.credentials = fn
	}
}

// New создаёт клиент API.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	client := &Client{
		baseURL:    parsed,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// FetchEvents выгружает актуальный список событий.
func (c *Client) FetchEvents(ctx context.Context) ([]domain.Event, error) {
	var payload struct {
		Events []domain.Event `json:"events"`
	}
	start := time.Now()
	err := c.get(ctx, "/api/v1/events", nil, &payload)
	metrics.ObserveNetworkRequest("ccapi", "fetch_events", start, err)
	if err != nil {
		return nil, err
	}
	return payload.Events, nil
}

// FetchLatestNewsletter возвращает последний выпуск рассылки или nil, если выпусков нет.
func (c *Client) FetchLatestNewsletter(ctx context.Context) (*domain.Newsletter, error) {
	var payload struct {
		Newsletter *domain.Newsletter `json:"newsletter"`
	}
	start := time.Now()
	err := c.get(ctx, "/api/v1/newsletters/latest", nil, &payload)
	metrics.ObserveNetworkRequest("ccapi", "fetch_latest_newsletter", start, err)
	if err != nil {
		return nil, err
	}
	return payload.Newsletter, nil
}

// FetchNewsletters возвращает список последних выпусков.
func (c *Client) FetchNewsletters(ctx context.Context, limit int) ([]domain.Newsletter, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	var payload struct {
		Newsletters []domain.Newsletter `json:"newsletters"`
	}
	start := time.Now()
	err := c.get(ctx, "/api/v1/newsletters", query, &payload)
	metrics.ObserveNetworkRequest("ccapi", "fetch_newsletters", start, err)
	if err != nil {
		return nil, err
	}
	return payload.Newsletters, nil
}

// FetchSettings выгружает настройки, которые сервер раздаёт клиентам.
func (c *Client) FetchSettings(ctx context.Context) (domain.RemoteSettings, error) {
	var payload struct {
		Settings *domain.RemoteSettings `json:"settings"`
	}
	start := time.Now()
	err := c.get(ctx, "/api/v1/settings", nil, &payload)
	metrics.ObserveNetworkRequest("ccapi", "fetch_settings", start, err)
	if err != nil {
		return domain.RemoteSettings{}, err
	}
	if payload.Settings == nil {
		return domain.DefaultRemoteSettings(), nil
	}
	return *payload.Settings, nil
}

// SubmitAccessRequest отправляет запрос доступа на сервер.
func (c *Client) SubmitAccessRequest(ctx context.Context, playerName, token string) error {
	body := map[string]string{"playerName": playerName, "token": token}
	start := time.Now()
	err := c.post(ctx, "/api/v1/auth/request", body, nil)
	metrics.ObserveNetworkRequest("ccapi", "submit_access_request", start, err)
	return err
}

// CheckAccess проверяет состояние авторизации токена.
func (c *Client) CheckAccess(ctx context.Context, playerName, token string) (domain.AccessDecision, error) {
	query := url.Values{}
	query.Set("player", playerName)
	query.Set("token", token)
	var payload struct {
		Found  bool    `json:"found"`
		Status *string `json:"status"`
		Reason *string `json:"reason"`
	}
	start := time.Now()
	err := c.get(ctx, "/api/v1/auth/check", query, &payload)
	metrics.ObserveNetworkRequest("ccapi", "check_access", start, err)
	if err != nil {
		return domain.AccessDecision{}, err
	}
	decision := domain.AccessDecision{Found: payload.Found}
	if payload.Found && payload.Status != nil {
		decision.State = domain.ParseAuthorizationState(*payload.Status)
	}
	if payload.Reason != nil {
		decision.Reason = *payload.Reason
	}
	return decision, nil
}

// SignUp записывает игрока на событие.
func (c *Client) SignUp(ctx context.Context, eventID, playerName string) error {
	body := map[string]string{"eventId": eventID, "playerName": playerName}
	start := time.Now()
	err := c.post(ctx, "/api/v1/events/"+url.PathEscape(eventID)+"/signup", body, nil)
	metrics.ObserveNetworkRequest("ccapi", "signup", start, err)
	return err
}

// CancelSignUp снимает игрока с события.
func (c *Client) CancelSignUp(ctx context.Context, eventID, playerName string) error {
	body := map[string]string{"eventId": eventID, "playerName": playerName}
	start := time.Now()
	err := c.post(ctx, "/api/v1/events/"+url.PathEscape(eventID)+"/unsignup", body, nil)
	metrics.ObserveNetworkRequest("ccapi", "cancel_signup", start, err)
	return err
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, endpoint string, body any, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, body)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body any) (*http.Request, error) {
	resolved := *c.baseURL
	basePath := strings.TrimSuffix(c.baseURL.Path, "/")
	resolved.Path = path.Clean(basePath + endpoint)
	if len(query) > 0 {
		resolved.RawQuery = query.Encode()
	}
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.credentials != nil {
		playerName, token := c.credentials()
		if token != "" {
			req.Header.Set(authTokenHeader, token)
		}
		if playerName != "" {
			req.Header.Set(usernameHeader, playerName)
		}
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cc api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return parseUnauthorized(resp.Body)
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		message := strings.TrimSpace(string(data))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("cc api error: status=%d message=%s", resp.StatusCode, message)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// parseUnauthorized извлекает решение сервера из тела 401.
// Отсутствие authStatus трактуется как «токен не найден».
func parseUnauthorized(body io.Reader) error {
	var payload struct {
		AuthStatus *string `json:"authStatus"`
		Reason     *string `json:"reason"`
	}
	decision := domain.AccessDecision{}
	if err := json.NewDecoder(body).Decode(&payload); err == nil && payload.AuthStatus != nil {
		decision.Found = true
		decision.State = domain.ParseAuthorizationState(*payload.AuthStatus)
		if payload.Reason != nil {
			decision.Reason = *payload.Reason
		}
	}
	return &domain.AccessDeniedError{Decision: decision}
}
