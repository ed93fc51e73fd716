// Package api は市民ポータルのリモートREST APIクライアントを提供する。
// 認証・プロフィール系のエンドポイントのみを扱い、応答は共通エンベロープ
// {success, token, user, admin, message} として解釈する。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/civicportal/internal/metrics"
	"github.com/hitoshi/civicportal/internal/model"
)

// maxResponseSize はレスポンスボディの最大読み取りサイズ。
const maxResponseSize = 1 << 20

// Envelope はAPI応答の共通フォーマット。
type Envelope struct {
	Success bool         `json:"success"`
	Token   string       `json:"token,omitempty"`
	User    *model.User  `json:"user,omitempty"`
	Admin   *model.Admin `json:"admin,omitempty"`
	Message string       `json:"message,omitempty"`
}

// Client はリモートAPIのクライアント。
// httpClientのTimeoutで各呼び出しの上限時間を保証する。
// GETは一時的な障害（通信失敗、429、5xx）に限り指数バックオフで再試行する。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	baseURL     string
	metrics     metrics.MetricsCollector
	maxAttempts int
	retryBase   time.Duration
}

// NewClient はClientを生成する。
// httpClientがnilの場合はtimeoutを設定したクライアントを生成する。
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, m metrics.MetricsCollector) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Client{
		httpClient:  httpClient,
		logger:      logger,
		baseURL:     strings.TrimRight(baseURL, "/"),
		metrics:     m,
		maxAttempts: defaultMaxAttempts,
		retryBase:   defaultRetryBase,
	}
}

// Login はメールアドレスとパスワードでログインする。
func (c *Client) Login(ctx context.Context, creds model.LoginCredentials) (*Envelope, error) {
	return c.do(ctx, "login", http.MethodPost, "/auth/login", "", creds)
}

// Register は新規ユーザーを登録する。応答にtokenが含まれない場合がある。
func (c *Client) Register(ctx context.Context, data model.RegisterData) (*Envelope, error) {
	return c.do(ctx, "register", http.MethodPost, "/auth/register", "", data)
}

// GetProfile はtokenに対応するユーザープロフィールを取得する。
func (c *Client) GetProfile(ctx context.Context, token string) (*Envelope, error) {
	return c.do(ctx, "get_profile", http.MethodGet, "/auth/profile", token, nil)
}

// UpdateProfile はユーザープロフィールを更新する。
func (c *Client) UpdateProfile(ctx context.Context, token string, update model.ProfileUpdate) (*Envelope, error) {
	return c.do(ctx, "update_profile", http.MethodPut, "/auth/profile", token, update)
}

// ChangePassword はユーザーのパスワードを変更する。
func (c *Client) ChangePassword(ctx context.Context, token string, change model.PasswordChange) (*Envelope, error) {
	return c.do(ctx, "change_password", http.MethodPut, "/auth/password", token, change)
}

// AdminLogin は管理者としてログインする。
func (c *Client) AdminLogin(ctx context.Context, creds model.AdminCredentials) (*Envelope, error) {
	return c.do(ctx, "admin_login", http.MethodPost, "/admin/auth/login", "", creds)
}

// GetAdminProfile はtokenに対応する管理者プロフィールを取得する。
func (c *Client) GetAdminProfile(ctx context.Context, token string) (*Envelope, error) {
	return c.do(ctx, "get_admin_profile", http.MethodGet, "/admin/auth/profile", token, nil)
}

// UpdateAdminProfile は管理者プロフィールを更新する。
func (c *Client) UpdateAdminProfile(ctx context.Context, token string, update model.ProfileUpdate) (*Envelope, error) {
	return c.do(ctx, "update_admin_profile", http.MethodPut, "/admin/auth/profile", token, update)
}

// ChangeAdminPassword は管理者のパスワードを変更する。
func (c *Client) ChangeAdminPassword(ctx context.Context, token string, change model.PasswordChange) (*Envelope, error) {
	return c.do(ctx, "change_admin_password", http.MethodPut, "/admin/auth/password", token, change)
}

// do はJSONリクエストを送信し、エンベロープを返す。
// success:false または4xxは認証系エラー、通信失敗または5xxはネットワーク系エラーとして返す。
func (c *Client) do(ctx context.Context, operation, method, path, token string, body any) (*Envelope, error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordAPILatency(operation, time.Since(start))
	}()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", operation, err)
		}
	}

	attempts := 1
	if method == http.MethodGet && c.maxAttempts > 1 {
		attempts = c.maxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(c.retryBase, attempt-1)
			c.logger.Debug("retrying api request",
				slog.String("operation", operation),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
			)
			if err := sleepContext(ctx, delay); err != nil {
				break
			}
		}

		env, retry, err := c.doOnce(ctx, operation, method, path, token, payload)
		if !retry {
			return env, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// doOnce は1回分のリクエストを送信する。retryがtrueの場合は一時的な障害を表す。
func (c *Client) doOnce(ctx context.Context, operation, method, path, token string, payload []byte) (env *Envelope, retry bool, err error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create %s request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "CivicPortal/1.0")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("api request failed",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
		return nil, true, model.NewAPIUnavailableError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, true, model.NewAPIUnavailableError(fmt.Errorf("failed to read %s response: %w", operation, err))
	}

	class := classifyStatus(resp.StatusCode)
	if class == statusRetry {
		c.logger.Warn("api returned transient error",
			slog.String("operation", operation),
			slog.Int("http_status", resp.StatusCode),
		)
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, true, model.NewAPIUnavailableError(fmt.Errorf("%s returned status %d", operation, resp.StatusCode))
		}
	}

	var decoded Envelope
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			if class != statusOK {
				return nil, class == statusRetry, rejection(operation, "")
			}
			return nil, false, model.NewAPIUnavailableError(fmt.Errorf("failed to decode %s response: %w", operation, err))
		}
	}

	if class != statusOK || !decoded.Success {
		return nil, class == statusRetry, rejection(operation, decoded.Message)
	}

	return &decoded, false, nil
}

// rejection はAPIが拒否した操作のエラーを返す。ログイン系は認証失敗として扱う。
func rejection(operation, message string) *model.APIError {
	switch operation {
	case "login", "admin_login":
		return model.NewAuthFailedError(message)
	default:
		return model.NewAPIRejectedError(message)
	}
}
