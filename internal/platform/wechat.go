package platform

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/o2games/tictactoe-server/internal/config"
	"github.com/o2games/tictactoe-server/internal/entity"
)

const (
	requestTimeout = 10 * time.Second

	// refresh the access token this long before it expires.
	tokenRefreshMargin = 200 * time.Second
	tokenRetryInterval = time.Minute
)

var ErrPlatformRejected = errors.New("platform rejected request")

// Session is the platform's answer to a one-time login code.
type Session struct {
	OpenID     string `json:"openid"`
	SessionKey string `json:"session_key"`
}

// Client talks to the minigame platform: it exchanges login codes for player
// identities, keeps the app access token fresh and uploads score counters to
// the platform leaderboard storage.
type Client struct {
	logger     *slog.Logger
	httpClient *http.Client

	appID   string
	secret  string
	baseURL string

	mu          sync.RWMutex
	accessToken string
}

func NewClient(logger *slog.Logger, conf config.Platform) *Client {
	return &Client{
		logger:     logger.With("component", "platform"),
		httpClient: &http.Client{Timeout: requestTimeout},
		appID:      conf.AppID,
		secret:     conf.Secret,
		baseURL:    conf.APIBaseURL,
	}
}

// CodeToSession exchanges a one-time login code for the player's stable
// platform id and session key.
func (that *Client) CodeToSession(ctx context.Context, code string) (*Session, error) {
	query := url.Values{}
	query.Set("appid", that.appID)
	query.Set("secret", that.secret)
	query.Set("js_code", code)
	query.Set("grant_type", "authorization_code")

	var response struct {
		Session
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}

	if err := that.getJSON(ctx, "/sns/jscode2session", query, &response); err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	if response.ErrCode != 0 {
		return nil, fmt.Errorf("%w: %d %s", ErrPlatformRejected, response.ErrCode, response.ErrMsg)
	}

	return &response.Session, nil
}

// RunTokenRefresh keeps the app access token fresh until the context is
// canceled. On failure it retries after a minute.
func (that *Client) RunTokenRefresh(ctx context.Context) {
	for {
		wait := tokenRetryInterval

		expiresIn, err := that.refreshAccessToken(ctx)
		if err != nil {
			that.logger.Error("failed to refresh access token", "error", err)
		} else {
			wait = expiresIn - tokenRefreshMargin
			if wait <= 0 {
				wait = tokenRetryInterval
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// ReportScore uploads the player's aggregate counters to the platform
// leaderboard storage, signed with the player's session key.
func (that *Client) ReportScore(ctx context.Context, player *entity.Player) error {
	type kvPair struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}

	scoreValue, err := json.Marshal(map[string]any{
		"wxgame": map[string]any{
			"score":       player.ScoreTotal,
			"update_time": time.Now().Unix(),
		},
		"win":   player.ScoreWin,
		"total": player.ScoreTotal,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal score: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"kv_list": []kvPair{{Key: "score", Value: string(scoreValue)}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal storage payload: %w", err)
	}

	query := url.Values{}
	query.Set("access_token", that.currentAccessToken())
	query.Set("signature", signPayload(player.SessionKey, body))
	query.Set("openid", player.OpenID)
	query.Set("sig_method", "hmac_sha256")

	endpoint := that.baseURL + "/wxa/set_user_storage?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := that.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload score: %w", err)
	}
	defer resp.Body.Close()

	var response struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}

	if err = json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if response.ErrCode != 0 {
		return fmt.Errorf("%w: %d %s", ErrPlatformRejected, response.ErrCode, response.ErrMsg)
	}

	return nil
}

func (that *Client) refreshAccessToken(ctx context.Context) (time.Duration, error) {
	query := url.Values{}
	query.Set("grant_type", "client_credential")
	query.Set("appid", that.appID)
	query.Set("secret", that.secret)

	var response struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		ErrCode     int    `json:"errcode"`
		ErrMsg      string `json:"errmsg"`
	}

	if err := that.getJSON(ctx, "/cgi-bin/token", query, &response); err != nil {
		return 0, fmt.Errorf("failed to request token: %w", err)
	}

	if response.ErrCode != 0 {
		return 0, fmt.Errorf("%w: %d %s", ErrPlatformRejected, response.ErrCode, response.ErrMsg)
	}

	that.mu.Lock()
	that.accessToken = response.AccessToken
	that.mu.Unlock()

	that.logger.Info("access token refreshed", "expiresIn", response.ExpiresIn)

	return time.Duration(response.ExpiresIn) * time.Second, nil
}

func (that *Client) currentAccessToken() string {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return that.accessToken
}

func (that *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, that.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := that.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func signPayload(sessionKey string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(sessionKey))
	mac.Write(payload)

	return hex.EncodeToString(mac.Sum(nil))
}
