// Package setupapi is the client for the remote lazy trader setup service.
package setupapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	clierr "github.com/ggonzalez94/lazytrader/internal/errors"
	"github.com/ggonzalez94/lazytrader/internal/httpx"
	"github.com/ggonzalez94/lazytrader/internal/registry"
)

const DefaultBasePath = "/api/maxxit"

const (
	fallbackGenerateAgent = "Failed to generate agent"
	fallbackGenerateLink  = "Failed to generate telegram link"
	fallbackCheckTelegram = "Failed to check telegram status"
	fallbackCreateAgent   = "Failed to create agent"
	fallbackCheckSetup    = "Failed to check setup"
)

type Client struct {
	http     *httpx.Client
	origin   string
	basePath string
	testnet  bool
}

// New joins basePath onto origin for every request. An empty basePath uses
// DefaultBasePath.
func New(httpClient *httpx.Client, origin, basePath string, testnet bool) *Client {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	return &Client{http: httpClient, origin: origin, basePath: basePath, testnet: testnet}
}

func (c *Client) GenerateAgent(ctx context.Context, wallet string) (GenerateAgentResponse, error) {
	body := map[string]any{"userWallet": wallet, "isTestnet": c.testnet}
	var resp GenerateAgentResponse
	if err := c.post(ctx, "generate-agent", body, &resp); err != nil {
		return GenerateAgentResponse{}, apiError(err, fallbackGenerateAgent)
	}
	return resp, nil
}

func (c *Client) GenerateTelegramLink(ctx context.Context, wallet string) (GenerateTelegramLinkResponse, error) {
	body := map[string]any{"userWallet": wallet, "isTestnet": c.testnet}
	var resp GenerateTelegramLinkResponse
	if err := c.post(ctx, "generate-telegram-link", body, &resp); err != nil {
		return GenerateTelegramLinkResponse{}, apiError(err, fallbackGenerateLink)
	}
	return resp, nil
}

func (c *Client) CheckTelegramStatus(ctx context.Context, wallet, linkCode string) (CheckTelegramStatusResponse, error) {
	q := url.Values{}
	q.Set("userWallet", wallet)
	q.Set("linkCode", linkCode)
	var resp CheckTelegramStatusResponse
	if err := c.get(ctx, "check-telegram-status", q, &resp); err != nil {
		return CheckTelegramStatusResponse{}, apiError(err, fallbackCheckTelegram)
	}
	return resp, nil
}

func (c *Client) CreateAgent(ctx context.Context, wallet, telegramUserID string, prefs TradingPreferences) (CreateAgentResponse, error) {
	body := map[string]any{
		"userWallet":          wallet,
		"telegramAlphaUserId": telegramUserID,
		"tradingPreferences":  prefs,
		"isTestnet":           c.testnet,
	}
	var resp CreateAgentResponse
	if err := c.post(ctx, "create-agent", body, &resp); err != nil {
		return CreateAgentResponse{}, apiError(err, fallbackCreateAgent)
	}
	return resp, nil
}

func (c *Client) CheckSetup(ctx context.Context, wallet string) (CheckSetupResponse, error) {
	q := url.Values{}
	q.Set("userWallet", wallet)
	var resp CheckSetupResponse
	if err := c.get(ctx, "check-setup", q, &resp); err != nil {
		return CheckSetupResponse{}, apiError(err, fallbackCheckSetup)
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, op string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "encode request body", err)
	}
	_, err = httpx.DoBodyJSON(ctx, c.http, http.MethodPost, registry.JoinAPIURL(c.origin, c.basePath, op), buf, nil, out)
	return err
}

func (c *Client) get(ctx context.Context, op string, query url.Values, out any) error {
	endpoint := registry.JoinAPIURL(c.origin, c.basePath, op) + "?" + query.Encode()
	_, err := httpx.DoBodyJSON(ctx, c.http, http.MethodGet, endpoint, nil, nil, out)
	return err
}

// apiError surfaces the server's message when it sent one and the fixed
// fallback otherwise. Transport codes such as rate limiting are kept.
func apiError(err error, fallback string) error {
	if msg := httpx.ServerMessage(err); msg != "" {
		return clierr.Wrap(clierr.CodeRemote, msg, err)
	}
	code := clierr.CodeRemote
	if typed, ok := clierr.As(err); ok && typed.Code != clierr.CodeInternal {
		code = typed.Code
	}
	return clierr.Wrap(code, fallback, err)
}
