package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/boardwatch-hq/ptt-board-courier/internal/domain"
	"github.com/boardwatch-hq/ptt-board-courier/internal/logger"
	"github.com/boardwatch-hq/ptt-board-courier/internal/observe"
	"github.com/boardwatch-hq/ptt-board-courier/pkg/httpclient"
	"github.com/boardwatch-hq/ptt-board-courier/pkg/resilience"
)

const (
	// DefaultAPIHost is the public Bot API endpoint.
	DefaultAPIHost = "https://api.telegram.org"

	// interMessageInterval paces successive sends to one chat so the
	// platform's per-chat rate limit is respected.
	interMessageInterval = time.Second

	probeText = "🔔 courier connectivity check"
)

// tokenPattern is the shape of a Bot API token. Anything else is a
// misconfiguration, rejected before the first network call.
var tokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Client delivers matched entries to Telegram chats in size-bounded,
// strictly ordered message batches.
type Client struct {
	httpc    httpclient.Client
	retry    *resilience.Executor
	strategy resilience.Strategy
	apiHost  string
	token    string
	log      logger.Logger
	metrics  observe.Metrics

	sendEvery time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option tweaks a Client.
type Option func(*Client)

// WithAPIHost points the client at a different API host (tests).
func WithAPIHost(host string) Option {
	return func(c *Client) { c.apiHost = strings.TrimRight(host, "/") }
}

// WithStrategy overrides the retry strategy.
func WithStrategy(s resilience.Strategy) Option {
	return func(c *Client) { c.strategy = s }
}

// WithSendInterval overrides the per-chat pacing interval (tests).
func WithSendInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.sendEvery = d
		}
	}
}

// NewClient builds a delivery client. The token is validated up front;
// a malformed token is a non-retryable configuration error.
func NewClient(token string, httpc httpclient.Client, retry *resilience.Executor, log logger.Logger, metrics observe.Metrics, opts ...Option) (*Client, error) {
	if !tokenPattern.MatchString(token) {
		return nil, resilience.Errorf(resilience.KindConfig, "telegram.new", "bot token does not match the expected format")
	}
	if httpc == nil {
		httpc = httpclient.NewRestyClient(30 * time.Second)
	}
	if retry == nil {
		retry = resilience.NewExecutor(log, metrics)
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if metrics == nil {
		metrics = observe.NopMetrics{}
	}
	c := &Client{
		httpc:     httpc,
		retry:     retry,
		strategy:  resilience.DefaultStrategy(),
		apiHost:   DefaultAPIHost,
		token:     token,
		log:       log,
		metrics:   metrics,
		sendEvery: interMessageInterval,
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// sendMessageRequest is the JSON body of a sendMessage call.
type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *apiParameters  `json:"parameters"`
	Result      json.RawMessage `json:"result"`
}

type apiParameters struct {
	RetryAfter int `json:"retry_after"`
}

// Deliver formats entries into batches and sends them sequentially to chatID.
// An empty entries list is a no-op; batches for one chat are never sent
// concurrently so the recipient reads them in discovery order.
func (c *Client) Deliver(ctx context.Context, chatID string, entries []domain.Entry, board string) error {
	if strings.TrimSpace(chatID) == "" {
		return resilience.Errorf(resilience.KindInvalidArgument, "telegram.deliver", "chat id must not be empty")
	}
	if len(entries) == 0 {
		return nil
	}

	messages := BuildMessages(entries, board)
	limiter := c.limiterFor(chatID)

	for i, msg := range messages {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := c.sendMessage(ctx, chatID, msg); err != nil {
			return err
		}
		c.log.DebugObj("message delivered", "delivery", map[string]any{
			"chat_id": chatID,
			"message": i + 1,
			"of":      len(messages),
		})
	}

	c.metrics.Increment("delivery_entries_total", float64(len(entries)), map[string]string{"board": board})
	c.log.InfoObj("entries delivered", "delivery", map[string]any{
		"chat_id":  chatID,
		"board":    board,
		"entries":  len(entries),
		"messages": len(messages),
	})
	return nil
}

// SendText sends one pre-rendered message (e.g. the connectivity probe).
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	if strings.TrimSpace(chatID) == "" {
		return resilience.Errorf(resilience.KindInvalidArgument, "telegram.deliver", "chat id must not be empty")
	}
	if err := c.limiterFor(chatID).Wait(ctx); err != nil {
		return err
	}
	return c.sendMessage(ctx, chatID, text)
}

// TestConnection checks bot identity and sends a fixed probe message.
// It reports health as a boolean and never fails the caller.
func (c *Client) TestConnection(ctx context.Context, chatID string) bool {
	if err := c.getMe(ctx); err != nil {
		c.log.WarnObj("bot identity check failed", "connectivity", map[string]any{"error": err.Error()})
		return false
	}
	if strings.TrimSpace(chatID) == "" {
		return true
	}
	if err := c.SendText(ctx, chatID, probeText); err != nil {
		c.log.WarnObj("probe message failed", "connectivity", map[string]any{
			"chat_id": chatID,
			"error":   err.Error(),
		})
		return false
	}
	return true
}

// sendMessage performs one retry-wrapped sendMessage call. Exhaustion is
// surfaced as a delivery failure wrapping the last underlying error.
func (c *Client) sendMessage(ctx context.Context, chatID, text string) error {
	err := c.retry.Run(ctx, "telegram.send", c.strategy, resilience.Retryable, func(ctx context.Context) error {
		resp, err := c.httpc.PostJSON(ctx, c.methodURL("sendMessage"), sendMessageRequest{
			ChatID:                chatID,
			Text:                  text,
			ParseMode:             "Markdown",
			DisableWebPagePreview: true,
		}, nil)
		if err != nil {
			return resilience.E(resilience.KindTransient, "telegram.send", c.redact(err))
		}
		return classifyResponse(resp)
	})
	if err != nil && resilience.KindOf(err) == resilience.KindExhaustedRetries {
		return resilience.E(resilience.KindDeliveryFailed, "telegram.send", err)
	}
	return err
}

func (c *Client) getMe(ctx context.Context) error {
	return c.retry.Run(ctx, "telegram.getme", c.strategy, resilience.Retryable, func(ctx context.Context) error {
		resp, err := c.httpc.Get(ctx, c.methodURL("getMe"), nil)
		if err != nil {
			return resilience.E(resilience.KindTransient, "telegram.getme", c.redact(err))
		}
		return classifyResponse(resp)
	})
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.apiHost, c.token, method)
}

// redact strips the bot token from a transport error. Those errors embed the
// full request URL and end up in retry warn logs.
func (c *Client) redact(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if !strings.Contains(msg, c.token) {
		return err
	}
	return errors.New(strings.ReplaceAll(msg, c.token, "<token>"))
}

func (c *Client) limiterFor(chatID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[chatID]
	if !ok {
		l = rate.NewLimiter(rate.Every(c.sendEvery), 1)
		c.limiters[chatID] = l
	}
	return l
}

// classifyResponse maps a Bot API response onto the failure taxonomy.
func classifyResponse(resp httpclient.Response) error {
	var body apiResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil && resp.StatusCode() == http.StatusOK {
		return resilience.Errorf(resilience.KindTransient, "telegram.send", "malformed api response: %v", err)
	}
	if body.OK {
		return nil
	}

	switch resp.StatusCode() {
	case http.StatusBadRequest:
		return resilience.Errorf(resilience.KindInvalidChatOrFormat, "telegram.send",
			"api rejected request: %s", body.Description)
	case http.StatusForbidden:
		return resilience.Errorf(resilience.KindBotBlocked, "telegram.send",
			"bot blocked by recipient: %s", body.Description)
	case http.StatusTooManyRequests:
		wait := time.Second
		if body.Parameters != nil && body.Parameters.RetryAfter > 0 {
			wait = time.Duration(body.Parameters.RetryAfter) * time.Second
		}
		return &resilience.Error{
			Kind:       resilience.KindRateLimited,
			Op:         "telegram.send",
			Err:        fmt.Errorf("rate limited: %s", body.Description),
			RetryAfter: wait,
		}
	default:
		return resilience.Errorf(resilience.KindTransient, "telegram.send",
			"api returned status %d: %s", resp.StatusCode(), body.Description)
	}
}
