package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/outline-bot/subscription-service/internal/domain/ports"
	pkgerrors "github.com/outline-bot/subscription-service/pkg/errors"
	"github.com/outline-bot/subscription-service/pkg/resilience"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier delivers user-facing messages through the Bot API. Sends are rate
// limited below the global Bot API ceiling of 30 messages per second.
type Notifier struct {
	token      string
	apiBase    string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeouts   *resilience.TimeoutConfig
	logger     ports.Logger
}

// NewNotifier creates a Bot API notifier
func NewNotifier(token string, httpClient *http.Client, timeouts *resilience.TimeoutConfig, logger ports.Logger) *Notifier {
	return &Notifier{
		token:      token,
		apiBase:    defaultAPIBase,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(25), 5),
		timeouts:   timeouts,
		logger:     logger,
	}
}

// WithAPIBase overrides the Bot API host, used in tests
func (n *Notifier) WithAPIBase(base string) *Notifier {
	n.apiBase = base
	return n
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send delivers one message to the user's chat. Delivery failures are
// reported but never retried here; callers decide whether a notification is
// worth a retry.
func (n *Notifier) Send(ctx context.Context, userID int64, text string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return &pkgerrors.SendError{UserID: userID, Err: err}
	}

	ctx, cancel := n.timeouts.ChatSendContext(ctx)
	defer cancel()

	body, _ := json.Marshal(sendMessageRequest{
		ChatID:    userID,
		Text:      text,
		ParseMode: "HTML",
	})
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &pkgerrors.SendError{UserID: userID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return &pkgerrors.SendError{UserID: userID, Err: err}
	}
	defer resp.Body.Close()

	var result apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&result); err != nil {
		return &pkgerrors.SendError{UserID: userID, StatusCode: resp.StatusCode, Err: err}
	}
	if !result.OK {
		n.logger.Warn("chat send rejected",
			ports.Int64("user_id", userID),
			ports.Int("status", resp.StatusCode),
			ports.String("description", result.Description))
		return &pkgerrors.SendError{
			UserID:      userID,
			StatusCode:  resp.StatusCode,
			Description: result.Description,
		}
	}

	n.logger.Debug("chat message sent", ports.Int64("user_id", userID))
	return nil
}

var _ ports.Notifier = (*Notifier)(nil)
