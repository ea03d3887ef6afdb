package wsgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/satrio/kurir/internal/observability"
	"github.com/satrio/kurir/pkg/channel"
	"github.com/satrio/kurir/pkg/message"
)

// sendRequest is the REST message body. MsgID marks the reply as
// passive, which the platform rate-limits more generously.
type sendRequest struct {
	Content string `json:"content"`
	MsgID   string `json:"msg_id,omitempty"`
}

type sendResponse struct {
	ID      string `json:"id"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SendMessage posts a text message over the REST API. Direct and group
// conversations use distinct endpoints. Over-long text is truncated with
// a visible marker rather than rejected.
func (a *Adapter) SendMessage(ctx context.Context, out message.Outbound) error {
	if out.TargetID == "" {
		return fmt.Errorf("%s: outbound message has no target", channelName)
	}

	text := message.Truncate(out.Content.Text, maxTextRunes, truncationMarker)

	var url string
	switch out.ConversationType {
	case message.ConversationDM:
		url = fmt.Sprintf("%s/dms/%s/messages", a.cfg.APIBase, out.TargetID)
	default:
		url = fmt.Sprintf("%s/channels/%s/messages", a.cfg.APIBase, out.TargetID)
	}

	token, err := a.creds.get(ctx)
	if err != nil {
		observability.RecordSendError(channelName)
		return err
	}

	body, err := json.Marshal(sendRequest{Content: text, MsgID: out.ReplyToMessageID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("QQBot %s", token))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		observability.RecordSendError(channelName)
		return &channel.TransportError{Channel: channelName, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.RecordSendError(channelName)
		return &channel.TransportError{Channel: channelName, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.RecordSendError(channelName)
		var apiErr sendResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: send rejected with status %d code %d: %s",
				channelName, resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("%s: send rejected with status %d", channelName, resp.StatusCode)
	}

	observability.RecordOutbound(channelName)
	a.logger.Debug().Str("target", out.TargetID).Msg("Message sent")
	return nil
}
