package cryptohook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/satrio/kurir/internal/observability"
	"github.com/satrio/kurir/pkg/message"
)

// token error codes that mean the cached credential is no longer valid.
const (
	errCodeInvalidToken = 40014
	errCodeTokenExpired = 42001
)

type sendRequest struct {
	ToUser  string   `json:"touser"`
	MsgType string   `json:"msgtype"`
	AgentID string   `json:"agentid"`
	Text    sendText `json:"text"`
}

type sendText struct {
	Content string `json:"content"`
}

type sendResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// SendMessage posts the reply through the authenticated REST send API,
// clamping text to the platform limit first. An invalid-token response
// invalidates the cache and retries once with a fresh credential.
func (a *Adapter) SendMessage(ctx context.Context, msg message.Outbound) error {
	text := message.Truncate(msg.Content.Text, maxTextRunes, truncationMarker)

	result, err := a.postSend(ctx, msg.TargetID, text)
	if err == nil && (result.ErrCode == errCodeInvalidToken || result.ErrCode == errCodeTokenExpired) {
		a.creds.invalidate()
		result, err = a.postSend(ctx, msg.TargetID, text)
	}
	if err != nil {
		observability.RecordSendError(channelName)
		return err
	}
	if result.ErrCode != 0 {
		observability.RecordSendError(channelName)
		return fmt.Errorf("%s: send rejected with code %d: %s", channelName, result.ErrCode, result.ErrMsg)
	}

	observability.RecordOutbound(channelName)
	return nil
}

func (a *Adapter) postSend(ctx context.Context, target, text string) (*sendResponse, error) {
	token, err := a.creds.get(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(sendRequest{
		ToUser:  target,
		MsgType: "text",
		AgentID: a.cfg.AgentID,
		Text:    sendText{Content: text},
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/cgi-bin/message/send?access_token=%s", a.cfg.APIBase, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: send request failed: %w", channelName, err)
	}
	defer resp.Body.Close()

	var result sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%s: decode send response: %w", channelName, err)
	}
	return &result, nil
}
