package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/gorilla/websocket"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/bus"
)

// HomeCallInput parameters for home_call tool.
type HomeCallInput struct {
	Service string         `json:"service" jsonschema:"required,description=Bridge service to invoke (e.g. light.turn_on)"`
	Entity  string         `json:"entity,omitempty" jsonschema:"description=Target entity id (e.g. light.kitchen)"`
	Data    map[string]any `json:"data,omitempty" jsonschema:"description=Additional service parameters"`
}

type homeBridgeRequest struct {
	ID      string         `json:"id"`
	Service string         `json:"service"`
	Entity  string         `json:"entity,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

type homeBridgeResponse struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

type homeCallToolImpl struct {
	bridgeURL string
	token     string
	timeout   time.Duration
}

func (t *homeCallToolImpl) execute(ctx context.Context, input *HomeCallInput) (string, error) {
	service := strings.TrimSpace(input.Service)
	if service == "" {
		return "", fmt.Errorf("service is required")
	}
	if t.bridgeURL == "" {
		return "", fmt.Errorf("home bridge is not configured")
	}

	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, t.bridgeURL, header)
	if err != nil {
		return "", fmt.Errorf("dial home bridge: %w", err)
	}
	defer conn.Close()

	req := homeBridgeRequest{
		ID:      bus.NewRequestID(),
		Service: service,
		Entity:  strings.TrimSpace(input.Entity),
		Data:    input.Data,
	}

	deadline := time.Now().Add(t.timeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(req); err != nil {
		return "", fmt.Errorf("send bridge request: %w", err)
	}

	_ = conn.SetReadDeadline(deadline)
	var resp homeBridgeResponse
	for {
		if err := conn.ReadJSON(&resp); err != nil {
			return "", fmt.Errorf("read bridge response: %w", err)
		}
		// The bridge may interleave state events; only the reply to our
		// request id counts.
		if resp.ID == "" || resp.ID == req.ID {
			break
		}
	}

	if !resp.OK {
		msg := resp.Error
		if msg == "" {
			msg = "bridge reported failure"
		}
		return "", fmt.Errorf("home bridge rejected %s: %s", service, msg)
	}

	if len(resp.Result) > 0 {
		return string(resp.Result), nil
	}
	return fmt.Sprintf("Service %s dispatched", service), nil
}

// NewHomeCallTool creates the home_call tool that talks to the home
// automation bridge over a websocket.
func NewHomeCallTool(bridgeURL, token string, timeoutSec int) (tool.InvokableTool, error) {
	if timeoutSec <= 0 {
		timeoutSec = 15
	}
	impl := &homeCallToolImpl{
		bridgeURL: bridgeURL,
		token:     token,
		timeout:   time.Duration(timeoutSec) * time.Second,
	}
	return utils.InferTool("home_call", "Invoke a home automation service through the bridge (lights, climate, locks)", impl.execute)
}
