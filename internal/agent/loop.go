package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/bus"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/config"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/metrics"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/state"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/tools"
)

const historyLimit = 50

const systemPromptTemplate = `You are Geofrey, a personal automation assistant.
You can read and write files in the workspace, run shell commands, control
home automation, and send messages. Risky actions are classified and may
require the operator's approval before they run; when a tool reports a
pending approval or a denial, tell the user plainly and do not retry on
your own.

Workspace: %s`

type historyEntry struct {
	role    string
	content string
}

// Loop is the main agent processing loop
type Loop struct {
	bus           *bus.MessageBus
	model         model.ToolCallingChatModel
	tools         *tools.Registry
	governor      *governor
	config        *config.Config
	maxIterations int
	workspacePath string
	now           func() time.Time
	metrics       *metrics.Recorder
	state         *state.Manager

	histMu    sync.Mutex
	histories map[string][]historyEntry

	bindOnce sync.Once
	bindErr  error

	OnToolStart  func(name, args string)
	OnToolFinish func(name, result string, err error)
}

// NewLoop creates a new agent loop
func NewLoop(cfg *config.Config, msgBus *bus.MessageBus, chatModel model.ToolCallingChatModel) (*Loop, error) {
	workspacePath, err := cfg.WorkspacePathChecked()
	if err != nil {
		return nil, err
	}

	return &Loop{
		bus:           msgBus,
		model:         chatModel,
		tools:         tools.NewRegistry(),
		config:        cfg,
		maxIterations: cfg.Agents.Defaults.MaxToolIterations,
		workspacePath: workspacePath,
		now:           time.Now,
		metrics:       metrics.NewRecorder(workspacePath),
		state:         state.NewManager(workspacePath),
		histories:     make(map[string][]historyEntry),
	}, nil
}

// Metrics returns the runtime metrics recorder so the channel manager
// can share it.
func (l *Loop) Metrics() *metrics.Recorder {
	return l.metrics
}

// Tools returns the tool registry.
func (l *Loop) Tools() *tools.Registry {
	return l.tools
}

// RegisterDefaultTools registers all built-in tools and installs the
// governance guard over them.
func (l *Loop) RegisterDefaultTools(cfg *config.Config) error {
	toolFns := []func() (tool.InvokableTool, error){
		func() (tool.InvokableTool, error) { return tools.NewReadFileTool(l.workspacePath) },
		func() (tool.InvokableTool, error) { return tools.NewWriteFileTool(l.workspacePath) },
		func() (tool.InvokableTool, error) { return tools.NewEditFileTool(l.workspacePath) },
		func() (tool.InvokableTool, error) { return tools.NewAppendFileTool(l.workspacePath) },
		func() (tool.InvokableTool, error) { return tools.NewListDirTool(l.workspacePath) },
		func() (tool.InvokableTool, error) {
			return tools.NewExecTool(
				cfg.Tools.Exec.Timeout,
				cfg.Tools.Exec.RestrictToWorkspace,
				l.workspacePath,
			)
		},
		func() (tool.InvokableTool, error) {
			return tools.NewHomeCallTool(cfg.Tools.Home.BridgeURL, cfg.Tools.Home.Token, 0)
		},
		func() (tool.InvokableTool, error) { return tools.NewMessageTool(l.bus) },
	}

	registered := make([]string, 0, len(toolFns))
	for _, fn := range toolFns {
		t, err := fn()
		if err != nil {
			return err
		}
		if err := l.tools.Register(t); err != nil {
			return err
		}
		info, err := t.Info(context.Background())
		if err == nil && info != nil && info.Name != "" {
			registered = append(registered, info.Name)
		}
	}

	if err := l.configureGuard(cfg); err != nil {
		return err
	}

	slog.Info("registered tools", "count", len(registered), "tools", registered)
	return nil
}

func (l *Loop) bindTools(ctx context.Context) error {
	l.bindOnce.Do(func() {
		if l.model == nil {
			return
		}
		toolInfos, err := l.tools.GetToolInfos(ctx)
		if err != nil {
			l.bindErr = err
			return
		}
		if len(toolInfos) == 0 {
			return
		}
		bound, err := l.model.WithTools(toolInfos)
		if err != nil {
			l.bindErr = err
			return
		}
		l.model = bound
	})
	return l.bindErr
}

// Run starts the agent loop
func (l *Loop) Run(ctx context.Context) error {
	if err := l.bindTools(ctx); err != nil {
		return err
	}

	slog.Info("agent loop started")

	for {
		select {
		case <-ctx.Done():
			l.Shutdown("agent loop stopping")
			return ctx.Err()
		case msg, ok := <-l.bus.Inbound():
			if !ok {
				return fmt.Errorf("inbound channel closed")
			}
			if msg == nil {
				slog.Warn("received nil inbound message")
				continue
			}
			if strings.TrimSpace(msg.RequestID) == "" {
				msg.RequestID = bus.NewRequestID()
			}
			l.rememberActiveChat(msg)
			resp, err := l.processMessage(ctx, msg)
			if err != nil {
				slog.Error("process message failed", "request_id", msg.RequestID, "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
				l.bus.PublishOutbound(&bus.OutboundMessage{
					Channel:   msg.Channel,
					ChatID:    msg.ChatID,
					Content:   "Error: " + err.Error(),
					RequestID: msg.RequestID,
				})
				continue
			}
			if resp != nil {
				l.bus.PublishOutbound(resp)
			}
		}
	}
}

func (l *Loop) processMessage(ctx context.Context, msg *bus.InboundMessage) (*bus.OutboundMessage, error) {
	slog.Info("processing message", "request_id", msg.RequestID, "channel", msg.Channel, "chat_id", msg.ChatID, "sender", msg.SenderID)

	messages := l.buildMessages(msg.SessionKey(), msg.Content)

	var finalContent string

	for i := 0; i < l.maxIterations; i++ {
		if l.model == nil {
			finalContent = "No model configured"
			break
		}

		resp, err := l.model.Generate(ctx, messages)
		if err != nil {
			return nil, err
		}

		// Always capture the latest content from the LLM response,
		// even when tool calls are present.
		if resp.Content != "" {
			finalContent = resp.Content
		}

		if len(resp.ToolCalls) == 0 {
			break
		}

		messages = append(messages, resp)
		messages = append(messages, l.runToolCalls(ctx, msg, resp.ToolCalls)...)
	}

	if finalContent == "" {
		finalContent = "Processing complete."
	}

	l.appendHistory(msg.SessionKey(), msg.Content, finalContent)

	return &bus.OutboundMessage{
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		Content:   finalContent,
		RequestID: msg.RequestID,
	}, nil
}

// runToolCalls executes a model turn's tool calls in parallel. Gated
// calls block their own goroutine on the approval future, so one
// pending approval never stalls the rest of the batch.
func (l *Loop) runToolCalls(ctx context.Context, msg *bus.InboundMessage, calls []schema.ToolCall) []*schema.Message {
	type toolResult struct {
		index int
		msg   *schema.Message
	}

	resultChan := make(chan toolResult, len(calls))
	var wg sync.WaitGroup

	for i, tc := range calls {
		wg.Add(1)
		go func(i int, tc schema.ToolCall) {
			defer wg.Done()
			toolStart := time.Now()
			slog.Debug("executing tool", "request_id", msg.RequestID, "name", tc.Function.Name)

			if l.OnToolStart != nil {
				l.OnToolStart(tc.Function.Name, tc.Function.Arguments)
			}

			toolCtx := tools.WithInvocationContext(ctx, tools.InvocationContext{
				Channel:   msg.Channel,
				ChatID:    msg.ChatID,
				SenderID:  msg.SenderID,
				RequestID: msg.RequestID,
				SessionID: msg.SessionKey(),
			})

			result, err := l.tools.Execute(toolCtx, tc.Function.Name, tc.Function.Arguments)
			if err != nil {
				result = "Error: " + err.Error()
			}

			if auditErr := l.auditToolExecution(toolCtx, tc.Function.Name, tc.Function.Arguments, result, err); auditErr != nil {
				// Fail safe: an action whose audit record cannot be
				// written is reported as denied.
				result = "Error: audit write failed, action treated as denied: " + auditErr.Error()
				err = auditErr
			}

			slog.Info("tool execution finished",
				"request_id", msg.RequestID,
				"channel", msg.Channel,
				"chat_id", msg.ChatID,
				"tool", tc.Function.Name,
				"duration_ms", time.Since(toolStart).Milliseconds(),
				"success", err == nil,
			)

			if _, metricsErr := l.metrics.RecordTool(time.Since(toolStart), result, err); metricsErr != nil {
				slog.Debug("record tool metrics failed", "error", metricsErr)
			}

			if l.OnToolFinish != nil {
				l.OnToolFinish(tc.Function.Name, result, err)
			}

			resultChan <- toolResult{
				index: i,
				msg: &schema.Message{
					Role:       schema.Tool,
					Content:    result,
					ToolCallID: tc.ID,
				},
			}
		}(i, tc)
	}

	wg.Wait()
	close(resultChan)

	results := make([]*schema.Message, len(calls))
	for res := range resultChan {
		results[res.index] = res.msg
	}
	return results
}

// rememberActiveChat records where the operator last spoke so approval
// prompts can find them without an explicit operator chat id.
func (l *Loop) rememberActiveChat(msg *bus.InboundMessage) {
	switch msg.Channel {
	case "", "cli", "gateway":
		return
	}
	err := l.state.SaveActiveChat(state.ActiveChat{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		SeenAt:  l.now().UTC(),
	})
	if err != nil {
		slog.Debug("save active chat failed", "error", err)
	}
}

func (l *Loop) buildMessages(sessionKey, content string) []*schema.Message {
	messages := []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(systemPromptTemplate, l.workspacePath)),
	}

	l.histMu.Lock()
	for _, h := range l.histories[sessionKey] {
		switch h.role {
		case "assistant":
			messages = append(messages, schema.AssistantMessage(h.content, nil))
		default:
			messages = append(messages, schema.UserMessage(h.content))
		}
	}
	l.histMu.Unlock()

	return append(messages, schema.UserMessage(content))
}

func (l *Loop) appendHistory(sessionKey, userContent, assistantContent string) {
	l.histMu.Lock()
	defer l.histMu.Unlock()

	hist := append(l.histories[sessionKey],
		historyEntry{role: "user", content: userContent},
		historyEntry{role: "assistant", content: assistantContent},
	)
	if len(hist) > historyLimit {
		hist = hist[len(hist)-historyLimit:]
	}
	l.histories[sessionKey] = hist
}

// ProcessForChannel processes a message directly for a given channel/session.
func (l *Loop) ProcessForChannel(ctx context.Context, channel, chatID, senderID, content string) (string, error) {
	if err := l.bindTools(ctx); err != nil {
		return "", err
	}
	if strings.TrimSpace(channel) == "" {
		channel = "cli"
	}
	if strings.TrimSpace(chatID) == "" {
		chatID = "direct"
	}
	if strings.TrimSpace(senderID) == "" {
		senderID = "user"
	}

	msg := &bus.InboundMessage{
		Channel:   channel,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   content,
		RequestID: bus.RequestIDFromContext(ctx),
	}
	if strings.TrimSpace(msg.RequestID) == "" {
		msg.RequestID = bus.NewRequestID()
	}

	resp, err := l.processMessage(ctx, msg)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// ProcessDirect processes a message directly (for CLI)
func (l *Loop) ProcessDirect(ctx context.Context, content string) (string, error) {
	return l.ProcessForChannel(ctx, "cli", "direct", "user", content)
}
