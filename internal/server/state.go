package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"sentinel/internal/domain"
	"sentinel/internal/engine"
)

func registerState(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "get-state",
		Method:      http.MethodGet,
		Path:        "/state",
		Summary:     "The whole State Document",
	}, func(ctx context.Context, _ *struct{}) (*output[*domain.State], error) {
		return reply(e.Snapshot()), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-state",
		Method:      http.MethodGet,
		Path:        "/state/export",
		Summary:     "Download the document as a backup file",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		data, err := e.ExportState()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        "application/json",
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", engine.ExportFilename(time.Now())),
			Body:               data,
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-state",
		Method:      http.MethodPost,
		Path:        "/state/import",
		Summary:     "Replace the document with a validated backup",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, _ *struct{}) (*output[*domain.State], error) {
		raw := bytes.TrimSpace(bodyBytes(ctx))
		if len(raw) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := e.ImportState(ctx, raw); err != nil {
			return nil, handleError(err)
		}
		return reply(e.Snapshot()), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-state",
		Method:      http.MethodPost,
		Path:        "/state/reset",
		Summary:     "Replace the document with the seed",
	}, func(ctx context.Context, _ *struct{}) (*output[*domain.State], error) {
		if err := e.ResetState(ctx); err != nil {
			return nil, handleError(err)
		}
		return reply(e.Snapshot()), nil
	})
}

func registerLogs(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "list-logs",
		Method:      http.MethodGet,
		Path:        "/logs",
		Summary:     "Newest audit entries from the document",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*output[LogsResponse], error) {
		logs := e.Snapshot().Logs
		if n := normalizeLimit(input.Limit); len(logs) > n {
			logs = logs[:n]
		}
		return reply(LogsResponse{Items: logs}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-log",
		Method:      http.MethodPost,
		Path:        "/logs",
		Summary:     "Append an audit entry",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body AddLogRequest
	}) (*output[domain.SystemLog], error) {
		entry, err := e.AddLog(ctx, actorOr(ctx, input.Body.Actor), input.Body.Action, input.Body.Details, domain.LogLevel(input.Body.Level))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(entry), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Durable audit trail, newest first",
		Description: "Includes STATE_IMPORTED and STATE_RESET, which never appear in the document logs.",
	}, func(ctx context.Context, input *struct {
		Action string `query:"action"`
		Limit  int    `query:"limit" default:"50"`
	}) (*output[AuditResponse], error) {
		if cfg.Store.Repo.DB == nil {
			return reply(AuditResponse{Items: nil}), nil
		}
		items, err := cfg.Store.ListAudit(ctx, input.Action, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(AuditResponse{Items: items}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/chat",
		Summary:     "Send a message to the overseer",
		Description: "Returns the overseer's reply. Without an overseer the message is only recorded.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ChatRequest
	}) (*output[domain.ChatMessage], error) {
		var (
			msg domain.ChatMessage
			err error
		)
		if cfg.Overseer != nil {
			msg, err = cfg.Overseer.Chat(ctx, input.Body.Message)
		} else {
			msg, err = e.SendChatMessage(ctx, domain.SenderUser, input.Body.Message)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return reply(msg), nil
	})
}

func registerSession(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/session/login",
		Summary:     "Authenticate the local user and set the AI uplink",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest
	}) (*output[domain.UserProfile], error) {
		if err := e.Login(ctx, input.Body.Name, input.Body.EnableAI); err != nil {
			return nil, handleError(err)
		}
		return reply(e.Snapshot().User), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "logout",
		Method:      http.MethodPost,
		Path:        "/session/logout",
		Summary:     "End the local session",
	}, func(ctx context.Context, _ *struct{}) (*output[domain.UserProfile], error) {
		if err := e.Logout(ctx); err != nil {
			return nil, handleError(err)
		}
		return reply(e.Snapshot().User), nil
	})
}

func registerCommands(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "list-commands",
		Method:      http.MethodGet,
		Path:        "/commands",
		Summary:     "Dispatchable actions and their parameters",
	}, func(ctx context.Context, _ *struct{}) (*output[[]ActionResponse], error) {
		actions := engine.Actions()
		out := make([]ActionResponse, 0, len(actions))
		for _, a := range actions {
			params := make([]ActionParamResponse, 0, len(a.Params))
			for _, p := range a.Params {
				params = append(params, ActionParamResponse{Name: p.Name, Kind: string(p.Kind), Optional: p.Optional})
			}
			out = append(out, ActionResponse{Name: a.Name, Doc: a.Doc, Params: params})
		}
		return reply(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "invoke-command",
		Method:      http.MethodPost,
		Path:        "/commands/{action}",
		Summary:     "Invoke an action with positional arguments",
		Description: "Body: {\"args\": [...]}. Same dispatch as the remote bridge.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Action string `path:"action"`
	}) (*output[CommandResponse], error) {
		body, err := rawBodyMap(ctx)
		if err != nil {
			return nil, err
		}
		var args []json.RawMessage
		if raw, ok := body["args"]; ok && !isNullRaw(raw) {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "args must be an array", nil)
			}
		}
		result, err := e.Dispatch(ctx, input.Action, args)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CommandResponse{Action: input.Action, Result: result}), nil
	})
}

func registerBridge(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "bridge-status",
		Method:      http.MethodGet,
		Path:        "/bridge",
		Summary:     "Remote bridge status",
	}, func(ctx context.Context, _ *struct{}) (*output[BridgeStatusResponse], error) {
		return reply(bridgeStatus(cfg)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bridge-connect",
		Method:      http.MethodPost,
		Path:        "/bridge/connect",
		Summary:     "Open the remote link, replacing any current one",
		Errors:      []int{http.StatusBadGateway, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*output[BridgeStatusResponse], error) {
		if cfg.Bridge == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "bridge_unavailable", "bridge not configured", nil)
		}
		var req BridgeConnectRequest
		if raw := bytes.TrimSpace(bodyBytes(ctx)); len(raw) > 0 {
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid body", nil)
			}
		}
		url := req.URL
		if url == "" {
			url = cfg.BridgeURL
		}
		if url == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "url is required", nil)
		}
		if err := cfg.Bridge.Connect(ctx, url); err != nil {
			if se := handleError(err); se.GetStatus() != http.StatusInternalServerError {
				return nil, se
			}
			return nil, newAPIError(http.StatusBadGateway, "bridge_dial_failed", err.Error(), map[string]any{"url": url})
		}
		return reply(bridgeStatus(cfg)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bridge-disconnect",
		Method:      http.MethodPost,
		Path:        "/bridge/disconnect",
		Summary:     "Close the remote link",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*output[BridgeStatusResponse], error) {
		if cfg.Bridge == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "bridge_unavailable", "bridge not configured", nil)
		}
		if err := cfg.Bridge.Disconnect(ctx); err != nil {
			return nil, handleError(err)
		}
		return reply(bridgeStatus(cfg)), nil
	})
}

func bridgeStatus(cfg Config) BridgeStatusResponse {
	s := BridgeStatusResponse{URL: cfg.Engine.Snapshot().User.RemoteURL}
	if cfg.Bridge != nil {
		s.Connected = cfg.Bridge.Connected()
	}
	return s
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}
