package mcpserver

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/claude-flow/core/internal/common/stringutil"
	"github.com/claude-flow/core/internal/kernelerr"
	"github.com/claude-flow/core/internal/logging"
)

// maxPayloadPreview bounds how much of a malformed request body gets logged.
const maxPayloadPreview = 200

// rpcRequest is a JSON-RPC 2.0 request envelope. Params is kept raw so a
// batch can mix tools/call payloads with the handful of other methods this
// kernel answers directly.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Dispatcher answers JSON-RPC 2.0 requests against the same tool registry
// the real MCP server exposes, for transports that do not go through
// mcp-go's own protocol machinery (/rpc, /ws).
type Dispatcher struct {
	tools map[string]ToolSpec
	log   *logging.Logger
}

// NewDispatcher indexes tools by name for tools/call lookups.
func NewDispatcher(tools []ToolSpec, log *logging.Logger) *Dispatcher {
	byName := make(map[string]ToolSpec, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}
	return &Dispatcher{tools: byName, log: log}
}

// Handle decodes raw as either a single request or a batch array and
// returns the encoded response (or batch of responses). A notification
// (no id) produces no entry in the reply.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) []byte {
	trimmed := trimLeadingSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var reqs []rpcRequest
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			d.log.Debug("invalid batch payload", zap.String("preview", stringutil.TruncateStringWithEllipsis(string(trimmed), maxPayloadPreview)))
			return mustMarshal(errorResponse(nil, kernelerr.RPCParseError, "invalid batch payload"))
		}
		if len(reqs) == 0 {
			return mustMarshal(errorResponse(nil, kernelerr.RPCInvalidRequest, "empty batch"))
		}
		responses := make([]rpcResponse, 0, len(reqs))
		for _, req := range reqs {
			if resp, ok := d.handleOne(ctx, req); ok {
				responses = append(responses, resp)
			}
		}
		return mustMarshal(responses)
	}

	var req rpcRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		d.log.Debug("invalid request payload", zap.String("preview", stringutil.TruncateStringWithEllipsis(string(trimmed), maxPayloadPreview)))
		return mustMarshal(errorResponse(nil, kernelerr.RPCParseError, "invalid request payload"))
	}
	resp, ok := d.handleOne(ctx, req)
	if !ok {
		return nil
	}
	return mustMarshal(resp)
}

func (d *Dispatcher) handleOne(ctx context.Context, req rpcRequest) (rpcResponse, bool) {
	isNotification := req.ID == nil
	result, err := d.dispatch(ctx, req)
	if isNotification {
		if err != nil {
			d.log.Warn("notification failed", zap.String("method", req.Method), zap.Error(err))
		}
		return rpcResponse{}, false
	}
	if err != nil {
		return errorResponseFromErr(req.ID, err), true
	}
	return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result}, true
}

func (d *Dispatcher) dispatch(ctx context.Context, req rpcRequest) (interface{}, error) {
	switch req.Method {
	case "tools/list":
		return d.listTools(), nil
	case "tools/call":
		return d.callTool(ctx, req.Params)
	case "resources/list":
		return map[string]interface{}{"resources": []interface{}{}}, nil
	case "prompts/list":
		return map[string]interface{}{"prompts": []interface{}{}}, nil
	default:
		return nil, kernelerr.NewValidation("method-not-found", "unknown method: "+req.Method)
	}
}

func (d *Dispatcher) listTools() map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(d.tools))
	for _, t := range d.tools {
		out = append(out, map[string]interface{}{"name": t.Name, "description": t.Description})
	}
	return map[string]interface{}{"tools": out}
}

func (d *Dispatcher) callTool(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params toolCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, kernelerr.NewValidation("invalid-params", "tools/call params must include name and arguments")
	}
	tool, ok := d.tools[params.Name]
	if !ok {
		return nil, kernelerr.NewNotFound("unknown-tool", "no such tool: "+params.Name)
	}
	return tool.Handler(ctx, params.Arguments)
}

func errorResponse(id interface{}, code int, message string) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}

func errorResponseFromErr(id interface{}, err error) rpcResponse {
	if ke, ok := kernelerr.As(err); ok {
		if ke.Code == "method-not-found" {
			return errorResponse(id, kernelerr.RPCMethodNotFound, ke.Message)
		}
		return errorResponse(id, ke.ToRPCCode(), ke.Message)
	}
	return errorResponse(id, kernelerr.RPCInvalidParams, err.Error())
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return b[i:]
		}
	}
	return b[i:]
}

func mustMarshal(v interface{}) []byte {
	out, err := json.Marshal(v)
	if err != nil {
		out, _ = json.Marshal(errorResponse(nil, kernelerr.RPCInternalError, "failed to encode response"))
	}
	return out
}
