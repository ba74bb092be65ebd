package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude-flow/core/internal/kernelerr"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	deps, log := newTestDeps(t)
	return NewDispatcher(BuildTools(deps), log)
}

func TestDispatchToolsListReturnsEveryTool(t *testing.T) {
	d := newTestDispatcher(t)
	raw := d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	assert.NotEmpty(t, result["tools"])
}

func TestDispatchToolsCallInvokesHandler(t *testing.T) {
	d := newTestDispatcher(t)
	req := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"task.create","arguments":{"type":"build"}}}`
	raw := d.Handle(context.Background(), []byte(req))

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Nil(t, resp.Error)
	assert.NotNil(t, resp.Result)
}

func TestDispatchUnknownToolReturnsNotFoundCode(t *testing.T) {
	d := newTestDispatcher(t)
	req := `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"nope.nope","arguments":{}}}`
	raw := d.Handle(context.Background(), []byte(req))

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, kernelerr.RPCInvalidParams, resp.Error.Code)
}

func TestDispatchUnknownMethodReturnsError(t *testing.T) {
	d := newTestDispatcher(t)
	raw := d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":4,"method":"nope"}`))

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.NotNil(t, resp.Error)
}

func TestDispatchMalformedPayloadReturnsParseError(t *testing.T) {
	d := newTestDispatcher(t)
	raw := d.Handle(context.Background(), []byte(`not json`))

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, kernelerr.RPCParseError, resp.Error.Code)
}

func TestDispatchNotificationProducesNoResponse(t *testing.T) {
	d := newTestDispatcher(t)
	raw := d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list"}`))
	assert.Nil(t, raw)
}

func TestDispatchBatchProcessesEachRequest(t *testing.T) {
	d := newTestDispatcher(t)
	batch := `[
		{"jsonrpc":"2.0","id":1,"method":"tools/list"},
		{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"agent.list","arguments":{}}}
	]`
	raw := d.Handle(context.Background(), []byte(batch))

	var resps []rpcResponse
	require.NoError(t, json.Unmarshal(raw, &resps))
	require.Len(t, resps, 2)
	for _, r := range resps {
		assert.Nil(t, r.Error)
	}
}

func TestDispatchEmptyBatchReturnsInvalidRequest(t *testing.T) {
	d := newTestDispatcher(t)
	raw := d.Handle(context.Background(), []byte(`[]`))

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, kernelerr.RPCInvalidRequest, resp.Error.Code)
}
