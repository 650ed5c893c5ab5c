package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, chunks ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenToReceiverAccumulatesToolCall(t *testing.T) {
	srv := sseServer(t,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c0","function":{"name":"read_file","arguments":"{\"pa"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"th\":\"a\"}"}}]}}]}`,
	)
	p := NewOpenAI("test", "key", srv.URL)

	var calls []ToolCall
	recv := &Receiver{OnToolCall: func(tc ToolCall) { calls = append(calls, tc) }}
	_, err := p.GenToReceiver(context.Background(), GenRequest{Model: "m"}, recv)
	require.NoError(t, err)

	require.Len(t, calls, 1)
	assert.Equal(t, "c0", calls[0].ID)
	assert.Equal(t, "read_file", calls[0].Name)
	assert.Equal(t, `{"path":"a"}`, calls[0].Arguments)
}

func TestGenToReceiverSparseToolCallIndexes(t *testing.T) {
	// Some providers skip delta indexes; the flush must not assume they are
	// contiguous.
	srv := sseServer(t,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c0","function":{"name":"read_file","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":2,"id":"c2","function":{"name":"list_dir","arguments":"{}"}}]}}]}`,
	)
	p := NewOpenAI("test", "key", srv.URL)

	var calls []ToolCall
	recv := &Receiver{OnToolCall: func(tc ToolCall) { calls = append(calls, tc) }}
	_, err := p.GenToReceiver(context.Background(), GenRequest{Model: "m"}, recv)
	require.NoError(t, err)

	require.Len(t, calls, 2)
	assert.Equal(t, "c0", calls[0].ID)
	assert.Equal(t, "c2", calls[1].ID)
}
