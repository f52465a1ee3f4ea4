package letta

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServerClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "", 5*time.Second)
}

func TestCreateMemoryBlock(t *testing.T) {
	var gotBody map[string]string
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/v1/blocks/", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "blk-123"})
	})

	id, err := c.CreateMemoryBlock(context.Background(), "User: Dana", "Name: Dana")
	require.NoError(t, err)
	assert.Equal(t, "blk-123", id)
	assert.Equal(t, "User: Dana", gotBody["label"])
	assert.Equal(t, "Name: Dana", gotBody["value"])
}

func TestCreateMemoryBlock_ErrorStatus(t *testing.T) {
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	_, err := c.CreateMemoryBlock(context.Background(), "l", "v")
	assert.Error(t, err)
}

func TestCreateAgent(t *testing.T) {
	var gotBody map[string]interface{}
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/agents/", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "agent-9"})
	})

	id, err := c.CreateAgent(context.Background(), CreateAgentRequest{
		Name: "Helper", Persona: "concise", BlockIDs: []string{"blk-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "agent-9", id)
	assert.Equal(t, "Helper", gotBody["name"])
	assert.Equal(t, []interface{}{"blk-1"}, gotBody["block_ids"])
}

func TestAttachBlock_ConflictIsSuccess(t *testing.T) {
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "PATCH", r.Method)
		require.Equal(t, "/v1/agents/ag-1/core-memory/blocks/attach/blk-1", r.URL.Path)
		w.WriteHeader(http.StatusConflict)
	})
	assert.NoError(t, c.AttachBlock(context.Background(), "ag-1", "blk-1"))
}

func TestAttachBlock_OtherErrorsSurface(t *testing.T) {
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	assert.Error(t, c.AttachBlock(context.Background(), "ag-1", "blk-1"))
}

func TestDetachBlock_NotFoundIsSuccess(t *testing.T) {
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/agents/ag-1/core-memory/blocks/detach/blk-1", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})
	assert.NoError(t, c.DetachBlock(context.Background(), "ag-1", "blk-1"))
}

func TestListAttachedBlocks(t *testing.T) {
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/agents/ag-1/core-memory/blocks", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{"id": "blk-1", "label": "User: Dana"},
			{"id": "blk-2", "label": "Project: Apollo"},
			{"label": "no-id-entry"},
		})
	})

	ids, err := c.ListAttachedBlocks(context.Background(), "ag-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"blk-1", "blk-2"}, ids)
}

func TestSendMessage_CollectsAssistantText(t *testing.T) {
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/agents/ag-1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []map[string]interface{}{
				{"message_type": "reasoning_message", "content": []map[string]string{{"type": "text", "text": "thinking"}}},
				{"message_type": "assistant_message", "content": []map[string]string{{"type": "text", "text": "Hello"}}},
				{"message_type": "assistant_message", "content": []map[string]string{{"type": "text", "text": "Dana"}}},
			},
		})
	})

	reply, err := c.SendMessage(context.Background(), "ag-1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello Dana", reply)
}

func TestSendMessage_NoAssistantReply(t *testing.T) {
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"messages": []interface{}{}})
	})
	_, err := c.SendMessage(context.Background(), "ag-1", "hi")
	assert.Error(t, err)
}

func TestHealthPing(t *testing.T) {
	healthy := true
	c := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/health/", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})

	assert.NoError(t, c.HealthPing(context.Background()))
	healthy = false
	assert.Error(t, c.HealthPing(context.Background()))
}
