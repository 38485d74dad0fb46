package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("localhost")
	assert.Error(t, err)

	_, err = NewClient("http://localhost:11434/api/chat")
	assert.NoError(t, err)
}

func TestChat(t *testing.T) {
	var got api.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.ChatResponse{
			Model:   got.Model,
			Message: api.Message{Role: "assistant", Content: `{"primary":{"label":"person"}}`},
			Done:    true,
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	reply, err := c.Chat(context.Background(), "minicpm-v", "where?", []byte{0xff, 0xd8})
	require.NoError(t, err)
	assert.Equal(t, `{"primary":{"label":"person"}}`, reply)

	assert.Equal(t, "minicpm-v", got.Model)
	require.Len(t, got.Messages, 1)
	assert.Len(t, got.Messages[0].Images, 1)
	assert.NotNil(t, got.Stream)
	assert.False(t, *got.Stream)
}
