package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pytake/backend/internal/apperr"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	wa := NewWhatsApp(WhatsAppConfig{}, zerolog.Nop())
	reg := NewRegistry(wa)

	got, err := reg.Get(types.PlatformWhatsApp)
	require.NoError(t, err)
	assert.Same(t, wa, got)

	_, err = reg.Get(types.PlatformTelegram)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	assert.Equal(t, []types.Platform{types.PlatformWhatsApp}, reg.Platforms())
}

func TestWhatsAppSendMessage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/12345/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messages":[{"id":"wamid.abc"}]}`))
	}))
	defer srv.Close()

	wa := NewWhatsApp(WhatsAppConfig{APIURL: srv.URL, PhoneNumberID: "12345", Token: "secret"}, zerolog.Nop())
	conv := &types.Conversation{ID: "c1", ContactPhone: "+5511999990000", PlatformConversationID: "5511999990000"}

	id, err := wa.SendMessage(context.Background(), conv, "Olá!")
	require.NoError(t, err)
	assert.Equal(t, "wamid.abc", id)
	assert.Equal(t, "whatsapp", got["messaging_product"])
	assert.Equal(t, "5511999990000", got["to"])
	assert.Equal(t, map[string]any{"body": "Olá!"}, got["text"])
}

func TestWhatsAppErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   apperr.Code
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","code":130429}}`, apperr.CodeDependency},
		{"server error", http.StatusBadGateway, ``, apperr.CodeDependency},
		{"bad recipient", http.StatusBadRequest, `{"error":{"message":"invalid parameter","code":100}}`, apperr.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			wa := NewWhatsApp(WhatsAppConfig{APIURL: srv.URL, PhoneNumberID: "1"}, zerolog.Nop())
			_, err := wa.SendMessage(context.Background(), &types.Conversation{PlatformConversationID: "x"}, "hi")
			assert.Equal(t, tt.code, apperr.CodeOf(err))
		})
	}
}

func TestWhatsAppTypingIndicator(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "read", body["status"])
		assert.Equal(t, "wamid.in", body["message_id"])
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	wa := NewWhatsApp(WhatsAppConfig{APIURL: srv.URL, PhoneNumberID: "1"}, zerolog.Nop())

	// No inbound message to reference
	require.NoError(t, wa.SendTypingIndicator(context.Background(), &types.Conversation{}))
	assert.Equal(t, 0, calls)

	conv := &types.Conversation{CustomFields: map[string]string{LastMessageField: "wamid.in"}}
	require.NoError(t, wa.SendTypingIndicator(context.Background(), conv))
	assert.Equal(t, 1, calls)
}
