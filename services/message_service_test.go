package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger/apperror"
	"messenger/models"
)

func sendText(text string) models.SendMessageRequest {
	return models.SendMessageRequest{MessageText: text}
}

func images(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = testPNG
	}
	return out
}

func TestMessageService_SendMessageAccepts(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice, _ := env.signup(t, "alice01")
	bob, _ := env.signup(t, "bobby01")

	tests := []struct {
		name   string
		req    models.SendMessageRequest
		images int
	}{
		{"text only", sendText("hi"), 0},
		{"images only", models.SendMessageRequest{Images: images(2)}, 2},
		{"mixed", models.SendMessageRequest{MessageText: "look", Images: images(MaxImages)}, MaxImages},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := env.msgSvc.SendMessage(ctx, alice.ID, bob.ID, tt.req)
			require.NoError(t, err)
			assert.Equal(t, alice.ID, msg.SenderID)
			assert.Equal(t, bob.ID, msg.ReceiverID)
			assert.Len(t, msg.Images, tt.images)
			assert.NotNil(t, msg.Images)
			assert.False(t, msg.CreatedAt.IsZero())
		})
	}
}

func TestMessageService_SendMessageRejects(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice, _ := env.signup(t, "alice01")
	bob, _ := env.signup(t, "bobby01")

	tests := []struct {
		name     string
		receiver string
		req      models.SendMessageRequest
		kind     apperror.Kind
		message  string
	}{
		{"malformed id", "not-an-id", sendText("hi"), apperror.KindNotFound, "No user found with this Id"},
		{"unknown receiver", uuid.NewString(), sendText("hi"), apperror.KindNotFound, "No user found with this Id"},
		{"self", alice.ID, sendText("hi"), apperror.KindBusinessRule, "Cannot message yourself"},
		{"empty", bob.ID, models.SendMessageRequest{MessageText: "   "}, apperror.KindValidation, "Message cannot be empty"},
		{"too many images", bob.ID, models.SendMessageRequest{Images: images(MaxImages + 1)}, apperror.KindValidation, "Too many images (max 10)"},
		{"bad image", bob.ID, models.SendMessageRequest{Images: []string{"https://example.com/a.png"}}, apperror.KindValidation, "Invalid image format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.msgSvc.SendMessage(ctx, alice.ID, tt.receiver, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperror.KindOf(err))
			assert.Equal(t, tt.message, err.Error())
		})
	}

	msgs, err := env.msgSvc.GetMessages(ctx, alice.ID, bob.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMessageService_UploadFailure(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice, _ := env.signup(t, "alice01")
	bob, _ := env.signup(t, "bobby01")

	env.media.fail = true
	_, err := env.msgSvc.SendMessage(ctx, alice.ID, bob.ID, models.SendMessageRequest{Images: images(1)})
	require.Error(t, err)
	assert.Equal(t, apperror.KindUpstream, apperror.KindOf(err))
	assert.Equal(t, "One or more images could not be uploaded", err.Error())
}

func TestMessageService_RealtimeDelivery(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice, _ := env.signup(t, "alice01")
	bob, _ := env.signup(t, "bobby01")

	bobConn := &fakeConn{}
	require.True(t, env.hub.RegisterClient(bob.ID, bobConn))

	msg, err := env.msgSvc.SendMessage(ctx, alice.ID, bob.ID, sendText("realtime"))
	require.NoError(t, err)

	received := bobConn.decoded(t)
	last := received[len(received)-1]
	require.Equal(t, EventTypeNewMessage, last.Type)
	var got models.Message
	require.NoError(t, json.Unmarshal(last.Content, &got))
	assert.Equal(t, msg.ID, got.ID)

	// 接收者离线时消息仍然保存
	env.hub.UnregisterClient(bobConn)
	_, err = env.msgSvc.SendMessage(ctx, alice.ID, bob.ID, sendText("offline"))
	require.NoError(t, err)

	msgs, err := env.msgSvc.GetMessages(ctx, bob.ID, alice.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "offline", msgs[0].MessageText)
}

func TestMessageService_Pagination(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice, _ := env.signup(t, "alice01")
	bob, _ := env.signup(t, "bobby01")

	total := PageSize + 5
	for i := 0; i < total; i++ {
		_, err := env.msgSvc.SendMessage(ctx, alice.ID, bob.ID, sendText(strings.Repeat("x", i+1)))
		require.NoError(t, err)
	}

	first, err := env.msgSvc.GetMessages(ctx, alice.ID, bob.ID, 0)
	require.NoError(t, err)
	require.Len(t, first, PageSize)
	assert.Len(t, first[0].MessageText, total)

	second, err := env.msgSvc.GetMessages(ctx, bob.ID, alice.ID, PageSize)
	require.NoError(t, err)
	require.Len(t, second, 5)

	seen := map[string]bool{}
	for _, m := range append(first, second...) {
		assert.False(t, seen[m.ID])
		seen[m.ID] = true
	}
	assert.Len(t, seen, total)

	negative, err := env.msgSvc.GetMessages(ctx, alice.ID, bob.ID, -3)
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, negative[0].ID)

	_, err = env.msgSvc.GetMessages(ctx, alice.ID, "bad", 0)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestMessageService_LastMessages(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice, _ := env.signup(t, "alice01")
	bob, _ := env.signup(t, "bobby01")
	carol, _ := env.signup(t, "carol01")

	_, err := env.msgSvc.SendMessage(ctx, alice.ID, bob.ID, sendText("a->b 1"))
	require.NoError(t, err)
	_, err = env.msgSvc.SendMessage(ctx, bob.ID, alice.ID, sendText("b->a 2"))
	require.NoError(t, err)
	_, err = env.msgSvc.SendMessage(ctx, carol.ID, alice.ID, sendText("c->a 1"))
	require.NoError(t, err)

	last, err := env.msgSvc.GetLastMessages(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, last, 2)

	byPartner := map[string]string{}
	for _, m := range last {
		byPartner[m.PartnerOf(alice.ID)] = m.MessageText
	}
	assert.Equal(t, "b->a 2", byPartner[bob.ID])
	assert.Equal(t, "c->a 1", byPartner[carol.ID])
}
