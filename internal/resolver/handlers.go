package resolver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/slipstream-ai/realtime-gateway/internal/model"
	"github.com/slipstream-ai/realtime-gateway/internal/redis"
	"github.com/slipstream-ai/realtime-gateway/pkg/metrics"
)

func (r *Resolver) handleTyping(ctx context.Context, conn Conn, ev model.Typing) error {
	ev.UserID = conn.UserID()
	if ev.ConversationID == "" {
		return nil
	}
	return r.bus.Publish(ctx, redis.ConversationChannel(ev.ConversationID), ev)
}

// handleStreamSubscribe attaches the connection to a conversation's stream
// and conversation channels and, when a buffer exists, replays it in full.
// Replays are idempotent: every resubscribe gets the entire buffer again.
func (r *Resolver) handleStreamSubscribe(ctx context.Context, conn Conn, ev model.StreamSubscribe) error {
	if err := validateConversationID(ev.ConversationID); err != nil {
		return nil
	}
	if err := conn.Subscribe(redis.StreamChannel(ev.ConversationID)); err != nil {
		return err
	}
	if err := conn.Subscribe(redis.ConversationChannel(ev.ConversationID)); err != nil {
		return err
	}

	state, err := r.streams.Get(ctx, ev.ConversationID)
	if err != nil {
		r.log.Errorw("stream state lookup failed", "conversationId", ev.ConversationID, "error", err)
		return nil
	}
	if state == nil {
		return nil
	}

	metrics.StreamsResumed.Inc()
	return conn.Send(model.StreamResumed{
		Type:           model.EventStreamResumed,
		ConversationID: ev.ConversationID,
		ResumedAt:      len(state.Chunks),
		Chunks:         state.Chunks,
		ThinkingChunks: state.ThinkingChunks,
		Title:          state.Metadata.Title,
		Model:          state.Metadata.Model,
		Provider:       state.Metadata.Provider,
	})
}

func (r *Resolver) handleImageGen(ctx context.Context, conn Conn, ev model.ImageGenRequest) error {
	fail := func(msg string) error {
		return conn.Send(model.ImageGenResponse{
			Type:           model.EventImageGenResponse,
			ConversationID: ev.ConversationID,
			UserID:         conn.UserID(),
			Success:        false,
			Error:          msg,
		})
	}

	if r.imageGenURL == "" {
		return fail("image generation is not configured")
	}

	body, err := json.Marshal(map[string]any{
		"prompt": ev.Prompt,
		"seed":   ev.Seed,
	})
	if err != nil {
		return fail("invalid image request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.imageGenURL, bytes.NewReader(body))
	if err != nil {
		return fail("invalid image request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		r.log.Errorw("image generation call failed", "error", err)
		return fail("image generation failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.log.Errorw("image generation returned non-200", "status", resp.StatusCode)
		return fail(fmt.Sprintf("image generation failed (status %d)", resp.StatusCode))
	}

	var out struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.ImageURL == "" {
		return fail("image generation returned no image")
	}

	result := model.ImageGenResponse{
		Type:           model.EventImageGenResponse,
		ConversationID: ev.ConversationID,
		UserID:         conn.UserID(),
		Success:        true,
		ImageURL:       out.ImageURL,
	}
	if ev.ConversationID != "" {
		// The requester gets the result directly; marking the conversation
		// active keeps the relay from delivering the published copy too.
		conn.SetActiveConversation(ev.ConversationID, true)
		defer conn.SetActiveConversation(ev.ConversationID, false)
		if err := r.bus.Publish(ctx, redis.ConversationChannel(ev.ConversationID), result); err != nil {
			r.log.Warnw("image result publish failed", "conversationId", ev.ConversationID, "error", err)
		}
	}
	return conn.Send(result)
}

func (r *Resolver) handleAssetUpload(ctx context.Context, conn Conn, ev model.AssetUploadRequest) error {
	fail := func(msg string) error {
		return conn.Send(model.AssetUploadResponse{
			Type:           model.EventAssetUploadRespond,
			ConversationID: ev.ConversationID,
			UserID:         conn.UserID(),
			Success:        false,
			Error:          msg,
		})
	}

	if r.uploader == nil {
		return fail("asset storage is not configured")
	}
	if ev.Filename == "" || ev.Base64 == "" {
		return fail("filename and base64 payload are required")
	}

	data, err := base64.StdEncoding.DecodeString(ev.Base64)
	if err != nil {
		return fail("payload is not valid base64")
	}

	contentType := ev.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := fmt.Sprintf("uploads/%s/%s-%s", conn.UserID(), uuid.NewString(), path.Base(ev.Filename))
	url, err := r.uploader.Upload(ctx, key, data, contentType)
	if err != nil {
		r.log.Errorw("asset upload failed", "key", key, "error", err)
		return fail("upload failed")
	}

	return conn.Send(model.AssetUploadResponse{
		Type:           model.EventAssetUploadRespond,
		ConversationID: ev.ConversationID,
		UserID:         conn.UserID(),
		Success:        true,
		URL:            url,
	})
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
