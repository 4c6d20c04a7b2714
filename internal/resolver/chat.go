package resolver

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slipstream-ai/realtime-gateway/internal/llm"
	"github.com/slipstream-ai/realtime-gateway/internal/model"
	"github.com/slipstream-ai/realtime-gateway/internal/redis"
	"github.com/slipstream-ai/realtime-gateway/pkg/metrics"
)

// newConversationSentinel is the client shorthand for "mint a conversation
// for me"; it is treated exactly like an empty conversationId.
const newConversationSentinel = "new-chat"

// handleChat runs the full streaming pipeline for one ai_chat_request.
//
// A conversation has at most one writer at a time. The claim is taken
// in-process first, then cross-instance via the buffered stream state: a
// non-completed buffer means another writer is live somewhere.
func (r *Resolver) handleChat(ctx context.Context, conn Conn, req model.ChatRequest) error {
	userID := conn.UserID()
	provider := model.NormalizeProvider(req.Provider)
	modelName := llm.GetModel(provider, req.Model)

	sendError := func(convID, code, msg string) error {
		return conn.Send(model.ChatError{
			Type:           model.EventChatError,
			ConversationID: convID,
			UserID:         userID,
			Provider:       provider,
			Model:          modelName,
			Code:           code,
			Message:        msg,
			Done:           true,
		})
	}

	if err := validatePrompt(req.Prompt); err != nil {
		return sendError(req.ConversationID, "invalid_request", err.Error())
	}

	conversationID := req.ConversationID
	isNew := conversationID == "" || conversationID == newConversationSentinel
	if isNew {
		conversationID = uuid.NewString()
	} else if err := validateConversationID(conversationID); err != nil {
		return sendError(conversationID, "invalid_request", err.Error())
	}

	if !r.tryClaimStream(conversationID) {
		return sendError(conversationID, "stream_in_progress", "a response is already streaming for this conversation")
	}
	defer r.releaseStream(conversationID)

	if !isNew {
		existing, err := r.streams.Get(ctx, conversationID)
		if err != nil {
			r.log.Errorw("stream state lookup failed", "conversationId", conversationID, "error", err)
			return sendError(conversationID, "internal_error", "could not check stream state")
		}
		if existing != nil && !existing.Metadata.Completed {
			return sendError(conversationID, "stream_in_progress", "a response is already streaming for this conversation")
		}
	}

	key, err := r.creds.Resolve(ctx, userID, provider)
	if err != nil {
		r.log.Errorw("credential resolution failed", "userId", userID, "provider", provider, "error", err)
		return sendError(conversationID, "credential_error", "no usable API key for this provider")
	}
	if key.NeedsReentry {
		notice := model.UserAPIKeyUpdated{
			Type:      model.EventAPIKeyUpdated,
			UserID:    userID,
			Provider:  provider,
			Action:    "reentry_required",
			Timestamp: nowMillis(),
		}
		if err := r.bus.Publish(ctx, redis.UserChannel(userID), notice); err != nil {
			r.log.Warnw("key reentry notice publish failed", "userId", userID, "error", err)
		}
	}

	title := ""
	if isNew {
		title = r.titles.Generate(ctx, req.Prompt)
		created := model.ConversationCreated{
			Type:           model.EventConvCreated,
			ConversationID: conversationID,
			UserID:         userID,
			Title:          title,
			Timestamp:      nowMillis(),
		}
		if err := r.bus.Publish(ctx, redis.UserChannel(userID), created); err != nil {
			r.log.Warnw("conversation created publish failed", "conversationId", conversationID, "error", err)
		}
	}

	// The producer connection receives chunks directly; marking the
	// conversation active stops the relay from delivering the same chunks
	// a second time off the stream channel.
	if err := conn.Subscribe(redis.StreamChannel(conversationID)); err != nil {
		return sendError(conversationID, "internal_error", "could not attach to stream channel")
	}
	if err := conn.Subscribe(redis.ConversationChannel(conversationID)); err != nil {
		return sendError(conversationID, "internal_error", "could not attach to conversation channel")
	}
	conn.SetActiveConversation(conversationID, true)
	defer conn.SetActiveConversation(conversationID, false)

	client, err := r.llm.Get(provider)
	if err != nil {
		return sendError(conversationID, "config_error", err.Error())
	}

	state := &model.StreamState{
		Chunks:         []string{},
		ThinkingChunks: []string{},
		Metadata: model.StreamMetadata{
			Model:        modelName,
			Provider:     provider,
			Title:        title,
			SystemPrompt: req.SystemPrompt,
			Temperature:  req.Temperature,
			TopP:         req.TopP,
		},
	}
	if err := r.streams.Save(ctx, conversationID, state); err != nil {
		r.log.Errorw("initial stream state save failed", "conversationId", conversationID, "error", err)
		return sendError(conversationID, "internal_error", "could not persist stream state")
	}

	emit := func(ev model.Event) {
		if err := r.bus.Publish(ctx, redis.StreamChannel(conversationID), ev); err != nil {
			r.log.Warnw("chunk publish failed", "conversationId", conversationID, "error", err)
		}
		if err := conn.Send(ev); err != nil {
			r.log.Debugw("direct chunk send failed", "conversationId", conversationID, "error", err)
		}
	}

	started := time.Now()
	var thinkingStarted time.Time
	var thinkingDuration int64

	streamReq := llm.StreamRequest{
		Model:        modelName,
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		TopP:         req.TopP,
		MaxTokens:    req.MaxTokens,
		UserID:       userID,
	}
	// Platform-default requests go through the adapter's memoized client;
	// only user-supplied keys are passed as per-call overrides.
	if !key.IsDefault {
		streamReq.APIKey = key.Key
	}

	streamErr := client.Stream(ctx, streamReq, func(chunk llm.Chunk) error {
		switch {
		case chunk.Thinking != "":
			if thinkingStarted.IsZero() {
				thinkingStarted = time.Now()
			}
			state.ThinkingChunks = append(state.ThinkingChunks, chunk.Thinking)
			emit(model.ChatChunk{
				Type:           model.EventChatChunk,
				ConversationID: conversationID,
				UserID:         userID,
				Provider:       provider,
				Model:          modelName,
				Title:          title,
				SystemPrompt:   req.SystemPrompt,
				Temperature:    req.Temperature,
				TopP:           req.TopP,
				ThinkingText:   chunk.Thinking,
				IsThinking:     true,
			})
		case chunk.Text != "":
			if !thinkingStarted.IsZero() && thinkingDuration == 0 {
				thinkingDuration = time.Since(thinkingStarted).Milliseconds()
			}
			state.Chunks = append(state.Chunks, chunk.Text)
			emit(model.ChatChunk{
				Type:             model.EventChatChunk,
				ConversationID:   conversationID,
				UserID:           userID,
				Provider:         provider,
				Model:            modelName,
				Title:            title,
				SystemPrompt:     req.SystemPrompt,
				Temperature:      req.Temperature,
				TopP:             req.TopP,
				Chunk:            chunk.Text,
				ThinkingDuration: thinkingDuration,
			})
		case len(chunk.InlineData) > 0:
			emit(model.ChatInlineData{
				Type:           model.EventChatInlineData,
				ConversationID: conversationID,
				UserID:         userID,
				Provider:       provider,
				Model:          modelName,
				Data:           base64.StdEncoding.EncodeToString(chunk.InlineData),
			})
		case chunk.Done:
			return nil
		}

		state.Metadata.TotalChunks = len(state.Chunks)
		if err := r.streams.Save(ctx, conversationID, state); err != nil {
			r.log.Warnw("stream state save failed", "conversationId", conversationID, "error", err)
		}
		metrics.LLMChunksTotal.WithLabelValues(string(provider), modelName).Inc()
		return nil
	})

	elapsed := time.Since(started)
	if streamErr != nil {
		metrics.RecordLLMStream(string(provider), modelName, "error", elapsed.Seconds())
		// The buffer stays non-completed so a retry is refused until it
		// expires or the client starts a new conversation.
		if err := r.streams.Save(ctx, conversationID, state); err != nil {
			r.log.Warnw("stream state save failed", "conversationId", conversationID, "error", err)
		}
		code, msg := classifyStreamError(streamErr)
		r.log.Errorw("llm stream failed",
			"conversationId", conversationID, "provider", provider, "model", modelName, "error", streamErr)
		return sendError(conversationID, code, msg)
	}

	if thinkingDuration == 0 && !thinkingStarted.IsZero() {
		thinkingDuration = time.Since(thinkingStarted).Milliseconds()
	}

	state.Metadata.Completed = true
	state.Metadata.TotalChunks = len(state.Chunks)
	if err := r.streams.Save(ctx, conversationID, state); err != nil {
		r.log.Errorw("final stream state save failed", "conversationId", conversationID, "error", err)
	}

	metrics.RecordLLMStream(string(provider), modelName, "ok", elapsed.Seconds())
	final := model.ChatResponse{
		Type:             model.EventChatResponse,
		ConversationID:   conversationID,
		UserID:           userID,
		Provider:         provider,
		Model:            modelName,
		Title:            title,
		SystemPrompt:     req.SystemPrompt,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		Chunk:            strings.Join(state.Chunks, ""),
		ThinkingText:     strings.Join(state.ThinkingChunks, ""),
		ThinkingDuration: thinkingDuration,
		ElapsedMs:        elapsed.Milliseconds(),
		Done:             true,
	}
	emit(final)
	return nil
}

// classifyStreamError maps a stream failure to a client-facing code and a
// message that leaks no upstream internals.
func classifyStreamError(err error) (code, msg string) {
	switch {
	case errors.Is(err, llm.ErrMaxTokensExceeded):
		return "config_error", err.Error()
	case errors.Is(err, context.Canceled):
		return "cancelled", "request cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", "provider request timed out"
	default:
		return "provider_error", "provider request failed"
	}
}
