// Package handlers wires the gateway's components (C1–C8) into HTTP
// endpoints, the way the teacher's internal/handlers/proxy.go wires its
// provider registry into one ProxyHandler — here the upstream is singular,
// so the wiring fans out across dedicated per-concern handlers instead of
// one provider-dispatching handler.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"

	"github.com/poe2oai/gateway/internal/apierror"
	"github.com/poe2oai/gateway/internal/assembler"
	"github.com/poe2oai/gateway/internal/attachments"
	"github.com/poe2oai/gateway/internal/config"
	"github.com/poe2oai/gateway/internal/emit"
	"github.com/poe2oai/gateway/internal/middleware"
	"github.com/poe2oai/gateway/internal/poeclient"
	"github.com/poe2oai/gateway/internal/poetypes"
	"github.com/poe2oai/gateway/internal/toolcalls"
	"github.com/poe2oai/gateway/internal/translate"
)

// ChatHandler serves POST /v1/chat/completions and /chat/completions: it
// assembles the upstream request (C3–C5), streams it through the upstream
// client, folds the response through the translation pipeline (C6), and
// renders it via the response emitter (C7).
type ChatHandler struct {
	cfg            *config.Manager
	normalizer     *attachments.Normalizer
	client         *poeclient.Client
	logger         *slog.Logger
	maxRequestSize int64
	countTokens    func(string) uint32
}

func NewChatHandler(cfg *config.Manager, normalizer *attachments.Normalizer, client *poeclient.Client, logger *slog.Logger, maxRequestSize int64) *ChatHandler {
	return &ChatHandler{
		cfg:            cfg,
		normalizer:     normalizer,
		client:         client,
		logger:         logger,
		maxRequestSize: maxRequestSize,
		countTokens:    countTokensCl100k,
	}
}

// countTokensCl100k mirrors the teacher's proxy.go countInputTokens: a
// fresh cl100k_base encoding per call (tiktoken-go caches the BPE data
// itself, so this is cheap after the first call).
func countTokensCl100k(text string) uint32 {
	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0
	}
	return uint32(len(tke.Encode(text, nil, nil)))
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		emit.WriteError(w, apierror.BadRequest("method not allowed"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestSize)

	var req poetypes.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			emit.WriteError(w, apierror.PayloadTooLarge())
			return
		}
		emit.WriteError(w, apierror.ParseError(err.Error()))
		return
	}

	token, _ := middleware.BearerToken(r.Context())

	known, err := toolcalls.Validate(req.Messages)
	if err != nil {
		emit.WriteError(w, apierror.BadRequest(err.Error()))
		return
	}

	normalized, err := h.normalizer.Normalize(r.Context(), req.Messages)
	if err != nil {
		emit.WriteError(w, apierror.AttachmentUploadFailed(err.Error()))
		return
	}
	req.Messages = normalized

	cfg := h.cfg.Get()
	req.Model = assembler.ResolveModel(cfg, req.Model)

	upstreamReq, err := assembler.Assemble(&req, cfg, known, h.logger)
	if err != nil {
		emit.WriteError(w, apierror.BadRequest(err.Error()))
		return
	}
	upstreamReq.UserID = uuid.NewString()
	upstreamReq.ConversationID = uuid.NewString()
	upstreamReq.MessageID = uuid.NewString()

	stream, err := h.client.StreamChat(r.Context(), token, upstreamReq)
	if err != nil {
		h.logger.Error("upstream chat request failed", "error", err)
		emit.WriteError(w, apierror.GenericUpstreamFailure(err.Error()))
		return
	}
	defer stream.Close()

	pipeline := translate.NewPipeline(translate.OutputGenerator{
		ID:           "chatcmpl-" + uuid.NewString(),
		Created:      time.Now().Unix(),
		Model:        req.Model,
		PromptTokens: h.countTokens(promptText(req.Messages)),
		IncludeUsage: req.IncludeUsage(),
		CountTokens:  h.countTokens,
	})

	if req.IsStreaming() {
		h.serveStreaming(w, stream, pipeline)
		return
	}
	h.serveNonStreaming(w, stream, pipeline)
}

// serveStreaming peeks the first upstream event before committing the SSE
// response. If the upstream's very first event is an Error, spec.md §7's
// abort-with-mapped-status scenario (S6: upstream 429 -> HTTP 429 JSON body)
// requires the client see that status code and a plain JSON error body, not
// an HTTP 200 with an SSE error frame. emit.NewStreamer writes the 200 plus
// SSE headers immediately on construction, so the Streamer must not be
// built until the stream is known not to be failing at the start.
func (h *ChatHandler) serveStreaming(w http.ResponseWriter, stream *poeclient.EventStream, pipeline *translate.Pipeline) {
	first, ok, err := stream.Next()
	if err != nil {
		h.logger.Error("upstream stream read failed", "error", err)
		emit.WriteError(w, apierror.GenericUpstreamFailure(err.Error()))
		return
	}
	if ok && first.Type == poetypes.EventError {
		pipeline.Step(first)
		emit.WriteError(w, pipeline.Ctx.Error)
		return
	}

	streamer := emit.NewStreamer(w)
	defer streamer.Close()

	if !ok {
		return
	}

	if !h.stepAndSend(streamer, pipeline, first) {
		return
	}
	if first.Type == poetypes.EventDone || first.Type == poetypes.EventJSON {
		return
	}

	for {
		ev, ok, err := stream.Next()
		if err != nil {
			h.logger.Error("upstream stream read failed", "error", err)
			streamer.SendError(apierror.GenericUpstreamFailure(err.Error()))
			return
		}
		if !ok {
			return
		}

		if !h.stepAndSend(streamer, pipeline, ev) {
			return
		}

		switch ev.Type {
		case poetypes.EventError:
			streamer.SendError(pipeline.Ctx.Error)
			return
		case poetypes.EventDone, poetypes.EventJSON:
			return
		}
	}
}

// stepAndSend folds ev into pipeline and sends any resulting chunks,
// returning false if the client disconnected mid-stream.
func (h *ChatHandler) stepAndSend(streamer *emit.Streamer, pipeline *translate.Pipeline, ev poetypes.Event) bool {
	chunks := pipeline.Step(ev)
	if len(chunks) == 0 {
		return true
	}
	if err := streamer.Send(chunks); err != nil {
		h.logger.Warn("client disconnected mid-stream", "error", err)
		return false
	}
	return true
}

func (h *ChatHandler) serveNonStreaming(w http.ResponseWriter, stream *poeclient.EventStream, pipeline *translate.Pipeline) {
	var events []poetypes.Event

	for {
		ev, ok, err := stream.Next()
		if err != nil {
			h.logger.Error("upstream stream read failed", "error", err)
			emit.WriteError(w, apierror.GenericUpstreamFailure(err.Error()))
			return
		}
		if !ok {
			break
		}

		events = append(events, ev)

		if ev.Type == poetypes.EventDone || ev.Type == poetypes.EventJSON || ev.Type == poetypes.EventError {
			break
		}
	}

	pipeline.Drain(events)

	if pipeline.Ctx.Error != nil {
		emit.WriteError(w, pipeline.Ctx.Error)
		return
	}

	emit.WriteJSON(w, http.StatusOK, emit.NonStreamResponse(pipeline))
}

// promptText concatenates every message's flattened text content for
// prompt token accounting (spec.md §4.7's usage.prompt_tokens).
func promptText(messages []poetypes.Message) string {
	var all []byte
	for _, msg := range messages {
		parts, err := msg.Parts()
		if err != nil {
			continue
		}
		for _, p := range parts {
			if p.Type == poetypes.PartText {
				all = append(all, p.Text...)
				all = append(all, '\n')
			}
		}
	}
	return string(all)
}
