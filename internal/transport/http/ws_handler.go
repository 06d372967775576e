package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"ad-engagement-service/internal/app"
	"ad-engagement-service/internal/auth"
	"ad-engagement-service/internal/domain"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	service  *app.EngagementService
	verifier *auth.Verifier
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.EngagementService, verifier *auth.Verifier) *WSHandler {
	return &WSHandler{
		service:  service,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type completePayload struct {
	Trigger domain.CompletionTrigger `json:"trigger"`
}

type answerResult struct {
	Correct bool   `json:"correct"`
	Error   string `json:"error,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

const msgClosed = "closed"

// ServeWS upgrades the request and runs one ad session over the connection.
// The session is discarded when the connection goes away.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	viewer, err := h.verifier.FromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	query := r.URL.Query()
	req := app.OpenRequest{
		AdID:   query.Get("adId"),
		Filter: domain.DisplayFilter{Format: domain.Format(query.Get("format"))},
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	session, err := h.service.Open(r.Context(), viewer, req)
	if err != nil {
		if !errors.Is(err, domain.ErrNoAds) {
			log.Printf("open ad session for %s: %v", viewer.ID, err)
		}
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		_ = conn.WriteJSON(outboundMessage[any]{Type: msgClosed})
		return
	}
	defer h.service.Close(session.ID())

	updates, cancel, err := session.Subscribe()
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				break
			}
			if msg.Type == msgClosed {
				break
			}
		}
		// unblock the reader, then discard whatever is still queued
		conn.Close()
		for range send {
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					// the session ended on its own (skip, hold window elapsed)
					select {
					case send <- outboundMessage[any]{Type: msgClosed}:
					case <-closeSignals:
					}
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "snapshot", Payload: snap}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if reply, ok := h.dispatch(r, session, inbound); ok {
			send <- reply
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// dispatch applies one viewer action. State changes reach the client as snapshots,
// so only errors and answer results produce a direct reply.
func (h *WSHandler) dispatch(r *http.Request, session *app.Session, inbound inboundMessage) (outboundMessage[any], bool) {
	var err error
	switch inbound.Type {
	case "skip":
		err = session.Skip()
	case "complete":
		payload := completePayload{Trigger: domain.TriggerAcknowledged}
		if len(inbound.Payload) > 0 {
			if jsonErr := json.Unmarshal(inbound.Payload, &payload); jsonErr != nil {
				return errorMessage("invalid complete payload"), true
			}
		}
		err = session.Complete(payload.Trigger)
	case "claim":
		err = session.RequestReward(r.Context())
	case "decline":
		err = session.DeclineReward()
	case "retry":
		err = session.RetryReward(r.Context())
	case "draft":
		var submission domain.Submission
		if jsonErr := json.Unmarshal(inbound.Payload, &submission); jsonErr != nil {
			return errorMessage("invalid draft payload"), true
		}
		err = session.UpdateDraft(submission)
	case "answer":
		var submission domain.Submission
		if jsonErr := json.Unmarshal(inbound.Payload, &submission); jsonErr != nil {
			return errorMessage("invalid answer payload"), true
		}
		correct, submitErr := session.SubmitAnswer(r.Context(), submission)
		if submitErr != nil && !errors.Is(submitErr, domain.ErrLedgerCallFailed) {
			return errorMessage(submitErr.Error()), true
		}
		result := answerResult{Correct: correct}
		if submitErr != nil {
			result.Error = submitErr.Error()
		}
		return outboundMessage[any]{Type: "answerResult", Payload: result}, true
	default:
		return errorMessage("unsupported message type"), true
	}
	if err != nil {
		return errorMessage(err.Error()), true
	}
	return outboundMessage[any]{}, false
}

func errorMessage(msg string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
}
