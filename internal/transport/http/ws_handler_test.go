package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ad-engagement-service/internal/app"
	"ad-engagement-service/internal/auth"
	"ad-engagement-service/internal/domain"
	"ad-engagement-service/internal/infra/memory"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
)

const testSecret = "test-secret"

func TestWebSocketRewardFlow(t *testing.T) {
	ledger := &countingLedger{}
	store := memory.NewSessionStore()
	server := newTestServer(t, store, ledger)
	defer server.Close()

	conn := dial(t, server, "adId=ad-1")
	defer conn.Close()

	snap := readSnapshot(t, conn, func(s map[string]any) bool { return s["state"] == string(domain.StateViewing) })
	if snap["adId"] != "ad-1" {
		t.Fatalf("expected ad-1, got %v", snap["adId"])
	}

	send(t, conn, "complete", map[string]any{"trigger": "acknowledged"})
	readSnapshot(t, conn, func(s map[string]any) bool { return s["state"] == string(domain.StateRewardPrompted) })

	send(t, conn, "claim", nil)
	snap = readSnapshot(t, conn, func(s map[string]any) bool { return s["state"] == string(domain.StateQuizActive) })
	quizView, _ := snap["quiz"].(map[string]any)
	question, _ := quizView["question"].(map[string]any)
	if question["question"] != "What is 2 + 2?" {
		t.Fatalf("unexpected quiz %v", snap["quiz"])
	}
	if _, leaked := question["answer"]; leaked {
		t.Fatalf("quiz question leaked its answer: %v", question)
	}

	send(t, conn, "answer", map[string]any{"selectedOption": 1})
	var answered, rewarded bool
	for typ := ""; typ != "closed"; {
		var payload map[string]any
		typ, payload = readNext(t, conn)
		switch typ {
		case "answerResult":
			answered = payload["correct"] == true
		case "snapshot":
			rewarded = rewarded || payload["state"] == string(domain.StateRewarded)
		}
	}
	if !answered || !rewarded {
		t.Fatalf("expected correct answer and rewarded state, got answered=%v rewarded=%v", answered, rewarded)
	}

	if ledger.total() != 50 {
		t.Fatalf("expected 50 credited, got %d", ledger.total())
	}
	waitFor(t, func() bool { return store.Len() == 0 })
}

func TestWebSocketRejectsEarlySkip(t *testing.T) {
	store := memory.NewSessionStore()
	server := newTestServer(t, store, &countingLedger{})
	defer server.Close()

	conn := dial(t, server, "adId=ad-1")
	readSnapshot(t, conn, func(s map[string]any) bool { return s["state"] == string(domain.StateViewing) })

	send(t, conn, "skip", nil)
	payload := readType(t, conn, "error")
	if !strings.Contains(payload["message"].(string), "skip") {
		t.Fatalf("expected skip error, got %v", payload)
	}

	send(t, conn, "dance", nil)
	readType(t, conn, "error")

	// navigating away discards the session
	conn.Close()
	waitFor(t, func() bool { return store.Len() == 0 })
}

func TestWebSocketUnknownAd(t *testing.T) {
	server := newTestServer(t, memory.NewSessionStore(), &countingLedger{})
	defer server.Close()

	conn := dial(t, server, "adId=missing")
	defer conn.Close()
	payload := readType(t, conn, "error")
	if payload["message"] != domain.ErrNoAds.Error() {
		t.Fatalf("expected no ads error, got %v", payload)
	}
	readType(t, conn, "closed")
}

func TestWebSocketRequiresToken(t *testing.T) {
	server := newTestServer(t, memory.NewSessionStore(), &countingLedger{})
	defer server.Close()

	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?adId=ad-1"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

type countingLedger struct {
	mu      sync.Mutex
	credits int
}

func (l *countingLedger) CreditReward(_ context.Context, claim domain.RewardClaim) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credits += claim.Amount
	return nil
}

func (l *countingLedger) total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credits
}

func newTestServer(t *testing.T, store *memory.SessionStore, ledger app.Ledger) *httptest.Server {
	t.Helper()
	cfg := app.DefaultSessionConfig()
	cfg.RewardProbability = 1
	cfg.SuccessHold = 50 * time.Millisecond
	cfg.FailureHold = 50 * time.Millisecond

	service := app.NewEngagementService(store, memory.NewStaticCatalog(sampleAds()), nil, ledger, nil,
		app.WithSessionConfig(cfg))
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(service, auth.NewVerifier(testSecret)).ServeWS)
	NewQuizHandler(service, nil).Register(mux)
	return httptest.NewServer(mux)
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + query + "&token=" + signToken(t, "viewer-1")
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func readNext(t *testing.T, conn *websocket.Conn) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	return msg.Type, msg.Payload
}

// readType skips snapshots until a message of the given type arrives.
func readType(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	for {
		typ, payload := readNext(t, conn)
		if typ == want {
			return payload
		}
		if typ != "snapshot" {
			t.Fatalf("expected %s, got %s %v", want, typ, payload)
		}
	}
}

func readSnapshot(t *testing.T, conn *websocket.Conn, match func(map[string]any) bool) map[string]any {
	t.Helper()
	for {
		typ, payload := readNext(t, conn)
		if typ != "snapshot" {
			t.Fatalf("expected snapshot, got %s %v", typ, payload)
		}
		if match(payload) {
			return payload
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func sampleAds() []domain.Ad {
	return []domain.Ad{
		{
			ID:     "ad-1",
			Title:  "Arithmetic",
			Format: domain.FormatBanner,
			Reward: 50,
			Active: true,
			Quiz: []domain.QuizQuestion{
				{Question: "What is 2 + 2?", Type: domain.QuestionMultiple, Options: []string{"3", "4", "5"}, Correct: 1},
			},
		},
		{
			ID:     "ad-2",
			Title:  "Capitals",
			Format: domain.FormatRegular,
			Reward: 10,
			Active: true,
			Quiz: []domain.QuizQuestion{
				{Question: "Capital of France?", Type: domain.QuestionShort, Answer: "Paris"},
			},
		},
	}
}
