package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chat-quiz-service/internal/domain"
)

func TestDispatcherKeepsPerChatOrder(t *testing.T) {
	gw := &recordingGateway{}
	d := NewDispatcher(gw, 4, 256, nil)

	for i := 0; i < 50; i++ {
		for _, chatID := range []string{"a", "b", "c"} {
			d.Dispatch(Delivery{Kind: DeliverQuestion, ChatID: chatID, Prompt: domain.Prompt{QuestionIndex: i}})
		}
	}
	d.Dispatch(Delivery{Kind: DeliverResult, ChatID: "a"})
	d.Close()

	for _, chatID := range []string{"a", "b", "c"} {
		indices := gw.questions(chatID)
		if len(indices) != 50 {
			t.Fatalf("chat %s: expected 50 questions, got %d", chatID, len(indices))
		}
		for i, idx := range indices {
			if idx != i {
				t.Fatalf("chat %s: question %d delivered at position %d", chatID, idx, i)
			}
		}
	}
	if gw.resultCount("a") != 1 {
		t.Fatalf("expected one result for chat a")
	}
}

func TestDispatcherDropsWhenQueueIsFull(t *testing.T) {
	gw := &recordingGateway{started: make(chan struct{}, 1), unblock: make(chan struct{})}
	d := NewDispatcher(gw, 1, 1, nil)

	d.Dispatch(Delivery{Kind: DeliverQuestion, ChatID: "a", Prompt: domain.Prompt{QuestionIndex: 0}})
	select {
	case <-gw.started:
	case <-time.After(time.Second):
		t.Fatalf("worker never picked up the first delivery")
	}
	// one fits in the buffer, the next one is dropped
	d.Dispatch(
		Delivery{Kind: DeliverQuestion, ChatID: "a", Prompt: domain.Prompt{QuestionIndex: 1}},
		Delivery{Kind: DeliverQuestion, ChatID: "a", Prompt: domain.Prompt{QuestionIndex: 2}},
	)
	close(gw.unblock)
	d.Close()

	got := gw.questions("a")
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("expected questions [0 1], got %v", got)
	}
}

func TestDispatcherWaitsForRoomForResults(t *testing.T) {
	gw := &recordingGateway{started: make(chan struct{}, 1), unblock: make(chan struct{})}
	d := NewDispatcher(gw, 1, 1, nil)
	d.resultWait = 5 * time.Second

	d.Dispatch(Delivery{Kind: DeliverQuestion, ChatID: "a", Prompt: domain.Prompt{QuestionIndex: 0}})
	select {
	case <-gw.started:
	case <-time.After(time.Second):
		t.Fatalf("worker never picked up the first delivery")
	}
	d.Dispatch(Delivery{Kind: DeliverQuestion, ChatID: "a", Prompt: domain.Prompt{QuestionIndex: 1}})

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Dispatch(Delivery{Kind: DeliverResult, ChatID: "a"})
	}()
	select {
	case <-done:
		t.Fatalf("result was not held back by the full queue")
	case <-time.After(50 * time.Millisecond):
	}
	close(gw.unblock)
	<-done
	d.Close()

	if gw.resultCount("a") != 1 {
		t.Fatalf("expected the result to be delivered after the queue drained")
	}
}

func TestDispatcherDropsResultAfterWaiting(t *testing.T) {
	gw := &recordingGateway{started: make(chan struct{}, 1), unblock: make(chan struct{})}
	d := NewDispatcher(gw, 1, 1, nil)
	d.resultWait = 10 * time.Millisecond

	d.Dispatch(Delivery{Kind: DeliverQuestion, ChatID: "a"})
	<-gw.started
	d.Dispatch(Delivery{Kind: DeliverQuestion, ChatID: "a"}, Delivery{Kind: DeliverResult, ChatID: "a"})
	close(gw.unblock)
	d.Close()

	if gw.resultCount("a") != 0 {
		t.Fatalf("expected the result to be dropped once the wait ran out")
	}
}

func TestDispatcherSurvivesGatewayErrorsAndIgnoresDispatchAfterClose(t *testing.T) {
	gw := &recordingGateway{err: errors.New("chat unreachable")}
	d := NewDispatcher(gw, 2, 8, nil)
	d.Dispatch(Delivery{Kind: DeliverQuestion, ChatID: "a"}, Delivery{Kind: DeliverResult, ChatID: "a"})
	d.Close()
	d.Close()
	d.Dispatch(Delivery{Kind: DeliverQuestion, ChatID: "a"})

	if n := len(gw.questions("a")); n != 1 {
		t.Fatalf("expected one attempted question, got %d", n)
	}
}

type recordingGateway struct {
	err     error
	started chan struct{}
	unblock chan struct{}

	mu       sync.Mutex
	prompts  map[string][]int
	resultsN map[string]int
}

func (g *recordingGateway) SendQuestion(_ context.Context, chatID string, prompt domain.Prompt) error {
	if g.started != nil {
		select {
		case g.started <- struct{}{}:
		default:
		}
	}
	if g.unblock != nil {
		<-g.unblock
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.prompts == nil {
		g.prompts = make(map[string][]int)
	}
	g.prompts[chatID] = append(g.prompts[chatID], prompt.QuestionIndex)
	return g.err
}

func (g *recordingGateway) SendResult(_ context.Context, chatID string, _ []domain.Attempt) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resultsN == nil {
		g.resultsN = make(map[string]int)
	}
	g.resultsN[chatID]++
	return g.err
}

func (g *recordingGateway) questions(chatID string) []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int(nil), g.prompts[chatID]...)
}

func (g *recordingGateway) resultCount(chatID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resultsN[chatID]
}

func TestGatewaysDeliverToAll(t *testing.T) {
	failing := &recordingGateway{err: errors.New("queue down")}
	healthy := &recordingGateway{}
	gws := Gateways{failing, healthy}

	err := gws.SendQuestion(context.Background(), "a", domain.Prompt{QuestionIndex: 7})
	if err == nil {
		t.Fatalf("expected the failing gateway's error")
	}
	if got := healthy.questions("a"); len(got) != 1 || got[0] != 7 {
		t.Fatalf("healthy gateway missed the delivery: %v", got)
	}
	if err := (Gateways{healthy}).SendResult(context.Background(), "a", nil); err != nil {
		t.Fatalf("send result: %v", err)
	}
	if healthy.resultCount("a") != 1 {
		t.Fatalf("expected one result")
	}
}

type mutatingGateway struct {
	seen []domain.Attempt
}

func (g *mutatingGateway) SendQuestion(context.Context, string, domain.Prompt) error { return nil }

func (g *mutatingGateway) SendResult(_ context.Context, _ string, attempts []domain.Attempt) error {
	g.seen = append(g.seen, domain.CloneAttempts(attempts)...)
	for i := range attempts {
		attempts[i].Score = -1
		attempts[i].SectionScores["math"] = -1
	}
	return nil
}

func TestGatewaysGiveEachGatewayItsOwnAttempts(t *testing.T) {
	first, second := &mutatingGateway{}, &mutatingGateway{}
	attempts := []domain.Attempt{{ParticipantID: "u1", Score: 2, SectionScores: map[string]float64{"math": 2}}}

	if err := (Gateways{first, second}).SendResult(context.Background(), "a", attempts); err != nil {
		t.Fatalf("send result: %v", err)
	}
	if got := second.seen[0]; got.Score != 2 || got.SectionScores["math"] != 2 {
		t.Fatalf("second gateway saw the first one's changes: %+v", got)
	}
	if attempts[0].Score != 2 || attempts[0].SectionScores["math"] != 2 {
		t.Fatalf("caller's attempts were changed: %+v", attempts[0])
	}
}
