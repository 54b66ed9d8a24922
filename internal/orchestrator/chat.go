package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dusk-indust/coursegen/internal/course"
	"github.com/dusk-indust/coursegen/internal/stream"
)

// ErrEmptyMessage is returned when a chat message has no text.
var ErrEmptyMessage = errors.New("orchestrator: empty chat message")

// ActionRegenerate is the artifact action that asks the host to regenerate
// a stage with modified instructions.
const ActionRegenerate = "regenerate"

const chatPersistTimeout = 10 * time.Second

// ChatState is the observable state of the conversation.
type ChatState struct {
	Responding    bool   `json:"isResponding"`
	StreamingText string `json:"streamingText"`
}

// Handoff is a request from the assistant to regenerate a stage. The host
// decides whether to act on it.
type Handoff struct {
	Stage        course.StageID `json:"stage"`
	Instructions string         `json:"instructions"`
}

// ChatSession streams assistant replies for one course. It has a single
// turn slot: sending a new message cancels the reply in flight. The reply
// text accumulates in a buffer owned by the turn and becomes a message only
// when the stream reports done.
type ChatSession struct {
	courseID     string
	gen          course.Generator
	convo        course.Conversations
	historyLimit int
	logger       *slog.Logger
	slot         stream.Slot

	mu        sync.Mutex
	messages  []course.Message
	turn      *chatTurn
	last      *chatTurn
	onHandoff func(Handoff)
}

type chatTurn struct {
	token *stream.Token
	step  course.StageID
	base  context.Context
	buf   strings.Builder
	done  chan struct{}
	err   error
}

// NewChatSession creates a chat session. convo may be nil.
func NewChatSession(courseID string, gen course.Generator, convo course.Conversations, historyLimit int, logger *slog.Logger) *ChatSession {
	if logger == nil {
		logger = slog.Default()
	}
	if historyLimit <= 0 {
		historyLimit = DefaultConfig().HistoryLimit
	}
	return &ChatSession{
		courseID:     courseID,
		gen:          gen,
		convo:        convo,
		historyLimit: historyLimit,
		logger:       logger.With("component", "chat"),
	}
}

// OnHandoff registers the callback invoked when the assistant emits a
// regenerate artifact. It runs on the stream goroutine.
func (cs *ChatSession) OnHandoff(fn func(Handoff)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.onHandoff = fn
}

// Load replaces the local history with the stored conversation.
func (cs *ChatSession) Load(ctx context.Context) error {
	if cs.convo == nil {
		return nil
	}
	msgs, err := cs.convo.Messages(ctx, cs.courseID)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	cs.messages = msgs
	cs.mu.Unlock()
	return nil
}

// Send starts a new turn about step. Any reply still streaming is canceled
// and its partial text discarded.
func (cs *ChatSession) Send(ctx context.Context, step course.StageID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if !step.Valid() {
		step = course.StageOne
	}

	cs.mu.Lock()
	if old := cs.turn; old != nil {
		old.err = ErrAborted
		cs.logger.Info("canceling previous reply", "token", old.token.ID())
	}
	req := course.ChatRequest{
		CourseID: cs.courseID,
		Message:  text,
		Step:     step,
		History:  cs.historyLocked(step),
	}
	userMsg := course.NewMessage(course.RoleUser, step, text)
	cs.messages = append(cs.messages, userMsg)

	t := &chatTurn{
		token: cs.slot.Replace(ctx),
		step:  step,
		base:  context.WithoutCancel(ctx),
		done:  make(chan struct{}),
	}
	cs.turn = t
	cs.last = t
	cs.mu.Unlock()

	go cs.drive(t, req, userMsg)
	return nil
}

// historyLocked returns up to historyLimit most recent messages of step.
func (cs *ChatSession) historyLocked(step course.StageID) []course.Message {
	var same []course.Message
	for _, m := range cs.messages {
		if m.Step == step && m.Role != course.RoleSystem {
			same = append(same, m)
		}
	}
	if len(same) > cs.historyLimit {
		same = same[len(same)-cs.historyLimit:]
	}
	return same
}

func (cs *ChatSession) drive(t *chatTurn, req course.ChatRequest, userMsg course.Message) {
	defer close(t.done)
	cs.persist(t, userMsg)

	body, err := cs.gen.StreamChat(t.token.Context(), req)
	if err != nil {
		cs.settle(t, err.Error())
		return
	}

	for ev := range stream.ReadEvents(t.token.Context(), body, stream.DecodeChat, stream.WithLogger(cs.logger)) {
		finished, handoff, reply := cs.apply(t, ev)
		if handoff != nil {
			cs.handoff(*handoff)
		}
		if reply != nil {
			cs.persist(t, *reply)
		}
		if finished {
			t.token.Cancel()
			cs.settle(t, "reply ended unexpectedly")
			return
		}
	}
	cs.settle(t, "reply ended unexpectedly")
}

// apply handles one event. It returns whether the turn is over, a handoff
// to dispatch and a finished reply to persist.
func (cs *ChatSession) apply(t *chatTurn, ev stream.Event) (bool, *Handoff, *course.Message) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.turn != t || t.token.Canceled() {
		return true, nil, nil
	}

	switch ev.Kind {
	case stream.KindChunk:
		t.buf.WriteString(ev.Text)
	case stream.KindArtifact:
		stage := course.StageID(ev.Stage)
		if ev.Action != ActionRegenerate || !stage.Valid() {
			cs.logger.Debug("ignoring artifact", "action", ev.Action, "stage", ev.Stage)
			return false, nil, nil
		}
		return false, &Handoff{Stage: stage, Instructions: ev.Instructions}, nil
	case stream.KindDone:
		if t.buf.Len() == 0 {
			cs.logger.Debug("assistant reply was empty")
			cs.endLocked(t, nil)
			return true, nil, nil
		}
		msg := course.NewMessage(course.RoleAssistant, t.step, t.buf.String())
		cs.messages = append(cs.messages, msg)
		cs.endLocked(t, nil)
		return true, nil, &msg
	case stream.KindError:
		msg := ev.Message
		if msg == "" {
			msg = "unknown error"
		}
		cs.failLocked(t, msg)
		return true, nil, nil
	}
	return false, nil, nil
}

// settle ends a turn whose stream stopped without a terminal event.
func (cs *ChatSession) settle(t *chatTurn, msg string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.turn != t {
		return
	}
	if t.token.Canceled() {
		cs.endLocked(t, ErrAborted)
		return
	}
	cs.failLocked(t, msg)
}

// failLocked discards the partial reply and records a visible failure.
func (cs *ChatSession) failLocked(t *chatTurn, msg string) {
	cs.logger.Warn("assistant reply failed", "error", msg)
	cs.messages = append(cs.messages, course.NewMessage(course.RoleSystem, t.step, "AI reply failed: "+msg))
	cs.endLocked(t, errors.New("orchestrator: chat: "+msg))
}

func (cs *ChatSession) endLocked(t *chatTurn, err error) {
	t.err = err
	t.buf.Reset()
	cs.turn = nil
	cs.slot.Release(t.token)
}

func (cs *ChatSession) handoff(h Handoff) {
	cs.mu.Lock()
	fn := cs.onHandoff
	cs.mu.Unlock()
	if fn == nil {
		cs.logger.Info("no handoff handler registered", "stage", int(h.Stage))
		return
	}
	fn(h)
}

// persist appends msg to the stored conversation. Failures are logged.
func (cs *ChatSession) persist(t *chatTurn, msg course.Message) {
	if cs.convo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(t.base, chatPersistTimeout)
	defer cancel()
	if err := cs.convo.AppendMessages(ctx, cs.courseID, msg); err != nil {
		cs.logger.Warn("persisting chat message failed", "role", string(msg.Role), "error", err)
	}
}

// Abort cancels the reply in flight, discarding its partial text. It
// reports whether a reply was streaming.
func (cs *ChatSession) Abort() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	t := cs.turn
	if t == nil {
		return false
	}
	cs.endLocked(t, ErrAborted)
	return true
}

// Wait blocks until the most recent turn ends and returns its outcome.
func (cs *ChatSession) Wait(ctx context.Context) error {
	cs.mu.Lock()
	t := cs.last
	cs.mu.Unlock()
	if t == nil {
		return nil
	}
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return t.err
}

// State returns whether a reply is streaming and its text so far.
func (cs *ChatSession) State() ChatState {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.turn == nil {
		return ChatState{}
	}
	return ChatState{Responding: true, StreamingText: cs.turn.buf.String()}
}

// Messages returns a copy of the conversation.
func (cs *ChatSession) Messages() []course.Message {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]course.Message(nil), cs.messages...)
}

// Clear cancels any reply and deletes the conversation.
func (cs *ChatSession) Clear(ctx context.Context) error {
	cs.Abort()
	cs.mu.Lock()
	cs.messages = nil
	cs.mu.Unlock()
	if cs.convo == nil {
		return nil
	}
	return cs.convo.ClearMessages(ctx, cs.courseID)
}
