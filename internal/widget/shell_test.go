package widget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/embedchat/internal/model/chat"
	"github.com/zhouzirui/embedchat/internal/model/embed"
	"github.com/zhouzirui/embedchat/internal/service/session"
	"github.com/zhouzirui/embedchat/internal/transport"
)

type fakeClient struct {
	mu       sync.Mutex
	history  []chat.Message
	fetches  int
	resets   int
	sent     []string
	sendErr  error
	fetchErr error
}

func (f *fakeClient) FetchHistory(_ context.Context, _ embed.Settings, _ string) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]chat.Message(nil), f.history...), nil
}

func (f *fakeClient) ResetSession(_ context.Context, _ embed.Settings, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.history = nil
	return nil
}

func (f *fakeClient) SendMessage(_ context.Context, _ embed.Settings, _ string, content string, handle transport.StreamHandler) (chat.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, content)
	sendErr := f.sendErr
	f.mu.Unlock()

	if sendErr != nil {
		return chat.Message{}, sendErr
	}
	frame := transport.ChatResult{UUID: "r1", Type: transport.ResultChunk, TextResponse: "ok", Close: true}
	if handle != nil {
		if err := handle(frame); err != nil {
			return chat.Message{}, err
		}
	}
	reply := chat.AssistantMessage("ok")
	reply.UUID = "r1"
	return reply, nil
}

func (f *fakeClient) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func testSettings(extra map[string]string) embed.Settings {
	attrs := map[string]string{
		"base-api-url": "http://api.test/api/embed",
		"embed-id":     "e1",
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return embed.Resolve(attrs, nil)
}

func newTestShell(t *testing.T, settings embed.Settings, client transport.Client, opts ...Option) *Shell {
	t.Helper()
	provider := session.NewProvider(session.NewMemoryStore())
	shell := New(settings, provider, client, opts...)
	t.Cleanup(shell.Unmount)
	return shell
}

func runShell(t *testing.T, shell *Shell) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = shell.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestBootRequiresLoadedSettings(t *testing.T) {
	shell := newTestShell(t, embed.Settings{}, &fakeClient{})

	err := shell.Boot(context.Background())
	assert.ErrorIs(t, err, ErrNotLoaded)
	assert.Empty(t, shell.SessionID())

	_, err = shell.Open(context.Background())
	assert.ErrorIs(t, err, ErrNotBooted)
}

func TestBootReusesStoredSession(t *testing.T) {
	store := session.NewMemoryStore()
	settings := testSettings(nil)

	first := New(settings, session.NewProvider(store), &fakeClient{})
	defer first.Unmount()
	require.NoError(t, first.Boot(context.Background()))

	second := New(settings, session.NewProvider(store), &fakeClient{})
	defer second.Unmount()
	require.NoError(t, second.Boot(context.Background()))

	assert.NotEmpty(t, first.SessionID())
	assert.Equal(t, first.SessionID(), second.SessionID())

	stored, ok, err := store.Get(context.Background(), "allm_e1_session_id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first.SessionID(), stored)
}

func TestBootOpensOnLoad(t *testing.T) {
	client := &fakeClient{history: []chat.Message{chat.UserMessage("earlier")}}

	closed := newTestShell(t, testSettings(nil), client)
	require.NoError(t, closed.Boot(context.Background()))
	assert.False(t, closed.IsOpen())

	open := newTestShell(t, testSettings(map[string]string{"open-on-load": "on"}), client)
	require.NoError(t, open.Boot(context.Background()))
	assert.True(t, open.IsOpen())

	assert.Eventually(t, func() bool {
		msgs, loading := open.History()
		return !loading && len(msgs) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestOpenLoadsAndCloseDiscardsHistory(t *testing.T) {
	client := &fakeClient{history: []chat.Message{chat.UserMessage("a"), chat.AssistantMessage("b")}}
	shell := newTestShell(t, testSettings(nil), client)
	require.NoError(t, shell.Boot(context.Background()))

	settled, err := shell.Open(context.Background())
	require.NoError(t, err)
	<-settled

	msgs, loading := shell.History()
	assert.False(t, loading)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Content)

	shell.Close()
	assert.False(t, shell.IsOpen())
	msgs, _ = shell.History()
	assert.Nil(t, msgs)

	require.NoError(t, shell.Toggle(context.Background()))
	assert.True(t, shell.IsOpen())
	require.NoError(t, shell.Toggle(context.Background()))
	assert.False(t, shell.IsOpen())

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, 2, client.fetches)
}

func TestOpenObserverSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []bool
	shell := newTestShell(t, testSettings(nil), &fakeClient{}, WithOpenObserver(func(open bool) {
		mu.Lock()
		seen = append(seen, open)
		mu.Unlock()
	}))
	require.NoError(t, shell.Boot(context.Background()))

	_, err := shell.Open(context.Background())
	require.NoError(t, err)
	_, err = shell.Open(context.Background())
	require.NoError(t, err)
	shell.Close()
	shell.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, seen)
}

func TestRunSendsAndAppendsTurns(t *testing.T) {
	client := &fakeClient{history: []chat.Message{chat.UserMessage("earlier")}}

	var frames []transport.ChatResult
	var mu sync.Mutex
	shell := newTestShell(t, testSettings(nil), client, WithStreamObserver(func(res transport.ChatResult) error {
		mu.Lock()
		frames = append(frames, res)
		mu.Unlock()
		return nil
	}))
	require.NoError(t, shell.Boot(context.Background()))
	runShell(t, shell)

	require.NoError(t, shell.Send(context.Background(), "hello"))

	require.Eventually(t, func() bool {
		msgs, _ := shell.History()
		return len(msgs) == 3
	}, time.Second, 5*time.Millisecond)

	msgs, _ := shell.History()
	assert.Equal(t, "earlier", msgs[0].Content)
	assert.Equal(t, chat.RoleUser, msgs[1].Role)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, chat.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "r1", msgs[2].UUID)

	assert.Equal(t, []string{"hello"}, client.sentMessages())
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, frames, 1)
}

func TestSendFailureIsReported(t *testing.T) {
	boom := errors.New("boom")
	client := &fakeClient{sendErr: boom}

	errs := make(chan error, 1)
	shell := newTestShell(t, testSettings(nil), client, WithErrorObserver(func(err error) { errs <- err }))
	require.NoError(t, shell.Boot(context.Background()))
	runShell(t, shell)

	require.NoError(t, shell.Send(context.Background(), "hello"))

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("send failure was not reported")
	}

	msgs, _ := shell.History()
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
}

func TestSummarizeDispatchesFirstDefaultMessage(t *testing.T) {
	client := &fakeClient{}
	settings := testSettings(map[string]string{"default-messages": "Summarize this page"})
	shell := newTestShell(t, settings, client)
	require.NoError(t, shell.Boot(context.Background()))

	shortcuts := NewShortcuts(settings, shell, shell)
	require.NoError(t, shortcuts.Summarize(context.Background()))

	require.Len(t, shell.commands, 1)
	assert.Equal(t, SendText{Text: "Summarize this page"}, <-shell.commands)
	assert.Empty(t, shell.commands)
}

func TestSummarizeUsesFirstOfMany(t *testing.T) {
	client := &fakeClient{}
	settings := testSettings(map[string]string{"default-messages": `["first","second"]`})
	shell := newTestShell(t, settings, client)
	require.NoError(t, shell.Boot(context.Background()))
	runShell(t, shell)

	require.NoError(t, NewShortcuts(settings, shell, shell).Summarize(context.Background()))

	assert.Eventually(t, func() bool {
		return len(client.sentMessages()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"first"}, client.sentMessages())
}

func TestSummarizeWithoutDefaults(t *testing.T) {
	shell := newTestShell(t, testSettings(nil), &fakeClient{})

	err := NewShortcuts(shell.Settings(), shell, shell).Summarize(context.Background())
	assert.ErrorIs(t, err, ErrNoDefaultMessage)
	assert.Empty(t, shell.commands)
}

func TestResetClearsOpenWindow(t *testing.T) {
	client := &fakeClient{history: []chat.Message{chat.UserMessage("a")}}
	shell := newTestShell(t, testSettings(nil), client)
	require.NoError(t, shell.Boot(context.Background()))

	settled, err := shell.Open(context.Background())
	require.NoError(t, err)
	<-settled

	require.NoError(t, NewShortcuts(shell.Settings(), shell, shell).Reset(context.Background()))

	msgs, loading := shell.History()
	assert.False(t, loading)
	assert.Empty(t, msgs)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, 1, client.resets)
}

// gatedClient holds the first reply until released.
type gatedClient struct {
	*fakeClient
	once    sync.Once
	sending chan struct{}
	release chan struct{}
}

func (g *gatedClient) SendMessage(ctx context.Context, settings embed.Settings, sessionID, content string, handle transport.StreamHandler) (chat.Message, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.sending)
		select {
		case <-g.release:
		case <-ctx.Done():
			return chat.Message{}, ctx.Err()
		}
	}
	reply, err := g.fakeClient.SendMessage(ctx, settings, sessionID, content, handle)
	reply.Content = "reply to " + content
	return reply, err
}

func TestResetDuringReplyDropsStaleReply(t *testing.T) {
	client := &gatedClient{
		fakeClient: &fakeClient{},
		sending:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	shell := newTestShell(t, testSettings(nil), client)
	require.NoError(t, shell.Boot(context.Background()))
	settled, err := shell.Open(context.Background())
	require.NoError(t, err)
	<-settled
	runShell(t, shell)

	require.NoError(t, shell.Send(context.Background(), "old question"))
	select {
	case <-client.sending:
	case <-time.After(time.Second):
		t.Fatal("message was not sent")
	}

	require.NoError(t, shell.Reset(context.Background()))
	msgs, _ := shell.History()
	assert.Empty(t, msgs)

	close(client.release)
	require.NoError(t, shell.Send(context.Background(), "new question"))

	require.Eventually(t, func() bool {
		msgs, _ := shell.History()
		return len(msgs) == 2
	}, time.Second, 5*time.Millisecond)

	msgs, _ = shell.History()
	assert.Equal(t, "new question", msgs[0].Content)
	assert.Equal(t, "reply to new question", msgs[1].Content)
	for _, msg := range msgs {
		assert.NotEqual(t, "reply to old question", msg.Content)
	}
}

func TestResetWithClosedWindow(t *testing.T) {
	client := &fakeClient{}
	shell := newTestShell(t, testSettings(nil), client)

	assert.ErrorIs(t, shell.Reset(context.Background()), ErrNotBooted)

	require.NoError(t, shell.Boot(context.Background()))
	require.NoError(t, shell.Reset(context.Background()))

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, 1, client.resets)
}

func TestUnmountStopsShell(t *testing.T) {
	shell := New(testSettings(nil), session.NewProvider(session.NewMemoryStore()), &fakeClient{})
	require.NoError(t, shell.Boot(context.Background()))
	_, err := shell.Open(context.Background())
	require.NoError(t, err)
	shell.Menu().Show(Region{Width: 10, Height: 10})

	done := make(chan error, 1)
	go func() { done <- shell.Run(context.Background()) }()

	shell.Unmount()
	shell.Unmount()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}

	assert.False(t, shell.IsOpen())
	assert.Zero(t, shell.Outside().Active())
	assert.ErrorIs(t, shell.Send(context.Background(), "late"), ErrUnmounted)
	assert.ErrorIs(t, shell.Boot(context.Background()), ErrUnmounted)
}

func TestUnmountHidesMenuOfClosedWindow(t *testing.T) {
	shell := New(testSettings(nil), session.NewProvider(session.NewMemoryStore()), &fakeClient{})
	require.NoError(t, shell.Boot(context.Background()))
	shell.Menu().Show(Region{Width: 10, Height: 10})
	require.True(t, shell.Menu().Shown())
	require.False(t, shell.IsOpen())

	shell.Unmount()

	assert.False(t, shell.Menu().Shown())
	assert.Zero(t, shell.Outside().Active())
}

func TestSponsorAndIcon(t *testing.T) {
	shell := newTestShell(t, testSettings(map[string]string{"chat-icon": "rocket"}), &fakeClient{})
	text, link, ok := shell.Sponsor()
	assert.True(t, ok)
	assert.Equal(t, embed.DefaultSponsorText, text)
	assert.Equal(t, embed.DefaultSponsorLink, link)
	assert.Equal(t, embed.IconPlus, shell.Icon())

	hidden := newTestShell(t, testSettings(map[string]string{"no-sponsor": "true", "chat-icon": "support"}), &fakeClient{})
	_, _, ok = hidden.Sponsor()
	assert.False(t, ok)
	assert.Equal(t, embed.IconSupport, hidden.Icon())
}
