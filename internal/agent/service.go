package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/xbot-ai/xbot/internal/config"
	"github.com/xbot-ai/xbot/internal/events"
	"github.com/xbot-ai/xbot/internal/inbox"
	"github.com/xbot-ai/xbot/internal/models"
	"github.com/xbot-ai/xbot/internal/sessions"
	"github.com/xbot-ai/xbot/internal/soul"
	"github.com/xbot-ai/xbot/internal/tools"
)

const (
	defaultMaxConcurrent = 32
	defaultTaskTimeout   = 600 * time.Second
	sessionQueueDepth    = 64

	// HeartbeatOK is the sentinel output a quiet heartbeat task produces.
	// Delivery is suppressed when the answer is exactly this token.
	HeartbeatOK = "HEARTBEAT_OK"
)

// Options wires the service dependencies.
type Options struct {
	Config   config.AgentConfig
	DataDir  string
	Inbox    *inbox.Inbox
	Registry *tools.Registry
	Models   *models.Registry
	Souls    *soul.Store
	Sessions sessions.Store
	Bus      *events.Bus
	MemoryOn bool
}

// Service consumes the task inbox and runs each envelope through the loop.
// Tasks for different (user, session) pairs run in parallel under a global
// semaphore; each session has its own FIFO queue consumed by one goroutine,
// so same-session tasks run strictly serially in submission order.
type Service struct {
	opts Options

	sem chan struct{}

	mu       sync.Mutex
	queues   map[string]chan *inbox.TaskEnvelope
	enqueued map[string]struct{}
	aborts   map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewService builds the orchestrator service.
func NewService(opts Options) *Service {
	maxConcurrent := opts.Config.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Service{
		opts:     opts,
		sem:      make(chan struct{}, maxConcurrent),
		queues:   make(map[string]chan *inbox.TaskEnvelope),
		enqueued: make(map[string]struct{}),
		aborts:   make(map[string]context.CancelFunc),
	}
}

// Run consumes the inbox until ctx is cancelled. Submissions wake it
// immediately; a slow tick catches yielded background tasks. Cancel events
// from the bus abort the matching running loop.
func (s *Service) Run(ctx context.Context) {
	if s.opts.Bus != nil {
		unsubscribe := s.opts.Bus.Subscribe(func(e events.Event) {
			s.abort(e.TaskID)
		}, events.EventTaskCancelled)
		defer unsubscribe()
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		s.drain(ctx)

		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-s.opts.Inbox.Notify():
		case <-ticker.C:
		}
	}
}

func (s *Service) drain(ctx context.Context) {
	for _, env := range s.opts.Inbox.ListPending(0) {
		if ctx.Err() != nil {
			return
		}

		// Background tasks yield while the user is mid-conversation; they
		// stay pending and the next tick picks them up.
		if backgroundSource(env.Source) && s.opts.Inbox.HasActive(env.UserID, inbox.SourceUserChat) {
			continue
		}

		s.enqueue(ctx, env)
	}
}

func backgroundSource(src inbox.Source) bool {
	return src == inbox.SourceHeartbeat || src == inbox.SourceCron
}

// enqueue hands the envelope to its session queue, starting the session
// consumer on first use. Queue order is assigned here, on the drain's single
// thread, which is what makes same-session completion order match submission
// order.
func (s *Service) enqueue(ctx context.Context, env *inbox.TaskEnvelope) {
	key := env.UserID + "/" + env.SessionID

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.enqueued[env.TaskID]; dup {
		return
	}
	q, ok := s.queues[key]
	if !ok {
		q = make(chan *inbox.TaskEnvelope, sessionQueueDepth)
		s.queues[key] = q
		s.wg.Add(1)
		go s.consume(ctx, q)
	}

	select {
	case q <- env:
		s.enqueued[env.TaskID] = struct{}{}
	default:
		// Queue full; the envelope stays pending for a later pass.
	}
}

func (s *Service) consume(ctx context.Context, q chan *inbox.TaskEnvelope) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-q:
			select {
			case s.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			s.process(ctx, env)
			<-s.sem

			s.mu.Lock()
			delete(s.enqueued, env.TaskID)
			s.mu.Unlock()
		}
	}
}

// abort cancels the loop context of a running task. Unknown ids are fine:
// the task may be pending, finished, or owned by another process.
func (s *Service) abort(taskID string) {
	s.mu.Lock()
	cancel := s.aborts[taskID]
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *Service) process(ctx context.Context, env *inbox.TaskEnvelope) {
	// The envelope may have been taken or cancelled while queued.
	current, err := s.opts.Inbox.Get(env.TaskID)
	if err != nil || current.Status != inbox.StatusPending {
		return
	}

	if _, err := s.opts.Inbox.UpdateStatus(env.TaskID, inbox.StatusRunning, ""); err != nil {
		slog.Error("task start failed", "task", env.TaskID, "error", err)
		return
	}

	runCtx, abort := context.WithCancel(ctx)
	defer abort()
	s.mu.Lock()
	s.aborts[env.TaskID] = abort
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.aborts, env.TaskID)
		s.mu.Unlock()
	}()

	timeout := s.opts.Config.TaskTimeout.Duration()
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	taskCtx, cancel := context.WithTimeout(runCtx, timeout)
	defer cancel()
	taskCtx = events.ContextWithSessionID(taskCtx, env.SessionID)
	taskCtx = events.ContextWithTaskID(taskCtx, env.TaskID)

	answer, err := s.runEnvelope(taskCtx, env)
	if err != nil {
		if errors.Is(err, ErrLoopDetected) {
			if retryErr := s.opts.Inbox.IncrementRetry(env.TaskID); retryErr != nil {
				slog.Error("retry count update failed", "task", env.TaskID, "error", retryErr)
			}
		}
		// A cancel lands on the envelope before the loop unwinds; the
		// terminal transition already happened and Fail has nothing to do.
		if _, failErr := s.opts.Inbox.Fail(env.TaskID, err.Error()); failErr != nil &&
			!errors.Is(failErr, inbox.ErrTerminal) {
			slog.Error("task fail transition failed", "task", env.TaskID, "error", failErr)
		}
		return
	}

	suppressed := env.Source == inbox.SourceHeartbeat && answer == HeartbeatOK
	result := map[string]any{"suppressed": suppressed}
	if _, err := s.opts.Inbox.Complete(env.TaskID, result, answer); err != nil {
		if !errors.Is(err, inbox.ErrTerminal) {
			slog.Error("task complete transition failed", "task", env.TaskID, "error", err)
		}
		return
	}

	if !suppressed && env.RequiresReply {
		s.opts.Bus.Publish(events.NewTaskEvent(events.EventOutgoingMessage, events.SourceAgent,
			events.OutgoingMessagePayload{
				Platform: env.Platform,
				ChatID:   env.UserID,
				Content:  answer,
			}, env.SessionID, env.TaskID))
	}
}

// runEnvelope builds the prompt and history for the envelope and runs the
// loop under the manager identity.
func (s *Service) runEnvelope(ctx context.Context, env *inbox.TaskEnvelope) (string, error) {
	caller := tools.ManagerCaller(env.UserID, s.opts.DataDir)

	tier := models.TierDefault
	if backgroundSource(env.Source) && s.opts.Config.ModelRouting() {
		tier = models.TierFast
	}
	chatModel, err := s.opts.Models.ForTier(ctx, tier)
	if err != nil {
		return "", err
	}
	modelName := s.opts.Models.TierName(tier)

	doc, err := s.opts.Souls.Manager()
	if err != nil {
		return "", err
	}

	infos, err := s.opts.Registry.Declarations(ctx, caller)
	if err != nil {
		return "", err
	}
	// With routing off the manager answers every task itself; the fleet
	// tools disappear from its view.
	if !s.opts.Config.ModelRouting() {
		infos = withoutManagement(infos)
	}

	prompt := ComposePrompt(PromptInput{
		Persona:  doc.Persona,
		MemoryOn: s.opts.MemoryOn && memoryVisible(infos),
		Tools:    infos,
	})

	msgs := []*schema.Message{schema.SystemMessage(prompt)}
	msgs = append(msgs, s.history(env, prompt, infos)...)
	msgs = append(msgs, schema.UserMessage(env.Goal))

	loop := &Loop{
		Model:     chatModel,
		ModelName: modelName,
		Registry:  s.opts.Registry,
		Caller:    caller,
		Tools:     infos,
		Bus:       s.opts.Bus,
		MaxTurns:  s.opts.Config.MaxTurns,
	}

	answer, err := loop.Run(ctx, msgs)
	if err != nil {
		return "", err
	}

	s.record(env, env.Goal, answer)
	return answer, nil
}

func withoutManagement(infos []*schema.ToolInfo) []*schema.ToolInfo {
	kept := make([]*schema.ToolInfo, 0, len(infos))
	for _, info := range infos {
		if tools.InGroup(info.Name, "group:management") {
			continue
		}
		kept = append(kept, info)
	}
	return kept
}

// history loads the session window sized to the model context minus prompt
// and tool declarations.
func (s *Service) history(env *inbox.TaskEnvelope, prompt string, infos []*schema.ToolInfo) []*schema.Message {
	if env.SessionID == "" || s.opts.Sessions == nil {
		return nil
	}
	stored, err := s.opts.Sessions.LoadMessages(env.SessionID)
	if err != nil || len(stored) == 0 {
		return nil
	}

	toolChars := 0
	for _, info := range infos {
		toolChars += len(info.Name) + len(info.Desc) + 64
	}
	budget := sessions.CharBudget(s.opts.Models.DefaultContextWindow(), len(prompt), toolChars)

	window := sessions.Window(stored, budget)
	out := make([]*schema.Message, 0, len(window))
	for _, m := range window {
		out = append(out, m.ToSchemaMessage())
	}
	return out
}

// record appends the exchange to the session log. Best effort; a transcript
// failure never fails the task.
func (s *Service) record(env *inbox.TaskEnvelope, goal, answer string) {
	if env.SessionID == "" || s.opts.Sessions == nil {
		return
	}
	if _, err := s.opts.Sessions.Open(env.SessionID, env.UserID, env.Platform); err != nil {
		slog.Warn("session open failed", "session", env.SessionID, "error", err)
		return
	}
	for _, msg := range []sessions.Message{
		{Role: string(schema.User), Content: goal, TaskID: env.TaskID},
		{Role: string(schema.Assistant), Content: answer, TaskID: env.TaskID},
	} {
		if err := s.opts.Sessions.AppendMessage(env.SessionID, msg); err != nil {
			slog.Warn("session append failed", "session", env.SessionID, "error", err)
			return
		}
	}
}

func memoryVisible(infos []*schema.ToolInfo) bool {
	for _, info := range infos {
		if info.Name == "read_graph" || info.Name == "open_nodes" {
			return true
		}
	}
	return false
}
