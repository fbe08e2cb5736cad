package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	defaultIdleTTL       = 30 * time.Minute
	defaultSweepInterval = 5 * time.Minute
)

var (
	// ErrNoActiveWorkflow means the user has no open session; the input should
	// be handled as an ordinary command.
	ErrNoActiveWorkflow = errors.New("conversation: no active workflow")
	// ErrUnknownWorkflow is returned when Start names an unregistered kind.
	ErrUnknownWorkflow = errors.New("conversation: unknown workflow")
	// ErrSessionInconsistent means the session was discarded because its state
	// or fields could not be trusted.
	ErrSessionInconsistent = errors.New("conversation: session inconsistent")
)

// Session is one user's progress through a workflow.
type Session struct {
	UserID    int64
	Workflow  Kind
	State     State
	Fields    Fields
	UpdatedAt time.Time
}

// Config tunes the session store.
type Config struct {
	// IdleTTL is how long a session survives without input.
	IdleTTL time.Duration
	// SweepInterval is how often expired sessions are purged.
	SweepInterval time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

// Engine keeps at most one open session per user.
type Engine struct {
	mu        sync.Mutex
	sessions  *cache.Cache
	workflows map[Kind]*Workflow
	idleTTL   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates an Engine serving the given workflows.
func NewEngine(cfg Config, workflows ...*Workflow) (*Engine, error) {
	if len(workflows) == 0 {
		return nil, errors.New("conversation: at least one workflow is required")
	}
	byKind := make(map[Kind]*Workflow, len(workflows))
	for _, wf := range workflows {
		if wf == nil {
			return nil, errors.New("conversation: workflow must not be nil")
		}
		if _, dup := byKind[wf.kind]; dup {
			return nil, fmt.Errorf("conversation: workflow %s registered twice", wf.kind)
		}
		byKind[wf.kind] = wf
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	e := &Engine{
		sessions:  cache.New(cfg.IdleTTL, cfg.SweepInterval),
		workflows: byKind,
		idleTTL:   cfg.IdleTTL,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	e.sessions.OnEvicted(func(key string, v interface{}) {
		s, ok := v.(Session)
		if !ok {
			return
		}
		e.logger.Debug("conversation session closed",
			"user_id", key,
			"workflow", s.Workflow,
			"state", s.State,
		)
	})
	return e, nil
}

// Start opens a session of kind for userID, replacing any open one, and
// returns the entry prompt.
func (e *Engine) Start(userID int64, kind Kind) (Session, Emission, error) {
	wf, ok := e.workflows[kind]
	if !ok {
		return Session{}, Emission{}, fmt.Errorf("%w: %s", ErrUnknownWorkflow, kind)
	}
	s := Session{
		UserID:    userID,
		Workflow:  kind,
		State:     wf.entry,
		UpdatedAt: e.now(),
	}
	e.mu.Lock()
	e.put(s)
	e.mu.Unlock()
	return s, Emission{Text: wf.steps[wf.entry].Prompt(s.Fields)}, nil
}

// Active returns the open session of userID, if any.
func (e *Engine) Active(userID int64) (Session, bool) {
	v, ok := e.sessions.Get(key(userID))
	if !ok {
		return Session{}, false
	}
	s, ok := v.(Session)
	if !ok {
		return Session{}, false
	}
	s.Fields = s.Fields.clone()
	return s, true
}

// Len returns the number of open sessions, including expired ones not yet swept.
func (e *Engine) Len() int {
	return e.sessions.ItemCount()
}

// Advance feeds one input into the open session of userID.
func (e *Engine) Advance(ctx context.Context, userID int64, in Input) (Session, Emission, error) {
	s, wf, em, commit, err := e.step(userID, in)
	if err != nil || !commit {
		return s, em, err
	}
	text, err := wf.commit(ctx, userID, s.Fields)
	if err != nil {
		if errors.Is(err, ErrSessionInconsistent) {
			e.logger.Warn("conversation session discarded",
				"user_id", userID, "workflow", s.Workflow, "err", err)
		}
		return s, Emission{Done: true}, fmt.Errorf("conversation: commit %s: %w", s.Workflow, err)
	}
	return s, Emission{Text: text, Done: true}, nil
}

// step applies in to the stored session. When the terminal state is reached
// the session is removed before step returns, so the commit runs once.
func (e *Engine) step(userID int64, in Input) (Session, *Workflow, Emission, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.Active(userID)
	if !ok {
		return Session{}, nil, Emission{}, false, ErrNoActiveWorkflow
	}
	wf, ok := e.workflows[s.Workflow]
	if !ok {
		s, em, err := e.discard(s, "unknown workflow")
		return s, nil, em, false, err
	}

	if in.Command == CancelCommand {
		e.sessions.Delete(key(userID))
		s.State = StateCancelled
		return s, wf, Emission{Text: wf.cancelText, Done: true}, false, nil
	}

	st, ok := wf.steps[s.State]
	if !ok {
		s, em, err := e.discard(s, "state has no step")
		return s, wf, em, false, err
	}
	value, next, accepted := st.Accept(in)
	if !accepted {
		s.UpdatedAt = e.now()
		e.put(s)
		return s, wf, Emission{Text: st.reprompt(s.Fields)}, false, nil
	}
	if !wf.allows(s.State, next) {
		s, em, err := e.discard(s, "transition not declared")
		return s, wf, em, false, err
	}
	if st.Field != "" {
		s.Fields.Set(st.Field, value)
	}
	s.State = next
	s.UpdatedAt = e.now()

	if next != wf.terminal {
		e.put(s)
		return s, wf, Emission{Text: wf.steps[next].Prompt(s.Fields)}, false, nil
	}
	e.sessions.Delete(key(userID))
	return s, wf, Emission{}, true, nil
}

func (e *Engine) discard(s Session, reason string) (Session, Emission, error) {
	e.sessions.Delete(key(s.UserID))
	e.logger.Warn("conversation session discarded",
		"user_id", s.UserID, "workflow", s.Workflow, "state", s.State, "reason", reason)
	return s, Emission{Done: true}, fmt.Errorf("%w: %s", ErrSessionInconsistent, reason)
}

func (e *Engine) put(s Session) {
	s.Fields = s.Fields.clone()
	e.sessions.Set(key(s.UserID), s, e.idleTTL)
}

func key(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
