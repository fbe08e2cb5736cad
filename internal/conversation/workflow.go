// Package conversation runs per-user multi-turn workflows as fixed,
// forward-only state machines.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a workflow.
type Kind string

// State is a node of a workflow's transition graph.
type State string

// StateCancelled is the terminal state every workflow can reach through the
// cancel trigger.
const StateCancelled State = "cancelled"

// CancelCommand is the input that aborts any workflow in any state.
const CancelCommand = "cancel"

// Input is one user turn. Command is set, without the leading slash, when the
// turn is a bot command.
type Input struct {
	Text    string
	Command string
}

// Emission is what the caller sends back after a turn. Done is set when the
// session has ended.
type Emission struct {
	Text string
	Done bool
}

// Fields are the values collected by a session, in collection order.
type Fields struct {
	keys []string
	vals map[string]string
}

// Set records value under key. Re-setting a key keeps its original position.
func (f *Fields) Set(key, value string) {
	if f.vals == nil {
		f.vals = make(map[string]string)
	}
	if _, ok := f.vals[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.vals[key] = value
}

// Get returns the value recorded under key.
func (f Fields) Get(key string) (string, bool) {
	v, ok := f.vals[key]
	return v, ok
}

// Keys returns the recorded keys in collection order.
func (f Fields) Keys() []string {
	return append([]string(nil), f.keys...)
}

func (f Fields) clone() Fields {
	c := Fields{keys: append([]string(nil), f.keys...), vals: make(map[string]string, len(f.vals))}
	for k, v := range f.vals {
		c.vals[k] = v
	}
	return c
}

// Step describes how a non-terminal state handles a turn.
//
// Accept returns the value to record under Field, the next state, and whether
// the input was acceptable. Next lists every state Accept may return.
type Step struct {
	Field    string
	Prompt   func(Fields) string
	Reprompt string
	Accept   func(Input) (value string, next State, ok bool)
	Next     []State
}

// CommitFunc performs a workflow's terminal action and returns the text to
// emit. It runs at most once per session.
type CommitFunc func(ctx context.Context, userID int64, fields Fields) (string, error)

// Definition declares a workflow. States are listed in forward order: the
// first is the entry state and the last is the terminal success state.
type Definition struct {
	Kind       Kind
	States     []State
	Steps      map[State]Step
	Commit     CommitFunc
	CancelText string
}

// Workflow is a validated Definition.
type Workflow struct {
	kind       Kind
	entry      State
	terminal   State
	steps      map[State]Step
	rank       map[State]int
	commit     CommitFunc
	cancelText string
}

// NewWorkflow validates def. Transitions must only move forward along States.
func NewWorkflow(def Definition) (*Workflow, error) {
	if strings.TrimSpace(string(def.Kind)) == "" {
		return nil, errors.New("conversation: workflow kind must not be empty")
	}
	if len(def.States) < 2 {
		return nil, fmt.Errorf("conversation: workflow %s needs an entry and a terminal state", def.Kind)
	}
	if def.Commit == nil {
		return nil, fmt.Errorf("conversation: workflow %s: commit must not be nil", def.Kind)
	}
	rank := make(map[State]int, len(def.States))
	for i, s := range def.States {
		if s == "" || s == StateCancelled {
			return nil, fmt.Errorf("conversation: workflow %s: invalid state %q", def.Kind, s)
		}
		if _, dup := rank[s]; dup {
			return nil, fmt.Errorf("conversation: workflow %s: duplicate state %q", def.Kind, s)
		}
		rank[s] = i
	}
	terminal := def.States[len(def.States)-1]
	if _, ok := def.Steps[terminal]; ok {
		return nil, fmt.Errorf("conversation: workflow %s: terminal state %q must not have a step", def.Kind, terminal)
	}
	for _, s := range def.States[:len(def.States)-1] {
		step, ok := def.Steps[s]
		if !ok || step.Accept == nil || step.Prompt == nil {
			return nil, fmt.Errorf("conversation: workflow %s: state %q has no step", def.Kind, s)
		}
		if len(step.Next) == 0 {
			return nil, fmt.Errorf("conversation: workflow %s: state %q has no transitions", def.Kind, s)
		}
		for _, n := range step.Next {
			r, known := rank[n]
			if !known {
				return nil, fmt.Errorf("conversation: workflow %s: %q -> undeclared state %q", def.Kind, s, n)
			}
			if r <= rank[s] {
				return nil, fmt.Errorf("conversation: workflow %s: %q -> %q moves backwards", def.Kind, s, n)
			}
		}
	}
	if len(def.Steps) != len(def.States)-1 {
		return nil, fmt.Errorf("conversation: workflow %s: step declared for an unknown state", def.Kind)
	}
	cancelText := def.CancelText
	if cancelText == "" {
		cancelText = "Cancelled."
	}
	return &Workflow{
		kind:       def.Kind,
		entry:      def.States[0],
		terminal:   terminal,
		steps:      def.Steps,
		rank:       rank,
		commit:     def.Commit,
		cancelText: cancelText,
	}, nil
}

// Kind returns the workflow identifier.
func (w *Workflow) Kind() Kind {
	return w.kind
}

func (w *Workflow) allows(from, to State) bool {
	step, ok := w.steps[from]
	if !ok {
		return false
	}
	for _, n := range step.Next {
		if n == to {
			return true
		}
	}
	return false
}

func (s Step) reprompt(f Fields) string {
	if s.Reprompt != "" {
		return s.Reprompt
	}
	return s.Prompt(f)
}
