package session

import (
	"context"
	"encoding/json"

	"github.com/MinBZK/par-dpia-form/internal/snapshot"
	"github.com/rs/zerolog/log"
)

// StateKeyPrefix prefixes the storage key of each namespace's state.
const StateKeyPrefix = "dpia_app_state_"

// StateKey returns the storage key of a namespace.
func StateKey(namespace string) string {
	return StateKeyPrefix + namespace
}

// Persister stores serialised namespace state by key.
type Persister interface {
	SaveState(ctx context.Context, key string, data []byte) error
	LoadState(ctx context.Context, key string) ([]byte, bool, error)
}

// Journal records actions. A Persister that also implements Journal gets
// every settled action appended.
type Journal interface {
	AppendAction(ctx context.Context, namespace, action string, payload []byte) error
}

// persist writes the namespace and journals the action. Failures are logged;
// the session keeps working in memory.
func (s *Session) persist(ctx context.Context, n *Namespace, action string, payload map[string]any) {
	if s.opts.Store == nil {
		return
	}
	snap := snapshot.Serialize(n.Name, n.Instances, n.Answers, n.Navigation(), s.opts.Now())
	data, err := snap.Marshal()
	if err != nil {
		log.Warn().Err(err).Str("namespace", n.Name).Msg("session: failed to serialise state")
		return
	}
	if err := s.opts.Store.SaveState(ctx, StateKey(n.Name), data); err != nil {
		log.Warn().Err(err).Str("namespace", n.Name).Msg("session: failed to save state")
		return
	}

	j, ok := s.opts.Store.(Journal)
	if !ok {
		return
	}
	var body []byte
	if payload != nil {
		if body, err = json.Marshal(payload); err != nil {
			log.Warn().Err(err).Str("action", action).Msg("session: failed to encode journal payload")
			return
		}
	}
	if err := j.AppendAction(ctx, n.Name, action, body); err != nil {
		log.Warn().Err(err).Str("namespace", n.Name).Str("action", action).Msg("session: failed to journal action")
	}
}

// restore loads the stored state of a namespace. Missing, unreadable or
// incompatible state is logged and the fresh tree is kept.
func (s *Session) restore(ctx context.Context, n *Namespace) {
	if s.opts.Store == nil {
		return
	}
	data, ok, err := s.opts.Store.LoadState(ctx, StateKey(n.Name))
	if err != nil {
		log.Warn().Err(err).Str("namespace", n.Name).Msg("session: failed to load state")
		return
	}
	if !ok {
		return
	}
	snap, err := snapshot.Decode(data)
	if err == nil {
		_, err = snapshot.Apply(snap, map[string]snapshot.Target{n.Name: n.target()})
	}
	if err != nil {
		log.Warn().Err(err).Str("namespace", n.Name).Msg("session: stored state discarded")
		return
	}
	log.Debug().Str("namespace", n.Name).Int("instances", n.Instances.Len()).Msg("session: state restored")
}
