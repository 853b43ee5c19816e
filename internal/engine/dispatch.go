package engine

import (
	"go.uber.org/zap"

	"github.com/and161185/collabify/internal/wire"
)

// handleFrame decodes one transport frame and dispatches every envelope in
// order. Malformed fragments are logged and skipped.
func (e *Engine) handleFrame(s *session, raw []byte) {
	envs, err := wire.Decode(raw)
	if err != nil {
		e.log.Warn("malformed frame",
			zap.Int("len", len(raw)),
			zap.Int("recovered", len(envs)),
			zap.Error(err),
		)
	}
	for _, env := range envs {
		e.dispatch(s, env)
	}
}

func (e *Engine) dispatch(s *session, env wire.Envelope) {
	switch m := env.(type) {
	case wire.Content:
		// Identity is read per message so a reassigned id is honoured at once.
		local := e.presence.Local()
		if !local.IsZero() && m.UserData.UserID == local.UserID {
			e.log.Debug("echo suppressed")
			return
		}
		s.remoteApplied++
		e.mu.Lock()
		e.lastContent = m.Content
		e.mu.Unlock()
		s.cursors.Observe(m.UserData, m.Position)
		if s.cb.ApplyRemoteContent != nil {
			e.guard("ApplyRemoteContent", func() { s.cb.ApplyRemoteContent(m.Content) })
		}

	case wire.UserData:
		changed := e.presence.SetLocal(m.UserData)
		s.cursors.SetLocal(m.UserData.UserID)
		e.log.Info("identity assigned",
			zap.String("user", m.UserData.UserID),
			zap.String("name", m.UserData.DisplayName),
		)
		if changed {
			e.presenceChanged(s)
		}

	case wire.UserAdded:
		if e.presence.Add(m.UserData) {
			e.log.Debug("user added", zap.String("user", m.UserData.UserID))
			e.presenceChanged(s)
		}

	case wire.UserRemoved:
		if e.presence.Remove(m.UserData) {
			e.log.Debug("user removed", zap.String("user", m.UserData.UserID))
			s.cursors.Forget(m.UserData.UserID)
			e.presenceChanged(s)
		}

	case wire.Unknown:
		e.log.Debug("ignoring envelope", zap.String("type", m.Kind))
	}
}
