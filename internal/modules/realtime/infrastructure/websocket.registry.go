package infrastructure

import (
	"log/slog"

	"github.com/alphadose/haxmap"

	"eventsWs/internal/platform/metrics"
)

// Registry tracks live sessions so the process can report and close them.
type Registry struct {
	sessions *haxmap.Map[string, *Session]
}

func NewRegistry() *Registry {
	return &Registry{sessions: haxmap.New[string, *Session]()}
}

// Attach records s until it closes.
func (r *Registry) Attach(s *Session) {
	r.sessions.Set(s.ID(), s)
	metrics.SessionsActive.Inc()
	slog.Info("ws session attached", slog.String("clientId", s.ID()))
	s.AddCloseHook(r.detach)
}

func (r *Registry) detach(s *Session) {
	// Close hooks run once per session, so Get then Del cannot double count.
	if _, ok := r.sessions.Get(s.ID()); !ok {
		return
	}
	r.sessions.Del(s.ID())
	metrics.SessionsActive.Dec()
	slog.Debug("ws session detached", slog.String("clientId", s.ID()))
}

func (r *Registry) Get(id string) (*Session, bool) {
	return r.sessions.Get(id)
}

func (r *Registry) Count() int {
	return int(r.sessions.Len())
}

// CloseAll closes every attached session; each one tears down its broker resources.
func (r *Registry) CloseAll() {
	sessions := make([]*Session, 0, r.sessions.Len())
	r.sessions.ForEach(func(_ string, s *Session) bool {
		sessions = append(sessions, s)
		return true
	})
	for _, s := range sessions {
		s.Close()
	}
	if len(sessions) > 0 {
		slog.Info("ws sessions closed", slog.Int("count", len(sessions)))
	}
}
