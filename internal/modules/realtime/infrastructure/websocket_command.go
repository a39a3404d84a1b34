package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"eventsWs/internal/modules/realtime/domain"
	"eventsWs/internal/platform/metrics"
	"eventsWs/internal/shared/auth"
)

// Args holds the validated string fields of a frame, keyed by dotted path.
type Args map[string]string

type CommandHandler func(ctx context.Context, s *Session, args Args) error

// CommandSpec declares a command and the guards the dispatcher checks before Handle runs.
type CommandSpec struct {
	Name           string
	RequiresAuth   bool
	RequiredFields []string
	Handle         CommandHandler
}

// CommandTable maps command names to their specs. It is built once at startup.
type CommandTable struct {
	commands map[string]CommandSpec
}

func NewCommandTable(specs ...CommandSpec) (*CommandTable, error) {
	table := &CommandTable{commands: make(map[string]CommandSpec, len(specs))}
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" || name != spec.Name {
			return nil, fmt.Errorf("invalid command name %q", spec.Name)
		}
		if spec.Handle == nil {
			return nil, fmt.Errorf("command %q has no handler", name)
		}
		if _, exists := table.commands[name]; exists {
			return nil, fmt.Errorf("command %q registered twice", name)
		}
		table.commands[name] = spec
	}
	return table, nil
}

// DefaultCommands is the relay protocol: ping, auth, subscribe and unsubscribe.
func DefaultCommands() []CommandSpec {
	return []CommandSpec{
		{Name: domain.CommandPing, Handle: handlePing},
		{Name: domain.CommandAuth, RequiredFields: []string{domain.FieldToken, domain.FieldSessionID}, Handle: handleAuth},
		{Name: domain.CommandSubscribe, RequiresAuth: true, RequiredFields: []string{domain.FieldRoutingKey}, Handle: handleSubscribe},
		{Name: domain.CommandUnsubscribe, RequiresAuth: true, RequiredFields: []string{domain.FieldRoutingKey}, Handle: handleUnsubscribe},
	}
}

// Names lists the registered commands.
func (t *CommandTable) Names() []string {
	names := make([]string, 0, len(t.commands))
	for name := range t.commands {
		names = append(names, name)
	}
	return names
}

// Dispatch resolves frame.Cmd by exact name, evaluates the guards and runs the handler.
func (t *CommandTable) Dispatch(ctx context.Context, s *Session, frame domain.Frame) error {
	spec, ok := t.commands[frame.Cmd]
	if !ok {
		metrics.Commands.WithLabelValues("unknown", resultLabel(domain.ErrInvalidCommand)).Inc()
		return fmt.Errorf("%w '%s'", domain.ErrInvalidCommand, frame.Cmd)
	}
	err := t.run(ctx, s, spec, frame)
	metrics.Commands.WithLabelValues(spec.Name, resultLabel(err)).Inc()
	return err
}

func (t *CommandTable) run(ctx context.Context, s *Session, spec CommandSpec, frame domain.Frame) error {
	if spec.RequiresAuth && !s.Authenticated() {
		return domain.ErrUnauthenticated
	}
	args := make(Args, len(spec.RequiredFields))
	for _, path := range spec.RequiredFields {
		value, err := frame.String(path)
		if err != nil {
			return err
		}
		args[path] = value
	}
	return spec.Handle(ctx, s, args)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, domain.ErrInvalidCommand):
		return "invalid_command"
	case errors.Is(err, domain.ErrMissingArgument):
		return "missing_argument"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, auth.ErrTokenInvalid):
		return "token_invalid"
	default:
		return "error"
	}
}

func handlePing(_ context.Context, s *Session, _ Args) error {
	// A pong that cannot be queued is dropped without complaint.
	s.sendReply(domain.CommandPong)
	return nil
}

func handleAuth(ctx context.Context, s *Session, args Args) error {
	token := args[domain.FieldToken]
	sessionID := args[domain.FieldSessionID]
	if err := s.verifier.Verify(token); err != nil {
		return err
	}
	s.authenticate(sessionID, token)
	slog.Info("ws authenticate success", slog.String("clientId", s.id), slog.String("sessionId", sessionID))

	if err := s.startConsuming(ctx); err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	return nil
}

func handleSubscribe(ctx context.Context, s *Session, args Args) error {
	routingKey := args[domain.FieldRoutingKey]
	if err := domain.ValidateRoutingKey(routingKey); err != nil {
		return err
	}
	// Registration is retried here in case it failed during auth.
	if err := s.startConsuming(ctx); err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	if err := s.bind(ctx, routingKey); err != nil {
		return err
	}
	slog.Info("ws subscribe", slog.String("clientId", s.id), slog.String("routingKey", routingKey))
	return nil
}

func handleUnsubscribe(ctx context.Context, s *Session, args Args) error {
	routingKey := args[domain.FieldRoutingKey]
	if err := domain.ValidateRoutingKey(routingKey); err != nil {
		return err
	}
	if err := s.startConsuming(ctx); err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	if err := s.unbind(ctx, routingKey); err != nil {
		return err
	}
	slog.Info("ws unsubscribe", slog.String("clientId", s.id), slog.String("routingKey", routingKey))
	return nil
}
