package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/wificontrol/wificontrol-pro/internal/domain"
	"github.com/wificontrol/wificontrol-pro/internal/ws"
)

const (
	dedupTTL            = 24 * time.Hour
	failureArchiveDir   = "command-failures"
	defaultInterpretTTL = 10 * time.Second
)

// Interpreter turns customer text into an intent
type Interpreter interface {
	Interpret(ctx context.Context, text string) (domain.Intent, error)
}

// Executor applies an intent to a router
type Executor interface {
	Apply(ctx context.Context, intent domain.Intent, creds domain.RouterCredentials) domain.CommandResult
}

// CommandLogStore persists processed messages
type CommandLogStore interface {
	Create(ctx context.Context, entry *domain.CommandLog) error
}

// ClientLookup finds the customer behind a phone number
type ClientLookup interface {
	GetByPhone(ctx context.Context, phone string) (*domain.Client, error)
}

// Archiver keeps a copy of failed outcomes for manual remediation
type Archiver interface {
	ArchiveJSON(ctx context.Context, folder string, id uuid.UUID, value any) (string, error)
}

// CommandDeps wires a CommandService. Interpreter and Executor are required,
// everything else may be nil.
type CommandDeps struct {
	Interpreter      Interpreter
	Executor         Executor
	Replier          Replier
	Logs             CommandLogStore
	Clients          ClientLookup
	Guard            MessageGuard
	Archive          Archiver
	Hub              Broadcaster
	Credentials      domain.RouterCredentials
	InterpretTimeout time.Duration
}

// CommandService runs the WhatsApp-to-router pipeline for one message at a time.
// It is safe for concurrent use.
type CommandService struct {
	deps CommandDeps
}

func NewCommandService(deps CommandDeps) *CommandService {
	if deps.InterpretTimeout <= 0 {
		deps.InterpretTimeout = defaultInterpretTTL
	}
	return &CommandService{deps: deps}
}

// Handle interprets msg, applies it to the router, answers the customer and
// records the outcome. It never returns an error: failures end up in the log entry.
func (s *CommandService) Handle(ctx context.Context, msg domain.InboundMessage) *domain.CommandLog {
	entry := &domain.CommandLog{
		ID:         uuid.New(),
		MessageID:  msg.ID,
		Sender:     msg.Sender,
		Text:       msg.Text,
		Action:     string(domain.ActionUnknown),
		RouterHost: s.deps.Credentials.Host,
		ReceivedAt: msg.ReceivedAt,
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}

	if s.isDuplicate(ctx, msg) {
		entry.Status = domain.CommandStatusDuplicate
		entry.ProcessedAt = time.Now().UTC()
		log.Printf("[Command] Duplicate delivery %s from %s ignored", msg.ID, msg.Sender)
		return entry
	}

	if s.deps.Clients != nil {
		client, err := s.deps.Clients.GetByPhone(ctx, msg.Sender)
		if err != nil {
			log.Printf("[Command] Client lookup for %s failed: %v", msg.Sender, err)
		} else if client != nil {
			entry.ClientID = &client.ID
		}
	}

	intent, err := s.interpret(ctx, msg.Text)
	switch {
	case err != nil:
		entry.Status = domain.CommandStatusInterpretationError
		entry.Error = errString(err)
		entry.Reply = interpretationFailureReply(err)
		log.Printf("[Command] Interpretation failed for %s: %v", msg.Sender, err)

	case !domain.IsActionable(intent):
		entry.Status = domain.CommandStatusUnknown
		entry.Reply = unknownReply

	default:
		entry.Action = string(intent.Action())
		result := s.deps.Executor.Apply(ctx, intent, s.deps.Credentials)
		entry.Status = commandStatus(result)
		entry.Applied, entry.Failures = resultFields(result)
		if result.Err != nil {
			entry.Error = errString(result.Err)
		} else if len(result.Failures) > 0 {
			entry.Error = errString(firstFailure(result))
		}
		entry.Reply = composeReply(intent, result)
		if !result.OK() {
			log.Printf("[Command] %s for %s on router %s: status=%s err=%v",
				entry.Action, msg.Sender, s.deps.Credentials.Host, entry.Status, firstFailure(result))
		}
	}

	s.reply(ctx, entry)
	entry.ProcessedAt = time.Now().UTC()
	s.record(ctx, entry)

	return entry
}

func (s *CommandService) isDuplicate(ctx context.Context, msg domain.InboundMessage) bool {
	if s.deps.Guard == nil || msg.ID == "" {
		return false
	}
	first, err := s.deps.Guard.FirstSeen(ctx, "wa:msg:"+msg.ID, dedupTTL)
	if err != nil {
		log.Printf("[Command] Dedup check failed for %s: %v", msg.ID, err)
		return false
	}
	return !first
}

func (s *CommandService) interpret(ctx context.Context, text string) (domain.Intent, error) {
	ictx, cancel := context.WithTimeout(ctx, s.deps.InterpretTimeout)
	defer cancel()
	return s.deps.Interpreter.Interpret(ictx, text)
}

func (s *CommandService) reply(ctx context.Context, entry *domain.CommandLog) {
	if s.deps.Replier == nil || entry.Reply == "" {
		log.Printf("[Command] Reply to %s (not sent): %s", entry.Sender, entry.Reply)
		return
	}
	if err := s.deps.Replier.SendText(ctx, entry.Sender, entry.Reply); err != nil {
		log.Printf("[Command] Failed to reply to %s (%s): %v", entry.Sender, entry.Action, err)
	}
}

// record persists, broadcasts and archives the outcome. Each step is best effort.
func (s *CommandService) record(ctx context.Context, entry *domain.CommandLog) {
	if s.deps.Logs != nil {
		if err := s.deps.Logs.Create(ctx, entry); err != nil {
			log.Printf("[Command] Failed to save log for %s (%s): %v", entry.Sender, entry.Action, err)
		}
	}

	if s.deps.Hub != nil {
		s.deps.Hub.Broadcast(ws.EventCommandProcessed, entry)
	}

	if s.deps.Archive != nil && needsRemediation(entry.Status) {
		key, err := s.deps.Archive.ArchiveJSON(ctx, failureArchiveDir, entry.ID, entry)
		if err != nil {
			log.Printf("[Command] Failed to archive %s: %v", entry.ID, err)
		} else {
			log.Printf("[Command] Outcome for %s archived at %s", entry.Sender, key)
		}
	}
}

func needsRemediation(status string) bool {
	switch status {
	case domain.CommandStatusFailed, domain.CommandStatusPartial, domain.CommandStatusInterpretationError:
		return true
	}
	return false
}

func commandStatus(result domain.CommandResult) string {
	switch {
	case result.OK():
		return domain.CommandStatusApplied
	case result.Partial():
		return domain.CommandStatusPartial
	default:
		return domain.CommandStatusFailed
	}
}

func resultFields(result domain.CommandResult) ([]string, map[string]string) {
	applied := make([]string, 0, len(result.Applied))
	for _, f := range result.Applied {
		applied = append(applied, string(f))
	}
	failures := make(map[string]string, len(result.Failures))
	for f, err := range result.Failures {
		failures[string(f)] = err.Error()
	}
	return applied, failures
}

// firstFailure returns the batch error, or a field failure in fixed field order
func firstFailure(result domain.CommandResult) error {
	if result.Err != nil {
		return result.Err
	}
	for _, f := range []domain.Field{domain.FieldPassword, domain.FieldSSID} {
		if err, ok := result.Failures[f]; ok {
			return err
		}
	}
	for _, err := range result.Failures {
		return err
	}
	return nil
}

func errString(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}

func isTemporary(err error) bool {
	var ie *domain.InterpretationError
	return errors.As(err, &ie) && ie.Temporary()
}
