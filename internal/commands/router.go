// Package commands implements the slash-command router (C11): the fixed
// set of control commands recognized before a message ever reaches the
// agent loop. Grounded on the teacher's internal/commands package shape
// (Invocation/Result/Handler) and internal/gateway/commands.go's
// busy/allowlist wiring, narrowed to SPEC_FULL.md §4.11's exact command
// set and result contract.
package commands

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/relaykit/agentcore/internal/runs"
	"github.com/relaykit/agentcore/internal/sessions"
)

// ResultKind distinguishes the four outcomes a routed message can have.
type ResultKind string

const (
	// KindNone means the text was not a recognized command at all.
	KindNone ResultKind = "none"
	// KindHandled means the command produced a reply message.
	KindHandled ResultKind = "handled"
	// KindHandledSilent means the command ran but produces no reply.
	KindHandledSilent ResultKind = "handled-silent"
	// KindTransformed means the text should continue into the loop under
	// NewText instead of the original.
	KindTransformed ResultKind = "transformed"
)

// Result is the router's verdict for one piece of incoming text.
type Result struct {
	Kind    ResultKind
	Message string
	NewText string
}

// SkillRegistry is the minimal service a plugin registers to back /skills.
// Grounded on spec.md §4.11's "registered skillRegistry service" — the
// router only needs enough to list and resolve by name or index.
type SkillRegistry interface {
	ListSkills() []Skill
}

// Skill describes one registered skill for /skills listing and resolution.
type Skill struct {
	Name        string
	Description string
}

// busyAllowed is the whitelist of commands usable while an ActiveRun
// exists, per spec.md §4.11's busy policy.
var busyAllowed = map[string]bool{
	"help":   true,
	"start":  true,
	"status": true,
	"stop":   true,
}

const helpText = `Available commands:
/help, /start - show this message
/new - start a new session
/clear - clear the current session
/resume, /sessions [id] - list or attach to sessions
/status - show run and session status
/stop - abort the active run
/skills [list|name|index] <message> - invoke a skill
/compact - force a context compaction`

// Router dispatches recognized "/..." text to the session store, the
// active-run registry, and an optional skill registry.
type Router struct {
	Sessions sessions.Store
	Runs     *runs.Registry
	Skills   SkillRegistry

	// OnCompact is invoked for /compact with the platformKey; the router
	// holds no compactor, so it only signals intent. When OnCompact is nil,
	// /compact replies that compaction is not available.
	OnCompact func(ctx context.Context, platformKey string) error
}

// New constructs a Router.
func New(store sessions.Store, runRegistry *runs.Registry) *Router {
	return &Router{Sessions: store, Runs: runRegistry}
}

// Route parses text against the recognized command set for platformKey. A
// non-"/"-prefixed text is not a command at all and returns KindNone so the
// caller treats text as ordinary input; any "/word" that is not a
// recognized command yields the help message as KindHandled.
func (r *Router) Route(ctx context.Context, platformKey, text string) Result {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return Result{Kind: KindNone}
	}

	fields := strings.Fields(trimmed)
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	args := strings.TrimSpace(strings.TrimPrefix(trimmed, fields[0]))

	if r.Runs != nil && r.Runs.HasActiveRun(platformKey) && !busyAllowed[name] {
		return Result{Kind: KindHandled, Message: "A run is already active for this session. Try /stop to cancel it."}
	}

	switch name {
	case "help", "start":
		return Result{Kind: KindHandled, Message: helpText}
	case "new":
		return r.handleNew(ctx, platformKey)
	case "clear":
		return r.handleClear(ctx, platformKey)
	case "resume", "sessions":
		return r.handleResume(ctx, platformKey, args)
	case "status":
		return r.handleStatus(ctx, platformKey)
	case "stop":
		return r.handleStop(platformKey)
	case "skills":
		return r.handleSkills(args)
	case "compact":
		return r.handleCompact(ctx, platformKey)
	default:
		return Result{Kind: KindHandled, Message: helpText}
	}
}

func (r *Router) handleNew(ctx context.Context, platformKey string) Result {
	if r.Sessions == nil {
		return Result{Kind: KindHandled, Message: "Sessions are not available."}
	}
	id, err := r.Sessions.CreateNewSession(ctx, platformKey)
	if err != nil {
		return Result{Kind: KindHandled, Message: "Could not start a new session: " + err.Error()}
	}
	return Result{Kind: KindHandled, Message: fmt.Sprintf("Started a new session (%s).", id)}
}

func (r *Router) handleClear(ctx context.Context, platformKey string) Result {
	if r.Sessions == nil {
		return Result{Kind: KindHandled, Message: "Sessions are not available."}
	}
	res, err := r.Sessions.ClearCurrent(ctx, platformKey)
	if err != nil {
		return Result{Kind: KindHandled, Message: "Could not clear the session: " + err.Error()}
	}
	if res.CreatedNew {
		return Result{Kind: KindHandled, Message: fmt.Sprintf("No session to clear, started a new one (%s).", res.SessionID)}
	}
	return Result{Kind: KindHandled, Message: fmt.Sprintf("Cleared the current session (%s).", res.SessionID)}
}

func (r *Router) handleResume(ctx context.Context, platformKey, args string) Result {
	if r.Sessions == nil {
		return Result{Kind: KindHandled, Message: "Sessions are not available."}
	}
	if args == "" {
		return r.listSessions(ctx, platformKey)
	}
	attach, err := r.Sessions.Attach(ctx, platformKey, args)
	if err != nil {
		return Result{Kind: KindHandled, Message: "Could not resume: " + err.Error()}
	}
	if !attach.OK {
		return Result{Kind: KindHandled, Message: "No such session: " + attach.Reason}
	}
	return Result{Kind: KindHandled, Message: "Resumed session " + args + "."}
}

func (r *Router) listSessions(ctx context.Context, platformKey string) Result {
	summaries, err := r.Sessions.ListSessions(ctx, platformKey, 10)
	if err != nil {
		return Result{Kind: KindHandled, Message: "Could not list sessions: " + err.Error()}
	}
	if len(summaries) == 0 {
		return Result{Kind: KindHandled, Message: "No sessions yet."}
	}
	current, hasCurrent, _ := r.Sessions.GetCurrentSessionID(ctx, platformKey)
	var b strings.Builder
	b.WriteString("Recent sessions:\n")
	for _, s := range summaries {
		marker := ""
		if hasCurrent && s.ID == current {
			marker = " ✅"
		}
		fmt.Fprintf(&b, "%s - %s%s\n", s.ID, s.Preview, marker)
	}
	return Result{Kind: KindHandled, Message: strings.TrimRight(b.String(), "\n")}
}

func (r *Router) handleStatus(ctx context.Context, platformKey string) Result {
	var b strings.Builder
	if r.Runs != nil {
		if run, ok := r.Runs.GetActiveRun(platformKey); ok {
			fmt.Fprintf(&b, "Run active (%dms elapsed).\n", time.Since(run.StartedAt).Milliseconds())
		} else {
			b.WriteString("No active run.\n")
		}
	}
	if r.Sessions != nil {
		status, ok, err := r.Sessions.GetCurrentStatus(ctx, platformKey)
		if err != nil {
			fmt.Fprintf(&b, "Could not read session status: %s", err.Error())
			return Result{Kind: KindHandled, Message: strings.TrimRight(b.String(), "\n")}
		}
		if !ok {
			b.WriteString("No current session.")
		} else {
			fmt.Fprintf(&b, "Session %s: %d messages, updated %s.", status.SessionID, status.MessageCount, status.UpdatedAt.Format(time.RFC3339))
		}
	}
	return Result{Kind: KindHandled, Message: strings.TrimRight(b.String(), "\n")}
}

func (r *Router) handleStop(platformKey string) Result {
	if r.Runs == nil {
		return Result{Kind: KindHandled, Message: "No active run."}
	}
	res := r.Runs.AbortActiveRun(platformKey)
	if !res.Aborted {
		return Result{Kind: KindHandled, Message: "No active run to stop."}
	}
	return Result{Kind: KindHandled, Message: "Stopped the active run."}
}

func (r *Router) handleCompact(ctx context.Context, platformKey string) Result {
	if r.OnCompact == nil {
		return Result{Kind: KindHandled, Message: "Compaction is not available."}
	}
	if err := r.OnCompact(ctx, platformKey); err != nil {
		return Result{Kind: KindHandled, Message: "Compaction failed: " + err.Error()}
	}
	return Result{Kind: KindHandled, Message: "Compacted the current session."}
}

func (r *Router) handleSkills(args string) Result {
	if r.Skills == nil {
		return Result{Kind: KindHandled, Message: "No skills are registered."}
	}
	skills := r.Skills.ListSkills()
	fields := strings.Fields(args)
	if len(fields) == 0 || strings.EqualFold(fields[0], "list") {
		if len(skills) == 0 {
			return Result{Kind: KindHandled, Message: "No skills are registered."}
		}
		var b strings.Builder
		b.WriteString("Available skills:\n")
		for i, s := range skills {
			fmt.Fprintf(&b, "%d. %s - %s\n", i+1, s.Name, s.Description)
		}
		return Result{Kind: KindHandled, Message: strings.TrimRight(b.String(), "\n")}
	}

	selector := fields[0]
	message := strings.TrimSpace(strings.TrimPrefix(args, selector))

	skill, err := resolveSkill(skills, selector)
	if err != nil {
		return Result{Kind: KindHandled, Message: err.Error()}
	}
	return Result{Kind: KindTransformed, NewText: fmt.Sprintf("[use skill](%s) %s", skill.Name, message)}
}

// resolveSkill matches selector against skills by 1-based index, then by
// case-insensitive substring. An ambiguous substring match is an error.
func resolveSkill(skills []Skill, selector string) (Skill, error) {
	if idx, err := strconv.Atoi(selector); err == nil {
		if idx < 1 || idx > len(skills) {
			return Skill{}, fmt.Errorf("no skill at index %d", idx)
		}
		return skills[idx-1], nil
	}

	lower := strings.ToLower(selector)
	var matches []Skill
	for _, s := range skills {
		if strings.EqualFold(s.Name, selector) {
			return s, nil
		}
		if strings.Contains(strings.ToLower(s.Name), lower) {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return Skill{}, fmt.Errorf("no skill matching %q", selector)
	case 1:
		return matches[0], nil
	default:
		sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		return Skill{}, fmt.Errorf("ambiguous skill %q matches: %s", selector, strings.Join(names, ", "))
	}
}
