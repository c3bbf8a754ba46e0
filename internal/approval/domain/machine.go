package domain

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/payflow/internal/apperr"
	auditdomain "github.com/smallbiznis/payflow/internal/audit/domain"
	documentdomain "github.com/smallbiznis/payflow/internal/document/domain"
	"github.com/smallbiznis/payflow/internal/notification"
)

// Transitions is the complete edge table of the approval chain. An approve
// from PENDING_L4 has two targets; the level-4 decision selects
// Targets[0] (no level 5) or Targets[1] (level 5 required).
var Transitions = map[documentdomain.Status]map[auditdomain.Action][]documentdomain.Status{
	documentdomain.StatusDraft: {
		auditdomain.ActionSubmit: {documentdomain.StatusPendingL2},
	},
	documentdomain.StatusOnRevision: {
		auditdomain.ActionSubmit: {documentdomain.StatusPendingL2},
	},
	documentdomain.StatusPendingL2: {
		auditdomain.ActionApprove: {documentdomain.StatusPendingL3},
		auditdomain.ActionReject:  {documentdomain.StatusRejected},
		auditdomain.ActionReturn:  {documentdomain.StatusOnRevision},
	},
	documentdomain.StatusPendingL3: {
		auditdomain.ActionApprove: {documentdomain.StatusPendingL4},
		auditdomain.ActionReject:  {documentdomain.StatusRejected},
		auditdomain.ActionReturn:  {documentdomain.StatusOnRevision},
	},
	documentdomain.StatusPendingL4: {
		auditdomain.ActionApprove: {documentdomain.StatusApproved, documentdomain.StatusPendingL5},
		auditdomain.ActionReject:  {documentdomain.StatusRejected},
		auditdomain.ActionReturn:  {documentdomain.StatusOnRevision},
	},
	documentdomain.StatusPendingL5: {
		auditdomain.ActionApprove: {documentdomain.StatusApproved},
		auditdomain.ActionReject:  {documentdomain.StatusRejected},
		auditdomain.ActionReturn:  {documentdomain.StatusOnRevision},
	},
	documentdomain.StatusApproved: {},
	documentdomain.StatusRejected: {},
}

// Actions lists the commands the state machine accepts, in display order.
var Actions = []auditdomain.Action{
	auditdomain.ActionSubmit,
	auditdomain.ActionApprove,
	auditdomain.ActionReject,
	auditdomain.ActionReturn,
}

// State is the part of a document the state machine reads.
type State struct {
	Status         documentdomain.Status
	CurrentLevel   int
	CreatedBy      string
	RequiresLevel5 *bool
	Numbered       bool
}

func StateOf(h *documentdomain.Header) State {
	return State{
		Status:         h.Status,
		CurrentLevel:   h.CurrentLevel,
		CreatedBy:      h.CreatedBy,
		RequiresLevel5: h.RequiresLevel5,
		Numbered:       h.DocumentNumber != nil,
	}
}

// Command is one requested transition.
type Command struct {
	Action auditdomain.Action
	Actor  documentdomain.Actor
	// Comment is the reason of a reject and the comment of a return.
	Comment string
	// RequiresLevel5 is the level-4 decision. Only a level-4 approve
	// carries it.
	RequiresLevel5 *bool
}

// Notify names who hears about an outcome.
type Notify struct {
	Event     notification.EventKind
	Level     int
	ToCreator bool
}

// Outcome is the state a legal command moves the document to.
type Outcome struct {
	From           documentdomain.Status
	To             documentdomain.Status
	Level          int
	RequiresLevel5 *bool
	AllocateNumber bool
	Notify         Notify
}

// Evaluate decides cmd against state without side effects. A non-nil error
// means the command must change nothing.
func Evaluate(state State, cmd Command) (Outcome, error) {
	targets, err := edge(state.Status, cmd.Action)
	if err != nil {
		return Outcome{}, err
	}
	if err := Authorize(state, cmd.Action, cmd.Actor); err != nil {
		return Outcome{}, err
	}

	comment := strings.TrimSpace(cmd.Comment)
	switch cmd.Action {
	case auditdomain.ActionReject:
		if comment == "" {
			return Outcome{}, ErrReasonRequired
		}
	case auditdomain.ActionReturn:
		if comment == "" {
			return Outcome{}, ErrCommentRequired
		}
	}

	out := Outcome{
		From:           state.Status,
		To:             targets[0],
		Level:          state.CurrentLevel,
		RequiresLevel5: state.RequiresLevel5,
	}

	switch cmd.Action {
	case auditdomain.ActionSubmit:
		out.Level = documentdomain.LevelSupervisor
		out.RequiresLevel5 = nil
		out.AllocateNumber = !state.Numbered
		out.Notify = Notify{Event: notification.EventSubmitted, Level: documentdomain.LevelSupervisor}

	case auditdomain.ActionApprove:
		if len(targets) > 1 {
			if state.RequiresLevel5 != nil {
				return Outcome{}, ErrLevel5Decided
			}
			if cmd.RequiresLevel5 == nil {
				return Outcome{}, ErrDecisionRequired
			}
			decision := *cmd.RequiresLevel5
			out.RequiresLevel5 = &decision
			if decision {
				out.To = targets[1]
			}
		} else if cmd.RequiresLevel5 != nil {
			return Outcome{}, ErrDecisionNotAllowed
		}

		if level, ok := out.To.PendingLevel(); ok {
			out.Level = level
			out.Notify = Notify{Event: notification.EventApproved, Level: level}
		} else {
			out.Notify = Notify{Event: notification.EventApproved, Level: documentdomain.LevelCreator, ToCreator: true}
		}

	case auditdomain.ActionReject:
		out.Notify = Notify{Event: notification.EventRejected, Level: documentdomain.LevelCreator, ToCreator: true}

	case auditdomain.ActionReturn:
		out.Level = documentdomain.LevelCreator
		out.Notify = Notify{Event: notification.EventReturned, Level: documentdomain.LevelCreator, ToCreator: true}
	}

	return out, nil
}

// Authorize checks that actor may issue action against state. It does not
// check that the edge exists.
func Authorize(state State, action auditdomain.Action, actor documentdomain.Actor) error {
	if action == auditdomain.ActionSubmit {
		if strings.TrimSpace(actor.ID) == "" || strings.TrimSpace(actor.ID) != state.CreatedBy {
			return documentdomain.ErrNotCreator
		}
		return nil
	}

	pending, ok := state.Status.PendingLevel()
	if !ok {
		return illegal(state.Status, action)
	}
	if actor.Level != pending || actor.Level != state.CurrentLevel {
		return apperr.IllegalTransition("wrong_level",
			fmt.Sprintf("%s awaits level %d, actor is level %d", state.Status, pending, actor.Level))
	}
	return nil
}

// AvailableActions returns the commands actor may issue now. Mandatory
// comments and the level-4 decision are the caller's to supply.
func AvailableActions(state State, actor documentdomain.Actor) []auditdomain.Action {
	out := make([]auditdomain.Action, 0, len(Actions))
	for _, action := range Actions {
		if _, err := edge(state.Status, action); err != nil {
			continue
		}
		if err := Authorize(state, action, actor); err != nil {
			continue
		}
		if action == auditdomain.ActionApprove && state.Status == documentdomain.StatusPendingL4 && state.RequiresLevel5 != nil {
			continue
		}
		out = append(out, action)
	}
	return out
}

func edge(status documentdomain.Status, action auditdomain.Action) ([]documentdomain.Status, error) {
	targets := Transitions[status][action]
	if len(targets) == 0 {
		return nil, illegal(status, action)
	}
	return targets, nil
}

func illegal(status documentdomain.Status, action auditdomain.Action) error {
	return apperr.IllegalTransition("invalid_state",
		fmt.Sprintf("%s is not allowed from %s", action, status))
}
