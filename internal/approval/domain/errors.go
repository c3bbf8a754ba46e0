package domain

import "github.com/smallbiznis/payflow/internal/apperr"

var (
	ErrReasonRequired     = apperr.Validation("reason_required", "a rejection needs a reason")
	ErrCommentRequired    = apperr.Validation("comment_required", "a return for revision needs a comment")
	ErrDecisionRequired   = apperr.Validation("decision_required", "level 4 must decide whether level 5 is required")
	ErrDecisionNotAllowed = apperr.Validation("decision_not_allowed", "only a level 4 approval decides on level 5")
	ErrLevel5Decided      = apperr.IllegalTransition("level5_decided", "the level 5 decision has already been made")
	ErrNumberConflict     = apperr.Conflict("number_conflict", "document payment date changed while numbering")
)
