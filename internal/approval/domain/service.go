package domain

import (
	"context"

	auditdomain "github.com/smallbiznis/payflow/internal/audit/domain"
	documentdomain "github.com/smallbiznis/payflow/internal/document/domain"
)

type SubmitRequest struct {
	Ref   documentdomain.Ref
	Actor documentdomain.Actor
}

type ApproveRequest struct {
	Ref   documentdomain.Ref
	Actor documentdomain.Actor
	// RequiresLevel5 must be set by a level-4 approver and only by them.
	RequiresLevel5 *bool
	Comment        string
}

type RejectRequest struct {
	Ref    documentdomain.Ref
	Actor  documentdomain.Actor
	Reason string
}

type ReturnRequest struct {
	Ref     documentdomain.Ref
	Actor   documentdomain.Actor
	Comment string
}

// TransitionResult is the committed state after a transition.
type TransitionResult struct {
	Ref            documentdomain.Ref
	DocumentNumber string
	From           documentdomain.Status
	To             documentdomain.Status
	CurrentLevel   int
	RequiresLevel5 *bool
	Version        int64
}

type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (*TransitionResult, error)
	Approve(ctx context.Context, req ApproveRequest) (*TransitionResult, error)
	Reject(ctx context.Context, req RejectRequest) (*TransitionResult, error)
	ReturnForRevision(ctx context.Context, req ReturnRequest) (*TransitionResult, error)
	AvailableActions(ctx context.Context, ref documentdomain.Ref, actor documentdomain.Actor) ([]auditdomain.Action, error)
}
