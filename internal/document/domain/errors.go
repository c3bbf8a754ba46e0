package domain

import "github.com/smallbiznis/payflow/internal/apperr"

var (
	ErrDocumentNotFound  = apperr.NotFound("document_not_found", "")
	ErrInvalidKind       = apperr.Validation("invalid_kind", "document kind must be VOUCHER or FORM")
	ErrInvalidAmount     = apperr.Validation("invalid_amount", "total amount must not be negative")
	ErrNotCreator        = apperr.IllegalTransition("not_creator", "only the creator may change this document")
	ErrContentLocked     = apperr.IllegalTransition("content_locked", "content can only change in DRAFT or ON_REVISION")
	ErrPaymentDateLocked = apperr.Validation("payment_date_locked", "a numbered document cannot move to another month")
	ErrVersionConflict   = apperr.Conflict("version_conflict", "document changed concurrently")
	ErrInvalidPageToken  = apperr.Validation("invalid_page_token", "")
	ErrInvalidDateRange  = apperr.Validation("invalid_date_range", "payment date range ends before it starts")
	ErrInternalNote      = apperr.IllegalTransition("internal_note_forbidden", "only approvers may add internal notes")
)
