package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payflow/internal/apperr"
	approvaldomain "github.com/smallbiznis/payflow/internal/approval/domain"
	auditdomain "github.com/smallbiznis/payflow/internal/audit/domain"
	auditrepository "github.com/smallbiznis/payflow/internal/audit/repository"
	auditservice "github.com/smallbiznis/payflow/internal/audit/service"
	documentdomain "github.com/smallbiznis/payflow/internal/document/domain"
	documentrepository "github.com/smallbiznis/payflow/internal/document/repository"
	documentservice "github.com/smallbiznis/payflow/internal/document/service"
	"github.com/smallbiznis/payflow/internal/lock"
	"github.com/smallbiznis/payflow/internal/notification"
	"github.com/smallbiznis/payflow/internal/observability/metrics"
	sequenceservice "github.com/smallbiznis/payflow/internal/sequence/service"
	fixtures "github.com/smallbiznis/payflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	officer    = documentdomain.Actor{ID: "officer-1", Level: 1}
	supervisor = documentdomain.Actor{ID: "sup-1", Level: 2}
	finance    = documentdomain.Actor{ID: "fm-1", Level: 3}
	general    = documentdomain.Actor{ID: "gm-1", Level: 4}
	director   = documentdomain.Actor{ID: "md-1", Level: 5}
)

type fixture struct {
	svc       approvaldomain.Service
	documents documentdomain.Service
	trail     auditdomain.Trail
	publisher *fixtures.RecordingPublisher
	registry  *prometheus.Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	publisher := &fixtures.RecordingPublisher{}
	f := newFixtureWith(t, publisher)
	f.publisher = publisher
	return f
}

func newFixtureWith(t *testing.T, publisher notification.Publisher) fixture {
	t.Helper()
	conn := fixtures.NewTestDB(t)
	node := fixtures.NewNode(t)
	clk := fixtures.NewClock()
	cfg := fixtures.WorkflowConfig()
	log := zap.NewNop()
	registry := prometheus.NewRegistry()
	wm := metrics.NewWorkflowMetrics(registry, metrics.Config{})

	allocator := sequenceservice.NewAllocator(sequenceservice.Params{
		DB:      conn,
		Log:     log,
		Locker:  lock.NewKeyedMutex(),
		Clock:   clk,
		Config:  cfg,
		Metrics: wm,
	})
	trail := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  auditrepository.Provide(),
	})
	docRepo := documentrepository.Provide()
	documents := documentservice.NewService(documentservice.ServiceParam{
		DB:        conn,
		Log:       log,
		GenID:     node,
		Clock:     clk,
		Config:    cfg,
		Repo:      docRepo,
		Allocator: allocator,
		Audit:     trail,
	})

	return fixture{
		svc: NewService(Params{
			DB:        conn,
			Log:       log,
			Clock:     clk,
			Documents: docRepo,
			Allocator: allocator,
			Audit:     trail,
			Publisher: publisher,
			Metrics:   wm,
		}),
		documents: documents,
		trail:     trail,
		registry:  registry,
	}
}

func (f fixture) voucher(t *testing.T, paymentDate time.Time) documentdomain.Ref {
	t.Helper()
	v, err := f.documents.CreateVoucher(context.Background(), documentdomain.CreateVoucherRequest{
		Actor:       officer,
		PaymentDate: paymentDate,
		TotalAmount: decimal.RequireFromString("1250000.50"),
		PayeeName:   "PT Sumber Makmur",
		BankName:    "BCA",
		BankAccount: "1234567890",
	})
	require.NoError(t, err)
	return documentdomain.RefOf(v)
}

func (f fixture) header(t *testing.T, ref documentdomain.Ref) *documentdomain.Header {
	t.Helper()
	doc, err := f.documents.Get(context.Background(), ref)
	require.NoError(t, err)
	return doc.Base()
}

func (f fixture) submitToLevel4(t *testing.T, ref documentdomain.Ref) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, approvaldomain.SubmitRequest{Ref: ref, Actor: officer})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, approvaldomain.ApproveRequest{Ref: ref, Actor: supervisor})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, approvaldomain.ApproveRequest{Ref: ref, Actor: finance})
	require.NoError(t, err)
}

func boolPtr(v bool) *bool { return &v }

func TestSubmitAssignsNumberFromPaymentDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.voucher(t, fixtures.Date(2026, time.January, 20))

	assert.Empty(t, f.header(t, ref).Number())

	res, err := f.svc.Submit(ctx, approvaldomain.SubmitRequest{Ref: ref, Actor: officer})
	require.NoError(t, err)
	assert.Equal(t, "2601-0001", res.DocumentNumber)
	assert.Equal(t, documentdomain.StatusPendingL2, res.To)

	h := f.header(t, ref)
	assert.Equal(t, "2601-0001", h.Number())
	assert.Equal(t, documentdomain.StatusPendingL2, h.Status)
	assert.Equal(t, 2, h.CurrentLevel)
	assert.Equal(t, int64(2), h.Version)

	history, err := f.trail.History(ctx, ref)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, auditdomain.ActionSubmit, history[0].Action)
	assert.Equal(t, string(documentdomain.StatusDraft), history[0].StatusBefore)

	events := f.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notification.EventSubmitted, events[0].Kind)
	assert.Equal(t, 2, events[0].RecipientLevel)
	assert.Equal(t, "2601-0001", events[0].DocumentNumber)
}

func TestSubmitNumbersFollowPaymentMonthNotCreationOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var numbers []string
	for _, date := range []time.Time{
		fixtures.Date(2026, time.January, 15),
		fixtures.Date(2026, time.February, 5),
		fixtures.Date(2026, time.January, 20),
	} {
		ref := f.voucher(t, date)
		res, err := f.svc.Submit(ctx, approvaldomain.SubmitRequest{Ref: ref, Actor: officer})
		require.NoError(t, err)
		numbers = append(numbers, res.DocumentNumber)
	}

	assert.Equal(t, []string{"2601-0001", "2602-0001", "2601-0002"}, numbers)
}

func TestSubmitByOtherUserFails(t *testing.T) {
	f := newFixture(t)
	ref := f.voucher(t, fixtures.Date(2026, time.February, 1))

	_, err := f.svc.Submit(context.Background(), approvaldomain.SubmitRequest{
		Ref:   ref,
		Actor: documentdomain.Actor{ID: "officer-2", Level: 1},
	})
	require.ErrorIs(t, err, apperr.ErrIllegalTransition)

	h := f.header(t, ref)
	assert.Equal(t, documentdomain.StatusDraft, h.Status)
	assert.Empty(t, h.Number())
}

func TestApproveByWrongLevelChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.voucher(t, fixtures.Date(2026, time.February, 1))
	_, err := f.svc.Submit(ctx, approvaldomain.SubmitRequest{Ref: ref, Actor: officer})
	require.NoError(t, err)
	before := f.header(t, ref)

	for _, actor := range []documentdomain.Actor{officer, finance, general, director} {
		_, err := f.svc.Approve(ctx, approvaldomain.ApproveRequest{Ref: ref, Actor: actor})
		require.Error(t, err)
		assert.ErrorIs(t, err, apperr.ErrIllegalTransition)
	}

	after := f.header(t, ref)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.CurrentLevel, after.CurrentLevel)
	assert.Equal(t, before.Version, after.Version)

	history, err := f.trail.History(ctx, ref)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	expected := `
# HELP payflow_document_commands_rejected_total Workflow commands refused before any state change, by error kind.
# TYPE payflow_document_commands_rejected_total counter
payflow_document_commands_rejected_total{action="APPROVE",env="unknown",reason="illegal_transition",service="payflow"} 4
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "payflow_document_commands_rejected_total"))
}

func TestRejectAndReturnRequireText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.voucher(t, fixtures.Date(2026, time.February, 1))
	_, err := f.svc.Submit(ctx, approvaldomain.SubmitRequest{Ref: ref, Actor: officer})
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, approvaldomain.RejectRequest{Ref: ref, Actor: supervisor, Reason: ""})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.ReturnForRevision(ctx, approvaldomain.ReturnRequest{Ref: ref, Actor: supervisor, Comment: "  "})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	assert.Equal(t, documentdomain.StatusPendingL2, f.header(t, ref).Status)
	history, err := f.trail.History(ctx, ref)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRejectIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.voucher(t, fixtures.Date(2026, time.February, 1))
	_, err := f.svc.Submit(ctx, approvaldomain.SubmitRequest{Ref: ref, Actor: officer})
	require.NoError(t, err)

	res, err := f.svc.Reject(ctx, approvaldomain.RejectRequest{Ref: ref, Actor: supervisor, Reason: "duplicate invoice"})
	require.NoError(t, err)
	assert.Equal(t, documentdomain.StatusRejected, res.To)

	_, err = f.svc.Submit(ctx, approvaldomain.SubmitRequest{Ref: ref, Actor: officer})
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)

	events := f.publisher.Events()
	last := events[len(events)-1]
	assert.Equal(t, notification.EventRejected, last.Kind)
	assert.Equal(t, "officer-1", last.RecipientUserID)
	assert.Equal(t, "duplicate invoice", last.Comment)

	history, err := f.trail.History(ctx, ref)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "duplicate invoice", history[1].Comment)
}

func TestResubmitAfterRevisionKeepsNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.voucher(t, fixtures.Date(2026, time.February, 1))
	f.submitToLevel4(t, ref)
	number := f.header(t, ref).Number()
	require.NotEmpty(t, number)

	res, err := f.svc.ReturnForRevision(ctx, approvaldomain.ReturnRequest{Ref: ref, Actor: general, Comment: "wrong bank account"})
	require.NoError(t, err)
	assert.Equal(t, documentdomain.StatusOnRevision, res.To)
	assert.Equal(t, documentdomain.LevelCreator, res.CurrentLevel)

	account := "0987654321"
	_, err = f.documents.UpdateContent(ctx, documentdomain.UpdateContentRequest{Ref: ref, Actor: officer, BankAccount: &account})
	require.NoError(t, err)

	res, err = f.svc.Submit(ctx, approvaldomain.SubmitRequest{Ref: ref, Actor: officer})
	require.NoError(t, err)
	assert.Equal(t, number, res.DocumentNumber)
	assert.Equal(t, documentdomain.StatusPendingL2, res.To)

	h := f.header(t, ref)
	assert.Equal(t, number, h.Number())
	assert.Equal(t, 2, h.CurrentLevel)
	assert.Nil(t, h.RequiresLevel5)

	// a fresh supervisor approval is needed again
	_, err = f.svc.Approve(ctx, approvaldomain.ApproveRequest{Ref: ref, Actor: finance})
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)

	chain, err := f.trail.CurrentChain(ctx, ref)
	require.NoError(t, err)
	assert.Len(t, chain, 1)

	// only one number was consumed in the bucket
	next := f.voucher(t, fixtures.Date(2026, time.February, 2))
	res, err = f.svc.Submit(ctx, approvaldomain.SubmitRequest{Ref: next, Actor: officer})
	require.NoError(t, err)
	assert.Equal(t, "2602-0002", res.DocumentNumber)
}

func TestLevelFourSkipsLevelFive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.voucher(t, fixtures.Date(2026, time.February, 1))
	f.submitToLevel4(t, ref)

	_, err := f.svc.Approve(ctx, approvaldomain.ApproveRequest{Ref: ref, Actor: general})
	assert.ErrorIs(t, err, approvaldomain.ErrDecisionRequired)

	res, err := f.svc.Approve(ctx, approvaldomain.ApproveRequest{Ref: ref, Actor: general, RequiresLevel5: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, documentdomain.StatusApproved, res.To)

	h := f.header(t, ref)
	assert.Equal(t, documentdomain.StatusApproved, h.Status)
	assert.Equal(t, 4, h.CurrentLevel)
	require.NotNil(t, h.RequiresLevel5)
	assert.False(t, *h.RequiresLevel5)

	events := f.publisher.Events()
	last := events[len(events)-1]
	assert.Equal(t, notification.EventApproved, last.Kind)
	assert.Equal(t, "officer-1", last.RecipientUserID)

	_, err = f.svc.Approve(ctx, approvaldomain.ApproveRequest{Ref: ref, Actor: director})
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)
}

func TestLevelFourEscalatesToLevelFive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.voucher(t, fixtures.Date(2026, time.February, 1))
	f.submitToLevel4(t, ref)

	res, err := f.svc.Approve(ctx, approvaldomain.ApproveRequest{Ref: ref, Actor: general, RequiresLevel5: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, documentdomain.StatusPendingL5, res.To)
	assert.Equal(t, 5, res.CurrentLevel)

	_, err = f.svc.Approve(ctx, approvaldomain.ApproveRequest{Ref: ref, Actor: general, RequiresLevel5: boolPtr(false)})
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)

	res, err = f.svc.Approve(ctx, approvaldomain.ApproveRequest{Ref: ref, Actor: director})
	require.NoError(t, err)
	assert.Equal(t, documentdomain.StatusApproved, res.To)

	history, err := f.trail.History(ctx, ref)
	require.NoError(t, err)
	actions := make([]auditdomain.Action, 0, len(history))
	for _, entry := range history {
		actions = append(actions, entry.Action)
	}
	assert.Equal(t, []auditdomain.Action{
		auditdomain.ActionSubmit,
		auditdomain.ActionApprove,
		auditdomain.ActionApprove,
		auditdomain.ActionApprove,
		auditdomain.ActionApprove,
	}, actions)

	series, err := testutil.GatherAndCount(f.registry, "payflow_document_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 5, series)
}

func TestConcurrentApprovalsSucceedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.voucher(t, fixtures.Date(2026, time.February, 1))
	_, err := f.svc.Submit(ctx, approvaldomain.SubmitRequest{Ref: ref, Actor: officer})
	require.NoError(t, err)

	const callers = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Approve(ctx, approvaldomain.ApproveRequest{Ref: ref, Actor: supervisor})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t,
				apperr.KindOf(err) == apperr.ErrIllegalTransition || apperr.KindOf(err) == apperr.ErrConcurrencyConflict,
				"unexpected error %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, documentdomain.StatusPendingL3, f.header(t, ref).Status)
	history, err := f.trail.History(ctx, ref)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestAvailableActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.voucher(t, fixtures.Date(2026, time.February, 1))

	actions, err := f.svc.AvailableActions(ctx, ref, officer)
	require.NoError(t, err)
	assert.Equal(t, []auditdomain.Action{auditdomain.ActionSubmit}, actions)

	_, err = f.svc.Submit(ctx, approvaldomain.SubmitRequest{Ref: ref, Actor: officer})
	require.NoError(t, err)

	actions, err = f.svc.AvailableActions(ctx, ref, supervisor)
	require.NoError(t, err)
	assert.Len(t, actions, 3)

	_, err = f.svc.AvailableActions(ctx, documentdomain.Ref{Kind: documentdomain.KindForm, ID: ref.ID}, supervisor)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

type panickingPublisher struct{}

func (panickingPublisher) Publish(context.Context, notification.Event) {
	panic("notification queue closed")
}

func TestTransitionSurvivesPanickingPublisher(t *testing.T) {
	f := newFixtureWith(t, panickingPublisher{})
	ctx := context.Background()
	ref := f.voucher(t, fixtures.Date(2026, time.January, 20))

	var (
		res *approvaldomain.TransitionResult
		err error
	)
	require.NotPanics(t, func() {
		res, err = f.svc.Submit(ctx, approvaldomain.SubmitRequest{Ref: ref, Actor: officer})
	})
	require.NoError(t, err)
	assert.Equal(t, "2601-0001", res.DocumentNumber)

	require.NotPanics(t, func() {
		_, err = f.svc.Approve(ctx, approvaldomain.ApproveRequest{Ref: ref, Actor: supervisor})
	})
	require.NoError(t, err)

	h := f.header(t, ref)
	assert.Equal(t, documentdomain.StatusPendingL3, h.Status)
	assert.Equal(t, "2601-0001", h.Number())

	history, err := f.trail.History(ctx, ref)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, auditdomain.ActionSubmit, history[0].Action)
	assert.Equal(t, auditdomain.ActionApprove, history[1].Action)
}
