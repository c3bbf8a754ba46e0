package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/payflow/internal/apperr"
	auditdomain "github.com/smallbiznis/payflow/internal/audit/domain"
	auditrepository "github.com/smallbiznis/payflow/internal/audit/repository"
	auditservice "github.com/smallbiznis/payflow/internal/audit/service"
	batchdomain "github.com/smallbiznis/payflow/internal/batch/domain"
	"github.com/smallbiznis/payflow/internal/batch/repository"
	documentdomain "github.com/smallbiznis/payflow/internal/document/domain"
	documentrepository "github.com/smallbiznis/payflow/internal/document/repository"
	documentservice "github.com/smallbiznis/payflow/internal/document/service"
	"github.com/smallbiznis/payflow/internal/lock"
	"github.com/smallbiznis/payflow/internal/notification"
	sequenceservice "github.com/smallbiznis/payflow/internal/sequence/service"
	"github.com/smallbiznis/payflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	officer  = documentdomain.Actor{ID: "officer-1", Level: 1}
	finance  = documentdomain.Actor{ID: "fm-1", Level: 3}
	director = documentdomain.Actor{ID: "md-1", Level: 5}
)

type fixture struct {
	svc       batchdomain.Service
	db        *gorm.DB
	documents documentdomain.Service
	docRepo   documentdomain.Repository
	trail     auditdomain.Trail
	publisher *testutil.RecordingPublisher
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := testutil.NewTestDB(t)
	node := testutil.NewNode(t)
	clk := testutil.NewClock()
	cfg := testutil.WorkflowConfig()
	log := zap.NewNop()

	allocator := sequenceservice.NewAllocator(sequenceservice.Params{
		DB:     conn,
		Log:    log,
		Locker: lock.NewKeyedMutex(),
		Clock:  clk,
		Config: cfg,
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
	publisher := &testutil.RecordingPublisher{}

	return fixture{
		svc: NewService(Params{
			DB:        conn,
			Log:       log,
			GenID:     node,
			Clock:     clk,
			Config:    cfg,
			Repo:      repository.Provide(),
			Documents: docRepo,
			Allocator: allocator,
			Audit:     trail,
			Publisher: publisher,
		}),
		db:        conn,
		documents: documents,
		docRepo:   docRepo,
		trail:     trail,
		publisher: publisher,
	}
}

// approved creates a voucher and moves it straight to APPROVED.
func (f fixture) approved(t *testing.T, amount string) documentdomain.Ref {
	t.Helper()
	ref := f.draft(t, amount)
	ok, err := f.docRepo.UpdateHeader(context.Background(), f.db, ref, 1, map[string]any{
		"status":        documentdomain.StatusApproved,
		"current_level": documentdomain.LevelGeneralManager,
	})
	require.NoError(t, err)
	require.True(t, ok)
	return ref
}

func (f fixture) draft(t *testing.T, amount string) documentdomain.Ref {
	t.Helper()
	v, err := f.documents.CreateVoucher(context.Background(), documentdomain.CreateVoucherRequest{
		Actor:       officer,
		PaymentDate: testutil.Date(2026, time.February, 20),
		TotalAmount: decimal.RequireFromString(amount),
		PayeeName:   "CV Maju Jaya",
	})
	require.NoError(t, err)
	return documentdomain.RefOf(v)
}

func (f fixture) countBatches(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&batchdomain.SignatureBatch{}).Count(&count).Error)
	return count
}

func TestCreateBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.approved(t, "100.00")
	b := f.approved(t, "250.50")

	batch, err := f.svc.CreateBatch(ctx, batchdomain.CreateBatchRequest{
		Documents: []documentdomain.Ref{a, b, a},
		Creator:   finance,
		Notes:     "February payroll",
	})
	require.NoError(t, err)
	assert.Equal(t, "BATCH-2026-0001", batch.BatchNumber)
	assert.Equal(t, batchdomain.StatusPending, batch.Status)
	assert.Len(t, batch.Members, 2)

	loaded, err := f.svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Members, 2)
	assert.Equal(t, "February payroll", loaded.Notes)

	log, err := f.trail.BatchLog(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, auditdomain.ActionBatchCreated, log[0].Action)

	second, err := f.svc.CreateBatch(ctx, batchdomain.CreateBatchRequest{
		Documents: []documentdomain.Ref{f.approved(t, "1.00")},
		Creator:   finance,
	})
	require.NoError(t, err)
	assert.Equal(t, "BATCH-2026-0002", second.BatchNumber)
}

func TestCreateBatchWithUnapprovedMemberCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	good := f.approved(t, "100.00")
	draft := f.draft(t, "50.00")
	missing := documentdomain.Ref{Kind: documentdomain.KindForm, ID: good.ID + 1}

	_, err := f.svc.CreateBatch(ctx, batchdomain.CreateBatchRequest{
		Documents: []documentdomain.Ref{good, draft, missing},
		Creator:   finance,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, batchdomain.ErrMemberNotApproved)
	assert.ErrorIs(t, err, batchdomain.ErrMemberNotFound)

	var members apperr.MemberErrors
	require.True(t, errors.As(err, &members))
	require.Len(t, members, 2)
	assert.Equal(t, draft.String(), members[0].Member)
	assert.Equal(t, missing.String(), members[1].Member)

	assert.Zero(t, f.countBatches(t))

	// the failed attempt consumed no batch number
	batch, err := f.svc.CreateBatch(ctx, batchdomain.CreateBatchRequest{Documents: []documentdomain.Ref{good}, Creator: finance})
	require.NoError(t, err)
	assert.Equal(t, "BATCH-2026-0001", batch.BatchNumber)
}

func TestCreateBatchRejectsMemberOfPendingBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.approved(t, "100.00")

	_, err := f.svc.CreateBatch(ctx, batchdomain.CreateBatchRequest{Documents: []documentdomain.Ref{ref}, Creator: finance})
	require.NoError(t, err)

	_, err = f.svc.CreateBatch(ctx, batchdomain.CreateBatchRequest{Documents: []documentdomain.Ref{ref}, Creator: finance})
	assert.ErrorIs(t, err, batchdomain.ErrMemberInBatch)
	assert.Equal(t, int64(1), f.countBatches(t))
}

func TestCreateBatchGating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateBatch(ctx, batchdomain.CreateBatchRequest{Documents: []documentdomain.Ref{f.approved(t, "1.00")}, Creator: officer})
	assert.ErrorIs(t, err, batchdomain.ErrNotBatchCreator)

	_, err = f.svc.CreateBatch(ctx, batchdomain.CreateBatchRequest{Creator: finance})
	assert.ErrorIs(t, err, batchdomain.ErrEmptyBatch)

	_, err = f.svc.CreateBatch(ctx, batchdomain.CreateBatchRequest{
		Documents: []documentdomain.Ref{{Kind: "INVOICE", ID: 1}},
		Creator:   finance,
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSignBatchRecordsOneEntryPerMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	refs := []documentdomain.Ref{f.approved(t, "10.00"), f.approved(t, "20.00"), f.approved(t, "30.00")}

	batch, err := f.svc.CreateBatch(ctx, batchdomain.CreateBatchRequest{Documents: refs, Creator: finance})
	require.NoError(t, err)

	signed, err := f.svc.SignBatch(ctx, batchdomain.SignBatchRequest{BatchID: batch.ID, Signer: director, Comments: "ok"})
	require.NoError(t, err)
	assert.Equal(t, batchdomain.StatusSigned, signed.Status)
	require.NotNil(t, signed.SignedBy)
	assert.Equal(t, "md-1", *signed.SignedBy)
	assert.NotNil(t, signed.SignedAt)

	entries, err := f.trail.BatchHistory(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, entry := range entries {
		assert.Equal(t, auditdomain.ActionSign, entry.Action)
		assert.Equal(t, string(documentdomain.StatusApproved), entry.StatusAfter)
	}

	events := f.publisher.Events()
	require.Len(t, events, 3)
	for _, event := range events {
		assert.Equal(t, notification.EventBatchSigned, event.Kind)
		assert.Equal(t, "officer-1", event.RecipientUserID)
		assert.Equal(t, batch.BatchNumber, event.BatchNumber)
	}

	_, err = f.svc.SignBatch(ctx, batchdomain.SignBatchRequest{BatchID: batch.ID, Signer: director})
	assert.ErrorIs(t, err, batchdomain.ErrBatchNotPending)
}

func TestSignBatchRollsBackWhenAMemberFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	refs := []documentdomain.Ref{f.approved(t, "10.00"), f.approved(t, "20.00"), f.approved(t, "30.00")}

	batch, err := f.svc.CreateBatch(ctx, batchdomain.CreateBatchRequest{Documents: refs, Creator: finance})
	require.NoError(t, err)

	inserts := 0
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("test:fail_third_history", func(tx *gorm.DB) {
		if tx.Statement.Table != "approval_history" {
			return
		}
		inserts++
		if inserts == 3 {
			_ = tx.AddError(errors.New("disk full"))
		}
	}))

	_, err = f.svc.SignBatch(ctx, batchdomain.SignBatchRequest{BatchID: batch.ID, Signer: director})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Equal(t, 3, inserts)

	entries, err := f.trail.BatchHistory(ctx, batch.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	loaded, err := f.svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batchdomain.StatusPending, loaded.Status)
	assert.Nil(t, loaded.SignedBy)
	assert.Empty(t, f.publisher.Events())
}

func TestSignBatchRequiresSignerLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch, err := f.svc.CreateBatch(ctx, batchdomain.CreateBatchRequest{Documents: []documentdomain.Ref{f.approved(t, "1.00")}, Creator: finance})
	require.NoError(t, err)

	_, err = f.svc.SignBatch(ctx, batchdomain.SignBatchRequest{BatchID: batch.ID, Signer: finance})
	assert.ErrorIs(t, err, batchdomain.ErrNotBatchSigner)

	_, err = f.svc.SignBatch(ctx, batchdomain.SignBatchRequest{BatchID: batch.ID + 1, Signer: director})
	assert.ErrorIs(t, err, batchdomain.ErrBatchNotFound)
}

func TestRejectBatchLeavesMembersApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	refs := []documentdomain.Ref{f.approved(t, "10.00"), f.approved(t, "20.00")}

	batch, err := f.svc.CreateBatch(ctx, batchdomain.CreateBatchRequest{Documents: refs, Creator: finance})
	require.NoError(t, err)

	_, err = f.svc.RejectBatch(ctx, batchdomain.RejectBatchRequest{BatchID: batch.ID, Signer: director, Comments: " "})
	assert.ErrorIs(t, err, batchdomain.ErrCommentsRequired)

	eligible, err := f.svc.ListEligible(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, eligible)

	rejected, err := f.svc.RejectBatch(ctx, batchdomain.RejectBatchRequest{BatchID: batch.ID, Signer: director, Comments: "amounts do not match invoices"})
	require.NoError(t, err)
	assert.Equal(t, batchdomain.StatusRejected, rejected.Status)
	assert.Equal(t, "amounts do not match invoices", rejected.Comments)

	for _, ref := range refs {
		doc, err := f.documents.Get(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, documentdomain.StatusApproved, doc.Base().Status)
	}

	entries, err := f.trail.BatchHistory(ctx, batch.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	log, err := f.trail.BatchLog(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, auditdomain.ActionBatchRejected, log[1].Action)

	events := f.publisher.Events()
	require.Len(t, events, 2)
	assert.Equal(t, notification.EventBatchRejected, events[0].Kind)
	assert.Equal(t, "fm-1", events[0].RecipientUserID)
	assert.Equal(t, 3, events[0].RecipientLevel)

	// members can be batched again
	eligible, err = f.svc.ListEligible(ctx, documentdomain.KindVoucher)
	require.NoError(t, err)
	assert.Len(t, eligible, 2)

	again, err := f.svc.CreateBatch(ctx, batchdomain.CreateBatchRequest{Documents: refs, Creator: finance})
	require.NoError(t, err)
	assert.Equal(t, "BATCH-2026-0002", again.BatchNumber)
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	refs := []documentdomain.Ref{f.approved(t, "1000.25"), f.approved(t, "499.75")}

	batch, err := f.svc.CreateBatch(ctx, batchdomain.CreateBatchRequest{Documents: refs, Creator: finance})
	require.NoError(t, err)

	summary, err := f.svc.Summary(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.DocumentCount)
	assert.Equal(t, 2, summary.CountByKind[documentdomain.KindVoucher])
	assert.True(t, decimal.RequireFromString("1500.00").Equal(summary.TotalAmount), summary.TotalAmount.String())
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateBatch(ctx, batchdomain.CreateBatchRequest{Documents: []documentdomain.Ref{f.approved(t, "1.00")}, Creator: finance})
		require.NoError(t, err)
	}

	req := batchdomain.ListBatchRequest{Status: batchdomain.StatusPending}
	req.PageSize = 2
	first, err := f.svc.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, first.Batches, 2)
	require.True(t, first.HasMore)

	req.PageToken = first.NextPageToken
	second, err := f.svc.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, second.Batches, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, "BATCH-2026-0001", second.Batches[0].BatchNumber)
}
