package tracing

import (
	"errors"
	"testing"

	"github.com/smallbiznis/payflow/internal/apperr"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsFreeText(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("document_kind", "VOUCHER"),
		attribute.String("comment", "wrong payee, please fix"),
		attribute.String("bank_account", "0011223344"),
	)
	if assert.Len(t, attrs, 1) {
		assert.Equal(t, attribute.Key("document_kind"), attrs[0].Key)
	}
}

func TestSafeError(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	assert.EqualError(t, SafeError(apperr.Validation("reason_required", "reason for J. Doe is empty")), "reason_required")
	assert.EqualError(t, SafeError(errors.New("pq: password authentication failed")), "internal_error")
}
