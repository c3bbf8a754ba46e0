package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: vouchers.document_number")))
	assert.True(t, IsDuplicateKeyErr(errors.New(`ERROR: duplicate key value violates unique constraint "idx"`)))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
}

func TestIsConflictErr(t *testing.T) {
	cases := map[string]bool{
		"ERROR: could not serialize access due to concurrent update (SQLSTATE 40001)": true,
		"ERROR: deadlock detected (SQLSTATE 40P01)":                                   true,
		"Error 1205: Lock wait timeout exceeded":                                      true,
		"database is locked (5) (SQLITE_BUSY)":                                        true,
		"record not found":                                                            false,
	}
	for msg, want := range cases {
		assert.Equal(t, want, IsConflictErr(errors.New(msg)), msg)
	}
	assert.False(t, IsConflictErr(nil))
}
