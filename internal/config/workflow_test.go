package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultWorkflowConfigIsValid(t *testing.T) {
	cfg := DefaultWorkflowConfig()
	require.NoError(t, ValidateWorkflowConfig(cfg))
	assert.Equal(t, 3, cfg.Batch.CreatorLevel)
	assert.Equal(t, 5, cfg.Batch.SignerLevel)
	assert.False(t, cfg.Numbering.AssignOnCreate)
}

func TestValidateWorkflowConfig(t *testing.T) {
	cfg := DefaultWorkflowConfig()
	cfg.Batch.SignerLevel = 7
	assert.Error(t, ValidateWorkflowConfig(cfg))

	cfg = DefaultWorkflowConfig()
	cfg.Sequence.MaxAttempts = 0
	assert.Error(t, ValidateWorkflowConfig(cfg))

	cfg = DefaultWorkflowConfig()
	cfg.Notification.Roles = map[string][]string{"cfo": {"cfo@example.com"}}
	assert.Error(t, ValidateWorkflowConfig(cfg))
}

func TestRoleRecipients(t *testing.T) {
	rules := NotificationRules{Roles: map[string][]string{"5": {"md@example.com"}}}
	assert.Equal(t, []string{"md@example.com"}, rules.RoleRecipients(5))
	assert.Empty(t, rules.RoleRecipients(2))
}

func TestNewWorkflowConfigHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	body := []byte(`workflow:
  batch:
    creatorLevel: 4
  numbering:
    assignOnCreate: true
  sequence:
    lockTTL: 2s
  notification:
    roles:
      "2": ["supervisor@example.com"]
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workflow.yml"), body, 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewWorkflowConfigHolder(zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 4, cfg.Batch.CreatorLevel)
	assert.Equal(t, 5, cfg.Batch.SignerLevel)
	assert.True(t, cfg.Numbering.AssignOnCreate)
	assert.Equal(t, 2*time.Second, cfg.Sequence.LockTTL)
	assert.Equal(t, []string{"supervisor@example.com"}, cfg.Notification.RoleRecipients(2))
}

func TestNewWorkflowConfigHolderKeepsDefaultsForMissingKeys(t *testing.T) {
	dir := t.TempDir()
	body := []byte("workflow:\n  numbering:\n    assignOnCreate: true\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workflow.yml"), body, 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewWorkflowConfigHolder(zap.NewNop())
	require.NoError(t, err)

	defaults := DefaultWorkflowConfig()
	cfg := holder.Get()
	assert.True(t, cfg.Numbering.AssignOnCreate)
	assert.Equal(t, defaults.Batch, cfg.Batch)
	assert.Equal(t, defaults.Sequence, cfg.Sequence)
	assert.Equal(t, defaults.Notification.Workers, cfg.Notification.Workers)
	assert.Equal(t, defaults.Notification.Buffer, cfg.Notification.Buffer)
}
