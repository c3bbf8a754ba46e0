package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// WorkflowConfig holds the tunable rules of the approval workflow.
type WorkflowConfig struct {
	Batch        BatchRules        `mapstructure:"batch"`
	Numbering    NumberingRules    `mapstructure:"numbering"`
	Sequence     SequenceRules     `mapstructure:"sequence"`
	Notification NotificationRules `mapstructure:"notification"`
}

type BatchRules struct {
	CreatorLevel int `mapstructure:"creatorLevel"`
	SignerLevel  int `mapstructure:"signerLevel"`
}

type NumberingRules struct {
	// AssignOnCreate numbers documents when they are created instead of on
	// first submission.
	AssignOnCreate bool `mapstructure:"assignOnCreate"`
}

type SequenceRules struct {
	LockTTL     time.Duration `mapstructure:"lockTTL"`
	MaxAttempts int           `mapstructure:"maxAttempts"`
}

type NotificationRules struct {
	Workers int `mapstructure:"workers"`
	Buffer  int `mapstructure:"buffer"`
	// Roles maps an approval level ("2".."5") to the addresses notified
	// when a document reaches that level.
	Roles map[string][]string `mapstructure:"roles"`
	// Users maps a user id to its address.
	Users map[string]string `mapstructure:"users"`
}

// RoleRecipients returns the addresses registered for level.
func (n NotificationRules) RoleRecipients(level int) []string {
	return n.Roles[strconv.Itoa(level)]
}

func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		Batch: BatchRules{
			CreatorLevel: 3,
			SignerLevel:  5,
		},
		Sequence: SequenceRules{
			LockTTL:     5 * time.Second,
			MaxAttempts: 5,
		},
		Notification: NotificationRules{
			Workers: 2,
			Buffer:  256,
		},
	}
}

type WorkflowConfigHolder struct {
	current atomic.Value // holds WorkflowConfig
}

// NewStaticWorkflowConfigHolder returns a holder that never reloads.
func NewStaticWorkflowConfigHolder(cfg WorkflowConfig) *WorkflowConfigHolder {
	holder := &WorkflowConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewWorkflowConfigHolder(log *zap.Logger) (*WorkflowConfigHolder, error) {
	log = log.Named("config.workflow")
	v := viper.New()

	v.SetConfigName("workflow")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/payflow")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultWorkflowConfig()
	v.SetDefault("workflow.batch.creatorLevel", defaults.Batch.CreatorLevel)
	v.SetDefault("workflow.batch.signerLevel", defaults.Batch.SignerLevel)
	v.SetDefault("workflow.numbering.assignOnCreate", defaults.Numbering.AssignOnCreate)
	v.SetDefault("workflow.sequence.lockTTL", defaults.Sequence.LockTTL)
	v.SetDefault("workflow.sequence.maxAttempts", defaults.Sequence.MaxAttempts)
	v.SetDefault("workflow.notification.workers", defaults.Notification.Workers)
	v.SetDefault("workflow.notification.buffer", defaults.Notification.Buffer)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
		log.Info("workflow config not found, using defaults")
	}

	cfg, err := decodeWorkflowConfig(v)
	if err != nil {
		return nil, err
	}
	if err := ValidateWorkflowConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticWorkflowConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeWorkflowConfig(v)
		if err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := ValidateWorkflowConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// decodeWorkflowConfig decodes the whole tree over the defaults so keys the
// file leaves out keep their default value.
func decodeWorkflowConfig(v *viper.Viper) (WorkflowConfig, error) {
	wrapper := struct {
		Workflow WorkflowConfig `mapstructure:"workflow"`
	}{Workflow: DefaultWorkflowConfig()}
	if err := v.Unmarshal(&wrapper); err != nil {
		return WorkflowConfig{}, err
	}
	return wrapper.Workflow, nil
}

func (h *WorkflowConfigHolder) Get() WorkflowConfig {
	return h.current.Load().(WorkflowConfig)
}

func ValidateWorkflowConfig(cfg WorkflowConfig) error {
	if cfg.Batch.CreatorLevel < 1 || cfg.Batch.CreatorLevel > 5 {
		return fmt.Errorf("workflow.batch.creatorLevel out of range: %d", cfg.Batch.CreatorLevel)
	}
	if cfg.Batch.SignerLevel < 1 || cfg.Batch.SignerLevel > 5 {
		return fmt.Errorf("workflow.batch.signerLevel out of range: %d", cfg.Batch.SignerLevel)
	}
	if cfg.Sequence.LockTTL <= 0 {
		return errors.New("workflow.sequence.lockTTL must be positive")
	}
	if cfg.Sequence.MaxAttempts < 1 {
		return errors.New("workflow.sequence.maxAttempts must be at least 1")
	}
	if cfg.Notification.Workers < 1 {
		return errors.New("workflow.notification.workers must be at least 1")
	}
	if cfg.Notification.Buffer < 1 {
		return errors.New("workflow.notification.buffer must be at least 1")
	}
	for level := range cfg.Notification.Roles {
		n, err := strconv.Atoi(level)
		if err != nil || n < 1 || n > 5 {
			return fmt.Errorf("workflow.notification.roles: invalid level %q", level)
		}
	}
	return nil
}
