// Package store is the gorm-backed persistence used by the supervisor and
// by gears resolving their configuration.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/frameforge/internal/gear"
	"github.com/zulandar/frameforge/internal/models"
	"github.com/zulandar/frameforge/internal/secret"
	"github.com/zulandar/frameforge/internal/supervisor"
	"github.com/zulandar/frameforge/internal/worker"
	"gorm.io/gorm"
)

// GearSettingPrefix prefixes the system setting key holding a gear's admin
// default config.
const GearSettingPrefix = "gear."

// Store implements supervisor.Store and gear.ConfigSource.
type Store struct {
	db  *gorm.DB
	box *secret.Box
}

// New creates a Store. box seals and opens bot tokens.
func New(db *gorm.DB, box *secret.Box) *Store {
	return &Store{db: db, box: box}
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB { return s.db }

// CreateAutomaton seals token into a and inserts it.
func (s *Store) CreateAutomaton(ctx context.Context, a *models.Automaton, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("store: create automaton: token is required")
	}
	sealed, err := s.box.Seal(token)
	if err != nil {
		return fmt.Errorf("store: create automaton: %w", err)
	}
	a.TokenCipher = sealed.Cipher
	a.TokenIV = sealed.IV
	a.TokenTag = sealed.Tag
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("store: create automaton: %w", err)
	}
	return nil
}

// Token returns the decrypted bot token for automaton id.
func (s *Store) Token(ctx context.Context, id string) (string, error) {
	a, err := s.automaton(ctx, id)
	if err != nil {
		return "", err
	}
	return s.open(a)
}

func (s *Store) automaton(ctx context.Context, id string) (*models.Automaton, error) {
	var a models.Automaton
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, supervisor.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load automaton %s: %w", id, err)
	}
	return &a, nil
}

func (s *Store) open(a *models.Automaton) (string, error) {
	token, err := s.box.Open(secret.Sealed{Cipher: a.TokenCipher, IV: a.TokenIV, Tag: a.TokenTag})
	if err != nil {
		return "", fmt.Errorf("store: decrypt token for %s: %w", a.ID, err)
	}
	return token, nil
}

// LoadLaunchSpec resolves what a worker needs to start: the decrypted
// token, the guild and the keys of gears enabled both globally and on the
// assignment, in assignment order.
func (s *Store) LoadLaunchSpec(ctx context.Context, id string) (worker.Spec, error) {
	a, err := s.automaton(ctx, id)
	if err != nil {
		return worker.Spec{}, err
	}
	token, err := s.open(a)
	if err != nil {
		return worker.Spec{}, err
	}
	keys, err := s.EnabledGearKeys(ctx, id)
	if err != nil {
		return worker.Spec{}, err
	}
	return worker.Spec{
		AutomatonID: a.ID,
		Token:       token,
		GuildID:     a.GuildID,
		Gears:       keys,
	}, nil
}

// EnabledGearKeys returns the keys of the gears a worker for id loads.
func (s *Store) EnabledGearKeys(ctx context.Context, id string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).
		Table("gear_assignments").
		Joins("JOIN gears ON gears.id = gear_assignments.gear_id").
		Where("gear_assignments.automaton_id = ? AND gear_assignments.enabled = ? AND gears.enabled = ?", id, true, true).
		Order("gear_assignments.created_at ASC, gears.key ASC").
		Pluck("gears.key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("store: gear keys for %s: %w", id, err)
	}
	return keys, nil
}

// SetStatus writes the automaton status.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	err := s.db.WithContext(ctx).Model(&models.Automaton{}).
		Where("id = ?", id).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("store: set status %s: %w", id, err)
	}
	return nil
}

// SetRunState writes status and desired running state together.
func (s *Store) SetRunState(ctx context.Context, id, status string, desired bool) error {
	err := s.db.WithContext(ctx).Model(&models.Automaton{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "desired_running": desired}).Error
	if err != nil {
		return fmt.Errorf("store: set run state %s: %w", id, err)
	}
	return nil
}

// SetDesired writes the desired running state.
func (s *Store) SetDesired(ctx context.Context, id string, desired bool) error {
	err := s.db.WithContext(ctx).Model(&models.Automaton{}).
		Where("id = ?", id).
		Update("desired_running", desired).Error
	if err != nil {
		return fmt.Errorf("store: set desired %s: %w", id, err)
	}
	return nil
}

// ListDesiredRunning returns the IDs that should be running, oldest first.
func (s *Store) ListDesiredRunning(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Automaton{}).
		Where("desired_running = ?", true).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("store: list desired running: %w", err)
	}
	return ids, nil
}

// Load returns the effective config of gear key for automatonID: the
// admin default from the gear.<key> setting with the assignment JSON laid
// over it. Enabled is false when the gear is unassigned or disabled at
// either level.
func (s *Store) Load(ctx context.Context, automatonID, key string) (gear.Config, error) {
	var base string
	var setting models.SystemSetting
	err := s.db.WithContext(ctx).Where("`key` = ?", GearSettingPrefix+key).First(&setting).Error
	switch {
	case err == nil:
		base = setting.Value
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return gear.Config{}, fmt.Errorf("store: gear setting %s: %w", key, err)
	}

	var row struct {
		ConfigJSON  string
		Enabled     bool
		GearEnabled bool
	}
	res := s.db.WithContext(ctx).
		Table("gear_assignments").
		Select("gear_assignments.config_json, gear_assignments.enabled, gears.enabled AS gear_enabled").
		Joins("JOIN gears ON gears.id = gear_assignments.gear_id").
		Where("gear_assignments.automaton_id = ? AND gears.key = ?", automatonID, key).
		Limit(1).
		Scan(&row)
	if res.Error != nil {
		return gear.Config{}, fmt.Errorf("store: gear assignment %s/%s: %w", automatonID, key, res.Error)
	}

	values, err := gear.MergeJSON(base, row.ConfigJSON)
	if err != nil {
		return gear.Config{}, fmt.Errorf("store: gear config %s/%s: %w", automatonID, key, err)
	}
	return gear.Config{
		Enabled: res.RowsAffected > 0 && row.Enabled && row.GearEnabled,
		Values:  values,
	}, nil
}
