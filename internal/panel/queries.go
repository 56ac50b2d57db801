package panel

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/zulandar/frameforge/internal/models"
	"gorm.io/gorm"
)

// findOne returns the first row of q, or nil when there is none.
func findOne[T any](q *gorm.DB) (*T, error) {
	var v T
	err := q.First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Server) findAutomaton(ctx context.Context, id string) (*models.Automaton, error) {
	return findOne[models.Automaton](s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *Server) ownedAutomaton(ctx context.Context, id, ownerID string) (*models.Automaton, error) {
	return findOne[models.Automaton](s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID))
}

func (s *Server) findUser(ctx context.Context, id string) (*models.User, error) {
	return findOne[models.User](s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *Server) gearByKey(ctx context.Context, key string) (*models.Gear, error) {
	return findOne[models.Gear](s.db.WithContext(ctx).Where("`key` = ?", key))
}

func (s *Server) assignmentFor(ctx context.Context, automatonID, gearID string) (*models.GearAssignment, error) {
	return findOne[models.GearAssignment](s.db.WithContext(ctx).
		Where("automaton_id = ? AND gear_id = ?", automatonID, gearID))
}

func (s *Server) adminExists(ctx context.Context) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&n).Error
	return n > 0, err
}

// automatonCounts returns automaton counts keyed by owner ID.
func (s *Server) automatonCounts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		OwnerID string
		Count   int64
	}
	err := s.db.WithContext(ctx).Model(&models.Automaton{}).
		Select("owner_id, count(*) as count").
		Group("owner_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.OwnerID] = r.Count
	}
	return out, nil
}

// deleteAutomaton removes an automaton and the rows that hang off it. The
// caller stops the worker first.
func deleteAutomaton(tx *gorm.DB, id string) error {
	if err := tx.Where("automaton_id = ?", id).Delete(&models.GearAssignment{}).Error; err != nil {
		return err
	}
	if err := tx.Where("automaton_id = ?", id).Delete(&models.NewsPost{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", id).Delete(&models.Automaton{}).Error
}

// Stats is the admin dashboard summary.
type Stats struct {
	Users         int64   `json:"users"`
	Automatons    int64   `json:"automatons"`
	Running       int     `json:"running"`
	Gears         int64   `json:"gears"`
	OpenTickets   int64   `json:"openTickets"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Goroutines    int     `json:"goroutines"`
	CPUCount      int     `json:"cpuCount"`
	Memory        struct {
		Alloc uint64 `json:"alloc"`
		Sys   uint64 `json:"sys"`
	} `json:"memory"`
}

func (s *Server) stats(ctx context.Context) (*Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.User{}).Where("role = ?", models.RoleUser).Count(&st.Users).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Automaton{}).Count(&st.Automatons).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Gear{}).Count(&st.Gears).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Ticket{}).
		Where("status IN ?", []string{models.TicketOpen, models.TicketInProgress}).
		Count(&st.OpenTickets).Error; err != nil {
		return nil, err
	}
	st.Running = len(s.sup.Running())
	st.UptimeSeconds = time.Since(s.opts.StartedAt).Seconds()
	st.Goroutines = runtime.NumGoroutine()
	st.CPUCount = runtime.NumCPU()
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	st.Memory.Alloc = ms.Alloc
	st.Memory.Sys = ms.Sys
	return &st, nil
}
