// Package gears holds the built-in gears shipped with Frameforge.
package gears

import (
	"fmt"

	"github.com/zulandar/frameforge/internal/gear"
)

// Register adds every built-in gear to r.
func Register(r *gear.Registry) error {
	for _, f := range []gear.Factory{
		func() gear.Gear { return NewPing() },
		func() gear.Gear { return NewPresence(DefaultPresenceInterval) },
		func() gear.Gear { return NewNews() },
	} {
		if err := r.Register(f); err != nil {
			return fmt.Errorf("gears: %w", err)
		}
	}
	return nil
}
