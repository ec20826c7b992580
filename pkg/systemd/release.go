package systemd

import (
	"context"
	"errors"
	"fmt"

	"github.com/LeoCommon/gpsrecorder/pkg/log"
	"go.uber.org/zap"
)

// UnitController is the part of the Connector needed to free the receiver
type UnitController interface {
	CheckUnitState(ctx context.Context, unitName string) (string, error)
	StopUnit(ctx context.Context, unitName string) (bool, error)
}

// ReleaseUnits stops every active unit in the list, e.g. a gpsd.service holding the
// receiver port. Inactive units are left alone, all units are tried.
func ReleaseUnits(ctx context.Context, c UnitController, units []string) error {
	var errs []error

	for _, unit := range units {
		state, err := c.CheckUnitState(ctx, unit)
		if err != nil {
			errs = append(errs, fmt.Errorf("could not query %s: %w", unit, err))
			continue
		}

		if state != ServiceStateActive && state != ServiceStateActivating {
			log.Debug("unit not running", zap.String("unit", unit), zap.String("state", state))
			continue
		}

		log.Info("stopping unit that holds the receiver", zap.String("unit", unit))
		done, err := c.StopUnit(ctx, unit)
		if err != nil {
			errs = append(errs, fmt.Errorf("could not stop %s: %w", unit, err))
			continue
		}
		if !done {
			errs = append(errs, fmt.Errorf("stop job for %s did not finish", unit))
		}
	}

	return errors.Join(errs...)
}
