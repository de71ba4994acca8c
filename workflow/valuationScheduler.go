package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/stock_backend/config"
	"github.com/mmdatafocus/stock_backend/models"
	"github.com/mmdatafocus/stock_backend/utils"
	"github.com/sirupsen/logrus"
)

const valuationSnapshotLockTTL = 5 * time.Minute

// ValuationScheduler takes the daily valuation snapshot of every active
// business. It ticks several times a day; the first tick of a business day
// writes the snapshot and the later ones are no-ops.
type ValuationScheduler struct {
	Logger   *logrus.Logger
	Interval time.Duration
	Now      func() time.Time
}

func NewValuationScheduler(logger *logrus.Logger) *ValuationScheduler {
	return &ValuationScheduler{
		Logger:   logger,
		Interval: config.ValuationSchedulerInterval(),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *ValuationScheduler) Run(ctx context.Context) {
	for {
		if _, err := s.RunOnce(ctx); err != nil {
			config.LogError(s.logger(), "ValuationScheduler", "Run", "snapshot tick", nil, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.Interval):
		}
	}
}

// RunOnce snapshots every active business for its current calendar day and
// returns how many snapshots were newly written.
func (s *ValuationScheduler) RunOnce(ctx context.Context) (int, error) {
	businesses, err := models.ListActiveBusinesses(ctx)
	if err != nil {
		return 0, err
	}
	now := s.Now()
	created := 0
	for _, business := range businesses {
		businessId := business.ID.String()
		day, err := utils.CalendarDate(now, business.Timezone)
		if err != nil {
			config.LogError(s.logger(), "ValuationScheduler", "RunOnce", "calendar day", businessId, err)
			continue
		}
		lockKey := fmt.Sprintf("valuationSnapshot:%s:%s", businessId, day.Format("2006-01-02"))
		release, ok, err := utils.TryKeyLock(ctx, lockKey, valuationSnapshotLockTTL)
		if err != nil {
			return created, err
		}
		if !ok {
			continue
		}
		res, err := models.CreateValuationSnapshots(utils.BackgroundContext(ctx, businessId), businessId, now)
		release()
		if err != nil {
			config.LogError(s.logger(), "ValuationScheduler", "RunOnce", "create snapshot", businessId, err)
			continue
		}
		if !res.AlreadyExists {
			created++
		}
	}
	return created, nil
}

func (s *ValuationScheduler) logger() *logrus.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return config.GetLogger()
}
