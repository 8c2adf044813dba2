package meridio

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
)

// AddSeedDocuments seeds every document modified since the previous seed
// time, less an overlap. The returned seed version is seedTime in
// milliseconds.
func (c *Connector) AddSeedDocuments(
	ctx context.Context,
	acts crawler.SeedActivities,
	spec crawler.DocumentSpec,
	lastSeedVersion string,
	seedTime time.Time,
	_ crawler.JobMode,
) (string, error) {
	var lastMillis int64
	if lastSeedVersion != "" {
		n, err := strconv.ParseInt(lastSeedVersion, 10, 64)
		if err != nil {
			c.logger.Warn("ignoring unparseable seed version", zap.String("version", lastSeedVersion))
		} else {
			lastMillis = n
		}
	}
	startMillis := lastMillis - seedOverlap.Milliseconds()
	if startMillis < 0 {
		startMillis = 0
	}
	window := searchWindow{end: seedTime}
	if startMillis > 0 {
		window.start = time.UnixMilli(startMillis)
	}

	desc := describe(spec)
	crit, err := c.buildCriteria(ctx, desc, window, nil, nil)
	if err != nil {
		return "", err
	}
	seeded := 0
	err = c.search(ctx, crit, maxHitsToReturn, func(hits []SearchHit) error {
		for _, h := range hits {
			if err := acts.AddSeedDocument(ctx, strconv.FormatInt(h.DocID, 10)); err != nil {
				return err
			}
			seeded++
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	c.logger.Debug("seeded documents",
		zap.Int("count", seeded),
		zap.Time("from", window.start),
		zap.Time("to", seedTime))
	return strconv.FormatInt(seedTime.UnixMilli(), 10), nil
}
