package assist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/sibyl/internal/insight"
	"github.com/MikeSquared-Agency/sibyl/internal/session"
)

// Router fans detection out across every registered detector that wants the
// insight's kind. A slow or failing detector degrades to absence; it never
// blocks the others or the chunk response.
type Router struct {
	detectors []Detector
	floors    map[ItemType]float64
	timeout   time.Duration
	logger    *slog.Logger
}

func NewRouter(detectors []Detector, floors map[ItemType]float64, timeout time.Duration, logger *slog.Logger) *Router {
	return &Router{
		detectors: detectors,
		floors:    floors,
		timeout:   timeout,
		logger:    logger,
	}
}

// Route runs the relevant detectors for each insight concurrently and merges
// the surviving items. Order is deterministic: by insight, then by detector
// registration order. Confidence floors are enforced here as a final guard,
// whatever an individual detector emitted.
func (r *Router) Route(ctx context.Context, sess *session.Session, insights []insight.Insight) []Item {
	type slot struct {
		insightIdx  int
		detectorIdx int
		items       []Item
	}

	var mu sync.Mutex
	var slots []slot

	g, gctx := errgroup.WithContext(ctx)

	for ii, in := range insights {
		for di, det := range r.detectors {
			if !det.Wants(in.Kind) {
				continue
			}
			ii, di, in, det := ii, di, in, det
			g.Go(func() error {
				dctx, cancel := context.WithTimeout(gctx, r.timeout)
				defer cancel()

				start := time.Now()
				items, err := det.Detect(dctx, sess, in)
				if err != nil {
					// Degraded behavior: the detector's absence from the
					// payload is the correct outcome.
					r.logger.Warn("detector failed",
						"detector", det.Name(),
						"insight_id", in.ID,
						"elapsed", time.Since(start),
						"error", err,
					)
					return nil
				}
				if len(items) == 0 {
					return nil
				}

				mu.Lock()
				slots = append(slots, slot{insightIdx: ii, detectorIdx: di, items: items})
				mu.Unlock()
				return nil
			})
		}
	}

	_ = g.Wait() // detectors never propagate errors into the group

	// Deterministic merge order.
	ordered := make([]Item, 0, len(slots))
	for ii := range insights {
		for di := range r.detectors {
			for _, s := range slots {
				if s.insightIdx == ii && s.detectorIdx == di {
					ordered = append(ordered, s.items...)
				}
			}
		}
	}

	kept := ordered[:0]
	for _, item := range ordered {
		if floor, ok := r.floors[item.Type]; ok && item.Confidence < floor {
			r.logger.Debug("dropping sub-floor item",
				"type", string(item.Type),
				"confidence", item.Confidence,
				"floor", floor,
			)
			continue
		}
		kept = append(kept, item)
	}
	return kept
}
