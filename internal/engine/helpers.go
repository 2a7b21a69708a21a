package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tradeflow/internal/ledger"
	"tradeflow/internal/types"
)

// forEach runs fn over items with at most limit calls in flight. Items not
// yet started when ctx ends are left for the next run.
func forEach[T any](ctx context.Context, limit int, items []T, fn func(context.Context, T)) {
	if limit < 1 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for _, it := range items {
		if ctx.Err() != nil {
			break
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(it T) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx, it)
		}(it)
	}
	wg.Wait()
}

// groupByTrade buckets orders by trade, keeping first-seen trade order.
func groupByTrade(orders []types.Order) ([]string, map[string][]types.Order) {
	var keys []string
	groups := make(map[string][]types.Order)
	for _, o := range orders {
		if _, ok := groups[o.TradeID]; !ok {
			keys = append(keys, o.TradeID)
		}
		groups[o.TradeID] = append(groups[o.TradeID], o)
	}
	return keys, groups
}

// entryClientID is the client order id of a decision's entry order. The
// venue rejects a second submission with the same id.
func entryClientID(decisionID, leg string) string {
	return decisionID + "-" + leg
}

// legClientID numbers the n-th protective order of a role on a trade.
func legClientID(tradeID string, role types.OrderRole, n int) string {
	tag := "sl"
	if role == types.RoleTakeProfit {
		tag = "tp"
	}
	return fmt.Sprintf("%s-%s-%d", tradeID, tag, n)
}

// byFillTime puts entry updates first, then exits by fill time; unfilled
// exits go last.
func byFillTime(obs []observed) {
	rank := func(o observed) int {
		switch {
		case o.order.Role == types.RoleEntry:
			return 0
		case o.u.Status == types.OrderFilled:
			return 1
		}
		return 2
	}
	sort.SliceStable(obs, func(i, j int) bool {
		ri, rj := rank(obs[i]), rank(obs[j])
		if ri != rj {
			return ri < rj
		}
		if ri == 1 && !obs[i].u.FilledAt.Equal(obs[j].u.FilledAt) {
			return obs[i].u.FilledAt.Before(obs[j].u.FilledAt)
		}
		return false
	})
}

func fillTime(u types.OrderUpdate, fallback time.Time) time.Time {
	if u.FilledAt.IsZero() {
		return fallback
	}
	return u.FilledAt.UTC()
}

func isStale(err error) bool    { return errors.Is(err, ledger.ErrStale) }
func isNotFound(err error) bool { return errors.Is(err, ledger.ErrNotFound) }

func joinRemarks(parts ...string) string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "; ")
}
