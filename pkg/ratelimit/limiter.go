// Package ratelimit - лимиты запросов к API бирж по категориям эндпоинтов.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Category - группа эндпоинтов с общим лимитом на стороне биржи
type Category string

const (
	CategoryTrade Category = "trade" // create / cancel
	CategoryQuery Category = "query" // статусы ордеров
)

// Limit - лимит одной категории
type Limit struct {
	RPS   float64
	Burst int
}

// Group - набор token bucket лимитеров по категориям
//
// Торговые и query эндпоинты лимитируются биржей раздельно, поэтому
// массовый опрос статусов монитором не должен съедать токены, нужные
// для отмены второй ноги.
//
// Использование:
//
//	g := ratelimit.NewGroup(map[ratelimit.Category]ratelimit.Limit{
//	    ratelimit.CategoryTrade: {RPS: 10, Burst: 20},
//	})
//	if err := g.Wait(ctx, ratelimit.CategoryTrade); err != nil { ... }
type Group struct {
	mu       sync.Mutex
	limiters map[Category]*rate.Limiter
	fallback Limit
}

// NewGroup создаёт группу лимитеров. Категории без явного лимита
// получают лимит по умолчанию (10 req/sec, burst 20).
func NewGroup(limits map[Category]Limit) *Group {
	g := &Group{
		limiters: make(map[Category]*rate.Limiter, len(limits)),
		fallback: Limit{RPS: 10, Burst: 20},
	}
	for cat, l := range limits {
		g.limiters[cat] = newLimiter(l)
	}
	return g
}

func newLimiter(l Limit) *rate.Limiter {
	if l.RPS <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := l.Burst
	if burst <= 0 {
		burst = int(l.RPS * 2)
		if burst < 1 {
			burst = 1
		}
	}
	return rate.NewLimiter(rate.Limit(l.RPS), burst)
}

func (g *Group) limiter(cat Category) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[cat]
	if !ok {
		l = newLimiter(g.fallback)
		g.limiters[cat] = l
	}
	return l
}

// Wait блокирует до получения токена категории или отмены контекста
func (g *Group) Wait(ctx context.Context, cat Category) error {
	return g.limiter(cat).Wait(ctx)
}

// Allow - неблокирующая проверка
func (g *Group) Allow(cat Category) bool {
	return g.limiter(cat).Allow()
}
