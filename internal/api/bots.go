package api

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	crawlerInterval = 10 * time.Second
	crawlerIdle     = time.Hour
	cleanupEvery    = 1000
)

// AI training crawlers are refused outright.
var blockedAgents = []string{
	"gptbot",
	"chatgpt-user",
	"ccbot",
	"anthropic-ai",
	"claudebot",
	"claude-web",
	"google-extended",
	"perplexitybot",
	"bytespider",
	"amazonbot",
	"cohere-ai",
	"diffbot",
	"omgili",
	"facebookbot",
	"imagesiftbot",
}

// Search engine crawlers are let through at one request per crawlerInterval.
var throttledAgents = []string{
	"googlebot",
	"bingbot",
	"yandexbot",
	"baiduspider",
	"duckduckbot",
	"applebot",
	"ahrefsbot",
	"semrushbot",
	"mj12bot",
	"dotbot",
	"petalbot",
}

type botVerdict int

const (
	botAllow botVerdict = iota
	botBlock
	botThrottle
)

func matchAgent(ua string, agents []string) string {
	for _, a := range agents {
		if strings.Contains(ua, a) {
			return a
		}
	}
	return ""
}

type crawlerEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// botBlocker keeps one limiter per (ip, crawler) pair.
type botBlocker struct {
	mu       sync.Mutex
	limiters map[string]*crawlerEntry
	calls    int
	now      func() time.Time
}

func newBotBlocker(now func() time.Time) *botBlocker {
	if now == nil {
		now = time.Now
	}
	return &botBlocker{limiters: make(map[string]*crawlerEntry), now: now}
}

func (b *botBlocker) check(ip, userAgent string) botVerdict {
	ua := strings.ToLower(userAgent)
	if matchAgent(ua, blockedAgents) != "" {
		return botBlock
	}
	crawler := matchAgent(ua, throttledAgents)
	if crawler == "" {
		return botAllow
	}

	now := b.now()
	key := ip + "|" + crawler

	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls++
	if b.calls%cleanupEvery == 0 {
		b.cleanup(now)
	}

	entry, ok := b.limiters[key]
	if !ok {
		entry = &crawlerEntry{limiter: rate.NewLimiter(rate.Every(crawlerInterval), 1)}
		b.limiters[key] = entry
	}
	entry.lastSeen = now
	if !entry.limiter.AllowN(now, 1) {
		return botThrottle
	}
	return botAllow
}

// cleanup drops limiters idle for longer than crawlerIdle. Callers hold b.mu.
func (b *botBlocker) cleanup(now time.Time) {
	for key, entry := range b.limiters {
		if now.Sub(entry.lastSeen) > crawlerIdle {
			delete(b.limiters, key)
		}
	}
}
