package pipeline

import (
	"sync"

	"factforge/backend/go/internal/models"
)

// Stats 是自进程启动以来已返回结论的核查计数。
type Stats struct {
	Total         int64                    `json:"total"`
	ByVerdict     map[models.Verdict]int64 `json:"by_verdict"`
	ByRoute       map[models.Route]int64   `json:"by_route"`
	ByLanguage    map[string]int64         `json:"by_language"`
	Degraded      int64                    `json:"degraded"`
	ScamOverrides int64                    `json:"scam_overrides"`
}

type counters struct {
	mu sync.Mutex
	s  Stats
}

func newCounters() *counters {
	return &counters{s: Stats{
		ByVerdict:  map[models.Verdict]int64{},
		ByRoute:    map[models.Route]int64{},
		ByLanguage: map[string]int64{},
	}}
}

func (c *counters) record(resp *models.CheckResponse, scamOverride bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Total++
	c.s.ByVerdict[resp.Verdict]++
	c.s.ByRoute[resp.Route]++
	c.s.ByLanguage[resp.Language]++
	if resp.Degraded {
		c.s.Degraded++
	}
	if scamOverride {
		c.s.ScamOverrides++
	}
}

func (c *counters) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.s
	out.ByVerdict = make(map[models.Verdict]int64, len(c.s.ByVerdict))
	for k, v := range c.s.ByVerdict {
		out.ByVerdict[k] = v
	}
	out.ByRoute = make(map[models.Route]int64, len(c.s.ByRoute))
	for k, v := range c.s.ByRoute {
		out.ByRoute[k] = v
	}
	out.ByLanguage = make(map[string]int64, len(c.s.ByLanguage))
	for k, v := range c.s.ByLanguage {
		out.ByLanguage[k] = v
	}
	return out
}

// Stats 返回核查计数的副本。审计写入失败的请求不计入。
func (c *Checker) Stats() Stats {
	return c.counters.snapshot()
}
