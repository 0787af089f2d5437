package main

import "sync"

// abuseReporter receives security events (state mismatches, audience
// mismatches) so that throttling infrastructure can act on repeat offenders.
// Real rate limiting lives outside this process.
type abuseReporter interface {
	ReportSecurityEvent(remoteAddr, reason string)
}

type memoryAbuseReporter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMemoryAbuseReporter() *memoryAbuseReporter {
	return &memoryAbuseReporter{counts: map[string]int{}}
}

func (r *memoryAbuseReporter) ReportSecurityEvent(remoteAddr, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[remoteAddr+" "+reason]++
}

func (r *memoryAbuseReporter) events(remoteAddr, reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[remoteAddr+" "+reason]
}
