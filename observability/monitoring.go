package observability

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ProcessStats is the last sample taken by the heartbeat.
type ProcessStats struct {
	Pid        int32   `json:"pid"`
	Status     string  `json:"status"`
	CpuPercent float64 `json:"cpu_percent"`
	RssBytes   uint64  `json:"rss_bytes"`
	AllocMemMb uint64  `json:"alloc_mem_mb"`
	NumGC      uint32  `json:"num_gc"`
	SampledAt  string  `json:"sampled_at"`
}

// Snapshot aggregates every counter for /stats and the heartbeat log.
type Snapshot struct {
	Registrations   uint64       `json:"registrations"`
	PrivateMessages uint64       `json:"private_messages"`
	GroupMessages   uint64       `json:"group_messages"`
	PushesDelivered uint64       `json:"pushes_delivered"`
	PushesDropped   uint64       `json:"pushes_dropped"`
	StoreFailures   uint64       `json:"store_failures"`
	RequestErrors   uint64       `json:"request_errors"`
	OpenConnections int64        `json:"open_connections"`
	VoiceFrames     uint64       `json:"voice_frames"`
	Censored        uint64       `json:"censored"`
	Process         ProcessStats `json:"process"`
}

// Stats holds lock-free counters shared by every transport.
type Stats struct {
	registrations   uint64
	privateMessages uint64
	groupMessages   uint64
	pushesDelivered uint64
	pushesDropped   uint64
	storeFailures   uint64
	requestErrors   uint64
	openConnections int64
	voiceFrames     uint64
	censored        uint64

	mu      sync.RWMutex
	process ProcessStats
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) IncrRegistrations()   { atomic.AddUint64(&s.registrations, 1) }
func (s *Stats) IncrPrivateMessages() { atomic.AddUint64(&s.privateMessages, 1) }
func (s *Stats) IncrGroupMessages()   { atomic.AddUint64(&s.groupMessages, 1) }
func (s *Stats) IncrPushesDelivered() { atomic.AddUint64(&s.pushesDelivered, 1) }
func (s *Stats) IncrPushesDropped()   { atomic.AddUint64(&s.pushesDropped, 1) }
func (s *Stats) IncrStoreFailures()   { atomic.AddUint64(&s.storeFailures, 1) }
func (s *Stats) IncrRequestErrors()   { atomic.AddUint64(&s.requestErrors, 1) }
func (s *Stats) IncrVoiceFrames()     { atomic.AddUint64(&s.voiceFrames, 1) }
func (s *Stats) IncrCensored()        { atomic.AddUint64(&s.censored, 1) }

// ConnectionOpened and ConnectionClosed track live transport connections.
func (s *Stats) ConnectionOpened() { atomic.AddInt64(&s.openConnections, 1) }
func (s *Stats) ConnectionClosed() { atomic.AddInt64(&s.openConnections, -1) }

// RecordProcess stores the latest process sample along with Go memory stats.
func (s *Stats) RecordProcess(p ProcessStats) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	p.AllocMemMb = m.Alloc / 1024 / 1024
	p.NumGC = m.NumGC
	p.SampledAt = time.Now().Format(time.TimeOnly)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.process = p
}

func (s *Stats) GetLatest() Snapshot {
	s.mu.RLock()
	process := s.process
	s.mu.RUnlock()

	return Snapshot{
		Registrations:   atomic.LoadUint64(&s.registrations),
		PrivateMessages: atomic.LoadUint64(&s.privateMessages),
		GroupMessages:   atomic.LoadUint64(&s.groupMessages),
		PushesDelivered: atomic.LoadUint64(&s.pushesDelivered),
		PushesDropped:   atomic.LoadUint64(&s.pushesDropped),
		StoreFailures:   atomic.LoadUint64(&s.storeFailures),
		RequestErrors:   atomic.LoadUint64(&s.requestErrors),
		OpenConnections: atomic.LoadInt64(&s.openConnections),
		VoiceFrames:     atomic.LoadUint64(&s.voiceFrames),
		Censored:        atomic.LoadUint64(&s.censored),
		Process:         process,
	}
}
