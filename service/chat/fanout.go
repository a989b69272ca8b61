package chat

import (
	"hash/fnv"
	"sync"
)

type fanoutJob struct {
	targets []*Client
	payload []byte
}

// Fanout spreads broadcast deliveries over a fixed worker pool. Every target
// is sent to independently; a full or closed client is simply skipped.
//
// Each worker owns its own queue and a client always hashes to the same
// worker, so broadcasts reach one connection in the order they were queued.
type Fanout struct {
	mu     sync.RWMutex
	closed bool
	shards []chan fanoutJob
	wg     sync.WaitGroup
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 1
	}
	f := &Fanout{shards: make([]chan fanoutJob, workers)}
	f.wg.Add(workers)
	for i := range f.shards {
		jobs := make(chan fanoutJob, queue)
		f.shards[i] = jobs
		go func() {
			defer f.wg.Done()
			for job := range jobs {
				for _, c := range job.targets {
					c.Send(job.payload)
				}
			}
		}()
	}
	return f
}

func (f *Fanout) shardOf(c *Client) int {
	if len(f.shards) == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(c.ConnID))
	return int(h.Sum32() % uint32(len(f.shards)))
}

// Broadcast queues a delivery. It returns false if the fanout is closed or
// any shard queue is full; targets on the other shards still get it.
func (f *Fanout) Broadcast(targets []*Client, payload []byte) bool {
	if len(targets) == 0 || len(payload) == 0 {
		return true
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}

	split := make([][]*Client, len(f.shards))
	for _, c := range targets {
		i := f.shardOf(c)
		split[i] = append(split[i], c)
	}
	ok := true
	for i, part := range split {
		if len(part) == 0 {
			continue
		}
		select {
		case f.shards[i] <- fanoutJob{targets: part, payload: payload}:
		default:
			ok = false
		}
	}
	return ok
}

// Close drains queued jobs and stops the workers.
func (f *Fanout) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	for _, jobs := range f.shards {
		close(jobs)
	}
	f.mu.Unlock()
	f.wg.Wait()
}
