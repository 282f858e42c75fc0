package ratelimit

import (
	"container/heap"
	"context"
)

// job is a queued call waiting for dispatch
type job struct {
	priority int
	seq      uint64
	ctx      context.Context
	fn       func(context.Context) error
	done     chan error
	// index is the position in the heap, -1 once popped or removed
	index int
}

// jobQueue orders jobs by priority (lower first), then by submission order
type jobQueue []*job

var _ heap.Interface = (*jobQueue)(nil)

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *jobQueue) Push(x any) {
	j := x.(*job)
	j.index = len(*q)
	*q = append(*q, j)
}

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*q = old[:n-1]
	return j
}
