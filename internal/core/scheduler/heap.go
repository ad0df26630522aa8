package scheduler

// wfqEntry orders by virtual finish time F_i — smaller finishes first.
type wfqEntry struct {
	job    *Job
	finish float64
}

type wfqHeap []*wfqEntry

func (h wfqHeap) Len() int            { return len(h) }
func (h wfqHeap) Less(i, j int) bool  { return h[i].finish < h[j].finish }
func (h wfqHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *wfqHeap) Push(x any)         { *h = append(*h, x.(*wfqEntry)) }
func (h *wfqHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]

	return item
}

// edfEntry orders by absolute deadline — earliest deadline first.
type edfEntry struct {
	job *Job
}

type edfHeap []*edfEntry

func (h edfHeap) Len() int           { return len(h) }
func (h edfHeap) Less(i, j int) bool { return h[i].job.deadline.Before(h[j].job.deadline) }
func (h edfHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *edfHeap) Push(x any)        { *h = append(*h, x.(*edfEntry)) }
func (h *edfHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]

	return item
}
