// Package partition computes the batches of work ranges that cover an
// upstream item space.
//
// The upstream API only pages a bounded number of pages deep, so pages are
// grouped into sets: every set is read with its own modification-time
// cursor, which the last page of the previous set produces. Batches never
// span two sets, so no batch needs the outcome of a later batch.
package partition

import "github.com/Lllllllleong/commentingestflow/internal/models"

// Params are the inputs of a partition. The same Params always produce the
// same batches.
type Params struct {
	TotalItems int
	PageSize   int
	// PagesPerSet bounds how deep one cursor is paged. Zero or less means a
	// single set covers every page.
	PagesPerSet int
	// Concurrency is the maximum number of ranges in one batch. Values
	// below one are treated as one.
	Concurrency int
}

// Result is a computed partition.
type Result struct {
	Batches      []models.WorkBatch
	ExpectedSets int
	TotalWorkers int
}

// Partition splits [0, TotalItems) into ordered, non-overlapping ranges of
// at most PageSize items and groups them into batches of at most
// Concurrency ranges.
func Partition(p Params) (Result, error) {
	if p.TotalItems < 0 {
		return Result{}, ErrNegativeTotal
	}
	if p.PageSize <= 0 {
		return Result{}, ErrInvalidPageSize
	}
	concurrency := p.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	itemsPerSet := p.TotalItems
	if p.PagesPerSet > 0 {
		itemsPerSet = p.PageSize * p.PagesPerSet
	}

	var res Result
	workerID := 0
	for setStart, set := 0, 1; setStart < p.TotalItems; setStart, set = setStart+itemsPerSet, set+1 {
		setEnd := min(setStart+itemsPerSet, p.TotalItems)
		res.ExpectedSets++

		var batch *models.WorkBatch
		for start, page := setStart, 1; start < setEnd; start, page = start+p.PageSize, page+1 {
			if batch == nil || len(batch.Workers) == concurrency {
				res.Batches = append(res.Batches, models.WorkBatch{
					BatchIndex: len(res.Batches),
					Set:        set,
				})
				batch = &res.Batches[len(res.Batches)-1]
			}
			end := min(start+p.PageSize, setEnd)
			batch.Workers = append(batch.Workers, models.WorkRange{
				WorkerID:  workerID,
				Start:     start,
				End:       end,
				Set:       set,
				Page:      page,
				PageSize:  p.PageSize,
				LastInSet: end == setEnd,
			})
			workerID++
		}
	}
	res.TotalWorkers = workerID
	return res, nil
}

// Extend partitions a grown item space and returns only the batches whose
// ranges cover items at or beyond previousTotal, renumbered to follow the
// existing batches. The first returned range may overlap the tail of the
// previous partition when previousTotal was not page aligned; chunk
// outputs are deduplicated on merge.
func Extend(existing []models.WorkBatch, previousTotal int, p Params) ([]models.WorkBatch, error) {
	if previousTotal < 0 {
		return nil, ErrNegativeTotal
	}
	if p.TotalItems < previousTotal {
		return nil, ErrShrunkTotal
	}
	full, err := Partition(p)
	if err != nil {
		return nil, err
	}

	nextWorker := 0
	for _, b := range existing {
		for _, w := range b.Workers {
			nextWorker = max(nextWorker, w.WorkerID+1)
		}
	}

	concurrency := max(p.Concurrency, 1)
	var out []models.WorkBatch
	for _, w := range Ranges(full.Batches) {
		if w.End <= previousTotal {
			continue
		}
		n := len(out)
		if n == 0 || out[n-1].Set != w.Set || len(out[n-1].Workers) == concurrency {
			out = append(out, models.WorkBatch{
				BatchIndex: len(existing) + n,
				Set:        w.Set,
			})
			n++
		}
		w.WorkerID = nextWorker
		nextWorker++
		out[n-1].Workers = append(out[n-1].Workers, w)
	}
	return out, nil
}

// Ranges flattens batches into their ranges, in order.
func Ranges(batches []models.WorkBatch) []models.WorkRange {
	var out []models.WorkRange
	for _, b := range batches {
		out = append(out, b.Workers...)
	}
	return out
}
