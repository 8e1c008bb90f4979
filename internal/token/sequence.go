package token

// sequenceRegistry tracks the small set of active sequence IDs multiplexed
// over one attention cache, mirroring create/fork/copy/delete onto the
// Model Adapter (SPEC_FULL.md §4.4).
type sequenceRegistry struct {
	active []SeqID
}

func newSequenceRegistry() *sequenceRegistry {
	return &sequenceRegistry{active: []SeqID{DefaultSeq}}
}

func (r *sequenceRegistry) has(seq SeqID) bool {
	for _, s := range r.active {
		if s == seq {
			return true
		}
	}
	return false
}

func (r *sequenceRegistry) create() SeqID {
	max := r.active[0]
	for _, s := range r.active[1:] {
		if s > max {
			max = s
		}
	}
	next := max + 1
	r.active = append(r.active, next)
	return next
}

func (r *sequenceRegistry) delete(seq SeqID, adapter Adapter) error {
	for i, s := range r.active {
		if s == seq {
			r.active = append(r.active[:i], r.active[i+1:]...)
			if adapter != nil {
				return adapter.CacheRemove(seq, 0, EndOfBuffer)
			}
			return nil
		}
	}
	return ErrSequenceNotFound
}

func (r *sequenceRegistry) copy(src, dst SeqID, adapter Adapter) error {
	if !r.has(src) {
		return ErrSequenceNotFound
	}
	if !r.has(dst) {
		r.active = append(r.active, dst)
	}
	if adapter == nil {
		return nil
	}
	return adapter.CacheCopy(src, dst, 0, EndOfBuffer)
}

func (r *sequenceRegistry) fork(src SeqID, adapter Adapter) (SeqID, error) {
	if !r.has(src) {
		return 0, ErrSequenceNotFound
	}
	dst := r.create()
	if adapter == nil {
		return dst, nil
	}
	if err := adapter.CacheCopy(src, dst, 0, EndOfBuffer); err != nil {
		return 0, err
	}
	return dst, nil
}
