package form

// Merge returns existing updated with incoming. Keys present in incoming
// replace the existing value of the same name; keys only in existing are
// kept. Neither argument is modified.
//
// Merge is not commutative: callers must apply submissions for one document
// in arrival order.
func Merge(existing, incoming Submission) Submission {
	out := make(Submission, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}
