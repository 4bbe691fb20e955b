package store

// rawResult is the column-oriented shape both backends reduce their responses to.
// Scans produce a single group; similarity queries produce one group per query
// embedding. Any column other than ids may be missing or shorter than ids.
type rawResult struct {
	ids       [][]string
	documents [][]string
	metadatas [][]map[string]any
	distances [][]float64
}

// flatResult wraps the columns of a scan response as a single group.
func flatResult(ids, documents []string, metadatas []map[string]any, distances []float64) rawResult {
	r := rawResult{ids: [][]string{ids}}
	if documents != nil {
		r.documents = [][]string{documents}
	}
	if metadatas != nil {
		r.metadatas = [][]map[string]any{metadatas}
	}
	if distances != nil {
		r.distances = [][]float64{distances}
	}
	return r
}

// records flattens every group in order. A chunk id seen twice keeps its first
// occurrence.
func (r rawResult) records() []Record {
	out := make([]Record, 0, r.size())
	seen := make(map[string]struct{}, r.size())

	for g, ids := range r.ids {
		for i, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			rec := Record{ChunkID: id}
			if doc, ok := cell(r.documents, g, i); ok {
				rec.Text = doc
			}
			if meta, ok := cell(r.metadatas, g, i); ok && meta != nil {
				rec.Metadata = MetadataFromMap(meta)
			}
			if dist, ok := cell(r.distances, g, i); ok {
				score := dist
				rec.Score = &score
			}
			rec.NoteID = rec.Metadata.NoteID
			out = append(out, rec)
		}
	}
	return out
}

func (r rawResult) size() int {
	n := 0
	for _, ids := range r.ids {
		n += len(ids)
	}
	return n
}

func cell[T any](cols [][]T, group, i int) (T, bool) {
	var zero T
	if group >= len(cols) || i >= len(cols[group]) {
		return zero, false
	}
	return cols[group][i], true
}
