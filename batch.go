package syncengine

// groupByTable partitions a fetched page by target table for locality.
// Order within each group follows the fetch order.
func groupByTable(events []SyncEvent) map[string][]SyncEvent {
	groups := make(map[string][]SyncEvent)
	for _, ev := range events {
		groups[ev.TableName] = append(groups[ev.TableName], ev)
	}
	return groups
}

// chunkEvents slices a group into chunks no larger than size. Chunks are
// executed one after another so concurrency stays bounded instead of
// fanning out over the whole group at once.
func chunkEvents(events []SyncEvent, size int) [][]SyncEvent {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]SyncEvent, 0, (len(events)+size-1)/size)
	for start := 0; start < len(events); start += size {
		end := min(start+size, len(events))
		chunks = append(chunks, events[start:end])
	}
	return chunks
}
