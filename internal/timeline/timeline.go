package timeline

import (
	"sort"

	"tracefuse/internal/model"
	"tracefuse/internal/normalize"
)

// Build merges any number of canonical streams into one timeline ordered
// ascending by timestamp. The sort is stable: simultaneous events keep
// their relative input order, there is no semantic ordering among them.
func Build(streams ...normalize.Stream) []*model.Entry {
	total := 0
	for _, s := range streams {
		total += len(s.Events)
	}
	entries := make([]*model.Entry, 0, total)
	for _, s := range streams {
		for _, ev := range s.Events {
			entries = append(entries, &model.Entry{Event: ev})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Event.When().Before(entries[j].Event.When())
	})
	return entries
}
