package clone

import (
	"context"
	"fmt"
	"sort"

	"github.com/moeacgx/TelegramAutoClone/internal/upstream"
)

const (
	// albumWindow is the id radius scanned around the reference message.
	albumWindow = 80
	// albumScanCap bounds the widened scan for albums split across gaps.
	albumScanCap = 1200
	// albumMissCutoff ends the widened scan after this many consecutive
	// non-members.
	albumMissCutoff = 200
)

// CollectMediaGroup finds every member of the reference message's album.
// The scan starts at ±albumWindow ids and widens when the window catches
// only the reference itself. Topic membership is deliberately not checked
// on siblings: some album parts lack the topic reply header and would be
// spuriously excluded.
func (e *Engine) CollectMediaGroup(ctx context.Context, source int64, ref *upstream.Message) ([]*upstream.Message, error) {
	if ref.GroupedID == 0 {
		return []*upstream.Message{ref}, nil
	}

	members := map[int64]*upstream.Message{ref.ID: ref}

	scan := func(ids []int64) (matched int, err error) {
		msgs, err := e.reader.GetMessages(ctx, source, ids)
		if err != nil {
			return 0, fmt.Errorf("fetch album window: %w", err)
		}
		for _, m := range msgs {
			if m == nil {
				continue
			}
			if m.GroupedID == ref.GroupedID {
				if _, ok := members[m.ID]; !ok {
					members[m.ID] = m
					matched++
				}
			}
		}
		return matched, nil
	}

	ids := windowIDs(ref.ID, albumWindow)
	if _, err := scan(ids); err != nil {
		return nil, err
	}

	if len(members) == 1 {
		// Lone reference: the album may be split across a larger id gap.
		scanned := len(ids)
		misses := 0
		lo := ref.ID - albumWindow
		hi := ref.ID + albumWindow
		for scanned < albumScanCap && misses < albumMissCutoff {
			var chunk []int64
			for i := 0; i < 50; i++ {
				hi++
				chunk = append(chunk, hi)
				if lo > 1 {
					lo--
					chunk = append(chunk, lo)
				}
			}
			matched, err := scan(chunk)
			if err != nil {
				return nil, err
			}
			scanned += len(chunk)
			if matched == 0 {
				misses += len(chunk)
			} else {
				misses = 0
			}
		}
	}

	out := make([]*upstream.Message, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func windowIDs(center, radius int64) []int64 {
	var ids []int64
	for id := center - radius; id <= center+radius; id++ {
		if id < 1 || id == center {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
