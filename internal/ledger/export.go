package ledger

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Export writes the full ledger as JSONL, one record per candidate item,
// ordered by submission sequence. This is the structured artifact consumed
// by downstream labeling and training tooling.
func (l *Ledger) Export(w io.Writer) (int, error) {
	entries, err := l.all()
	if err != nil {
		return 0, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Seq < entries[j].Seq
	})

	enc := json.NewEncoder(w)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return i, fmt.Errorf("export failed at record %d: %w", i, err)
		}
	}

	l.logger.Info().Int("records", len(entries)).Msg("Ledger exported")
	return len(entries), nil
}
