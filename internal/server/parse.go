package server

import (
	"encoding/json"
	"fmt"

	"github.com/lotas/plfolders/internal/watch"
)

type wireRecord struct {
	Type          string `json:"type"`
	Target        string `json:"target"`
	AttributeName string `json:"attributeName"`
}

// ParseRecords converts the records of a "mutations" message into a batch.
// Records mirror MutationRecord: type, target handle and attributeName.
func ParseRecords(raw json.RawMessage) (watch.Batch, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var recs []wireRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("parse records: %w", err)
	}
	batch := make(watch.Batch, 0, len(recs))
	for _, r := range recs {
		switch r.Type {
		case watch.KindChildList, watch.KindAttributes:
		default:
			continue
		}
		batch = append(batch, watch.Record{
			Kind:      r.Type,
			Target:    r.Target,
			Attribute: r.AttributeName,
		})
	}
	return batch, nil
}
