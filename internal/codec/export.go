package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/solatis/critidx/internal/types"
)

// Export is the serialized form of an index group.
type Export struct {
	Group      string     `json:"group"`
	Generation uint64     `json:"generation"`
	Criteria   []Criteria `json:"criteria"`
}

// MarshalExport renders the criteria of a group as an export document.
func MarshalExport(group string, generation uint64, criteria []types.Criteria) ([]byte, error) {
	doc := Export{Group: group, Generation: generation, Criteria: make([]Criteria, 0, len(criteria))}
	for _, c := range criteria {
		wc, err := FromCriteria(c)
		if err != nil {
			return nil, err
		}
		doc.Criteria = append(doc.Criteria, wc)
	}
	return json.Marshal(doc)
}

// UnmarshalExport decodes an export document. A bare array of criteria is
// accepted as well; its Group is empty and Generation zero.
func UnmarshalExport(data []byte) (Export, []types.Criteria, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Export{}, nil, fmt.Errorf("%w: empty export", types.ErrMalformedCriteria)
	}

	var doc Export
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &doc.Criteria); err != nil {
			return Export{}, nil, fmt.Errorf("%w: %v", types.ErrMalformedCriteria, err)
		}
	} else if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Export{}, nil, fmt.Errorf("%w: %v", types.ErrMalformedCriteria, err)
	}

	criteria, err := toCriteriaList(doc.Criteria)
	if err != nil {
		return Export{}, nil, err
	}
	return doc, criteria, nil
}
