package knms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"taxonmatch/internal/names"
	"taxonmatch/internal/services"
)

// MatchState is the per-name verdict returned by the service.
type MatchState string

const (
	StateNoMatch  MatchState = "false"
	StateSingle   MatchState = "true"
	StateMultiple MatchState = "multiple_matches"
)

// Row is one record of a match response. A multiple match spans several
// rows sharing Submitted and MatchState.
type Row struct {
	Submitted   string
	MatchState  MatchState
	IPNIID      string
	MatchedName string
}

type responseEnvelope struct {
	Records [][]json.RawMessage `json:"records"`
}

// ParseResponse decodes a match response body. Continuation rows with empty
// submitted and match_state cells inherit them from the row above. IPNI ids
// are returned without their urn prefix.
func ParseResponse(body []byte) ([]Row, error) {
	var envelope responseEnvelope
	decoder := json.NewDecoder(bytes.NewReader(body))
	if err := decoder.Decode(&envelope); err != nil {
		return nil, services.Wrap(services.ErrMalformed, "knms", "decode response", "", err)
	}
	if envelope.Records == nil {
		return nil, services.Wrap(services.ErrMalformed, "knms", "decode response", "records field missing", nil)
	}

	rows := make([]Row, 0, len(envelope.Records))
	var previous Row
	for i, record := range envelope.Records {
		if len(record) < 2 || len(record) > 4 {
			return nil, services.Wrap(services.ErrMalformed, "knms", "decode response",
				fmt.Sprintf("record %d has %d cells", i, len(record)), nil)
		}
		cells := make([]string, 4)
		for j, raw := range record {
			value, err := cellString(raw)
			if err != nil {
				return nil, services.Wrap(services.ErrMalformed, "knms", "decode response",
					fmt.Sprintf("record %d cell %d", i, j), err)
			}
			cells[j] = value
		}
		row := Row{
			Submitted:   cells[0],
			MatchState:  MatchState(strings.ToLower(cells[1])),
			IPNIID:      names.CleanIPNIID(cells[2]),
			MatchedName: cells[3],
		}
		if row.Submitted == "" {
			row.Submitted = previous.Submitted
		}
		if row.MatchState == "" {
			row.MatchState = previous.MatchState
		}
		if row.Submitted == "" {
			return nil, services.Wrap(services.ErrMalformed, "knms", "decode response",
				fmt.Sprintf("record %d has no submitted name to inherit", i), nil)
		}
		rows = append(rows, row)
		previous = row
	}
	return rows, nil
}

func cellString(raw json.RawMessage) (string, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", err
	}
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(v), nil
	case bool:
		if v {
			return string(StateSingle), nil
		}
		return string(StateNoMatch), nil
	case float64:
		return fmt.Sprintf("%v", v), nil
	default:
		return "", fmt.Errorf("unexpected cell type %T", value)
	}
}

// AllNoMatch reports whether every row is a no-match. Such responses are
// returned to callers but never cached.
func AllNoMatch(rows []Row) bool {
	if len(rows) == 0 {
		return false
	}
	for _, row := range rows {
		if row.MatchState != StateNoMatch {
			return false
		}
	}
	return true
}

// GroupBySubmitted collects rows per submitted name, keeping response order.
func GroupBySubmitted(rows []Row) map[string][]Row {
	grouped := make(map[string][]Row)
	for _, row := range rows {
		grouped[row.Submitted] = append(grouped[row.Submitted], row)
	}
	return grouped
}
