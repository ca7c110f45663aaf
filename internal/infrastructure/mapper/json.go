package mapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"DataHarvester/internal/domain"
	"DataHarvester/internal/ports"
)

// JSONArray maps array-of-objects payloads into ordered records with
// lexicographically sorted field names. Options:
//
//	envelope      — key of the object wrapping the record array
//	lastPageField — boolean envelope key carrying an explicit last-page signal
type JSONArray struct {
	envelopeKey string
	lastPageKey string
}

var _ ports.RecordMapper = (*JSONArray)(nil)

// NewJSONArray builds the mapper from endpoint options.
func NewJSONArray(options map[string]string) (ports.RecordMapper, error) {
	m := &JSONArray{
		envelopeKey: options["envelope"],
		lastPageKey: options["lastPageField"],
	}
	if m.lastPageKey != "" && m.envelopeKey == "" {
		return nil, fmt.Errorf("lastPageField requires an envelope")
	}
	return m, nil
}

// MapRaw parses the payload into records plus any last-page signal the
// envelope carries.
func (m *JSONArray) MapRaw(payload []byte) ([]domain.Record, domain.PageMeta, error) {
	var meta domain.PageMeta

	body := payload
	if m.envelopeKey != "" {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(payload, &envelope); err != nil {
			return nil, meta, fmt.Errorf("decode envelope: %w", err)
		}
		inner, ok := envelope[m.envelopeKey]
		if !ok {
			return nil, meta, fmt.Errorf("envelope key %q absent", m.envelopeKey)
		}
		body = inner

		if m.lastPageKey != "" {
			if rawLast, ok := envelope[m.lastPageKey]; ok {
				var last bool
				if err := json.Unmarshal(rawLast, &last); err == nil {
					meta.LastPage = last
					meta.Signaled = true
				}
			}
		}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, meta, fmt.Errorf("decode records: %w", err)
	}

	records := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		rec := make(domain.Record, 0, len(keys))
		for _, k := range keys {
			rec = append(rec, domain.Field{Name: k, Value: stringify(row[k])})
		}
		records = append(records, rec)
	}
	return records, meta, nil
}

// stringify renders a decoded JSON value as a flat bronze-layer string.
// Nested structures keep their JSON form.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}
