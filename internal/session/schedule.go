package session

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/nidhogg/ramify/internal/apperr"
	"go.uber.org/zap"
)

// InvalidScheduleMessage is the caller-facing message for a payload that is
// not a JSON object.
const InvalidScheduleMessage = "Invalid schedule format"

// Schedule returns a copy of the medication schedule.
func (s *Store) Schedule() Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule.Clone()
}

// ParseSchedule decodes a partial schedule update. raw must be a JSON object
// whose keys are bucket names and whose values are arrays (or null for an
// empty bucket). Entries are never rejected; see decodeMedication.
func ParseSchedule(raw json.RawMessage) (Schedule, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, apperr.Validation(InvalidScheduleMessage)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, apperr.Validation(InvalidScheduleMessage)
	}

	partial := make(Schedule, len(fields))
	for key, val := range fields {
		b, ok := ParseBucket(key)
		if !ok {
			return nil, apperr.Validation("%s: unknown bucket %q", InvalidScheduleMessage, key)
		}
		val = bytes.TrimSpace(val)
		if bytes.Equal(val, []byte("null")) {
			partial[b] = []Medication{}
			continue
		}
		if len(val) == 0 || val[0] != '[' {
			return nil, apperr.Validation("%s: bucket %q must be an array", InvalidScheduleMessage, key)
		}
		var entries []json.RawMessage
		if err := json.Unmarshal(val, &entries); err != nil {
			return nil, apperr.Validation("%s: bucket %q must be an array", InvalidScheduleMessage, key)
		}
		meds := make([]Medication, 0, len(entries))
		for _, e := range entries {
			meds = append(meds, decodeMedication(e))
		}
		partial[b] = meds
	}
	return partial, nil
}

// SetSchedule validates raw and shallow-merges it into the schedule. On any
// validation failure the stored schedule is left untouched.
func (s *Store) SetSchedule(ctx context.Context, raw json.RawMessage) error {
	partial, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	s.MergeSchedule(ctx, partial)
	return nil
}

// MergeSchedule replaces every bucket present in partial. Buckets absent from
// partial keep their current entries; entries inside a bucket are never merged.
func (s *Store) MergeSchedule(ctx context.Context, partial Schedule) {
	s.mu.Lock()
	for b, meds := range partial {
		if _, ok := ParseBucket(string(b)); !ok {
			continue
		}
		s.schedule[b] = append([]Medication{}, meds...)
	}
	s.logger.Debug("schedule merged", zap.Int("buckets", len(partial)))
	s.unlockAndPersist(ctx, saveSchedule(s.schedule.Clone()), zap.String("what", "schedule"))
}

// decodeMedication reads one schedule entry without rejecting it. Objects are
// read field by field and scalar values of the wrong type become their JSON
// text, so a numeric dosage of 100 reads as "100". A bare string or number is
// taken as the medication name.
func decodeMedication(raw json.RawMessage) Medication {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Medication{Name: textOf(raw)}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Medication{}
	}
	m := Medication{
		Name:         textOf(fields["name"]),
		Dosage:       textOf(fields["dosage"]),
		Instructions: textOf(fields["instructions"]),
	}
	var ack bool
	if json.Unmarshal(fields["acknowledged"], &ack) == nil {
		m.Acknowledged = ack
	}
	var at time.Time
	if v, ok := fields["lastReminded"]; ok && json.Unmarshal(v, &at) == nil && !at.IsZero() {
		m.LastReminded = &at
	}
	return m
}

// textOf renders a JSON value as text: strings unquoted, null as empty,
// anything else as its compact JSON.
func textOf(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var str string
	if raw[0] == '"' && json.Unmarshal(raw, &str) == nil {
		return str
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
