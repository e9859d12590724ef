package session

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Role identifies the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the recognized roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one message in a conversation history.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Bucket is a time-of-day grouping of medications.
type Bucket string

const (
	BucketMorning   Bucket = "morning"
	BucketAfternoon Bucket = "afternoon"
	BucketEvening   Bucket = "evening"
	BucketNight     Bucket = "night"
	BucketAsNeeded  Bucket = "as_needed"
)

// Buckets lists the recognized buckets in display order.
var Buckets = []Bucket{BucketMorning, BucketAfternoon, BucketEvening, BucketNight, BucketAsNeeded}

// ParseBucket normalizes a bucket name. "as-needed" and "asNeeded" map to as_needed.
func ParseBucket(s string) (Bucket, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "-", "_")
	if key == "asneeded" {
		key = string(BucketAsNeeded)
	}
	for _, b := range Buckets {
		if string(b) == key {
			return b, true
		}
	}
	return "", false
}

// Medication is a single scheduled medication.
type Medication struct {
	Name         string     `json:"name"`
	Dosage       string     `json:"dosage"`
	Instructions string     `json:"instructions"`
	LastReminded *time.Time `json:"lastReminded,omitempty"`
	Acknowledged bool       `json:"acknowledged"`
}

// Schedule maps each bucket to its medications. Every recognized bucket is
// present and never nil once the schedule comes out of NewSchedule or Clone.
type Schedule map[Bucket][]Medication

// NewSchedule returns a schedule with every bucket present and empty.
func NewSchedule() Schedule {
	s := make(Schedule, len(Buckets))
	for _, b := range Buckets {
		s[b] = []Medication{}
	}
	return s
}

// Clone deep-copies the schedule.
func (s Schedule) Clone() Schedule {
	out := NewSchedule()
	for b, meds := range s {
		cp := make([]Medication, len(meds))
		for i, m := range meds {
			if m.LastReminded != nil {
				t := *m.LastReminded
				m.LastReminded = &t
			}
			cp[i] = m
		}
		out[b] = cp
	}
	return out
}

// MarshalJSON writes buckets in fixed order so prompts embedding the schedule
// are byte-stable.
func (s Schedule) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, b := range Buckets {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(string(b))
		buf.Write(key)
		buf.WriteByte(':')
		meds := s[b]
		if meds == nil {
			meds = []Medication{}
		}
		val, err := json.Marshal(meds)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Focus is the current conversational focus derived from the last reply.
type Focus string

const (
	FocusGeneral    Focus = "general"
	FocusMedication Focus = "medication"
	FocusEmotional  Focus = "emotional"
)

// Context is auxiliary state derived from the model's replies.
type Context struct {
	LastReminder string   `json:"lastReminder"`
	Pending      []string `json:"pendingMedications"`
	Focus        Focus    `json:"currentFocus"`
}

func (c Context) clone() Context {
	c.Pending = append([]string{}, c.Pending...)
	return c
}
