package domain

import "encoding/json"

// Declaration statuses.
const (
	DeclarationUnstarted = "unstarted"
	DeclarationStarted   = "started"
	DeclarationComplete  = "complete"
)

// Declaration is a supplier's self-attestation for a framework: a status
// plus an open-ended mapping of question id to answer. The adjudicator
// consumes the answers as data; it never assumes a fixed question set.
type Declaration struct {
	Status  string
	Answers map[string]any
}

// Empty reports whether no declaration document is attached at all.
func (d Declaration) Empty() bool {
	return d.Status == "" && len(d.Answers) == 0
}

// Answer returns the answer for a question id, and whether it was given.
// Missing answers are treated as missing, never as false.
func (d Declaration) Answer(questionID string) (any, bool) {
	v, ok := d.Answers[questionID]
	return v, ok
}

// AnsweredCount counts questions with a non-nil answer. Used by the
// most-complete-wins draft tie-break and for completeness reporting.
func (d Declaration) AnsweredCount() int {
	n := 0
	for _, v := range d.Answers {
		if v != nil {
			n++
		}
	}
	return n
}

// UnmarshalJSON splits the wire document into the status field and the
// catch-all answer bag.
func (d *Declaration) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if s, ok := raw["status"].(string); ok {
		d.Status = s
	}
	delete(raw, "status")
	d.Answers = raw
	return nil
}

// MarshalJSON re-joins status and answers into one flat document.
func (d Declaration) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Answers)+1)
	for k, v := range d.Answers {
		out[k] = v
	}
	if d.Status != "" {
		out["status"] = d.Status
	}
	return json.Marshal(out)
}
