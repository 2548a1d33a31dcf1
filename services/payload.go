package services

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"gorm.io/datatypes"

	"github.com/cppla/learnquest/models"
)

const maxNoteLen = 500

var notePolicy = bluemonday.StrictPolicy()

// Payload is the typed metadata of an XP event. Each reason has exactly one payload type.
type Payload interface {
	Reason() models.XPReason
	// SourceRef is the idempotency reference implied by the payload, nil when the reason
	// does not imply one.
	SourceRef() *string
	validate() error
}

// LessonCompleted is the payload of a lesson_completed event.
type LessonCompleted struct {
	LessonID string `json:"lesson_id"`
	CourseID string `json:"course_id"`
}

func (LessonCompleted) Reason() models.XPReason { return models.ReasonLessonCompleted }
func (p LessonCompleted) SourceRef() *string     { return strPtr(p.LessonID) }

func (p LessonCompleted) validate() error {
	if p.LessonID == "" || p.CourseID == "" {
		return validationf("lesson_completed requires lesson_id and course_id")
	}
	return nil
}

// CourseCompleted is the payload of a course_completed event.
type CourseCompleted struct {
	CourseID string `json:"course_id"`
}

func (CourseCompleted) Reason() models.XPReason { return models.ReasonCourseCompleted }
func (p CourseCompleted) SourceRef() *string     { return strPtr(p.CourseID) }

func (p CourseCompleted) validate() error {
	if p.CourseID == "" {
		return validationf("course_completed requires course_id")
	}
	return nil
}

// DailyLoginBonus is the payload of a daily_login event.
type DailyLoginBonus struct {
	Date string `json:"date"`
}

func (DailyLoginBonus) Reason() models.XPReason { return models.ReasonDailyLogin }
func (p DailyLoginBonus) SourceRef() *string     { return strPtr(p.Date) }

func (p DailyLoginBonus) validate() error {
	if _, err := time.Parse(models.DateLayout, p.Date); err != nil {
		return validationf("daily_login date %q is not YYYY-MM-DD", p.Date)
	}
	return nil
}

// ManualGrant is the payload of an operator grant. Its source_ref is chosen by the caller.
type ManualGrant struct {
	GrantedBy string `json:"granted_by"`
	Note      string `json:"note,omitempty"`
}

func (ManualGrant) Reason() models.XPReason { return models.ReasonManualGrant }
func (ManualGrant) SourceRef() *string      { return nil }

func (p ManualGrant) validate() error {
	if strings.TrimSpace(p.GrantedBy) == "" {
		return validationf("manual_grant requires granted_by")
	}
	if utf8.RuneCountInString(p.Note) > maxNoteLen {
		return validationf("manual_grant note longer than %d characters", maxNoteLen)
	}
	return nil
}

// DecodePayload builds the typed payload for reason from loosely typed metadata and validates it.
func DecodePayload(reason models.XPReason, metadata map[string]any) (Payload, error) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, validationf("metadata is not serializable: %v", err)
	}
	var p Payload
	switch reason {
	case models.ReasonLessonCompleted:
		var v LessonCompleted
		err = strictUnmarshal(raw, &v)
		p = v
	case models.ReasonCourseCompleted:
		var v CourseCompleted
		err = strictUnmarshal(raw, &v)
		p = v
	case models.ReasonDailyLogin:
		var v DailyLoginBonus
		err = strictUnmarshal(raw, &v)
		p = v
	case models.ReasonManualGrant:
		var v ManualGrant
		err = strictUnmarshal(raw, &v)
		v.Note = strings.TrimSpace(notePolicy.Sanitize(v.Note))
		p = v
	default:
		return nil, validationf("unknown reason %q", reason)
	}
	if err != nil {
		return nil, validationf("metadata for %s: %v", reason, err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// strictUnmarshal rejects fields the payload type does not declare. A nil map decodes to the zero value.
func strictUnmarshal(raw []byte, v any) error {
	if bytes.Equal(raw, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func encodePayload(p Payload) datatypes.JSON {
	b, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// resolveSourceRef merges the caller's reference with the one implied by the payload.
// A caller reference that contradicts the payload is rejected.
func resolveSourceRef(p Payload, given *string) (*string, error) {
	if given != nil && strings.TrimSpace(*given) == "" {
		given = nil
	}
	implied := p.SourceRef()
	switch {
	case implied == nil:
		return given, nil
	case given == nil:
		return implied, nil
	case *given != *implied:
		return nil, validationf("source_ref %q does not match %s payload (%q)", *given, p.Reason(), *implied)
	default:
		return implied, nil
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
