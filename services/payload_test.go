package services

import (
	"errors"
	"testing"

	"github.com/cppla/learnquest/models"
)

func TestDecodePayload_SanitizesNote(t *testing.T) {
	p, err := DecodePayload(models.ReasonManualGrant, map[string]interface{}{
		"granted_by": "ops",
		"note":       "<b>great</b> work",
	})
	if err != nil {
		t.Fatal(err)
	}
	grant, ok := p.(ManualGrant)
	if !ok {
		t.Fatalf("payload type %T", p)
	}
	if grant.Note != "great work" {
		t.Errorf("note = %q", grant.Note)
	}
	if grant.SourceRef() != nil {
		t.Error("manual grants imply no source ref")
	}
}

func TestDecodePayload_ImpliedSourceRef(t *testing.T) {
	p, err := DecodePayload(models.ReasonLessonCompleted, map[string]interface{}{
		"lesson_id": "gb-1", "course_id": "go-basics",
	})
	if err != nil {
		t.Fatal(err)
	}
	ref, err := resolveSourceRef(p, nil)
	if err != nil || ref == nil || *ref != "gb-1" {
		t.Fatalf("ref = %v, %v", ref, err)
	}
	same := "gb-1"
	if _, err := resolveSourceRef(p, &same); err != nil {
		t.Errorf("matching ref rejected: %v", err)
	}
	other := "gb-2"
	if _, err := resolveSourceRef(p, &other); !errors.Is(err, ErrValidation) {
		t.Errorf("contradicting ref err = %v", err)
	}
}

func TestDecodePayload_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		reason models.XPReason
		meta   map[string]interface{}
	}{
		{"missing course", models.ReasonLessonCompleted, map[string]interface{}{"lesson_id": "gb-1"}},
		{"wrong type", models.ReasonCourseCompleted, map[string]interface{}{"course_id": 7}},
		{"unknown field", models.ReasonDailyLogin, map[string]interface{}{"date": "2026-03-01", "tz": "UTC"}},
		{"nil metadata", models.ReasonDailyLogin, nil},
		{"unknown reason", models.XPReason("gift"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePayload(tt.reason, tt.meta); !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}
