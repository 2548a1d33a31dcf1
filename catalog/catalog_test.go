package catalog

import (
	"errors"
	"testing"

	"github.com/cppla/learnquest/models"
)

const sample = `
courses:
  - id: go-advanced
    title: Advanced Go
    order: 2
    lessons:
      - {id: adv-2, title: Generics, order: 2}
      - {id: adv-1, title: Channels, order: 1, xp: 250}
  - id: go-basics
    title: Go Basics
    order: 1
    lessons:
      - {id: basics-1, title: Hello, order: 1}
badges:
  - id: xp-500
    name: Rising Star
    category: xp
    rarity: common
    criteria: {type: xp_total, threshold: 500}
`

func TestParse_SortsCoursesAndLessons(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	courses := c.Courses()
	if len(courses) != 2 || courses[0].ID != "go-basics" || courses[1].ID != "go-advanced" {
		t.Fatalf("courses not sorted by order: %+v", courses)
	}
	if courses[1].Lessons[0].ID != "adv-1" {
		t.Errorf("lessons not sorted by order: %+v", courses[1].Lessons)
	}
	l, ok := c.Lesson("adv-1")
	if !ok {
		t.Fatal("lesson adv-1 missing")
	}
	if l.CourseID != "go-advanced" || l.XP != 250 {
		t.Errorf("lesson = %+v", l)
	}
	if b, ok := c.Badge("xp-500"); !ok || b.Criteria.Threshold != 500 {
		t.Errorf("badge = %+v, %v", b, ok)
	}
}

func TestPrevious(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := Previous(c, "go-basics"); ok {
		t.Error("first course should have no predecessor")
	}
	prev, ok := Previous(c, "go-advanced")
	if !ok || prev.ID != "go-basics" {
		t.Errorf("Previous(go-advanced) = %q, %v", prev.ID, ok)
	}
	if _, ok := Previous(c, "missing"); ok {
		t.Error("unknown course should have no predecessor")
	}
}

func TestNew_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		courses []models.Course
		badges  []models.Badge
	}{
		{
			name:    "DuplicateCourse",
			courses: []models.Course{{ID: "a", Order: 1}, {ID: "a", Order: 2}},
		},
		{
			name:    "SharedOrder",
			courses: []models.Course{{ID: "a", Order: 1}, {ID: "b", Order: 1}},
		},
		{
			name: "DuplicateLesson",
			courses: []models.Course{
				{ID: "a", Order: 1, Lessons: []models.Lesson{{ID: "l"}}},
				{ID: "b", Order: 2, Lessons: []models.Lesson{{ID: "l"}}},
			},
		},
		{
			name:   "UnknownCriteria",
			badges: []models.Badge{{ID: "x", Criteria: models.BadgeCriteria{Type: "karma", Threshold: 1}}},
		},
		{
			name:   "ZeroThreshold",
			badges: []models.Badge{{ID: "x", Criteria: models.BadgeCriteria{Type: models.CriteriaXPTotal}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.courses, tt.badges)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoad_ShippedCatalog(t *testing.T) {
	cat, err := Load("../config/catalog.yaml")
	if err != nil {
		t.Fatal(err)
	}
	courses := cat.Courses()
	if len(courses) != 3 || courses[0].ID != "go-fundamentals" {
		t.Fatalf("courses = %+v", courses)
	}
	l, ok := cat.Lesson("gc-channels")
	if !ok || l.CourseID != "go-concurrency" || l.XP != 150 {
		t.Errorf("lesson = %+v, %v", l, ok)
	}
	if len(cat.Badges()) != 7 {
		t.Errorf("badges = %d", len(cat.Badges()))
	}
}
