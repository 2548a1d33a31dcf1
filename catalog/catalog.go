// Package catalog holds the read-only course, lesson and badge definitions the progression
// engine consumes. Definitions are owned and versioned outside the engine.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cppla/learnquest/models"
)

// Catalog is the read-only view of content definitions.
type Catalog interface {
	// Courses returns all courses sorted by Order.
	Courses() []models.Course
	Course(id string) (models.Course, bool)
	Lesson(id string) (models.Lesson, bool)
	Badges() []models.Badge
	Badge(id string) (models.Badge, bool)
}

// ErrInvalid is returned when catalog data fails validation.
var ErrInvalid = errors.New("invalid catalog")

type fileFormat struct {
	Courses []models.Course `yaml:"courses"`
	Badges  []models.Badge  `yaml:"badges"`
}

// Static is an immutable in-memory catalog.
type Static struct {
	courses  []models.Course
	byCourse map[string]int
	lessons  map[string]models.Lesson
	badges   []models.Badge
	byBadge  map[string]int
}

// New validates the given definitions and builds a catalog from copies of them.
func New(courses []models.Course, badges []models.Badge) (*Static, error) {
	s := &Static{
		byCourse: make(map[string]int, len(courses)),
		lessons:  make(map[string]models.Lesson),
		byBadge:  make(map[string]int, len(badges)),
	}

	orders := make(map[int]string, len(courses))
	for _, c := range courses {
		c.ID = strings.TrimSpace(c.ID)
		if c.ID == "" {
			return nil, fmt.Errorf("%w: course with empty id", ErrInvalid)
		}
		if _, dup := s.byCourse[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate course id %q", ErrInvalid, c.ID)
		}
		if other, dup := orders[c.Order]; dup {
			return nil, fmt.Errorf("%w: courses %q and %q share order %d", ErrInvalid, other, c.ID, c.Order)
		}
		orders[c.Order] = c.ID

		lessons := make([]models.Lesson, 0, len(c.Lessons))
		for _, l := range c.Lessons {
			l.ID = strings.TrimSpace(l.ID)
			if l.ID == "" {
				return nil, fmt.Errorf("%w: course %q has a lesson with empty id", ErrInvalid, c.ID)
			}
			if _, dup := s.lessons[l.ID]; dup {
				return nil, fmt.Errorf("%w: duplicate lesson id %q", ErrInvalid, l.ID)
			}
			if l.XP < 0 {
				return nil, fmt.Errorf("%w: lesson %q has negative xp", ErrInvalid, l.ID)
			}
			l.CourseID = c.ID
			s.lessons[l.ID] = l
			lessons = append(lessons, l)
		}
		sort.SliceStable(lessons, func(i, j int) bool { return lessons[i].Order < lessons[j].Order })
		c.Lessons = lessons
		s.byCourse[c.ID] = -1
		s.courses = append(s.courses, c)
	}
	sort.Slice(s.courses, func(i, j int) bool { return s.courses[i].Order < s.courses[j].Order })
	for i, c := range s.courses {
		s.byCourse[c.ID] = i
	}

	for _, b := range badges {
		b.ID = strings.TrimSpace(b.ID)
		if b.ID == "" {
			return nil, fmt.Errorf("%w: badge with empty id", ErrInvalid)
		}
		if _, dup := s.byBadge[b.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate badge id %q", ErrInvalid, b.ID)
		}
		if !b.Criteria.Type.Valid() {
			return nil, fmt.Errorf("%w: badge %q has unknown criteria type %q", ErrInvalid, b.ID, b.Criteria.Type)
		}
		if b.Criteria.Threshold <= 0 {
			return nil, fmt.Errorf("%w: badge %q needs a positive threshold", ErrInvalid, b.ID)
		}
		s.byBadge[b.ID] = len(s.badges)
		s.badges = append(s.badges, b)
	}
	return s, nil
}

// Parse decodes YAML catalog data.
func Parse(data []byte) (*Static, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return New(f.Courses, f.Badges)
}

// Load reads a YAML catalog file.
func Load(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(data)
}

func (s *Static) Courses() []models.Course {
	out := make([]models.Course, len(s.courses))
	copy(out, s.courses)
	return out
}

func (s *Static) Course(id string) (models.Course, bool) {
	i, ok := s.byCourse[id]
	if !ok {
		return models.Course{}, false
	}
	return s.courses[i], true
}

func (s *Static) Lesson(id string) (models.Lesson, bool) {
	l, ok := s.lessons[id]
	return l, ok
}

func (s *Static) Badges() []models.Badge {
	out := make([]models.Badge, len(s.badges))
	copy(out, s.badges)
	return out
}

func (s *Static) Badge(id string) (models.Badge, bool) {
	i, ok := s.byBadge[id]
	if !ok {
		return models.Badge{}, false
	}
	return s.badges[i], true
}

// Previous returns the course immediately before courseID in unlock order.
// ok is false for the first course and for unknown ids.
func Previous(c Catalog, courseID string) (prev models.Course, ok bool) {
	courses := c.Courses()
	for i, course := range courses {
		if course.ID == courseID {
			if i == 0 {
				return models.Course{}, false
			}
			return courses[i-1], true
		}
	}
	return models.Course{}, false
}
