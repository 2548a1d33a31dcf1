package models

// Course is catalog reference data. Order defines the unlock sequence.
type Course struct {
	ID      string   `yaml:"id" json:"id"`
	Title   string   `yaml:"title" json:"title"`
	Order   int      `yaml:"order" json:"order"`
	Lessons []Lesson `yaml:"lessons" json:"lessons"`
}

// Lesson belongs to exactly one course. XP overrides the configured per-lesson reward when positive.
type Lesson struct {
	ID       string `yaml:"id" json:"id"`
	CourseID string `yaml:"-" json:"course_id"`
	Title    string `yaml:"title" json:"title"`
	Order    int    `yaml:"order" json:"order"`
	XP       int    `yaml:"xp" json:"xp,omitempty"`
}
