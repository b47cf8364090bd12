package stage

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Name identifies a pipeline stage.
type Name string

const (
	Config    Name = "config"
	Audio     Name = "audio"
	Animate   Name = "animate"
	Matte     Name = "matte"
	Composite Name = "composite"
	Encode    Name = "encode"
)

// Order lists the executable stages in the only order they may run.
var Order = []Name{Audio, Animate, Matte, Composite, Encode}

// Label returns a display label such as "Composite".
func (n Name) Label() string {
	if n == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.ReplaceAll(string(n), "_", " "))
}

// Status describes where a stage ended up within one run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Report records the outcome and timing of one stage.
type Report struct {
	Name     Name          `json:"name"`
	Status   Status        `json:"status"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Detail   string        `json:"detail,omitempty"`
}

// NewReports seeds a pending report for every stage in Order.
func NewReports() []Report {
	reports := make([]Report, 0, len(Order))
	for _, name := range Order {
		reports = append(reports, Report{Name: name, Status: StatusPending})
	}
	return reports
}
