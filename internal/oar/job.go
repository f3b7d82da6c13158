// Package oar drives the OAR batch scheduler through its command line tools
// (oarsub, oarstat, oardel) over a remote.Channel.
package oar

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// State is a normalized job state.
type State string

const (
	Waiting    State = "Waiting"
	Running    State = "Running"
	Error      State = "Error"
	Terminated State = "Terminated"

	// Unknown means the scheduler has no record of the job (yet).
	Unknown State = "Unknown"
)

// ParseState maps a raw OAR state onto the normalized set.
func ParseState(raw string) State {
	switch raw {
	case "Waiting", "toLaunch", "Launching", "Hold", "toAckReservation", "Suspended", "Resuming":
		return Waiting
	case "Running":
		return Running
	case "Finishing", "Terminated":
		return Terminated
	case "toError", "Error":
		return Error
	default:
		return Unknown
	}
}

// IsTerminal reports whether the job can no longer reach Running.
func (s State) IsTerminal() bool {
	return s == Error || s == Terminated
}

// Job is a snapshot of a scheduler job. It is never written back.
type Job struct {
	ID         string
	Name       string
	Owner      string
	State      State
	Addresses  []string // assigned_network_address, primary first
	StderrFile string
	StartTime  time.Time     // zero until the job starts
	Walltime   time.Duration // zero when unknown
}

// Remaining returns how long the job may still run at now. ok is false when
// the job has not started or its walltime is unknown.
func (j Job) Remaining(now time.Time) (d time.Duration, ok bool) {
	if j.StartTime.IsZero() || j.Walltime == 0 {
		return 0, false
	}
	return j.StartTime.Add(j.Walltime).Sub(now), true
}

// ParseWalltime parses an OAR walltime: hours, optionally followed by
// minutes and seconds ("2", "1:30", "02:00:00").
func ParseWalltime(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) > 3 || parts[0] == "" {
		return 0, fmt.Errorf("invalid walltime %q", s)
	}
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid walltime %q", s)
		}
		d += time.Duration(n) * units[i]
	}
	return d, nil
}

// PrimaryAddress returns the first assigned address, or "".
func (j Job) PrimaryAddress() string {
	if len(j.Addresses) == 0 {
		return ""
	}
	return j.Addresses[0]
}

// JobSpec describes a job submission.
type JobSpec struct {
	Name       string
	Resources  string // e.g. "nodes=1" or "slash_22=1"
	Walltime   string
	Properties string // optional -p selector
	Checkpoint int    // seconds before walltime to send Signal; 0 disables
	Signal     int
	Types      []string
	Command    string
}

// command renders the oarsub invocation for s.
func (s JobSpec) command(quote func(string) string) string {
	var b strings.Builder
	b.WriteString("oarsub --json")
	for _, t := range s.Types {
		b.WriteString(" -t ")
		b.WriteString(quote(t))
	}

	res := s.Resources
	if s.Walltime != "" {
		res += ",walltime=" + s.Walltime
	}
	b.WriteString(" -l ")
	b.WriteString(quote(res))

	if s.Properties != "" {
		b.WriteString(" -p ")
		b.WriteString(quote(s.Properties))
	}
	if s.Name != "" {
		b.WriteString(" --name ")
		b.WriteString(quote(s.Name))
	}
	if s.Checkpoint > 0 {
		fmt.Fprintf(&b, " --checkpoint %d", s.Checkpoint)
	}
	if s.Signal > 0 {
		fmt.Fprintf(&b, " --signal %d", s.Signal)
	}
	b.WriteString(" ")
	b.WriteString(quote(s.Command))
	return b.String()
}

// ErrJobNotRunning is the transient reason recorded while waiting on a job.
var ErrJobNotRunning = errors.New("job is not running yet")

// SubmissionError reports an oarsub run whose output carried no job id.
type SubmissionError struct {
	Output string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scheduler returned no job id: %v (output: %q)", e.Err, e.Output)
	}
	return fmt.Sprintf("scheduler returned no job id (output: %q)", e.Output)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// JobError reports a job that reached Error or Terminated.
type JobError struct {
	ID     string
	State  State
	Detail string
}

func (e *JobError) Error() string {
	msg := fmt.Sprintf("job %s is %s", e.ID, e.State)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

type rawJob struct {
	Name       string   `json:"name"`
	Owner      string   `json:"owner"`
	State      string   `json:"state"`
	Addresses  []string `json:"assigned_network_address"`
	StderrFile string   `json:"stderr_file"`
	StartTime  int64    `json:"startTime"` // epoch seconds, 0 before start
	Walltime   int64    `json:"walltime"`  // seconds
}

// parseJobs decodes an oarstat --json document keyed by job id.
// The result is ordered by ascending id.
func parseJobs(out string) ([]Job, error) {
	doc := extractObject(out)
	if doc == "" {
		return nil, nil
	}

	var raw map[string]rawJob
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode oarstat output: %w", err)
	}

	jobs := make([]Job, 0, len(raw))
	for id, r := range raw {
		j := Job{
			ID:         id,
			Name:       r.Name,
			Owner:      r.Owner,
			State:      ParseState(r.State),
			Addresses:  r.Addresses,
			StderrFile: r.StderrFile,
			Walltime:   time.Duration(r.Walltime) * time.Second,
		}
		if r.StartTime > 0 {
			j.StartTime = time.Unix(r.StartTime, 0)
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, j int) bool { return lessID(jobs[i].ID, jobs[j].ID) })
	return jobs, nil
}

// parseJobID extracts job_id from oarsub --json output.
func parseJobID(out string) (string, error) {
	doc := extractObject(out)
	if doc == "" {
		return "", &SubmissionError{Output: out}
	}

	dec := json.NewDecoder(strings.NewReader(doc))
	dec.UseNumber()
	var v struct {
		JobID any `json:"job_id"`
	}
	if err := dec.Decode(&v); err != nil {
		return "", &SubmissionError{Output: out, Err: err}
	}

	var id string
	switch x := v.JobID.(type) {
	case json.Number:
		id = x.String()
	case string:
		id = strings.TrimSpace(x)
	}
	if id == "" {
		return "", &SubmissionError{Output: out}
	}
	return id, nil
}

// extractObject returns the text between the first '{' and the last '}'.
// Admission rules print free text around the document.
func extractObject(out string) string {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end < start {
		return ""
	}
	return out[start : end+1]
}

func lessID(a, b string) bool {
	ai, errA := strconv.Atoi(a)
	bi, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}
