package model

import (
	"fmt"
	"strconv"
)

// JobStatus is the lifecycle position of a Job. Only Pending -> InWork -> Done
// transitions are allowed.
type JobStatus int

const (
	JobPending JobStatus = iota
	JobInWork
	JobDone
)

func (s JobStatus) String() string {
	switch s {
	case JobPending:
		return "Pending"
	case JobInWork:
		return "InWork"
	case JobDone:
		return "Done"
	default:
		return "JobStatus(" + strconv.Itoa(int(s)) + ")"
	}
}

func (s JobStatus) MarshalText() ([]byte, error) {
	switch s {
	case JobPending, JobInWork, JobDone:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("unknown job status %d", int(s))
}

// UnmarshalText accepts the names and the numeric form (0, 1, 2) older job
// files were written with.
func (s *JobStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Pending", "0":
		*s = JobPending
	case "InWork", "1":
		*s = JobInWork
	case "Done", "2":
		*s = JobDone
	default:
		return fmt.Errorf("unknown job status %q", string(b))
	}
	return nil
}

// UnmarshalJSON handles a bare number in addition to the quoted text form.
func (s *JobStatus) UnmarshalJSON(b []byte) error {
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		return s.UnmarshalText(b[1 : len(b)-1])
	}
	return s.UnmarshalText(b)
}

// Job is a unit of simulated production. ID, ProductName and Quantity never
// change after creation; Produced and Status are mutated by the registry only.
type Job struct {
	ID          int       `json:"id"`
	ProductName string    `json:"productName"`
	Quantity    int       `json:"quantity"`
	Produced    int       `json:"quantityProduced"`
	Status      JobStatus `json:"status"`
}

// NewJob returns a Pending job with nothing produced. Arguments are not
// validated here, see registry.CreateJob.
func NewJob(id int, productName string, quantity int) Job {
	return Job{
		ID:          id,
		ProductName: productName,
		Quantity:    quantity,
		Status:      JobPending,
	}
}

// Produce sets the absolute produced count. The job becomes Done once the
// count reaches Quantity.
func (j *Job) Produce(produced int) {
	j.Produced = produced
	if j.Produced >= j.Quantity {
		j.Status = JobDone
	}
}

func (j Job) String() string {
	return fmt.Sprintf("Job #%d: %s (Qty: %d, Produced: %d) - Status: %s",
		j.ID, j.ProductName, j.Quantity, j.Produced, j.Status)
}
