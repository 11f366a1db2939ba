package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/CZERTAINLY/Factory/internal/machine"
	"github.com/CZERTAINLY/Factory/internal/model"
	"github.com/CZERTAINLY/Factory/internal/registry"
)

const helpText = `Machine commands: start, stop, status, exit
Job commands: new job, list jobs, select job (or start job), job status, cancel job
Commands taking a job id accept it inline, e.g. "job status 3".`

// Console is the line oriented operator interface of a single machine. It
// reads commands from in and writes plain text replies and machine event
// messages to out. All writes happen on the goroutine running Do.
type Console struct {
	machine *machine.Machine
	in      io.Reader
	out     io.Writer
	events  chan model.Event
}

// NewConsole registers the console as a notifier of m, so it must be created
// before m is started.
func NewConsole(m *machine.Machine, in io.Reader, out io.Writer) *Console {
	c := &Console{
		machine: m,
		in:      in,
		out:     out,
		events:  make(chan model.Event, 64),
	}
	m.WithNotifiers(c)
	return c
}

// Notify queues an event for printing. Events are dropped when the queue is
// full, the console never slows down the production loop.
func (c *Console) Notify(ctx context.Context, e model.Event) error {
	select {
	case c.events <- e:
	default:
		slog.DebugContext(ctx, "console event queue is full: dropping", "kind", e.Kind)
	}
	return nil
}

// Do serves commands until exit, end of input or ctx cancellation.
func (c *Console) Do(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	lines := c.scan(done)

	c.println("Virtual factory machine simulation")
	c.println(helpText)
	for {
		line, ok := c.readLine(ctx, lines)
		if !ok {
			return nil
		}
		cmd := strings.TrimSpace(line)
		if cmd == "" {
			continue
		}
		if strings.EqualFold(cmd, "exit") {
			c.println("Shutting down simulation...")
			return nil
		}
		c.dispatch(ctx, lines, cmd)
	}
}

func (c *Console) scan(done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}

// readLine waits for the next input line and prints machine events meanwhile.
func (c *Console) readLine(ctx context.Context, lines <-chan string) (string, bool) {
	for {
		select {
		case <-ctx.Done():
			return "", false
		case e := <-c.events:
			c.printEvent(e)
		case line, ok := <-lines:
			return line, ok
		}
	}
}

func (c *Console) dispatch(ctx context.Context, lines <-chan string, cmd string) {
	name, arg := splitCommand(cmd)
	switch name {
	case "start":
		c.start(ctx)
	case "stop":
		c.stop(ctx)
	case "status":
		c.status()
	case "help":
		c.println(helpText)
	case "new job":
		c.newJob(ctx, lines, arg)
	case "list jobs":
		c.listJobs()
	case "select job", "start job":
		c.selectJob(ctx, lines, arg)
	case "job status":
		c.jobStatus(ctx, lines, arg)
	case "cancel job":
		c.cancelJob(ctx, lines, arg)
	default:
		c.printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
}

var twoWordCommands = []string{"new job", "list jobs", "select job", "start job", "job status", "cancel job"}

// splitCommand separates the case insensitive command from an inline
// argument, which keeps its case.
func splitCommand(cmd string) (name, arg string) {
	for _, name := range twoWordCommands {
		if len(cmd) < len(name) || !strings.EqualFold(cmd[:len(name)], name) {
			continue
		}
		rest := cmd[len(name):]
		if rest == "" || rest[0] == ' ' {
			return name, strings.TrimSpace(rest)
		}
	}
	return strings.ToLower(cmd), ""
}

func (c *Console) start(ctx context.Context) {
	err := c.machine.Start(ctx)
	switch {
	case err == nil:
		job, _ := c.registry().CurrentJob()
		c.printf("Machine started with job #%d\n", job.ID)
	case errors.Is(err, machine.ErrNoActiveJob):
		c.println("Cannot start machine without an active job. Use 'select job' command first.")
	case errors.Is(err, machine.ErrAlreadyRunning):
		c.println("Machine is already running")
	case errors.Is(err, machine.ErrInErrorState):
		c.println("Cannot start machine while in Error state. Use 'stop' command to reset.")
	default:
		c.printf("Cannot start machine: %v\n", err)
	}
}

func (c *Console) stop(ctx context.Context) {
	prev := c.machine.State()
	err := c.machine.Stop(ctx)
	switch {
	case errors.Is(err, machine.ErrAlreadyStopped):
		c.println("Machine is already stopped")
	case err != nil:
		c.printf("Cannot stop machine: %v\n", err)
	case prev == model.StateError:
		c.println("Machine has been reset from Error state")
	default:
		if job, ok := c.registry().CurrentJob(); ok {
			c.printf("Machine stopped. Produced %d / %d\n", job.Produced, job.Quantity)
			return
		}
		c.println("Machine stopped")
	}
}

func (c *Console) status() {
	st := c.machine.Status()
	c.printf("Machine %s: %s, signal light %s\n", st.ID, st.State, st.Light)
	if st.Job == nil {
		c.println("Current job: none")
		return
	}
	c.printf("Current job: %s\n", st.Job)
}

func (c *Console) newJob(ctx context.Context, lines <-chan string, arg string) {
	product, qty := arg, ""
	if i := strings.LastIndexByte(arg, ' '); i > 0 {
		if _, err := strconv.Atoi(arg[i+1:]); err == nil {
			product, qty = strings.TrimSpace(arg[:i]), arg[i+1:]
		}
	}
	if product == "" {
		var ok bool
		if product, ok = c.prompt(ctx, lines, "Enter product name:"); !ok {
			return
		}
	}
	if strings.TrimSpace(product) == "" {
		c.println("Job creation cancelled. Product name cannot be empty.")
		return
	}
	if qty == "" {
		var ok bool
		if qty, ok = c.prompt(ctx, lines, fmt.Sprintf("Enter quantity for %s:", product)); !ok {
			return
		}
	}
	quantity, err := strconv.Atoi(strings.TrimSpace(qty))
	if err != nil || quantity <= 0 {
		c.println("Invalid quantity. Please enter a positive number.")
		return
	}
	job, err := c.registry().CreateJob(ctx, product, quantity)
	if err != nil {
		c.printf("Cannot create job: %v\n", err)
		return
	}
	c.printf("Created %s\n", job)
}

func (c *Console) listJobs() {
	all := c.registry().ListAll()
	total := len(all.Pending) + len(all.InWork) + len(all.Done)
	if total == 0 {
		c.println("No jobs have been created yet.")
		return
	}
	for _, group := range []struct {
		title string
		jobs  []model.Job
	}{
		{"In work", all.InWork},
		{"Pending", all.Pending},
		{"Done", all.Done},
	} {
		if len(group.jobs) == 0 {
			continue
		}
		c.printf("%s:\n", group.title)
		for _, job := range group.jobs {
			c.printf("  %s\n", job)
		}
	}
	c.printf("Total Jobs: %d\n", total)
}

func (c *Console) selectJob(ctx context.Context, lines <-chan string, arg string) {
	if c.machine.State() == model.StateRunning {
		c.println("Cannot start a job while machine is running. Stop the machine first.")
		return
	}
	id, ok := c.jobID(ctx, lines, arg, "Enter job ID to start:")
	if !ok {
		return
	}
	_, err := c.registry().StartJob(ctx, id)
	switch {
	case err == nil:
		c.printf("Job #%d is ready. Use 'start' command to begin processing.\n", id)
	case errors.Is(err, model.ErrConflict):
		cur, _ := c.registry().CurrentJob()
		c.printf("Cannot start job #%d. Job #%d is already in progress.\n", id, cur.ID)
	case errors.Is(err, model.ErrNotFound):
		c.printf("Job #%d not found.\n", id)
	case errors.Is(err, model.ErrAlreadyCompleted):
		c.printf("Job #%d is already completed.\n", id)
	default:
		c.printf("Cannot start job #%d: %v\n", id, err)
	}
}

func (c *Console) jobStatus(ctx context.Context, lines <-chan string, arg string) {
	id, ok := c.jobID(ctx, lines, arg, "Enter job ID:")
	if !ok {
		return
	}
	job, err := c.registry().JobStatus(id)
	if err != nil {
		c.printf("Job #%d not found.\n", id)
		return
	}
	c.println(job.String())
}

func (c *Console) cancelJob(ctx context.Context, lines <-chan string, arg string) {
	if c.machine.State() == model.StateRunning {
		c.println("Cannot cancel a job while machine is running. Stop the machine first.")
		return
	}
	id, ok := c.jobID(ctx, lines, arg, "Enter job ID to cancel:")
	if !ok {
		return
	}
	_, err := c.registry().CancelJob(ctx, id)
	switch {
	case err == nil:
		c.printf("Cancelled and removed Job #%d\n", id)
	case errors.Is(err, model.ErrNotFound):
		c.printf("Job #%d not found.\n", id)
	case errors.Is(err, model.ErrAlreadyCompleted):
		c.printf("Job #%d is already completed and cannot be cancelled.\n", id)
	default:
		c.printf("Cannot cancel job #%d: %v\n", id, err)
	}
}

// jobID takes the inline argument or prompts for it.
func (c *Console) jobID(ctx context.Context, lines <-chan string, arg, question string) (int, bool) {
	if arg == "" {
		var ok bool
		if arg, ok = c.prompt(ctx, lines, question); !ok {
			return 0, false
		}
	}
	id, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		c.println("Invalid job ID. Please enter a valid number.")
		return 0, false
	}
	return id, true
}

func (c *Console) prompt(ctx context.Context, lines <-chan string, question string) (string, bool) {
	c.println(question)
	return c.readLine(ctx, lines)
}

func (c *Console) printEvent(e model.Event) {
	switch e.Kind {
	case model.EventProgress:
		if e.Job != nil {
			c.printf("Processing job %d: %s (cycle %d/%d)\n", e.Job.ID, e.Job.ProductName, e.Job.Produced, e.Job.Quantity)
		}
	case model.EventFailure:
		c.println("Critical error occurred! Use 'stop' command to reset machine.")
	case model.EventCompleted:
		if e.Job != nil {
			c.printf("Job %d completed successfully. Produced: %d\n", e.Job.ID, e.Job.Produced)
		}
	}
}

func (c *Console) registry() *registry.Registry {
	return c.machine.Registry()
}

func (c *Console) println(s string) {
	_, _ = fmt.Fprintln(c.out, s)
}

func (c *Console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}
