// Package correlate pairs START and END log events per process id and
// classifies the elapsed time of each closed job.
//
// A Correlator holds one record per open pid. A Start event opens or
// restamps a record and emits nothing; an End event closes the record,
// computes the duration when a start was seen, classifies it against
// the configured thresholds, and evicts the pid. State is bounded by
// the number of concurrently open jobs, never by log length.
//
// The correlator is a plain synchronous state machine for a single
// owner: it takes no locks and trusts the caller's delivery order.
// Concurrent producers must funnel events through one owning goroutine
// (see pkg/monitor) rather than share an instance.
package correlate

import "sort"

// Config carries the classification thresholds, in the same units as
// event timestamps (seconds for daytime instants). Thresholds are fixed
// at construction.
type Config struct {
	// WarnAfter is the duration at or above which a completed job
	// classifies as SeverityWarning.
	WarnAfter int64

	// ErrorAfter is the duration at or above which a completed job
	// classifies as SeverityError. Checked before WarnAfter.
	ErrorAfter int64
}

// DefaultConfig returns the stock cron-monitoring thresholds:
// warning at 5 minutes, error at 15.
func DefaultConfig() Config {
	return Config{
		WarnAfter:  5 * 60,
		ErrorAfter: 15 * 60,
	}
}

// Correlator owns the pid to open-record map. Construct one per log
// stream with New; the zero value is not usable.
type Correlator struct {
	cfg     Config
	records map[string]*Record
}

// New returns a Correlator with an empty record map. Unset or
// non-positive thresholds fall back to DefaultConfig values.
func New(cfg Config) *Correlator {
	def := DefaultConfig()
	if cfg.WarnAfter <= 0 {
		cfg.WarnAfter = def.WarnAfter
	}
	if cfg.ErrorAfter <= 0 {
		cfg.ErrorAfter = def.ErrorAfter
	}
	return &Correlator{
		cfg:     cfg,
		records: make(map[string]*Record),
	}
}

// Apply processes one event and advances the state machine for its pid.
//
// Start events return (nil, nil): accepted, no result, any prior start
// time for the pid silently overwritten. End events run the close
// protocol and return the emitted Result; the pid is evicted whether or
// not the job completed, and is brand new for any future event.
//
// Events with an absent timestamp, descriptor, or pid fail with a
// *MissingFieldError and mutate nothing. Kinds outside {KindStart,
// KindEnd} fail with a *KindError wrapping ErrInvalidKind and likewise
// mutate nothing; missing-field validation runs first.
func (c *Correlator) Apply(ev Event) (*Result, error) {
	if err := validate(ev); err != nil {
		return nil, err
	}

	switch ev.Kind {
	case KindStart:
		rec := c.fetchOrCreate(ev)
		ts := ev.Timestamp
		rec.StartTime = &ts
		return nil, nil

	case KindEnd:
		rec := c.fetchOrCreate(ev)
		ts := ev.Timestamp
		rec.EndTime = &ts
		return c.close(ev.PID, rec), nil

	default:
		return nil, &KindError{Kind: ev.Kind, PID: ev.PID}
	}
}

// OpenCount returns the number of pids with an open record.
func (c *Correlator) OpenCount() int {
	return len(c.records)
}

// OpenJobs returns copies of all open records sorted by pid, with ages
// relative to now in timestamp units. The snapshot shares no state with
// the correlator and is safe to hand to other goroutines.
func (c *Correlator) OpenJobs(now int64) []OpenJob {
	jobs := make([]OpenJob, 0, len(c.records))
	for pid, rec := range c.records {
		job := OpenJob{
			PID:        pid,
			Descriptor: rec.Descriptor,
			Label:      rec.Label,
		}
		if rec.StartTime != nil {
			st := *rec.StartTime
			job.StartTime = &st
			job.Age = now - st
		}
		if rec.EndTime != nil {
			et := *rec.EndTime
			job.EndTime = &et
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].PID < jobs[j].PID })
	return jobs
}

// SweepOpen force-closes open records whose start time is older than
// before, evicting them and returning one swept result each, sorted by
// pid. Swept results are incomplete: the job never logged an End, so no
// duration exists.
//
// One-shot runs never sweep; follow mode calls this on idle ticks when
// a stale window is configured.
func (c *Correlator) SweepOpen(before int64) []Result {
	var swept []Result
	for pid, rec := range c.records {
		if rec.StartTime == nil || *rec.StartTime >= before {
			continue
		}
		st := *rec.StartTime
		swept = append(swept, Result{
			PID:        pid,
			Descriptor: rec.Descriptor,
			Label:      rec.Label,
			Completed:  false,
			StartTime:  &st,
			Severity:   SeverityIncomplete,
			Swept:      true,
		})
		delete(c.records, pid)
	}
	sort.Slice(swept, func(i, j int) bool { return swept[i].PID < swept[j].PID })
	return swept
}

// validate rejects events with absent required fields before any kind
// dispatch. Timestamp zero is valid (midnight); only negative values
// mark absence, so instants from daytime.Parse always pass.
func validate(ev Event) error {
	switch {
	case ev.Timestamp < 0:
		return &MissingFieldError{Field: "timestamp", PID: ev.PID}
	case ev.Descriptor.IsZero():
		return &MissingFieldError{Field: "descriptor", PID: ev.PID}
	case ev.PID == "":
		return &MissingFieldError{Field: "pid"}
	}
	return nil
}

// fetchOrCreate returns the open record for the event's pid, creating
// one from the event's descriptor on first observation. The descriptor
// is captured once; later events for the same pid do not restamp it.
func (c *Correlator) fetchOrCreate(ev Event) *Record {
	if rec, ok := c.records[ev.PID]; ok {
		return rec
	}
	rec := &Record{
		Descriptor: ev.Descriptor,
		Label:      ev.Descriptor.Label(),
	}
	c.records[ev.PID] = rec
	return rec
}

// close runs the close protocol for a record whose end time was just
// set: mark completion, compute and classify the duration when a start
// was observed, build the result, and unconditionally evict the pid.
func (c *Correlator) close(pid string, rec *Record) *Result {
	rec.Completed = rec.StartTime != nil

	res := &Result{
		PID:        pid,
		Descriptor: rec.Descriptor,
		Label:      rec.Label,
		Completed:  rec.Completed,
		StartTime:  rec.StartTime,
		EndTime:    rec.EndTime,
	}

	if rec.Completed {
		d := *rec.EndTime - *rec.StartTime
		res.Duration = &d
		res.Severity = c.classify(d)
	} else {
		res.Severity = SeverityIncomplete
	}

	delete(c.records, pid)
	return res
}

func (c *Correlator) classify(duration int64) Severity {
	switch {
	case duration >= c.cfg.ErrorAfter:
		return SeverityError
	case duration >= c.cfg.WarnAfter:
		return SeverityWarning
	default:
		return SeverityNormal
	}
}
