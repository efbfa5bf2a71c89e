// Package orchestrator implements the Job Orchestrator: per-job phase
// sequencing, idempotent phase triggers, and a ring-buffered job log.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/r3e-network/selun-engine/domain/aaaforward"
	"github.com/r3e-network/selun-engine/domain/phases"
	"github.com/r3e-network/selun-engine/system/framework"
	core "github.com/r3e-network/selun-engine/system/framework/core"
	"github.com/r3e-network/selun-engine/system/framework/lifecycle"
	"github.com/sirupsen/logrus"
)

// PhaseStatus is one phase's lifecycle state on a job.
type PhaseStatus string

const (
	PhaseIdle       PhaseStatus = "idle"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseComplete   PhaseStatus = "complete"
	PhaseFailed     PhaseStatus = "failed"
)

// LogEntry is one ring-buffer entry for a job.
type LogEntry struct {
	Phase       string
	SubPhase    string
	Status      PhaseStatus
	Timestamp   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Error       string
}

const logRingCapacity = 300

// Job is the per-job execution context.
type Job struct {
	mu      sync.Mutex
	ID      string
	Wallet  string
	Input   phases.Input
	Status  map[string]PhaseStatus
	running map[string]bool
	Logs    []LogEntry

	Phase1 phases.Phase1Output
	Phase2 phases.Phase2Output
	Phase3 phases.Phase3Output
	Phase4 phases.Phase4Output
	Phase5 phases.Phase5Output
	Phase6 phases.Phase6Output
}

func newJob(id string, in phases.Input) *Job {
	return &Job{
		ID:      id,
		Wallet:  in.WalletAddress,
		Input:   in,
		Status:  map[string]PhaseStatus{"phase1": PhaseIdle, "phase2": PhaseIdle, "phase3": PhaseIdle, "phase4": PhaseIdle, "phase5": PhaseIdle, "phase6": PhaseIdle},
		running: map[string]bool{},
	}
}

func (j *Job) appendLog(entry LogEntry) {
	j.Logs = append(j.Logs, entry)
	if len(j.Logs) > logRingCapacity {
		j.Logs = j.Logs[len(j.Logs)-logRingCapacity:]
	}
}

func (j *Job) setStatus(phase string, status PhaseStatus, startedAt time.Time, errMsg string) {
	j.Status[phase] = status
	entry := LogEntry{Phase: phase, Status: status, Timestamp: time.Now(), StartedAt: startedAt, Error: errMsg}
	if status == PhaseComplete || status == PhaseFailed {
		entry.CompletedAt = time.Now()
	}
	j.appendLog(entry)
}

// Status is the externally-visible execution snapshot for a job.
type Status struct {
	JobID  string
	Wallet string
	Phases map[string]PhaseStatus
	Logs   []LogEntry
}

// Orchestrator sequences the six phase engines across concurrently running
// jobs. Each job runs cooperatively: one in-flight task per (job, phase).
type Orchestrator struct {
	framework.ServiceBase

	mu              sync.Mutex
	jobs            map[string]*Job
	walletLatestJob map[string]string

	phase1 *phases.Phase1Engine
	phase3 *phases.Phase3Engine
	phase4 *phases.Phase4Engine
	phase5 *phases.Phase5Engine
	phase6 *phases.Phase6Engine
	aaa    *aaaforward.Forwarder
	selfURL string

	metrics phaseMetricsRecorder
	shutdown *lifecycle.GracefulShutdown

	log *logrus.Entry
}

// phaseMetricsRecorder is the subset of infrastructure/metrics.Metrics the
// orchestrator needs. Matching it structurally keeps this package free of a
// hard dependency on the metrics package when no recorder is set.
type phaseMetricsRecorder interface {
	RecordPhaseRun(phase, status string, duration time.Duration)
}

// SetMetrics attaches a metrics recorder. Phase runs are recorded from the
// point it is set onward; calling with nil disables recording.
func (o *Orchestrator) SetMetrics(m phaseMetricsRecorder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.metrics = m
}

func New(phase1 *phases.Phase1Engine, phase3 *phases.Phase3Engine, phase4 *phases.Phase4Engine, phase5 *phases.Phase5Engine, phase6 *phases.Phase6Engine, aaa *aaaforward.Forwarder, selfURL string, log *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		ServiceBase:     *framework.NewServiceBase("orchestrator", "allocation"),
		jobs:            map[string]*Job{},
		walletLatestJob: map[string]string{},
		phase1:          phase1,
		phase3:          phase3,
		phase4:          phase4,
		phase5:          phase5,
		phase6:          phase6,
		aaa:             aaa,
		selfURL:         selfURL,
		shutdown:        lifecycle.NewGracefulShutdown(),
		log:             log.WithField("service", "orchestrator"),
	}
}

func (o *Orchestrator) Start(ctx context.Context) error { o.MarkStarted(); return nil }

// Stop signals in-flight phase goroutines to finish and waits for them,
// bounded by ctx, before marking the service stopped.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.shutdown.Shutdown()
	err := o.shutdown.Wait(ctx)
	o.MarkStopped()
	return err
}

func (o *Orchestrator) Descriptor() core.Descriptor {
	return core.Descriptor{Name: "orchestrator", Domain: "allocation", Layer: core.LayerService,
		Capabilities: []string{"phase_sequencing", "job_status"}}
}

func (o *Orchestrator) getOrCreateJob(jobID string, in phases.Input) *Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	if j, ok := o.jobs[jobID]; ok {
		return j
	}
	j := newJob(jobID, in)
	o.jobs[jobID] = j
	o.walletLatestJob[in.WalletAddress] = jobID
	return j
}

// RunPhase1 starts the Macro Review phase for a fresh job, idempotently.
// Phase 2 is chained automatically on Phase 1 success since it is a pure
// function of Phase 1's output and the job's risk profile.
func (o *Orchestrator) RunPhase1(ctx context.Context, jobID string, in phases.Input) {
	job := o.getOrCreateJob(jobID, in)

	job.mu.Lock()
	if job.running["phase1"] || job.Status["phase1"] == PhaseComplete {
		job.mu.Unlock()
		return
	}
	guard := lifecycle.NewOperationGuard(o.shutdown)
	if guard == nil {
		job.mu.Unlock()
		return
	}
	job.running["phase1"] = true
	job.setStatus("phase1", PhaseInProgress, time.Now(), "")
	job.mu.Unlock()

	go func() {
		defer guard.Close()
		start := time.Now()
		out, err := o.phase1.Run(ctx, in)
		job.mu.Lock()
		job.running["phase1"] = false
		if err != nil {
			job.setStatus("phase1", PhaseFailed, time.Time{}, err.Error())
			job.mu.Unlock()
			o.recordPhaseRun("phase1", "failed", time.Since(start))
			return
		}
		job.Phase1 = out
		job.setStatus("phase1", PhaseComplete, time.Time{}, "")
		job.mu.Unlock()
		o.recordPhaseRun("phase1", "complete", time.Since(start))

		p2 := phases.RunPhase2(in, out)
		job.mu.Lock()
		job.Phase2 = p2
		job.setStatus("phase2", PhaseComplete, time.Now(), "")
		job.mu.Unlock()
	}()
}

// RunPhaseN starts phase N (3..6) for jobID if its predecessor is complete
// and it is not already running or done.
func (o *Orchestrator) RunPhaseN(ctx context.Context, jobID string, n int) error {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}

	phaseKey := fmt.Sprintf("phase%d", n)
	predecessorKey := fmt.Sprintf("phase%d", n-1)

	job.mu.Lock()
	if job.running[phaseKey] || job.Status[phaseKey] == PhaseComplete {
		job.mu.Unlock()
		return nil
	}
	if job.Status[predecessorKey] != PhaseComplete {
		job.mu.Unlock()
		return fmt.Errorf("phase %d not yet complete for job %s", n-1, jobID)
	}
	guard := lifecycle.NewOperationGuard(o.shutdown)
	if guard == nil {
		job.mu.Unlock()
		return fmt.Errorf("orchestrator shutting down, phase %d rejected for job %s", n, jobID)
	}
	job.running[phaseKey] = true
	job.setStatus(phaseKey, PhaseInProgress, time.Now(), "")
	job.mu.Unlock()

	go func() {
		defer guard.Close()
		o.runPhaseAsync(ctx, job, n)
	}()
	return nil
}

func (o *Orchestrator) runPhaseAsync(ctx context.Context, job *Job, n int) {
	var runErr error
	start := time.Now()

	switch n {
	case 3:
		out, err := o.phase3.Run(ctx, job.Input, job.Phase2)
		runErr = err
		if err == nil {
			job.mu.Lock()
			job.Phase3 = out
			job.mu.Unlock()
		}
	case 4:
		out := o.phase4.Run(job.Input, job.Phase2, job.Phase3)
		job.mu.Lock()
		job.Phase4 = out
		job.mu.Unlock()
	case 5:
		out := o.phase5.Run(job.Input, job.Phase4)
		job.mu.Lock()
		job.Phase5 = out
		job.mu.Unlock()
	case 6:
		out := o.phase6.Run(job.Input, job.Phase2, job.Phase5)
		job.mu.Lock()
		job.Phase6 = out
		job.mu.Unlock()
		if o.aaa != nil {
			if err := o.aaa.Forward(ctx, job.ID, o.selfURL); err != nil {
				o.log.WithError(err).Warn("orchestrator: AAA webhook forward failed")
			}
		}
	}

	phaseKey := fmt.Sprintf("phase%d", n)
	job.mu.Lock()
	job.running[phaseKey] = false
	status := "complete"
	if runErr != nil {
		status = "failed"
		job.setStatus(phaseKey, PhaseFailed, time.Time{}, runErr.Error())
	} else {
		job.setStatus(phaseKey, PhaseComplete, time.Time{}, "")
	}
	job.mu.Unlock()
	o.recordPhaseRun(phaseKey, status, time.Since(start))
}

func (o *Orchestrator) recordPhaseRun(phase, status string, duration time.Duration) {
	o.mu.Lock()
	m := o.metrics
	o.mu.Unlock()
	if m != nil {
		m.RecordPhaseRun(phase, status, duration)
	}
}

func snapshotStatus(job *Job) Status {
	job.mu.Lock()
	defer job.mu.Unlock()
	phasesCopy := make(map[string]PhaseStatus, len(job.Status))
	for k, v := range job.Status {
		phasesCopy[k] = v
	}
	logsCopy := append([]LogEntry{}, job.Logs...)
	return Status{JobID: job.ID, Wallet: job.Wallet, Phases: phasesCopy, Logs: logsCopy}
}

// GetExecutionStatus returns the status snapshot for a job.
func (o *Orchestrator) GetExecutionStatus(jobID string) (Status, bool) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	o.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return snapshotStatus(job), true
}

// GetExecutionStatusByWallet returns the status snapshot for a wallet's
// most recently started job.
func (o *Orchestrator) GetExecutionStatusByWallet(wallet string) (Status, bool) {
	o.mu.Lock()
	jobID, ok := o.walletLatestJob[wallet]
	var job *Job
	if ok {
		job = o.jobs[jobID]
	}
	o.mu.Unlock()
	if !ok || job == nil {
		return Status{}, false
	}
	return snapshotStatus(job), true
}

// Report is the final decision artifact assembled from every phase's
// emitted output, available once phase6 has completed.
type Report struct {
	JobID  string
	Wallet string
	Phase1 phases.Phase1Output
	Phase2 phases.Phase2Output
	Phase3 phases.Phase3Output
	Phase4 phases.Phase4Output
	Phase5 phases.Phase5Output
	Phase6 phases.Phase6Output
}

func reportFromJob(job *Job) (Report, bool) {
	job.mu.Lock()
	defer job.mu.Unlock()
	if job.Status["phase6"] != PhaseComplete {
		return Report{}, false
	}
	return Report{
		JobID: job.ID, Wallet: job.Wallet,
		Phase1: job.Phase1, Phase2: job.Phase2, Phase3: job.Phase3,
		Phase4: job.Phase4, Phase5: job.Phase5, Phase6: job.Phase6,
	}, true
}

// GetReport returns the completed report for jobID, if phase6 has finished.
func (o *Orchestrator) GetReport(jobID string) (Report, bool) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	o.mu.Unlock()
	if !ok {
		return Report{}, false
	}
	return reportFromJob(job)
}

// GetReportByWallet returns the completed report for a wallet's most
// recently started job, if phase6 has finished.
func (o *Orchestrator) GetReportByWallet(wallet string) (Report, bool) {
	o.mu.Lock()
	jobID, ok := o.walletLatestJob[wallet]
	o.mu.Unlock()
	if !ok {
		return Report{}, false
	}
	return o.GetReport(jobID)
}
