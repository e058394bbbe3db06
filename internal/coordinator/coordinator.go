package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/smukkama/energy-pipeline/internal/anomaly"
	"github.com/smukkama/energy-pipeline/internal/clustering"
	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/decision"
	"github.com/smukkama/energy-pipeline/internal/features"
	"github.com/smukkama/energy-pipeline/internal/lock"
	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/internal/optimizer"
	"github.com/smukkama/energy-pipeline/internal/prediction"
	"github.com/smukkama/energy-pipeline/internal/protocol"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

// ErrRunInProgress is returned when another run holds the building's lock
var ErrRunInProgress = errors.New("pipeline run in progress")

// Stage names
const (
	StageFeatures   = "features"
	StageClustering = "clustering"
	StagePrediction = "prediction"
	StageOptimizer  = "optimizer"
	StageDecision   = "decision"
	StageAnomaly    = "anomaly"
)

// Store is the persistence the coordinator reads and writes itself
type Store interface {
	ListBuildingIDs(ctx context.Context) ([]string, error)
	GetBuilding(ctx context.Context, buildingID string) (*database.Building, error)
	ListUnits(ctx context.Context, buildingID string) ([]*database.Unit, error)
	EarliestReadingTime(ctx context.Context, buildingID string) (*time.Time, error)
	GetProgress(ctx context.Context, pipelineName, buildingID string) (*database.PipelineProgress, error)
	SetAnchor(ctx context.Context, pipelineName, buildingID string, anchor time.Time) error
	OpenAssignments(ctx context.Context, buildingID string) ([]*database.ClusterAssignment, error)
	LatestPredictions(ctx context.Context, buildingID string, since time.Time) ([]*database.Prediction, error)
	LatestFeatureVector(ctx context.Context, unitID string, onOrBefore time.Time) (*database.DailyFeatureVector, error)
	InsertValidationRecord(ctx context.Context, v *database.ValidationRecord) error
}

// Stages are the components run for each building. Detector may be nil.
type Stages struct {
	Extractor *features.Extractor
	Assigner  *clustering.Assigner
	Predictor *prediction.Predictor
	Optimizer *optimizer.Optimizer
	Decider   *decision.Engine
	Detector  *anomaly.Detector
}

// Observer receives run measurements
type Observer interface {
	StageFinished(stage string, d time.Duration)
	RunFinished(status string, d time.Duration)
	Validation(v *database.ValidationRecord)
	Decisions(mode string, approved, rejected int)
	Anomalies(found []*database.Anomaly)
}

type nopObserver struct{}

func (nopObserver) StageFinished(string, time.Duration) {}
func (nopObserver) RunFinished(string, time.Duration) {}
func (nopObserver) Validation(*database.ValidationRecord) {}
func (nopObserver) Decisions(string, int, int) {}
func (nopObserver) Anomalies([]*database.Anomaly) {}

// Publisher delivers operator alerts
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Options configures a Coordinator
type Options struct {
	Pipeline    config.PipelineConfig
	HistoryDays int           // feature history re-checked for stale versions
	MaxAge      time.Duration // staleness bound of a prediction
	Alerts      Publisher     // optional
	Observer    Observer      // optional
}

// Report is the outcome of one building run
type Report struct {
	BuildingID   string
	AnchorBefore time.Time
	AnchorAfter  time.Time
	Batches      int
	Features     features.Result
	Clustering   *clustering.Result
	Predictions  *prediction.Result
	Optimization *optimizer.Result
	Decisions    *decision.Result
	Anomalies    *anomaly.Result
	Validation   *database.ValidationRecord
}

// Coordinator runs the stage chain per building and keeps the progress anchor
type Coordinator struct {
	store    Store
	stages   Stages
	locker   lock.Locker
	opts     Options
	observer Observer
	log      *logger.Logger
	now      func() time.Time
}

// New creates a new coordinator
func New(store Store, stages Stages, locker lock.Locker, opts Options, log *logger.Logger) *Coordinator {
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Coordinator{
		store:    store,
		stages:   stages,
		locker:   locker,
		opts:     opts,
		observer: observer,
		log:      log,
		now:      time.Now,
	}
}

func (c *Coordinator) acquire(ctx context.Context, buildingID string) (lock.Lease, error) {
	lease, err := c.locker.Acquire(ctx, lock.Key(c.opts.Pipeline.Name, buildingID), c.opts.Pipeline.LockTTL)
	if errors.Is(err, lock.ErrHeld) {
		return nil, fmt.Errorf("%w: %s/%s", ErrRunInProgress, c.opts.Pipeline.Name, buildingID)
	}
	return lease, err
}

func (c *Coordinator) release(lease lock.Lease, buildingID string) {
	if err := lease.Release(context.Background()); err != nil {
		c.log.Warn("failed to release lock", "building_id", buildingID, "error", err)
	}
}

// anchor returns the stored anchor of a pipeline, initialising it to the
// start of the local day of the building's earliest reading. ok is false when
// the building has no readings yet.
func (c *Coordinator) anchor(ctx context.Context, pipelineName string, building *database.Building) (time.Time, bool, error) {
	progress, err := c.store.GetProgress(ctx, pipelineName, building.BuildingID)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read progress: %w", err)
	}
	if progress != nil {
		return progress.CurrentAnchorTS, true, nil
	}

	earliest, err := c.store.EarliestReadingTime(ctx, building.BuildingID)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to find earliest reading: %w", err)
	}
	if earliest == nil {
		return time.Time{}, false, nil
	}
	loc := building.Location()
	start, _ := database.DayBounds(database.CalendarDate(*earliest, loc), loc)
	if err := c.store.SetAnchor(ctx, pipelineName, building.BuildingID, start); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to initialise anchor: %w", err)
	}
	c.log.Info("anchor initialised", "pipeline", pipelineName, "building_id", building.BuildingID, "anchor", start)
	return start, true, nil
}

// Run processes everything due for a building up to horizon. The main chain
// and anomaly detection run concurrently, each against its own anchor. The
// lease is renewed for as long as the run lasts; losing it cancels the run.
func (c *Coordinator) Run(ctx context.Context, buildingID string, horizon time.Time) (*Report, error) {
	lease, err := c.acquire(ctx, buildingID)
	if err != nil {
		return nil, err
	}
	defer c.release(lease, buildingID)
	ctx, stop := lock.KeepAlive(ctx, lease, c.opts.Pipeline.LockTTL)
	defer stop()

	started := c.now()
	building, err := c.store.GetBuilding(ctx, buildingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load building %s: %w", buildingID, err)
	}
	if building == nil {
		return nil, fmt.Errorf("unknown building %s", buildingID)
	}
	if _, err := building.LoadLocation(); err != nil {
		return nil, err
	}
	units, err := c.store.ListUnits(ctx, buildingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list units of %s: %w", buildingID, err)
	}

	report := &Report{BuildingID: buildingID}
	var g multierror.Group
	g.Go(func() error {
		return c.runChain(ctx, building, units, horizon, report)
	})
	if c.stages.Detector != nil && c.opts.Pipeline.RunAnomalies {
		g.Go(func() error {
			res, err := c.runAnomalies(ctx, building, horizon)
			report.Anomalies = res
			if err != nil {
				return fmt.Errorf("anomaly detection: %w", err)
			}
			return nil
		})
	}
	merr := g.Wait()
	if cause := context.Cause(ctx); errors.Is(cause, lock.ErrLost) {
		c.log.Error("lock lost during run", "building_id", buildingID, "error", cause)
		merr = multierror.Append(merr, cause)
	}

	status := "idle"
	switch {
	case merr.ErrorOrNil() != nil:
		status = "failed"
	case report.Validation != nil:
		status = report.Validation.Status
	}
	c.observer.RunFinished(status, c.now().Sub(started))
	return report, merr.ErrorOrNil()
}

func (c *Coordinator) runChain(ctx context.Context, building *database.Building, units []*database.Unit, horizon time.Time, report *Report) error {
	anchor, ok, err := c.anchor(ctx, c.opts.Pipeline.Name, building)
	if err != nil {
		return err
	}
	report.AnchorBefore, report.AnchorAfter = anchor, anchor
	if !ok || !horizon.After(anchor) {
		c.log.Debug("nothing due", "building_id", building.BuildingID, "anchor", anchor, "horizon", horizon)
		return nil
	}

	unitIDs := make([]string, len(units))
	for i, u := range units {
		unitIDs[i] = u.UnitID
	}

	for start := anchor; start.Before(horizon); {
		end := start.AddDate(0, 0, c.opts.Pipeline.MaxBatchDays)
		if end.After(horizon) {
			end = horizon
		}
		if err := c.runBatch(ctx, building, units, unitIDs, start, end, end.Equal(horizon), report); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.store.SetAnchor(ctx, c.opts.Pipeline.Name, building.BuildingID, end); err != nil {
			return fmt.Errorf("failed to advance anchor: %w", err)
		}
		report.AnchorAfter = end
		report.Batches++
		start = end
	}
	return nil
}

// stage runs fn unless ctx is already done, and records its duration
func (c *Coordinator) stage(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	started := c.now()
	err := fn()
	c.observer.StageFinished(name, c.now().Sub(started))
	if err != nil {
		return fmt.Errorf("%s stage: %w", name, err)
	}
	return nil
}

// runBatch extracts and clusters input in [start, end). The final batch also
// predicts, optimizes, decides and validates as of end.
func (c *Coordinator) runBatch(
	ctx context.Context,
	building *database.Building,
	units []*database.Unit,
	unitIDs []string,
	start, end time.Time,
	final bool,
	report *Report,
) error {
	loc := building.Location()
	runDate := database.CalendarDate(end.Add(-time.Nanosecond), loc)
	staleFrom := runDate.AddDate(0, 0, -c.opts.HistoryDays)

	err := c.stage(ctx, StageFeatures, func() error {
		dates, err := c.stages.Extractor.DueDates(ctx, building, start, end, staleFrom)
		if err != nil {
			return err
		}
		res, err := c.stages.Extractor.Extract(ctx, building, unitIDs, dates, end)
		if err != nil {
			return err
		}
		report.Features.Dates = append(report.Features.Dates, res.Dates...)
		report.Features.Upserted += res.Upserted
		report.Features.Missing = append(report.Features.Missing, res.Missing...)
		return nil
	})
	if err != nil {
		return err
	}

	err = c.stage(ctx, StageClustering, func() error {
		res, err := c.stages.Assigner.Assign(ctx, building.BuildingID, unitIDs, runDate)
		report.Clustering = res
		return err
	})
	if err != nil || !final {
		return err
	}

	var modelErr error
	err = c.stage(ctx, StagePrediction, func() error {
		res, err := c.stages.Predictor.Predict(ctx, building, unitIDs, end)
		if errors.Is(err, prediction.ErrModelUnavailable) {
			modelErr = err
			return nil
		}
		report.Predictions = res
		return err
	})
	if err != nil {
		return err
	}

	if modelErr == nil {
		err = c.stage(ctx, StageOptimizer, func() error {
			res, err := c.stages.Optimizer.Optimize(ctx, building, units, end, c.opts.MaxAge)
			report.Optimization = res
			return err
		})
		if err != nil {
			return err
		}

		err = c.stage(ctx, StageDecision, func() error {
			res, err := c.stages.Decider.DecidePlans(ctx, report.Optimization.Plans, end)
			report.Decisions = res
			if res != nil {
				c.observer.Decisions(c.stages.Decider.Policy().Mode, res.Approved, len(res.Decisions)-res.Approved)
			}
			return err
		})
		if err != nil {
			return err
		}
	} else {
		c.log.Warn("predictions blocked", "building_id", building.BuildingID, "error", modelErr)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	record, err := c.validate(ctx, building, units, end, modelErr, report)
	if err != nil {
		return err
	}
	report.Validation = record
	c.observer.Validation(record)
	if record.Status == database.StatusBlocked {
		c.alertBlocked(ctx, record)
	}
	return nil
}

func (c *Coordinator) validate(
	ctx context.Context,
	building *database.Building,
	units []*database.Unit,
	asOf time.Time,
	modelErr error,
	report *Report,
) (*database.ValidationRecord, error) {
	open, err := c.store.OpenAssignments(ctx, building.BuildingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load open assignments: %w", err)
	}
	recent, err := c.store.LatestPredictions(ctx, building.BuildingID, asOf.Add(-c.opts.MaxAge))
	if err != nil {
		return nil, fmt.Errorf("failed to load recent predictions: %w", err)
	}
	lastDate := database.CalendarDate(asOf.Add(-time.Nanosecond), building.Location())
	vectors := make(map[string]*database.DailyFeatureVector, len(units))
	for _, u := range units {
		v, err := c.store.LatestFeatureVector(ctx, u.UnitID, lastDate)
		if err != nil {
			return nil, fmt.Errorf("failed to load features of unit %s: %w", u.UnitID, err)
		}
		vectors[u.UnitID] = v
	}

	a := Assessment{
		Units:             units,
		OpenAssignments:   open,
		RecentPredictions: recent,
		LatestVectors:     vectors,
		ModelErr:          modelErr,
		Missing:           report.Features.Missing,
	}
	if report.Clustering != nil {
		a.ClusteringSkipped = report.Clustering.Skipped
	}
	if report.Predictions != nil {
		a.Failures = report.Predictions.Failures
	}
	if report.Optimization != nil {
		a.Blocked = report.Optimization.Blocked
	}

	record := Assess(a)
	record.BuildingID = building.BuildingID
	record.PipelineName = c.opts.Pipeline.Name
	record.RunID = uuid.NewString()
	record.AnchorTS = asOf
	if err := c.store.InsertValidationRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store validation record: %w", err)
	}

	c.log.Info("building validated",
		"building_id", building.BuildingID,
		"status", record.Status,
		"coverage", record.Coverage,
		"blocked", record.UnitsBlocked,
		"invalid", record.UnitsInvalid,
	)
	return record, nil
}

func (c *Coordinator) alertBlocked(ctx context.Context, record *database.ValidationRecord) {
	if c.opts.Alerts == nil {
		return
	}
	detail := "pipeline blocked"
	if len(record.Reasons) > 0 {
		detail = record.Reasons[0].Code + ": " + record.Reasons[0].Detail
	}
	data, err := protocol.EncodeAlertNotification(&protocol.AlertNotification{
		Type:       protocol.AlertTypePipelineBlocked,
		BuildingID: record.BuildingID,
		Severity:   database.SeverityHigh,
		Detail:     detail,
		At:         record.AnchorTS,
	})
	if err == nil {
		err = c.opts.Alerts.Publish(ctx, record.BuildingID, data)
	}
	if err != nil {
		c.log.Error("failed to publish blocked alert", "building_id", record.BuildingID, "error", err)
	}
}

func (c *Coordinator) runAnomalies(ctx context.Context, building *database.Building, horizon time.Time) (*anomaly.Result, error) {
	anchor, ok, err := c.anchor(ctx, anomaly.PipelineName, building)
	if err != nil || !ok || !horizon.After(anchor) {
		return nil, err
	}

	var res *anomaly.Result
	err = c.stage(ctx, StageAnomaly, func() error {
		var err error
		res, err = c.stages.Detector.Detect(ctx, building, anchor, horizon)
		return err
	})
	if err != nil {
		return res, err
	}
	c.observer.Anomalies(res.Detected)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if err := c.store.SetAnchor(ctx, anomaly.PipelineName, building.BuildingID, horizon); err != nil {
		return res, fmt.Errorf("failed to advance anomaly anchor: %w", err)
	}
	return res, nil
}

// RunAll runs every building with at most Workers in parallel. Buildings
// already being run elsewhere are skipped; other failures are collected.
func (c *Coordinator) RunAll(ctx context.Context, horizon time.Time) error {
	ids, err := c.store.ListBuildingIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list buildings: %w", err)
	}

	var (
		mu     sync.Mutex
		result *multierror.Error
	)
	g := new(errgroup.Group)
	g.SetLimit(c.opts.Pipeline.Workers)
	for _, id := range ids {
		g.Go(func() error {
			_, err := c.Run(ctx, id, horizon)
			switch {
			case err == nil:
			case errors.Is(err, ErrRunInProgress):
				c.log.Info("building skipped, run in progress", "building_id", id)
			default:
				c.log.Error("building run failed", "building_id", id, "error", err)
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("building %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return result.ErrorOrNil()
}

// ResetAnchor moves a pipeline's anchor so the next run reprocesses input
// from anchor onwards.
func (c *Coordinator) ResetAnchor(ctx context.Context, pipelineName, buildingID string, anchor time.Time) error {
	lease, err := c.acquire(ctx, buildingID)
	if err != nil {
		return err
	}
	defer c.release(lease, buildingID)

	if err := c.store.SetAnchor(ctx, pipelineName, buildingID, anchor); err != nil {
		return fmt.Errorf("failed to reset anchor: %w", err)
	}
	c.log.Warn("anchor reset", "pipeline", pipelineName, "building_id", buildingID, "anchor", anchor)
	return nil
}
