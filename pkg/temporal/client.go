package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paul-bdio/zorro/pkg/retry"
	"github.com/paul-bdio/zorro/pkg/temporal/profilesync"
	"github.com/paul-bdio/zorro/pkg/utils"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	taskqueuepb "go.temporal.io/api/taskqueue/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/durationpb"
)

// Client is the Temporal connection shared by the worker, the API and the CLI.
type Client struct {
	TClient   client.Client
	TSClient  client.ScheduleClient
	Namespace string
	HostPort  string
	logger    *zap.Logger

	SyncQueue       string // profile-sync
	SweepScheduleID string // profile-sweep
	SyncWorkflowID  string // profile-sync:<profileID>
	SweepWorkflowID string // profile-sweep:manual
}

type Health struct {
	ConnectionOK bool                      `json:"connection_ok"`
	SyncQueue    []*taskqueuepb.PollerInfo `json:"sync_queue"`
}

// NewClient dials TEMPORAL_HOSTPORT/TEMPORAL_NAMESPACE, retrying until the frontend answers a health check.
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	host := utils.Env("TEMPORAL_HOSTPORT", "localhost:7233")
	ns := utils.Env("TEMPORAL_NAMESPACE", DefaultNamespace)
	loggerWrapper := NewZapAdapter(logger)

	logger.Info("Connecting to Temporal", zap.String("host", host), zap.String("namespace", ns))

	var tClient client.Client
	err := retry.WithBackoff(connCtx, retry.DefaultConfig(), logger, "temporal_connection", func() error {
		var err error
		tClient, err = Dial(connCtx, host, ns, loggerWrapper)
		if err != nil {
			return err
		}
		if _, err = tClient.CheckHealth(connCtx, nil); err != nil {
			tClient.Close()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		TClient:         tClient,
		TSClient:        tClient.ScheduleClient(),
		Namespace:       ns,
		HostPort:        host,
		logger:          logger,
		SyncQueue:       utils.Env("TEMPORAL_SYNC_QUEUE", QueueProfileSync),
		SweepScheduleID: ScheduleProfileSweep,
		SyncWorkflowID:  WorkflowIDProfileSync,
		SweepWorkflowID: WorkflowIDManualSweep,
	}, nil
}

// Dial connects to Temporal using the provided hostPort and namespace.
func Dial(ctx context.Context, hostPort, namespace string, logger log.Logger) (client.Client, error) {
	return client.DialContext(
		ctx,
		client.Options{
			HostPort:  hostPort,
			Namespace: namespace,
			Logger:    logger,
		},
	)
}

// GetSyncWorkflowID returns the workflow ID that serializes syncs of one profile.
func (c *Client) GetSyncWorkflowID(profileID uint64) string {
	return fmt.Sprintf(c.SyncWorkflowID, profileID)
}

// EnsureNamespace registers the namespace when it does not exist yet.
func (c *Client) EnsureNamespace(ctx context.Context, retention time.Duration) error {
	nsClient, err := client.NewNamespaceClient(client.Options{
		HostPort: c.HostPort,
		Logger:   NewZapAdapter(c.logger),
	})
	if err != nil {
		return fmt.Errorf("failed to create namespace client: %w", err)
	}
	defer nsClient.Close()

	for {
		_, err = nsClient.Describe(ctx, c.Namespace)
		if err == nil {
			return nil
		}
		var notFound *serviceerror.NamespaceNotFound
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to describe namespace: %w", err)
		}

		c.logger.Info("Registering Temporal namespace", zap.String("namespace", c.Namespace))
		err = nsClient.Register(ctx, &workflowservice.RegisterNamespaceRequest{
			Namespace:                        c.Namespace,
			WorkflowExecutionRetentionPeriod: durationpb.New(retention),
		})
		var exists *serviceerror.NamespaceAlreadyExists
		if err != nil && !errors.As(err, &exists) {
			return fmt.Errorf("failed to register namespace: %w", err)
		}

		// Registration propagates asynchronously.
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// EnsureSweepSchedule creates the periodic sweep schedule if it does not already exist.
// An existing schedule is left alone, including its interval.
func (c *Client) EnsureSweepSchedule(ctx context.Context, interval time.Duration) error {
	id := c.SweepScheduleID
	h := c.TSClient.GetHandle(ctx, id)
	_, err := h.Describe(ctx)
	if err == nil {
		c.logger.Info("Sweep schedule already exists",
			zap.String("id", id),
			zap.String("namespace", c.Namespace))
		return nil
	}

	var notFound *serviceerror.NotFound
	if !errors.As(err, &notFound) {
		return err
	}

	c.logger.Info("Creating sweep schedule",
		zap.String("id", id),
		zap.String("namespace", c.Namespace),
		zap.Duration("interval", interval))
	_, err = c.TSClient.Create(ctx, client.ScheduleOptions{
		ID:      id,
		Spec:    GetScheduleSpec(interval),
		Overlap: enums.SCHEDULE_OVERLAP_POLICY_SKIP,
		Action: &client.ScheduleWorkflowAction{
			Workflow:                 profilesync.SweepProfilesWorkflowName,
			Args:                     []interface{}{profilesync.SweepInput{}},
			TaskQueue:                c.SyncQueue,
			WorkflowExecutionTimeout: max(interval, 10*time.Minute),
			WorkflowTaskTimeout:      time.Minute,
		},
	})
	if errors.Is(err, sdktemporal.ErrScheduleAlreadyRunning) {
		return nil
	}
	return err
}

// StartProfileSync starts SyncProfileWorkflow for in.ProfileID. A sync already running
// for the profile absorbs the request. The workflow ID is returned.
func (c *Client) StartProfileSync(ctx context.Context, in profilesync.SyncInput) (string, error) {
	wfID := c.GetSyncWorkflowID(in.ProfileID)
	run, err := c.TClient.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       wfID,
		TaskQueue:                c.SyncQueue,
		WorkflowIDConflictPolicy: enums.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
		WorkflowExecutionTimeout: 30 * time.Minute,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	}, profilesync.SyncProfileWorkflowName, in)
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &alreadyStarted) {
			return wfID, nil
		}
		return "", err
	}
	return run.GetID(), nil
}

// StartSweep runs a sweep now, outside the schedule.
func (c *Client) StartSweep(ctx context.Context) (string, error) {
	run, err := c.TClient.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       c.SweepWorkflowID,
		TaskQueue:                c.SyncQueue,
		WorkflowIDConflictPolicy: enums.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}, profilesync.SweepProfilesWorkflowName, profilesync.SweepInput{})
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &alreadyStarted) {
			return c.SweepWorkflowID, nil
		}
		return "", err
	}
	return run.GetID(), nil
}

// Health returns the health of the Temporal client.
func (c *Client) Health(ctx context.Context) (Health, error) {
	h := Health{}
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if _, err := c.TClient.CheckHealth(ctx, nil); err != nil {
		return h, err
	}
	h.ConnectionOK = true

	if svc := c.TClient.WorkflowService(); svc != nil {
		if rep, err := svc.DescribeTaskQueue(ctx, &workflowservice.DescribeTaskQueueRequest{
			Namespace:     c.Namespace,
			TaskQueue:     &taskqueuepb.TaskQueue{Name: c.SyncQueue},
			TaskQueueType: enums.TASK_QUEUE_TYPE_WORKFLOW,
		}); err == nil {
			h.SyncQueue = rep.GetPollers()
		}
	}
	return h, nil
}

// Close closes the underlying Temporal client connection.
func (c *Client) Close() {
	if c.TClient != nil {
		c.TClient.Close()
	}
}
