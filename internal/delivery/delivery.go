// Package delivery pushes finished exports to Cloud Storage and hands the
// delivery off to the downstream distribution workflow. Callers decide what
// to deliver; this package owns where it lands and how failures retry.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"golang.org/x/sync/errgroup"

	"github.com/SeanSwan/reportflow/internal/export"
	"github.com/SeanSwan/reportflow/internal/gcp"
	"github.com/SeanSwan/reportflow/internal/models"
)

const (
	maxUploadRetries = 4
	uploadTimeout    = 50 * time.Second
	pageUploadLimit  = 10
)

// Config locates the delivery bucket and the optional distribution workflow.
type Config struct {
	ProjectID        string
	ReportBucket     string
	WorkflowID       string
	WorkflowLocation string
}

// Publisher uploads assembled reports and triggers distribution.
type Publisher struct {
	storageClient    *storage.Client
	executionsClient *executions.Client
	config           Config
}

// NewPublisher builds the GCS and Workflows clients for config. The
// executions client is only created when a workflow is configured.
func NewPublisher(ctx context.Context, config Config) (*Publisher, error) {
	if config.ReportBucket == "" {
		return nil, fmt.Errorf("delivery requires a report bucket")
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}

	p := &Publisher{storageClient: storageClient, config: config}
	if config.WorkflowID != "" {
		executionsClient, err := executions.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
		p.executionsClient = executionsClient
	}
	slog.Info("Delivery publisher initialized.",
		"bucket", config.ReportBucket, "workflowId", config.WorkflowID)
	return p, nil
}

// DeliverOptions tunes one delivery. A zero value uploads the whole PDF to
// the configured bucket.
type DeliverOptions struct {
	SplitPages bool
	Bucket     string
}

// Deliver uploads the assembled PDF, optionally fans the split pages out
// alongside it, and triggers the distribution workflow when one is
// configured.
func (p *Publisher) Deliver(ctx context.Context, result *export.Result, opts DeliverOptions) (*models.ExportResult, error) {
	bucket := opts.Bucket
	if bucket == "" {
		bucket = p.config.ReportBucket
	}
	logCtx := slog.With("filename", result.Filename, "pageCount", result.PageCount(), "bucket", bucket)

	object := objectPath(result.Filename)
	if err := p.uploadObject(ctx, bucket, object, result.PDF); err != nil {
		logCtx.Error("Failed to upload report.", "error", err)
		return nil, err
	}
	logCtx.Info("Report uploaded.", "gcsObject", object)

	out := &models.ExportResult{
		Filename:  result.Filename,
		PageCount: result.PageCount(),
		ObjectURI: objectURI(bucket, object),
	}

	if opts.SplitPages {
		pageURIs, err := p.deliverPages(ctx, logCtx, bucket, result)
		if err != nil {
			return nil, err
		}
		out.PageURIs = pageURIs
	}

	if err := p.triggerWorkflow(ctx, out); err != nil {
		logCtx.Error("Failed to trigger distribution workflow.", "error", err)
		return nil, err
	}
	return out, nil
}

func (p *Publisher) deliverPages(ctx context.Context, logCtx *slog.Logger, bucket string, result *export.Result) ([]string, error) {
	pages, err := export.SplitIntoPages(result.PDF)
	if err != nil {
		logCtx.Error("Failed to split report into pages.", "error", err)
		return nil, err
	}

	logCtx.Info("Starting concurrent upload of pages.")
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(pageUploadLimit)

	uris := make([]string, len(pages))
	for i, page := range pages {
		pageNumber := i + 1
		content := page
		object := pageObjectPath(result.Filename, pageNumber)
		uris[i] = objectURI(bucket, object)

		eg.Go(func() error {
			if err := p.uploadObject(gctx, bucket, object, content); err != nil {
				return fmt.Errorf("page %d: %w", pageNumber, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		logCtx.Error("One or more pages failed to upload.", "error", err)
		return nil, err
	}
	logCtx.Info("All pages uploaded successfully.")
	return uris, nil
}

// uploadObject writes one object with retries. Writes are conditional on the
// object not existing, so redelivery of an idempotently named export is a
// clean skip rather than an overwrite.
func (p *Publisher) uploadObject(ctx context.Context, bucketName, destObject string, content []byte) error {
	backoff := 1 * time.Second
	var lastErr error

	for i := 0; i < maxUploadRetries; i++ {
		err := func() error {
			writeCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
			defer cancel()
			bucket := p.storageClient.Bucket(bucketName)
			return gcp.SaveToGCSAtomically(writeCtx, bucket, destObject, content)
		}()

		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn("Upload failed, will retry.",
			"gcsObject", destObject,
			"attempt", i+1,
			"maxRetries", maxUploadRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.",
				"gcsObject", destObject, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Upload failed after all retries.", "gcsObject", destObject, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", destObject, lastErr)
}

func (p *Publisher) triggerWorkflow(ctx context.Context, result *models.ExportResult) error {
	if p.executionsClient == nil {
		return nil
	}
	argument, err := workflowArgument(result)
	if err != nil {
		return err
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s",
			p.config.ProjectID, p.config.WorkflowLocation, p.config.WorkflowID),
		Execution: &executionspb.Execution{
			Argument: argument,
		},
	}
	if _, err := p.executionsClient.CreateExecution(ctx, req); err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	slog.Info("Distribution workflow triggered.", "workflowId", p.config.WorkflowID)
	return nil
}

// Close releases the underlying clients.
func (p *Publisher) Close() error {
	var errs []string
	if err := p.storageClient.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if p.executionsClient != nil {
		if err := p.executionsClient.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close delivery clients: %s", strings.Join(errs, "; "))
	}
	return nil
}

func objectURI(bucket, object string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, object)
}

// objectPath places finished reports under a stable prefix.
func objectPath(filename string) string {
	return "reports/" + filename
}

// pageObjectPath nests split pages under the report's own folder, numbered
// wide enough to sort lexically.
func pageObjectPath(filename string, page int) string {
	base := strings.TrimSuffix(filename, ".pdf")
	return fmt.Sprintf("reports/%s/pages/%05d.pdf", base, page)
}

// workflowArgument is the JSON document handed to the distribution workflow.
func workflowArgument(result *models.ExportResult) (string, error) {
	payload := map[string]interface{}{
		"filename":  result.Filename,
		"objectUri": result.ObjectURI,
		"pageCount": result.PageCount,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	return string(raw), nil
}
