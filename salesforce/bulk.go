package salesforce

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ben-leadtech/etlkit/frame"
)

// Bulk API 2.0 query job states.
const (
	JobUploadComplete = "UploadComplete"
	JobInProgress     = "InProgress"
	JobComplete       = "JobComplete"
	JobFailed         = "Failed"
	JobAborted        = "Aborted"
)

var errJobRunning = errors.New("bulk job still running")

type bulkJob struct {
	ID                     string `json:"id"`
	Object                 string `json:"object"`
	State                  string `json:"state"`
	ErrorMessage           string `json:"errorMessage"`
	NumberRecordsProcessed int64  `json:"numberRecordsProcessed"`
}

type bulkJobRequest struct {
	Operation   string `json:"operation"`
	Query       string `json:"query"`
	ContentType string `json:"contentType"`
	LineEnding  string `json:"lineEnding"`
}

// ObjectFromQuery returns the sObject name following FROM in soql, or "" when
// there is none.
func ObjectFromQuery(soql string) string {
	fields := strings.Fields(soql)
	for i, f := range fields {
		if strings.EqualFold(f, "FROM") && i+1 < len(fields) {
			return strings.TrimRight(fields[i+1], ",;)")
		}
	}
	return ""
}

// BulkQuery runs soql as a Bulk API 2.0 query job, waits for it to finish and
// reads every page of CSV results. All cells are strings.
func (c *Client) BulkQuery(ctx context.Context, soql string) (*frame.Frame, error) {
	object := ObjectFromQuery(soql)
	c.logger.Info("starting bulk query", "object", object)

	var job bulkJob
	req := bulkJobRequest{Operation: "query", Query: soql, ContentType: "CSV", LineEnding: "LF"}
	if err := c.doJSON(ctx, http.MethodPost, c.dataPath("/jobs/query"), req, &job); err != nil {
		if errors.Is(err, ErrMalformedQuery) {
			c.logger.Error("malformed query", "query", soql, "error", err)
		}
		return nil, fmt.Errorf("salesforce: create bulk job for %s: %w", object, err)
	}

	done, err := c.waitForJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	f, err := c.jobResults(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("bulk query complete", "object", object, "job", job.ID,
		"processed", done.NumberRecordsProcessed, "rows", f.Len())
	return f, nil
}

// waitForJob polls the job with exponential backoff until it completes,
// fails or the poll timeout passes.
func (c *Client) waitForJob(ctx context.Context, id string) (*bulkJob, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInterval
	b.MaxInterval = max(maxPollInterval, c.pollInterval)
	b.MaxElapsedTime = c.pollTimeout
	b.Multiplier = 1.5
	b.RandomizationFactor = 0.1

	var job bulkJob
	poll := func() error {
		job = bulkJob{}
		if err := c.doJSON(ctx, http.MethodGet, c.dataPath("/jobs/query/"+id), nil, &job); err != nil {
			return backoff.Permanent(fmt.Errorf("salesforce: bulk job %s status: %w", id, err))
		}
		switch job.State {
		case JobComplete:
			return nil
		case JobFailed, JobAborted:
			return backoff.Permanent(fmt.Errorf("%w: %s %s: %s", ErrJobFailed, id, job.State, job.ErrorMessage))
		default:
			return errJobRunning
		}
	}
	notify := func(_ error, wait time.Duration) {
		c.logger.Debug("waiting for bulk job", "job", id, "state", job.State, "next_check", wait)
	}

	err := backoff.RetryNotify(poll, backoff.WithContext(b, ctx), notify)
	if errors.Is(err, errJobRunning) {
		return nil, fmt.Errorf("salesforce: bulk job %s not complete after %s (state %s)", id, c.pollTimeout, job.State)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// jobResults reads every result page, following the Sforce-Locator header.
func (c *Client) jobResults(ctx context.Context, id string) (*frame.Frame, error) {
	var (
		pages   []*frame.Frame
		locator string
	)
	for {
		path := c.dataPath("/jobs/query/" + id + "/results")
		if locator != "" {
			path += "?locator=" + url.QueryEscape(locator)
		}

		resp, err := c.do(ctx, http.MethodGet, path, nil, "text/csv")
		if err != nil {
			return nil, fmt.Errorf("salesforce: bulk job %s results: %w", id, err)
		}
		page, err := frame.ReadCSV(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("salesforce: bulk job %s results page %d: %w", id, len(pages)+1, err)
		}
		pages = append(pages, page)

		locator = resp.Header.Get("Sforce-Locator")
		if locator == "" || locator == "null" {
			break
		}
	}
	return frame.Concat(pages...), nil
}
