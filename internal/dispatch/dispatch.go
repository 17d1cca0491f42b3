// Package dispatch carries pipeline traffic to the collection endpoints:
// event batches, identify calls, feature flag requests and crash reports.
//
// The dispatcher performs one attempt per call and folds transport and
// protocol failures into a single error; pacing retries is the queue's
// job, not this layer's.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"git.home.luguber.info/inful/beacon/internal/breadcrumb"
	"git.home.luguber.info/inful/beacon/internal/dynval"
	"git.home.luguber.info/inful/beacon/internal/event"
	"git.home.luguber.info/inful/beacon/internal/flags"
	"git.home.luguber.info/inful/beacon/internal/version"
)

const (
	endpointBatch    = "/batch"
	endpointIdentify = "/identify"
	endpointDecide   = "/decide"
	endpointCrash    = "/crash"
)

// Dispatcher is the HTTP client for the ingest API.
type Dispatcher struct {
	host       string
	apiKey     string
	httpClient *http.Client
}

// New returns a dispatcher for the given ingest host. A non-positive
// timeout falls back to 30 seconds.
func New(host, apiKey string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		host:       strings.TrimRight(host, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SendBatch posts pre-serialized events to the batch endpoint. The
// payloads are spliced into the body as-is. A nil return means the whole
// batch was accepted; on error the caller must keep every event queued.
func (d *Dispatcher) SendBatch(ctx context.Context, payloads [][]byte) error {
	batch := make([]json.RawMessage, len(payloads))
	for i, p := range payloads {
		batch[i] = p
	}
	body := struct {
		APIKey string            `json:"api_key"`
		Batch  []json.RawMessage `json:"batch"`
	}{APIKey: d.apiKey, Batch: batch}

	req, err := d.newRequest(ctx, http.MethodPost, endpointBatch, body)
	if err != nil {
		return err
	}
	return d.doRequest(req, nil)
}

// SendIdentify links the pre-identify distinct id to an external user id.
func (d *Dispatcher) SendIdentify(ctx context.Context, distinctID, userID string, traits map[string]dynval.Value) error {
	body := struct {
		APIKey     string                  `json:"api_key"`
		DistinctID string                  `json:"distinct_id"`
		UserID     string                  `json:"user_id"`
		Traits     map[string]dynval.Value `json:"traits,omitempty"`
	}{APIKey: d.apiKey, DistinctID: distinctID, UserID: userID, Traits: traits}

	req, err := d.newRequest(ctx, http.MethodPost, endpointIdentify, body)
	if err != nil {
		return err
	}
	return d.doRequest(req, nil)
}

// FetchFeatureFlags asks the decide endpoint for the flag set of the given
// distinct id.
func (d *Dispatcher) FetchFeatureFlags(ctx context.Context, distinctID string, properties map[string]dynval.Value) (map[string]flags.Value, error) {
	body := struct {
		APIKey     string                  `json:"api_key"`
		DistinctID string                  `json:"distinct_id"`
		Properties map[string]dynval.Value `json:"properties,omitempty"`
	}{APIKey: d.apiKey, DistinctID: distinctID, Properties: properties}

	req, err := d.newRequest(ctx, http.MethodPost, endpointDecide, body)
	if err != nil {
		return nil, err
	}
	var resp struct {
		FeatureFlags map[string]flags.Value `json:"feature_flags"`
	}
	if err := d.doRequest(req, &resp); err != nil {
		return nil, err
	}
	return resp.FeatureFlags, nil
}

// CrashPayload is one crash report.
type CrashPayload struct {
	DistinctID  string             `json:"distinct_id"`
	CrashType   string             `json:"crash_type"`
	Message     string             `json:"message"`
	StackTrace  string             `json:"stack_trace"`
	IsFatal     bool               `json:"is_fatal"`
	Timestamp   string             `json:"timestamp"`
	Breadcrumbs []breadcrumb.Crumb `json:"breadcrumbs,omitempty"`
	Context     event.Context      `json:"context"`
}

// SendCrash posts one crash report.
func (d *Dispatcher) SendCrash(ctx context.Context, payload CrashPayload) error {
	body := struct {
		APIKey string `json:"api_key"`
		CrashPayload
	}{APIKey: d.apiKey, CrashPayload: payload}

	req, err := d.newRequest(ctx, http.MethodPost, endpointCrash, body)
	if err != nil {
		return err
	}
	return d.doRequest(req, nil)
}

func (d *Dispatcher) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	u, err := url.Parse(d.host)
	if err != nil {
		return nil, err
	}
	u.Path = path.Join(u.Path, endpoint)

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), strings.NewReader(string(jsonBody)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("User-Agent", version.Library+"/"+version.Version)

	return req, nil
}

func (d *Dispatcher) doRequest(req *http.Request, result any) error {
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("ingest api error: %s", resp.Status)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
