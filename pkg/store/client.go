package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
	"github.com/picdex/picdex/pkg/errcode"
	clog "github.com/picdex/picdex/pkg/log"
)

const clientPrefix string = "[Store] "

// Client is the HTTP implementation of Store, speaking the document
// store's CouchDB-compatible wire protocol.
type Client struct {
	Log      clog.PluggableLoggerInterface
	BaseURL  string
	Database string
	HTTP     *http.Client
}

// New returns a Store for the given server URL and database name.
func New(log clog.PluggableLoggerInterface, baseURL, database string) (*Client, error) {
	if database == "" {
		return nil, errcode.New(errcode.InvalidConfig, "database name is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, errcode.New(errcode.InvalidConfig, "store url %q", baseURL)
	}
	return &Client{
		Log:      log,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Database: database,
		HTTP:     &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (o *Client) dbPath(parts ...string) string {
	segs := []string{o.BaseURL, url.PathEscape(o.Database)}
	for _, p := range parts {
		segs = append(segs, url.PathEscape(p))
	}
	return strings.Join(segs, "/")
}

// Ping verifies the database is reachable, retrying with exponential
// backoff so a starting store does not fail the service immediately.
func (o *Client) Ping(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 15 * time.Second
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.dbPath(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := o.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("database %s returned %d", o.Database, resp.StatusCode)
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return errcode.Wrap(errcode.DBConnectionError, err, "store unreachable at %s", o.BaseURL)
	}
	return nil
}

func (o *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := o.HTTP.Do(req)
	if err != nil {
		return nil, errcode.Wrap(errcode.DBConnectionError, err, "store request %s %s", req.Method, req.URL.Path)
	}
	return resp, nil
}

// Get reads a document and its current revision.
func (o *Client) Get(ctx context.Context, id string) (json.RawMessage, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.dbPath(id), nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w", err)
	}
	resp, err := o.do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, "", errcode.New(errcode.NotFound, "document %s", id)
	default:
		return nil, "", unexpectedStatus(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w", err)
	}
	var peek struct {
		Rev string `json:"_rev"`
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		return nil, "", fmt.Errorf("decode document %s: %v", id, err)
	}
	return body, peek.Rev, nil
}

// Head returns the current revision of a document without its body.
func (o *Client) Head(ctx context.Context, id string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, o.dbPath(id), nil)
	if err != nil {
		return "", fmt.Errorf("%w", err)
	}
	resp, err := o.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return strings.Trim(resp.Header.Get("ETag"), `"`), nil
	case http.StatusNotFound:
		return "", errcode.New(errcode.NotFound, "document %s", id)
	}
	return "", unexpectedStatus(resp)
}

// Put writes a document. When the document carries a revision the write
// is compare-and-swap; a stale revision surfaces CONFLICT.
func (o *Client) Put(ctx context.Context, doc v1alpha1.Document) (string, error) {
	if doc.DocID() == "" {
		return "", errcode.New(errcode.InvalidMethodArgument, "document id is required")
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("%w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, o.dbPath(doc.DocID()), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusAccepted:
	case http.StatusConflict:
		return "", errcode.New(errcode.Conflict, "document %s", doc.DocID())
	default:
		return "", unexpectedStatus(resp)
	}
	rev, err := revFromResponse(resp.Body)
	if err != nil {
		return "", err
	}
	doc.SetDocRev(rev)
	return rev, nil
}

type bulkDocsRequest struct {
	Docs []interface{} `json:"docs"`
}

type bulkDocsResult struct {
	ID     string `json:"id"`
	Rev    string `json:"rev"`
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// BulkPut writes documents in a single round trip. Each document
// succeeds or fails on its own.
func (o *Client) BulkPut(ctx context.Context, docs []v1alpha1.Document) ([]BulkResult, error) {
	payload := bulkDocsRequest{Docs: make([]interface{}, 0, len(docs))}
	for _, d := range docs {
		if d.DocID() == "" {
			return nil, errcode.New(errcode.InvalidMethodArgument, "document id is required")
		}
		payload.Docs = append(payload.Docs, d)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.dbPath("_bulk_docs"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, unexpectedStatus(resp)
	}
	var raw []bulkDocsResult
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode bulk result: %v", err)
	}
	results := make([]BulkResult, 0, len(raw))
	byID := make(map[string]bulkDocsResult, len(raw))
	for _, r := range raw {
		byID[r.ID] = r
	}
	// report in request order
	for _, d := range docs {
		r := byID[d.DocID()]
		res := BulkResult{ID: d.DocID(), Rev: r.Rev}
		switch r.Error {
		case "":
			d.SetDocRev(r.Rev)
		case "conflict":
			res.Err = errcode.New(errcode.Conflict, "document %s", r.ID)
		default:
			res.Err = errcode.New(errcode.UnknownError, "document %s: %s %s", r.ID, r.Error, r.Reason)
		}
		results = append(results, res)
	}
	return results, nil
}

type allDocsRow struct {
	ID    string          `json:"id"`
	Key   string          `json:"key"`
	Error string          `json:"error"`
	Doc   json.RawMessage `json:"doc"`
}

// BulkFetch reads documents by id in request order. Missing documents
// are reported, not errored.
func (o *Client) BulkFetch(ctx context.Context, ids []string) ([]json.RawMessage, []string, error) {
	body, err := json.Marshal(map[string]interface{}{"keys": ids})
	if err != nil {
		return nil, nil, fmt.Errorf("%w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.dbPath("_all_docs")+"?include_docs=true", bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("%w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, unexpectedStatus(resp)
	}
	var result struct {
		Rows []allDocsRow `json:"rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, nil, fmt.Errorf("decode fetch result: %v", err)
	}
	docs := make([]json.RawMessage, 0, len(result.Rows))
	var missing []string
	for _, row := range result.Rows {
		if row.Error != "" || len(row.Doc) == 0 || string(row.Doc) == "null" {
			missing = append(missing, row.Key)
			continue
		}
		docs = append(docs, row.Doc)
	}
	return docs, missing, nil
}

// Attach uploads bytes as a named attachment against a fresh revision.
func (o *Client) Attach(ctx context.Context, id, name string, data []byte, contentType, rev string) (string, error) {
	if rev == "" {
		return "", errcode.New(errcode.InvalidMethodArgument, "attachment %s/%s requires a revision", id, name)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, o.dbPath(id, name)+"?rev="+url.QueryEscape(rev), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w", err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := o.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusAccepted:
	case http.StatusConflict:
		return "", errcode.New(errcode.Conflict, "attachment %s/%s", id, name)
	case http.StatusNotFound:
		return "", errcode.New(errcode.NotFound, "document %s", id)
	default:
		return "", unexpectedStatus(resp)
	}
	return revFromResponse(resp.Body)
}

// View queries a predefined view on the catalog design document.
func (o *Client) View(ctx context.Context, name string, q ViewQuery) ([]Row, error) {
	endpoint := strings.Join([]string{o.BaseURL, url.PathEscape(o.Database), "_design", DesignDoc, "_view", url.PathEscape(name)}, "/")

	params := url.Values{}
	if q.StartKey != nil {
		enc, err := json.Marshal(q.StartKey)
		if err != nil {
			return nil, fmt.Errorf("%w", err)
		}
		params.Set("startkey", string(enc))
	}
	if q.EndKey != nil {
		enc, err := json.Marshal(q.EndKey)
		if err != nil {
			return nil, fmt.Errorf("%w", err)
		}
		params.Set("endkey", string(enc))
	}
	if q.IncludeDocs {
		params.Set("include_docs", "true")
	}
	params.Set("reduce", strconv.FormatBool(q.Reduce))
	if q.Group {
		params.Set("group", "true")
	}
	if q.Descending {
		params.Set("descending", "true")
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Skip > 0 {
		params.Set("skip", strconv.Itoa(q.Skip))
	}

	var req *http.Request
	var err error
	if len(q.Keys) > 0 {
		body, merr := json.Marshal(map[string]interface{}{"keys": q.Keys})
		if merr != nil {
			return nil, fmt.Errorf("%w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?"+params.Encode(), bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	resp, err := o.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus(resp)
	}
	var result struct {
		Rows []Row `json:"rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode view %s: %v", name, err)
	}
	return result.Rows, nil
}

// Destroy marks documents with delete tombstones in a single bulk write.
func (o *Client) Destroy(ctx context.Context, docs []v1alpha1.Document) ([]BulkResult, error) {
	tombstones := make([]v1alpha1.Document, 0, len(docs))
	for _, d := range docs {
		switch t := d.(type) {
		case *v1alpha1.ImageSchema:
			t.Deleted = true
		case *v1alpha1.BatchSchema:
			t.Deleted = true
		case *v1alpha1.ImportErrorSchema:
			t.Deleted = true
		}
		tombstones = append(tombstones, d)
	}
	return o.BulkPut(ctx, tombstones)
}

func revFromResponse(body io.Reader) (string, error) {
	var result struct {
		Rev string `json:"rev"`
	}
	if err := json.NewDecoder(body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode write result: %v", err)
	}
	return result.Rev, nil
}

func unexpectedStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return errcode.New(errcode.UnknownError, "store returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
