package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/itchyny/gojq"

	"github.com/slotwatch/slotwatch/internal/hostutil"
	"github.com/slotwatch/slotwatch/internal/models"
	"github.com/slotwatch/slotwatch/internal/resilience"
	"github.com/slotwatch/slotwatch/internal/version"
)

// maxBodySize bounds how much of an upstream response is read.
const maxBodySize = 4 << 20

// jsonQuery fetches a JSON document over HTTP (or from a local file) and
// extracts slot times with jq expressions.
//
// Options:
//
//	url          endpoint; bare hosts get https://, paths and file:// read local files
//	earliest     jq expression yielding the earliest slot (string, null or list)
//	slots        jq expression yielding available slots (list of strings)
//	time_layout  Go time layout of slot strings (default RFC3339)
//	location     IANA zone for layouts without an offset (default UTC)
//	headers      extra request headers
type jsonQuery struct {
	url      string
	host     string
	earliest *gojq.Code
	slots    *gojq.Code
	layout   string
	loc      *time.Location
	headers  map[string]string

	client   *http.Client
	limiter  *resilience.RateLimiter
	observer RequestObserver
	now      func() time.Time
}

func newJSONQuery(spec models.AdapterSpec, deps Deps) (Adapter, error) {
	rawURL, err := optString(spec.Options, "url")
	if err != nil {
		return nil, err
	}
	if rawURL == "" {
		return nil, errors.New(`option "url" is required`)
	}

	a := &jsonQuery{
		url:      hostutil.Normalize(rawURL),
		client:   deps.HTTPClient,
		limiter:  deps.Limiter,
		observer: deps.Observer,
		now:      deps.now,
	}
	if !hostutil.IsFile(a.url) {
		a.host = hostutil.HostKey(a.url)
		if a.host == "" {
			return nil, fmt.Errorf("option \"url\": cannot determine host of %q", rawURL)
		}
		if a.client == nil {
			a.client = http.DefaultClient
		}
	}

	if a.earliest, err = compileQuery(spec.Options, "earliest"); err != nil {
		return nil, err
	}
	if a.slots, err = compileQuery(spec.Options, "slots"); err != nil {
		return nil, err
	}
	if a.earliest == nil && a.slots == nil {
		return nil, errors.New(`one of options "earliest" or "slots" is required`)
	}

	if a.layout, err = optString(spec.Options, "time_layout"); err != nil {
		return nil, err
	}
	if a.layout == "" {
		a.layout = time.RFC3339
	}
	if a.loc, err = optLocation(spec.Options, "location"); err != nil {
		return nil, err
	}
	if a.headers, err = optStringMap(spec.Options, "headers"); err != nil {
		return nil, err
	}
	return a, nil
}

func compileQuery(opts map[string]any, key string) (*gojq.Code, error) {
	src, err := optString(opts, key)
	if err != nil || src == "" {
		return nil, err
	}
	q, err := gojq.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("option %q: %w", key, err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("option %q: %w", key, err)
	}
	return code, nil
}

// Fetch implements Adapter.
func (a *jsonQuery) Fetch(ctx context.Context, _ models.Center) Outcome {
	body, ferr := a.load(ctx)
	if ferr != nil {
		return Failure(ferr)
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Permanent(ErrFormatChanged("response is not valid JSON", err))
	}

	var raw []string
	for _, code := range []*gojq.Code{a.earliest, a.slots} {
		if code == nil {
			continue
		}
		values, err := runQuery(ctx, code, doc)
		if err != nil {
			if ctx.Err() != nil {
				return Temporary(ErrTimeout(ctx.Err()))
			}
			return Permanent(ErrFormatChanged("slot query failed", err))
		}
		raw = append(raw, values...)
	}

	times := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		t, err := time.ParseInLocation(a.layout, s, a.loc)
		if err != nil {
			return Permanent(ErrFormatChanged(fmt.Sprintf("unrecognized slot time %q", s), err))
		}
		times = append(times, t)
	}
	return Success(models.NewSlotResult(times, a.now()))
}

// load reads the raw document from the configured endpoint.
func (a *jsonQuery) load(ctx context.Context) ([]byte, *FetchError) {
	if a.host == "" {
		data, err := os.ReadFile(hostutil.FilePath(a.url))
		if err != nil {
			return nil, &FetchError{Code: CodeUpstreamRejected, Message: "cannot read source file", Cause: err}
		}
		return data, nil
	}

	if a.limiter != nil {
		if d := a.limiter.Allow(a.host); !d.Allowed {
			return nil, ErrRateLimited(d.Wait)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return nil, ErrFormatChanged("cannot build request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	if a.observer != nil {
		a.observer.OnRequestStart(ctx, req.Method, a.url)
	}
	start := time.Now()
	resp, err := a.client.Do(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if a.observer != nil {
		a.observer.OnRequestEnd(ctx, req.Method, a.url, status, time.Since(start), err)
	}
	if err != nil {
		return nil, Classify(err)
	}
	defer resp.Body.Close()

	switch {
	case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), a.now())
		if retryAfter > 0 && a.limiter != nil {
			a.limiter.SetRetryAfterDuration(a.host, retryAfter)
		}
		fe := ErrRateLimited(retryAfter)
		fe.Status = status
		return nil, fe
	case status == http.StatusNotFound || status == http.StatusGone:
		fe := ErrCenterClosed(fmt.Sprintf("upstream returned %d", status))
		fe.Status = status
		return nil, fe
	case status >= 400:
		return nil, ErrRejected(status, fmt.Sprintf("upstream returned %d", status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, Classify(err)
	}
	return body, nil
}

// runQuery runs code against doc and flattens the results into strings.
// null results are skipped, so "no slot" is an empty list.
func runQuery(ctx context.Context, code *gojq.Code, doc any) ([]string, error) {
	var out []string
	iter := code.RunWithContext(ctx, doc)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				break
			}
			return nil, err
		}
		flat, err := flattenStrings(v)
		if err != nil {
			return nil, err
		}
		out = append(out, flat...)
	}
	return out, nil
}

func flattenStrings(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{val}, nil
	case []any:
		var out []string
		for _, item := range val {
			flat, err := flattenStrings(item)
			if err != nil {
				return nil, err
			}
			out = append(out, flat...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected slot time string, got %T", v)
	}
}
