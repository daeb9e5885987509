package vm

import (
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Record is the summary of one data variable of a finished conversion.
type Record struct {
	// Timestamp is when the run finished, in Unix milliseconds.
	Timestamp int64
	Dataset   string
	Var       string

	Valid   int64
	Missing int64
	Min     float64
	Max     float64
	Mean    float64
	Seconds float64
}

// Client is a Victoria Metrics client capable of inserting conversion
// statistics via various protocols.
type Client struct {
	log          logrus.FieldLogger
	httpCli      *http.Client
	insertURL    string
	metricPrefix string
	recToText    recToTextFunc
	maxRetries   uint64
}

const metricPrefixRE = "^[a-zA-Z0-9_]+$"

// NewClient creates a new VM client.
func NewClient(log logrus.FieldLogger, insertURL string, maxConns int, metricPrefix string) (*Client, error) {
	u, err := url.Parse(insertURL)
	if err != nil {
		return nil, errors.Wrap(err, "insert URL")
	}

	if !regexp.MustCompile(metricPrefixRE).MatchString(metricPrefix) {
		return nil, errors.Errorf("metric prefix %q does not match %q regular expression", metricPrefix, metricPrefixRE)
	}

	apiParams := apiParamsFuncs[u.Path]
	recToText := recToTextFuncs[u.Path]
	if apiParams == nil || recToText == nil {
		return nil, errors.Errorf("inserting into %q is not supported", insertURL)
	}
	q := u.Query()
	for name, value := range apiParams(metricPrefix) {
		q.Add(name, value)
	}
	u.RawQuery = q.Encode()

	return &Client{
		log: log,
		httpCli: &http.Client{
			Timeout: time.Minute,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        maxConns,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: maxConns,
				MaxConnsPerHost:     maxConns,
			},
		},
		insertURL:    u.String(),
		metricPrefix: metricPrefix,
		recToText:    recToText,
		maxRetries:   4,
	}, nil
}

// Insert posts recs to Victoria Metrics, retrying on network errors and
// server-side failures.
func (c *Client) Insert(ctx context.Context, recs []Record) error {
	body := recsToText(recs, c.metricPrefix, c.recToText)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.insertURL, strings.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "text/plain")
		res, err := c.httpCli.Do(req)
		if err != nil {
			c.log.WithError(err).Warn("could not post statistics")
			return err
		}
		defer res.Body.Close()
		if _, err := io.Copy(io.Discard, res.Body); err != nil {
			c.log.WithError(err).Debug("failed to drain response body")
		}
		switch {
		case res.StatusCode == http.StatusNoContent || res.StatusCode == http.StatusOK:
			return nil
		case res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests:
			c.log.WithField("code", res.StatusCode).Warn("unexpected status")
			return errors.Errorf("unexpected status %d", res.StatusCode)
		default:
			return backoff.Permanent(errors.Errorf("unexpected status %d", res.StatusCode))
		}
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx))
	return errors.Wrapf(err, "insert %d records into %s", len(recs), c.insertURL)
}

type apiParamsFunc func(string) map[string]string

var apiParamsFuncs = map[string]apiParamsFunc{
	"/influx/write":        influxDBAPIParams,
	"/influx/api/v2/write": influxDBAPIParams,
	"/write":               influxDBAPIParams,
	"/api/v2/write":        influxDBAPIParams,
	"/api/v1/import/csv":   csvAPIParams,
}

func influxDBAPIParams(string) map[string]string {
	return map[string]string{"precision": "ms"}
}

func csvAPIParams(metricPrefix string) map[string]string {
	return map[string]string{
		"format": fmt.Sprintf(""+
			"1:time:unix_ms,"+
			"2:label:dataset,"+
			"3:label:var,"+
			"4:metric:%[1]s_valid,"+
			"5:metric:%[1]s_missing,"+
			"6:metric:%[1]s_min,"+
			"7:metric:%[1]s_max,"+
			"8:metric:%[1]s_mean,"+
			"9:metric:%[1]s_seconds", metricPrefix),
	}
}

type recToTextFunc func(*strings.Builder, *Record, string)

// recsToText converts multiple records to text.
func recsToText(recs []Record, metricPrefix string, recToText recToTextFunc) string {
	var sb strings.Builder
	for i := range recs {
		recToText(&sb, &recs[i], metricPrefix)
		sb.WriteString("\n")
	}
	return sb.String()
}

var recToTextFuncs = map[string]recToTextFunc{
	"/influx/write":        recToInfluxDB,
	"/influx/api/v2/write": recToInfluxDB,
	"/write":               recToInfluxDB,
	"/api/v2/write":        recToInfluxDB,
	"/api/v1/import/csv":   recToCSV,
}

var tagEscaper = strings.NewReplacer(",", `\,`, "=", `\=`, " ", `\ `)

// recToInfluxDB converts a record into InfluxDB line protocol and appends it
// to the string builder. Statistics of a variable without valid values are
// left out.
func recToInfluxDB(sb *strings.Builder, r *Record, metricPrefix string) {
	fmt.Fprintf(sb, "%s,dataset=%s,var=%s valid=%di,missing=%di",
		metricPrefix, tagEscaper.Replace(r.Dataset), tagEscaper.Replace(r.Var), r.Valid, r.Missing)
	if r.Valid > 0 {
		fmt.Fprintf(sb, ",min=%g,max=%g,mean=%g", r.Min, r.Max, r.Mean)
	}
	fmt.Fprintf(sb, ",seconds=%g %d", r.Seconds, r.Timestamp)
}

var csvFmt = "%d,%s,%s,%d,%d,%s,%s,%s,%g"

// recToCSV converts a record into a CSV record and appends it to the
// string builder.
func recToCSV(sb *strings.Builder, r *Record, _ string) {
	fmt.Fprintf(sb, csvFmt,
		r.Timestamp,
		r.Dataset,
		r.Var,
		r.Valid,
		r.Missing,
		csvFloat(r.Min),
		csvFloat(r.Max),
		csvFloat(r.Mean),
		r.Seconds,
	)
}

func csvFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return fmt.Sprintf("%g", v)
}
