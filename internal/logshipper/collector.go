package logshipper

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/logshipper/internal/common/ingest/metrics"
	"github.com/G-Research/logshipper/internal/common/shippererrors"
	"github.com/G-Research/logshipper/internal/logshipper/record"
)

type submitter interface {
	Submit(ctx context.Context, traceId string, rec record.Record) error
}

// Summary counts what happened to the lines read by a Collector.
type Summary struct {
	Received  int
	Malformed int
	Submitted int
}

// Collector reads one JSON record per line, echoes every non-blank line to its output, and submits each record
// that parses to the pipeline. Lines that don't parse are echoed and otherwise skipped.
type Collector struct {
	parser                   record.Parser
	pipeline                 submitter
	out                      io.Writer
	metrics                  *metrics.Metrics
	maxConsecutiveReadErrors int
}

func NewCollector(parser record.Parser, pipeline submitter, out io.Writer, m *metrics.Metrics, maxConsecutiveReadErrors int) *Collector {
	return &Collector{
		parser:                   parser,
		pipeline:                 pipeline,
		out:                      out,
		metrics:                  m,
		maxConsecutiveReadErrors: maxConsecutiveReadErrors,
	}
}

// Run consumes in until it is exhausted or ctx is done; neither is an error. An error is returned if a record
// can't be submitted to the pipeline, in which case ingestion stops at that record.
func (c *Collector) Run(ctx context.Context, in io.Reader) (Summary, error) {
	summary := Summary{}
	done := make(chan struct{})
	defer close(done)
	lines := c.readLines(in, done)

	var previous time.Time
	for {
		select {
		case <-ctx.Done():
			log.Info("Stopped reading input")
			return summary, nil
		case line, ok := <-lines:
			if !ok {
				log.Info("Reached end of input")
				return summary, nil
			}
			now := time.Now()
			if !previous.IsZero() {
				log.Debugf("Line received %dms after the previous one", now.Sub(previous).Milliseconds())
			}
			previous = now
			if err := c.process(ctx, line, &summary); err != nil {
				return summary, err
			}
		}
	}
}

func (c *Collector) process(ctx context.Context, line string, summary *Summary) error {
	summary.Received++
	c.metrics.RecordReceived()
	if _, err := io.WriteString(c.out, line+"\n"); err != nil {
		log.WithError(err).Debug("Unable to echo line")
	}

	traceId, rec, err := c.parser.Parse(line)
	if err != nil {
		if !shippererrors.IsMalformedRecord(err) {
			return err
		}
		summary.Malformed++
		c.metrics.RecordError(metrics.RecordErrorMalformed)
		log.WithError(err).Debugf("Skipping line %q", line)
		return nil
	}

	if err := c.pipeline.Submit(ctx, traceId, rec); err != nil {
		return errors.WithMessage(err, "submitting record")
	}
	summary.Submitted++
	return nil
}

// readLines reads in on a separate goroutine so that Run can stop while a read is blocked. Blank lines are dropped
// and line endings removed. A failed read is retried, keeping whatever part of the line it returned. The returned
// channel is closed at the end of input or, if maxConsecutiveReadErrors is positive, once that many reads in a row
// have failed.
func (c *Collector) readLines(in io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	reader := bufio.NewReader(in)
	go func() {
		defer close(lines)
		consecutiveErrors := 0
		partial := ""
		for {
			line, err := reader.ReadString('\n')
			if err != nil && err != io.EOF {
				partial += line
				consecutiveErrors++
				c.metrics.RecordError(metrics.RecordErrorRead)
				log.WithError(&shippererrors.ErrStreamRead{Err: err}).Warnf("Read failed (%d in a row)", consecutiveErrors)
				if c.maxConsecutiveReadErrors > 0 && consecutiveErrors >= c.maxConsecutiveReadErrors {
					log.Errorf("Giving up on input after %d consecutive read errors", consecutiveErrors)
					return
				}
				continue
			}
			consecutiveErrors = 0
			line, partial = partial+line, ""

			line = strings.TrimRight(line, "\r\n")
			if strings.TrimSpace(line) != "" {
				select {
				case lines <- line:
				case <-done:
					return
				}
			}
			if err == io.EOF {
				return
			}
		}
	}()
	return lines
}
