package record

import (
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fastjson"

	"github.com/G-Research/logshipper/internal/common/shippererrors"
)

const (
	TraceIdField       = "trace_id"
	CreateTimeField    = "create_time"
	CreateDateField    = "create_date"
	UidField           = "uid"
	SessionIdField     = "session_id"
	TurnField          = "turn"
	MessageSourceField = "message_source"

	// CreateTimeLayout is the layout of the create_time field, e.g. "2024-01-01 10:00:00.000000".
	// A fractional second of any precision is accepted after the seconds when parsing.
	CreateTimeLayout = "2006-01-02 15:04:05"
	CreateDateLayout = "2006-01-02"
)

// Record is a single structured log line. Numbers are decoded as int64 when they are integral and float64 otherwise.
// Records must not be modified once they have been handed to the pipeline.
type Record map[string]interface{}

// TraceId returns the record's trace id, or the empty string if it has none.
func (r Record) TraceId() string {
	s, _ := r[TraceIdField].(string)
	return s
}

// Source returns the record's message source, or the empty string if it has none.
func (r Record) Source() string {
	s, _ := r[MessageSourceField].(string)
	return s
}

// Parser turns a raw input line into a Record. Lines that can't be parsed result in an ErrMalformedRecord.
type Parser interface {
	Parse(line string) (traceId string, record Record, err error)
}

// EnrichingParser decodes a line and adds the correlation fields (uid, session_id, turn) derived from its trace id,
// as well as create_date derived from create_time. Every record it returns has a trace_id, which is the empty string
// when the line has none; an empty trace id gets the default correlation fields. Parsing is a pure function of the line.
type EnrichingParser struct {
	decomposer TraceDecomposer
	decoder    decoder
}

func NewEnrichingParser(decomposer TraceDecomposer) *EnrichingParser {
	return &EnrichingParser{decomposer: decomposer}
}

func (p *EnrichingParser) Parse(line string) (string, Record, error) {
	rec, traceId, err := p.decoder.decode(line)
	if err != nil {
		return "", nil, err
	}

	rec[TraceIdField] = traceId
	parts := TraceParts{}
	if traceId != "" {
		parts = p.decomposer.Decompose(traceId)
	}
	rec[UidField] = parts.Uid
	rec[SessionIdField] = parts.SessionId
	rec[TurnField] = parts.Turn

	createTime, ok := rec[CreateTimeField].(string)
	if !ok {
		return "", nil, malformed(line, "create_time is missing or is not a string")
	}
	t, err := time.Parse(CreateTimeLayout, createTime)
	if err != nil {
		return "", nil, malformed(line, "create_time is not of the form YYYY-MM-DD HH:MM:SS.ffffff")
	}
	rec[CreateDateField] = t.Format(CreateDateLayout)

	return traceId, rec, nil
}

// PassthroughParser only decodes the line and extracts its trace id; the record is otherwise left untouched.
type PassthroughParser struct {
	decoder decoder
}

func NewPassthroughParser() *PassthroughParser {
	return &PassthroughParser{}
}

func (p *PassthroughParser) Parse(line string) (string, Record, error) {
	rec, traceId, err := p.decoder.decode(line)
	if err != nil {
		return "", nil, err
	}
	return traceId, rec, nil
}

type decoder struct {
	parsers fastjson.ParserPool
}

func (d *decoder) decode(line string) (Record, string, error) {
	parser := d.parsers.Get()
	defer d.parsers.Put(parser)

	v, err := parser.Parse(line)
	if err != nil {
		return nil, "", malformed(line, err.Error())
	}
	if v.Type() != fastjson.TypeObject {
		return nil, "", malformed(line, "expected a JSON object but got "+v.Type().String())
	}

	// Values borrowed from the parser are only valid until it's returned to the pool, hence the deep copy.
	rec := Record(toGo(v).(map[string]interface{}))

	traceId := ""
	if raw, present := rec[TraceIdField]; present && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return nil, "", malformed(line, "trace_id is not a string")
		}
		traceId = s
	}
	return rec, traceId, nil
}

func toGo(v *fastjson.Value) interface{} {
	switch v.Type() {
	case fastjson.TypeObject:
		o, _ := v.Object()
		m := make(map[string]interface{}, o.Len())
		o.Visit(func(key []byte, v *fastjson.Value) {
			m[string(key)] = toGo(v)
		})
		return m
	case fastjson.TypeArray:
		values, _ := v.Array()
		out := make([]interface{}, len(values))
		for i, value := range values {
			out[i] = toGo(value)
		}
		return out
	case fastjson.TypeString:
		b, _ := v.StringBytes()
		return string(b)
	case fastjson.TypeNumber:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	default:
		return nil
	}
}

func malformed(line string, reason string) error {
	return errors.WithStack(&shippererrors.ErrMalformedRecord{Line: line, Reason: reason})
}
