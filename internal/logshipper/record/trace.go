package record

import (
	"regexp"
	"strconv"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/G-Research/logshipper/internal/common/shippererrors"
)

// DefaultTraceIdPattern matches trace ids of the form "<uid>:<session_id>:<turn>".
const DefaultTraceIdPattern = `^(?P<uid>[^:]*):(?P<session_id>[^:]*):(?P<turn>\d+)$`

// TraceParts holds the correlation fields encoded in a trace id. Fields that the trace id doesn't provide are left
// at their zero values.
type TraceParts struct {
	Uid       string
	SessionId string
	Turn      int64
}

// TraceDecomposer extracts correlation fields from a trace id. Implementations must be pure and safe for concurrent use.
type TraceDecomposer interface {
	Decompose(traceId string) TraceParts
}

// RegexpTraceDecomposer decomposes trace ids using a regular expression with the named groups uid, session_id and
// turn. Any of the groups may be omitted from the pattern.
type RegexpTraceDecomposer struct {
	pattern      *regexp.Regexp
	uidIdx       int
	sessionIdIdx int
	turnIdx      int
}

func NewRegexpTraceDecomposer(pattern string) (*RegexpTraceDecomposer, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.WithStack(&shippererrors.ErrInvalidConfig{
			Name:    "traceIdPattern",
			Value:   pattern,
			Message: err.Error(),
		})
	}
	d := &RegexpTraceDecomposer{
		pattern:      re,
		uidIdx:       re.SubexpIndex(UidField),
		sessionIdIdx: re.SubexpIndex(SessionIdField),
		turnIdx:      re.SubexpIndex(TurnField),
	}
	if d.uidIdx < 0 && d.sessionIdIdx < 0 && d.turnIdx < 0 {
		return nil, errors.WithStack(&shippererrors.ErrInvalidConfig{
			Name:    "traceIdPattern",
			Value:   pattern,
			Message: "pattern must contain at least one of the named groups uid, session_id or turn",
		})
	}
	return d, nil
}

func (d *RegexpTraceDecomposer) Decompose(traceId string) TraceParts {
	match := d.pattern.FindStringSubmatch(traceId)
	if match == nil {
		return TraceParts{}
	}
	parts := TraceParts{}
	if d.uidIdx >= 0 {
		parts.Uid = match[d.uidIdx]
	}
	if d.sessionIdIdx >= 0 {
		parts.SessionId = match[d.sessionIdIdx]
	}
	if d.turnIdx >= 0 {
		if turn, err := strconv.ParseInt(match[d.turnIdx], 10, 64); err == nil {
			parts.Turn = turn
		}
	}
	return parts
}

// CachingTraceDecomposer remembers the most recently decomposed trace ids. Log lines from the same trace tend to
// arrive close together, so most lookups hit.
type CachingTraceDecomposer struct {
	delegate TraceDecomposer
	cache    *lru.Cache
}

func NewCachingTraceDecomposer(delegate TraceDecomposer, size int) (*CachingTraceDecomposer, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.WithStack(&shippererrors.ErrInvalidConfig{
			Name:    "traceIdCacheSize",
			Value:   size,
			Message: err.Error(),
		})
	}
	return &CachingTraceDecomposer{delegate: delegate, cache: cache}, nil
}

func (d *CachingTraceDecomposer) Decompose(traceId string) TraceParts {
	if cached, ok := d.cache.Get(traceId); ok {
		return cached.(TraceParts)
	}
	parts := d.delegate.Decompose(traceId)
	d.cache.Add(traceId, parts)
	return parts
}
