// Package errors wraps the standard errors package with caller-tagged,
// traceable errors suitable for logging, plus the sentinel taxonomy the
// rest of the module classifies failures against (see §7 of the spec this
// module implements: input errors, soft failures, transient infrastructure
// failures, fatal errors).
package errors

import (
	"encoding/base64"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hammertrack/recall/internal/color"
)

// Sentinel errors surfaced to the Intake API's caller (the HTTP
// collaborator). Input errors are hard failures (4xx); ChannelNotJoined is
// a soft failure carried alongside a 200 and any warm-loaded messages.
var (
	ErrInvalidChannelLogin = errors.New("invalid_channel_login")
	ErrChannelIgnored      = errors.New("channel_ignored")
	ErrMalformedQuery      = errors.New("malformed_query")
	ErrChannelNotJoined    = errors.New("channel_not_joined")
)

type Generic struct {
	ID       string
	err      error
	ts       time.Time
	FuncName string
	FileName string
	Line     int
	Context  interface{}
}

// Error renders the wrapped error with caller breadcrumbs appended in
// parent-to-child order; see the teacher's original doc comment for the
// trimming rationale, preserved below.
//
// Wrapped errors messages in order, were %s = message of parent error
// %s = couldn't open file bla bla
// 1. err: %s <A>
//    ^^^^^^^^^^^ will be next %s
// 2. err: err: %s <A> <B>
//         ^^^^^^^^^^^ will be next %s
// 3. err: err: err: %s <A> <B> <C>
//
// We fix the repeating prefix by trimming until (including) "► " so only
// the most recent error prefix is displayed, while caller info piles up one
// after another.
func (e Generic) Error() string {
	var (
		s   strings.Builder
		msg = trimUntil(e.err.Error(), "► ", len("► "))
	)
	fmt.Fprintf(
		&s, "%s%s [%s] ► %s <%s:%d#%s",
		color.Reset, color.String(color.Red, "✗"), color.String(color.Red, e.ID),
		msg,
		trimUntilBackwards(e.FileName, "/", 1), e.Line, e.FuncName,
	)
	if e.Context != nil {
		fmt.Fprintf(&s, " ≣:%+v", e.Context)
	}
	s.WriteString(">")
	return s.String()
}

func (e Generic) Unwrap() error {
	return e.err
}

// Cause returns the top most error of Generic type.
func (e Generic) Cause() Generic {
	return UnwrapAll(e)
}

// Trace returns a single-line breadcrumb of every Generic in the chain,
// suitable for storage alongside a log line.
func (e Generic) Trace() string {
	var (
		trace strings.Builder
		err   = e
	)
	fmt.Fprintf(&trace, "%s:%d#%s", err.FileName, err.Line, err.FuncName)
	for {
		nextErr, ok := err.Unwrap().(*Generic)
		if !ok {
			break
		}
		fmt.Fprintf(&trace, "|%s:%d#%s", nextErr.FileName, nextErr.Line, nextErr.FuncName)
		err = *nextErr
	}
	return trace.String()
}

// newGeneric must only be called from Wrap/WrapWithContext/WrapAndLog/
// WrapFatal variants so the caller depth lines up.
func newGeneric(err error, depth int, ctx interface{}) *Generic {
	if err == nil {
		panic("errors.wrap called with a nil err")
	}
	now := time.Now()
	pc, fn, line, _ := runtime.Caller(depth)
	return &Generic{
		ID:       id(now, err.Error()),
		err:      err,
		ts:       now,
		FuncName: runtime.FuncForPC(pc).Name(),
		FileName: fn,
		Line:     line,
		Context:  ctx,
	}
}

func WrapAndLog(err error) {
	log.Println(newGeneric(err, 2, nil))
}

func WrapAndLogWithContext(err error, ctx interface{}) {
	log.Println(newGeneric(err, 2, ctx))
}

// WrapFatal aborts the process. Reserved for unrecoverable startup
// configuration errors (spec §7 "Fatal"); never call this from an ingestion
// or request path.
func WrapFatal(err error) {
	log.Fatal(newGeneric(err, 2, nil))
}

func WrapFatalWithContext(err error, ctx interface{}) {
	log.Fatal(newGeneric(err, 2, ctx))
}

func UnwrapAll(err Generic) Generic {
	if nextErr, ok := err.Unwrap().(*Generic); ok {
		return UnwrapAll(*nextErr)
	}
	return err
}

func Wrap(err error) *Generic {
	return newGeneric(err, 2, nil)
}

func WrapWithContext(err error, ctx interface{}) *Generic {
	return newGeneric(err, 2, ctx)
}

// id is fast, not safe: no salt, non-cryptographic hash, only used to give a
// short label to a log line.
func id(t time.Time, msg string) string {
	unix := strconv.FormatInt(t.Unix(), 10)
	return base64.StdEncoding.EncodeToString([]byte(fnv64a([]byte(unix + msg))))
}

func trimUntil(s string, del string, offset int) string {
	if i := strings.Index(s, del); i > 0 {
		return s[i+offset:]
	}
	return s
}

func trimUntilBackwards(s string, del string, offset int) string {
	if i := strings.LastIndex(s, del); i > 0 {
		return s[i+offset:]
	}
	return s
}

func fnv64a(b []byte) string {
	h := fnv.New64a()
	h.Write(b)
	return strconv.FormatUint(h.Sum64(), 10)
}

// Helpers so callers don't need to import both packages.

func New(msg string) error {
	return errors.New(msg)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
