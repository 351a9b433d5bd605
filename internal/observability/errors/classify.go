// Package errors normalizes Go error values into stable tag values for
// metrics and logs.
package errors

import (
	"context"
	goerrors "errors"
	"net"
	"reflect"
	"strings"
)

// Classify returns a normalized name for err suitable for tagging
// metrics and logs. Context and network timeout errors get stable
// well-known names; everything else falls back to the innermost
// concrete type.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case goerrors.Is(err, context.Canceled):
		return "context_canceled"
	case goerrors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	}

	var netErr net.Error
	if goerrors.As(err, &netErr) && netErr.Timeout() {
		return "net_timeout"
	}

	for {
		inner := goerrors.Unwrap(err)
		if inner == nil {
			break
		}
		err = inner
	}

	return typeName(err)
}

func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(t.String())
	name = strings.ReplaceAll(name, "*", "")
	name = strings.ReplaceAll(name, ".", "_")
	// errors.New and fmt.Errorf both bottom out in errorString; the
	// package-qualified name is noise in a dashboard.
	if name == "errors_errorstring" || name == "fmt_wraperror" {
		return "error"
	}
	if name == "" {
		return "unknown"
	}
	return name
}
