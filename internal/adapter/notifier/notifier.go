// Package notifier renders alerts read from the alert stream.
package notifier

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/V4T54L/hostwatch/internal/domain"
)

// WriterNotifier prints each alert as a block of text to an io.Writer.
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdoutNotifier creates a WriterNotifier on standard output.
func NewStdoutNotifier() *WriterNotifier {
	return NewWriterNotifier(os.Stdout)
}

// NewWriterNotifier creates a WriterNotifier on w.
func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

// Notify writes alert to the underlying writer.
func (n *WriterNotifier) Notify(ctx context.Context, alert domain.Alert) error {
	host := alert.Host
	if host == "" {
		host = "-"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- ALERT [%s] ---\n", strings.ToUpper(alert.Severity))
	fmt.Fprintf(&b, "ID: %d\nType: %s\nHost: %s\nTime: %s\nMessage: %s\n",
		alert.ID, alert.Type, host, alert.Timestamp.Format("2006-01-02 15:04:05Z07:00"), alert.Message)

	keys := make([]string, 0, len(alert.Details))
	for k := range alert.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := alert.Details[k].(type) {
		case []any, map[string]any:
			continue
		default:
			fmt.Fprintf(&b, "  %s: %v\n", k, v)
		}
	}
	b.WriteString("------------------\n")

	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := io.WriteString(n.w, b.String())
	return err
}
