// Package export renders leave requests as CSV or JSON files.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"leave-bot/internal/model"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// Filename is leaves_export_<date>.<ext>.
func Filename(f Format, now time.Time) string {
	return fmt.Sprintf("leaves_export_%s.%s", now.Format(time.DateOnly), f)
}

var csvHeader = []string{
	"Request ID",
	"User ID",
	"Username",
	"Reason",
	"Duration",
	"Start Date",
	"End Date",
	"Status",
	"Role ID",
	"Created At",
	"Updated At",
	"Processed By",
	"Processed At",
	"Rejection Reason",
}

// WriteCSV writes a header row and one row per request. Values containing a
// quote, comma or newline are quoted with inner quotes doubled.
func WriteCSV(w io.Writer, leaves []*model.LeaveRequest) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, l := range leaves {
		processedAt := ""
		if l.ProcessedAt != nil {
			processedAt = formatTime(*l.ProcessedAt)
		}
		row := []string{
			l.RequestID,
			l.UserID,
			l.Username,
			l.Reason,
			strconv.Itoa(l.Duration),
			l.StartDate,
			l.EndDate,
			string(l.Status),
			l.RoleID,
			formatTime(l.CreatedAt),
			formatTime(l.UpdatedAt),
			l.ProcessedBy,
			processedAt,
			l.RejectionReason,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", l.RequestID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the requests as an indented JSON array.
func WriteJSON(w io.Writer, leaves []*model.LeaveRequest) error {
	if leaves == nil {
		leaves = []*model.LeaveRequest{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(leaves); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// Render returns the file content for f.
func Render(f Format, leaves []*model.LeaveRequest) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch f {
	case FormatCSV:
		err = WriteCSV(&buf, leaves)
	case FormatJSON:
		err = WriteJSON(&buf, leaves)
	default:
		err = fmt.Errorf("unsupported export format %q", f)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
