package ledger

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/okian/noticeledger/internal/domain/model"
)

// Columns is the fixed ledger column order. The header row repeats it.
var Columns = []string{
	"notice_id", "received_at", "topic", "facility", "source_format", "trigger_id",
	"canonical_name", "ra", "dec", "error_deg", "discovery_utc", "notice_utc",
	"redshift", "host_info", "false_trigger", "aux",
}

const (
	colNoticeID = iota
	colReceivedAt
	colTopic
	colFacility
	colFormat
	colTrigger
	colName
	colRA
	colDec
	colError
	colDiscovery
	colNotice
	colRedshift
	colHost
	colFalse
	colAux
)

func encodeRow(row model.LedgerRow) []string { //nolint:gocritic // hugeParam: rows are encoded once per append
	rec := row.Record
	out := make([]string, len(Columns))
	out[colNoticeID] = row.NoticeID
	out[colReceivedAt] = row.ReceivedAt.UTC().Format(time.RFC3339Nano)
	out[colTopic] = row.Topic
	out[colFacility] = rec.Facility
	out[colFormat] = string(rec.Format)
	out[colTrigger] = rec.TriggerID
	out[colName] = row.CanonicalName
	if p := rec.Position; p != nil {
		out[colRA] = formatFloat(p.RA)
		out[colDec] = formatFloat(p.Dec)
		if p.HasError() {
			out[colError] = formatFloat(p.Error)
		}
	}
	out[colDiscovery] = formatTime(rec.DiscoveryTime)
	out[colNotice] = formatTime(rec.NoticeTime)
	out[colRedshift] = rec.Redshift
	out[colHost] = rec.HostInfo
	out[colFalse] = strconv.FormatBool(rec.FalseTrigger)
	if len(rec.Aux) > 0 {
		v := make(url.Values, len(rec.Aux))
		for k, val := range rec.Aux {
			v.Set(k, val)
		}
		out[colAux] = v.Encode()
	}
	return out
}

func decodeRow(f []string) (model.LedgerRow, error) {
	var (
		row model.LedgerRow
		err error
	)
	row.NoticeID = f[colNoticeID]
	row.Topic = f[colTopic]
	row.CanonicalName = f[colName]
	if row.ReceivedAt, err = time.Parse(time.RFC3339Nano, f[colReceivedAt]); err != nil {
		return row, fmt.Errorf("received_at: %w", err)
	}

	rec := &row.Record
	rec.Facility = f[colFacility]
	rec.Format = model.SourceFormat(f[colFormat])
	rec.TriggerID = f[colTrigger]
	rec.Redshift = f[colRedshift]
	rec.HostInfo = f[colHost]

	if f[colRA] != "" || f[colDec] != "" {
		p := &model.Position{}
		if p.RA, err = strconv.ParseFloat(f[colRA], 64); err != nil {
			return row, fmt.Errorf("ra: %w", err)
		}
		if p.Dec, err = strconv.ParseFloat(f[colDec], 64); err != nil {
			return row, fmt.Errorf("dec: %w", err)
		}
		if f[colError] != "" {
			if p.Error, err = strconv.ParseFloat(f[colError], 64); err != nil {
				return row, fmt.Errorf("error_deg: %w", err)
			}
			p.ErrorUnit = model.UnitDegree
		}
		rec.Position = p
	}
	if rec.DiscoveryTime, err = parseTime(f[colDiscovery]); err != nil {
		return row, fmt.Errorf("discovery_utc: %w", err)
	}
	if rec.NoticeTime, err = parseTime(f[colNotice]); err != nil {
		return row, fmt.Errorf("notice_utc: %w", err)
	}
	if rec.FalseTrigger, err = strconv.ParseBool(f[colFalse]); err != nil {
		return row, fmt.Errorf("false_trigger: %w", err)
	}
	if f[colAux] != "" {
		v, err := url.ParseQuery(f[colAux])
		if err != nil {
			return row, fmt.Errorf("aux: %w", err)
		}
		rec.Aux = make(map[string]string, len(v))
		for k := range v {
			rec.Aux[k] = v.Get(k)
		}
	}
	return row, nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
