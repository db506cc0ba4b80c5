package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Keys with a typed meaning inside a log entry's data mapping.
const (
	FieldCPUPercent    = "cpu_percent"
	FieldMemoryPercent = "memory_percent"
	FieldDiskPercent   = "disk_percent"
	FieldOS            = "os"
	FieldSourceIP      = "source_ip"
	FieldIP            = "ip"
	FieldPort          = "port"
)

// SystemMetrics is the typed view of the data carried by a system record.
// A nil pointer means the record did not report that metric.
type SystemMetrics struct {
	CPUPercent    *float64
	MemoryPercent *float64
	DiskPercent   *float64
	OS            string
}

// ConnectionInfo is the typed view of the data carried by a connection record.
type ConnectionInfo struct {
	SourceIP string
	Port     *int
}

// LogData is the decoded data payload of a log entry. At most one typed
// variant is set, chosen by the entry's log type. Fields always holds every
// decoded key so attributes we do not model survive a round trip.
type LogData struct {
	System     *SystemMetrics
	Connection *ConnectionInfo
	Fields     map[string]any
}

// NewLogData builds the typed view of fields for the given log type.
func NewLogData(logType string, fields map[string]any) LogData {
	if fields == nil {
		fields = map[string]any{}
	}
	d := LogData{Fields: fields}

	switch logType {
	case LogTypeSystem:
		sm := &SystemMetrics{}
		if v, ok := toFloat(fields[FieldCPUPercent]); ok {
			sm.CPUPercent = &v
		}
		if v, ok := toFloat(fields[FieldMemoryPercent]); ok {
			sm.MemoryPercent = &v
		}
		if v, ok := toFloat(fields[FieldDiskPercent]); ok {
			sm.DiskPercent = &v
		}
		if s, ok := fields[FieldOS].(string); ok {
			sm.OS = s
		}
		d.System = sm
	case LogTypeConnection:
		ci := &ConnectionInfo{}
		if s, ok := fields[FieldSourceIP].(string); ok {
			ci.SourceIP = s
		}
		if v, ok := toFloat(fields[FieldPort]); ok {
			p := int(v)
			ci.Port = &p
		}
		d.Connection = ci
	}
	return d
}

// DecodeLogData decodes a stored data column. Anything that is not a JSON
// object decodes to an empty mapping instead of failing.
func DecodeLogData(logType string, raw []byte) LogData {
	var fields map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			fields = nil
		}
	}
	return NewLogData(logType, fields)
}

// Encode serializes the data mapping for storage.
func (d LogData) Encode() ([]byte, error) {
	if d.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.Fields)
}

// Metric returns a numeric metric, preferring the typed system view and
// falling back to the raw mapping for records of other types.
func (d LogData) Metric(key string) (float64, bool) {
	if d.System != nil {
		var p *float64
		switch key {
		case FieldCPUPercent:
			p = d.System.CPUPercent
		case FieldMemoryPercent:
			p = d.System.MemoryPercent
		case FieldDiskPercent:
			p = d.System.DiskPercent
		}
		if p != nil {
			return *p, true
		}
	}
	return toFloat(d.Fields[key])
}

// SourceIP returns the reported connection source, or "" when absent.
func (d LogData) SourceIP() string {
	if d.Connection != nil && d.Connection.SourceIP != "" {
		return d.Connection.SourceIP
	}
	s, _ := d.Fields[FieldSourceIP].(string)
	return s
}

func (d LogData) MarshalJSON() ([]byte, error) {
	return d.Encode()
}

// UnmarshalJSON only restores the raw mapping; the typed view needs the log
// type and is rebuilt with NewLogData.
func (d *LogData) UnmarshalJSON(b []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	d.Fields = fields
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
