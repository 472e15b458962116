package state

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning       Status = "running"
	StatusStale         Status = "stale"
	StatusStopped       Status = "stopped"
	StatusComplete      Status = "complete"
	StatusFailed        Status = "failed"
	StatusMaxIterations Status = "max_iterations"
)

// AllStatuses lists every valid status in display order.
func AllStatuses() []Status {
	return []Status{StatusRunning, StatusStale, StatusStopped, StatusComplete, StatusFailed, StatusMaxIterations}
}

// ParseStatus validates s.
func ParseStatus(s string) (Status, bool) {
	for _, st := range AllStatuses() {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// IsTerminal reports whether the loop has stopped driving the session.
func (s Status) IsTerminal() bool {
	return s != StatusRunning && s != ""
}

// Keys of the known record fields as they appear in the state file.
const (
	KeyName             = "name"
	KeyStatus           = "status"
	KeyPID              = "pid"
	KeyDir              = "dir"
	KeyTaskFile         = "taskFile"
	KeyIteration        = "iteration"
	KeyMaxIterations    = "maxIterations"
	KeyCompletionMarker = "completionMarker"
	KeyLastTaskCount    = "lastTaskCount"
	KeyLogFile          = "logFile"
	KeyBackend          = "backend"
	KeyModel            = "model"
	KeyTmuxSession      = "tmuxSession"
	KeyStartedAt        = "startedAt"
	KeyUpdatedAt        = "updatedAt"
	KeyError            = "error"
)

// UnknownTaskCount is stored in LastTaskCount before the first count.
const UnknownTaskCount = -1

// Record is the typed view of one session entry. Fields the program does
// not know about are kept in Extra and written back untouched.
type Record struct {
	Name             string    `mapstructure:"name"`
	Status           Status    `mapstructure:"status"`
	PID              int       `mapstructure:"pid"`
	Dir              string    `mapstructure:"dir"`
	TaskFile         string    `mapstructure:"taskFile"`
	Iteration        int       `mapstructure:"iteration"`
	MaxIterations    int       `mapstructure:"maxIterations"`
	CompletionMarker string    `mapstructure:"completionMarker"`
	LastTaskCount    int       `mapstructure:"lastTaskCount"`
	LogFile          string    `mapstructure:"logFile"`
	Backend          string    `mapstructure:"backend"`
	Model            string    `mapstructure:"model"`
	TmuxSession      string    `mapstructure:"tmuxSession"`
	StartedAt        time.Time `mapstructure:"startedAt"`
	UpdatedAt        time.Time `mapstructure:"updatedAt"`
	Error            string    `mapstructure:"error"`

	Extra map[string]any `mapstructure:",remain"`
}

// decodeRecord converts a raw state file entry into a Record.
func decodeRecord(name string, raw map[string]any) (Record, error) {
	rec := Record{LastTaskCount: UnknownTaskCount}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &rec,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			jsonNumberHook,
			emptyTimeHook,
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		),
	})
	if err != nil {
		return Record{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Record{}, fmt.Errorf("failed to decode session %q: %w", name, err)
	}
	rec.Name = name
	if len(rec.Extra) == 0 {
		rec.Extra = nil
	}
	return rec, nil
}

// jsonNumberHook lets json.Number values land in string or float targets as
// well as the integer fields mapstructure already handles.
func jsonNumberHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	n, ok := data.(json.Number)
	if !ok {
		return data, nil
	}
	switch to.Kind() {
	case reflect.String:
		return n.String(), nil
	case reflect.Int, reflect.Int64, reflect.Int32:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		return int64(f), nil
	case reflect.Float64, reflect.Float32:
		return n.Float64()
	}
	return data, nil
}

var timeType = reflect.TypeOf(time.Time{})

// emptyTimeHook maps "" to the zero time instead of a parse error.
func emptyTimeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to == timeType && from.Kind() == reflect.String && data == "" {
		return time.Time{}, nil
	}
	return data, nil
}

// toMap renders the record in state file form. Empty optional strings and
// zero times are omitted; Extra keys never shadow known fields.
func (r Record) toMap() map[string]any {
	m := make(map[string]any, 16+len(r.Extra))
	maps.Copy(m, r.Extra)

	m[KeyName] = r.Name
	m[KeyStatus] = string(r.Status)
	m[KeyPID] = r.PID
	m[KeyIteration] = r.Iteration
	m[KeyMaxIterations] = r.MaxIterations
	m[KeyLastTaskCount] = r.LastTaskCount

	setString := func(key, v string) {
		if v != "" {
			m[key] = v
		} else {
			delete(m, key)
		}
	}
	setString(KeyDir, r.Dir)
	setString(KeyTaskFile, r.TaskFile)
	setString(KeyCompletionMarker, r.CompletionMarker)
	setString(KeyLogFile, r.LogFile)
	setString(KeyBackend, r.Backend)
	setString(KeyModel, r.Model)
	setString(KeyTmuxSession, r.TmuxSession)
	setString(KeyError, r.Error)
	setString(KeyStartedAt, formatTime(r.StartedAt))
	setString(KeyUpdatedAt, formatTime(r.UpdatedAt))
	return m
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// MarshalJSON renders the record exactly as it is stored.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.toMap())
}

// Fields is a partial update for Set. Keys not present are left alone.
type Fields map[string]any

// WithStatus sets the status field.
func (f Fields) WithStatus(s Status) Fields { f[KeyStatus] = string(s); return f }

// WithPID sets the pid field.
func (f Fields) WithPID(pid int) Fields { f[KeyPID] = pid; return f }

// WithIteration sets the iteration field.
func (f Fields) WithIteration(n int) Fields { f[KeyIteration] = n; return f }

// WithLastTaskCount sets the lastTaskCount field.
func (f Fields) WithLastTaskCount(n int) Fields { f[KeyLastTaskCount] = n; return f }

// WithError sets the error field; an empty message clears it.
func (f Fields) WithError(msg string) Fields { f[KeyError] = msg; return f }

// FieldsFromRecord returns a patch carrying every known field of r plus Extra.
func FieldsFromRecord(r Record) Fields {
	f := Fields(r.toMap())
	delete(f, KeyName)
	return f
}

// normalize converts typed values into their stored JSON form.
func normalize(v any) any {
	switch x := v.(type) {
	case Status:
		return string(x)
	case time.Time:
		return formatTime(x)
	case time.Duration:
		return x.Milliseconds()
	default:
		return v
	}
}

// apply merges f into raw. An empty string for an optional string field
// removes the key.
func (f Fields) apply(raw map[string]any) {
	for k, v := range f {
		v = normalize(v)
		if s, ok := v.(string); ok && s == "" && k != KeyStatus {
			delete(raw, k)
			continue
		}
		raw[k] = v
	}
}
