package training

import (
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/sharnoff/forestseg/metrics"
	"github.com/spf13/afero"
)

// EventsFile is the name of the metric log in a run's output directory.
const EventsFile = "events.csv"

// Event is one recorded value of a metric.
type Event struct {
	RunID  string  `csv:"run_id"`
	Epoch  int     `csv:"epoch"`
	Split  string  `csv:"split"`
	Metric string  `csv:"metric"`
	Value  float64 `csv:"value"`
	Time   string  `csv:"time"`
}

// EventLog appends Events to a CSV file. Existing rows are never rewritten.
type EventLog struct {
	fs   afero.Fs
	path string
}

// NewEventLog returns a log writing to 'path'. The file is created on the first Append.
func NewEventLog(fs afero.Fs, path string) *EventLog {
	return &EventLog{fs: fs, path: path}
}

// Path returns the path of the file.
func (l *EventLog) Path() string {
	return l.path
}

// Append adds rows to the end of the file, writing the header first if the file is new.
func (l *EventLog) Append(events []Event) error {
	if len(events) == 0 {
		return nil
	}

	if err := l.fs.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return errors.Wrapf(err, "Failed to create directory for %q", l.path)
	}

	f, err := l.fs.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrapf(err, "Failed to open event log %q", l.path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "Failed to stat event log %q", l.path)
	}

	if info.Size() == 0 {
		err = gocsv.Marshal(&events, f)
	} else {
		err = gocsv.MarshalWithoutHeaders(&events, f)
	}

	return errors.Wrapf(err, "Failed to write event log %q", l.path)
}

// ReadEvents returns every Event in the log at 'path'.
func ReadEvents(fs afero.Fs, path string) ([]Event, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to open event log %q", path)
	}
	defer f.Close()

	var events []Event
	if err = gocsv.Unmarshal(f, &events); err != nil {
		return nil, errors.Wrapf(err, "Failed to read event log %q", path)
	}

	return events, nil
}

// summaryEvents flattens a Summary into one Event per metric.
func summaryEvents(run string, epoch int, split string, s metrics.Summary, at time.Time) []Event {
	stamp := at.UTC().Format(time.RFC3339)
	names := append([]string{"loss"}, metrics.Names...)

	events := make([]Event, 0, len(names))
	for _, name := range names {
		v, _ := s.Get(name)
		events = append(events, Event{RunID: run, Epoch: epoch, Split: split, Metric: name, Value: v, Time: stamp})
	}

	return events
}
