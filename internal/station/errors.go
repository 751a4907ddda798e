package station

import "fmt"

// ConnectionError means the session to a station could not be established.
// The next scheduled call retries.
type ConnectionError struct {
	Station string
	Host    string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("station %s: connect %s: %v", e.Station, e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ParseError means a status or log line did not have the expected shape.
type ParseError struct {
	Station string
	File    string
	Line    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("station %s: malformed line in %s: %q", e.Station, e.File, e.Line)
}
