package wire

import (
	"encoding/json"
	"io"
	"strings"
	"time"
)

type EntryType string

const (
	EntryFile EntryType = "File"
	EntryDir  EntryType = "Dir"
)

type Entry struct {
	Type       EntryType `json:"type"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifyDate time.Time `json:"modifyDate"`
}

// Listing is the ListDir response: directories first, then files.
type Listing struct {
	Entries []Entry `json:"entries"`
}

// WriteListing writes l as one JSON line.
func WriteListing(w io.Writer, l Listing) error {
	if l.Entries == nil {
		l.Entries = []Entry{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// DecodeListing parses a ListDir response line. An Error response is
// returned as a Failure error.
func DecodeListing(line string) (Listing, error) {
	var resp struct {
		Command      Command  `json:"command"`
		ErrorMessage string   `json:"errorMessage"`
		Entries      *[]Entry `json:"entries"`
	}
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return Listing{}, &ProtocolError{Reason: "malformed directory listing", Err: err}
	}
	if strings.EqualFold(string(resp.Command), string(CommandError)) {
		return Listing{}, Failure{Message: resp.ErrorMessage}
	}
	if resp.Entries == nil {
		return Listing{}, &ProtocolError{Reason: "directory listing without entries"}
	}
	return Listing{Entries: *resp.Entries}, nil
}
